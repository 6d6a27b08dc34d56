package pool

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// Snapshot is a point-in-time export of the pool ledger, used for persistence
// and for the state checksum. Big integers are decimal strings so the
// encoding survives JSON round trips.
type Snapshot struct {
	Kind            string            `json:"kind" msgpack:"kind"`
	HedgedBalance   string            `json:"hedgedBalance" msgpack:"hb"`
	UnhedgedBalance string            `json:"unhedgedBalance" msgpack:"ub"`
	HedgedShare     string            `json:"hedgedShare" msgpack:"hs"`
	UnhedgedShare   string            `json:"unhedgedShare" msgpack:"us"`
	LockedAmount    string            `json:"lockedAmount" msgpack:"la"`
	TrancheSeq      uint64            `json:"trancheSeq" msgpack:"ts"`
	OptionSeq       uint64            `json:"optionSeq" msgpack:"os"`
	Tranches        []TrancheSnapshot `json:"tranches" msgpack:"tr"`
	Options         []OptionSnapshot  `json:"options" msgpack:"op"`
	TakenAt         time.Time         `json:"takenAt" msgpack:"-"`
}

type TrancheSnapshot struct {
	ID        uint64 `json:"id" msgpack:"id"`
	State     uint8  `json:"state" msgpack:"st"`
	Share     string `json:"share" msgpack:"sh"`
	Amount    string `json:"amount" msgpack:"am"`
	Hedged    bool   `json:"hedged" msgpack:"hd"`
	CreatedAt int64  `json:"createdAt" msgpack:"ca"`
}

type OptionSnapshot struct {
	ID           uint64 `json:"id" msgpack:"id"`
	State        uint8  `json:"state" msgpack:"st"`
	Strike       string `json:"strike" msgpack:"sk"`
	Amount       string `json:"amount" msgpack:"am"`
	LockedAmount string `json:"lockedAmount" msgpack:"la"`
	PremiumPaid  string `json:"premiumPaid" msgpack:"pp"`
	ExpiresAt    int64  `json:"expiresAt" msgpack:"ex"`
}

// Snapshot exports the full ledger with tranches and options in id order.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Kind:            p.kind.String(),
		HedgedBalance:   p.hedgedBalance.String(),
		UnhedgedBalance: p.unhedgedBalance.String(),
		HedgedShare:     p.hedgedShare.String(),
		UnhedgedShare:   p.unhedgedShare.String(),
		LockedAmount:    p.lockedAmount.String(),
		TrancheSeq:      p.trancheSeq,
		OptionSeq:       p.optionSeq,
		TakenAt:         p.now(),
	}
	for _, t := range p.trancheByID {
		snap.Tranches = append(snap.Tranches, TrancheSnapshot{
			ID:        t.ID,
			State:     uint8(t.State),
			Share:     t.Share.String(),
			Amount:    t.Amount.String(),
			Hedged:    t.Hedged,
			CreatedAt: t.CreatedAt.Unix(),
		})
	}
	for _, o := range p.optionByID {
		snap.Options = append(snap.Options, OptionSnapshot{
			ID:           o.ID,
			State:        uint8(o.State),
			Strike:       o.Strike.String(),
			Amount:       o.Amount.String(),
			LockedAmount: o.LockedAmount.String(),
			PremiumPaid:  o.PremiumPaid.String(),
			ExpiresAt:    o.ExpiresAt.Unix(),
		})
	}
	sort.Slice(snap.Tranches, func(i, j int) bool { return snap.Tranches[i].ID < snap.Tranches[j].ID })
	sort.Slice(snap.Options, func(i, j int) bool { return snap.Options[i].ID < snap.Options[j].ID })
	return snap
}

// Restore replaces the ledger with a previously exported snapshot. Position
// ownership lives in the registries; callers restore those from the same
// record so every tranche and option here has an owner.
func (p *Pool) Restore(snap Snapshot) error {
	hedgedBalance, err := parseBig("hedgedBalance", snap.HedgedBalance)
	if err != nil {
		return err
	}
	unhedgedBalance, err := parseBig("unhedgedBalance", snap.UnhedgedBalance)
	if err != nil {
		return err
	}
	hedgedShare, err := parseBig("hedgedShare", snap.HedgedShare)
	if err != nil {
		return err
	}
	unhedgedShare, err := parseBig("unhedgedShare", snap.UnhedgedShare)
	if err != nil {
		return err
	}
	lockedAmount, err := parseBig("lockedAmount", snap.LockedAmount)
	if err != nil {
		return err
	}
	tranches := make(map[uint64]*Tranche, len(snap.Tranches))
	for _, ts := range snap.Tranches {
		share, err := parseBig("tranche share", ts.Share)
		if err != nil {
			return err
		}
		amount, err := parseBig("tranche amount", ts.Amount)
		if err != nil {
			return err
		}
		tranches[ts.ID] = &Tranche{
			ID:        ts.ID,
			State:     TrancheState(ts.State),
			Share:     share,
			Amount:    amount,
			Hedged:    ts.Hedged,
			CreatedAt: time.Unix(ts.CreatedAt, 0).UTC(),
		}
	}
	options := make(map[uint64]*Option, len(snap.Options))
	for _, os := range snap.Options {
		strike, err := parseBig("option strike", os.Strike)
		if err != nil {
			return err
		}
		amount, err := parseBig("option amount", os.Amount)
		if err != nil {
			return err
		}
		locked, err := parseBig("option lockedAmount", os.LockedAmount)
		if err != nil {
			return err
		}
		premium, err := parseBig("option premiumPaid", os.PremiumPaid)
		if err != nil {
			return err
		}
		options[os.ID] = &Option{
			ID:           os.ID,
			State:        OptionState(os.State),
			Strike:       strike,
			Amount:       amount,
			LockedAmount: locked,
			PremiumPaid:  premium,
			ExpiresAt:    time.Unix(os.ExpiresAt, 0).UTC(),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.hedgedBalance = hedgedBalance
	p.unhedgedBalance = unhedgedBalance
	p.hedgedShare = hedgedShare
	p.unhedgedShare = unhedgedShare
	p.lockedAmount = lockedAmount
	p.trancheSeq = snap.TrancheSeq
	p.optionSeq = snap.OptionSeq
	p.trancheByID = tranches
	p.optionByID = options
	return nil
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("pool: snapshot field %s: bad integer %q", field, s)
	}
	return v, nil
}
