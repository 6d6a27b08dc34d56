package pool

import (
	"math/big"
	"time"
)

type Kind int

const (
	Call Kind = iota
	Put
)

func (k Kind) String() string {
	if k == Put {
		return "put"
	}
	return "call"
}

// TrancheState and OptionState are 1-indexed so a zero value never aliases a
// real state in persisted snapshots.
type TrancheState uint8

const (
	TrancheInvalid TrancheState = iota
	TrancheOpen
	TrancheClosed
)

type OptionState uint8

const (
	OptionInvalid OptionState = iota
	OptionActive
	OptionExercised
	OptionExpired
)

func (s OptionState) String() string {
	switch s {
	case OptionActive:
		return "active"
	case OptionExercised:
		return "exercised"
	case OptionExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Tranche is one liquidity deposit. The share is minted wholesale on provide
// and burned wholesale on withdraw; it never changes in between.
type Tranche struct {
	ID        uint64
	State     TrancheState
	Share     *big.Int
	Amount    *big.Int
	Hedged    bool
	CreatedAt time.Time
}

func (t *Tranche) clone() *Tranche {
	return &Tranche{
		ID:        t.ID,
		State:     t.State,
		Share:     new(big.Int).Set(t.Share),
		Amount:    new(big.Int).Set(t.Amount),
		Hedged:    t.Hedged,
		CreatedAt: t.CreatedAt,
	}
}

// Option is one underwritten contract. LockedAmount stays reserved against
// the pool until a terminal transition releases it.
type Option struct {
	ID           uint64
	State        OptionState
	Strike       *big.Int
	Amount       *big.Int
	LockedAmount *big.Int
	PremiumPaid  *big.Int
	ExpiresAt    time.Time
}

func (o *Option) clone() *Option {
	return &Option{
		ID:           o.ID,
		State:        o.State,
		Strike:       new(big.Int).Set(o.Strike),
		Amount:       new(big.Int).Set(o.Amount),
		LockedAmount: new(big.Int).Set(o.LockedAmount),
		PremiumPaid:  new(big.Int).Set(o.PremiumPaid),
		ExpiresAt:    o.ExpiresAt,
	}
}
