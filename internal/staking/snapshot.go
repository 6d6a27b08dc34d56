package staking

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is a point-in-time export of the staking ledger. Big integers are
// decimal strings, accounts are hex addresses.
type Snapshot struct {
	TotalProfit      string            `json:"totalProfit"`
	MicroLotsProfits string            `json:"microLotsProfits"`
	LotCount         uint64            `json:"lotCount"`
	MicroWeight      string            `json:"microWeight"`
	AccountedBalance string            `json:"accountedBalance"`
	Accounts         []AccountSnapshot `json:"accounts"`
	TakenAt          time.Time         `json:"takenAt"`
}

type AccountSnapshot struct {
	Address          string `json:"address"`
	Lots             uint64 `json:"lots"`
	MicroBalance     string `json:"microBalance"`
	SavedProfit      string `json:"savedProfit"`
	LastProfit       string `json:"lastProfit"`
	LastMicroProfits string `json:"lastMicroProfits"`
	LastBoughtAt     int64  `json:"lastBoughtAt"`
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		TotalProfit:      e.totalProfit.String(),
		MicroLotsProfits: e.microLotsProfits.String(),
		LotCount:         e.lotCount,
		MicroWeight:      e.microWeight.String(),
		AccountedBalance: e.accountedBalance.String(),
		TakenAt:          e.now(),
	}
	seen := make(map[common.Address]bool)
	collect := func(addr common.Address) {
		if seen[addr] {
			return
		}
		seen[addr] = true
		acct := AccountSnapshot{
			Address:          addr.Hex(),
			Lots:             e.lots[addr],
			MicroBalance:     bigOrZero(e.microBalance[addr]),
			SavedProfit:      bigOrZero(e.savedProfit[addr]),
			LastProfit:       bigOrZero(e.lastProfit[addr]),
			LastMicroProfits: bigOrZero(e.lastMicroProfits[addr]),
		}
		if at, ok := e.lastBoughtAt[addr]; ok {
			acct.LastBoughtAt = at.Unix()
		}
		snap.Accounts = append(snap.Accounts, acct)
	}
	for addr := range e.lots {
		collect(addr)
	}
	for addr := range e.microBalance {
		collect(addr)
	}
	for addr := range e.savedProfit {
		collect(addr)
	}
	for addr := range e.lastBoughtAt {
		collect(addr)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].Address < snap.Accounts[j].Address })
	return snap
}

// Restore replaces the ledger with a previously exported snapshot.
func (e *Engine) Restore(snap Snapshot) error {
	totalProfit, err := parseBig("totalProfit", snap.TotalProfit)
	if err != nil {
		return err
	}
	microLotsProfits, err := parseBig("microLotsProfits", snap.MicroLotsProfits)
	if err != nil {
		return err
	}
	microWeight, err := parseBig("microWeight", snap.MicroWeight)
	if err != nil {
		return err
	}
	accounted, err := parseBig("accountedBalance", snap.AccountedBalance)
	if err != nil {
		return err
	}
	lots := make(map[common.Address]uint64)
	microBalance := make(map[common.Address]*big.Int)
	savedProfit := make(map[common.Address]*big.Int)
	lastProfit := make(map[common.Address]*big.Int)
	lastMicroProfits := make(map[common.Address]*big.Int)
	lastBoughtAt := make(map[common.Address]time.Time)
	for _, acct := range snap.Accounts {
		addr := common.HexToAddress(acct.Address)
		if acct.Lots > 0 {
			lots[addr] = acct.Lots
		}
		if err := restoreBig(acct.MicroBalance, addr, microBalance); err != nil {
			return err
		}
		if err := restoreBig(acct.SavedProfit, addr, savedProfit); err != nil {
			return err
		}
		if err := restoreBig(acct.LastProfit, addr, lastProfit); err != nil {
			return err
		}
		if err := restoreBig(acct.LastMicroProfits, addr, lastMicroProfits); err != nil {
			return err
		}
		if acct.LastBoughtAt != 0 {
			lastBoughtAt[addr] = time.Unix(acct.LastBoughtAt, 0).UTC()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.totalProfit = totalProfit
	e.microLotsProfits = microLotsProfits
	e.lotCount = snap.LotCount
	e.microWeight = microWeight
	e.accountedBalance = accounted
	e.lots = lots
	e.microBalance = microBalance
	e.savedProfit = savedProfit
	e.lastProfit = lastProfit
	e.lastMicroProfits = lastMicroProfits
	e.lastBoughtAt = lastBoughtAt
	return nil
}

func restoreBig(s string, addr common.Address, dst map[common.Address]*big.Int) error {
	v, err := parseBig("account field", s)
	if err != nil {
		return err
	}
	if v.Sign() != 0 {
		dst[addr] = v
	}
	return nil
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("staking: snapshot field %s: bad integer %q", field, s)
	}
	return v, nil
}
