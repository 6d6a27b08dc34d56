package asset

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceSnapshot is one account balance, the amount a decimal string.
type BalanceSnapshot struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Snapshot exports every non-zero balance in account order.
func (t *Token) Snapshot() []BalanceSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := make([]BalanceSnapshot, 0, len(t.balances))
	for account, balance := range t.balances {
		snap = append(snap, BalanceSnapshot{
			Account: account.Hex(),
			Amount:  balance.String(),
		})
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Account < snap[j].Account })
	return snap
}

// Restore replaces the ledger with the snapshot's balances.
func (t *Token) Restore(snap []BalanceSnapshot) error {
	balances := make(map[common.Address]*big.Int, len(snap))
	for _, entry := range snap {
		account := common.HexToAddress(entry.Account)
		amount, ok := new(big.Int).SetString(entry.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("asset: bad balance %q for %s", entry.Amount, entry.Account)
		}
		if _, exists := balances[account]; exists {
			return fmt.Errorf("asset: duplicate account %s", entry.Account)
		}
		balances[account] = amount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = balances
	return nil
}
