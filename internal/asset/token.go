package asset

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount       = errors.New("asset: amount must be positive")
	ErrInsufficientBalance = errors.New("asset: insufficient balance")
)

// Token is an in-process balance ledger for a single asset. It stands in for
// the external token contract: the engines move value by calling Transfer and
// never hold raw balances themselves.
type Token struct {
	symbol   string
	decimals uint8

	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

func NewToken(symbol string, decimals uint8) *Token {
	return &Token{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[common.Address]*big.Int),
	}
}

func (t *Token) Symbol() string {
	return t.symbol
}

func (t *Token) Decimals() uint8 {
	return t.decimals
}

func (t *Token) BalanceOf(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Mint credits account out of thin air. Used for genesis balances and tests.
func (t *Token) Mint(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, amount)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from.Hex(), t.balanceLocked(from), t.symbol, amount)
	}
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(t.balances, from)
	}
	t.credit(to, amount)
	return nil
}

func (t *Token) credit(account common.Address, amount *big.Int) {
	if bal, ok := t.balances[account]; ok {
		bal.Add(bal, amount)
		return
	}
	t.balances[account] = new(big.Int).Set(amount)
}

func (t *Token) balanceLocked(account common.Address) *big.Int {
	if bal, ok := t.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}
