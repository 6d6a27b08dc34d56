// Package oracle supplies the current integer price the pool and the premium
// calculator agree on. The core never writes to it; updates arrive from the
// feed or from an operator.
package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var ErrNoPrice = errors.New("oracle: no price available")

type PriceProvider interface {
	// LatestPrice returns the current price scaled by 10^Decimals.
	LatestPrice() (*big.Int, error)
	Decimals() uint8
}

// Feed is a settable price provider backed by the last observed tick.
type Feed struct {
	decimals uint8

	mu        sync.RWMutex
	price     *big.Int
	updatedAt time.Time
}

func NewFeed(decimals uint8) *Feed {
	return &Feed{decimals: decimals}
}

func (f *Feed) Decimals() uint8 {
	return f.decimals
}

func (f *Feed) LatestPrice() (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price == nil {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(f.price), nil
}

func (f *Feed) SetPrice(price *big.Int, at time.Time) error {
	if price == nil || price.Sign() <= 0 {
		return errors.New("oracle: price must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = at
	return nil
}

// UpdatedAt reports when the last tick landed; zero time means never.
func (f *Feed) UpdatedAt() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.updatedAt
}
