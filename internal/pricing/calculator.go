// Package pricing quotes at-the-money option premiums. The quote scales with
// the implied-volatility rate, the square root of the period, and the pool's
// projected utilization.
package pricing

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"

	"optionpool/internal/auth"
	"optionpool/internal/oracle"
)

var (
	ErrNotAtMoney    = errors.New("pricing: only ATM options are currently available")
	ErrInvalidIVRate = errors.New("pricing: implied vol rate must be positive")
)

var (
	// premiumDecimals normalizes amount * ivRate * sqrt(period) into token units.
	premiumDecimals = ethmath.BigPow(10, 16)
	// utilization is measured in 1e8 fixed point; the uplift kicks in above 40%.
	utilScale       = ethmath.BigPow(10, 8)
	utilKneePct     = big.NewInt(40)
	hundred         = big.NewInt(100)
	settlementShare = big.NewInt(20)
)

// Utilization carries the pool's projected collateral usage into a quote.
type Utilization struct {
	Locked *big.Int
	Total  *big.Int
}

type Calculator struct {
	authTable *auth.Table
	oracle    oracle.PriceProvider

	mu              sync.RWMutex
	impliedVolRate  *big.Int
	utilizationRate *big.Int
}

func NewCalculator(impliedVolRate *big.Int, priceProvider oracle.PriceProvider, authTable *auth.Table) (*Calculator, error) {
	if impliedVolRate == nil || impliedVolRate.Sign() <= 0 {
		return nil, ErrInvalidIVRate
	}
	if priceProvider == nil {
		return nil, errors.New("pricing: price provider is required")
	}
	return &Calculator{
		authTable:       authTable,
		oracle:          priceProvider,
		impliedVolRate:  new(big.Int).Set(impliedVolRate),
		utilizationRate: new(big.Int),
	}, nil
}

func (c *Calculator) ImpliedVolRate() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.impliedVolRate)
}

func (c *Calculator) UtilizationRate() *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return new(big.Int).Set(c.utilizationRate)
}

func (c *Calculator) SetImpliedVolRate(caller common.Address, rate *big.Int) error {
	if err := c.authTable.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidIVRate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impliedVolRate.Set(rate)
	return nil
}

func (c *Calculator) SetUtilizationRate(caller common.Address, rate *big.Int) error {
	if err := c.authTable.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if rate == nil || rate.Sign() < 0 {
		return errors.New("pricing: utilization rate must be non-negative")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.utilizationRate.Set(rate)
	return nil
}

// Quote prices an ATM option. The strike must equal the oracle's current
// price exactly; callers resolve a zero strike before quoting.
func (c *Calculator) Quote(periodSeconds int64, amount, strike *big.Int, util Utilization) (settlementFee, premium *big.Int, err error) {
	current, err := c.oracle.LatestPrice()
	if err != nil {
		return nil, nil, err
	}
	if strike == nil || strike.Cmp(current) != 0 {
		return nil, nil, ErrNotAtMoney
	}
	total := c.totalPremium(periodSeconds, amount, util)
	settlementFee = new(big.Int).Div(new(big.Int).Mul(total, settlementShare), hundred)
	premium = new(big.Int).Sub(total, settlementFee)
	return settlementFee, premium, nil
}

func (c *Calculator) totalPremium(periodSeconds int64, amount *big.Int, util Utilization) *big.Int {
	c.mu.RLock()
	ivRate := new(big.Int).Set(c.impliedVolRate)
	utilRate := new(big.Int).Set(c.utilizationRate)
	c.mu.RUnlock()

	sqrtPeriod := new(big.Int).Sqrt(big.NewInt(periodSeconds))
	total := new(big.Int).Mul(amount, ivRate)
	total.Mul(total, sqrtPeriod)
	total.Div(total, premiumDecimals)

	return applyUtilizationUplift(total, utilRate, util)
}

// applyUtilizationUplift scales the base premium by
// 1 + utilizationRate * (utilization - 40%) / 40% once projected utilization
// crosses 40%. A zero utilizationRate leaves the premium unchanged.
func applyUtilizationUplift(base, utilRate *big.Int, util Utilization) *big.Int {
	if utilRate.Sign() == 0 || util.Total == nil || util.Total.Sign() == 0 || util.Locked == nil {
		return base
	}
	// utilization in 1e8 fixed point: locked * 100e8 / total
	utilization := new(big.Int).Mul(util.Locked, hundred)
	utilization.Mul(utilization, utilScale)
	utilization.Div(utilization, util.Total)
	knee := new(big.Int).Mul(utilKneePct, utilScale)
	if utilization.Cmp(knee) <= 0 {
		return base
	}
	excess := new(big.Int).Sub(utilization, knee)
	uplift := new(big.Int).Mul(hundred, utilScale)
	uplift.Add(uplift, new(big.Int).Div(new(big.Int).Mul(utilRate, excess), knee))
	scaled := new(big.Int).Mul(base, uplift)
	scaled.Div(scaled, new(big.Int).Mul(hundred, utilScale))
	return scaled
}
