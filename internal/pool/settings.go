package pool

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"optionpool/internal/auth"
)

// Admin setters. Every setter is gated on the admin role and takes effect for
// subsequent operations only; existing tranches and options keep the terms
// they were created under.

// maxLockupPeriod caps both lockup settings at 60 days.
const maxLockupPeriod = 60 * 24 * time.Hour

func (p *Pool) SetLockupPeriod(caller common.Address, hedged, unhedged time.Duration) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if hedged > maxLockupPeriod || unhedged > maxLockupPeriod {
		return ErrLockupTooLong
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lockupHedged = hedged
	p.lockupUnhedged = unhedged
	return nil
}

// SetMaxDepositAmount caps the pool size. nil lifts a cap; the hedged cap can
// never exceed the total cap.
func (p *Pool) SetMaxDepositAmount(caller common.Address, total, hedged *big.Int) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if total != nil && hedged != nil && hedged.Cmp(total) > 0 {
		return ErrRatioOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxDepositTotal = cloneOrNil(total)
	p.maxDepositHedged = cloneOrNil(hedged)
	return nil
}

func (p *Pool) SetMaxUtilizationRate(caller common.Address, rate uint64) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if rate < 50 || rate > 100 {
		return ErrRatioOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxUtilizationRate = rate
	return nil
}

func (p *Pool) SetCollateralizationRatio(caller common.Address, ratio uint64) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if ratio < 30 || ratio > 100 {
		return ErrRatioOutOfRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collateralizationRatio = ratio
	return nil
}

func (p *Pool) SetHedgePool(caller, hedgePool common.Address) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if hedgePool == (common.Address{}) {
		return ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hedgePool = hedgePool
	return nil
}

func (p *Pool) SetSettlementFeeRecipient(caller, recipient common.Address) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settlementFeeRecipient = recipient
	return nil
}

// SetPriceCalculator swaps the quoting engine, e.g. after an implied vol
// recalibration ships as a new calculator.
func (p *Pool) SetPriceCalculator(caller common.Address, pricer Pricer) error {
	if err := p.auth.Require(auth.RoleAdmin, caller); err != nil {
		return err
	}
	if pricer == nil {
		return ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pricer = pricer
	return nil
}
