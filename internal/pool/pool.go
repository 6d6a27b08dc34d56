// Package pool implements a single-asset liquidity pool that underwrites
// at-the-money options against its deposits. Liquidity enters as hedged or
// unhedged tranches, options lock a collateralized slice of the pool, and
// premiums accrue back to the providers pro rata.
package pool

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"optionpool/internal/asset"
	"optionpool/internal/auth"
	"optionpool/internal/oracle"
	"optionpool/internal/pricing"
	"optionpool/internal/registry"
)

// Pricer quotes the cost of writing an option. The pool hands it the
// utilization it would have after locking so the quote can price congestion
// without reading pool state back.
type Pricer interface {
	Quote(periodSeconds int64, amount, strike *big.Int, util pricing.Utilization) (settlementFee, premium *big.Int, err error)
}

const (
	minPeriod = 24 * time.Hour
	maxPeriod = 12 * 7 * 24 * time.Hour
)

// initialRate converts the first deposit into shares. Later deposits mint
// proportionally to the class balance, so the rate only anchors the scale.
var initialRate = ethmath.BigPow(10, 20)

// Config wires a pool together. Zero values for the tunables fall back to the
// production defaults in applyDefaults.
type Config struct {
	Kind    Kind
	Token   *asset.Token
	Address common.Address

	SettlementFeeRecipient common.Address
	HedgePool              common.Address

	Auth     *auth.Table
	Oracle   oracle.PriceProvider
	Pricer   Pricer
	Tranches *registry.Manager
	Options  *registry.Manager
	Events   Events
	Now      func() time.Time
	Log      *zap.Logger

	LockupHedged   time.Duration
	LockupUnhedged time.Duration

	// MaxDepositTotal and MaxDepositHedged cap the pool size; nil means
	// unlimited.
	MaxDepositTotal  *big.Int
	MaxDepositHedged *big.Int

	CollateralizationRatio uint64
	MaxUtilizationRate     uint64
	HedgeFeeRate           uint64
}

func (c *Config) applyDefaults() {
	if c.LockupHedged == 0 {
		c.LockupHedged = 60 * 24 * time.Hour
	}
	if c.LockupUnhedged == 0 {
		c.LockupUnhedged = 30 * 24 * time.Hour
	}
	if c.CollateralizationRatio == 0 {
		c.CollateralizationRatio = 50
	}
	if c.MaxUtilizationRate == 0 {
		c.MaxUtilizationRate = 80
	}
	if c.HedgeFeeRate == 0 {
		c.HedgeFeeRate = 80
	}
	if c.Events == nil {
		c.Events = NopEvents{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
}

// Pool is the options-writing engine for one asset and one direction.
type Pool struct {
	kind     Kind
	token    *asset.Token
	addr     common.Address
	auth     *auth.Table
	oracle   oracle.PriceProvider
	tranches *registry.Manager
	options  *registry.Manager
	events   Events
	now      func() time.Time
	log      *zap.Logger

	mu sync.Mutex

	pricer                 Pricer
	settlementFeeRecipient common.Address
	hedgePool              common.Address
	lockupHedged           time.Duration
	lockupUnhedged         time.Duration
	maxDepositTotal        *big.Int
	maxDepositHedged       *big.Int
	collateralizationRatio uint64
	maxUtilizationRate     uint64
	hedgeFeeRate           uint64

	hedgedBalance   *big.Int
	unhedgedBalance *big.Int
	hedgedShare     *big.Int
	unhedgedShare   *big.Int
	lockedAmount    *big.Int

	trancheSeq  uint64
	optionSeq   uint64
	trancheByID map[uint64]*Tranche
	optionByID  map[uint64]*Option
}

func New(cfg Config) (*Pool, error) {
	cfg.applyDefaults()
	if cfg.Token == nil || cfg.Auth == nil || cfg.Oracle == nil || cfg.Tranches == nil || cfg.Options == nil {
		return nil, fmt.Errorf("pool: incomplete config")
	}
	if cfg.Address == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if cfg.CollateralizationRatio < 30 || cfg.CollateralizationRatio > 100 {
		return nil, ErrRatioOutOfRange
	}
	if cfg.MaxUtilizationRate < 50 || cfg.MaxUtilizationRate > 100 {
		return nil, ErrRatioOutOfRange
	}
	p := &Pool{
		kind:                   cfg.Kind,
		token:                  cfg.Token,
		addr:                   cfg.Address,
		auth:                   cfg.Auth,
		oracle:                 cfg.Oracle,
		tranches:               cfg.Tranches,
		options:                cfg.Options,
		events:                 cfg.Events,
		now:                    cfg.Now,
		log:                    cfg.Log.Named("pool").With(zap.String("kind", cfg.Kind.String())),
		pricer:                 cfg.Pricer,
		settlementFeeRecipient: cfg.SettlementFeeRecipient,
		hedgePool:              cfg.HedgePool,
		lockupHedged:           cfg.LockupHedged,
		lockupUnhedged:         cfg.LockupUnhedged,
		maxDepositTotal:        cloneOrNil(cfg.MaxDepositTotal),
		maxDepositHedged:       cloneOrNil(cfg.MaxDepositHedged),
		collateralizationRatio: cfg.CollateralizationRatio,
		maxUtilizationRate:     cfg.MaxUtilizationRate,
		hedgeFeeRate:           cfg.HedgeFeeRate,
		hedgedBalance:          new(big.Int),
		unhedgedBalance:        new(big.Int),
		hedgedShare:            new(big.Int),
		unhedgedShare:          new(big.Int),
		lockedAmount:           new(big.Int),
		trancheByID:            make(map[uint64]*Tranche),
		optionByID:             make(map[uint64]*Option),
	}
	// The pool mints and burns its own position ids.
	p.auth.Grant(auth.RolePool, p.addr)
	return p, nil
}

func (p *Pool) Kind() Kind              { return p.kind }
func (p *Pool) Address() common.Address { return p.addr }

// Provide deposits amount from payer and mints a tranche owned by onBehalfOf.
// minShare guards against share dilution between quoting and execution.
func (p *Pool) Provide(payer, onBehalfOf common.Address, amount *big.Int, hedged bool, minShare *big.Int) (uint64, error) {
	if onBehalfOf == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return 0, ErrAmountTooSmall
	}
	p.mu.Lock()
	id, share, err := p.provideLocked(payer, onBehalfOf, amount, hedged, minShare)
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	p.log.Info("liquidity provided",
		zap.Uint64("tranche", id),
		zap.String("owner", onBehalfOf.Hex()),
		zap.String("amount", amount.String()),
		zap.Bool("hedged", hedged))
	p.events.Provided(onBehalfOf, id, new(big.Int).Set(amount), share, hedged)
	return id, nil
}

func (p *Pool) provideLocked(payer, onBehalfOf common.Address, amount *big.Int, hedged bool, minShare *big.Int) (uint64, *big.Int, error) {
	balance, shareTotal := p.unhedgedBalance, p.unhedgedShare
	if hedged {
		balance, shareTotal = p.hedgedBalance, p.hedgedShare
	}

	share := new(big.Int)
	if shareTotal.Sign() == 0 {
		share.Mul(amount, initialRate)
	} else {
		share.Mul(amount, shareTotal)
		share.Div(share, balance)
	}
	if share.Sign() == 0 {
		return 0, nil, ErrAmountTooSmall
	}
	if minShare != nil && share.Cmp(minShare) < 0 {
		return 0, nil, ErrMintLimitExceeded
	}
	newTotal := new(big.Int).Add(p.totalBalanceLocked(), amount)
	if p.maxDepositTotal != nil && newTotal.Cmp(p.maxDepositTotal) > 0 {
		return 0, nil, ErrDepositNotAvailable
	}
	if hedged && p.maxDepositHedged != nil {
		newHedged := new(big.Int).Add(p.hedgedBalance, amount)
		if newHedged.Cmp(p.maxDepositHedged) > 0 {
			return 0, nil, ErrDepositNotAvailable
		}
	}

	if err := p.token.Transfer(payer, p.addr, amount); err != nil {
		return 0, nil, err
	}

	balance.Add(balance, amount)
	shareTotal.Add(shareTotal, share)

	id := p.trancheSeq
	p.trancheSeq++
	p.trancheByID[id] = &Tranche{
		ID:        id,
		State:     TrancheOpen,
		Share:     new(big.Int).Set(share),
		Amount:    new(big.Int).Set(amount),
		Hedged:    hedged,
		CreatedAt: p.now(),
	}
	if err := p.tranches.Register(p.addr, id, onBehalfOf); err != nil {
		// The sequence counter never reissues ids, so this cannot happen
		// unless the registry is shared with a misconfigured pool.
		return 0, nil, err
	}
	return id, new(big.Int).Set(share), nil
}

// Sell writes an option: the buyer pays the quoted premium plus settlement
// fee, the holder receives the position. A zero strike resolves to the
// current oracle price.
func (p *Pool) Sell(buyer, holder common.Address, period time.Duration, amount, strike *big.Int) (uint64, error) {
	if holder == (common.Address{}) {
		return 0, ErrZeroAddress
	}
	if period < minPeriod {
		return 0, ErrPeriodTooShort
	}
	if period > maxPeriod {
		return 0, ErrPeriodTooLong
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrAmountTooSmall
	}
	p.mu.Lock()
	id, fee, premium, err := p.sellLocked(buyer, holder, period, amount, strike)
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	p.log.Info("option acquired",
		zap.Uint64("option", id),
		zap.String("holder", holder.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()),
		zap.Duration("period", period))
	p.events.Acquired(holder, id, fee, premium)
	return id, nil
}

func (p *Pool) sellLocked(buyer, holder common.Address, period time.Duration, amount, strike *big.Int) (uint64, *big.Int, *big.Int, error) {
	if strike == nil || strike.Sign() == 0 {
		price, err := p.oracle.LatestPrice()
		if err != nil {
			return 0, nil, nil, err
		}
		strike = price
	}

	locked := new(big.Int).Mul(amount, big.NewInt(int64(p.collateralizationRatio)))
	locked.Div(locked, big.NewInt(100))

	total := p.totalBalanceLocked()
	newLocked := new(big.Int).Add(p.lockedAmount, locked)
	limit := new(big.Int).Mul(total, big.NewInt(int64(p.maxUtilizationRate)))
	limit.Div(limit, big.NewInt(100))
	if newLocked.Cmp(limit) > 0 {
		return 0, nil, nil, ErrAmountTooLarge
	}

	fee, premium, err := p.pricer.Quote(int64(period/time.Second), amount, strike, pricing.Utilization{
		Locked: newLocked,
		Total:  total,
	})
	if err != nil {
		return 0, nil, nil, err
	}

	cost := new(big.Int).Add(fee, premium)
	if err := p.token.Transfer(buyer, p.addr, cost); err != nil {
		return 0, nil, nil, err
	}
	if err := p.token.Transfer(p.addr, p.settlementFeeRecipient, fee); err != nil {
		return 0, nil, nil, err
	}

	// The hedged slice of the premium pays for downside protection before
	// the remainder accrues to the providers.
	hedgePremium := new(big.Int)
	if total.Sign() > 0 {
		hedgePremium.Mul(premium, p.hedgedBalance)
		hedgePremium.Div(hedgePremium, total)
	}
	// Without a hedge counterparty no fee leaves the pool and the full hedge
	// premium stays on the hedged class.
	hedgeFee := new(big.Int)
	if p.hedgePool != (common.Address{}) {
		hedgeFee.Mul(hedgePremium, big.NewInt(int64(p.hedgeFeeRate)))
		hedgeFee.Div(hedgeFee, big.NewInt(100))
		if hedgeFee.Sign() > 0 {
			if err := p.token.Transfer(p.addr, p.hedgePool, hedgeFee); err != nil {
				return 0, nil, nil, err
			}
		}
	}
	p.hedgedBalance.Add(p.hedgedBalance, hedgePremium)
	p.hedgedBalance.Sub(p.hedgedBalance, hedgeFee)
	p.unhedgedBalance.Add(p.unhedgedBalance, new(big.Int).Sub(premium, hedgePremium))

	p.lockedAmount.Set(newLocked)

	id := p.optionSeq
	p.optionSeq++
	p.optionByID[id] = &Option{
		ID:           id,
		State:        OptionActive,
		Strike:       new(big.Int).Set(strike),
		Amount:       new(big.Int).Set(amount),
		LockedAmount: locked,
		PremiumPaid:  new(big.Int).Set(premium),
		ExpiresAt:    p.now().Add(period),
	}
	if err := p.options.Register(p.addr, id, holder); err != nil {
		return 0, nil, nil, err
	}
	return id, fee, premium, nil
}

// Exercise settles an active, unexpired option at the current oracle price and
// pays the intrinsic value to its owner. Out-of-the-money options settle at
// zero and still terminate.
func (p *Pool) Exercise(caller common.Address, id uint64) (*big.Int, error) {
	p.mu.Lock()
	owner, profit, err := p.exerciseLocked(caller, id)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.log.Info("option exercised",
		zap.Uint64("option", id),
		zap.String("owner", owner.Hex()),
		zap.String("profit", profit.String()))
	p.events.Exercised(id, new(big.Int).Set(profit))
	return profit, nil
}

func (p *Pool) exerciseLocked(caller common.Address, id uint64) (common.Address, *big.Int, error) {
	o, ok := p.optionByID[id]
	if !ok {
		return common.Address{}, nil, ErrUnknownOption
	}
	eligible, err := p.options.IsApprovedOrOwner(caller, id)
	if err != nil {
		return common.Address{}, nil, err
	}
	if !eligible {
		return common.Address{}, nil, ErrNotEligible
	}
	if o.State != OptionActive {
		return common.Address{}, nil, ErrAlreadySettled
	}
	if !p.now().Before(o.ExpiresAt) {
		return common.Address{}, nil, ErrExpired
	}
	price, err := p.oracle.LatestPrice()
	if err != nil {
		return common.Address{}, nil, err
	}
	profit := p.intrinsicValue(o, price)

	o.State = OptionExercised
	p.lockedAmount.Sub(p.lockedAmount, o.LockedAmount)

	owner, err := p.options.OwnerOf(id)
	if err != nil {
		return common.Address{}, nil, err
	}
	if profit.Sign() > 0 {
		if err := p.payOut(owner, profit); err != nil {
			return common.Address{}, nil, err
		}
	}
	return owner, profit, nil
}

// Unlock releases the collateral of an expired option. Anyone may call it;
// the operator sweeps expired options on a timer.
func (p *Pool) Unlock(id uint64) error {
	p.mu.Lock()
	err := p.unlockLocked(id)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.log.Info("option expired", zap.Uint64("option", id))
	p.events.Expired(id)
	return nil
}

func (p *Pool) unlockLocked(id uint64) error {
	o, ok := p.optionByID[id]
	if !ok {
		return ErrUnknownOption
	}
	if o.State != OptionActive {
		return ErrAlreadySettled
	}
	if p.now().Before(o.ExpiresAt) {
		return ErrNotYetExpired
	}
	o.State = OptionExpired
	p.lockedAmount.Sub(p.lockedAmount, o.LockedAmount)
	return nil
}

// Withdraw burns a tranche after its lockup and pays out its pro rata slice
// of the class balance. Hedged tranches with a payout below the original
// deposit are topped up from the hedge pool.
func (p *Pool) Withdraw(caller common.Address, trancheID uint64) (*big.Int, error) {
	return p.withdraw(caller, trancheID, true)
}

// WithdrawWithoutHedge is the escape hatch for hedged tranches when the hedge
// pool cannot cover the shortfall: the owner takes the pro rata payout as is.
func (p *Pool) WithdrawWithoutHedge(caller common.Address, trancheID uint64) (*big.Int, error) {
	return p.withdraw(caller, trancheID, false)
}

func (p *Pool) withdraw(caller common.Address, trancheID uint64, hedge bool) (*big.Int, error) {
	p.mu.Lock()
	owner, paid, err := p.withdrawLocked(caller, trancheID, hedge)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	p.log.Info("tranche withdrawn",
		zap.Uint64("tranche", trancheID),
		zap.String("owner", owner.Hex()),
		zap.String("amount", paid.String()))
	p.events.Withdrawn(owner, trancheID, new(big.Int).Set(paid))
	return paid, nil
}

func (p *Pool) withdrawLocked(caller common.Address, trancheID uint64, hedge bool) (common.Address, *big.Int, error) {
	t, ok := p.trancheByID[trancheID]
	if !ok {
		return common.Address{}, nil, ErrUnknownTranche
	}
	eligible, err := p.tranches.IsApprovedOrOwner(caller, trancheID)
	if err != nil {
		return common.Address{}, nil, err
	}
	if !eligible {
		return common.Address{}, nil, ErrNotEligible
	}
	if t.State != TrancheOpen {
		return common.Address{}, nil, ErrTrancheClosed
	}
	lockup := p.lockupUnhedged
	if t.Hedged {
		lockup = p.lockupHedged
	}
	if p.now().Before(t.CreatedAt.Add(lockup)) {
		return common.Address{}, nil, ErrWithdrawalLocked
	}

	balance, shareTotal := p.unhedgedBalance, p.unhedgedShare
	if t.Hedged {
		balance, shareTotal = p.hedgedBalance, p.hedgedShare
	}
	amount := new(big.Int).Mul(t.Share, balance)
	amount.Div(amount, shareTotal)

	// Collateral backing open options must stay in the pool.
	available := new(big.Int).Sub(p.totalBalanceLocked(), p.lockedAmount)
	if amount.Cmp(available) > 0 {
		return common.Address{}, nil, ErrAmountTooLarge
	}

	owner, err := p.tranches.OwnerOf(trancheID)
	if err != nil {
		return common.Address{}, nil, err
	}

	// The top-up draws on a third-party balance and is the only transfer here
	// that can fail, so it runs before any ledger mutation. A hedge pool that
	// cannot cover the shortfall fails the call with the tranche untouched.
	paid := new(big.Int).Set(amount)
	if hedge && t.Hedged && amount.Cmp(t.Amount) < 0 && p.hedgePool != (common.Address{}) {
		shortfall := new(big.Int).Sub(t.Amount, amount)
		if err := p.token.Transfer(p.hedgePool, owner, shortfall); err != nil {
			return common.Address{}, nil, err
		}
		paid.Add(paid, shortfall)
	}

	t.State = TrancheClosed
	shareTotal.Sub(shareTotal, t.Share)
	balance.Sub(balance, amount)
	if err := p.tranches.Burn(p.addr, trancheID); err != nil {
		return common.Address{}, nil, err
	}
	if err := p.token.Transfer(p.addr, owner, amount); err != nil {
		return common.Address{}, nil, err
	}
	return owner, paid, nil
}

// payOut deducts amount pro rata from the hedged and unhedged balances and
// transfers it to recipient. Callers checked that the pool can cover it.
func (p *Pool) payOut(recipient common.Address, amount *big.Int) error {
	total := p.totalBalanceLocked()
	hedgedPart := new(big.Int)
	if total.Sign() > 0 {
		hedgedPart.Mul(amount, p.hedgedBalance)
		hedgedPart.Div(hedgedPart, total)
	}
	p.hedgedBalance.Sub(p.hedgedBalance, hedgedPart)
	p.unhedgedBalance.Sub(p.unhedgedBalance, new(big.Int).Sub(amount, hedgedPart))
	return p.token.Transfer(p.addr, recipient, amount)
}

func (p *Pool) intrinsicValue(o *Option, price *big.Int) *big.Int {
	profit := new(big.Int)
	switch p.kind {
	case Call:
		if price.Cmp(o.Strike) > 0 {
			profit.Sub(price, o.Strike)
		}
	case Put:
		if price.Cmp(o.Strike) < 0 {
			profit.Sub(o.Strike, price)
		}
	}
	if profit.Sign() == 0 {
		return profit
	}
	profit.Mul(profit, o.Amount)
	profit.Div(profit, price)
	// Payouts are capped by the collateral reserved for this option.
	if profit.Cmp(o.LockedAmount) > 0 {
		profit.Set(o.LockedAmount)
	}
	return profit
}

// ProfitOf reports what an active option would pay if exercised now. Settled
// options report zero.
func (p *Pool) ProfitOf(id uint64) (*big.Int, error) {
	price, err := p.oracle.LatestPrice()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.optionByID[id]
	if !ok {
		return nil, ErrUnknownOption
	}
	if o.State != OptionActive {
		return new(big.Int), nil
	}
	return p.intrinsicValue(o, price), nil
}

// ExpiredOptionIDs lists active options whose expiry has passed, ready to be
// unlocked.
func (p *Pool) ExpiredOptionIDs() []uint64 {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []uint64
	for id, o := range p.optionByID {
		if o.State == OptionActive && !now.Before(o.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Pool) TotalBalance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBalanceLocked()
}

func (p *Pool) AvailableBalance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Sub(p.totalBalanceLocked(), p.lockedAmount)
}

func (p *Pool) LockedAmount() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.lockedAmount)
}

func (p *Pool) HedgedBalance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.hedgedBalance)
}

func (p *Pool) UnhedgedBalance() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.unhedgedBalance)
}

func (p *Pool) Tranche(id uint64) (*Tranche, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.trancheByID[id]
	if !ok {
		return nil, ErrUnknownTranche
	}
	return t.clone(), nil
}

func (p *Pool) Option(id uint64) (*Option, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.optionByID[id]
	if !ok {
		return nil, ErrUnknownOption
	}
	return o.clone(), nil
}

func (p *Pool) totalBalanceLocked() *big.Int {
	return new(big.Int).Add(p.hedgedBalance, p.unhedgedBalance)
}

func cloneOrNil(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
