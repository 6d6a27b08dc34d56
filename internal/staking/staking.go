// Package staking distributes externally-arriving profit across two tiers of
// stakers: whole fixed-price lots and variable-amount micro lots. Profit
// splits 80/20 between the tiers when both are populated and accrues through
// scaled per-unit accumulators, so distribution cost does not grow with the
// number of stakers.
package staking

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"optionpool/internal/asset"
)

// accuracy scales the per-lot and per-weight profit accumulators so floor
// division loses at most one reward unit per claim.
var accuracy = ethmath.BigPow(10, 30)

const (
	lotTierShare   = 80
	microTierShare = 20
)

type Config struct {
	StakeToken  *asset.Token
	RewardToken *asset.Token
	Address     common.Address

	// LotPrice is the stake-token cost of one whole lot; MaxSupply caps the
	// outstanding lot count.
	LotPrice  *big.Int
	MaxSupply uint64
	Lockup    time.Duration

	Events Events
	Now    func() time.Time
	Log    *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.LotPrice == nil {
		c.LotPrice = new(big.Int).Mul(big.NewInt(888_000), ethmath.BigPow(10, 18))
	}
	if c.MaxSupply == 0 {
		c.MaxSupply = 1500
	}
	if c.Lockup == 0 {
		c.Lockup = 24 * time.Hour
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

// Engine is the two-tier staking ledger for one stake/reward token pair.
type Engine struct {
	stakeToken  *asset.Token
	rewardToken *asset.Token
	addr        common.Address
	lotPrice    *big.Int
	maxSupply   uint64
	lockup      time.Duration
	events      Events
	now         func() time.Time
	log         *zap.Logger

	mu sync.Mutex

	totalProfit      *big.Int
	microLotsProfits *big.Int
	lotCount         uint64
	microWeight      *big.Int

	// accountedBalance is the slice of the engine's reward-token balance
	// already attributed to stakers. Anything above it is undistributed.
	accountedBalance *big.Int

	lots             map[common.Address]uint64
	microBalance     map[common.Address]*big.Int
	savedProfit      map[common.Address]*big.Int
	lastProfit       map[common.Address]*big.Int
	lastMicroProfits map[common.Address]*big.Int
	lastBoughtAt     map[common.Address]time.Time
}

func New(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	if cfg.StakeToken == nil || cfg.RewardToken == nil {
		return nil, fmt.Errorf("staking: incomplete config")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("staking: zero engine address")
	}
	if cfg.LotPrice.Sign() <= 0 {
		return nil, fmt.Errorf("staking: lot price must be positive")
	}
	return &Engine{
		stakeToken:       cfg.StakeToken,
		rewardToken:      cfg.RewardToken,
		addr:             cfg.Address,
		lotPrice:         new(big.Int).Set(cfg.LotPrice),
		maxSupply:        cfg.MaxSupply,
		lockup:           cfg.Lockup,
		events:           cfg.Events,
		now:              cfg.Now,
		log:              cfg.Log.Named("staking"),
		totalProfit:      new(big.Int),
		microLotsProfits: new(big.Int),
		microWeight:      new(big.Int),
		accountedBalance: new(big.Int),
		lots:             make(map[common.Address]uint64),
		microBalance:     make(map[common.Address]*big.Int),
		savedProfit:      make(map[common.Address]*big.Int),
		lastProfit:       make(map[common.Address]*big.Int),
		lastMicroProfits: make(map[common.Address]*big.Int),
		lastBoughtAt:     make(map[common.Address]time.Time),
	}, nil
}

func (e *Engine) Address() common.Address { return e.addr }
func (e *Engine) LotPrice() *big.Int      { return new(big.Int).Set(e.lotPrice) }

// BuyStakingLot transfers count * LotPrice of the stake token from caller and
// mints count whole lots. The purchase restarts the caller's lockup.
func (e *Engine) BuyStakingLot(caller common.Address, count uint64) error {
	if count == 0 {
		return ErrAmountIsZero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lotCount+count > e.maxSupply {
		return ErrSupplyLimitExceeded
	}
	cost := new(big.Int).Mul(e.lotPrice, new(big.Int).SetUint64(count))
	e.settle(caller)
	if err := e.stakeToken.Transfer(caller, e.addr, cost); err != nil {
		return err
	}
	e.lots[caller] += count
	e.lotCount += count
	e.lastBoughtAt[caller] = e.now()
	e.log.Info("lot bought", zap.String("account", caller.Hex()), zap.Uint64("count", count))
	return nil
}

// SellStakingLot burns count lots after the lockup and refunds the full
// purchase price.
func (e *Engine) SellStakingLot(caller common.Address, count uint64) error {
	if count == 0 {
		return ErrAmountIsZero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLockup(caller); err != nil {
		return err
	}
	if e.lots[caller] < count {
		return ErrInsufficientStake
	}
	e.settle(caller)
	e.lots[caller] -= count
	if e.lots[caller] == 0 {
		delete(e.lots, caller)
	}
	e.lotCount -= count
	refund := new(big.Int).Mul(e.lotPrice, new(big.Int).SetUint64(count))
	if err := e.stakeToken.Transfer(e.addr, caller, refund); err != nil {
		return err
	}
	e.log.Info("lot sold", zap.String("account", caller.Hex()), zap.Uint64("count", count))
	return nil
}

// BuyMicroLot stakes an arbitrary amount into the micro tier.
func (e *Engine) BuyMicroLot(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrAmountIsZero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settle(caller)
	if err := e.stakeToken.Transfer(caller, e.addr, amount); err != nil {
		return err
	}
	bal, ok := e.microBalance[caller]
	if !ok {
		bal = new(big.Int)
		e.microBalance[caller] = bal
	}
	bal.Add(bal, amount)
	e.microWeight.Add(e.microWeight, amount)
	e.lastBoughtAt[caller] = e.now()
	e.log.Info("micro lot bought", zap.String("account", caller.Hex()), zap.String("amount", amount.String()))
	return nil
}

// SellMicroLot unstakes amount from the micro tier after the lockup.
func (e *Engine) SellMicroLot(caller common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return ErrAmountIsZero
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLockup(caller); err != nil {
		return err
	}
	bal, ok := e.microBalance[caller]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	e.settle(caller)
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(e.microBalance, caller)
	}
	e.microWeight.Sub(e.microWeight, amount)
	if err := e.stakeToken.Transfer(e.addr, caller, amount); err != nil {
		return err
	}
	e.log.Info("micro lot sold", zap.String("account", caller.Hex()), zap.String("amount", amount.String()))
	return nil
}

// DistributeUnrealizedRewards attributes every reward-token unit that arrived
// since the last distribution. Callable by anyone. When no tier has
// participants the rewards stay unattributed for a later call.
func (e *Engine) DistributeUnrealizedRewards() (*big.Int, error) {
	e.mu.Lock()
	amount := new(big.Int).Sub(e.rewardToken.BalanceOf(e.addr), e.accountedBalance)
	if amount.Sign() <= 0 {
		e.mu.Unlock()
		return nil, ErrZeroProfit
	}
	if e.lotCount == 0 && e.microWeight.Sign() == 0 {
		e.mu.Unlock()
		return new(big.Int), nil
	}

	lotShare := new(big.Int)
	microShare := new(big.Int)
	switch {
	case e.lotCount > 0 && e.microWeight.Sign() > 0:
		microShare.Mul(amount, big.NewInt(microTierShare))
		microShare.Div(microShare, big.NewInt(100))
		lotShare.Sub(amount, microShare)
	case e.lotCount > 0:
		lotShare.Set(amount)
	default:
		microShare.Set(amount)
	}
	if lotShare.Sign() > 0 {
		delta := new(big.Int).Mul(lotShare, accuracy)
		delta.Div(delta, new(big.Int).SetUint64(e.lotCount))
		e.totalProfit.Add(e.totalProfit, delta)
	}
	if microShare.Sign() > 0 {
		delta := new(big.Int).Mul(microShare, accuracy)
		delta.Div(delta, e.microWeight)
		e.microLotsProfits.Add(e.microLotsProfits, delta)
	}
	e.accountedBalance.Add(e.accountedBalance, amount)
	e.mu.Unlock()

	e.log.Info("rewards distributed",
		zap.String("amount", amount.String()),
		zap.String("lots", lotShare.String()),
		zap.String("micro", microShare.String()))
	e.events.Distributed(new(big.Int).Set(amount))
	return amount, nil
}

// ClaimProfits pays account's accumulated claimable profit in the reward
// token and resets it to zero.
func (e *Engine) ClaimProfits(account common.Address) (*big.Int, error) {
	e.mu.Lock()
	e.settle(account)
	amount := e.savedProfit[account]
	if amount == nil || amount.Sign() == 0 {
		e.mu.Unlock()
		return nil, ErrZeroProfit
	}
	paid := new(big.Int).Set(amount)
	amount.SetInt64(0)
	e.accountedBalance.Sub(e.accountedBalance, paid)
	err := e.rewardToken.Transfer(e.addr, account, paid)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	e.log.Info("profit claimed", zap.String("account", account.Hex()), zap.String("amount", paid.String()))
	e.events.Claimed(account, new(big.Int).Set(paid))
	return paid, nil
}

// ProfitOf reports account's current claimable profit.
func (e *Engine) ProfitOf(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unclaimed(account)
}

func (e *Engine) LotCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lotCount
}

func (e *Engine) LotsOf(account common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lots[account]
}

func (e *Engine) MicroBalanceOf(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bal, ok := e.microBalance[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (e *Engine) MicroWeight() *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(big.Int).Set(e.microWeight)
}

func (e *Engine) checkLockup(account common.Address) error {
	bought, ok := e.lastBoughtAt[account]
	if !ok {
		return nil
	}
	if e.now().Before(bought.Add(e.lockup)) {
		return ErrLockupActive
	}
	return nil
}

// settle folds the accumulator growth since the account's last checkpoint
// into savedProfit. Must run before any change to the account's stake.
func (e *Engine) settle(account common.Address) {
	unsettled := e.unsettled(account)
	if unsettled.Sign() > 0 {
		saved, ok := e.savedProfit[account]
		if !ok {
			saved = new(big.Int)
			e.savedProfit[account] = saved
		}
		saved.Add(saved, unsettled)
	}
	e.lastProfit[account] = new(big.Int).Set(e.totalProfit)
	e.lastMicroProfits[account] = new(big.Int).Set(e.microLotsProfits)
}

func (e *Engine) unsettled(account common.Address) *big.Int {
	out := new(big.Int)
	if count := e.lots[account]; count > 0 {
		delta := new(big.Int).Set(e.totalProfit)
		if last, ok := e.lastProfit[account]; ok {
			delta.Sub(delta, last)
		}
		delta.Mul(delta, new(big.Int).SetUint64(count))
		delta.Div(delta, accuracy)
		out.Add(out, delta)
	}
	if bal, ok := e.microBalance[account]; ok && bal.Sign() > 0 {
		delta := new(big.Int).Set(e.microLotsProfits)
		if last, ok := e.lastMicroProfits[account]; ok {
			delta.Sub(delta, last)
		}
		delta.Mul(delta, bal)
		delta.Div(delta, accuracy)
		out.Add(out, delta)
	}
	return out
}

func (e *Engine) unclaimed(account common.Address) *big.Int {
	out := new(big.Int).Set(e.unsettled(account))
	if saved, ok := e.savedProfit[account]; ok {
		out.Add(out, saved)
	}
	return out
}
