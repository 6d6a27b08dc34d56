package pool

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"optionpool/internal/asset"
	"optionpool/internal/auth"
	"optionpool/internal/oracle"
	"optionpool/internal/pricing"
	"optionpool/internal/registry"
)

var (
	admin        = common.HexToAddress("0xa000000000000000000000000000000000000001")
	alice        = common.HexToAddress("0xa000000000000000000000000000000000000002")
	bob          = common.HexToAddress("0xa000000000000000000000000000000000000003")
	buyer        = common.HexToAddress("0xa000000000000000000000000000000000000004")
	poolAddr     = common.HexToAddress("0xb000000000000000000000000000000000000001")
	hedgeAddr    = common.HexToAddress("0xb000000000000000000000000000000000000002")
	feeRecipient = common.HexToAddress("0xb000000000000000000000000000000000000003")
)

type fixture struct {
	token *asset.Token
	feed  *oracle.Feed
	auth  *auth.Table
	pool  *Pool
	now   time.Time
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) setPrice(t *testing.T, price *big.Int) {
	t.Helper()
	if err := f.feed.SetPrice(price, f.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
}

func newFixture(t *testing.T, kind Kind) *fixture {
	t.Helper()
	f := &fixture{
		token: asset.NewToken("WETH", 18),
		feed:  oracle.NewFeed(8),
		auth:  auth.NewTable(),
		now:   time.Unix(1_700_000_000, 0).UTC(),
	}
	f.auth.Grant(auth.RoleAdmin, admin)
	f.setPrice(t, eth8(2500))

	calc, err := pricing.NewCalculator(big.NewInt(1e13), f.feed, f.auth)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	p, err := New(Config{
		Kind:                   kind,
		Token:                  f.token,
		Address:                poolAddr,
		SettlementFeeRecipient: feeRecipient,
		HedgePool:              hedgeAddr,
		Auth:                   f.auth,
		Oracle:                 f.feed,
		Pricer:                 calc,
		Tranches:               registry.NewManager(f.auth),
		Options:                registry.NewManager(f.auth),
		Now:                    func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	f.pool = p

	for _, acct := range []common.Address{alice, bob, buyer} {
		if err := f.token.Mint(acct, eth(1000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if err := f.token.Mint(hedgeAddr, eth(1000)); err != nil {
		t.Fatalf("mint hedge pool: %v", err)
	}
	return f
}

func (f *fixture) provide(t *testing.T, owner common.Address, amount *big.Int, hedged bool) uint64 {
	t.Helper()
	id, err := f.pool.Provide(owner, owner, amount, hedged, nil)
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	return id
}

func (f *fixture) sell(t *testing.T, period time.Duration, amount *big.Int) uint64 {
	t.Helper()
	id, err := f.pool.Sell(buyer, buyer, period, amount, nil)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	return id
}

// eth converts whole tokens to 18-decimal units.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// eth8 converts a whole price to the oracle's 8-decimal units.
func eth8(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e8))
}

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big integer literal %q", s)
	}
	return v
}

func assertBig(t *testing.T, name string, got, want *big.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func TestProvideMintsInitialShares(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), false)
	if id != 0 {
		t.Fatalf("first tranche id = %d, want 0", id)
	}
	tr, err := f.pool.Tranche(id)
	if err != nil {
		t.Fatalf("tranche: %v", err)
	}
	if tr.State != TrancheOpen {
		t.Fatalf("tranche state = %d, want open", tr.State)
	}
	wantShare := new(big.Int).Mul(eth(10), initialRate)
	assertBig(t, "share", tr.Share, wantShare)
	assertBig(t, "total balance", f.pool.TotalBalance(), eth(10))
	assertBig(t, "pool token balance", f.token.BalanceOf(poolAddr), eth(10))

	owner, err := f.pool.tranches.OwnerOf(id)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != alice {
		t.Fatalf("tranche owner = %s, want alice", owner.Hex())
	}
}

func TestProvideSequentialIDs(t *testing.T) {
	f := newFixture(t, Call)
	for want := uint64(0); want < 3; want++ {
		if id := f.provide(t, alice, eth(1), want%2 == 0); id != want {
			t.Fatalf("tranche id = %d, want %d", id, want)
		}
	}
}

func TestProvideProportionalShares(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.provide(t, bob, eth(5), false)
	tr, err := f.pool.Tranche(id)
	if err != nil {
		t.Fatalf("tranche: %v", err)
	}
	// 5 of 10 at the same rate mints exactly half the outstanding shares.
	wantShare := new(big.Int).Mul(eth(5), initialRate)
	assertBig(t, "share", tr.Share, wantShare)
}

func TestProvideRejectsZeroAndDust(t *testing.T) {
	f := newFixture(t, Call)
	if _, err := f.pool.Provide(alice, alice, big.NewInt(0), false, nil); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("zero amount err = %v, want ErrAmountTooSmall", err)
	}
}

func TestProvideMinShareGuard(t *testing.T) {
	f := newFixture(t, Call)
	tooHigh := new(big.Int).Mul(eth(10), initialRate)
	tooHigh.Add(tooHigh, big.NewInt(1))
	if _, err := f.pool.Provide(alice, alice, eth(10), false, tooHigh); !errors.Is(err, ErrMintLimitExceeded) {
		t.Fatalf("err = %v, want ErrMintLimitExceeded", err)
	}
}

func TestProvideDepositCap(t *testing.T) {
	f := newFixture(t, Call)
	if err := f.pool.SetMaxDepositAmount(admin, eth(10), eth(5)); err != nil {
		t.Fatalf("set max deposit: %v", err)
	}
	f.provide(t, alice, eth(5), true)
	if _, err := f.pool.Provide(alice, alice, eth(1), true, nil); !errors.Is(err, ErrDepositNotAvailable) {
		t.Fatalf("hedged cap err = %v, want ErrDepositNotAvailable", err)
	}
	f.provide(t, alice, eth(5), false)
	if _, err := f.pool.Provide(alice, alice, eth(1), false, nil); !errors.Is(err, ErrDepositNotAvailable) {
		t.Fatalf("total cap err = %v, want ErrDepositNotAvailable", err)
	}
}

func TestSellPeriodBounds(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)

	if _, err := f.pool.Sell(buyer, buyer, 24*time.Hour-time.Second, eth(1), nil); !errors.Is(err, ErrPeriodTooShort) {
		t.Fatalf("short period err = %v, want ErrPeriodTooShort", err)
	}
	if _, err := f.pool.Sell(buyer, buyer, 13*7*24*time.Hour, eth(1), nil); !errors.Is(err, ErrPeriodTooLong) {
		t.Fatalf("long period err = %v, want ErrPeriodTooLong", err)
	}
	if _, err := f.pool.Sell(buyer, buyer, 12*7*24*time.Hour, eth(1), nil); err != nil {
		t.Fatalf("twelve week period: %v", err)
	}
	if _, err := f.pool.Sell(buyer, buyer, 24*time.Hour, eth(1), nil); err != nil {
		t.Fatalf("one day period: %v", err)
	}
}

func TestSellOffMarketStrikeRejected(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	if _, err := f.pool.Sell(buyer, buyer, 7*24*time.Hour, eth(1), eth8(2600)); !errors.Is(err, pricing.ErrNotAtMoney) {
		t.Fatalf("err = %v, want ErrNotAtMoney", err)
	}
}

func TestSellUtilizationCeiling(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)

	// Defaults collateralize at 50% with an 80% utilization ceiling, so a
	// 10-token pool writes at most 16 tokens of notional.
	over := new(big.Int).Add(eth(16), big.NewInt(2))
	if _, err := f.pool.Sell(buyer, buyer, 24*time.Hour, over, nil); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("err = %v, want ErrAmountTooLarge", err)
	}
	id := f.sell(t, 24*time.Hour, eth(16))
	o, err := f.pool.Option(id)
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	assertBig(t, "locked", o.LockedAmount, eth(8))
	assertBig(t, "pool locked", f.pool.LockedAmount(), eth(8))
}

func TestSellPremiumAndFee(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)

	buyerBefore := f.token.BalanceOf(buyer)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	wantFee := bigFromString(t, "155400000000000000")
	wantPremium := bigFromString(t, "621600000000000000")

	o, err := f.pool.Option(id)
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	assertBig(t, "premium paid", o.PremiumPaid, wantPremium)
	assertBig(t, "fee recipient balance", f.token.BalanceOf(feeRecipient), wantFee)

	spent := new(big.Int).Sub(buyerBefore, f.token.BalanceOf(buyer))
	assertBig(t, "buyer spend", spent, new(big.Int).Add(wantFee, wantPremium))

	// An all-unhedged pool keeps the whole premium.
	wantTotal := new(big.Int).Add(eth(10), wantPremium)
	assertBig(t, "total balance", f.pool.TotalBalance(), wantTotal)
}

func TestSellPremiumRoutingHedged(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(7), true)
	f.provide(t, bob, eth(3), false)

	hedgeBefore := f.token.BalanceOf(hedgeAddr)
	f.sell(t, 7*24*time.Hour, eth(1))

	premium := bigFromString(t, "621600000000000000")
	hedgePremium := new(big.Int).Mul(premium, big.NewInt(7))
	hedgePremium.Div(hedgePremium, big.NewInt(10))
	hedgeFee := new(big.Int).Mul(hedgePremium, big.NewInt(80))
	hedgeFee.Div(hedgeFee, big.NewInt(100))

	hedgeGain := new(big.Int).Sub(f.token.BalanceOf(hedgeAddr), hedgeBefore)
	assertBig(t, "hedge pool fee", hedgeGain, hedgeFee)

	wantHedged := new(big.Int).Add(eth(7), new(big.Int).Sub(hedgePremium, hedgeFee))
	assertBig(t, "hedged balance", f.pool.HedgedBalance(), wantHedged)

	wantUnhedged := new(big.Int).Add(eth(3), new(big.Int).Sub(premium, hedgePremium))
	assertBig(t, "unhedged balance", f.pool.UnhedgedBalance(), wantUnhedged)
}

func TestExerciseInTheMoneyCall(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	f.advance(24 * time.Hour)
	f.setPrice(t, eth8(3000))

	holderBefore := f.token.BalanceOf(buyer)
	profit, err := f.pool.Exercise(buyer, id)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	// 1 * (3000 - 2500) / 3000, floored.
	wantProfit := bigFromString(t, "166666666666666666")
	assertBig(t, "profit", profit, wantProfit)

	gain := new(big.Int).Sub(f.token.BalanceOf(buyer), holderBefore)
	assertBig(t, "holder gain", gain, wantProfit)
	assertBig(t, "locked after exercise", f.pool.LockedAmount(), big.NewInt(0))

	o, err := f.pool.Option(id)
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if o.State != OptionExercised {
		t.Fatalf("state = %s, want exercised", o.State)
	}
}

func TestExerciseInTheMoneyPut(t *testing.T) {
	f := newFixture(t, Put)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	f.setPrice(t, eth8(2000))
	profit, err := f.pool.Exercise(buyer, id)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	// 1 * (2500 - 2000) / 2000.
	assertBig(t, "profit", profit, bigFromString(t, "250000000000000000"))
}

func TestExerciseOutOfTheMoneySettlesAtZero(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	f.setPrice(t, eth8(2000))
	holderBefore := f.token.BalanceOf(buyer)
	profit, err := f.pool.Exercise(buyer, id)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	if profit.Sign() != 0 {
		t.Fatalf("profit = %s, want 0", profit)
	}
	assertBig(t, "holder balance", f.token.BalanceOf(buyer), holderBefore)

	o, err := f.pool.Option(id)
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if o.State != OptionExercised {
		t.Fatalf("state = %s, want exercised", o.State)
	}
	if _, err := f.pool.Exercise(buyer, id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second exercise err = %v, want ErrAlreadySettled", err)
	}
}

func TestExerciseProfitCappedByCollateral(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	// Intrinsic value 0.75 exceeds the 0.5 locked for this option.
	f.setPrice(t, eth8(10000))
	profit, err := f.pool.Exercise(buyer, id)
	if err != nil {
		t.Fatalf("exercise: %v", err)
	}
	assertBig(t, "capped profit", profit, bigFromString(t, "500000000000000000"))
}

func TestExerciseAccessAndExpiry(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 24*time.Hour, eth(1))
	f.setPrice(t, eth8(3000))

	if _, err := f.pool.Exercise(bob, id); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("stranger exercise err = %v, want ErrNotEligible", err)
	}

	// Approval makes a third party eligible.
	if err := f.pool.options.Approve(buyer, bob, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	f.advance(24 * time.Hour)
	if _, err := f.pool.Exercise(bob, id); !errors.Is(err, ErrExpired) {
		t.Fatalf("expired exercise err = %v, want ErrExpired", err)
	}
}

func TestUnlockLifecycle(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 24*time.Hour, eth(1))

	if err := f.pool.Unlock(id); !errors.Is(err, ErrNotYetExpired) {
		t.Fatalf("early unlock err = %v, want ErrNotYetExpired", err)
	}
	f.advance(24 * time.Hour)
	if err := f.pool.Unlock(id); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	assertBig(t, "locked", f.pool.LockedAmount(), big.NewInt(0))

	o, err := f.pool.Option(id)
	if err != nil {
		t.Fatalf("option: %v", err)
	}
	if o.State != OptionExpired {
		t.Fatalf("state = %s, want expired", o.State)
	}
	if err := f.pool.Unlock(id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("double unlock err = %v, want ErrAlreadySettled", err)
	}
}

func TestExpiredOptionIDs(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(100), false)
	short := f.sell(t, 24*time.Hour, eth(1))
	f.sell(t, 7*24*time.Hour, eth(1))

	if ids := f.pool.ExpiredOptionIDs(); len(ids) != 0 {
		t.Fatalf("expired ids before expiry = %v", ids)
	}
	f.advance(24 * time.Hour)
	ids := f.pool.ExpiredOptionIDs()
	if len(ids) != 1 || ids[0] != short {
		t.Fatalf("expired ids = %v, want [%d]", ids, short)
	}
}

func TestWithdrawLockup(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), false)

	if _, err := f.pool.Withdraw(alice, id); !errors.Is(err, ErrWithdrawalLocked) {
		t.Fatalf("early withdraw err = %v, want ErrWithdrawalLocked", err)
	}
	f.advance(30 * 24 * time.Hour)
	paid, err := f.pool.Withdraw(alice, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	assertBig(t, "paid", paid, eth(10))
	assertBig(t, "total balance", f.pool.TotalBalance(), big.NewInt(0))

	if _, err := f.pool.Withdraw(alice, id); !errors.Is(err, ErrTrancheClosed) {
		t.Fatalf("second withdraw err = %v, want ErrTrancheClosed", err)
	}
	if _, err := f.pool.tranches.OwnerOf(id); !errors.Is(err, registry.ErrUnknownID) {
		t.Fatalf("tranche not burned: %v", err)
	}
}

func TestWithdrawStrangerRejected(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), false)
	f.advance(30 * 24 * time.Hour)
	if _, err := f.pool.Withdraw(bob, id); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestWithdrawBlockedByOpenCollateral(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), false)
	f.sell(t, 12*7*24*time.Hour, eth(16))

	f.advance(30 * 24 * time.Hour)
	if _, err := f.pool.Withdraw(alice, id); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("err = %v, want ErrAmountTooLarge", err)
	}
}

func TestWithdrawIncludesAccruedPremium(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), false)
	optID := f.sell(t, 24*time.Hour, eth(1))

	f.advance(24 * time.Hour)
	if err := f.pool.Unlock(optID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	f.advance(29 * 24 * time.Hour)

	paid, err := f.pool.Withdraw(alice, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// One-day premium: 1 * 1e13 * isqrt(86400) / 1e16 with isqrt(86400)=293,
	// 80% of which is premium.
	premium := bigFromString(t, "234400000000000000")
	assertBig(t, "paid", paid, new(big.Int).Add(eth(10), premium))
}

func TestHedgedWithdrawTopUp(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), true)
	optID := f.sell(t, 24*time.Hour, eth(1))

	// Drain value from the pool with a capped in-the-money exercise.
	f.setPrice(t, eth8(10000))
	if _, err := f.pool.Exercise(buyer, optID); err != nil {
		t.Fatalf("exercise: %v", err)
	}

	f.advance(60 * 24 * time.Hour)
	aliceBefore := f.token.BalanceOf(alice)
	hedgeBefore := f.token.BalanceOf(hedgeAddr)
	paid, err := f.pool.Withdraw(alice, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// The hedge pool makes the provider whole on the original deposit.
	assertBig(t, "paid", paid, eth(10))
	gain := new(big.Int).Sub(f.token.BalanceOf(alice), aliceBefore)
	assertBig(t, "alice gain", gain, eth(10))
	if f.token.BalanceOf(hedgeAddr).Cmp(hedgeBefore) >= 0 {
		t.Fatal("hedge pool did not pay the shortfall")
	}
}

func TestWithdrawWithoutHedgeSkipsTopUp(t *testing.T) {
	f := newFixture(t, Call)
	id := f.provide(t, alice, eth(10), true)
	optID := f.sell(t, 24*time.Hour, eth(1))
	f.setPrice(t, eth8(10000))
	if _, err := f.pool.Exercise(buyer, optID); err != nil {
		t.Fatalf("exercise: %v", err)
	}

	f.advance(60 * 24 * time.Hour)
	hedgeBefore := f.token.BalanceOf(hedgeAddr)
	paid, err := f.pool.WithdrawWithoutHedge(alice, id)
	if err != nil {
		t.Fatalf("withdraw without hedge: %v", err)
	}
	if paid.Cmp(eth(10)) >= 0 {
		t.Fatalf("paid = %s, want less than the deposit", paid)
	}
	assertBig(t, "hedge pool untouched", f.token.BalanceOf(hedgeAddr), hedgeBefore)
}

func TestWithdrawUnderfundedHedgeLeavesTrancheIntact(t *testing.T) {
	f := newFixture(t, Call)
	// Leave the hedge pool holding only the fees routed to it by Sell.
	if err := f.token.Transfer(hedgeAddr, bob, eth(1000)); err != nil {
		t.Fatalf("drain hedge pool: %v", err)
	}
	id := f.provide(t, alice, eth(10), true)
	optID := f.sell(t, 24*time.Hour, eth(1))
	f.setPrice(t, eth8(10000))
	if _, err := f.pool.Exercise(buyer, optID); err != nil {
		t.Fatalf("exercise: %v", err)
	}

	f.advance(60 * 24 * time.Hour)
	aliceBefore := f.token.BalanceOf(alice)
	totalBefore := f.pool.TotalBalance()
	if _, err := f.pool.Withdraw(alice, id); !errors.Is(err, asset.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// The failed top-up must not have touched the tranche or the ledger.
	tr, err := f.pool.Tranche(id)
	if err != nil {
		t.Fatalf("tranche: %v", err)
	}
	if tr.State != TrancheOpen {
		t.Fatalf("tranche state = %v, want open", tr.State)
	}
	assertBig(t, "alice balance", f.token.BalanceOf(alice), aliceBefore)
	assertBig(t, "total balance", f.pool.TotalBalance(), totalBefore)

	paid, err := f.pool.WithdrawWithoutHedge(alice, id)
	if err != nil {
		t.Fatalf("withdraw without hedge: %v", err)
	}
	assertBig(t, "paid", paid, bigFromString(t, "9546880000000000000"))
}

func TestSellWithoutHedgePoolKeepsFullPremium(t *testing.T) {
	f := newFixture(t, Call)
	addr := common.HexToAddress("0xb000000000000000000000000000000000000004")
	calc, err := pricing.NewCalculator(big.NewInt(1e13), f.feed, f.auth)
	if err != nil {
		t.Fatalf("new calculator: %v", err)
	}
	p, err := New(Config{
		Kind:                   Call,
		Token:                  f.token,
		Address:                addr,
		SettlementFeeRecipient: feeRecipient,
		Auth:                   f.auth,
		Oracle:                 f.feed,
		Pricer:                 calc,
		Tranches:               registry.NewManager(f.auth),
		Options:                registry.NewManager(f.auth),
		Now:                    func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if _, err := p.Provide(alice, alice, eth(10), true, nil); err != nil {
		t.Fatalf("provide: %v", err)
	}
	if _, err := p.Sell(buyer, buyer, 24*time.Hour, eth(1), nil); err != nil {
		t.Fatalf("sell: %v", err)
	}
	// With no hedge counterparty the hedged class keeps the whole premium
	// and the internal ledger matches the tokens the pool actually holds.
	assertBig(t, "hedged balance", p.HedgedBalance(), bigFromString(t, "10234400000000000000"))
	assertBig(t, "pool holdings", f.token.BalanceOf(addr), p.TotalBalance())
}

func TestProfitOf(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	id := f.sell(t, 7*24*time.Hour, eth(1))

	profit, err := f.pool.ProfitOf(id)
	if err != nil {
		t.Fatalf("profit of: %v", err)
	}
	if profit.Sign() != 0 {
		t.Fatalf("at the money profit = %s, want 0", profit)
	}
	f.setPrice(t, eth8(3000))
	profit, err = f.pool.ProfitOf(id)
	if err != nil {
		t.Fatalf("profit of: %v", err)
	}
	assertBig(t, "profit", profit, bigFromString(t, "166666666666666666"))
}

func TestAdminSetterValidation(t *testing.T) {
	f := newFixture(t, Call)

	if err := f.pool.SetCollateralizationRatio(alice, 60); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("non-admin err = %v, want ErrUnauthorized", err)
	}
	if err := f.pool.SetCollateralizationRatio(admin, 29); !errors.Is(err, ErrRatioOutOfRange) {
		t.Fatalf("low ratio err = %v, want ErrRatioOutOfRange", err)
	}
	if err := f.pool.SetCollateralizationRatio(admin, 101); !errors.Is(err, ErrRatioOutOfRange) {
		t.Fatalf("high ratio err = %v, want ErrRatioOutOfRange", err)
	}
	if err := f.pool.SetMaxUtilizationRate(admin, 49); !errors.Is(err, ErrRatioOutOfRange) {
		t.Fatalf("low utilization err = %v, want ErrRatioOutOfRange", err)
	}
	if err := f.pool.SetLockupPeriod(admin, maxLockupPeriod+time.Second, 14*24*time.Hour); !errors.Is(err, ErrLockupTooLong) {
		t.Fatalf("hedged lockup err = %v, want ErrLockupTooLong", err)
	}
	if err := f.pool.SetLockupPeriod(admin, 14*24*time.Hour, maxLockupPeriod+time.Second); !errors.Is(err, ErrLockupTooLong) {
		t.Fatalf("unhedged lockup err = %v, want ErrLockupTooLong", err)
	}
	if err := f.pool.SetLockupPeriod(admin, maxLockupPeriod, 14*24*time.Hour); err != nil {
		t.Fatalf("set lockup period: %v", err)
	}
	if err := f.pool.SetHedgePool(admin, common.Address{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero hedge pool err = %v, want ErrZeroAddress", err)
	}
	if err := f.pool.SetMaxUtilizationRate(admin, 100); err != nil {
		t.Fatalf("set max utilization: %v", err)
	}
	if err := f.pool.SetCollateralizationRatio(admin, 100); err != nil {
		t.Fatalf("set collateralization: %v", err)
	}

	// Full collateralization at full utilization writes notional one to one.
	f.provide(t, alice, eth(10), false)
	if _, err := f.pool.Sell(buyer, buyer, 24*time.Hour, new(big.Int).Add(eth(10), big.NewInt(1)), nil); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("err = %v, want ErrAmountTooLarge", err)
	}
	if _, err := f.pool.Sell(buyer, buyer, 24*time.Hour, eth(10), nil); err != nil {
		t.Fatalf("sell at ceiling: %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(7), true)
	f.provide(t, bob, eth(3), false)
	f.sell(t, 7*24*time.Hour, eth(1))

	snap := f.pool.Snapshot()
	sum1, err := Checksum(snap)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}

	restored := newFixture(t, Call)
	if err := restored.pool.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	sum2, err := Checksum(restored.pool.Snapshot())
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if sum1 != sum2 {
		t.Fatal("restored pool checksum diverges")
	}
	assertBig(t, "restored total", restored.pool.TotalBalance(), f.pool.TotalBalance())
	assertBig(t, "restored locked", restored.pool.LockedAmount(), f.pool.LockedAmount())
}

func TestChecksumDetectsDivergence(t *testing.T) {
	f := newFixture(t, Call)
	f.provide(t, alice, eth(10), false)
	snap := f.pool.Snapshot()
	sum1, err := Checksum(snap)
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	f.sell(t, 24*time.Hour, eth(1))
	sum2, err := Checksum(f.pool.Snapshot())
	if err != nil {
		t.Fatalf("checksum: %v", err)
	}
	if sum1 == sum2 {
		t.Fatal("checksum did not change after a sale")
	}
}

func TestRoundTripProviderKeepsPremium(t *testing.T) {
	f := newFixture(t, Call)
	aliceBefore := f.token.BalanceOf(alice)
	id := f.provide(t, alice, eth(10), false)
	optID := f.sell(t, 24*time.Hour, eth(1))

	f.advance(24 * time.Hour)
	if err := f.pool.Unlock(optID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	f.advance(29 * 24 * time.Hour)
	if _, err := f.pool.Withdraw(alice, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	gain := new(big.Int).Sub(f.token.BalanceOf(alice), aliceBefore)
	if gain.Sign() <= 0 {
		t.Fatalf("provider gain = %s, want positive premium income", gain)
	}
}
