package app

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"optionpool/internal/alerts"
	"optionpool/internal/metrics"
	"optionpool/internal/timescale"
)

const alertTimeout = 10 * time.Second

// recorder fans pool and staking events out to metrics, the timescale
// writer, and telegram alerts. It never calls back into the engines.
type recorder struct {
	pool        string
	log         *zap.Logger
	metrics     *metrics.Metrics
	timescale   *timescale.Writer
	alerts      *alerts.Telegram
	largePayout *big.Int
	now         func() time.Time
}

func (a *App) newRecorder(pool string, largePayout *big.Int) *recorder {
	return &recorder{
		pool:        pool,
		log:         a.log.Named(pool),
		metrics:     a.metrics,
		timescale:   a.timescale,
		alerts:      a.alerts,
		largePayout: largePayout,
		now:         func() time.Time { return a.clock() },
	}
}

func (r *recorder) Provided(owner common.Address, trancheID uint64, amount, share *big.Int, hedged bool) {
	r.metrics.Provides.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:     r.now(),
		Pool:     r.pool,
		Event:    "provided",
		OptionID: trancheID,
		Amount:   amount.String(),
	})
}

func (r *recorder) Withdrawn(owner common.Address, trancheID uint64, amount *big.Int) {
	r.metrics.Withdrawals.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:     r.now(),
		Pool:     r.pool,
		Event:    "withdrawn",
		OptionID: trancheID,
		Amount:   amount.String(),
	})
}

func (r *recorder) Acquired(holder common.Address, optionID uint64, settlementFee, premium *big.Int) {
	r.metrics.OptionsSold.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:     r.now(),
		Pool:     r.pool,
		Event:    "acquired",
		OptionID: optionID,
		Premium:  premium.String(),
	})
}

func (r *recorder) Exercised(optionID uint64, profit *big.Int) {
	r.metrics.OptionsExercised.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:     r.now(),
		Pool:     r.pool,
		Event:    "exercised",
		OptionID: optionID,
		Profit:   profit.String(),
	})
	if r.largePayout != nil && profit.Cmp(r.largePayout) >= 0 {
		r.alert(r.alerts.FormatLargePayout(r.pool, optionID, profit))
	}
}

func (r *recorder) Expired(optionID uint64) {
	r.metrics.OptionsExpired.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:     r.now(),
		Pool:     r.pool,
		Event:    "expired",
		OptionID: optionID,
	})
}

func (r *recorder) TrancheTransferred(from, to common.Address, trancheID uint64) {
	r.log.Info("tranche transferred",
		zap.Uint64("tranche_id", trancheID),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()))
}

func (r *recorder) Distributed(amount *big.Int) {
	r.metrics.Distributions.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:   r.now(),
		Pool:   r.pool,
		Event:  "rewards_distributed",
		Amount: amount.String(),
	})
}

func (r *recorder) Claimed(account common.Address, amount *big.Int) {
	r.metrics.Claims.Inc()
	r.timescale.EnqueueEvent(timescale.OptionEvent{
		Time:   r.now(),
		Pool:   r.pool,
		Event:  "rewards_claimed",
		Amount: amount.String(),
	})
}

func (r *recorder) alert(message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := r.alerts.Send(ctx, message); err != nil {
			r.log.Warn("alert delivery failed", zap.Error(err))
		}
	}()
}
