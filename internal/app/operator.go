package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"optionpool/internal/asset"
	"optionpool/internal/pool"
	"optionpool/internal/staking"
	"optionpool/internal/state"
	"optionpool/internal/timescale"
)

// eachPool iterates the pool handles in a fixed order.
func (a *App) eachPool(fn func(h *poolHandle)) {
	fn(a.call)
	fn(a.put)
}

// sweepExpired unlocks the collateral of every option past its expiry.
func (a *App) sweepExpired(ctx context.Context) {
	a.eachPool(func(h *poolHandle) {
		for _, id := range h.pool.ExpiredOptionIDs() {
			if ctx.Err() != nil {
				return
			}
			if err := h.pool.Unlock(id); err != nil {
				a.log.Warn("unlock failed",
					zap.String("pool", h.name),
					zap.Uint64("option_id", id),
					zap.Error(err))
				continue
			}
			a.log.Info("option expired",
				zap.String("pool", h.name),
				zap.Uint64("option_id", id))
		}
	})
}

// pumpRewards pushes any settlement fees that landed on the staking address
// out to the stakers.
func (a *App) pumpRewards(ctx context.Context) {
	amount, err := a.staking.DistributeUnrealizedRewards()
	if err != nil {
		if !errors.Is(err, staking.ErrZeroProfit) {
			a.log.Warn("reward distribution failed", zap.Error(err))
		}
		return
	}
	if amount.Sign() > 0 {
		a.log.Info("rewards distributed", zap.String("amount", amount.String()))
	}
}

func (a *App) persistSnapshots(ctx context.Context) {
	a.eachPool(func(h *poolHandle) {
		snap := h.pool.Snapshot()
		sum, err := pool.Checksum(snap)
		if err != nil {
			a.log.Error("pool checksum failed", zap.String("pool", h.name), zap.Error(err))
			return
		}
		checksum := fmt.Sprintf("%x", sum)
		record := state.PoolRecord{
			Snapshot: snap,
			Tranches: h.tranches.Snapshot(),
			Options:  h.options.Snapshot(),
			Checksum: checksum,
		}
		if err := state.SavePoolSnapshot(ctx, a.store, h.name, record); err != nil {
			a.log.Error("pool snapshot save failed", zap.String("pool", h.name), zap.Error(err))
			return
		}
		a.timescale.EnqueueSnapshot(timescale.PoolSnapshot{
			Time:            a.clock(),
			Pool:            h.name,
			HedgedBalance:   snap.HedgedBalance,
			UnhedgedBalance: snap.UnhedgedBalance,
			LockedAmount:    snap.LockedAmount,
			Checksum:        checksum,
		})
	})
	if err := state.SaveStakingSnapshot(ctx, a.store, a.staking.Snapshot()); err != nil {
		a.log.Error("staking snapshot save failed", zap.Error(err))
	}
	for _, tok := range []*asset.Token{a.token, a.stake} {
		if err := state.SaveAssetBalances(ctx, a.store, tok.Symbol(), tok.Snapshot()); err != nil {
			a.log.Error("balance snapshot save failed", zap.String("symbol", tok.Symbol()), zap.Error(err))
		}
	}

	total := new(big.Int).Add(a.call.pool.TotalBalance(), a.put.pool.TotalBalance())
	locked := new(big.Int).Add(a.call.pool.LockedAmount(), a.put.pool.LockedAmount())
	a.metrics.TotalBalance.Set(a.scaled(total))
	a.metrics.LockedBalance.Set(a.scaled(locked))
}

// scaled converts a raw token amount to whole units for gauges. Precision
// loss is acceptable for dashboards.
func (a *App) scaled(amount *big.Int) float64 {
	scale := new(big.Float).SetFloat64(1)
	for i := uint8(0); i < a.cfg.Asset.Decimals; i++ {
		scale.Mul(scale, big.NewFloat(10))
	}
	v, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), scale).Float64()
	return v
}

func (a *App) checkAlerts(ctx context.Context) {
	a.eachPool(func(h *poolHandle) {
		total := h.pool.TotalBalance()
		if total.Sign() == 0 {
			return
		}
		pct := new(big.Int).Mul(h.pool.LockedAmount(), big.NewInt(100))
		pct.Div(pct, total)
		if pct.Uint64() >= a.cfg.Operator.UtilizationAlertPct {
			a.sendAlert(ctx, a.alerts.FormatUtilization(h.name, pct.Uint64()))
		}
	})

	if a.cfg.Oracle.MaxAge > 0 {
		updatedAt := a.priceFeed.UpdatedAt()
		if age := a.clock().Sub(updatedAt); !updatedAt.IsZero() && age > a.cfg.Oracle.MaxAge {
			a.sendAlert(ctx, a.alerts.FormatStaleFeed(updatedAt, age))
		}
	}
}

func (a *App) sendAlert(ctx context.Context, message string) {
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert delivery failed", zap.Error(err))
	}
}
