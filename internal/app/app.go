// Package app wires the pools, the staking engine, and their supporting
// services (price feed, persistence, metrics, alerts) into one runnable
// daemon. The engines stay synchronous; everything scheduled lives here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"optionpool/internal/alerts"
	"optionpool/internal/asset"
	"optionpool/internal/auth"
	"optionpool/internal/config"
	"optionpool/internal/feed"
	"optionpool/internal/metrics"
	"optionpool/internal/oracle"
	"optionpool/internal/pool"
	"optionpool/internal/pricing"
	"optionpool/internal/registry"
	"optionpool/internal/staking"
	"optionpool/internal/state"
	"optionpool/internal/state/sqlite"
	"optionpool/internal/timescale"
)

type App struct {
	cfg   *config.Config
	log   *zap.Logger
	clock func() time.Time

	store     *sqlite.Store
	token     *asset.Token
	stake     *asset.Token
	priceFeed *oracle.Feed
	feedWS    *feed.Client
	auth      *auth.Table
	calc      *pricing.Calculator
	call      *poolHandle
	put       *poolHandle
	staking   *staking.Engine
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	timescale *timescale.Writer
}

// poolHandle keeps a pool together with its position registries so snapshot
// persistence can capture ownership alongside the ledger.
type poolHandle struct {
	name     string
	pool     *pool.Pool
	tranches *registry.Manager
	options  *registry.Manager
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:   cfg,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
		store: store,
	}
	now := func() time.Time { return a.clock() }

	a.token = asset.NewToken(cfg.Asset.Symbol, cfg.Asset.Decimals)
	a.stake = asset.NewToken(cfg.Asset.StakeSymbol, cfg.Asset.StakeDecimals)
	a.priceFeed = oracle.NewFeed(cfg.Oracle.Decimals)
	if cfg.Feed.URL != "" {
		a.feedWS = feed.New(cfg.Feed.URL, cfg.Feed.Symbol, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, a.priceFeed, log)
	}

	a.auth = auth.NewTable()
	admin := common.HexToAddress(cfg.Pools.Admin)
	a.auth.Grant(auth.RoleAdmin, admin)

	ivRate, err := config.ParseAmount(cfg.Pricing.ImpliedVolRate)
	if err != nil {
		return nil, err
	}
	a.calc, err = pricing.NewCalculator(ivRate, a.priceFeed, a.auth)
	if err != nil {
		return nil, err
	}
	if utilRate, err := config.ParseAmount(cfg.Pricing.UtilizationRate); err != nil {
		return nil, err
	} else if utilRate != nil {
		if err := a.calc.SetUtilizationRate(admin, utilRate); err != nil {
			return nil, err
		}
	}

	a.timescale, err = timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.EnabledValue() {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	} else {
		a.metrics = metrics.NewNoop()
	}
	a.alerts = alerts.NewTelegram(cfg.Telegram, log)

	largePayout, err := config.ParseAmount(cfg.Operator.LargePayoutAlert)
	if err != nil {
		return nil, err
	}

	stakingAddr := resolveAddress(cfg.Staking.Address, "optionpool/staking")
	lotPrice, err := config.ParseAmount(cfg.Staking.LotPrice)
	if err != nil {
		return nil, err
	}
	a.staking, err = staking.New(staking.Config{
		StakeToken:  a.stake,
		RewardToken: a.token,
		Address:     stakingAddr,
		LotPrice:    lotPrice,
		MaxSupply:   cfg.Staking.MaxSupply,
		Lockup:      cfg.Staking.Lockup,
		Events:      a.newRecorder("staking", largePayout),
		Now:         now,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	maxTotal, err := config.ParseAmount(cfg.Pools.MaxDepositTotal)
	if err != nil {
		return nil, err
	}
	maxHedged, err := config.ParseAmount(cfg.Pools.MaxDepositHedged)
	if err != nil {
		return nil, err
	}
	newPool := func(kind pool.Kind, addrCfg, label string) (*poolHandle, error) {
		rec := a.newRecorder(kind.String(), largePayout)
		tranches := registry.NewManager(a.auth)
		tranches.OnTransfer(rec.TrancheTransferred)
		options := registry.NewManager(a.auth)
		p, err := pool.New(pool.Config{
			Kind:                   kind,
			Token:                  a.token,
			Address:                resolveAddress(addrCfg, label),
			SettlementFeeRecipient: common.HexToAddress(cfg.Pools.SettlementFeeRecipient),
			HedgePool:              common.HexToAddress(cfg.Pools.HedgePool),
			Auth:                   a.auth,
			Oracle:                 a.priceFeed,
			Pricer:                 a.calc,
			Tranches:               tranches,
			Options:                options,
			Events:                 rec,
			Now:                    now,
			Log:                    log,
			LockupHedged:           cfg.Pools.LockupHedged,
			LockupUnhedged:         cfg.Pools.LockupUnhedged,
			MaxDepositTotal:        maxTotal,
			MaxDepositHedged:       maxHedged,
			CollateralizationRatio: cfg.Pools.CollateralizationRatio,
			MaxUtilizationRate:     cfg.Pools.MaxUtilizationRate,
			HedgeFeeRate:           cfg.Pools.HedgeFeeRate,
		})
		if err != nil {
			return nil, fmt.Errorf("%s pool: %w", label, err)
		}
		return &poolHandle{name: kind.String(), pool: p, tranches: tranches, options: options}, nil
	}
	if a.call, err = newPool(pool.Call, cfg.Pools.CallAddress, "optionpool/call"); err != nil {
		return nil, err
	}
	if a.put, err = newPool(pool.Put, cfg.Pools.PutAddress, "optionpool/put"); err != nil {
		return nil, err
	}

	if err := a.applyGenesis(); err != nil {
		return nil, err
	}
	return a, nil
}

// resolveAddress parses a configured hex address, deriving a stable one from
// the label when none is configured.
func resolveAddress(configured, label string) common.Address {
	if s := strings.TrimSpace(configured); s != "" {
		return common.HexToAddress(s)
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

func (a *App) applyGenesis() error {
	for _, entry := range a.cfg.Genesis {
		amount, err := config.ParseAmount(entry.Amount)
		if err != nil {
			return err
		}
		token := a.token
		if entry.Token != "" && strings.EqualFold(entry.Token, a.stake.Symbol()) {
			token = a.stake
		}
		if err := token.Mint(common.HexToAddress(entry.Account), amount); err != nil {
			return fmt.Errorf("genesis %s: %w", entry.Account, err)
		}
	}
	return nil
}

func (a *App) CallPool() *pool.Pool            { return a.call.pool }
func (a *App) PutPool() *pool.Pool             { return a.put.pool }
func (a *App) Staking() *staking.Engine        { return a.staking }
func (a *App) Token() *asset.Token             { return a.token }
func (a *App) StakeToken() *asset.Token        { return a.stake }
func (a *App) PriceFeed() *oracle.Feed         { return a.priceFeed }
func (a *App) Calculator() *pricing.Calculator { return a.calc }

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.timescale != nil {
		defer a.timescale.Close()
	}

	if err := a.restoreSnapshots(ctx); err != nil {
		return err
	}

	a.timescale.Start(ctx)
	if a.feedWS != nil {
		go func() {
			if err := a.feedWS.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("price feed stopped", zap.Error(err))
			}
		}()
	}
	if a.prom != nil {
		a.serveMetrics(ctx)
	}

	sweep := time.NewTicker(a.cfg.Operator.SweepInterval)
	defer sweep.Stop()
	rewards := time.NewTicker(a.cfg.Operator.RewardInterval)
	defer rewards.Stop()
	snapshots := time.NewTicker(a.cfg.Operator.SnapshotInterval)
	defer snapshots.Stop()

	a.log.Info("operator started",
		zap.Duration("sweep_interval", a.cfg.Operator.SweepInterval),
		zap.Duration("reward_interval", a.cfg.Operator.RewardInterval),
		zap.Duration("snapshot_interval", a.cfg.Operator.SnapshotInterval))

	for {
		select {
		case <-ctx.Done():
			// Best-effort final persist with a fresh deadline.
			persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.persistSnapshots(persistCtx)
			cancel()
			return ctx.Err()
		case <-sweep.C:
			a.sweepExpired(ctx)
		case <-rewards.C:
			a.pumpRewards(ctx)
		case <-snapshots.C:
			a.persistSnapshots(ctx)
			a.checkAlerts(ctx)
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func (a *App) restoreSnapshots(ctx context.Context) error {
	for _, h := range []*poolHandle{a.call, a.put} {
		record, ok, err := state.LoadPoolSnapshot(ctx, a.store, h.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := h.pool.Restore(record.Snapshot); err != nil {
			return fmt.Errorf("restore %s pool: %w", h.name, err)
		}
		// A ledger with open positions is unusable without their owners, so a
		// record written before ownership was persisted fails the restore.
		if len(record.Snapshot.Tranches) > 0 && len(record.Tranches.Positions) == 0 {
			return fmt.Errorf("restore %s pool: snapshot carries tranches but no owners", h.name)
		}
		if len(record.Snapshot.Options) > 0 && len(record.Options.Positions) == 0 {
			return fmt.Errorf("restore %s pool: snapshot carries options but no holders", h.name)
		}
		if err := h.tranches.Restore(record.Tranches); err != nil {
			return fmt.Errorf("restore %s tranches: %w", h.name, err)
		}
		if err := h.options.Restore(record.Options); err != nil {
			return fmt.Errorf("restore %s options: %w", h.name, err)
		}
		sum, err := pool.Checksum(h.pool.Snapshot())
		if err != nil {
			return err
		}
		if got := fmt.Sprintf("%x", sum); record.Checksum != "" && got != record.Checksum {
			return fmt.Errorf("restore %s pool: checksum mismatch: stored %s, restored %s", h.name, record.Checksum, got)
		}
		a.log.Info("pool restored", zap.String("pool", h.name), zap.String("checksum", record.Checksum))
	}
	for _, tok := range []*asset.Token{a.token, a.stake} {
		balances, ok, err := state.LoadAssetBalances(ctx, a.store, tok.Symbol())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := tok.Restore(balances); err != nil {
			return fmt.Errorf("restore %s balances: %w", tok.Symbol(), err)
		}
		a.log.Info("token balances restored", zap.String("symbol", tok.Symbol()), zap.Int("accounts", len(balances)))
	}
	snap, ok, err := state.LoadStakingSnapshot(ctx, a.store)
	if err != nil {
		return err
	}
	if ok {
		if err := a.staking.Restore(snap); err != nil {
			return fmt.Errorf("restore staking: %w", err)
		}
		a.log.Info("staking restored", zap.Uint64("lots", snap.LotCount))
	}
	return nil
}
