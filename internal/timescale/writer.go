// Package timescale streams option lifecycle events and pool balance
// snapshots into TimescaleDB hypertables. Writes are asynchronous and lossy
// under backpressure: a full queue drops the row rather than blocking the
// engines.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"optionpool/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// OptionEvent is one lifecycle transition. Amounts are decimal strings so
// 18-decimal values survive unscathed as NUMERIC.
type OptionEvent struct {
	Time     time.Time
	Pool     string
	Event    string
	OptionID uint64
	Amount   string
	Premium  string
	Profit   string
}

type PoolSnapshot struct {
	Time            time.Time
	Pool            string
	HedgedBalance   string
	UnhedgedBalance string
	LockedAmount    string
	Checksum        string
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	events    chan OptionEvent
	snapshots chan PoolSnapshot
	started   atomic.Bool
	dropEvent atomic.Uint64
	dropSnap  atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:        db,
		log:       log,
		schema:    schema,
		events:    make(chan OptionEvent, queueSize),
		snapshots: make(chan PoolSnapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueEvent(event OptionEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
		return
	default:
		if w.dropEvent.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale event queue full")
		}
	}
}

func (w *Writer) EnqueueSnapshot(snapshot PoolSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.snapshots <- snapshot:
		return
	default:
		if w.dropSnap.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale snapshot queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.events:
			w.writeEvent(ctx, event)
		case snap := <-w.snapshots:
			w.writeSnapshot(ctx, snap)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pool TEXT NOT NULL,
		event TEXT NOT NULL,
		option_id BIGINT NOT NULL,
		amount NUMERIC NOT NULL DEFAULT 0,
		premium NUMERIC NOT NULL DEFAULT 0,
		profit NUMERIC NOT NULL DEFAULT 0
	)`, w.table("option_events"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pool TEXT NOT NULL,
		hedged_balance NUMERIC NOT NULL,
		unhedged_balance NUMERIC NOT NULL,
		locked_amount NUMERIC NOT NULL,
		checksum TEXT NOT NULL
	)`, w.table("pool_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("option_events"))); err != nil && w.log != nil {
		w.log.Warn("timescale option_events hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("pool_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale pool_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeEvent(ctx context.Context, event OptionEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pool, event, option_id, amount, premium, profit
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`, w.table("option_events"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Pool,
		event.Event,
		int64(event.OptionID),
		numericOrZero(event.Amount),
		numericOrZero(event.Premium),
		numericOrZero(event.Profit),
	); err != nil && w.log != nil {
		w.log.Warn("timescale event insert failed", zap.Error(err))
	}
}

func (w *Writer) writeSnapshot(ctx context.Context, snap PoolSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pool, hedged_balance, unhedged_balance, locked_amount, checksum
	) VALUES ($1,$2,$3,$4,$5,$6)`, w.table("pool_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Pool,
		numericOrZero(snap.HedgedBalance),
		numericOrZero(snap.UnhedgedBalance),
		numericOrZero(snap.LockedAmount),
		snap.Checksum,
	); err != nil && w.log != nil {
		w.log.Warn("timescale snapshot insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}

func numericOrZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}
