package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"option-scalp-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ExposureSnapshot is one hedging cycle's view of a symbol's book risk.
type ExposureSnapshot struct {
	Time        time.Time
	Symbol      string
	State       string
	Mode        string
	FairValue   float64
	Delta       float64
	Gamma       float64
	Theta       float64
	Threshold   float64
	Position    float64
	DeltaHedges int
	GammaCycles int
}

// HedgeFill is one executed hedge order or swap.
type HedgeFill struct {
	Time          time.Time
	Symbol        string
	Venue         string
	Side          string
	Price         float64
	Quantity      float64
	ClientOrderID string
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	exposures chan ExposureSnapshot
	fills     chan HedgeFill
	started   atomic.Bool
	dropExpo  atomic.Uint64
	dropFill  atomic.Uint64
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
		exposures: make(chan ExposureSnapshot, queueSize),
		fills:     make(chan HedgeFill, queueSize),
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

func (w *Writer) EnqueueExposure(snapshot ExposureSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.exposures <- snapshot:
		return
	default:
		if w.dropExpo.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale exposure queue full")
		}
	}
}

func (w *Writer) EnqueueFill(fill HedgeFill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
		return
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.exposures:
			w.writeExposure(ctx, snap)
		case fill := <-w.fills:
			w.writeFill(ctx, fill)
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
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		mode TEXT NOT NULL,
		fair_value DOUBLE PRECISION NOT NULL,
		delta DOUBLE PRECISION NOT NULL,
		gamma DOUBLE PRECISION NOT NULL,
		theta DOUBLE PRECISION NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		inventory DOUBLE PRECISION NOT NULL,
		delta_hedges INTEGER NOT NULL,
		gamma_cycles INTEGER NOT NULL
	)`, w.table("exposure_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		venue TEXT NOT NULL,
		side TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		client_order_id TEXT NOT NULL
	)`, w.table("hedge_fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("exposure_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale exposure_snapshots hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("hedge_fills"))); err != nil && w.log != nil {
		w.log.Warn("timescale hedge_fills hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeExposure(ctx context.Context, snap ExposureSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, state, mode, fair_value, delta, gamma, theta,
		threshold, inventory, delta_hedges, gamma_cycles
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	)`, w.table("exposure_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Symbol,
		snap.State,
		snap.Mode,
		snap.FairValue,
		snap.Delta,
		snap.Gamma,
		snap.Theta,
		snap.Threshold,
		snap.Position,
		snap.DeltaHedges,
		snap.GammaCycles,
	); err != nil && w.log != nil {
		w.log.Warn("timescale exposure insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, fill HedgeFill) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, venue, side, price, quantity, client_order_id
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7
	)`, w.table("hedge_fills"))
	if _, err := w.db.ExecContext(ctx, query,
		fill.Time,
		fill.Symbol,
		fill.Venue,
		fill.Side,
		fill.Price,
		fill.Quantity,
		fill.ClientOrderID,
	); err != nil && w.log != nil {
		w.log.Warn("timescale fill insert failed", zap.Error(err))
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
