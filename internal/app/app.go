package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"option-scalp-bot/internal/alerts"
	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/engine"
	"option-scalp-bot/internal/exec"
	"option-scalp-bot/internal/fills"
	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/logging"
	"option-scalp-bot/internal/metrics"
	"option-scalp-bot/internal/oracle"
	"option-scalp-bot/internal/router"
	"option-scalp-bot/internal/state/sqlite"
	"option-scalp-bot/internal/timescale"
	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/perp"
	"option-scalp-bot/internal/venue/rest"
	"option-scalp-bot/internal/venue/spot"
	"option-scalp-bot/internal/venue/swap"
	"option-scalp-bot/internal/venue/ws"
)

// App wires the venue adapters, oracle, and per-symbol scalpers and
// runs them until the context ends.
type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	perp     *perp.Client
	spot     *spot.Client
	agg      *swap.Client
	push     *oracle.PushSource
	prom     *metrics.Prometheus
	recorder *timescale.Writer

	workers []*worker
}

// worker is one symbol's scalper plus its private fill tracker.
type worker struct {
	symbol  string
	scalper *engine.Scalper
	tracker *fills.Tracker
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	privateKey := strings.TrimSpace(os.Getenv("SCALP_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("SCALP_PRIVATE_KEY is required")
	}
	signer, err := perp.NewSigner(privateKey, "option-scalp")
	if err != nil {
		return nil, err
	}
	spotAPIKey := strings.TrimSpace(os.Getenv("SCALP_SPOT_API_KEY"))
	if spotAPIKey == "" {
		return nil, errors.New("SCALP_SPOT_API_KEY is required")
	}

	perpClient := perp.New(rest.New(cfg.REST.PerpURL, cfg.REST.Timeout, log), signer, log)
	spotClient := spot.New(rest.New(cfg.REST.SpotURL, cfg.REST.Timeout, log), spotAPIKey, log)
	aggClient := swap.New(rest.New(cfg.REST.AggregatorURL, cfg.REST.Timeout, log), log)

	pushWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	push := oracle.NewPushSource("push", pushWS, 30*time.Second, log)
	sources := []venue.PriceSource{push}
	for _, src := range cfg.Oracle.Sources {
		sources = append(sources, oracle.NewRESTSource(src.Name, rest.New(src.URL, cfg.REST.Timeout, log), 30*time.Second, log))
	}
	// The perp's own fair price closes the preference order.
	sources = append(sources, perpClient)
	resolver := oracle.New(cfg.Oracle, sources, spotClient, aggClient, log)

	pick := router.New(cfg.Engine, perpClient, aggClient, log)
	executor := exec.New(perpClient, spotClient, store, log)
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	recorder, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale init: %w", err)
	}

	feed := newDepositFeed(rest.New(cfg.REST.PerpURL, cfg.REST.Timeout, log), log)

	app := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		perp:     perpClient,
		spot:     spotClient,
		agg:      aggClient,
		push:     push,
		prom:     prom,
		recorder: recorder,
	}
	for _, sym := range cfg.Symbols {
		baseRates := cfg.Rates[sym.BaseAsset]
		quoteRates := cfg.Rates[sym.QuoteAsset]
		calc := greeks.NewCalculator(
			sym.ImpliedVol,
			cfg.Engine.RiskFreeRate,
			greeks.RealRate(baseRates.Yield, baseRates.Inflation, baseRates.Storage),
			greeks.RealRate(quoteRates.Yield, quoteRates.Inflation, quoteRates.Storage),
		)
		fillWS := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		tracker := fills.New(ws.NewFillFeed(fillWS, log), cfg.WS.ReconnectDelay, logging.ForSymbol(log, sym.Symbol))
		scalper := engine.NewScalper(sym, cfg.Engine, engine.Deps{
			Calc:     calc,
			Oracle:   resolver,
			Router:   pick,
			Exec:     executor,
			Tracker:  tracker,
			Perp:     perpClient,
			Spot:     spotClient,
			Agg:      aggClient,
			Feed:     feed,
			Store:    store,
			Metrics:  m,
			Alerts:   alertsClient,
			Recorder: recorder,
			Log:      logging.ForSymbol(log, sym.Symbol),
		})
		app.workers = append(app.workers, &worker{
			symbol:  sym.Symbol,
			scalper: scalper,
			tracker: tracker,
		})
	}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.recorder.Close()

	symbols := make([]string, 0, len(a.cfg.Symbols))
	assets := make([]string, 0, len(a.cfg.Symbols))
	for _, sym := range a.cfg.Symbols {
		symbols = append(symbols, sym.Symbol)
		assets = append(assets, sym.BaseAsset)
	}
	if err := a.perp.Refresh(ctx, symbols); err != nil {
		a.log.Warn("perp market refresh failed", zap.Error(err))
	}
	a.reconcile(ctx)

	a.recorder.Start(ctx)
	go func() {
		if err := a.push.Run(ctx, assets); err != nil && ctx.Err() == nil {
			a.log.Warn("push price source stopped", zap.Error(err))
		}
	}()
	for _, w := range a.workers {
		w.tracker.Subscribe(ctx, w.symbol)
	}
	a.serveMetrics(ctx)

	interval := a.cfg.Engine.RerunInterval
	if interval <= 0 {
		interval = time.Minute
	}
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.scalper.RunCycle(ctx)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					w.scalper.RunCycle(ctx)
				}
			}
		}(w)
	}
	wg.Wait()
	return ctx.Err()
}

// reconcile clears anything resting from a previous run so the first
// cycle starts from a clean book.
func (a *App) reconcile(ctx context.Context) {
	for _, sym := range a.cfg.Symbols {
		if a.perp.HasMarket(sym.Symbol) {
			if err := a.perp.CancelAll(ctx, sym.Symbol); err != nil {
				a.log.Warn("startup perp cancel failed", zap.String("symbol", sym.Symbol), zap.Error(err))
			}
		}
		if err := a.spot.CancelAll(ctx, sym.Symbol); err != nil {
			a.log.Warn("startup spot cancel failed", zap.String("symbol", sym.Symbol), zap.Error(err))
		}
		if err := a.spot.SettleFunds(ctx, sym.Symbol); err != nil {
			a.log.Warn("startup settle failed", zap.String("symbol", sym.Symbol), zap.Error(err))
		}
		if open, err := a.spot.OpenOrders(ctx, sym.Symbol); err == nil && len(open) > 0 {
			a.log.Warn("orders still resting after startup cancel",
				zap.String("symbol", sym.Symbol), zap.Int("count", len(open)))
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	if a.prom == nil || a.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
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
	a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Listen))
}
