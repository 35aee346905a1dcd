package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"option-scalp-bot/internal/config"
	"option-scalp-bot/internal/greeks"
	"option-scalp-bot/internal/logging"
	"option-scalp-bot/internal/oracle"
	"option-scalp-bot/internal/venue"
	"option-scalp-bot/internal/venue/perp"
	"option-scalp-bot/internal/venue/rest"
	"option-scalp-bot/internal/venue/spot"
	"option-scalp-bot/internal/venue/swap"
)

const (
	defaultVerifyNotional = 5.0
	defaultSlippageBps    = 20
	defaultRESTTimeout    = 10 * time.Second
	defaultVerifyEnvFile  = ".env"
	secondsPerYear        = 365.0 * 24 * 3600
)

func main() {
	configPath := flag.String("config", "config.yaml", "config path for REST and symbol settings")
	dryRun := flag.Bool("dry-run", false, "print the derived hedge order and exit")
	deposits := flag.Bool("deposits", false, "fetch and print the venue's deposit book and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	timeout := cfg.REST.Timeout
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	perpREST := rest.New(cfg.REST.PerpURL, timeout, log)

	symbol := strings.TrimSpace(os.Getenv("SCALP_VERIFY_SYMBOL"))
	if symbol == "" && len(cfg.Symbols) > 0 {
		symbol = cfg.Symbols[0].Symbol
	}
	if symbol == "" {
		fatal(errors.New("SCALP_VERIFY_SYMBOL is required"))
	}
	var symCfg config.SymbolConfig
	found := false
	for _, sym := range cfg.Symbols {
		if sym.Symbol == symbol {
			symCfg = sym
			found = true
			break
		}
	}
	if !found {
		fatal(fmt.Errorf("symbol %s not present in config", symbol))
	}

	ctx := context.Background()
	if *deposits {
		runDeposits(ctx, perpREST, symbol)
		return
	}

	privateKey := strings.TrimSpace(os.Getenv("SCALP_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("SCALP_PRIVATE_KEY is required"))
	}
	signer, err := perp.NewSigner(privateKey, "option-scalp")
	if err != nil {
		fatal(err)
	}
	if wallet := strings.TrimSpace(os.Getenv("SCALP_WALLET_ADDRESS")); wallet != "" {
		if !strings.EqualFold(wallet, signer.Address().Hex()) {
			fatal(fmt.Errorf("wallet address does not match private key: got %s expected %s", wallet, signer.Address().Hex()))
		}
	}

	perpClient := perp.New(perpREST, signer, log)
	spotClient := spot.New(rest.New(cfg.REST.SpotURL, timeout, log), strings.TrimSpace(os.Getenv("SCALP_SPOT_API_KEY")), log)
	aggClient := swap.New(rest.New(cfg.REST.AggregatorURL, timeout, log), log)

	if err := perpClient.Refresh(ctx, []string{symbol}); err != nil {
		log.Warn("perp market refresh failed: " + err.Error())
	}

	sources := []venue.PriceSource{}
	for _, src := range cfg.Oracle.Sources {
		sources = append(sources, oracle.NewRESTSource(src.Name, rest.New(src.URL, timeout, log), 30*time.Second, log))
	}
	sources = append(sources, perpClient)
	resolver := oracle.New(cfg.Oracle, sources, spotClient, aggClient, log)

	fairValue, ok := resolver.Resolve(ctx, symCfg)
	if !ok {
		fatal(fmt.Errorf("no fair value available for %s", symbol))
	}

	baseRates := cfg.Rates[symCfg.BaseAsset]
	quoteRates := cfg.Rates[symCfg.QuoteAsset]
	calc := greeks.NewCalculator(
		symCfg.ImpliedVol,
		cfg.Engine.RiskFreeRate,
		greeks.RealRate(baseRates.Yield, baseRates.Inflation, baseRates.Storage),
		greeks.RealRate(quoteRates.Yield, quoteRates.Inflation, quoteRates.Storage),
	)
	positions := treasuryPositions(symCfg)
	exposure := calc.Evaluate(positions, fairValue, time.Now())

	spread := stdDevSpread(symCfg)
	threshold := math.Abs(exposure.Gamma) * spread * fairValue * symCfg.GammaThresholdFactor
	if threshold < symCfg.MinOrderSize {
		threshold = symCfg.MinOrderSize
	}

	fmt.Printf("symbol=%s fair_value=%.6f delta=%.4f gamma=%.4f theta=%.4f spread=%.6f threshold=%.4f\n",
		symbol, fairValue, exposure.Delta, exposure.Gamma, exposure.Theta, spread, threshold)

	if math.Abs(exposure.Delta) < threshold {
		fmt.Println("delta within threshold, no hedge order required")
		return
	}

	notional := defaultVerifyNotional
	if envVal, ok, err := floatEnv("SCALP_VERIFY_NOTIONAL"); err != nil {
		fatal(err)
	} else if ok {
		notional = envVal
	}
	slippageBps := defaultSlippageBps
	if envVal, ok, err := intEnv("SCALP_VERIFY_SLIPPAGE_BPS"); err != nil {
		fatal(err)
	} else if ok {
		slippageBps = envVal
	}

	side := venue.SideSell
	slip := 1 - float64(slippageBps)/10000.0
	if exposure.Delta < 0 {
		side = venue.SideBuy
		slip = 1 + float64(slippageBps)/10000.0
	}
	limitPrice := roundToTick(fairValue*slip, symCfg.TickSize)
	if limitPrice <= 0 {
		fatal(errors.New("limit price <= 0 after tick rounding"))
	}
	size := roundToStep(notional/limitPrice, symCfg.MinOrderSize)
	if size <= 0 {
		fatal(errors.New("calculated size <= 0 after rounding"))
	}

	order := venue.Order{
		Symbol:   symbol,
		Side:     side,
		Venue:    venue.KindPerp,
		Price:    limitPrice,
		Quantity: size,
	}
	fmt.Printf("verify order: symbol=%s side=%s size=%.6f limit_price=%.6f notional=%.6f\n",
		symbol, side, size, limitPrice, size*limitPrice)
	if *dryRun {
		return
	}

	if !perpClient.HasMarket(symbol) {
		fatal(fmt.Errorf("perp market not listed for %s", symbol))
	}
	orderID, err := perpClient.PlaceOrder(ctx, order)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("exchange response: order_id=%s\n", orderID)
}

func runDeposits(ctx context.Context, client *rest.Client, symbol string) {
	req := map[string]any{
		"type":   "deposits",
		"symbol": symbol,
	}
	payload, err := client.PostAny(ctx, "/info", req)
	if err != nil {
		fatal(err)
	}
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Printf("deposits response:\n%s\n", string(pretty))
}

func treasuryPositions(symCfg config.SymbolConfig) []greeks.Position {
	positions := make([]greeks.Position, 0, len(symCfg.Treasury))
	for _, pos := range symCfg.Treasury {
		positions = append(positions, greeks.Position{
			Symbol:     symCfg.Symbol,
			Expiration: pos.Expiration,
			Strike:     pos.Strike,
			Type:       greeks.OptionType(pos.OptionType),
			Quantity:   pos.Quantity,
		})
	}
	return positions
}

func stdDevSpread(symCfg config.SymbolConfig) float64 {
	window := symCfg.ScalpWindow.Seconds()
	if window <= 0 {
		return 0
	}
	return symCfg.ImpliedVol / math.Sqrt(secondsPerYear/window) * symCfg.ZScore
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func intEnv(key string) (int, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func roundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}

func roundToTick(value, tick float64) float64 {
	if tick <= 0 {
		return value
	}
	rounded := math.Round(value/tick) * tick
	factor := math.Round(1 / tick)
	if factor > 0 && math.Abs(factor*tick-1) < 1e-9 {
		rounded = math.Round(rounded*factor) / factor
	}
	return rounded
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
