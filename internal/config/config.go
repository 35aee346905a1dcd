package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig    `yaml:"log"`
	REST      RESTConfig       `yaml:"rest"`
	WS        WSConfig         `yaml:"ws"`
	State     StateConfig      `yaml:"state"`
	Oracle    OracleConfig     `yaml:"oracle"`
	Engine    EngineConfig     `yaml:"engine"`
	Symbols   []SymbolConfig   `yaml:"symbols"`
	Rates     map[string]Rates `yaml:"rates"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Telegram  TelegramConfig   `yaml:"telegram"`
	Timescale TimescaleConfig  `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	PerpURL       string        `yaml:"perp_url"`
	SpotURL       string        `yaml:"spot_url"`
	AggregatorURL string        `yaml:"aggregator_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type OracleSourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type OracleConfig struct {
	Sources           []OracleSourceConfig `yaml:"sources"`
	MaxBookSpread     float64              `yaml:"max_book_spread"`
	Retries           int                  `yaml:"retries"`
	RetrySleep        time.Duration        `yaml:"retry_sleep"`
	SlippageThreshold float64              `yaml:"slippage_threshold"`
}

type EngineConfig struct {
	RerunInterval     time.Duration `yaml:"rerun_interval"`
	DowntimeThreshold time.Duration `yaml:"downtime_threshold"`
	FundingThreshold  float64       `yaml:"funding_threshold"`
	RiskFreeRate      float64       `yaml:"risk_free_rate"`
	AggregatorGuesses int           `yaml:"aggregator_guesses"`
}

// Rates feeds the cost-of-carry forward: real rate = yield - inflation - storage.
type Rates struct {
	Yield     float64 `yaml:"yield"`
	Inflation float64 `yaml:"inflation"`
	Storage   float64 `yaml:"storage"`
}

// Mode selects which sub-cycles a symbol's engine runs.
type Mode string

const (
	ModeDeltaGamma Mode = "delta-gamma"
	ModeGammaOnly  Mode = "gamma-only"
	ModeBackOnly   Mode = "back-only"
)

type TreasuryPosition struct {
	Strike     float64   `yaml:"strike"`
	Expiration time.Time `yaml:"expiration"`
	OptionType string    `yaml:"option_type"`
	Quantity   float64   `yaml:"quantity"`
}

// SymbolConfig is the full per-symbol parameter set. It is built once at
// startup and passed by reference; no process-wide symbol-keyed lookups.
type SymbolConfig struct {
	Symbol               string             `yaml:"symbol"`
	BaseAsset            string             `yaml:"base_asset"`
	QuoteAsset           string             `yaml:"quote_asset"`
	ImpliedVol           float64            `yaml:"implied_vol"`
	MinOrderSize         float64            `yaml:"min_order_size"`
	TickSize             float64            `yaml:"tick_size"`
	DeltaOffset          float64            `yaml:"delta_offset"`
	ZScore               float64            `yaml:"z_score"`
	Mode                 Mode               `yaml:"mode"`
	MaxNotionalUSD       float64            `yaml:"max_notional_usd"`
	MaxSlippage          float64            `yaml:"max_slippage"`
	TWAPInterval         time.Duration      `yaml:"twap_interval"`
	ScalpWindow          time.Duration      `yaml:"scalp_window"`
	MaxDeltaHedges       int                `yaml:"max_delta_hedges"`
	GammaCycles          int                `yaml:"gamma_cycles"`
	GammaThresholdFactor float64            `yaml:"gamma_threshold_factor"`
	GammaCompletePct     float64            `yaml:"gamma_complete_pct"`
	Illiquid             bool               `yaml:"illiquid"`
	PinnedVenue          string             `yaml:"pinned_venue"`
	WhaleQuantity        float64            `yaml:"whale_quantity"`
	BackOrderMultiple    float64            `yaml:"back_order_multiple"`
	StrikeAdjustment     bool               `yaml:"strike_adjustment"`
	Treasury             []TreasuryPosition `yaml:"treasury"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/option-scalp-bot.db"
	}
	if cfg.Oracle.MaxBookSpread == 0 {
		cfg.Oracle.MaxBookSpread = 0.02
	}
	if cfg.Oracle.Retries == 0 {
		cfg.Oracle.Retries = 3
	}
	if cfg.Oracle.RetrySleep == 0 {
		cfg.Oracle.RetrySleep = 500 * time.Millisecond
	}
	if cfg.Oracle.SlippageThreshold == 0 {
		cfg.Oracle.SlippageThreshold = 0.01
	}
	if cfg.Engine.RerunInterval == 0 {
		cfg.Engine.RerunInterval = 30 * time.Second
	}
	if cfg.Engine.DowntimeThreshold == 0 {
		cfg.Engine.DowntimeThreshold = 2 * time.Minute
	}
	if cfg.Engine.AggregatorGuesses == 0 {
		cfg.Engine.AggregatorGuesses = 5
	}
	for i := range cfg.Symbols {
		applySymbolDefaults(&cfg.Symbols[i])
	}
}

func applySymbolDefaults(sym *SymbolConfig) {
	if sym.QuoteAsset == "" {
		sym.QuoteAsset = "USDC"
	}
	if sym.BaseAsset == "" {
		sym.BaseAsset = sym.Symbol
	}
	if sym.ZScore == 0 {
		sym.ZScore = 1.282
	}
	if sym.Mode == "" {
		sym.Mode = ModeDeltaGamma
	}
	if sym.TWAPInterval == 0 {
		sym.TWAPInterval = 15 * time.Second
	}
	if sym.ScalpWindow == 0 {
		sym.ScalpWindow = 600 * time.Second
	}
	if sym.MaxDeltaHedges == 0 {
		sym.MaxDeltaHedges = 4
	}
	if sym.GammaCycles == 0 {
		sym.GammaCycles = 10
	}
	if sym.GammaThresholdFactor == 0 {
		sym.GammaThresholdFactor = 1
	}
	if sym.GammaCompletePct == 0 {
		sym.GammaCompletePct = 0.9
	}
	if sym.BackOrderMultiple == 0 {
		sym.BackOrderMultiple = 2
	}
}

func validate(cfg *Config) error {
	if len(cfg.Symbols) == 0 {
		return errors.New("at least one symbol is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		if sym.Symbol == "" {
			return errors.New("symbol name is required")
		}
		if seen[sym.Symbol] {
			return fmt.Errorf("duplicate symbol %s", sym.Symbol)
		}
		seen[sym.Symbol] = true
		if sym.ImpliedVol <= 0 {
			return fmt.Errorf("%s: implied_vol must be > 0", sym.Symbol)
		}
		if sym.MinOrderSize <= 0 {
			return fmt.Errorf("%s: min_order_size must be > 0", sym.Symbol)
		}
		if sym.TickSize <= 0 {
			return fmt.Errorf("%s: tick_size must be > 0", sym.Symbol)
		}
		if sym.MaxNotionalUSD <= 0 {
			return fmt.Errorf("%s: max_notional_usd must be > 0", sym.Symbol)
		}
		if sym.GammaCompletePct <= 0 || sym.GammaCompletePct > 1 {
			return fmt.Errorf("%s: gamma_complete_pct must be in (0, 1]", sym.Symbol)
		}
		switch sym.Mode {
		case ModeDeltaGamma, ModeGammaOnly, ModeBackOnly:
		default:
			return fmt.Errorf("%s: unknown mode %q", sym.Symbol, sym.Mode)
		}
		switch sym.PinnedVenue {
		case "", "perp", "spot":
		default:
			return fmt.Errorf("%s: pinned_venue must be perp or spot", sym.Symbol)
		}
	}
	return nil
}

// Symbol returns the config block for one symbol.
func (c *Config) Symbol(name string) (SymbolConfig, bool) {
	for _, sym := range c.Symbols {
		if sym.Symbol == name {
			return sym, true
		}
	}
	return SymbolConfig{}, false
}
