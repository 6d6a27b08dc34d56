package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Feed      FeedConfig      `yaml:"feed"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Asset     AssetConfig     `yaml:"asset"`
	Pools     PoolsConfig     `yaml:"pools"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Staking   StakingConfig   `yaml:"staking"`
	Operator  OperatorConfig  `yaml:"operator"`
	State     StateConfig     `yaml:"state"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Genesis   []GenesisEntry  `yaml:"genesis"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type FeedConfig struct {
	URL            string        `yaml:"url"`
	Symbol         string        `yaml:"symbol"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type OracleConfig struct {
	Decimals uint8 `yaml:"decimals"`
	// MaxAge is how stale the latest price may be before the operator alerts.
	MaxAge time.Duration `yaml:"max_age"`
}

type AssetConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	// StakeSymbol is the governance token staked for profit share.
	StakeSymbol   string `yaml:"stake_symbol"`
	StakeDecimals uint8  `yaml:"stake_decimals"`
}

type PoolsConfig struct {
	Admin                  string        `yaml:"admin"`
	CallAddress            string        `yaml:"call_address"`
	PutAddress             string        `yaml:"put_address"`
	SettlementFeeRecipient string        `yaml:"settlement_fee_recipient"`
	HedgePool              string        `yaml:"hedge_pool"`
	LockupHedged           time.Duration `yaml:"lockup_hedged"`
	LockupUnhedged         time.Duration `yaml:"lockup_unhedged"`
	CollateralizationRatio uint64        `yaml:"collateralization_ratio"`
	MaxUtilizationRate     uint64        `yaml:"max_utilization_rate"`
	HedgeFeeRate           uint64        `yaml:"hedge_fee_rate"`
	MaxDepositTotal        string        `yaml:"max_deposit_total"`
	MaxDepositHedged       string        `yaml:"max_deposit_hedged"`
}

type PricingConfig struct {
	// ImpliedVolRate is a decimal integer in the calculator's fixed-point
	// scale.
	ImpliedVolRate  string `yaml:"implied_vol_rate"`
	UtilizationRate string `yaml:"utilization_rate"`
}

type StakingConfig struct {
	Address   string        `yaml:"address"`
	LotPrice  string        `yaml:"lot_price"`
	MaxSupply uint64        `yaml:"max_supply"`
	Lockup    time.Duration `yaml:"lockup"`
}

type OperatorConfig struct {
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	RewardInterval   time.Duration `yaml:"reward_interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// UtilizationAlertPct triggers an alert when locked collateral crosses
	// this share of the total balance.
	UtilizationAlertPct uint64 `yaml:"utilization_alert_pct"`
	// LargePayoutAlert is a decimal integer in asset units; exercises paying
	// at least this much raise an alert. Empty disables the alert.
	LargePayoutAlert string `yaml:"large_payout_alert"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
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

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled == nil || *m.Enabled
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

// GenesisEntry seeds a token balance at startup, e.g. the hedge pool float
// or test depositors.
type GenesisEntry struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
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
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Oracle.Decimals == 0 {
		cfg.Oracle.Decimals = 8
	}
	if cfg.Oracle.MaxAge == 0 {
		cfg.Oracle.MaxAge = 5 * time.Minute
	}
	if cfg.Asset.Symbol == "" {
		cfg.Asset.Symbol = "WETH"
	}
	if cfg.Asset.Decimals == 0 {
		cfg.Asset.Decimals = 18
	}
	if cfg.Asset.StakeSymbol == "" {
		cfg.Asset.StakeSymbol = "OPGOV"
	}
	if cfg.Asset.StakeDecimals == 0 {
		cfg.Asset.StakeDecimals = 18
	}
	if cfg.Pools.LockupHedged == 0 {
		cfg.Pools.LockupHedged = 60 * 24 * time.Hour
	}
	if cfg.Pools.LockupUnhedged == 0 {
		cfg.Pools.LockupUnhedged = 30 * 24 * time.Hour
	}
	if cfg.Pools.CollateralizationRatio == 0 {
		cfg.Pools.CollateralizationRatio = 50
	}
	if cfg.Pools.MaxUtilizationRate == 0 {
		cfg.Pools.MaxUtilizationRate = 80
	}
	if cfg.Pools.HedgeFeeRate == 0 {
		cfg.Pools.HedgeFeeRate = 80
	}
	if cfg.Pricing.ImpliedVolRate == "" {
		cfg.Pricing.ImpliedVolRate = "10000000000000"
	}
	if cfg.Staking.MaxSupply == 0 {
		cfg.Staking.MaxSupply = 1500
	}
	if cfg.Staking.Lockup == 0 {
		cfg.Staking.Lockup = 24 * time.Hour
	}
	if cfg.Operator.SweepInterval == 0 {
		cfg.Operator.SweepInterval = 30 * time.Second
	}
	if cfg.Operator.RewardInterval == 0 {
		cfg.Operator.RewardInterval = time.Minute
	}
	if cfg.Operator.SnapshotInterval == 0 {
		cfg.Operator.SnapshotInterval = time.Minute
	}
	if cfg.Operator.UtilizationAlertPct == 0 {
		cfg.Operator.UtilizationAlertPct = 70
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/optionpool.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Pools.Admin == "" {
		return errors.New("pools.admin is required")
	}
	if cfg.Pools.SettlementFeeRecipient == "" {
		return errors.New("pools.settlement_fee_recipient is required")
	}
	if cfg.Pools.CollateralizationRatio < 30 || cfg.Pools.CollateralizationRatio > 100 {
		return errors.New("pools.collateralization_ratio must be within [30, 100]")
	}
	if cfg.Pools.MaxUtilizationRate < 50 || cfg.Pools.MaxUtilizationRate > 100 {
		return errors.New("pools.max_utilization_rate must be within [50, 100]")
	}
	if cfg.Pools.HedgeFeeRate > 100 {
		return errors.New("pools.hedge_fee_rate must be within [0, 100]")
	}
	for _, field := range []struct{ name, value string }{
		{"pools.max_deposit_total", cfg.Pools.MaxDepositTotal},
		{"pools.max_deposit_hedged", cfg.Pools.MaxDepositHedged},
		{"pricing.implied_vol_rate", cfg.Pricing.ImpliedVolRate},
		{"pricing.utilization_rate", cfg.Pricing.UtilizationRate},
		{"staking.lot_price", cfg.Staking.LotPrice},
		{"operator.large_payout_alert", cfg.Operator.LargePayoutAlert},
	} {
		if _, err := ParseAmount(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	if cfg.Timescale.Enabled && cfg.Timescale.DSN == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	for i, entry := range cfg.Genesis {
		if entry.Account == "" {
			return fmt.Errorf("genesis[%d].account is required", i)
		}
		amount, err := ParseAmount(entry.Amount)
		if err != nil {
			return fmt.Errorf("genesis[%d].amount: %w", i, err)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("genesis[%d].amount must be positive", i)
		}
	}
	return nil
}

// ParseAmount parses a decimal integer amount. Empty strings parse to nil,
// meaning "not set".
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad decimal integer %q", s)
	}
	return v, nil
}
