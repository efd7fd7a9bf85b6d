// Package config loads engine configuration from YAML with environment
// overrides and provides speed-mode tables and cache TTL policy.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"solana-swap-engine/internal/domain"
)

// Aggregator configures the off-chain aggregator upstream.
type Aggregator struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Curve configures the bonding-curve venue upstream.
type Curve struct {
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Simulate bool          `mapstructure:"simulate"`
}

// RPC configures ledger endpoints. Secondary is required: broadcast and
// confirmation both need two independent ingress points. Accelerator and
// WS are optional.
type RPC struct {
	Primary     string        `mapstructure:"primary"`
	Secondary   string        `mapstructure:"secondary"`
	WS          string        `mapstructure:"ws"`
	Accelerator string        `mapstructure:"accelerator"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Fees configures the optional platform fee and priority-fee policy.
type Fees struct {
	Enabled           bool   `mapstructure:"enabled"`
	Bps               int    `mapstructure:"bps"`
	Treasury          string `mapstructure:"treasury"`
	GlobalMaxLamports uint64 `mapstructure:"global_max_lamports"`

	// CapLamports is the per-speed-mode priority fee cap.
	CapLamports map[string]uint64 `mapstructure:"cap_lamports"`
}

// PriorityFee returns the priority fee for mode, clamped to the global
// maximum and to callerCap when non-zero.
func (f Fees) PriorityFee(mode domain.SpeedMode, callerCap uint64) uint64 {
	fee := f.CapLamports[string(mode)]
	if fee == 0 {
		fee = f.CapLamports[string(domain.SpeedNormal)]
	}
	if f.GlobalMaxLamports > 0 && fee > f.GlobalMaxLamports {
		fee = f.GlobalMaxLamports
	}
	if callerCap > 0 && fee > callerCap {
		fee = callerCap
	}
	return fee
}

// SendPolicy is one speed mode's broadcast behavior.
type SendPolicy struct {
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Broadcast configures fan-out submission.
type Broadcast struct {
	// Policy maps speed mode name to its retry/timeout policy.
	Policy map[string]SendPolicy `mapstructure:"policy"`
}

// PolicyFor returns the policy for mode, defaulting to normal.
func (b Broadcast) PolicyFor(mode domain.SpeedMode) SendPolicy {
	if p, ok := b.Policy[string(mode)]; ok {
		return p
	}
	if p, ok := b.Policy[string(domain.SpeedNormal)]; ok {
		return p
	}
	return SendPolicy{Retries: 2, Timeout: 8 * time.Second}
}

// Cache holds the TTL policies. Route decisions expire in seconds because
// prices move; detection in minutes; fee-account metadata in hours.
type Cache struct {
	RouteTTL     time.Duration `mapstructure:"route_ttl"`
	DetectionTTL time.Duration `mapstructure:"detection_ttl"`
	MetadataTTL  time.Duration `mapstructure:"metadata_ttl"`
	PruneEvery   time.Duration `mapstructure:"prune_every"`
}

// Confirm configures confirmation polling budgets.
type Confirm struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Budget          time.Duration `mapstructure:"budget"`
	CurveBudget     time.Duration `mapstructure:"curve_budget"`
	DropoutPolls    int           `mapstructure:"dropout_polls"`
	DropoutWindow   time.Duration `mapstructure:"dropout_window"`
	FinalCheckDelay time.Duration `mapstructure:"final_check_delay"`
}

// QuoteManager configures the consumer-side quote wrapper.
type QuoteManager struct {
	Debounce     time.Duration `mapstructure:"debounce"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// Server configures the HTTP API.
type Server struct {
	ListenAddr       string        `mapstructure:"listen_addr"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
}

// Config is the full engine configuration.
type Config struct {
	Aggregator   Aggregator   `mapstructure:"aggregator"`
	Curve        Curve        `mapstructure:"curve"`
	RPC          RPC          `mapstructure:"rpc"`
	Fees         Fees         `mapstructure:"fees"`
	Broadcast    Broadcast    `mapstructure:"broadcast"`
	Cache        Cache        `mapstructure:"cache"`
	Confirm      Confirm      `mapstructure:"confirm"`
	QuoteManager QuoteManager `mapstructure:"quote_manager"`
	Server       Server       `mapstructure:"server"`
}

// setDefaults installs defaults on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("aggregator.base_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("aggregator.timeout", "10s")

	v.SetDefault("curve.base_url", "https://frontend-api.pump.fun")
	v.SetDefault("curve.timeout", "5s")
	v.SetDefault("curve.simulate", true)

	v.SetDefault("rpc.timeout", "10s")

	v.SetDefault("fees.enabled", false)
	v.SetDefault("fees.bps", 50)
	v.SetDefault("fees.global_max_lamports", 5_000_000)
	v.SetDefault("fees.cap_lamports", map[string]uint64{
		"normal": 100_000,
		"fast":   1_000_000,
		"turbo":  5_000_000,
	})

	v.SetDefault("broadcast.policy", map[string]map[string]interface{}{
		"normal": {"retries": 2, "timeout": "8s"},
		"fast":   {"retries": 3, "timeout": "6s"},
		"turbo":  {"retries": 5, "timeout": "4s"},
	})

	v.SetDefault("cache.route_ttl", "1500ms")
	v.SetDefault("cache.detection_ttl", "10m")
	v.SetDefault("cache.metadata_ttl", "1h")
	v.SetDefault("cache.prune_every", "1m")

	v.SetDefault("confirm.poll_interval", "2s")
	v.SetDefault("confirm.budget", "60s")
	v.SetDefault("confirm.curve_budget", "30s")
	v.SetDefault("confirm.dropout_polls", 5)
	v.SetDefault("confirm.dropout_window", "15s")
	v.SetDefault("confirm.final_check_delay", "5s")

	v.SetDefault("quote_manager.debounce", "250ms")
	v.SetDefault("quote_manager.cache_ttl", "1500ms")
	v.SetDefault("quote_manager.retry_backoff", "500ms")
	v.SetDefault("quote_manager.max_retries", 2)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.metrics_namespace", "swap_engine")
}

// Load reads configuration from path (optional) and SWAP_* env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the invariants the engine relies on.
func (c *Config) Validate() error {
	if c.RPC.Primary == "" {
		return errors.New("config: rpc.primary is required")
	}
	if c.RPC.Secondary == "" {
		return errors.New("config: rpc.secondary is required")
	}
	if c.Fees.Enabled && c.Fees.Treasury == "" {
		return errors.New("config: fees.treasury is required when fees are enabled")
	}
	if c.Fees.Bps < 0 || c.Fees.Bps > 10_000 {
		return fmt.Errorf("config: fees.bps %d out of range", c.Fees.Bps)
	}
	if c.Cache.RouteTTL <= 0 || c.Cache.DetectionTTL <= 0 {
		return errors.New("config: cache TTLs must be positive")
	}
	if c.Confirm.PollInterval <= 0 {
		return errors.New("config: confirm.poll_interval must be positive")
	}
	return nil
}
