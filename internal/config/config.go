// Package config loads the gateway's configuration. Grounded verbatim on
// the teacher's internal/config/config.go: viper with mapstructure tags,
// explicit defaults, an explicit BindEnv table (AutomaticEnv alone won't see
// nested keys reliably), and a validate() pass that names the missing env
// var rather than returning a bare "invalid config" error.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Oracle OracleConfig
	Risk   RiskConfig
	Settle SettleConfig
	Fee    FeeConfig
	Vendor VendorConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

// OracleConfig is the gRPC target for the oracle sidecar (§4.7).
type OracleConfig struct {
	Target string `mapstructure:"target"`
}

// RiskConfig holds the burst-subscription buffer (§4.10).
type RiskConfig struct {
	ExpandRisk uint64 `mapstructure:"expand_risk"`
}

// SettleConfig bounds the CronEngine's settlement trigger (§4.9).
type SettleConfig struct {
	MinSettleSize  uint64 `mapstructure:"min_settle_size"`
	DoSettleSize   uint64 `mapstructure:"do_settle_size"`
	MaxSettleCount uint64 `mapstructure:"max_settle_count"`
	IntervalSec    int64  `mapstructure:"interval_sec"`
}

// FeeConfig names BSDE's fee sink (§4.3, §6).
type FeeConfig struct {
	FeeAtoms     uint64 `mapstructure:"fee_atoms"`
	FeeRecipient string `mapstructure:"fee_recipient"`
}

// VendorConfig names this gateway's vendor identifier (§4.5).
type VendorConfig struct {
	Address string `mapstructure:"address"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("oracle.target", "oracle-sidecar:9090")
	v.SetDefault("risk.expand_risk", 5)
	v.SetDefault("settle.min_settle_size", 0)
	v.SetDefault("settle.do_settle_size", 0)
	v.SetDefault("settle.max_settle_count", 100)
	v.SetDefault("settle.interval_sec", 60)
	v.SetDefault("fee.fee_atoms", 0)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":             "PORT",
		"redis.addr":              "REDIS_ADDR",
		"redis.password":          "REDIS_PASSWORD",
		"oracle.target":           "ORACLE_TARGET",
		"risk.expand_risk":        "EXPAND_RISK",
		"settle.min_settle_size":  "MIN_SETTLE_SIZE",
		"settle.do_settle_size":   "DO_SETTLE_SIZE",
		"settle.max_settle_count": "MAX_SETTLE_COUNT",
		"settle.interval_sec":     "SETTLE_INTERVAL_SEC",
		"fee.fee_atoms":           "FEE_ATOMS",
		"fee.fee_recipient":       "FEE_RECIPIENT",
		"vendor.address":          "VENDOR_ADDRESS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Fee.FeeRecipient, "FEE_RECIPIENT"},
		{c.Vendor.Address, "VENDOR_ADDRESS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	return nil
}
