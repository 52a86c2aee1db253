package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of knobs the server needs, loaded from a YAML
// file selected by CONFIG_ENV and overridable by CLI flags.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Listen     string        `mapstructure:"listen"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`

	DataFeedURL      string        `mapstructure:"data_feed_url"`
	DataFeedInterval time.Duration `mapstructure:"data_feed_interval"`

	IdentityEndpoint     string `mapstructure:"identity_endpoint"`
	IdentityClientID     string `mapstructure:"identity_client_id"`
	IdentityClientSecret string `mapstructure:"identity_client_secret"`

	StunURLs   []string      `mapstructure:"stun_urls"`
	TurnURLs   []string      `mapstructure:"turn_urls"`
	TurnRealm  string        `mapstructure:"turn_realm"`
	TurnSecret string        `mapstructure:"turn_secret"`
	IceTTL     time.Duration `mapstructure:"ice_ttl"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (default "dev"), or the file
// named by a non-empty "config" flag on flags, applies defaults, then lets
// the "listen" and "log-level" flags override the file values.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			fileName = f.Value.String()
		}
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("data_feed_url", "https://data.vatsim.net/v3/vatsim-data.json")
	v.SetDefault("data_feed_interval", "15s")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice_ttl", "1h")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	if flags != nil {
		if f := flags.Lookup("listen"); f != nil {
			if err := v.BindPFlag("listen", f); err != nil {
				return nil, fmt.Errorf("bind flags: %w", err)
			}
		}
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log_level", f); err != nil {
				return nil, fmt.Errorf("bind flags: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
