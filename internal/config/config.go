package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string   `mapstructure:"mode"`
	LogLevel   string   `mapstructure:"log_level"`
	URL        string   `mapstructure:"url"`
	Token      string   `mapstructure:"token"`
	Name       string   `mapstructure:"name"`
	StatusAddr string   `mapstructure:"status_addr"`
	ICEServers []string `mapstructure:"ice_servers"`

	Signal Signal `mapstructure:"signal"`
	Engine Engine `mapstructure:"engine"`
	Room   Room   `mapstructure:"room"`
}

// Signal tunes the control channel.
type Signal struct {
	PingInterval        time.Duration `mapstructure:"ping_interval"`
	PingTimeoutMultiple int           `mapstructure:"ping_timeout_multiple"`
	JoinTimeout         time.Duration `mapstructure:"join_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	WriteRetries        int           `mapstructure:"write_retries"`
	PendingLimit        int           `mapstructure:"pending_limit"`
	ReadLimit           int64         `mapstructure:"read_limit"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
}

// PingTimeout is how long the channel may stay silent before it is lost.
func (s Signal) PingTimeout() time.Duration {
	return s.PingInterval * time.Duration(s.PingTimeoutMultiple)
}

// Engine tunes joining and the resume / full reconnect budgets.
type Engine struct {
	JoinAttempts          int           `mapstructure:"join_attempts"`
	ResumeAttempts        int           `mapstructure:"resume_attempts"`
	FullReconnectAttempts int           `mapstructure:"full_reconnect_attempts"`
	InitialBackoff        time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff            time.Duration `mapstructure:"max_backoff"`
	ConnectTimeout        time.Duration `mapstructure:"connect_timeout"`
	ICEGracePeriod        time.Duration `mapstructure:"ice_grace_period"`
	NegotiationRetries    int           `mapstructure:"negotiation_retries"`
}

// Backoff returns the delay before the given 1-based attempt: doubling from
// InitialBackoff, capped at MaxBackoff. The first attempt is immediate.
func (e Engine) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := e.InitialBackoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= e.MaxBackoff {
			return e.MaxBackoff
		}
	}
	return min(d, e.MaxBackoff)
}

type Room struct {
	AutoSubscribe         bool `mapstructure:"auto_subscribe"`
	AllowDuplicateSources bool `mapstructure:"allow_duplicate_sources"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("url", "ws://localhost:7880")
	v.SetDefault("token", "")
	v.SetDefault("name", "")
	v.SetDefault("status_addr", ":8090")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("signal.ping_interval", "5s")
	v.SetDefault("signal.ping_timeout_multiple", 3)
	v.SetDefault("signal.join_timeout", "15s")
	v.SetDefault("signal.write_timeout", "5s")
	v.SetDefault("signal.write_retries", 2)
	v.SetDefault("signal.pending_limit", 256)
	v.SetDefault("signal.read_limit", 1<<20)
	v.SetDefault("signal.call_timeout", "10s")

	v.SetDefault("engine.join_attempts", 3)
	v.SetDefault("engine.resume_attempts", 5)
	v.SetDefault("engine.full_reconnect_attempts", 3)
	v.SetDefault("engine.initial_backoff", "300ms")
	v.SetDefault("engine.max_backoff", "10s")
	v.SetDefault("engine.connect_timeout", "10s")
	v.SetDefault("engine.ice_grace_period", "5s")
	v.SetDefault("engine.negotiation_retries", 1)

	v.SetDefault("room.auto_subscribe", true)
	v.SetDefault("room.allow_duplicate_sources", false)
}

// Flags declares the command line overrides understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voiceclient", pflag.ContinueOnError)
	fs.String("url", "", "signalling server url (ws:// or wss://)")
	fs.String("token", "", "access token")
	fs.String("name", "", "display name to set after joining")
	fs.String("status-addr", "", "listen address of the local status API")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("config-env", "", "config file suffix, overrides CONFIG_ENV")
	return fs
}

var flagKeys = map[string]string{
	"url":         "url",
	"token":       "token",
	"name":        "name",
	"status-addr": "status_addr",
	"log-level":   "log_level",
}

// Load merges defaults, config/config.<env>.yaml, VOICE_* environment
// variables (a .env file is honoured) and the parsed flags, in that order
// of increasing priority. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	env := os.Getenv("CONFIG_ENV")
	if flags != nil {
		if f := flags.Lookup("config-env"); f != nil && f.Changed {
			env = f.Value.String()
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("url", cfg.URL).Str("status", cfg.StatusAddr).Msg("config ready")
	return &cfg, nil
}

// Default returns the built-in defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func (c *Config) validate() error {
	switch {
	case c.Signal.PingInterval <= 0:
		return fmt.Errorf("signal.ping_interval must be positive")
	case c.Signal.PingTimeoutMultiple < 1:
		return fmt.Errorf("signal.ping_timeout_multiple must be at least 1")
	case c.Signal.PendingLimit < 1:
		return fmt.Errorf("signal.pending_limit must be at least 1")
	case c.Engine.ResumeAttempts < 0 || c.Engine.FullReconnectAttempts < 0:
		return fmt.Errorf("engine reconnect attempts must not be negative")
	case c.Engine.JoinAttempts < 1:
		return fmt.Errorf("engine.join_attempts must be at least 1")
	}
	return nil
}
