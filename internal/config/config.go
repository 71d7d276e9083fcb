// Package config loads the sidecar configuration from flags, environment
// variables and an optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/accessjwt/forwardauth/internal/access"
)

// EnvPrefix is prepended to every environment variable, e.g.
// FORWARDAUTH_LISTEN_ADDR.
const EnvPrefix = "FORWARDAUTH"

// LegacyTeamNameEnv is also accepted for the team name.
const LegacyTeamNameEnv = "CF_TEAM_NAME"

// Keys.
const (
	TeamNameKey        = "team_name"
	CertsURLKey        = "certs_url"
	ListenAddrKey      = "listen_addr"
	RefreshIntervalKey = "refresh_interval"
	FetchTimeoutKey    = "fetch_timeout"
	ConnectTimeoutKey  = "connect_timeout"
	ClockSkewKey       = "clock_skew"
	ShutdownTimeoutKey = "shutdown_timeout"
	LogLevelKey        = "log.level"
	LogFormatKey       = "log.format"
	RedisAddrKey       = "redis.addr"
	RedisPasswordKey   = "redis.password"
	RedisDBKey         = "redis.db"
	RedisKeyKey        = "redis.key"
	RedisTTLKey        = "redis.ttl"
	MetricsEnabledKey  = "metrics.enabled"
)

// Config is the complete sidecar configuration.
type Config struct {
	TeamName        string        `mapstructure:"team_name"`
	CertsURL        string        `mapstructure:"certs_url"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ClockSkew       time.Duration `mapstructure:"clock_skew"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Log     LogConfig     `mapstructure:"log"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedisConfig configures the key-set mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Key      string        `mapstructure:"key"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SetDefaults registers every key with its default so that environment
// variables are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(TeamNameKey, "")
	v.SetDefault(CertsURLKey, "")
	v.SetDefault(ListenAddrKey, "0.0.0.0:8080")
	v.SetDefault(RefreshIntervalKey, 12*time.Hour)
	v.SetDefault(FetchTimeoutKey, 30*time.Second)
	v.SetDefault(ConnectTimeoutKey, 10*time.Second)
	v.SetDefault(ClockSkewKey, time.Duration(0))
	v.SetDefault(ShutdownTimeoutKey, 10*time.Second)
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(LogFormatKey, "text")
	v.SetDefault(RedisAddrKey, "")
	v.SetDefault(RedisPasswordKey, "")
	v.SetDefault(RedisDBKey, 0)
	v.SetDefault(RedisKeyKey, "forwardauth:jwks")
	v.SetDefault(RedisTTLKey, 24*time.Hour)
	v.SetDefault(MetricsEnabledKey, true)
}

// BindEnv maps keys to FORWARDAUTH_* variables ("log.level" becomes
// FORWARDAUTH_LOG_LEVEL) and the team name additionally to CF_TEAM_NAME.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v.BindEnv(TeamNameKey, EnvPrefix+"_TEAM_NAME", LegacyTeamNameEnv)
}

// New returns a viper instance with defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}
	return v, nil
}

// Load reads the configuration out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration. A missing team name is an error.
func (c *Config) Validate() error {
	var errs []error
	if _, err := access.EndpointsForTeam(c.TeamName); err != nil {
		errs = append(errs, fmt.Errorf("%s (set %s_TEAM_NAME or %s): %w", TeamNameKey, EnvPrefix, LegacyTeamNameEnv, err))
	}
	if c.CertsURL != "" {
		if u, err := url.Parse(c.CertsURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: %q is not an http(s) URL", CertsURLKey, c.CertsURL))
		}
	}
	if c.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("%s is required", ListenAddrKey))
	}
	for key, d := range map[string]time.Duration{
		RefreshIntervalKey: c.RefreshInterval,
		FetchTimeoutKey:    c.FetchTimeout,
		ConnectTimeoutKey:  c.ConnectTimeout,
		ShutdownTimeoutKey: c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.ClockSkew < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative", ClockSkewKey))
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", RedisTTLKey))
	}
	return errors.Join(errs...)
}

// Endpoints returns the issuer and certs URL for the team. CertsURL, when
// set, replaces the derived certs URL; the issuer is always derived.
func (c *Config) Endpoints() (access.Endpoints, error) {
	ep, err := access.EndpointsForTeam(c.TeamName)
	if err != nil {
		return access.Endpoints{}, err
	}
	if c.CertsURL != "" {
		ep.CertsURL = c.CertsURL
	}
	return ep, nil
}
