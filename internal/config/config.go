// Package config loads service settings from defaults, an optional YAML file,
// SHOPLIST_* environment variables and command flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const EnvPrefix = "SHOPLIST"

type HTTP struct {
	Addr           string   `mapstructure:"addr"`
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
	// TrustedProxies lists addresses or CIDR ranges whose X-Forwarded-For
	// header is honoured. Empty means the socket peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address becomes a
// single-host prefix.
func (h HTTP) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("config: http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("config: http.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type Database struct {
	DSN              string        `mapstructure:"dsn"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

type Auth struct {
	Secret              string        `mapstructure:"secret"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	Issuer              string        `mapstructure:"issuer"`
	SessionEpochOnStart bool          `mapstructure:"session_epoch_on_start"`
}

type Admin struct {
	Passphrase string `mapstructure:"passphrase"`
}

type Revocation struct {
	Backend         string        `mapstructure:"backend"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
}

type RateLimit struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

type CORS struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config is the full service configuration. Secrets have no defaults.
type Config struct {
	HTTP       HTTP       `mapstructure:"http"`
	GRPC       GRPC       `mapstructure:"grpc"`
	Database   Database   `mapstructure:"database"`
	Auth       Auth       `mapstructure:"auth"`
	Admin      Admin      `mapstructure:"admin"`
	Revocation Revocation `mapstructure:"revocation"`
	RateLimit  RateLimit  `mapstructure:"ratelimit"`
	CORS       CORS       `mapstructure:"cors"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var defaults = map[string]any{
	"http.addr":                   ":4000",
	"http.max_body_bytes":         int64(1 << 20),
	"http.trusted_proxies":        []string{},
	"grpc.addr":                   ":9090",
	"database.dsn":                "",
	"database.max_open_conns":     25,
	"database.statement_timeout":  5 * time.Second,
	"auth.secret":                 "",
	"auth.token_ttl":              24 * time.Hour,
	"auth.issuer":                 "shoplist",
	"auth.session_epoch_on_start": true,
	"admin.passphrase":            "",
	"revocation.backend":          BackendMemory,
	"revocation.redis_addr":       "",
	"revocation.compact_interval": 10 * time.Minute,
	"ratelimit.per_second":        5.0,
	"ratelimit.burst":             10,
	"cors.allowed_origins":        []string{},
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags maps command flags onto configuration keys. Flags that the
// command does not define are skipped.
func BindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Load reads the optional config file and decodes the result. An explicitly
// named file that cannot be read is an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	cfg.HTTP.TrustedProxies = splitList(cfg.HTTP.TrustedProxies)
	return cfg, nil
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

var (
	ErrMissingSecret = errors.New("config: auth.secret is required")
	ErrMissingDSN    = errors.New("config: database.dsn is required")
)

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, ErrMissingSecret)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, ErrMissingDSN)
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("config: auth.token_ttl must be positive"))
	}
	switch c.Revocation.Backend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.Revocation.RedisAddr) == "" {
			errs = append(errs, errors.New("config: revocation.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown revocation.backend %q", c.Revocation.Backend))
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("config: ratelimit.per_second and ratelimit.burst must be positive"))
	}
	if _, err := c.HTTP.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	if c.Database.StatementTimeout < 0 {
		errs = append(errs, errors.New("config: database.statement_timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// PassphraseEnabled reports whether the legacy administrator passphrase
// channel accepts requests.
func (c Config) PassphraseEnabled() bool {
	return strings.TrimSpace(c.Admin.Passphrase) != ""
}
