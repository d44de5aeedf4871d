// Package config loads process configuration for the admin API.
// Values come from an optional YAML file, overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds every setting the API process reads at start.
type Config struct {
	Env      string `koanf:"env"`
	HTTPAddr string `koanf:"http_addr"`
	GRPCAddr string `koanf:"grpc_addr"`

	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	JWTSecret   string        `koanf:"jwt_secret"`
	TokenTTL    time.Duration `koanf:"jwt_expires_in"`
	FrontendURL string        `koanf:"frontend_url"`

	BootstrapEmail    string `koanf:"bootstrap_email"`
	BootstrapPassword string `koanf:"bootstrap_password"`

	LoginRateLimit    int           `koanf:"login_rate_limit"`
	LoginRateBurst    int           `koanf:"login_rate_burst"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
	AuditWriteTimeout time.Duration `koanf:"audit_write_timeout"`

	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`

	// TrustedProxies lists the peers (IPs or CIDRs) whose forwarding headers
	// are believed. Empty means the socket address is always the client.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// Validation errors.
var (
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required in production")
	ErrInvalidTokenTTL    = errors.New("JWT_EXPIRES_IN must be positive")
	ErrInvalidRateLimit   = errors.New("LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must be positive")
	ErrInvalidSampleRate  = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
	ErrInvalidExporter    = errors.New("TRACING_EXPORTER must be otlp-http or otlp-grpc")
	ErrInvalidValue       = errors.New("invalid value")
	ErrInvalidProxy       = errors.New("TRUSTED_PROXIES entries must be IPs or CIDRs")
)

// Defaults.
const (
	DefaultEnv               = "development"
	DefaultHTTPAddr          = ":3001"
	DefaultTokenTTL          = 24 * time.Hour
	DefaultFrontendURL       = "http://localhost:3000"
	DefaultBootstrapEmail    = "admin@example.com"
	DefaultBootstrapPassword = "admin123"
	DefaultLoginRateLimit    = 10
	DefaultLoginRateBurst    = 5
	DefaultMaxBodyBytes      = 1 << 20
	DefaultAuditWriteTimeout = 5 * time.Second
	DefaultTracingExporter   = "otlp-http"
	DefaultTracingSampleRate = 0.1
)

// IsProduction reports whether the process runs with ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads the optional YAML file at path and applies environment overrides.
// It returns the config together with every validation problem found.
func Load(path string) (*Config, []error) {
	cfg := Defaults()
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("load config file %s: %w", path, err)}
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
			return nil, []error{fmt.Errorf("decode config file %s: %w", path, err)}
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envString(&cfg.Env, "ENV")
	envString(&cfg.HTTPAddr, "HTTP_ADDR")
	envString(&cfg.GRPCAddr, "GRPC_ADDR")
	envString(&cfg.DatabaseURL, "DATABASE_URL")
	envString(&cfg.RedisURL, "REDIS_URL")
	envString(&cfg.JWTSecret, "JWT_SECRET")
	envString(&cfg.FrontendURL, "FRONTEND_URL")
	envString(&cfg.BootstrapEmail, "BOOTSTRAP_EMAIL")
	envString(&cfg.BootstrapPassword, "BOOTSTRAP_PASSWORD")
	envString(&cfg.TracingExporter, "TRACING_EXPORTER")
	envString(&cfg.OTLPEndpoint, "OTLP_ENDPOINT")
	envList(&cfg.TrustedProxies, "TRUSTED_PROXIES")
	envBool(&cfg.TracingEnabled, "TRACING_ENABLED")

	collect(envDuration(&cfg.TokenTTL, "JWT_EXPIRES_IN"))
	collect(envDuration(&cfg.AuditWriteTimeout, "AUDIT_WRITE_TIMEOUT"))
	collect(envInt(&cfg.LoginRateLimit, "LOGIN_RATE_LIMIT"))
	collect(envInt(&cfg.LoginRateBurst, "LOGIN_RATE_BURST"))
	collect(envInt64(&cfg.MaxBodyBytes, "MAX_BODY_BYTES"))
	collect(envFloat(&cfg.TracingSampleRate, "TRACING_SAMPLE_RATE"))

	return cfg, append(errs, cfg.Validate()...)
}

// Defaults returns the configuration used when neither file nor env set a key.
func Defaults() *Config {
	return &Config{
		Env:               DefaultEnv,
		HTTPAddr:          DefaultHTTPAddr,
		TokenTTL:          DefaultTokenTTL,
		FrontendURL:       DefaultFrontendURL,
		BootstrapEmail:    DefaultBootstrapEmail,
		BootstrapPassword: DefaultBootstrapPassword,
		LoginRateLimit:    DefaultLoginRateLimit,
		LoginRateBurst:    DefaultLoginRateBurst,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		AuditWriteTimeout: DefaultAuditWriteTimeout,
		TracingExporter:   DefaultTracingExporter,
		TracingSampleRate: DefaultTracingSampleRate,
	}
}

// unmarshalConf decodes file keys onto cfg through the koanf tags. Keys absent
// from the file keep their defaults.
func unmarshalConf(cfg *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationHook,
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
		},
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	raw, ok := data.(string)
	if !ok || to != durationType {
		return data, nil
	}
	d, err := parseDuration(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("duration %q: %w", raw, ErrInvalidValue)
	}
	return d, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, ErrInvalidTokenTTL)
	}
	if c.LoginRateLimit <= 0 || c.LoginRateBurst <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, ErrInvalidSampleRate)
	}
	if c.TracingEnabled && c.TracingExporter != "otlp-http" && c.TracingExporter != "otlp-grpc" {
		errs = append(errs, ErrInvalidExporter)
	}
	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidProxy, p))
		}
	}
	return errs
}

func envString(dst *string, envKey string) {
	if val := strings.TrimSpace(os.Getenv(envKey)); val != "" {
		*dst = val
	}
}

func envList(dst *[]string, envKey string) {
	val := os.Getenv(envKey)
	if strings.TrimSpace(val) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func envInt(dst *int, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", envKey, ErrInvalidValue)
	}
	*dst = i
	return nil
}

func envInt64(dst *int64, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", envKey, ErrInvalidValue)
	}
	*dst = i
	return nil
}

func envFloat(dst *float64, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s must be a number: %w", envKey, ErrInvalidValue)
	}
	*dst = f
	return nil
}

// envDuration accepts Go durations ("90m") and the "<n>d" day suffix used for token lifetimes.
func envDuration(dst *time.Duration, envKey string) error {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return nil
	}
	d, err := parseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey, ErrInvalidValue)
	}
	*dst = d
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}

func envBool(dst *bool, envKey string) {
	val := strings.TrimSpace(os.Getenv(envKey))
	if val == "" {
		return
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		*dst = true
	default:
		*dst = false
	}
}
