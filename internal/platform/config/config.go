package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "5173"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultAPIBaseURL     = "http://localhost:5003/api"
	defaultCurrency       = "INR"
	defaultStoreName      = "TSONIC"
	defaultDescription    = "Purchase of TSONIC Smart Glasses"
	defaultThemeColor     = "#2563eb"
	defaultWidgetScript   = "https://checkout.razorpay.com/v1/checkout.js"
	defaultProbeTimeout   = 8 * time.Second
	defaultWatchInterval  = 2 * time.Second
	defaultWatchTimeout   = 15 * time.Minute
	defaultGraceDelay     = 300 * time.Millisecond
	defaultOpenDelay      = 100 * time.Millisecond
	defaultProvider       = "razorpay"
	defaultSessionTTL     = 45 * time.Minute
	defaultSweepInterval  = 5 * time.Minute
	defaultSubmitLimit    = 6
	defaultSubmitInterval = time.Minute
	defaultHighlightTTL   = 1500 * time.Millisecond
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Shop       ShopConfig
	Widget     WidgetConfig
	Payments   PaymentsConfig
	Sessions   SessionConfig
	RateLimits RateLimitConfig
	CORS       CORSConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ShopConfig describes the storefront identity and its backend collaborator.
type ShopConfig struct {
	APIBaseURL   string
	Currency     string
	StoreName    string
	Description  string
	ThemeColor   string
	HighlightTTL time.Duration
}

// WidgetConfig tunes the hosted payment widget bridge.
type WidgetConfig struct {
	ScriptURL     string
	ProbeTimeout  time.Duration
	WatchInterval time.Duration
	WatchTimeout  time.Duration
	GraceDelay    time.Duration
	OpenDelay     time.Duration
}

// PaymentsConfig selects and configures payment providers.
type PaymentsConfig struct {
	DefaultProvider string
	StripeAPIKey    string
	SuccessURL      string
	CancelURL       string
}

// SessionConfig controls the in-memory shop session store.
type SessionConfig struct {
	TokenSecret   string
	TTL           time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig bounds checkout submissions per session.
type RateLimitConfig struct {
	SubmitLimit    int
	SubmitInterval time.Duration
}

// CORSConfig lists origins allowed to call the storefront API.
type CORSConfig struct {
	AllowedOrigins []string
}

// ValidationError aggregates the config fields that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.fields) == 0 {
		return "invalid configuration"
	}
	fields := append([]string(nil), e.fields...)
	sort.Strings(fields)
	return fmt.Sprintf("invalid configuration [%s]", strings.Join(fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file consulted during loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values taking precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment, useful in tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// Load builds the Config from dotenv, process env, and explicit overrides, in
// that order of precedence.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	values := map[string]string{}
	if options.envFile != "" {
		if dotEnv, err := godotenv.Read(options.envFile); err == nil {
			for k, v := range dotEnv {
				values[k] = v
			}
		}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if idx := strings.IndexByte(entry, '='); idx > 0 {
				values[entry[:idx]] = entry[idx+1:]
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}

	lookup := func(key string) string { return strings.TrimSpace(values[key]) }

	cfg := Config{
		Server: ServerConfig{
			Port:         defaultString(lookup("PORT"), defaultPort),
			ReadTimeout:  parseDuration(lookup("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: parseDuration(lookup("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  parseDuration(lookup("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Shop: ShopConfig{
			APIBaseURL:   defaultString(lookup("SHOP_API_URL"), defaultAPIBaseURL),
			Currency:     strings.ToUpper(defaultString(lookup("SHOP_CURRENCY"), defaultCurrency)),
			StoreName:    defaultString(lookup("SHOP_STORE_NAME"), defaultStoreName),
			Description:  defaultString(lookup("SHOP_DESCRIPTION"), defaultDescription),
			ThemeColor:   defaultString(lookup("SHOP_THEME_COLOR"), defaultThemeColor),
			HighlightTTL: parseDuration(lookup("SHOP_HIGHLIGHT_TTL"), defaultHighlightTTL),
		},
		Widget: WidgetConfig{
			ScriptURL:     defaultString(lookup("WIDGET_SCRIPT_URL"), defaultWidgetScript),
			ProbeTimeout:  parseDuration(lookup("WIDGET_PROBE_TIMEOUT"), defaultProbeTimeout),
			WatchInterval: parseDuration(lookup("WIDGET_WATCH_INTERVAL"), defaultWatchInterval),
			WatchTimeout:  parseDuration(lookup("WIDGET_WATCH_TIMEOUT"), defaultWatchTimeout),
			GraceDelay:    parseDuration(lookup("WIDGET_GRACE_DELAY"), defaultGraceDelay),
			OpenDelay:     parseDuration(lookup("WIDGET_OPEN_DELAY"), defaultOpenDelay),
		},
		Payments: PaymentsConfig{
			DefaultProvider: strings.ToLower(defaultString(lookup("PAYMENTS_DEFAULT_PROVIDER"), defaultProvider)),
			StripeAPIKey:    lookup("STRIPE_API_KEY"),
			SuccessURL:      lookup("PAYMENTS_SUCCESS_URL"),
			CancelURL:       lookup("PAYMENTS_CANCEL_URL"),
		},
		Sessions: SessionConfig{
			TokenSecret:   lookup("SESSION_TOKEN_SECRET"),
			TTL:           parseDuration(lookup("SESSION_TTL"), defaultSessionTTL),
			SweepInterval: parseDuration(lookup("SESSION_SWEEP_INTERVAL"), defaultSweepInterval),
		},
		RateLimits: RateLimitConfig{
			SubmitLimit:    parseInt(lookup("RATE_LIMIT_SUBMIT"), defaultSubmitLimit),
			SubmitInterval: parseDuration(lookup("RATE_LIMIT_SUBMIT_INTERVAL"), defaultSubmitInterval),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(lookup("CORS_ALLOWED_ORIGINS")),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if _, err := url.ParseRequestURI(cfg.Shop.APIBaseURL); err != nil {
		invalid = append(invalid, "SHOP_API_URL")
	}
	if _, err := url.ParseRequestURI(cfg.Widget.ScriptURL); err != nil {
		invalid = append(invalid, "WIDGET_SCRIPT_URL")
	}
	if len(cfg.Shop.Currency) != 3 {
		invalid = append(invalid, "SHOP_CURRENCY")
	}
	if cfg.Payments.DefaultProvider == "" {
		invalid = append(invalid, "PAYMENTS_DEFAULT_PROVIDER")
	}
	if cfg.RateLimits.SubmitLimit <= 0 {
		invalid = append(invalid, "RATE_LIMIT_SUBMIT")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
