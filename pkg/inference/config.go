package inference

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/roopcam/internal/observe"
)

// Config holds provider and client configuration.
type Config struct {
	// Connection
	BaseURL string // Service base URL including the /api prefix
	APIKey  string // Optional bearer token

	// Timeout bounds realtime calls (detect, embed, swap).
	Timeout time.Duration

	// OfflineTimeout bounds advanced swap and voice conversion.
	OfflineTimeout time.Duration

	// Retry configuration. Applies to offline calls only; realtime calls
	// never retry inside a frame budget.
	MaxRetries int
	RetryDelay time.Duration

	// HTTPClient overrides the shared client.
	HTTPClient *http.Client

	// Observability
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Option is a functional option for configuring providers and clients.
type Option func(*Config)

// WithBaseURL sets the service base URL.
// Example: "http://localhost:8000/api"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithTimeout sets the realtime call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithOfflineTimeout sets the advanced swap / voice timeout.
func WithOfflineTimeout(d time.Duration) Option {
	return func(c *Config) { c.OfflineTimeout = d }
}

// WithRetry configures retry behavior for offline calls.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// DefaultConfig returns defaults for a service on localhost.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8000/api",
		Timeout:        2 * time.Second,
		OfflineTimeout: 60 * time.Second,
		MaxRetries:     2,
		RetryDelay:     200 * time.Millisecond,
		Logger:         slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrProviderUnavailable
	}
	return nil
}
