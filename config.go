package vault

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Default settings, spec.md §6.
const (
	DefaultAPIURL                = "https://gateway.vaultfs.dev/v3"
	DefaultSocketHost            = "socket.vaultfs.dev"
	DefaultConcurrency           = 32
	DefaultRateLimitPerSec       = 64
	DefaultRetryBudgetTokens     = 64
	DefaultRetryBudgetRatio      = 0.1
	DefaultRequestTimeout        = 120 * time.Second
	DefaultChunkTimeout          = 600 * time.Second
	DefaultMaxUploadThreads      = 32
	MaxUploadThreadsHardLimit    = 64
	MaxDownloadThreadsHardLimit  = 64
	DefaultMaxDownloadThreads    = 16
)

// Config mirrors the teacher's config struct, generalized from
// Set*-method mutation to a plain literal plus With* patch helpers: any
// zero-valued field takes the default listed above at New time.
type Config struct {
	// APIURL is the base URL of the api gateway. Defaults to
	// DefaultAPIURL.
	APIURL string
	// SocketHost / SocketTLS select the push-event endpoint. Defaults
	// to DefaultSocketHost over TLS.
	SocketHost string
	SocketTLS  *bool

	// Concurrency caps in-flight HTTP requests (spec.md §6, layer 4).
	Concurrency int
	// RateLimitPerSec caps the global request rate (layer 6).
	RateLimitPerSec int
	// RetryBudgetTokens / RetryBudgetRatio configure the retry token
	// bucket (layer 5); see DESIGN.md decision 2 for the 429 policy.
	RetryBudgetTokens int
	RetryBudgetRatio  float64

	// UploadBandwidthKBPerSec / DownloadBandwidthKBPerSec throttle
	// outgoing/incoming body bytes. Zero means unlimited.
	UploadBandwidthKBPerSec   int
	DownloadBandwidthKBPerSec int

	// RequestTimeout bounds a single request; ChunkTimeout bounds a
	// single chunk upload/download.
	RequestTimeout time.Duration
	ChunkTimeout   time.Duration

	// MaxUploadThreads / MaxDownloadThreads bound per-file transfer
	// parallelism (spec.md §4.6 "max_threads", §4.7 streaming reader).
	MaxUploadThreads   int
	MaxDownloadThreads int

	// Logger receives structured log entries from the request pipeline
	// and the push-event subsystem. A nil Logger gets a fresh
	// logrus.Logger at LogLevel (default Debug, per spec.md §6).
	Logger   *logrus.Logger
	LogLevel logrus.Level
}

// withDefaults returns a copy of cfg with every zero-valued field
// replaced by its documented default.
func (cfg Config) withDefaults() Config {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.SocketHost == "" {
		cfg.SocketHost = DefaultSocketHost
	}
	if cfg.SocketTLS == nil {
		tls := true
		cfg.SocketTLS = &tls
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = DefaultRateLimitPerSec
	}
	if cfg.RetryBudgetTokens <= 0 {
		cfg.RetryBudgetTokens = DefaultRetryBudgetTokens
	}
	if cfg.RetryBudgetRatio <= 0 {
		cfg.RetryBudgetRatio = DefaultRetryBudgetRatio
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.MaxUploadThreads <= 0 {
		cfg.MaxUploadThreads = DefaultMaxUploadThreads
	}
	if cfg.MaxDownloadThreads <= 0 {
		cfg.MaxDownloadThreads = DefaultMaxDownloadThreads
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		if cfg.LogLevel == 0 {
			cfg.LogLevel = logrus.DebugLevel
		}
		cfg.Logger.SetLevel(cfg.LogLevel)
	}
	return cfg
}

// WithUploadThreads returns a copy of cfg with MaxUploadThreads set,
// clamped to MaxUploadThreadsHardLimit, the generalized equivalent of
// the teacher's SetUploadWorkers, which rejected values above
// MAX_UPLOAD_WORKERS outright. This mirrors that intent but clamps
// instead of erroring, since Config is a plain value built before any
// fallible New() call.
func (cfg Config) WithUploadThreads(n int) Config {
	if n > MaxUploadThreadsHardLimit {
		n = MaxUploadThreadsHardLimit
	}
	cfg.MaxUploadThreads = n
	return cfg
}

// WithDownloadThreads is WithUploadThreads's download-side twin.
func (cfg Config) WithDownloadThreads(n int) Config {
	if n > MaxDownloadThreadsHardLimit {
		n = MaxDownloadThreadsHardLimit
	}
	cfg.MaxDownloadThreads = n
	return cfg
}

// WithRetries sets the retry token budget directly (the teacher's
// SetRetries, generalized from a simple attempt count to the spec's
// token-bucket budget).
func (cfg Config) WithRetries(tokens int) Config {
	cfg.RetryBudgetTokens = tokens
	return cfg
}

// WithTimeout sets RequestTimeout (the teacher's SetTimeOut).
func (cfg Config) WithTimeout(d time.Duration) Config {
	cfg.RequestTimeout = d
	return cfg
}
