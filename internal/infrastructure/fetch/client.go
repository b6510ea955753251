package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/playground/internal/shared/utils"
)

var (
	ErrFetchFailed = errors.New("failed to fetch vendor source")
	ErrTooLarge    = errors.New("vendor source too large")
)

// Config configures a Client
type Config struct {
	Timeout   time.Duration
	Retries   int
	RetryWait time.Duration // first backoff; doubles up to 30x
	MaxSize   int
	UserAgent string
}

// DefaultConfig returns the client configuration used by sessions
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		Retries:   3,
		RetryWait: 500 * time.Millisecond,
		MaxSize:   utils.MaxFileSize,
		UserAgent: "playground/1.0",
	}
}

// Client downloads vendor module sources named by URL. Each URL is fetched
// once; later requests for it are served from memory.
type Client struct {
	resty   *resty.Client
	breaker *resilience.Breaker
	maxSize int
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]string
}

// NewClient creates a client. Retries of transient failures (connection
// errors, 429 and 5xx) happen inside the retryablehttp transport.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaults.RetryWait
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	logger = logging.OrNop(logger)

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = 30 * cfg.RetryWait
	retryClient.Logger = leveledLogger{logger.Sugar()}

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/javascript, text/javascript, */*")

	return &Client{
		resty: restyClient,
		breaker: resilience.New("vendor-fetch", resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxSize: cfg.MaxSize,
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// IsURL reports whether a vendor entry names a remote source rather than
// code or a local file
func IsURL(entry string) bool {
	u, err := url.Parse(entry)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Get returns the body of rawURL
func (c *Client) Get(ctx context.Context, rawURL string) (string, error) {
	c.mu.Lock()
	code, ok := c.cache[rawURL]
	c.mu.Unlock()
	if ok {
		return code, nil
	}

	code, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (string, error) {
		return c.download(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, ErrFetchFailed) || errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrFetchFailed, rawURL, err)
	}

	c.mu.Lock()
	c.cache[rawURL] = code
	c.mu.Unlock()

	c.logger.Debug("Fetched vendor source", zap.String("url", rawURL), zap.Int("bytes", len(code)))
	return code, nil
}

// Resolve replaces every URL entry of vendor with the source it names.
// Other entries are returned unchanged.
func (c *Client) Resolve(ctx context.Context, vendor map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(vendor))
	for name, entry := range vendor {
		if !IsURL(entry) {
			resolved[name] = entry
			continue
		}
		code, err := c.Get(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("vendor module %s: %w", name, err)
		}
		resolved[name] = code
	}
	return resolved, nil
}

func (c *Client) download(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.resty.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("%w: %s: status %d", ErrFetchFailed, rawURL, resp.StatusCode())
	}
	if body := resp.Body(); len(body) > c.maxSize {
		return "", fmt.Errorf("%w: %s is %d bytes, maximum %d", ErrTooLarge, rawURL, len(body), c.maxSize)
	}
	return resp.String(), nil
}

// leveledLogger routes retryablehttp logging to zap
type leveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
