package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/scrapeease/scrapeease/internal/config"
	"github.com/scrapeease/scrapeease/internal/resilience"
)

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	MinRequestGap time.Duration // minimum spacing between requests to one host
	RespectRobots bool
	MaxBodyBytes  int64
}

// Client fetches and parses pages using net/http with retry and per-host
// rate limiting. Safe for concurrent use.
type Client struct {
	client *http.Client
	opts   Options
	robots *robotsCache

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Client with the given options, filling in defaults.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "ScrapeEase/1.0 (Web Scraping Platform)"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.MinRequestGap == 0 {
		opts.MinRequestGap = 500 * time.Millisecond
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
	c.robots = newRobotsCache(c.client, opts.UserAgent, time.Hour)
	return c
}

// FromConfig creates a Client from application configuration.
func FromConfig(cfg config.FetchConfig) *Client {
	return New(Options{
		UserAgent:     cfg.UserAgent,
		Timeout:       time.Duration(cfg.TimeoutSecs) * time.Second,
		MaxRetries:    cfg.MaxRetries,
		MinRequestGap: time.Duration(cfg.MinRequestGapMs) * time.Millisecond,
		RespectRobots: cfg.RespectRobots,
		MaxBodyBytes:  cfg.MaxBodyBytes,
	})
}

// ValidateURL checks that rawURL is well-formed and uses an allowed
// protocol. Returns a *ValidationError otherwise.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &ValidationError{URL: rawURL, Reason: "malformed URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{URL: rawURL, Reason: "protocol must be http or https"}
	}
	if u.Host == "" {
		return nil, &ValidationError{URL: rawURL, Reason: "missing host"}
	}
	return u, nil
}

// limiterFor returns the per-host limiter enforcing minimum request spacing.
func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.opts.MinRequestGap), 1)
		c.limiters[host] = lim
	}
	return lim
}

// CheckRobots verifies that robots.txt on the target host allows fetching
// rawURL. Missing or unreachable robots.txt counts as allowed. Returns a
// *PolicyError when disallowed. A no-op when RespectRobots is off.
func (c *Client) CheckRobots(ctx context.Context, rawURL string) error {
	if !c.opts.RespectRobots {
		return nil
	}
	u, err := ValidateURL(rawURL)
	if err != nil {
		return err
	}
	return c.robots.check(ctx, u)
}

// Fetch retrieves rawURL and parses it into a Document. Transient failures
// (connection errors, 5xx, 429, timeouts) are retried with exponential
// backoff up to the configured budget; other failures fail immediately.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	if err := c.limiterFor(u.Host).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = c.opts.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("fetch", rawURL)

	doc, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Document, error) {
		return c.fetchOnce(ctx, rawURL)
	})
	if err != nil {
		return nil, err
	}

	zap.L().Debug("fetched page",
		zap.String("url", rawURL),
		zap.String("title", doc.Title),
	)
	return doc, nil
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ValidationError{URL: rawURL, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		// net/http errors carry their own transience signal (timeouts,
		// connection resets) recognized by resilience.IsTransient.
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		ferr := &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(ferr, resp.StatusCode)
		}
		return nil, ferr
	}

	body := io.LimitReader(resp.Body, c.opts.MaxBodyBytes)
	// Legacy encodings (windows-1251, shift-jis, ...) must be decoded to
	// UTF-8 before parsing; goquery assumes UTF-8 input.
	decoded, err := charset.NewReader(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	doc, err := ParseDocument(rawURL, decoded)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	return doc, nil
}
