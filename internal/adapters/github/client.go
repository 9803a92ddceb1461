package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/okian/credrank/pkg/logger"
	"github.com/okian/credrank/pkg/metrics"
)

// Default client configuration constants.
const (
	defaultBaseURL     = "https://api.github.com"
	defaultMaxAttempts = 4
	defaultTimeout     = 10 * time.Second
	defaultCacheSize   = 2048
	defaultRatePerSec  = 5.0
	defaultBurst       = 10
	baseBackoff        = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
	maxBodyBytes       = 5 * 1024 * 1024
	userAgent          = "credrank-fetcher/1.0"
)

// repoURLPattern matches the base owner/repo part of a GitHub project URL.
var repoURLPattern = regexp.MustCompile(`^https?://github\.com/([^/\s]+)/([^/\s#?]+)`)

// ParseRepoURL extracts owner and repo from a GitHub project URL.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), true
}

// Repo mirrors the subset of repository metadata the pipeline consumes.
type Repo struct {
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Fork        bool      `json:"fork"`
	Topics      []string  `json:"topics"`
	Language    string    `json:"language"`
	Private     bool      `json:"private"`
	Archived    bool      `json:"archived"`
	Size        int       `json:"size"` // KB
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`

	// Parent is present on forks and points at the upstream repository.
	Parent *Repo `json:"parent,omitempty"`
	// IsTemplate marks repositories published as templates.
	IsTemplate bool `json:"is_template"`
}

// Contributor is one row of the repository contributors listing.
type Contributor struct {
	Login         string `json:"login"`
	Contributions int    `json:"contributions"`
}

// readmePayload is the contents-API envelope for README fetches.
type readmePayload struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Client is the process-wide fetcher: token-bucket rate limiting per host,
// exponential backoff with jitter on retryable failures, and an LRU cache so
// recrawls of unchanged content cost nothing.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	maxAttempts int
	limiter     *hostLimiter
	cache       *lru.Cache[string, []byte]
	logger      logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithToken sets the personal access token used for API requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithBaseURL overrides the API base URL (tests point this at a fake server).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithMaxAttempts caps retries for retryable failures.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit configures the per-host token bucket.
func WithRateLimit(ratePerSec float64, burst int) Option {
	return func(c *Client) { c.limiter = newHostLimiter(ratePerSec, burst) }
}

// WithCacheSize sets the LRU response cache capacity.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			cache, err := lru.New[string, []byte](n)
			if err == nil {
				c.cache = cache
			}
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewClient creates a fetcher with default configuration.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     defaultBaseURL,
		maxAttempts: defaultMaxAttempts,
		limiter:     newHostLimiter(defaultRatePerSec, defaultBurst),
		logger:      logger.Get().Named("fetcher"),
	}
	cache, _ := lru.New[string, []byte](defaultCacheSize)
	c.cache = cache

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo fetches repository metadata for owner/repo.
func (c *Client) Repo(ctx context.Context, owner, repo string) (*Repo, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo))
	if err != nil {
		return nil, err
	}
	var r Repo
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: owner + "/" + repo, Err: fmt.Errorf("decode repo: %w", err)}
	}
	return &r, nil
}

// Readme fetches and decodes the repository README. A missing README is a
// KindNotFound error; callers treat that as degraded, not fatal.
func (c *Client) Readme(ctx context.Context, owner, repo string) (string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/readme", c.baseURL, owner, repo))
	if err != nil {
		return "", err
	}
	var p readmePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", &FetchError{Kind: KindTransient, URL: owner + "/" + repo, Err: fmt.Errorf("decode readme: %w", err)}
	}
	if p.Encoding != "base64" {
		return p.Content, nil
	}
	// The contents API wraps base64 at 60 columns.
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(p.Content, "\n", ""))
	if err != nil {
		return "", &FetchError{Kind: KindTransient, URL: owner + "/" + repo, Err: fmt.Errorf("decode readme content: %w", err)}
	}
	return string(decoded), nil
}

// Contributors lists commit counts per contributor, most active first.
func (c *Client) Contributors(ctx context.Context, owner, repo string) ([]Contributor, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/contributors?per_page=100", c.baseURL, owner, repo))
	if err != nil {
		return nil, err
	}
	var out []Contributor
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: owner + "/" + repo, Err: fmt.Errorf("decode contributors: %w", err)}
	}
	return out, nil
}

// Languages returns bytes of code per language.
func (c *Client) Languages(ctx context.Context, owner, repo string) (map[string]int64, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/languages", c.baseURL, owner, repo))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: owner + "/" + repo, Err: fmt.Errorf("decode languages: %w", err)}
	}
	return out, nil
}

// Exists performs a lightweight existence check on an arbitrary URL without
// caching the body. Used for depth-0 identity resolution of non-API links.
func (c *Client) Exists(ctx context.Context, rawURL string) error {
	_, err := c.fetchOnce(ctx, rawURL, false)
	return err
}

// get fetches a URL through the cache, rate limiter and retry policy.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if body, ok := c.cache.Get(rawURL); ok {
		metrics.RecordFetchCacheHit()
		return body, nil
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordFetchRetry()
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		body, err := c.fetchOnce(ctx, rawURL, true)
		if err == nil {
			c.cache.Add(rawURL, body)
			return body, nil
		}
		lastErr = err
		if !KindOf(err).Retryable() {
			return nil, err
		}
		c.logger.Debug(ctx, "retryable fetch failure",
			logger.String("url", rawURL),
			logger.Int("attempt", attempt+1),
			logger.Error(err),
		)
	}
	return nil, lastErr
}

// fetchOnce performs a single rate-limited request and classifies failures.
func (c *Client) fetchOnce(ctx context.Context, rawURL string, readBody bool) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: KindNotFound, URL: rawURL, Err: err}
	}
	if err := c.limiter.Acquire(ctx, u.Host); err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: rawURL, Err: err}
	}

	start := time.Now()
	defer func() {
		metrics.RecordFetchDuration(float64(time.Since(start).Milliseconds()))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNotFound, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" && strings.HasPrefix(rawURL, c.baseURL) {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordFetch(string(KindTransient))
		return nil, &FetchError{Kind: KindTransient, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		metrics.RecordFetch("ok")
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordFetch(string(KindNotFound))
		return nil, &FetchError{Kind: KindNotFound, URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden && isRateLimited(resp):
		metrics.RecordFetch(string(KindRateLimited))
		return nil, &FetchError{Kind: KindRateLimited, URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		metrics.RecordFetch(string(KindForbidden))
		return nil, &FetchError{Kind: KindForbidden, URL: rawURL, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RecordFetch(string(KindRateLimited))
		return nil, &FetchError{Kind: KindRateLimited, URL: rawURL, StatusCode: resp.StatusCode}
	default:
		metrics.RecordFetch(string(KindTransient))
		return nil, &FetchError{Kind: KindTransient, URL: rawURL, StatusCode: resp.StatusCode}
	}

	if !readBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// isRateLimited distinguishes GitHub's rate-limit 403 from a permission 403.
func isRateLimited(resp *http.Response) bool {
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// sleepBackoff waits baseBackoff*2^(attempt-1) plus up to 50% jitter.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int63n(int64(d) / 2)) //nolint:gosec // jitter needs no crypto rand
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
