// Package registry pages through the crates.io listing API.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://crates.io"
	DefaultPerPage   = 100
	DefaultSort      = "downloads"
	DefaultUserAgent = "asmharvest (https://github.com/asmharvest/asmharvest)"
)

// PackageRef is one listed package. An empty Repository means the registry
// published no repository URL for it.
type PackageRef struct {
	ID         string `json:"id"`
	Repository string `json:"repository,omitempty"`
}

func (p PackageRef) HasRepository() bool {
	return strings.TrimSpace(p.Repository) != ""
}

// StatusError is returned when the registry answers a page request with a
// non-200 status.
type StatusError struct {
	Page       int
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry page %d: unexpected status %d %s", e.Page, e.StatusCode, http.StatusText(e.StatusCode))
}

type options struct {
	httpClient *http.Client
	userAgent  string
	perPage    int
	sort       string
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

func WithPerPage(n int) Option {
	return func(o *options) { o.perPage = n }
}

func WithSort(s string) Option {
	return func(o *options) { o.sort = s }
}

// WithRateLimit caps page requests per second. Zero or negative disables it.
func WithRateLimit(perSecond float64) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRequestTimeout bounds each page request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type Client struct {
	base *url.URL
	opts options
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("registry: invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("registry: base URL must be http(s), got %q", baseURL)
	}

	o := options{
		httpClient: http.DefaultClient,
		userAgent:  DefaultUserAgent,
		perPage:    DefaultPerPage,
		sort:       DefaultSort,
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     slog.Default(),
	}
	for _, apply := range opts {
		if apply != nil {
			apply(&o)
		}
	}
	if o.perPage <= 0 {
		return nil, fmt.Errorf("registry: page size must be >= 1, got %d", o.perPage)
	}
	if o.httpClient == nil {
		o.httpClient = http.DefaultClient
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Client{base: u, opts: o}, nil
}

func (c *Client) PerPage() int {
	return c.opts.perPage
}

func (c *Client) pageURL(page int) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/crates"
	q := url.Values{}
	q.Set("sort", c.opts.sort)
	q.Set("per_page", strconv.Itoa(c.opts.perPage))
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Page fetches one listing page.
func (c *Client) Page(ctx context.Context, page int) ([]PackageRef, error) {
	if ctx == nil {
		return nil, errors.New("registry: nil context")
	}
	if page < 1 {
		return nil, fmt.Errorf("registry: page must be >= 1, got %d", page)
	}
	if c.opts.limiter != nil {
		if err := c.opts.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("registry page %d: %w", page, err)
		}
	}

	rctx := ctx
	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.pageURL(page), nil)
	if err != nil {
		return nil, fmt.Errorf("registry page %d: %w", page, err)
	}
	req.Header.Set("User-Agent", c.opts.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry page %d: %w", page, err)
	}
	defer resp.Body.Close()
	c.opts.logger.Debug("registry page fetched", "page", page, "status", resp.StatusCode, "took", time.Since(start).Truncate(time.Millisecond))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Page: page, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry page %d: read body: %w", page, err)
	}
	return parsePage(page, body)
}

func parsePage(page int, body []byte) ([]PackageRef, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("registry page %d: invalid JSON", page)
	}
	crates := gjson.GetBytes(body, "crates")
	if !crates.IsArray() {
		return nil, fmt.Errorf("registry page %d: missing crates array", page)
	}

	var refs []PackageRef
	for _, c := range crates.Array() {
		id := c.Get("id").String()
		if id == "" {
			continue
		}
		ref := PackageRef{ID: id}
		if repo := c.Get("repository"); repo.Type == gjson.String {
			ref.Repository = strings.TrimSpace(repo.String())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
