package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

// Client bundles the go-github client with the HTTP client it uses.
type Client struct {
	Client *github.Client
	HTTP   *http.Client
}

type options struct {
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
}

type Option func(*options)

// WithLogger logs one debug line per API request and response.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBaseURL points the client at a different API root (GitHub Enterprise or tests).
func WithBaseURL(raw string) Option {
	return func(o *options) { o.baseURL = raw }
}

// WithTimeout bounds every API request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("github api request", "method", req.Method, "url", req.URL.String())
	resp, err := t.base.RoundTrip(req)
	took := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("github api error", "took", took, "error", err)
		return resp, err
	}
	t.logger.Debug("github api response", "status", resp.StatusCode, "remaining", resp.Header.Get("X-RateLimit-Remaining"), "took", took)
	return resp, err
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}

	transport := http.DefaultTransport
	if o.logger != nil {
		transport = &loggingTransport{base: transport, logger: o.logger}
	}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: transport}
	}
	hc := &http.Client{Transport: transport, Timeout: o.timeout}

	gc := github.NewClient(hc)
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimRight(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github client: invalid base URL %q: %w", o.baseURL, err)
		}
		gc.BaseURL = u
	}

	return &Client{Client: gc, HTTP: hc}, nil
}
