package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrBudgetExhausted is returned by Acquire when the next request would have
// to wait longer than the budget's maximum wait.
var ErrBudgetExhausted = errors.New("GitHub rate limit exhausted")

// DefaultMaxWait bounds how long Acquire blocks for a cooldown or a window
// reset.
const DefaultMaxWait = 30 * time.Second

// RequestBudget tracks the GitHub rate-limit window reported in response
// headers. Once it is exhausted callers wait for the window reset, but never
// longer than the maximum wait.
type RequestBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	maxWait   time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		remaining: 60, // unauthenticated GitHub limit until the first response says otherwise
		reset:     time.Now().Add(time.Hour),
		maxWait:   DefaultMaxWait,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// SetMaxWait changes the longest wait Acquire accepts. Zero fails fast.
func (b *RequestBudget) SetMaxWait(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxWait = max(d, 0)
}

// Acquire takes one request from the budget, waiting for a Retry-After
// cooldown or for the window reset when nothing is left. A wait longer than
// the maximum returns ErrBudgetExhausted without sleeping.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	if b == nil {
		return errors.New("request budget is nil")
	}
	for {
		b.mu.Lock()
		now := b.now()
		var wait time.Duration
		switch {
		case now.Before(b.cooldown):
			wait = b.cooldown.Sub(now)
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// Window elapsed without a fresh header; allow a probe request.
			b.reset = now.Add(time.Hour)
			b.mu.Unlock()
			return nil
		default:
			wait = b.reset.Sub(now)
		}
		maxWait := b.maxWait
		b.mu.Unlock()

		if wait > maxWait {
			return fmt.Errorf("%w: next request allowed in %s", ErrBudgetExhausted, wait.Round(time.Second))
		}

		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// UpdateFromResponse applies X-RateLimit-Remaining, X-RateLimit-Reset and
// Retry-After headers.
func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
		if until := b.now().Add(time.Duration(v) * time.Second); until.After(b.cooldown) {
			b.cooldown = until
		}
	}
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && v >= 0 {
		b.remaining = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		b.reset = time.Unix(v, 0)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
