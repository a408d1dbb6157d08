package llm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gateway serializes generation calls through two limiters: a token bucket
// sized to the configured requests-per-minute, and a burst-1 limiter that
// enforces the minimum gap between consecutive admissions. Waiters are
// admitted in FIFO order.
type Gateway struct {
	provider Provider
	bucket   *rate.Limiter
	gap      *rate.Limiter

	mu     sync.Mutex
	totals Usage
	calls  int
}

// NewGateway wraps a provider with rate limiting. maxRPM must be positive;
// minDelay of zero disables the inter-call gap.
func NewGateway(provider Provider, maxRPM int, minDelay time.Duration) *Gateway {
	gapLimit := rate.Inf
	if minDelay > 0 {
		gapLimit = rate.Every(minDelay)
	}
	return &Gateway{
		provider: provider,
		bucket:   rate.NewLimiter(rate.Limit(maxRPM)/rate.Limit(time.Minute.Seconds()), maxRPM),
		gap:      rate.NewLimiter(gapLimit, 1),
	}
}

// Acquire blocks until a slot is available or the context ends. A cancelled
// wait returns the context error and consumes nothing.
func (g *Gateway) Acquire(ctx context.Context) error {
	if err := g.gap.Wait(ctx); err != nil {
		return waitErr(ctx, err)
	}
	if err := g.bucket.Wait(ctx); err != nil {
		return waitErr(ctx, err)
	}
	return nil
}

// waitErr maps a limiter wait failure back to the context error. The rate
// package reports a would-exceed-deadline wait with its own error value, and
// returns it before the deadline actually passes, so callers could match
// neither context.Canceled nor context.DeadlineExceeded without this.
func waitErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return context.DeadlineExceeded
	}
	return err
}

// Generate admits the call through the limiters, runs the provider, and
// accumulates usage totals. Local throttling surfaces as waiting, never as a
// rate_limited error; that kind is reserved for the provider's own 429s.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, Usage, error) {
	waitStart := time.Now()
	if err := g.Acquire(ctx); err != nil {
		return "", Usage{}, err
	}
	if waited := time.Since(waitStart); waited > 100*time.Millisecond {
		slog.Debug("generation throttled", "provider", g.provider.Name(), "waited", waited.Round(time.Millisecond))
	}

	res, err := g.provider.Chat(ctx, req)
	if err != nil {
		return "", Usage{}, err
	}

	g.mu.Lock()
	g.totals.Add(res.Usage)
	g.calls++
	g.mu.Unlock()

	return res.Text, res.Usage, nil
}

// Totals returns the accumulated usage across all calls and the call count.
func (g *Gateway) Totals() (Usage, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totals, g.calls
}
