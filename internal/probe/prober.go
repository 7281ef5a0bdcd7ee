package probe

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/poold/internal/backend"
	"github.com/angeloszaimis/poold/internal/metrics"
	"github.com/angeloszaimis/poold/internal/pool"
)

// Prober issues liveness probes and feeds debounced verdicts into the pool
// manager. One Run goroutine per backend.
type Prober struct {
	pool      *pool.Manager
	collector *metrics.Collector
	interval  time.Duration
	timeout   time.Duration
	threshold int
	logger    *slog.Logger
	client    *http.Client
}

// New creates a prober. collector may be nil.
func New(
	pool *pool.Manager,
	collector *metrics.Collector,
	interval time.Duration,
	timeout time.Duration,
	threshold int,
	logger *slog.Logger,
) *Prober {
	return &Prober{
		pool:      pool,
		collector: collector,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		logger:    logger,
		client: &http.Client{
			// A redirect is already proof of liveness; never follow it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Run probes one backend on a fixed interval until ctx is cancelled.
// A probe that exceeds the timeout is abandoned and counted as a failure.
func (p *Prober) Run(ctx context.Context, b *backend.Backend) {
	tracker := NewTracker(p.threshold)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Probe loop stopped",
				slog.String("backend", b.ID()))
			return

		case <-ticker.C:
			p.probeOnce(ctx, b, tracker)
		}
	}
}

// ProbeOnce issues a single probe and applies its verdict, outside of any
// ticker loop. Used by one-shot status reporting.
func (p *Prober) ProbeOnce(ctx context.Context, b *backend.Backend) bool {
	return p.check(ctx, b)
}

func (p *Prober) probeOnce(ctx context.Context, b *backend.Backend, tracker *Tracker) {
	if p.check(ctx, b) {
		tracker.RecordSuccess()
		p.mark(b, true)
		return
	}

	if tracker.RecordFailure() {
		p.mark(b, false)
	}
}

// check reports whether the backend answered 2xx/3xx within the timeout.
func (p *Prober) check(ctx context.Context, b *backend.Backend) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	probeURL := b.URL().ResolveReference(&url.URL{Path: "/"})

	req, err := http.NewRequestWithContext(
		probeCtx, http.MethodGet, probeURL.String(), nil)
	if err != nil {
		return false
	}

	res, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()

	return res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusBadRequest
}

func (p *Prober) mark(b *backend.Backend, healthy bool) {
	changed, err := p.pool.Mark(b.ID(), healthy)
	if err != nil {
		p.logger.Error("Failed to record probe verdict",
			slog.String("backend", b.ID()),
			slog.Any("err", err))
		return
	}

	if !changed {
		return
	}

	if healthy {
		p.logger.Info("Backend is healthy",
			slog.String("backend", b.ID()),
			slog.String("address", b.Address()))
	} else {
		p.logger.Warn("Backend is down",
			slog.String("backend", b.ID()),
			slog.String("address", b.Address()))
	}

	if p.collector != nil {
		p.collector.Emit(metrics.Event{
			Type:      metrics.EventHealthChanged,
			Timestamp: time.Now(),
			Backend:   b.ID(),
			Healthy:   healthy,
		})
	}
}
