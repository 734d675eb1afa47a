package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah-isme/gema-community-api/internal/observability"
)

// FetchFunc re-reads the full record set for one view.
type FetchFunc func(ctx context.Context) ([]ChangeEvent, error)

// Poller re-fetches a view on a fixed interval as a safety net for the change feed.
// At most one fetch is outstanding: when the next tick fires before the previous fetch
// resolved, the previous fetch is cancelled and its result discarded.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	sink     Sink
	limiter  *rate.Limiter
	view     string
	logger   zerolog.Logger

	mu         sync.Mutex
	generation uint64
	inflight   context.CancelFunc
	wg         sync.WaitGroup
}

// NewPoller constructs a poller. limiter may be nil.
func NewPoller(interval time.Duration, fetch FetchFunc, sink Sink, limiter *rate.Limiter, view string, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		sink:     sink,
		limiter:  limiter,
		view:     view,
		logger:   logger.With().Str("component", "realtime_poller").Str("view", view).Logger(),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.start(ctx)
	for {
		select {
		case <-ctx.Done():
			p.abandon()
			p.wg.Wait()
			return
		case <-ticker.C:
			p.start(ctx)
		}
	}
}

// PollOnce performs a single synchronous fetch and forwards the results.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	p.generation++
	generation := p.generation
	p.mu.Unlock()

	return p.poll(ctx, generation)
}

func (p *Poller) start(ctx context.Context) {
	p.mu.Lock()
	if p.inflight != nil {
		p.inflight()
		observability.RealtimePolls().WithLabelValues(p.view, "abandoned").Inc()
	}
	p.generation++
	generation := p.generation
	fetchCtx, cancel := context.WithCancel(ctx)
	p.inflight = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.finish(generation, cancel)
		_ = p.poll(fetchCtx, generation)
	}()
}

func (p *Poller) finish(generation uint64, cancel context.CancelFunc) {
	cancel()
	p.mu.Lock()
	if p.generation == generation {
		p.inflight = nil
	}
	p.mu.Unlock()
}

func (p *Poller) abandon() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight != nil {
		p.inflight()
		p.inflight = nil
	}
	p.generation++
}

func (p *Poller) current(generation uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation == generation
}

func (p *Poller) poll(ctx context.Context, generation uint64) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	events, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug().Err(err).Msg("poll fetch failed; retrying next interval")
			observability.RealtimePolls().WithLabelValues(p.view, "error").Inc()
		}
		return err
	}

	if ctx.Err() != nil || !p.current(generation) {
		observability.RealtimePolls().WithLabelValues(p.view, "discarded").Inc()
		return context.Canceled
	}

	for _, event := range events {
		event.Source = SourcePoll
		if event.Kind == "" {
			event.Kind = ChangeUpdate
		}
		if !p.sink(ctx, event) {
			return ctx.Err()
		}
	}

	observability.RealtimePolls().WithLabelValues(p.view, "ok").Inc()
	return nil
}
