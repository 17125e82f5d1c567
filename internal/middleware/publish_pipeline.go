package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	domrepo "BollingerChart/internal/domain/repository"
	applogger "BollingerChart/pkg/logger"
)

// PublishPipeline sits between the chart and the downstream publisher. Events
// that fail to publish are buffered and retried in order with backoff; when the
// buffer is full new failures are dropped.
type PublishPipeline struct {
	next       domrepo.BandPublisher
	metrics    domrepo.Metrics
	l          *applogger.Logger
	bufSize    int
	minBackoff time.Duration
	maxBackoff time.Duration

	bufCh   chan *domrepo.BandsEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	started bool
	stopped bool

	// sendMu serializes direct sends; pending counts buffered events that are
	// not yet delivered, including the one flush is retrying.
	sendMu  sync.Mutex
	pending int
}

type PipelineOption func(*PublishPipeline)

// WithBufferSize sets how many failed events are kept for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *PublishPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff sets the retry delay range.
func WithBackoff(lo, hi time.Duration) PipelineOption {
	return func(p *PublishPipeline) {
		if lo > 0 && hi >= lo {
			p.minBackoff, p.maxBackoff = lo, hi
		}
	}
}

func NewPublishPipeline(next domrepo.BandPublisher, metrics domrepo.Metrics, l *applogger.Logger, opts ...PipelineOption) *PublishPipeline {
	p := &PublishPipeline{
		next:       next,
		metrics:    metrics,
		l:          l,
		bufSize:    64,
		minBackoff: 50 * time.Millisecond,
		maxBackoff: 2 * time.Second,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *domrepo.BandsEvent, p.bufSize)
	return p
}

// Start launches the background retry loop.
func (p *PublishPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flush(ctx)
}

func (p *PublishPipeline) flush(ctx context.Context) {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case ev := <-p.bufCh:
			backoff := p.minBackoff
			for {
				err := p.next.Publish(ctx, ev)
				if err == nil {
					p.sendMu.Lock()
					p.pending--
					p.sendMu.Unlock()
					break
				}
				p.recordError("pipeline_retry")
				select {
				case <-p.stopCh:
					p.l.Warn("publish pipeline stopped with pending events", applogger.Int("pending", p.Pending()))
					return
				case <-time.After(backoff):
				}
				if backoff *= 2; backoff > p.maxBackoff {
					backoff = p.maxBackoff
				}
			}
		}
	}
}

// Publish forwards e downstream. While older events are still pending, e
// queues behind them so consumers see recomputations in order.
func (p *PublishPipeline) Publish(ctx context.Context, e *domrepo.BandsEvent) error {
	if e == nil {
		return fmt.Errorf("pipeline: nil event")
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if p.pending == 0 {
		err := p.next.Publish(ctx, e)
		if err == nil {
			return nil
		}
		p.recordError("pipeline_publish")
		p.enqueueLocked(e)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.enqueueLocked(e)
	return nil
}

// Pending returns the number of events waiting for delivery.
func (p *PublishPipeline) Pending() int {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.pending
}

// Close stops the retry loop and closes the downstream publisher.
func (p *PublishPipeline) Close() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.doneCh
	}
	return p.next.Close()
}

// enqueueLocked must be called with p.sendMu held.
func (p *PublishPipeline) enqueueLocked(e *domrepo.BandsEvent) {
	select {
	case p.bufCh <- e:
		p.pending++
	default:
		p.recordError("pipeline_buffer_full")
		p.l.Warn("publish buffer full, dropping event", applogger.Int("points", len(e.Points)))
	}
}

func (p *PublishPipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}
