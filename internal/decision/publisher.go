package decision

import (
	"context"
	"log/slog"
	"sync"
)

const defaultBuffer = 256

// Publisher hands decision records to the store off the request path.
// Emit never blocks and never returns an error to the caller: a slow or
// failing log write must not delay the admit/deny decision. Records that
// cannot be buffered are dropped and counted.
type Publisher struct {
	store  Store
	logger *slog.Logger

	inbox chan Record
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int64
}

type PublisherOption func(*Publisher)

// WithBuffer sets the emit buffer size.
func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.inbox = make(chan Record, n)
		}
	}
}

// NewPublisher starts the background writer. Callers must Close to drain.
func NewPublisher(store Store, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: logger,
		inbox:  make(chan Record, defaultBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for rec := range p.inbox {
		// Store failures are recovered locally: logged and dropped.
		if err := p.store.Append(context.Background(), rec); err != nil {
			p.logger.Error("failed to append decision record",
				"record_id", rec.ID,
				"identity", rec.Identity.Key(),
				"error", err,
			)
		}
	}
}

// Emit queues a record for persistence. Non-blocking: when the buffer is
// full the record is dropped with a warning.
func (p *Publisher) Emit(rec Record) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	select {
	case p.inbox <- rec:
		p.mu.Unlock()
	default:
		p.dropped++
		dropped := p.dropped
		p.mu.Unlock()
		p.logger.Warn("decision record dropped, emit buffer full",
			"record_id", rec.ID,
			"dropped_total", dropped,
		)
	}
}

// Dropped reports how many records were discarded due to a full buffer.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close drains queued records and stops the writer.
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.inbox)
	p.wg.Wait()
}
