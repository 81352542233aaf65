package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cgast/exemplar/pkg/events"
	"github.com/cgast/exemplar/pkg/trial"
)

// Dispatcher delivers records to a Sink on a background goroutine, so
// callers never wait for delivery. It implements trial.Emitter. Failed
// deliveries are retried, then logged and dropped.
type Dispatcher struct {
	sink     Sink
	logger   *slog.Logger
	bus      events.EventBus
	attempts int
	backoff  time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	pending []trial.Record
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatcherEvents publishes record.emitted and record.failed events.
func WithDispatcherEvents(bus events.EventBus) DispatcherOption {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithRetry sets how many times a record is tried and the wait between
// tries, which grows linearly.
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.backoff = backoff
	}
}

// WithEmitTimeout bounds each delivery attempt.
func WithEmitTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher starts a dispatcher for s. Call Close to flush it.
func NewDispatcher(s Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:     s,
		logger:   slog.New(slog.DiscardHandler),
		attempts: 3,
		backoff:  200 * time.Millisecond,
		timeout:  DefaultHTTPTimeout,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Enqueue queues rec for delivery and returns immediately.
func (d *Dispatcher) Enqueue(rec trial.Record) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Error("record dropped, dispatcher closed",
			slog.String("session_id", rec.SessionID),
			slog.String("trial_id", rec.TrialID),
		)
		d.publish(events.EventRecordFailed, rec)
		return
	}
	d.pending = append(d.pending, rec)
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.mu.Unlock()
}

// Close stops accepting records and waits until queued ones are delivered
// or ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.wake)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		_, ok := <-d.wake
		for {
			d.mu.Lock()
			batch := d.pending
			d.pending = nil
			d.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, rec := range batch {
				d.deliver(rec)
			}
		}
		if !ok {
			return
		}
	}
}

func (d *Dispatcher) deliver(rec trial.Record) {
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		err = d.emit(rec)
		if err == nil {
			d.logger.Debug("record delivered",
				slog.String("session_id", rec.SessionID),
				slog.String("trial_id", rec.TrialID),
				slog.Int("attempt", attempt),
			)
			d.publish(events.EventRecordEmitted, rec)
			return
		}
		if attempt < d.attempts {
			time.Sleep(time.Duration(attempt) * d.backoff)
		}
	}

	d.logger.Error("failed to deliver record",
		slog.String("session_id", rec.SessionID),
		slog.String("trial_id", rec.TrialID),
		slog.Int("attempts", d.attempts),
		slog.Any("error", err),
	)
	d.publish(events.EventRecordFailed, rec)
}

func (d *Dispatcher) emit(rec trial.Record) error {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.sink.Emit(ctx, rec)
}

func (d *Dispatcher) publish(typ events.EventType, rec trial.Record) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.NewEvent(typ, rec.TrialID, rec))
}
