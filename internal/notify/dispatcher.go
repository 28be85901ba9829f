// Package notify delivers application events to external channels.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/session-roster/internal/application"
)

// ErrClosed is returned by Publish after Close was called.
var ErrClosed = errors.New("notify: dispatcher closed")

// Sink delivers one event to one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event application.Event) error
}

// PermanentError marks a delivery failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent delivery failure"
	}
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the dispatcher stops retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err, or anything it wraps, is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Delivery outcomes reported to DeliveryMetrics.
const (
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// DeliveryMetrics records per-sink delivery outcomes.
type DeliveryMetrics interface {
	ObserveDelivery(sink string, kind application.EventKind, outcome string)
}

type nopDeliveryMetrics struct{}

func (nopDeliveryMetrics) ObserveDelivery(string, application.EventKind, string) {}

// Options configures a Dispatcher.
type Options struct {
	Workers int
	// QueueSize is the backlog above which Publish logs back-pressure. Events
	// past it are still kept.
	QueueSize   int
	MaxAttempts int
	// BaseBackoff is the wait before the first retry; later waits double up
	// to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// AttemptTimeout bounds one Deliver call.
	AttemptTimeout time.Duration
	Metrics        DeliveryMetrics
	Logger         *slog.Logger
}

// DefaultOptions returns the dispatcher settings used by the daemon.
func DefaultOptions() Options {
	return Options{
		Workers:        2,
		QueueSize:      256,
		MaxAttempts:    5,
		BaseBackoff:    200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Dispatcher queues events and fans them out to every sink from a fixed pool
// of workers. It implements application.EventPublisher.
type Dispatcher struct {
	sinks   []Sink
	opts    Options
	metrics DeliveryMetrics
	logger  *slog.Logger

	mu       sync.Mutex
	ready    *sync.Cond
	closed   bool
	pending  []application.Event
	pressure bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ application.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher starts the workers. Zero option fields take their defaults.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaults.BaseBackoff
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = max(defaults.MaxBackoff, opts.BaseBackoff)
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaults.AttemptTimeout
	}

	d := &Dispatcher{
		sinks:   sinks,
		opts:    opts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		pending: make([]application.Event, 0, opts.QueueSize),
	}
	d.ready = sync.NewCond(&d.mu)
	if d.metrics == nil {
		d.metrics = nopDeliveryMetrics{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "notify")
	d.ctx, d.cancel = context.WithCancel(context.Background())

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish queues event without blocking. Events are never dropped: a backlog
// beyond QueueSize is kept until the workers catch up.
func (d *Dispatcher) Publish(ctx context.Context, event application.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.pending = append(d.pending, event)
	if backlog := len(d.pending); backlog > d.opts.QueueSize && !d.pressure {
		d.pressure = true
		d.logger.Warn("delivery backlog above queue size", "backlog", backlog, "queue_size", d.opts.QueueSize)
	}
	d.ready.Signal()
	return nil
}

// Backlog returns the number of events waiting for a worker.
func (d *Dispatcher) Backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx ends first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.ready.Broadcast()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// next blocks until an event is pending. It reports false once the
// dispatcher is closed and the backlog is empty.
func (d *Dispatcher) next() (application.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.pending) == 0 && !d.closed {
		d.ready.Wait()
	}
	if len(d.pending) == 0 {
		return application.Event{}, false
	}
	event := d.pending[0]
	d.pending[0] = application.Event{}
	d.pending = d.pending[1:]
	if len(d.pending) <= d.opts.QueueSize {
		d.pressure = false
	}
	return event, true
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for {
		event, ok := d.next()
		if !ok {
			return
		}
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event application.Event) {
	logger := d.logger.With("sink", sink.Name(), "event_kind", event.Kind, "session_id", event.SessionID)
	if event.PersonID != "" {
		logger = logger.With("person_id", event.PersonID)
	}

	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.opts.AttemptTimeout)
		err = sink.Deliver(ctx, event)
		cancel()

		if err == nil {
			d.metrics.ObserveDelivery(sink.Name(), event.Kind, OutcomeDelivered)
			return
		}
		if IsPermanent(err) || attempt == d.opts.MaxAttempts {
			break
		}

		wait := d.backoff(attempt)
		d.metrics.ObserveDelivery(sink.Name(), event.Kind, OutcomeRetried)
		logger.Warn("delivery failed, retrying", "attempt", attempt, "backoff", wait.String(), "error", err)

		select {
		case <-time.After(wait):
		case <-d.ctx.Done():
			d.metrics.ObserveDelivery(sink.Name(), event.Kind, OutcomeFailed)
			logger.Error("delivery abandoned on shutdown", "attempt", attempt, "error", err)
			return
		}
	}

	d.metrics.ObserveDelivery(sink.Name(), event.Kind, OutcomeFailed)
	logger.Error("delivery failed", "permanent", IsPermanent(err), "error", err)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	wait := d.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= d.opts.MaxBackoff {
			return d.opts.MaxBackoff
		}
	}
	return wait
}
