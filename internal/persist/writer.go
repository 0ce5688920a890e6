package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/signalsfoundry/huntsync/internal/logging"
)

// Operation names reported to failure hooks and metrics.
const (
	OpWrite  = "write"
	OpDelete = "delete"
)

// BreakerConfig tunes the circuit breaker in front of the backend. While the
// breaker is open, queued operations are dropped and the service runs
// memory-only.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// WriterOptions configures an AsyncWriter.
type WriterOptions struct {
	QueueSize      int
	EnqueueTimeout time.Duration
	Breaker        BreakerConfig
	Logger         logging.Logger

	// OnFailure is called from the writer goroutine for every operation the
	// backend rejected or the breaker dropped.
	OnFailure func(op string, err error)
	// OnStateChange is called when the breaker changes state.
	OnStateChange func(from, to gobreaker.State)
}

func (o *WriterOptions) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.EnqueueTimeout <= 0 {
		o.EnqueueTimeout = 50 * time.Millisecond
	}
	if o.Breaker.ConsecutiveFailures == 0 {
		o.Breaker.ConsecutiveFailures = 5
	}
	if o.Breaker.OpenTimeout <= 0 {
		o.Breaker.OpenTimeout = 30 * time.Second
	}
	if o.Breaker.HalfOpenRequests == 0 {
		o.Breaker.HalfOpenRequests = 1
	}
	if o.Logger == nil {
		o.Logger = logging.Noop()
	}
}

type opKind int

const (
	kindWrite opKind = iota
	kindDelete
	kindBarrier
)

type op struct {
	kind  opKind
	path  string
	value json.RawMessage
	done  chan struct{}
}

// AsyncWriter applies writes and deletes on a single goroutine in the order
// they were accepted, so operations on the same key are never reordered.
// Callers never block on disk I/O.
type AsyncWriter struct {
	backend Port
	opts    WriterOptions
	log     logging.Logger
	cb      *gobreaker.CircuitBreaker

	mu     sync.RWMutex
	closed bool
	queue  chan op
	done   chan struct{}
}

// NewAsyncWriter starts the writer goroutine in front of backend.
func NewAsyncWriter(backend Port, opts WriterOptions) *AsyncWriter {
	opts.setDefaults()
	w := &AsyncWriter{
		backend: backend,
		opts:    opts,
		log:     opts.Logger.With(logging.String("component", "persistence")),
		queue:   make(chan op, opts.QueueSize),
		done:    make(chan struct{}),
	}
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: opts.Breaker.HalfOpenRequests,
		Timeout:     opts.Breaker.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.Breaker.ConsecutiveFailures
		},
		OnStateChange: w.stateChanged,
	})
	go w.run()
	return w
}

// Write queues value for path. The value is encoded before returning, so the
// caller may reuse it.
func (w *AsyncWriter) Write(path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return w.enqueue(op{kind: kindWrite, path: path, value: raw})
}

// Delete queues removal of path.
func (w *AsyncWriter) Delete(path string) error {
	return w.enqueue(op{kind: kindDelete, path: path})
}

// ReadAll reads synchronously from the backend. It is used at boot, before
// any writes are queued.
func (w *AsyncWriter) ReadAll(path string, out any) (bool, error) {
	return w.backend.ReadAll(path, out)
}

// State reports the breaker state: "closed", "half-open" or "open".
func (w *AsyncWriter) State() gobreaker.State {
	return w.cb.State()
}

// Flush blocks until every operation accepted before the call has been
// applied or dropped.
func (w *AsyncWriter) Flush(ctx context.Context) error {
	done := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	select {
	case w.queue <- op{kind: kindBarrier, done: done}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting operations and waits for the queue to drain.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) enqueue(o op) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- o:
		return nil
	default:
	}
	timer := time.NewTimer(w.opts.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- o:
		return nil
	case <-timer.C:
		return fmt.Errorf("%s %q: %w", o.kindName(), o.path, ErrQueueFull)
	}
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for o := range w.queue {
		if o.kind == kindBarrier {
			close(o.done)
			continue
		}
		w.apply(o)
	}
}

func (w *AsyncWriter) apply(o op) {
	_, err := w.cb.Execute(func() (interface{}, error) {
		if o.kind == kindDelete {
			return nil, w.backend.Delete(o.path)
		}
		return nil, w.backend.Write(o.path, o.value)
	})
	if err == nil {
		return
	}

	ctx := context.Background()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.log.Debug(ctx, "persistence dropped while breaker open",
			logging.String("op", o.kindName()),
			logging.String("path", o.path),
		)
	} else {
		w.log.Warn(ctx, "persistence failed",
			logging.String("op", o.kindName()),
			logging.String("path", o.path),
			logging.Err(err),
		)
	}
	if w.opts.OnFailure != nil {
		w.opts.OnFailure(o.kindName(), err)
	}
}

func (w *AsyncWriter) stateChanged(_ string, from, to gobreaker.State) {
	ctx := context.Background()
	fields := []logging.Field{
		logging.String("from", from.String()),
		logging.String("to", to.String()),
	}
	if to == gobreaker.StateOpen {
		w.log.Error(ctx, "persistence breaker open, running memory-only", fields...)
	} else {
		w.log.Info(ctx, "persistence breaker state changed", fields...)
	}
	if w.opts.OnStateChange != nil {
		w.opts.OnStateChange(from, to)
	}
}

func (o op) kindName() string {
	if o.kind == kindDelete {
		return OpDelete
	}
	return OpWrite
}
