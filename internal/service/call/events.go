package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"callsignal-backend/internal/domain"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
)

// EventSink receives call events. Delivery is best effort and never affects the
// outcome of the operation that produced the event.
type EventSink interface {
	Publish(ctx context.Context, event *domain.CallEvent) error
}

// NopSink discards events
type NopSink struct{}

// Publish implements EventSink
func (NopSink) Publish(context.Context, *domain.CallEvent) error { return nil }

// NamedSink labels a sink for logs and metrics
type NamedSink struct {
	Name string
	Sink EventSink
}

// MultiSink fans an event out to several sinks and joins their errors
type MultiSink struct {
	sinks   []NamedSink
	metrics *metrics.Metrics
}

// NewMultiSink creates a fan-out sink. m may be nil.
func NewMultiSink(m *metrics.Metrics, sinks ...NamedSink) *MultiSink {
	return &MultiSink{sinks: sinks, metrics: m}
}

// Publish implements EventSink
func (ms *MultiSink) Publish(ctx context.Context, event *domain.CallEvent) error {
	var errs []error
	for _, ns := range ms.sinks {
		if err := ns.Sink.Publish(ctx, event); err != nil {
			if ms.metrics != nil {
				ms.metrics.RecordEventSinkFailure(ns.Name)
			}
			logger.ForCall(ctx, event.CallID).Warn("Call event sink failed",
				zap.String("sink", ns.Name),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink delivers events to a slow sink from a background worker. Events are
// dropped when the queue is full.
type AsyncSink struct {
	name    string
	sink    EventSink
	queue   chan *domain.CallEvent
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts a worker draining a queue of the given size into sink
func NewAsyncSink(name string, sink EventSink, size int, timeout time.Duration) *AsyncSink {
	a := &AsyncSink{
		name:    name,
		sink:    sink,
		queue:   make(chan *domain.CallEvent, size),
		timeout: timeout,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Publish enqueues the event without waiting for delivery
func (a *AsyncSink) Publish(ctx context.Context, event *domain.CallEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New(a.name + ": sink closed")
	}
	select {
	case a.queue <- event:
		return nil
	default:
		return errors.New(a.name + ": event queue full")
	}
}

func (a *AsyncSink) run() {
	defer a.wg.Done()
	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Publish(ctx, event); err != nil {
			logger.Warn("Async call event delivery failed",
				zap.String("sink", a.name),
				zap.String("call_id", event.CallID.String()),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// publish forwards an event to the configured sink. The request context is
// detached so a disconnecting client does not cancel delivery.
func (s *Service) publish(ctx context.Context, event *domain.CallEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.events.Publish(pubCtx, event); err != nil {
		logger.ForCall(ctx, event.CallID).Debug("Call event not fully delivered", zap.Error(err))
	}
}
