package monitor

import (
	"log/slog"
	"sync"

	"github.com/attestra/attestra/internal/metrics"
	"github.com/attestra/attestra/internal/registry"
)

// ListenerFunc consumes one change event. Returning an error marks the
// delivery failed for that listener only.
type ListenerFunc func(ev registry.ChangeEvent) error

type subscriber struct {
	name string
	fn   ListenerFunc
}

// Bus fans change events out to registered listeners. Each delivery is
// isolated: a listener that panics or errors cannot block or crash
// delivery to the others, so a broken external integration can never
// stop evidence from being recorded.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscriber
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBus builds an empty bus.
func NewBus(logger *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{logger: logger, metrics: m}
}

// Subscribe registers a named listener. Names are used only for
// logging and metrics.
func (b *Bus) Subscribe(name string, fn ListenerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, fn: fn})
}

// Publish delivers the event to every listener in subscription order.
func (b *Bus) Publish(ev registry.ChangeEvent) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub subscriber, ev registry.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "listener", sub.name, "event", ev.ID, "panic", r)
			b.metrics.ListenerErrors.WithLabelValues(sub.name).Inc()
		}
	}()
	if err := sub.fn(ev); err != nil {
		b.logger.Error("listener failed", "listener", sub.name, "event", ev.ID, "error", err)
		b.metrics.ListenerErrors.WithLabelValues(sub.name).Inc()
	}
}
