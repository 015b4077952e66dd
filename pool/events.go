package pool

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// LifecycleEventType names the lifecycle notifications published on the
// pool.lifecycle subject. This is strictly an observability side channel
// (spec.md §4.6/§4.10 [EXPANSION]) — publish failures never affect the
// operation that triggered them.
type LifecycleEventType string

const (
	EventWorkerSpawned     LifecycleEventType = "worker_spawned"
	EventWorkerEvicted     LifecycleEventType = "worker_evicted"
	EventWorkerFailed      LifecycleEventType = "worker_failed"
	EventCircuitOpened     LifecycleEventType = "circuit_opened"
	EventCircuitClosed     LifecycleEventType = "circuit_closed"
	EventPressureChanged   LifecycleEventType = "pressure_changed"
)

// lifecycleEvent is the JSON payload published for each notification,
// mirroring the teacher's Queue.PublishDLQJob fire-and-forget JSON publish
// pattern (internal/messaging/nats/nats.go).
type lifecycleEvent struct {
	Event       LifecycleEventType `json:"event"`
	RegistryKey string             `json:"registry_key,omitempty"`
	WorkerID    uint64             `json:"worker_id,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// LifecycleSubject is the NATS subject lifecycle events are published on.
const LifecycleSubject = "pool.lifecycle"

// LifecycleBus publishes pool lifecycle events to an optional NATS
// connection. A nil *LifecycleBus (or one constructed with a nil
// connection) is safe to call any method on — it simply does nothing, so the
// pool core never needs a conditional at every call site.
type LifecycleBus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewLifecycleBus wraps an established NATS connection. Pass nil to get a
// no-op bus (e.g. when no NATS server is configured).
func NewLifecycleBus(conn *nats.Conn, logger *zap.Logger) *LifecycleBus {
	return &LifecycleBus{conn: conn, logger: logger}
}

func (b *LifecycleBus) publish(evt lifecycleEvent) {
	if b == nil || b.conn == nil {
		return
	}
	evt.Timestamp = time.Now()
	data, err := json.Marshal(evt)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("failed to marshal lifecycle event", zap.Error(err))
		}
		return
	}
	if err := b.conn.Publish(LifecycleSubject, data); err != nil {
		if b.logger != nil {
			b.logger.Warn("failed to publish lifecycle event", zap.Error(err))
		}
	}
}

// WorkerSpawned publishes a worker_spawned event.
func (b *LifecycleBus) WorkerSpawned(registryKey string, workerID uint64) {
	b.publish(lifecycleEvent{Event: EventWorkerSpawned, RegistryKey: registryKey, WorkerID: workerID})
}

// WorkerEvicted publishes a worker_evicted event.
func (b *LifecycleBus) WorkerEvicted(registryKey string, workerID uint64) {
	b.publish(lifecycleEvent{Event: EventWorkerEvicted, RegistryKey: registryKey, WorkerID: workerID})
}

// WorkerFailed publishes a worker_failed event with a detail string.
func (b *LifecycleBus) WorkerFailed(registryKey string, detail string) {
	b.publish(lifecycleEvent{Event: EventWorkerFailed, RegistryKey: registryKey, Detail: detail})
}

// CircuitOpened publishes a circuit_opened event.
func (b *LifecycleBus) CircuitOpened(registryKey string) {
	b.publish(lifecycleEvent{Event: EventCircuitOpened, RegistryKey: registryKey})
}

// CircuitClosed publishes a circuit_closed event.
func (b *LifecycleBus) CircuitClosed(registryKey string) {
	b.publish(lifecycleEvent{Event: EventCircuitClosed, RegistryKey: registryKey})
}

// PressureChanged publishes a pressure_changed event with the new level as
// detail.
func (b *LifecycleBus) PressureChanged(pressure Pressure) {
	b.publish(lifecycleEvent{Event: EventPressureChanged, Detail: pressure.String()})
}
