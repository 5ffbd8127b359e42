package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/ext"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Broker)(nil)
	_ ext.ExecutionStarted   = (*Broker)(nil)
	_ ext.TaskAttempted      = (*Broker)(nil)
	_ ext.ExecutionSucceeded = (*Broker)(nil)
	_ ext.ExecutionFailed    = (*Broker)(nil)
	_ ext.TickFired          = (*Broker)(nil)
	_ ext.TickDropped        = (*Broker)(nil)
	_ ext.Shutdown           = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker is the real-time stream broker. It receives lifecycle events as an
// extension and fans them out to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger
	clock  clockwork.Clock

	subscribers sync.Map // subscriberID → *Subscriber
	closed      atomic.Bool

	totalPublished atomic.Int64
	bufferSize     int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithClock sets the clock used to timestamp events.
func WithClock(c clockwork.Clock) BrokerOption {
	return func(b *Broker) { b.clock = c }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		clock:      clockwork.NewRealClock(),
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics. After Close the
// returned subscriber's channel is already closed.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	if b.closed.Load() {
		sub.Close()
		return sub
	}
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	// Close may have run between the check and the store.
	if b.closed.Load() {
		b.RemoveSubscriber(subscriberID)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Close removes and closes every subscriber. Later subscriptions are
// closed on creation.
func (b *Broker) Close() {
	b.closed.Store(true)
	b.subscribers.Range(func(key, _ any) bool {
		b.RemoveSubscriber(key.(string)) //nolint:errcheck // sync.Map always stores string keys
		return true
	})
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	stats := BrokerStats{
		TopicCount:     b.topics.TopicCount(),
		TotalPublished: b.totalPublished.Load(),
	}
	b.subscribers.Range(func(_, value any) bool {
		stats.SubscriberCount++
		stats.TotalDropped += value.(*Subscriber).Dropped() //nolint:errcheck // sync.Map always stores *Subscriber
		return true
	})
	return stats
}

// BrokerStats contains broker metrics. TotalDropped covers current
// subscribers only.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// publish stamps evt and broadcasts it to every matching topic.
func (b *Broker) publish(typ EventType, topic string, data any) {
	evt := &Event{
		Type:      typ,
		Timestamp: b.clock.Now().UTC(),
		Topic:     topic,
		Data:      mustMarshal(data),
	}
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (b *Broker) OnExecutionStarted(_ context.Context, exec *workflow.Execution) error {
	b.publish(EventExecutionStarted, ExecutionTopic(exec.ID.String()), executionData(exec))
	return nil
}

// OnTaskAttempted implements ext.TaskAttempted.
func (b *Broker) OnTaskAttempted(_ context.Context, exec *workflow.Execution, a execlog.Attempt) error {
	data := executionData(exec)
	data.State = a.State
	data.Task = a.Task
	data.Attempt = a.Number
	data.Outcome = string(a.Outcome)
	data.ErrorClass = a.ErrorClass
	data.Error = a.Error
	data.RetryInMs = a.Delay.Milliseconds()
	b.publish(EventAttemptRecorded, ExecutionTopic(exec.ID.String()), data)
	return nil
}

// OnExecutionSucceeded implements ext.ExecutionSucceeded.
func (b *Broker) OnExecutionSucceeded(_ context.Context, exec *workflow.Execution, elapsed time.Duration) error {
	data := executionData(exec)
	data.ElapsedMs = elapsed.Milliseconds()
	b.publish(EventExecutionSucceeded, ExecutionTopic(exec.ID.String()), data)
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (b *Broker) OnExecutionFailed(_ context.Context, exec *workflow.Execution, execErr error) error {
	data := executionData(exec)
	data.ErrorClass = task.ClassOf(execErr)
	data.Error = execErr.Error()
	b.publish(EventExecutionFailed, ExecutionTopic(exec.ID.String()), data)
	return nil
}

// ── Schedule hooks ──────────────────────────────────

// OnTickFired implements ext.TickFired.
func (b *Broker) OnTickFired(_ context.Context, t *schedule.Trigger, tick time.Time, executionID id.ExecutionID) error {
	b.publish(EventTickFired, TriggerTopic(t.ID.String()), TickEventData{
		TriggerID:   t.ID.String(),
		TriggerName: t.Name,
		Tick:        tick.UTC().Format(time.RFC3339),
		ExecutionID: executionID.String(),
	})
	return nil
}

// OnTickDropped implements ext.TickDropped.
func (b *Broker) OnTickDropped(_ context.Context, t *schedule.Trigger, tick time.Time, dropErr error) error {
	b.publish(EventTickDropped, TriggerTopic(t.ID.String()), TickEventData{
		TriggerID:   t.ID.String(),
		TriggerName: t.Name,
		Tick:        tick.UTC().Format(time.RFC3339),
		Error:       dropErr.Error(),
	})
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown implements ext.Shutdown.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.Close()
	b.logger.Info("stream broker shut down")
	return nil
}

func executionData(exec *workflow.Execution) ExecutionEventData {
	data := ExecutionEventData{
		ExecutionID: exec.ID.String(),
		State:       exec.Current,
		Status:      string(exec.Status),
	}
	if exec.Definition != nil {
		data.Definition = exec.Definition.Name()
	}
	if !exec.Trigger.IsNil() {
		data.Trigger = exec.Trigger.String()
	}
	return data
}
