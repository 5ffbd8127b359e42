package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aws-samples/amazon-ecr-ingestion-demo/execlog"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/id"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/retry"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/schedule"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/task"
	"github.com/aws-samples/amazon-ecr-ingestion-demo/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testExecution(t *testing.T) *workflow.Execution {
	t.Helper()
	def, err := workflow.ImageSigner(time.Minute, retry.DefaultPolicy())
	if err != nil {
		t.Fatalf("ImageSigner: %v", err)
	}
	return &workflow.Execution{
		ID:         id.NewExecutionID(),
		Definition: def,
		Current:    workflow.StatePull,
		Status:     workflow.StatusRunning,
	}
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscriber %s closed", sub.ID())
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s timed out", sub.ID())
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscriber) {
	t.Helper()
	select {
	case evt := <-sub.C():
		t.Fatalf("subscriber %s got unexpected %s", sub.ID(), evt.Type)
	default:
	}
}

func TestBroker_ExecutionEvents(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC))
	b := NewBroker(testLogger(), WithClock(clock))
	exec := testExecution(t)

	firehose := b.Subscribe("firehose", TopicFirehose)
	one := b.Subscribe("one", ExecutionTopic(exec.ID.String()))
	other := b.Subscribe("other", ExecutionTopic(id.NewExecutionID().String()))
	triggers := b.Subscribe("triggers", TopicTriggers)

	ctx := context.Background()
	_ = b.OnExecutionStarted(ctx, exec)
	_ = b.OnTaskAttempted(ctx, exec, execlog.Attempt{
		State: workflow.StatePull, Task: task.Pull, Number: 1,
		Outcome: execlog.OutcomeError, ErrorClass: task.ClassThrottled, Error: "slow down",
		Delay: 2 * time.Second,
	})

	for _, sub := range []*Subscriber{firehose, one} {
		started := receive(t, sub)
		if started.Type != EventExecutionStarted {
			t.Fatalf("%s: first event = %s", sub.ID(), started.Type)
		}
		if !started.Timestamp.Equal(clock.Now()) {
			t.Errorf("%s: Timestamp = %v, want %v", sub.ID(), started.Timestamp, clock.Now())
		}
		if started.Topic != ExecutionTopic(exec.ID.String()) {
			t.Errorf("%s: Topic = %q", sub.ID(), started.Topic)
		}

		attempt := receive(t, sub)
		if attempt.Type != EventAttemptRecorded {
			t.Fatalf("%s: second event = %s", sub.ID(), attempt.Type)
		}
		var data ExecutionEventData
		if err := json.Unmarshal(attempt.Data, &data); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := ExecutionEventData{
			ExecutionID: exec.ID.String(),
			Definition:  workflow.ImageSignerName,
			State:       workflow.StatePull,
			Status:      "running",
			ErrorClass:  task.ClassThrottled,
			Error:       "slow down",
			Task:        task.Pull,
			Attempt:     1,
			Outcome:     "error",
			RetryInMs:   2000,
		}
		if data != want {
			t.Errorf("%s: data = %+v, want %+v", sub.ID(), data, want)
		}
	}
	expectNothing(t, other)
	expectNothing(t, triggers)
}

func TestBroker_TerminalEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub", TopicExecutions)
	exec := testExecution(t)
	ctx := context.Background()

	_ = b.OnExecutionSucceeded(ctx, exec, 12*time.Minute)
	_ = b.OnExecutionFailed(ctx, exec, task.Errorf(task.ClassCanceled, "engine stopping"))

	var data ExecutionEventData
	succeeded := receive(t, sub)
	if err := json.Unmarshal(succeeded.Data, &data); err != nil || data.ElapsedMs != 720000 {
		t.Errorf("succeeded data = %s (%v)", succeeded.Data, err)
	}
	failed := receive(t, sub)
	data = ExecutionEventData{}
	if err := json.Unmarshal(failed.Data, &data); err != nil || data.ErrorClass != task.ClassCanceled {
		t.Errorf("failed data = %s (%v)", failed.Data, err)
	}
}

func TestBroker_TickEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	trg := &schedule.Trigger{ID: id.NewTriggerID(), Name: "image-signer-daily"}
	tick := time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)

	triggers := b.Subscribe("triggers", TopicTriggers)
	one := b.Subscribe("one", TriggerTopic(trg.ID.String()))
	executions := b.Subscribe("executions", TopicExecutions)

	execID := id.NewExecutionID()
	_ = b.OnTickFired(context.Background(), trg, tick, execID)
	_ = b.OnTickDropped(context.Background(), trg, tick.Add(24*time.Hour), errors.New("store down"))

	for _, sub := range []*Subscriber{triggers, one} {
		fired := receive(t, sub)
		var data TickEventData
		if err := json.Unmarshal(fired.Data, &data); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if fired.Type != EventTickFired || data.ExecutionID != execID.String() || data.Tick != "2024-05-01T16:00:00Z" {
			t.Errorf("%s: fired = %s %+v", sub.ID(), fired.Type, data)
		}
		if dropped := receive(t, sub); dropped.Type != EventTickDropped {
			t.Errorf("%s: second event = %s", sub.ID(), dropped.Type)
		}
	}
	expectNothing(t, executions)
}

func TestBroker_RemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub", TopicFirehose, TopicExecutions)
	if got := b.Stats().SubscriberCount; got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	b.RemoveSubscriber("sub")
	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed")
	}
	if got := b.Topics().TopicCount(); got != 0 {
		t.Errorf("TopicCount = %d, want 0", got)
	}
	// Publishing with no subscribers is harmless.
	_ = b.OnExecutionStarted(context.Background(), testExecution(t))
	b.RemoveSubscriber("sub")
}

func TestBroker_ShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	before := b.Subscribe("before", TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}
	if _, ok := <-before.C(); ok {
		t.Error("existing subscriber should be closed")
	}

	after := b.Subscribe("after", TopicFirehose)
	if _, ok := <-after.C(); ok {
		t.Error("subscriber created after shutdown should be closed")
	}
	if got := b.Stats().SubscriberCount; got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestBroker_Stats(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	b.Subscribe("a", TopicFirehose)
	b.Subscribe("b", TopicExecutions, TopicFirehose)

	exec := testExecution(t)
	_ = b.OnExecutionStarted(context.Background(), exec)
	_ = b.OnExecutionSucceeded(context.Background(), exec, time.Second)

	stats := b.Stats()
	if stats.SubscriberCount != 2 || stats.TopicCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
	// One slot each: the first event is delivered, the second dropped.
	if stats.TotalPublished != 2 || stats.TotalDropped != 2 {
		t.Errorf("published/dropped = %d/%d, want 2/2", stats.TotalPublished, stats.TotalDropped)
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("f", 4)
	sub.SetFilter(func(evt *Event) bool { return evt.Type == EventExecutionFailed })

	if sub.send(&Event{Type: EventExecutionStarted}) {
		t.Error("filtered event should not be delivered")
	}
	if !sub.send(&Event{Type: EventExecutionFailed}) {
		t.Error("matching event should be delivered")
	}
	if sub.Dropped() != 0 {
		t.Errorf("filtered events are not drops, got %d", sub.Dropped())
	}
}

func TestSubscriberClosedSendIsNoop(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("c", 1)
	sub.Close()
	sub.Close()
	if sub.send(&Event{Type: EventTickFired}) {
		t.Error("send after Close should fail")
	}
}

func TestTopicValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		topic string
		valid bool
	}{
		{TopicExecutions, true},
		{TopicTriggers, true},
		{TopicFirehose, true},
		{ExecutionTopic("exec_01h455vb4pex5vsknk084sn02q"), true},
		{TriggerTopic("trg_01h455vb4pex5vsknk084sn02q"), true},
		{"execution:", false},
		{"job:123", false},
		{"everything", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateTopic(%q) = %v, want valid=%v", tt.topic, err, tt.valid)
		}
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evt  *Event
		want []string
	}{
		{
			evt:  &Event{Type: EventAttemptRecorded, Topic: "execution:x"},
			want: []string{TopicFirehose, TopicExecutions, "execution:x"},
		},
		{
			evt:  &Event{Type: EventTickDropped, Topic: "trigger:y"},
			want: []string{TopicFirehose, TopicTriggers, "trigger:y"},
		},
		{
			evt:  &Event{Type: EventExecutionFailed},
			want: []string{TopicFirehose, TopicExecutions},
		},
	}
	for _, tt := range tests {
		if got := resolveTopics(tt.evt); !slices.Equal(got, tt.want) {
			t.Errorf("resolveTopics(%s) = %v, want %v", tt.evt.Type, got, tt.want)
		}
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	tr := NewTopicRegistry()
	sub := NewSubscriber("dup", 4)
	tr.Subscribe(TopicFirehose, sub)
	tr.Subscribe(TopicExecutions, sub)

	if n := tr.Broadcast([]string{TopicFirehose, TopicExecutions}, &Event{Type: EventExecutionStarted}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if got := len(sub.C()); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
	if got := tr.SubscriberCount(TopicExecutions); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}
	tr.Unsubscribe(TopicExecutions, "dup")
	if got := slices.Sorted(slices.Values(sub.Topics())); !slices.Equal(got, []string{TopicFirehose}) {
		t.Errorf("Topics = %v", got)
	}
}
