package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestService_AppendRequiresSessionAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)

	if err := svc.Append(context.Background(), Event{Type: EventHangup}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), Event{SessionID: "s"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if len(repo.Events()) != 0 {
		t.Fatalf("invalid events must not be stored")
	}
}

func TestService_EmitFillsIDAndTime(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)

	svc.Emit(context.Background(), "s1", "room-1", EventHangupScheduled, "phrase", map[string]any{"delay_ms": 2000})

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at, got %+v", evs[0])
	}
	if repo.Count(EventHangupScheduled) != 1 {
		t.Fatalf("expected auto_hangup_scheduled")
	}
}

func TestService_NilIsNoop(t *testing.T) {
	var svc *Service
	svc.Emit(context.Background(), "s", "", EventHangup, "", nil)
	if err := svc.Append(context.Background(), Event{}); err != nil {
		t.Fatalf("nil service should not fail: %v", err)
	}
}

type failingRepo struct{}

func (failingRepo) Append(context.Context, Event) error { return errors.New("sink down") }

func TestFanout_ContinuesPastFailures(t *testing.T) {
	mem := NewMemoryRepo()
	f := Fanout{failingRepo{}, mem}

	err := f.Append(context.Background(), Event{SessionID: "s", Type: EventHangup})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(mem.Events()) != 1 {
		t.Fatalf("second sink should still receive the event")
	}
}

func TestLogRepo_WritesType(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	if err := NewLogRepo(log).Append(context.Background(), Event{SessionID: "s", Type: EventHangupFailed, Message: "boom"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["type"] != "auto_hangup_failed" || line["level"] != "WARN" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaRepo_KeysBySession(t *testing.T) {
	w := &fakeWriter{}
	repo := &KafkaRepo{writer: w, topic: "call.outcomes"}

	if err := repo.Append(context.Background(), Event{ID: "e1", SessionID: "s1", Type: EventHangup}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "s1" {
		t.Fatalf("unexpected messages: %+v", w.msgs)
	}
	var got Event
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil || got.ID != "e1" {
		t.Fatalf("payload = %s err=%v", w.msgs[0].Value, err)
	}
}

func TestNewKafkaRepo_RequiresConfig(t *testing.T) {
	if _, err := NewKafkaRepo(KafkaOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

type fakePublisher struct {
	topics []string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestMQTTRepo_Topic(t *testing.T) {
	pub := &fakePublisher{}
	repo := &MQTTRepo{pub: pub, prefix: "callflow"}

	if err := repo.Append(context.Background(), Event{SessionID: "s1", Type: EventRecordingStarted}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "callflow/call/s1/recording_started" {
		t.Fatalf("topics = %v", pub.topics)
	}
	if !strings.HasPrefix(repo.Topic(Event{SessionID: "x", Type: EventHangup}), "callflow/call/x/") {
		t.Fatalf("bad topic")
	}
}
