package mapevents

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(string, int32, int64, string) {}
func (s *sess) MarkOffset(string, int32, int64, string)  {}
func (s *sess) Context() context.Context                 { return s.ctx }
func (s *sess) Errors() <-chan error                     { return nil }
func (s *sess) Commit()                                  {}

type claim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "map-events" }
func (c *claim) Partition() int32                         { return 0 }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(t *testing.T, op string, id int) []byte {
	t.Helper()
	b, err := json.Marshal(Event{Version: 1, Op: op, MapID: id, Title: "Coffee", TS: time.Unix(100, 0).UTC()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConsumeClaim_MarksAfterHandlingAndSkipsInvalid(t *testing.T) {
	var got []Event
	c := NewConsumer(ConsumerConfig{Topic: "map-events"}, func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	}, quiet())

	ch := make(chan *sarama.ConsumerMessage, 3)
	ch <- &sarama.ConsumerMessage{Offset: 1, Value: eventBytes(t, OpCreated, 0)}
	ch <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("{not json")}
	ch <- &sarama.ConsumerMessage{Offset: 3, Value: eventBytes(t, OpDeleted, 0)}
	close(ch)

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 3 {
		t.Fatalf("marked=%v want all three", s.marked)
	}
	if len(got) != 2 || got[0].Op != OpCreated || got[1].Op != OpDeleted {
		t.Fatalf("handled=%+v", got)
	}
}

func TestConsumeClaim_HandlerErrorStopsBeforeMark(t *testing.T) {
	c := NewConsumer(ConsumerConfig{}, func(context.Context, Event) error {
		return errors.New("disk full")
	}, quiet())

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- &sarama.ConsumerMessage{Offset: 7, Value: eventBytes(t, OpTitleUpdated, 2)}
	close(ch)

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v want none", s.marked)
	}
}

func TestStart_RequiresHandler(t *testing.T) {
	if err := NewConsumer(ConsumerConfig{}, nil, quiet()).Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAuditLog_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	a, err := OpenAuditLog(path)
	if err != nil {
		t.Fatalf("OpenAuditLog: %v", err)
	}
	ctx := context.Background()
	for i, op := range []string{OpCreated, OpTitleUpdated} {
		if err := a.Append(ctx, Event{Version: 1, Op: op, MapID: i, Title: "t", TS: time.Unix(1, 0).UTC()}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// reopening appends
	a, err = OpenAuditLog(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := a.Append(ctx, Event{Version: 1, Op: OpDeleted, MapID: 0, Title: "t", TS: time.Unix(2, 0).UTC()}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = a.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()
	var ops []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		ops = append(ops, ev.Op)
	}
	if len(ops) != 3 || ops[2] != OpDeleted {
		t.Fatalf("ops=%v", ops)
	}
}
