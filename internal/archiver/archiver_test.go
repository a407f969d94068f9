package archiver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/store"
)

type fakeSink struct {
	mu      sync.Mutex
	entries map[string]domain.ResponseEntry
	fail    map[string]bool // ref → ошибка вставки
}

func newFakeSink() *fakeSink {
	return &fakeSink{entries: make(map[string]domain.ResponseEntry), fail: make(map[string]bool)}
}

func (s *fakeSink) Insert(_ context.Context, e *domain.ResponseEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[e.Ref] {
		return false, errors.New("db unavailable")
	}
	key := e.Stream + "/" + e.ID
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = *e
	return true, nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []mq.ResponseArchivedPayload
}

func (n *fakeNotifier) PublishResponseArchived(_ context.Context, p mq.ResponseArchivedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, p)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return store.New(rdb)
}

func appendResponse(t *testing.T, s *store.Store, stream, ref string) string {
	t.Helper()
	id, err := s.Append(context.Background(), stream, map[string]any{
		"ref":  ref,
		"type": "demo-worker",
		"xid":  "1700000000000-0",
		"code": "200",
		"res":  `{"code":200,"ref":"` + ref + `"}`,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return id
}

func newTestArchiver(t *testing.T, s *store.Store, sink Sink, notifier Notifier) *Archiver {
	t.Helper()
	cfg := Config{
		Source:   s,
		Sink:     sink,
		Streams:  []string{"s:x"},
		Consumer: "arc-1",
		Block:    10 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if notifier != nil {
		cfg.Notifier = notifier
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return a
}

func TestParseEntry(t *testing.T) {
	e, err := ParseEntry("s:x", store.Entry{ID: "1700000000123-0", Fields: map[string]string{
		"ref": "abc", "type": "demo-worker", "xid": "1-0", "code": "500", "res": "{}",
	}})
	if err != nil {
		t.Fatalf("ParseEntry: %v", err)
	}
	if e.Code != 500 || e.Ref != "abc" || e.RequestID != "1-0" {
		t.Errorf("unexpected entry %+v", e)
	}
	if !e.CreatedAt.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("unexpected created_at %v", e.CreatedAt)
	}

	bad := []store.Entry{
		{ID: "oops", Fields: map[string]string{"ref": "a", "code": "200", "res": "{}"}},
		{ID: "1-0", Fields: map[string]string{"code": "200", "res": "{}"}},
		{ID: "1-0", Fields: map[string]string{"ref": "a", "code": "x", "res": "{}"}},
		{ID: "1-0", Fields: map[string]string{"ref": "a", "code": "200"}},
	}
	for _, raw := range bad {
		if _, err := ParseEntry("s:x", raw); err == nil {
			t.Errorf("expected error for %+v", raw)
		}
	}
}

func TestArchiveBatch(t *testing.T) {
	s := newTestStore(t)
	sink := newFakeSink()
	notifier := &fakeNotifier{}
	a := newTestArchiver(t, s, sink, notifier)
	ctx := context.Background()

	appendResponse(t, s, "s:x", "a")
	appendResponse(t, s, "s:x", "b")

	entries, err := s.ReadGroup(ctx, "s:x", DefaultGroup, "arc-1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if n := a.ArchiveBatch(ctx, "s:x", entries); n != 2 {
		t.Errorf("expected 2 acked, got %d", n)
	}
	if sink.count() != 2 {
		t.Errorf("expected 2 archived, got %d", sink.count())
	}
	if len(notifier.events) != 2 || notifier.events[0].Ref != "a" {
		t.Errorf("unexpected events %+v", notifier.events)
	}

	pending, err := s.Pending(ctx, "s:x", DefaultGroup)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected nothing pending, got %d", pending.Count)
	}

	// Повторная архивация той же записи не публикует событие
	if n := a.ArchiveBatch(ctx, "s:x", entries[:1]); n != 1 {
		t.Errorf("expected duplicate acked, got %d", n)
	}
	if len(notifier.events) != 2 {
		t.Errorf("expected no event for duplicate, got %d", len(notifier.events))
	}
}

func TestArchiveBatch_FailedInsertStaysPending(t *testing.T) {
	s := newTestStore(t)
	sink := newFakeSink()
	sink.fail["b"] = true
	a := newTestArchiver(t, s, sink, nil)
	ctx := context.Background()

	appendResponse(t, s, "s:x", "a")
	idB := appendResponse(t, s, "s:x", "b")

	entries, err := s.ReadGroup(ctx, "s:x", DefaultGroup, "arc-1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if n := a.ArchiveBatch(ctx, "s:x", entries); n != 1 {
		t.Errorf("expected 1 acked, got %d", n)
	}

	pending, err := s.ReadPending(ctx, "s:x", DefaultGroup, "arc-1", 10)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != idB {
		t.Errorf("expected %s pending, got %+v", idB, pending)
	}
}

func TestArchiveBatch_DropsMalformed(t *testing.T) {
	s := newTestStore(t)
	sink := newFakeSink()
	a := newTestArchiver(t, s, sink, nil)
	ctx := context.Background()

	if _, err := s.Append(ctx, "s:x", map[string]any{"garbage": "1"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, err := s.ReadGroup(ctx, "s:x", DefaultGroup, "arc-1", 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	if n := a.ArchiveBatch(ctx, "s:x", entries); n != 1 {
		t.Errorf("expected malformed entry acked, got %d", n)
	}
	if sink.count() != 0 {
		t.Errorf("expected nothing archived, got %d", sink.count())
	}
}

func TestRun_RecoversPendingAndStops(t *testing.T) {
	s := newTestStore(t)
	sink := newFakeSink()
	a := newTestArchiver(t, s, sink, nil)

	// Запись, прочитанная прошлым запуском, но не подтверждённая
	appendResponse(t, s, "s:x", "old")
	if _, err := s.ReadGroup(context.Background(), "s:x", DefaultGroup, "arc-1", 10, 10*time.Millisecond); err != nil {
		t.Fatalf("ReadGroup: %v", err)
	}
	appendResponse(t, s, "s:x", "new")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 archived, got %d", sink.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("archiver did not stop")
	}
}

func TestNew_Validation(t *testing.T) {
	s := newTestStore(t)
	if _, err := New(Config{Source: s, Sink: newFakeSink(), Consumer: "c"}); err == nil {
		t.Error("expected error without streams")
	}
	if _, err := New(Config{Source: s, Sink: newFakeSink(), Streams: []string{"s:x"}}); err == nil {
		t.Error("expected error without consumer")
	}
	if _, err := New(Config{Streams: []string{"s:x"}, Consumer: "c"}); err == nil {
		t.Error("expected error without source")
	}
}
