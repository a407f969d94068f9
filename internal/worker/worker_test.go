package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/store"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

const (
	testKey   = "demo-worker:c1:h"
	testToken = "4242"
)

type fixture struct {
	mr    *miniredis.Miniredis
	store *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mr.HSet(testKey, "requestStream", "r:x", "responseStream", "s:x", "consumerId", "c1", "pid", "")

	s := store.New(rdb)
	if err := s.CreateGroup(context.Background(), "r:x", domain.DefaultGroup); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	return &fixture{mr: mr, store: s}
}

func (f *fixture) identity(t *testing.T, limit int) *domain.WorkerIdentity {
	t.Helper()
	identity, err := f.store.LoadIdentity(context.Background(), testKey)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	identity.RequestLimit = limit
	return identity
}

func (f *fixture) request(t *testing.T, fields ...string) {
	t.Helper()
	values := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		values[fields[i]] = fields[i+1]
	}
	if _, err := f.store.Append(context.Background(), "r:x", values); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func (f *fixture) response(t *testing.T, ref string) domain.Result {
	t.Helper()
	items, err := f.mr.List(domain.ResponseListKey(ref))
	if err != nil {
		t.Fatalf("List %s: %v", ref, err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 response for %s, got %d", ref, len(items))
	}
	var res domain.Result
	if err := json.Unmarshal([]byte(items[0]), &res); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return res
}

func newTestWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	if cfg.WorkerType == "" {
		cfg.WorkerType = "demo-worker"
	}
	if cfg.Token == "" {
		cfg.Token = testToken
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 20 * time.Millisecond
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func okHandler() Handler {
	return HandlerFunc(func(ctx context.Context, payload map[string]string) (map[string]any, error) {
		return map[string]any{"data": "ok"}, nil
	})
}

func TestNew_Validation(t *testing.T) {
	identity := &domain.WorkerIdentity{Key: testKey, RequestStream: "r:x", ResponseStream: "s:x", ConsumerID: "c1"}

	if _, err := New(Config{Identity: identity, WorkerType: "demo-worker", Handler: okHandler()}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := New(Config{Store: &store.Store{}, Identity: identity, WorkerType: "demo-worker"}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
	if _, err := New(Config{Store: &store.Store{}, Identity: identity, Handler: okHandler()}); err == nil {
		t.Error("expected error without worker type")
	}
}

func TestRun_ProcessesRequest(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker")

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 1),
		Handler:  okHandler(),
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, _ := f.mr.List("res:abc")
	if len(raw) != 1 || raw[0] != `{"code":200,"data":"ok","ref":"abc"}` {
		t.Errorf("unexpected res:abc %v", raw)
	}
	if ttl := f.mr.TTL("res:abc"); ttl != 8*time.Second {
		t.Errorf("expected TTL 8s, got %v", ttl)
	}

	entries, err := f.store.Range(context.Background(), "s:x", 10)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(entries) != 1 || entries[0].Fields["ref"] != "abc" || entries[0].Fields["code"] != "200" {
		t.Errorf("unexpected response stream entries: %+v", entries)
	}

	if f.mr.HGet("req:abc:h", "demo-worker:trace") == "" {
		t.Error("expected trace field")
	}

	pending, err := f.store.Pending(context.Background(), "r:x", domain.DefaultGroup)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected request acked, pending=%d", pending.Count)
	}

	if w.RequestCount() != 1 {
		t.Errorf("expected 1 request, got %d", w.RequestCount())
	}
	if w.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", w.State())
	}
	// После выхода pid освобождён
	if got := f.mr.HGet(testKey, "pid"); got != "" {
		t.Errorf("expected pid released, got %q", got)
	}
}

func TestRun_AlreadyClaimed(t *testing.T) {
	f := newFixture(t)
	f.mr.HSet(testKey, "pid", "999")

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 0),
		Handler:  okHandler(),
	})

	err := w.Run(context.Background())
	if !errors.Is(err, store.ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
	if got := f.mr.HGet(testKey, "pid"); got != "999" {
		t.Errorf("expected record unchanged, pid=%q", got)
	}
	if w.State() != StateFatal {
		t.Errorf("expected fatal, got %s", w.State())
	}
}

func TestRun_OwnershipRevoked(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker")

	handler := HandlerFunc(func(ctx context.Context, payload map[string]string) (map[string]any, error) {
		// Оператор забирает identity во время обработки
		f.mr.HSet(testKey, "pid", "777")
		return map[string]any{"data": "ok"}, nil
	})

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 0),
		Handler:  handler,
	})

	err := w.Run(context.Background())
	if !errors.Is(err, store.ErrOwnershipRevoked) {
		t.Fatalf("expected ErrOwnershipRevoked, got %v", err)
	}
	// Текущий запрос всё равно получил ответ
	if res := f.response(t, "abc"); res.Code != domain.CodeOK {
		t.Errorf("expected code 200, got %d", res.Code)
	}
	// Чужой pid не трогаем
	if got := f.mr.HGet(testKey, "pid"); got != "777" {
		t.Errorf("expected pid 777, got %q", got)
	}
}

func TestRun_MissingRefCount(t *testing.T) {
	f := newFixture(t)
	f.request(t, "type", "demo-worker")
	f.request(t, "ref", "abc", "type", "demo-worker")

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 2),
		Handler:  okHandler(),
		Metrics:  metrics,
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.mr.HGet(testKey, domain.CounterMissingRef); got != "1" {
		t.Errorf("expected err:ref=1, got %q", got)
	}
	if res := f.response(t, "abc"); !res.OK() {
		t.Errorf("expected second request processed, got %d", res.Code)
	}

	pending, err := f.store.Pending(context.Background(), "r:x", domain.DefaultGroup)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected both requests acked, pending=%d", pending.Count)
	}

	if n := testutil.CollectAndCount(reg, "conveyor_request_errors_total"); n != 1 {
		t.Errorf("expected 1 error series, got %d", n)
	}
}

func TestRun_MissingRefFail(t *testing.T) {
	f := newFixture(t)
	f.request(t, "type", "demo-worker")

	w := newTestWorker(t, Config{
		Store:            f.store,
		Identity:         f.identity(t, 0),
		Handler:          okHandler(),
		MissingRefPolicy: MissingRefFail,
	})

	err := w.Run(context.Background())
	if !errors.Is(err, ErrMissingRef) {
		t.Fatalf("expected ErrMissingRef, got %v", err)
	}
	if f.mr.Exists(testKey) && f.mr.HGet(testKey, "pid") != "" {
		t.Error("expected pid released after fatal error")
	}
}

func TestRun_TypeMismatch(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "other-worker")

	called := false
	handler := HandlerFunc(func(ctx context.Context, payload map[string]string) (map[string]any, error) {
		called = true
		return nil, nil
	})

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 1),
		Handler:  handler,
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("handler must not be called for foreign type")
	}

	res := f.response(t, "abc")
	if res.Code != domain.CodeRejected || res.Err == nil {
		t.Errorf("expected code 400 with error, got %+v", res)
	}
	if got := f.mr.HGet(testKey, domain.CounterTypeMismatch); got != "1" {
		t.Errorf("expected err:type=1, got %q", got)
	}
}

func TestRun_HandlerError(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker", "n", "1")

	handler := HandlerFunc(func(ctx context.Context, payload map[string]string) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 1),
		Handler:  handler,
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := f.response(t, "abc")
	if res.Code != domain.CodeFailed {
		t.Errorf("expected code 500, got %d", res.Code)
	}
	if res.Err == nil || res.Err.Message != "boom" {
		t.Errorf("expected error message boom, got %+v", res.Err)
	}
	if res.Payload["n"] != "1" {
		t.Errorf("expected payload attached, got %v", res.Payload)
	}
}

func TestRun_HandlerPanic(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker")

	handler := HandlerFunc(func(ctx context.Context, payload map[string]string) (map[string]any, error) {
		panic("kaboom")
	})

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 1),
		Handler:  handler,
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res := f.response(t, "abc"); res.Code != domain.CodeFailed {
		t.Errorf("expected code 500, got %d", res.Code)
	}
}

func TestRun_AckOnDequeue(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker")

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 1),
		Handler:  okHandler(),
		AckMode:  AckOnDequeue,
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	pending, err := f.store.Pending(context.Background(), "r:x", domain.DefaultGroup)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("expected no pending entries with NOACK, got %d", pending.Count)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	f := newFixture(t)

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 0),
		Handler:  okHandler(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Ждём захвата
	deadline := time.Now().Add(2 * time.Second)
	for f.mr.HGet(testKey, "pid") != testToken {
		if time.Now().After(deadline) {
			t.Fatal("identity was not claimed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := f.mr.HGet(testKey, "pid"); got != "" {
		t.Errorf("expected pid released, got %q", got)
	}
}

func TestEchoHandler(t *testing.T) {
	h := EchoHandler{WorkerType: "demo-worker", WorkerKey: testKey, ConsumerID: "c1"}

	data, err := h.Handle(context.Background(), map[string]string{"a": "1"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if data["type"] != "demo-worker-res" {
		t.Errorf("unexpected type %v", data["type"])
	}
	req, ok := data["request"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected request %T", data["request"])
	}
	if payload, _ := req["payload"].(map[string]string); payload["a"] != "1" {
		t.Errorf("unexpected payload %v", req["payload"])
	}
}

func TestParseModes(t *testing.T) {
	if m, err := ParseAckMode("dequeue"); err != nil || m != AckOnDequeue {
		t.Errorf("ParseAckMode(dequeue) = %q, %v", m, err)
	}
	if _, err := ParseAckMode("never"); !errors.Is(err, ErrUnknownAckMode) {
		t.Errorf("expected ErrUnknownAckMode, got %v", err)
	}
	if p, err := ParseMissingRefPolicy("fail"); err != nil || p != MissingRefFail {
		t.Errorf("ParseMissingRefPolicy(fail) = %q, %v", p, err)
	}
	if _, err := ParseMissingRefPolicy("ignore"); !errors.Is(err, ErrUnknownMissingRefPolicy) {
		t.Errorf("expected ErrUnknownMissingRefPolicy, got %v", err)
	}
}

func TestRun_CancelDuringProcessing(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "abc", "type", "demo-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Сигнал приходит, пока сообщение в обработке
	handler := HandlerFunc(func(hctx context.Context, payload map[string]string) (map[string]any, error) {
		cancel()
		return map[string]any{"data": "ok"}, nil
	})

	w := newTestWorker(t, Config{
		Store:    f.store,
		Identity: f.identity(t, 0),
		Handler:  handler,
		AckMode:  AckOnDequeue,
	})

	if err := w.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
	if res := f.response(t, "abc"); !res.OK() {
		t.Errorf("expected response delivered, got %d", res.Code)
	}
	if w.RequestCount() != 1 || w.State() != StateTerminated {
		t.Errorf("unexpected count=%d state=%s", w.RequestCount(), w.State())
	}
	if got := f.mr.HGet(testKey, "pid"); got != "" {
		t.Errorf("expected pid released, got %q", got)
	}
}

// fakeStore — Store с подменяемыми ответами DequeueOne и VerifyOwner.
type fakeStore struct {
	dequeueErr error
	verifyErr  error

	claimed  bool
	released bool
}

func (s *fakeStore) Claim(ctx context.Context, key, token string) error {
	s.claimed = true
	return nil
}

func (s *fakeStore) VerifyOwner(ctx context.Context, key, token string) error {
	return s.verifyErr
}

func (s *fakeStore) Release(ctx context.Context, key, token string) error {
	s.released = true
	return nil
}

func (s *fakeStore) IncrementCounter(ctx context.Context, key, field string) (int64, error) {
	return 1, nil
}

func (s *fakeStore) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return nil
}

func (s *fakeStore) DequeueOne(ctx context.Context, stream, group, consumer string, block time.Duration, noAck bool) (*domain.Message, error) {
	return nil, s.dequeueErr
}

func (s *fakeStore) Deliver(ctx context.Context, d *domain.Delivery) error {
	return nil
}

func testIdentity() *domain.WorkerIdentity {
	return &domain.WorkerIdentity{Key: testKey, RequestStream: "r:x", ResponseStream: "s:x", ConsumerID: "c1"}
}

func TestRun_ProtocolViolation(t *testing.T) {
	fs := &fakeStore{dequeueErr: fmt.Errorf("xreadgroup: %w", store.ErrProtocol)}

	w := newTestWorker(t, Config{
		Store:    fs,
		Identity: testIdentity(),
		Handler:  okHandler(),
	})

	err := w.Run(context.Background())
	if !errors.Is(err, store.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if w.State() != StateFatal {
		t.Errorf("expected fatal, got %s", w.State())
	}
	if !fs.claimed || !fs.released {
		t.Errorf("expected claim and release, got claimed=%v released=%v", fs.claimed, fs.released)
	}
}

func TestRun_VerifyOwnerErrors(t *testing.T) {
	revoked := &fakeStore{verifyErr: fmt.Errorf("pid=777: %w", store.ErrOwnershipRevoked)}
	w := newTestWorker(t, Config{Store: revoked, Identity: testIdentity(), Handler: okHandler()})

	err := w.Run(context.Background())
	if !errors.Is(err, store.ErrOwnershipRevoked) || !strings.Contains(err.Error(), "'pid' field removed/changed") {
		t.Errorf("unexpected error for revoked pid: %v", err)
	}

	// Потеря соединения — не отзыв владения
	broken := &fakeStore{verifyErr: errors.New("connection refused")}
	w = newTestWorker(t, Config{Store: broken, Identity: testIdentity(), Handler: okHandler()})

	err = w.Run(context.Background())
	if err == nil || strings.Contains(err.Error(), "'pid' field") {
		t.Errorf("unexpected error for store failure: %v", err)
	}
	if !broken.released {
		t.Error("expected release after store failure")
	}
}

func TestRun_WorkerURLPrefix(t *testing.T) {
	f := newFixture(t)
	f.request(t, "ref", "bad", "type", "demo-worker", "workerUrl", "https://evil.example/w.go")
	f.request(t, "ref", "good", "type", "demo-worker", "workerUrl", "https://example.com/demo-worker/main/worker.go")

	w := newTestWorker(t, Config{
		Store:           f.store,
		Identity:        f.identity(t, 2),
		Handler:         okHandler(),
		WorkerURLPrefix: "https://example.com/",
	})

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res := f.response(t, "bad"); res.Code != domain.CodeRejected || res.Err == nil {
		t.Errorf("expected code 400 for foreign workerUrl, got %+v", res)
	}
	if res := f.response(t, "good"); !res.OK() {
		t.Errorf("expected code 200, got %d", res.Code)
	}
	if got := f.mr.HGet(testKey, domain.CounterWorkerURL); got != "1" {
		t.Errorf("expected err:workerUrl=1, got %q", got)
	}
}
