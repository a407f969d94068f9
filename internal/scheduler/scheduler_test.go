package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeTrimmer struct {
	calls map[string]int64
	fail  map[string]bool
	group string
}

func (f *fakeTrimmer) TrimArchived(_ context.Context, stream, group string, maxLen int64) (int64, error) {
	if f.fail[stream] {
		return 0, errors.New("boom")
	}
	f.group = group
	if f.calls == nil {
		f.calls = make(map[string]int64)
	}
	f.calls[stream] = maxLen
	return 3, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"*/5 * * * *", "0 3 * * *", "@hourly"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("ValidateCronExpr(%q) error: %v", expr, err)
		}
	}

	invalid := []string{"", "* * *", "61 * * * *", "0 0 * * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("ValidateCronExpr(%q) expected error", expr)
		}
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC)

	next, err := NextRun("*/5 * * * *", from)
	if err != nil {
		t.Fatalf("NextRun error: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun = %v, want %v", next, want)
	}
}

func TestNew_Validation(t *testing.T) {
	tr := &fakeTrimmer{}

	if _, err := New(Config{Trimmer: tr, Group: "archive", MaxLen: 0, Schedule: "* * * * *"}); err == nil {
		t.Error("expected error for zero max len")
	}
	if _, err := New(Config{Trimmer: tr, Group: "archive", MaxLen: 10, Schedule: "bogus"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := New(Config{Group: "archive", MaxLen: 10, Schedule: "* * * * *"}); err == nil {
		t.Error("expected error without trimmer")
	}
	if _, err := New(Config{Trimmer: tr, MaxLen: 10, Schedule: "* * * * *"}); err == nil {
		t.Error("expected error without group")
	}
}

func TestTick(t *testing.T) {
	tr := &fakeTrimmer{fail: map[string]bool{"b:res:x": true}}
	s, err := New(Config{
		Trimmer:  tr,
		Group:    "archive",
		Streams:  []string{"a:res:x", "b:res:x", "c:res:x"},
		MaxLen:   100,
		Schedule: "*/5 * * * *",
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Tick(context.Background()); err == nil {
		t.Error("expected error for failed stream")
	}
	// Остальные streams обрезаны несмотря на ошибку
	if tr.calls["a:res:x"] != 100 || tr.calls["c:res:x"] != 100 {
		t.Errorf("unexpected trim calls: %v", tr.calls)
	}
	if tr.group != "archive" {
		t.Errorf("expected trim bounded by group archive, got %q", tr.group)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New(Config{
		Trimmer:  &fakeTrimmer{},
		Group:    "archive",
		Streams:  []string{"a:res:x"},
		MaxLen:   100,
		Schedule: "@yearly",
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
