package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestKey_DeterministicAndSeparatorSafe(t *testing.T) {
	a := Key("search", "u1", "query", "BOOK")
	b := Key("search", "u1", "query", "BOOK")
	if a != b {
		t.Fatalf("same inputs produced different keys: %q vs %q", a, b)
	}
	// Shifting a boundary must change the key.
	c := Key("search", "u1", "queryBOOK", "")
	if a == c {
		t.Fatalf("boundary shift collided: %q", a)
	}
	if d := Key("search", "u2", "query", "BOOK"); d == a {
		t.Fatalf("different user collided")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Set(ctx, "k", "v", 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("fresh entry missed: %q %v", v, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expired entry served")
	}
}

type stubBackend struct {
	data map[string]string
	err  error
	sets int
}

func (s *stubBackend) Get(_ context.Context, key string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.sets++
	if s.err != nil {
		return s.err
	}
	if s.data == nil {
		s.data = map[string]string{}
	}
	s.data[key] = value
	return nil
}

func TestLayered_SharedHitWarmsLocal(t *testing.T) {
	local := NewMemory()
	shared := &stubBackend{data: map[string]string{"k": "from-shared"}}
	l := NewLayered(local, shared)
	ctx := context.Background()

	v, ok, err := l.Get(ctx, "k")
	if err != nil || !ok || v != "from-shared" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	// Second read must be served locally even if shared goes away.
	shared.err = errors.New("down")
	v, ok, err = l.Get(ctx, "k")
	if err != nil || !ok || v != "from-shared" {
		t.Fatalf("local layer not warmed: %q %v %v", v, ok, err)
	}
}

func TestLayered_NilSharedIsLocalOnly(t *testing.T) {
	l := NewLayered(NewMemory(), nil)
	ctx := context.Background()

	if err := l.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok, _ := l.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("Get = %q %v", v, ok)
	}
	if _, ok, err := l.Get(ctx, "absent"); ok || err != nil {
		t.Fatalf("miss mishandled: %v %v", ok, err)
	}
}

func TestLayered_WriteFailureIsReportedNotFatal(t *testing.T) {
	shared := &stubBackend{err: errors.New("down")}
	l := NewLayered(NewMemory(), shared)
	ctx := context.Background()

	err := l.Set(ctx, "k", "v", time.Minute)
	if err == nil {
		t.Fatalf("expected aggregated write error")
	}
	// The local layer still took the write.
	if v, ok, _ := l.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("local write lost: %q %v", v, ok)
	}
}
