package registry

import (
	"context"
	"errors"
	"testing"

	"jobtick/internal/job"
)

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()
	r := New()
	h := func(ctx context.Context, j job.Job) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}
	if err := r.Register("shell", h); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.Resolve("shell")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	res, err := got(context.Background(), job.Job{})
	if err != nil || res["ok"] != true {
		t.Fatalf("handler roundtrip: res=%v err=%v", res, err)
	}
}

func TestResolveUnknownType(t *testing.T) {
	t.Parallel()
	r := New()
	if _, err := r.Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRegisterRejectsDuplicatesAndNil(t *testing.T) {
	t.Parallel()
	r := New()
	h := func(ctx context.Context, j job.Job) (map[string]any, error) { return nil, nil }

	if err := r.Register("a", h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register("a", h); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Register("", h); err == nil {
		t.Fatal("expected error for empty type")
	}
	if err := r.Register("b", nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}
