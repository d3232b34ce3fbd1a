package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeApplier implements Applier for tests
type fakeApplier struct {
	fail  int // number of times to fail before succeeding
	calls int
}

func (f *fakeApplier) Heartbeat(ctx context.Context, hb models.Heartbeat) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("presence fail")
	}
	return nil
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeApplier{fail: 2}
	hb := models.Heartbeat{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, Available: true, Category: "economy"}
	ctx := context.Background()
	start := time.Now()
	if err := applyWithRetry(ctx, f, hb, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{fail: 5}
	hb := models.Heartbeat{DriverID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, Available: true, Category: "economy"}
	if err := applyWithRetry(context.Background(), f, hb, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}
