package upload

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAdmitsUpToCapacity(t *testing.T) {
	l := NewLimiter(2, 50*time.Millisecond)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}

	if err := l.Acquire(context.Background()); !errors.Is(err, ErrServerBusy) {
		t.Fatalf("third acquire = %v, want ErrServerBusy", err)
	}

	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestTryAcquire(t *testing.T) {
	l := NewLimiter(1, time.Second)

	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed on an empty limiter")
	}
	if l.TryAcquire() {
		t.Fatal("TryAcquire should fail at capacity")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed after release")
	}
}
