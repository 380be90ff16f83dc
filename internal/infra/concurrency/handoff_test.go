package concurrency_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-bridge/internal/infra/concurrency"
)

func TestHandoffRoundtrip(t *testing.T) {
	t.Parallel()

	h := concurrency.NewHandoff()
	done := make(chan struct{})

	var got string
	var err error
	go func() {
		defer close(done)
		got, err = h.Await(context.Background(), "code", time.Second)
	}()

	// Дожидаемся, пока Await зарегистрирует ожидание.
	waitPending(t, h, "code")
	h.Put("12345")

	<-done
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if got != "12345" {
		t.Fatalf("Await = %q, want %q", got, "12345")
	}
	if h.Pending() != "" {
		t.Fatalf("pending not cleared after Await: %q", h.Pending())
	}
}

func TestHandoffTimeout(t *testing.T) {
	t.Parallel()

	h := concurrency.NewHandoff()
	_, err := h.Await(context.Background(), "code", 10*time.Millisecond)
	if !errors.Is(err, concurrency.ErrHandoffTimeout) {
		t.Fatalf("Await error = %v, want ErrHandoffTimeout", err)
	}
	if h.Pending() != "" {
		t.Fatalf("pending not cleared after timeout: %q", h.Pending())
	}
}

func TestHandoffContextCancel(t *testing.T) {
	t.Parallel()

	h := concurrency.NewHandoff()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Await(ctx, "password", time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
}

func TestHandoffPutReplacesStaleValue(t *testing.T) {
	t.Parallel()

	h := concurrency.NewHandoff()
	h.Put("stale")
	h.Put("fresh")

	got, err := h.Await(context.Background(), "code", time.Second)
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if got != "fresh" {
		t.Fatalf("Await = %q, want %q", got, "fresh")
	}
}

func TestHandoffDrainDiscardsValue(t *testing.T) {
	t.Parallel()

	h := concurrency.NewHandoff()
	h.Put("from-previous-attempt")
	h.Drain()

	_, err := h.Await(context.Background(), "code", 10*time.Millisecond)
	if !errors.Is(err, concurrency.ErrHandoffTimeout) {
		t.Fatalf("Await after Drain error = %v, want ErrHandoffTimeout", err)
	}
}

// waitPending опрашивает слот, пока не увидит метку kind или не истечёт секунда.
func waitPending(t *testing.T, h *concurrency.Handoff, kind string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Pending() == kind {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pending never became %q", kind)
}
