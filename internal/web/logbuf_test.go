package web_test

import (
	"reflect"
	"testing"
	"time"

	"telegram-bridge/internal/web"
)

func view(msg string) web.LogView {
	return web.LogView{Time: "2024-05-01 10:00:00", Level: "INFO", Message: msg}
}

func messagesOf(entries []web.LogView) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestLogRingEvictsOldest(t *testing.T) {
	t.Parallel()

	ring := web.NewLogRing(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(view(msg))
	}

	got := messagesOf(ring.Snapshot())
	if !reflect.DeepEqual(got, []string{"c", "d", "e"}) {
		t.Fatalf("snapshot = %v", got)
	}
	if ring.Len() != 3 {
		t.Fatalf("Len = %d, want 3", ring.Len())
	}
}

func TestLogRingClear(t *testing.T) {
	t.Parallel()

	ring := web.NewLogRing(10)
	ring.Add(view("a"))
	ring.Add(view("b"))

	if removed := ring.Clear(); removed != 2 {
		t.Fatalf("Clear = %d, want 2", removed)
	}
	if got := ring.Snapshot(); len(got) != 0 {
		t.Fatalf("snapshot after clear = %v", got)
	}

	// Буфер должен оставаться рабочим после очистки.
	ring.Add(view("c"))
	if got := messagesOf(ring.Snapshot()); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("snapshot = %v", got)
	}
}

func TestAutoClearFiresWhenEnabled(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 4)
	ac := web.NewAutoClear(false, 20*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	done := make(chan struct{})
	defer close(done)
	go ac.Run(done)

	// Выключенный планировщик не должен срабатывать.
	select {
	case <-fired:
		t.Fatal("auto-clear fired while disabled")
	case <-time.After(80 * time.Millisecond):
	}

	enabled := true
	ac.Update(&enabled, nil)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("auto-clear did not fire after enabling")
	}
}

func TestAutoClearSettingsUpdate(t *testing.T) {
	t.Parallel()

	ac := web.NewAutoClear(true, time.Minute, func() {})

	interval := 5 * time.Minute
	enabled := false
	ac.Update(&enabled, &interval)

	gotEnabled, gotInterval := ac.Settings()
	if gotEnabled || gotInterval != 5*time.Minute {
		t.Fatalf("Settings = %t, %s", gotEnabled, gotInterval)
	}
}
