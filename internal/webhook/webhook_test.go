package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"telegram-bridge/internal/webhook"
)

func TestClientSendDeliversPayload(t *testing.T) {
	t.Parallel()

	var got webhook.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := webhook.NewClient(srv.URL, 10)
	ev := webhook.Event{
		EventType: webhook.EventMessage,
		UserID:    "42",
		UserName:  "Alice",
		ChatID:    "42",
		ChatName:  "Alice",
		IsPrivate: true,
		Direction: webhook.DirectionIncoming,
		Message:   "hello",
		Timestamp: "2024-05-01T10:00:00.000+00:00",
	}

	permanent, err := c.Send(context.Background(), ev)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if permanent {
		t.Fatal("Send reported permanent failure on success")
	}
	if got.EventType != ev.EventType || got.Message != ev.Message || got.ChatID != ev.ChatID {
		t.Fatalf("server received %+v, want %+v", got, ev)
	}
}

func TestClientSendClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"bad request", http.StatusBadRequest, true},
		{"unauthorized", http.StatusUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := webhook.NewClient(srv.URL, 100)
			permanent, err := c.Send(context.Background(), webhook.Event{EventType: webhook.EventMessage})
			if err == nil {
				t.Fatalf("Send on %d succeeded, want error", tc.status)
			}
			if permanent != tc.permanent {
				t.Fatalf("permanent = %v, want %v", permanent, tc.permanent)
			}
		})
	}
}

func TestClientDisabledWithoutURL(t *testing.T) {
	t.Parallel()

	c := webhook.NewClient("", 5)
	if c.Enabled() {
		t.Fatal("Enabled() = true for empty URL")
	}
	permanent, err := c.Send(context.Background(), webhook.Event{})
	if err != nil || permanent {
		t.Fatalf("Send on disabled client = (%v, %v), want (false, nil)", permanent, err)
	}
}
