package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"telegram-bridge/internal/telegram/dialogs"
	"telegram-bridge/internal/telegram/sender"
	"telegram-bridge/internal/telegram/supervisor"
	"telegram-bridge/internal/web"
)

// fakeExecutor подменяет фасад команд в HTTP-тестах.
type fakeExecutor struct {
	mu       sync.Mutex
	snap     supervisor.Snapshot
	sessions []string
	sendErr  error
	msgID    int
	chats    []dialogs.Chat
	markerID int64
	codes    []string
	connects []string
	removed  []string
}

func (f *fakeExecutor) Connect(ctx context.Context, sessionName, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, sessionName+"/"+phone)
	return f.sendErr
}

func (f *fakeExecutor) Disconnect(ctx context.Context) error { return nil }

func (f *fakeExecutor) Sessions(ctx context.Context) ([]string, error) { return f.sessions, nil }

func (f *fakeExecutor) RemoveSession(ctx context.Context, sessionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sessionName)
	return f.sendErr
}

func (f *fakeExecutor) Status(ctx context.Context) supervisor.Snapshot { return f.snap }

func (f *fakeExecutor) SendMessage(ctx context.Context, chat, text string) (int, error) {
	return f.msgID, f.sendErr
}

func (f *fakeExecutor) SendPhoto(ctx context.Context, chat, photoURL, caption, parseMode string) (int, error) {
	return f.msgID, f.sendErr
}

func (f *fakeExecutor) ListChats(ctx context.Context) ([]dialogs.Chat, int64, error) {
	return f.chats, f.markerID, f.sendErr
}

func (f *fakeExecutor) SubmitCode(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return true
}

func (f *fakeExecutor) SubmitPassword(password string) bool { return true }

func (f *fakeExecutor) submittedCodes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codes...)
}

func newTestServer(t *testing.T, exec *fakeExecutor, webhookKey string) (*httptest.Server, *web.Hub, *web.LogRing) {
	t.Helper()

	hub := web.NewHub(exec)
	ring := web.NewLogRing(50)
	autoClear := web.NewAutoClear(false, time.Minute, func() {})
	srv := web.NewServer("127.0.0.1:0", exec, hub, ring, autoClear, webhookKey)

	go hub.Run()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
	})
	return ts, hub, ring
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{snap: supervisor.Snapshot{
		Connected: true,
		Phase:     supervisor.PhaseConnected,
		Session:   "work",
		User:      &supervisor.UserIdentity{ID: 7, FirstName: "Ada"},
	}}
	ts, _, _ := newTestServer(t, exec, "")

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeEnvelope(t, resp)

	if payload["status"] != "success" {
		t.Fatalf("status = %v", payload["status"])
	}
	if payload["connected"] != true {
		t.Fatalf("connected = %v", payload["connected"])
	}
	if payload["session"] != "work" {
		t.Fatalf("session = %v", payload["session"])
	}
	user, ok := payload["user_info"].(map[string]any)
	if !ok || user["first_name"] != "Ada" {
		t.Fatalf("user_info = %v", payload["user_info"])
	}
	if _, ok := payload["auto_clear_logs"]; !ok {
		t.Fatal("auto_clear_logs missing from status payload")
	}
}

func TestConnectValidation(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{}
	ts, _, _ := newTestServer(t, exec, "")

	resp := postJSON(t, ts.URL+"/api/connect", map[string]string{"phone": "+100200"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/connect", map[string]string{"session_name": "work", "phone": "+100200"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	if len(exec.connects) != 1 || exec.connects[0] != "work/+100200" {
		t.Fatalf("connects = %v", exec.connects)
	}
}

func TestConnectMissingPhoneMapsTo400(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{sendErr: supervisor.ErrMissingPhone}
	ts, _, _ := newTestServer(t, exec, "")

	resp := postJSON(t, ts.URL+"/api/connect", map[string]string{"session_name": "new"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSendMessageErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not connected", supervisor.ErrNotConnected, http.StatusBadRequest},
		{"entity not found", sender.ErrEntityNotFound, http.StatusNotFound},
		{"forbidden", sender.ErrForbidden, http.StatusForbidden},
		{"blocked", sender.ErrUserBlocked, http.StatusForbidden},
		{"send failed", sender.ErrSendFailed, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ts, _, _ := newTestServer(t, &fakeExecutor{sendErr: tc.err}, "")

			resp := postJSON(t, ts.URL+"/api/send-message", map[string]string{
				"chat_id": "123", "message": "hi",
			})
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			resp.Body.Close()
		})
	}
}

func TestSendMessageSuccess(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t, &fakeExecutor{msgID: 555}, "")

	resp := postJSON(t, ts.URL+"/api/send-message", map[string]string{
		"chat_id": "123", "message": "hi",
	})
	payload := decodeEnvelope(t, resp)
	if payload["message_id"] != float64(555) {
		t.Fatalf("message_id = %v", payload["message_id"])
	}
}

func TestWebhookIngressAPIKey(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t, &fakeExecutor{msgID: 1}, "secret")

	resp := postJSON(t, ts.URL+"/api/webhook/send", map[string]string{
		"api_key": "wrong", "chat_id": "123", "message": "hi",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/webhook/send", map[string]string{
		"api_key": "secret", "chat_id": "123", "message": "hi",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogsEndpoints(t *testing.T) {
	t.Parallel()

	ts, _, ring := newTestServer(t, &fakeExecutor{}, "")
	ring.Add(web.LogView{Time: "2024-05-01 10:00:00", Level: "INFO", Message: "hello"})

	resp, err := http.Get(ts.URL + "/api/logs")
	if err != nil {
		t.Fatal(err)
	}
	payload := decodeEnvelope(t, resp)
	logs, ok := payload["logs"].([]any)
	if !ok || len(logs) != 1 {
		t.Fatalf("logs = %v", payload["logs"])
	}

	resp = postJSON(t, ts.URL+"/api/clear-logs", map[string]string{})
	resp.Body.Close()
	if ring.Len() != 0 {
		t.Fatalf("ring.Len() = %d after clear", ring.Len())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	ts, _, _ := newTestServer(t, &fakeExecutor{}, "")

	resp, err := http.Get(ts.URL + "/api/connect")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebsocketStatusAndCodeRoundtrip(t *testing.T) {
	t.Parallel()

	exec := &fakeExecutor{}
	ts, hub, _ := newTestServer(t, exec, "")

	// Статус, разосланный до подключения, должен прийти новому клиенту.
	hub.StatusUpdate(supervisor.Snapshot{Phase: supervisor.PhaseConnecting, Session: "work"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame web.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Event != "status_update" {
		t.Fatalf("event = %q, want status_update", frame.Event)
	}

	if err := conn.WriteJSON(web.Frame{
		Event: "code_response",
		Data:  map[string]string{"code": "12345"},
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if codes := exec.submittedCodes(); len(codes) == 1 && codes[0] == "12345" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("code was not delivered, got %v", exec.submittedCodes())
}
