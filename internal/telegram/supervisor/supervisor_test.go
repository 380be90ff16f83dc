package supervisor

// Машина состояний тестируется с подменной реализацией launch: сетевой слой
// не поднимается, попытки имитируются управляемыми горутинами.

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"

	"telegram-bridge/internal/telegram/session"
)

// recorder копит события Broadcaster в порядке получения.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
	asks  []string
}

func (r *recorder) StatusUpdate(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) AskCode() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asks = append(r.asks, "code")
}

func (r *recorder) AskPassword() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asks = append(r.asks, "password")
}

func (r *recorder) statuses() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func newTestSupervisor(t *testing.T) (*Supervisor, *session.Store, *recorder) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := &recorder{}
	s := New(store, rec, Options{RetireWait: 200 * time.Millisecond})
	return s, store, rec
}

func seedSession(t *testing.T, store *session.Store, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(store.Dir(), name+".session"), []byte("x"), 0o600); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

// obedientLaunch имитирует попытку, которая живёт до отмены контекста.
func obedientLaunch(s *Supervisor) func(context.Context, *handle) {
	return func(ctx context.Context, h *handle) {
		<-ctx.Done()
		s.finish(h, ctx.Err())
	}
}

func TestConnectRequiresPhoneForNewSession(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSupervisor(t)
	if err := s.Connect("fresh", ""); !errors.Is(err, ErrMissingPhone) {
		t.Fatalf("Connect = %v, want ErrMissingPhone", err)
	}
}

func TestConnectRejectsBadSessionName(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSupervisor(t)
	if err := s.Connect("../escape", "+100"); !errors.Is(err, session.ErrBadSessionName) {
		t.Fatalf("Connect = %v, want ErrBadSessionName", err)
	}
}

func TestConnectSupersedesPrevious(t *testing.T) {
	t.Parallel()

	s, store, rec := newTestSupervisor(t)
	seedSession(t, store, "first")
	seedSession(t, store, "second")
	s.launch = obedientLaunch(s)

	if err := s.Connect("first", ""); err != nil {
		t.Fatalf("Connect first: %v", err)
	}
	if snap := s.Snapshot(); snap.Phase != PhaseConnecting || snap.Session != "first" {
		t.Fatalf("snapshot after first connect = %+v", snap)
	}

	if err := s.Connect("second", ""); err != nil {
		t.Fatalf("Connect second: %v", err)
	}

	// Первая попытка обязана завершиться и опубликовать Disconnected до
	// старта второй.
	statuses := rec.statuses()
	if len(statuses) != 1 {
		t.Fatalf("got %d status events, want 1 (first attempt terminal)", len(statuses))
	}
	if statuses[0].Connected || statuses[0].Session != "first" {
		t.Fatalf("terminal status = %+v, want disconnected first", statuses[0])
	}
	if snap := s.Snapshot(); snap.Phase != PhaseConnecting || snap.Session != "second" {
		t.Fatalf("snapshot after supersede = %+v", snap)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	s, store, rec := newTestSupervisor(t)
	seedSession(t, store, "acc")
	s.launch = obedientLaunch(s)

	if err := s.Connect("acc", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	s.Disconnect()
	s.Disconnect()

	if snap := s.Snapshot(); snap.Connected || snap.Phase != PhaseDisconnected {
		t.Fatalf("snapshot after disconnect = %+v", snap)
	}
	for i, st := range rec.statuses() {
		if st.Connected {
			t.Fatalf("status %d reports connected after disconnect", i)
		}
	}
}

func TestSupersededFinishIsSuppressed(t *testing.T) {
	t.Parallel()

	s, store, rec := newTestSupervisor(t)
	seedSession(t, store, "stuck")
	seedSession(t, store, "next")

	release := make(chan struct{})
	var stuck *handle
	var mu sync.Mutex
	// Первая попытка игнорирует отмену: retire истечёт по тайм-ауту.
	s.launch = func(ctx context.Context, h *handle) {
		mu.Lock()
		stuck = h
		mu.Unlock()
		<-release
		s.finish(h, errors.New("late failure"))
	}
	if err := s.Connect("stuck", ""); err != nil {
		t.Fatalf("Connect stuck: %v", err)
	}

	s.launch = obedientLaunch(s)
	if err := s.Connect("next", ""); err != nil {
		t.Fatalf("Connect next: %v", err)
	}

	before := len(rec.statuses())
	close(release)
	mu.Lock()
	h := stuck
	mu.Unlock()
	<-h.done

	// Опоздавший финал вытесненной попытки не публикует событий и не трогает
	// состояние преемника.
	if after := len(rec.statuses()); after != before {
		t.Fatalf("late finish broadcast %d extra events", after-before)
	}
	if snap := s.Snapshot(); snap.Session != "next" {
		t.Fatalf("snapshot hijacked by stale attempt: %+v", snap)
	}
}

func TestMarkConnectedAfterSupersedeFails(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestSupervisor(t)
	seedSession(t, store, "a")

	started := make(chan *handle, 1)
	s.launch = func(ctx context.Context, h *handle) {
		started <- h
		<-ctx.Done()
		s.finish(h, ctx.Err())
	}
	if err := s.Connect("a", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	h := <-started
	s.Disconnect()

	if s.markConnected(h, &UserIdentity{ID: 1}, &Client{}) {
		t.Fatal("markConnected succeeded for retired handle")
	}
	if _, err := s.Client(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Client = %v, want ErrNotConnected", err)
	}
}

func TestConnectedLifecycle(t *testing.T) {
	t.Parallel()

	s, store, rec := newTestSupervisor(t)
	seedSession(t, store, "acc")

	connected := make(chan struct{})
	s.launch = func(ctx context.Context, h *handle) {
		if !s.markConnected(h, &UserIdentity{ID: 7, FirstName: "Eve"}, &Client{SelfID: 7}) {
			s.finish(h, context.Canceled)
			return
		}
		close(connected)
		<-ctx.Done()
		s.finish(h, ctx.Err())
	}

	if err := s.Connect("acc", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-connected

	snap := s.Snapshot()
	if !snap.Connected || snap.User == nil || snap.User.ID != 7 {
		t.Fatalf("snapshot = %+v, want connected as user 7", snap)
	}
	cli, err := s.Client()
	if err != nil || cli.SelfID != 7 {
		t.Fatalf("Client = (%+v, %v)", cli, err)
	}

	s.Disconnect()
	if snap = s.Snapshot(); snap.Connected {
		t.Fatalf("still connected after Disconnect: %+v", snap)
	}

	statuses := rec.statuses()
	if len(statuses) < 2 {
		t.Fatalf("got %d status events, want at least connect+disconnect", len(statuses))
	}
	if !statuses[0].Connected {
		t.Fatalf("first status = %+v, want connected", statuses[0])
	}
	if last := statuses[len(statuses)-1]; last.Connected {
		t.Fatalf("last status = %+v, want disconnected", last)
	}
}

func TestSubmitWithoutPendingPromptIgnored(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSupervisor(t)
	if s.SubmitCode("12345") {
		t.Fatal("SubmitCode accepted with no pending prompt")
	}
	if s.SubmitPassword("secret") {
		t.Fatal("SubmitPassword accepted with no pending prompt")
	}
}

func TestSubmitCodeReachesWaiter(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSupervisor(t)

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := s.prompts.Await(context.Background(), promptCode, time.Second)
		done <- result{v, err}
	}()

	deadline := time.Now().Add(time.Second)
	for !s.SubmitCode("54321") {
		if time.Now().After(deadline) {
			t.Fatal("SubmitCode never accepted")
		}
		time.Sleep(time.Millisecond)
	}

	res := <-done
	if res.err != nil || res.value != "54321" {
		t.Fatalf("Await = (%q, %v), want (54321, nil)", res.value, res.err)
	}
}

func TestFailureReportsLastError(t *testing.T) {
	t.Parallel()

	s, store, rec := newTestSupervisor(t)
	seedSession(t, store, "bad")

	finished := make(chan struct{})
	s.launch = func(_ context.Context, h *handle) {
		s.finish(h, ErrAuthorizationFailed)
		close(finished)
	}
	if err := s.Connect("bad", ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-finished

	snap := s.Snapshot()
	if snap.Connected || snap.LastError == "" {
		t.Fatalf("snapshot after failure = %+v, want disconnected with error", snap)
	}
	statuses := rec.statuses()
	if len(statuses) != 1 || statuses[0].LastError == "" {
		t.Fatalf("statuses = %+v, want single failure event", statuses)
	}
}
