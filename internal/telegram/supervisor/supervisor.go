// Package supervisor управляет жизненным циклом единственного живого
// MTProto-соединения. Инварианты:
//   - в каждый момент времени существует не более одной активной попытки;
//   - новое подключение всегда вытесняет предыдущее, независимо от его фазы;
//   - терминальные переходы защищены проверкой владения хэндлом: опоздавшая
//     горутина вытесненной попытки не может затереть состояние преемника;
//   - ожидание ухода вытесняемой попытки ограничено по времени, зависший
//     хэндл бросается с записью аномалии в лог.
//
// Все изменения состояния транслируются наблюдателям через Broadcaster.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gotd/td/telegram"

	"telegram-bridge/internal/infra/concurrency"
	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/relay"
	"telegram-bridge/internal/telegram/session"
)

// Метки ожидаемого ввода в слоте Handoff.
const (
	promptCode     = "code"
	promptPassword = "password"
)

const (
	defaultPromptTimeout = 300 * time.Second
	defaultRetireWait    = 10 * time.Second
)

// Options — параметры надзирателя и запускаемых им попыток подключения.
type Options struct {
	APIID       int
	APIHash     string
	TestDC      bool
	ThrottleRPS int
	// DataDir — каталог служебных баз (состояние апдейтов, кэш пиров) на сессию.
	DataDir string
	// PromptTimeout ограничивает ожидание кода/пароля от веб-клиента.
	PromptTimeout time.Duration
	// RetireWait ограничивает ожидание ухода вытесняемой попытки.
	RetireWait time.Duration
	// Relay транслирует апдейты живого соединения на webhook; общий для всех
	// попыток, на каждую попытку перепривязывается к новому диспетчеру.
	Relay *relay.Relay
	// Device — паспорт устройства, предъявляемый Telegram.
	Device telegram.DeviceConfig
}

// Supervisor — надзиратель соединения. Операции Connect/Disconnect
// сериализуются через opMu; состояние защищено mu и никогда не удерживается
// на время сетевых вызовов.
type Supervisor struct {
	store   *session.Store
	bcast   Broadcaster
	prompts *concurrency.Handoff
	opts    Options

	opMu sync.Mutex // сериализация операций жизненного цикла

	mu      sync.Mutex
	current *handle
	snap    Snapshot
	client  *Client

	// launch запускает попытку; подменяется в тестах на фальшивую реализацию.
	launch func(ctx context.Context, h *handle)
}

// handle — одна попытка подключения. Горутина попытки владеет своим gotd
// клиентом; done закрывается строго после финального перехода состояния.
type handle struct {
	attemptID string
	session   string
	phone     string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New создаёт надзиратель. Broadcaster обязателен: терминальные переходы всегда
// транслируются.
func New(store *session.Store, bcast Broadcaster, opts Options) *Supervisor {
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = defaultPromptTimeout
	}
	if opts.RetireWait <= 0 {
		opts.RetireWait = defaultRetireWait
	}
	s := &Supervisor{
		store:   store,
		bcast:   bcast,
		prompts: concurrency.NewHandoff(),
		opts:    opts,
		snap:    Snapshot{Phase: PhaseDisconnected},
	}
	s.launch = s.runAttempt
	return s
}

// Connect запускает новую попытку подключения с именованной сессией.
// Существующая попытка (в любой фазе) вытесняется до старта новой. Для сессии
// без файла требуется номер телефона — иначе ErrMissingPhone. Сам вход
// асинхронен: исход сообщается наблюдателям через Broadcaster.
func (s *Supervisor) Connect(sessionName, phone string) error {
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}
	if !s.store.Exists(sessionName) && phone == "" {
		return ErrMissingPhone
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	prev := s.current
	s.mu.Unlock()
	if prev != nil {
		logger.Infof("Superseding connection attempt %s (session=%s)", prev.attemptID, prev.session)
		s.retire(prev, "superseded")
	}

	// Слот очищается до старта: устаревший ввод предыдущей попытки не должен
	// просочиться в новую.
	s.prompts.Drain()

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{
		attemptID: uuid.NewString(),
		session:   sessionName,
		phone:     phone,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.current = h
	s.client = nil
	s.snap = Snapshot{Phase: PhaseConnecting, Session: sessionName}
	s.mu.Unlock()

	logger.Infof("Connection attempt %s started (session=%s)", h.attemptID, sessionName)
	go s.launch(ctx, h)
	return nil
}

// Disconnect завершает активную попытку и нормализует состояние в
// Disconnected. Идемпотентен: без активной попытки лишь принудительно
// закрепляет отключённое состояние. После возврата вытесненный хэндл больше
// не публикует событий.
func (s *Supervisor) Disconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	h := s.current
	s.mu.Unlock()

	if h == nil {
		s.mu.Lock()
		s.snap = Snapshot{Phase: PhaseDisconnected}
		snap := s.snap
		s.mu.Unlock()
		s.bcast.StatusUpdate(snap)
		return
	}

	logger.Infof("Disconnecting attempt %s (session=%s)", h.attemptID, h.session)
	s.retire(h, "disconnect")
}

// retire отменяет попытку и ждёт её ухода не дольше RetireWait. Нормальный
// выход публикуется самим хэндлом (terminal finish); зависший хэндл
// отлучается от состояния, чтобы его опоздавший финал не произвёл эффекта.
func (s *Supervisor) retire(h *handle, reason string) {
	h.cancel()

	select {
	case <-h.done:
		return
	case <-time.After(s.opts.RetireWait):
	}

	logger.Errorf("Connection attempt %s did not exit within %s (%s); abandoning handle",
		h.attemptID, s.opts.RetireWait, reason)

	s.mu.Lock()
	owned := s.current == h
	if owned {
		s.current = nil
		s.client = nil
		s.snap = Snapshot{
			Phase:     PhaseDisconnected,
			Session:   h.session,
			LastError: "previous connection did not shut down cleanly",
		}
	}
	snap := s.snap
	s.mu.Unlock()

	if owned {
		s.bcast.StatusUpdate(snap)
	}
}

// finish — терминальный переход попытки. Выполняется ровно один раз из
// горутины попытки; владение проверяется, чтобы вытесненный хэндл не затёр
// состояние преемника. done закрывается после обновления состояния, поэтому
// ожидающие retire видят уже согласованный снимок.
func (s *Supervisor) finish(h *handle, runErr error) {
	s.mu.Lock()
	owned := s.current == h
	if owned {
		s.current = nil
		s.client = nil
		s.snap = Snapshot{Phase: PhaseDisconnected, Session: h.session}
		if runErr != nil && !isShutdownErr(runErr) {
			s.snap.LastError = runErr.Error()
		}
	}
	snap := s.snap
	s.mu.Unlock()

	if owned {
		if snap.LastError != "" {
			logger.Errorf("Connection attempt %s failed: %v", h.attemptID, runErr)
		} else {
			logger.Infof("Connection attempt %s finished (session=%s)", h.attemptID, h.session)
		}
		s.bcast.StatusUpdate(snap)
	} else {
		// Попытка уже вытеснена: состояние принадлежит преемнику, событий нет.
		logger.Debugf("Superseded attempt %s exited quietly (err=%v)", h.attemptID, runErr)
	}
	close(h.done)
}

// markConnected фиксирует успешный вход попытки. Возвращает false, если
// попытка уже вытеснена — тогда вызывающая горутина должна завершаться.
func (s *Supervisor) markConnected(h *handle, user *UserIdentity, cli *Client) bool {
	s.mu.Lock()
	if s.current != h {
		s.mu.Unlock()
		return false
	}
	s.client = cli
	s.snap = Snapshot{
		Connected: true,
		Phase:     PhaseConnected,
		Session:   h.session,
		User:      user,
	}
	snap := s.snap
	s.mu.Unlock()

	s.bcast.StatusUpdate(snap)
	return true
}

// Snapshot возвращает копию текущего состояния.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Client возвращает доступ к живому соединению или ErrNotConnected.
func (s *Supervisor) Client() (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

// SubmitCode передаёт код подтверждения ожидающей попытке. Значение без
// активного запроса кода игнорируется с записью в лог.
func (s *Supervisor) SubmitCode(code string) bool {
	if s.prompts.Pending() != promptCode {
		logger.Warn("Verification code received with no pending prompt; ignored")
		return false
	}
	s.prompts.Put(code)
	return true
}

// SubmitPassword передаёт облачный пароль ожидающей попытке. Значение без
// активного запроса пароля игнорируется с записью в лог.
func (s *Supervisor) SubmitPassword(password string) bool {
	if s.prompts.Pending() != promptPassword {
		logger.Warn("Password received with no pending prompt; ignored")
		return false
	}
	s.prompts.Put(password)
	return true
}

// isShutdownErr отличает штатную отмену (disconnect, supersede, завершение
// процесса) от настоящей ошибки попытки.
func isShutdownErr(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
