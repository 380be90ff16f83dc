package commands

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/dialogs"
	"telegram-bridge/internal/telegram/sender"
	"telegram-bridge/internal/telegram/session"
	"telegram-bridge/internal/telegram/supervisor"
)

// Верхние границы длительности для операций, инициированных из веб-API.
// Резолв peer и доставка внешнего медиа заметно медленнее обычной отправки.
const (
	sendMessageTimeout = 30 * time.Second
	sendPhotoTimeout   = 60 * time.Second
	listChatsTimeout   = 60 * time.Second
)

// CommandExecutor — реализация Executor поверх супервизора и каталога сессий.
type CommandExecutor struct {
	conn     Connection
	store    *session.Store
	notifier SessionsNotifier
	marker   string
}

// NewExecutor создаёт фасад команд. notifier может быть nil — тогда события
// об изменении каталога сессий не рассылаются.
func NewExecutor(conn Connection, store *session.Store, notifier SessionsNotifier, marker string) *CommandExecutor {
	return &CommandExecutor{
		conn:     conn,
		store:    store,
		notifier: notifier,
		marker:   marker,
	}
}

// Connect запускает подключение под именованной сессией.
func (e *CommandExecutor) Connect(ctx context.Context, sessionName, phone string) error {
	return e.conn.Connect(sessionName, phone)
}

// Disconnect разрывает текущее соединение.
func (e *CommandExecutor) Disconnect(ctx context.Context) error {
	e.conn.Disconnect()
	return nil
}

// Sessions возвращает имена сохранённых сессий.
func (e *CommandExecutor) Sessions(ctx context.Context) ([]string, error) {
	return e.store.List()
}

// RemoveSession удаляет файл сессии. Если сессия сейчас активна, соединение
// предварительно разрывается, чтобы не удалять файл из-под живого клиента.
func (e *CommandExecutor) RemoveSession(ctx context.Context, sessionName string) error {
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}

	snap := e.conn.Snapshot()
	if snap.Session == sessionName && snap.Phase != supervisor.PhaseDisconnected {
		logger.Infof("Session %q is active, disconnecting before removal", sessionName)
		e.conn.Disconnect()
	}

	if err := e.store.Remove(sessionName); err != nil {
		return err
	}

	e.notifySessions()
	return nil
}

// Status возвращает снимок состояния соединения.
func (e *CommandExecutor) Status(ctx context.Context) supervisor.Snapshot {
	return e.conn.Snapshot()
}

// SendMessage отправляет текст в чат. Требует подключённого клиента.
func (e *CommandExecutor) SendMessage(ctx context.Context, chat, text string) (int, error) {
	client, err := e.conn.Client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	return sender.New(client.API, client.Peers).SendText(ctx, chat, text)
}

// SendPhoto отправляет фотографию по внешнему URL. Требует подключённого
// клиента.
func (e *CommandExecutor) SendPhoto(ctx context.Context, chat, photoURL, caption, parseMode string) (int, error) {
	client, err := e.conn.Client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, sendPhotoTimeout)
	defer cancel()

	return sender.New(client.API, client.Peers).SendPhoto(ctx, chat, photoURL, caption, parseMode)
}

// ListChats возвращает чаты с недавней активностью и id маркерного чата.
func (e *CommandExecutor) ListChats(ctx context.Context) ([]dialogs.Chat, int64, error) {
	client, err := e.conn.Client()
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, listChatsTimeout)
	defer cancel()

	return dialogs.Recent(ctx, client.API, e.marker)
}

// SubmitCode передаёт код подтверждения ожидающему логину.
func (e *CommandExecutor) SubmitCode(code string) bool {
	return e.conn.SubmitCode(code)
}

// SubmitPassword передаёт пароль 2FA ожидающему логину.
func (e *CommandExecutor) SubmitPassword(password string) bool {
	return e.conn.SubmitPassword(password)
}

// notifySessions рассылает актуальный список сессий. Ошибка чтения каталога
// не фатальна: подписчики получат список при следующем изменении.
func (e *CommandExecutor) notifySessions() {
	if e.notifier == nil {
		return
	}
	names, err := e.store.List()
	if err != nil {
		logger.Warnf("Failed to list sessions after removal: %v", errors.Wrap(err, "list sessions"))
		return
	}
	e.notifier.SessionsUpdated(names)
}
