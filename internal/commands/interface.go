// Package commands предоставляет фасад команд управления мостом. Команды
// используются веб-слоем (HTTP-обработчики и websocket) и инкапсулируют
// координацию между супервизором соединения, каталогом сессий и Telegram API.
package commands

import (
	"context"

	"telegram-bridge/internal/telegram/dialogs"
	"telegram-bridge/internal/telegram/supervisor"
)

// Executor — интерфейс фасада команд управления мостом.
type Executor interface {
	// Connect запускает подключение к Telegram под именованной сессией.
	// Для новой сессии обязателен номер телефона.
	Connect(ctx context.Context, sessionName, phone string) error

	// Disconnect разрывает текущее соединение. Всегда успешен с точки зрения
	// вызывающего: отсутствие соединения не является ошибкой.
	Disconnect(ctx context.Context) error

	// Sessions возвращает отсортированный список имён сохранённых сессий.
	Sessions(ctx context.Context) ([]string, error)

	// RemoveSession удаляет файл сессии. Активная сессия предварительно
	// отключается.
	RemoveSession(ctx context.Context, sessionName string) error

	// Status возвращает снимок текущего состояния соединения.
	Status(ctx context.Context) supervisor.Snapshot

	// SendMessage отправляет текст в чат и возвращает message_id.
	SendMessage(ctx context.Context, chat, text string) (int, error)

	// SendPhoto отправляет фотографию по URL и возвращает message_id.
	SendPhoto(ctx context.Context, chat, photoURL, caption, parseMode string) (int, error)

	// ListChats возвращает чаты с активностью за последние 7 суток и
	// идентификатор маркерного чата (0 — не найден).
	ListChats(ctx context.Context) ([]dialogs.Chat, int64, error)

	// SubmitCode передаёт код подтверждения ожидающему логину.
	// false — ни один логин код не ждёт.
	SubmitCode(code string) bool

	// SubmitPassword передаёт пароль 2FA ожидающему логину.
	SubmitPassword(password string) bool
}

// Connection — операции супервизора соединения, используемые фасадом.
// Реализуется supervisor.Supervisor; в тестах подменяется заглушкой.
type Connection interface {
	Connect(sessionName, phone string) error
	Disconnect()
	Snapshot() supervisor.Snapshot
	Client() (*supervisor.Client, error)
	SubmitCode(code string) bool
	SubmitPassword(password string) bool
}

// SessionsNotifier получает уведомление об изменении каталога сессий.
// Реализуется websocket-хабом (событие sessions_updated).
type SessionsNotifier interface {
	SessionsUpdated(names []string)
}
