// Данный файл содержит Handoff — одноместный потокобезопасный «почтовый ящик»
// для передачи значения от веб-клиента блокированной горутине авторизации.
// Telegram-клиент во время входа запрашивает код подтверждения (и, возможно,
// облачный пароль); значения приходят асинхронно по веб-сокету, а горутина
// авторизации ждёт их с тайм-аутом.

package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHandoffTimeout возвращается из Await, когда значение не пришло за
// отведённое время.
var ErrHandoffTimeout = errors.New("handoff: wait timed out")

// Handoff — слот вместимостью один. Put сохраняет последнее значение (затирая
// непотреблённое), Await отдаёт его ровно одному ожидающему. Между попытками
// подключения слот очищается через Drain, чтобы устаревший ввод предыдущей
// попытки не просочился в новую.
//
// Поле pending отражает, какой именно запрос сейчас ожидает ввода ("code",
// "password" или пусто). Это позволяет фасаду игнорировать значения, пришедшие
// без активного запроса.
type Handoff struct {
	mu      sync.Mutex
	slot    chan string
	pending string
}

// NewHandoff создаёт пустой слот.
func NewHandoff() *Handoff {
	return &Handoff{slot: make(chan string, 1)}
}

// Put сохраняет значение в слот, затирая непотреблённое предыдущее. Никогда не
// блокируется: вместимость канала — один, и вытеснение выполняется под mu.
func (h *Handoff) Put(value string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.slot:
	default:
	}
	h.slot <- value
}

// Await блокируется до появления значения, отмены контекста или истечения
// timeout. kind помечает, какой ввод ожидается; метка снимается на выходе.
func (h *Handoff) Await(ctx context.Context, kind string, timeout time.Duration) (string, error) {
	h.setPending(kind)
	defer h.setPending("")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-h.slot:
		return v, nil
	case <-timer.C:
		return "", ErrHandoffTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending сообщает, какой ввод сейчас ожидается; пустая строка — никакого.
func (h *Handoff) Pending() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// Drain очищает слот и снимает метку ожидания. Вызывается в начале каждой
// попытки подключения.
func (h *Handoff) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = ""
	select {
	case <-h.slot:
	default:
	}
}

func (h *Handoff) setPending(kind string) {
	h.mu.Lock()
	h.pending = kind
	h.mu.Unlock()
}
