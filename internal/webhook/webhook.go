// Package webhook предоставляет доставку событий моста на внешний webhook.
//
// В этом файле (webhook.go):
//   - описывается формат события (payload согласован с принимающей стороной);
//   - настраивается HTTP-клиент и общий троттлер запросов;
//   - классифицируются ошибки доставки на временные (5xx/сеть) и постоянные (4xx).
//
// Доставка — fire-and-forget: неудача логируется и не блокирует обработку
// апдейтов Telegram. Идемпотентность на принимающей стороне не требуется,
// повторы подавляются дедупликацией апдейтов до отправки.

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"telegram-bridge/internal/infra/logger"
)

// httpClientTimeout — таймаут HTTP-клиента, секунды. Должен покрывать сетевые
// колебания и не зависать бесконечно на медленных соединениях.
const httpClientTimeout = 30

// Member описывает участника чата в событиях входа/выхода.
type Member struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Event — полезная нагрузка, отправляемая на webhook. Идентификаторы
// передаются строками: принимающая сторона не обязана уметь 64-битные числа.
type Event struct {
	EventType  string  `json:"event_type"`
	UserID     string  `json:"user_id,omitempty"`
	UserName   string  `json:"user_name,omitempty"`
	Username   string  `json:"username,omitempty"`
	ChatID     string  `json:"chat_id"`
	ChatName   string  `json:"chat_name"`
	IsPrivate  bool    `json:"is_private"`
	Direction  string  `json:"direction,omitempty"`
	Message    string  `json:"message,omitempty"`
	JoinedUser *Member `json:"joined_user,omitempty"`
	LeftUser   *Member `json:"left_user,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// Типы событий webhook.
const (
	EventMessage    = "message"
	EventUserJoined = "user_joined"
	EventUserLeft   = "user_left"
)

// Направления сообщений.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Client доставляет события на webhook.
//
// Поля:
//   - url     — конечная точка; пустая строка отключает доставку;
//   - client  — HTTP-клиент с умеренным таймаутом;
//   - limiter — общий троттлер (token bucket).
type Client struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient создаёт клиента доставки. rps задаёт целевую среднюю частоту
// запросов; пустой url означает, что доставка отключена.
func NewClient(url string, rps int) *Client {
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Enabled сообщает, настроена ли доставка.
func (c *Client) Enabled() bool { return c.url != "" }

// Send доставляет одно событие. Возвращает (permanent, err):
//
//   - permanent=true, err!=nil  — ошибка 4xx, повтор не имеет смысла;
//   - permanent=false, err!=nil — временная ошибка или сетевой сбой;
//   - permanent=false, err==nil — успех.
//
// Запрос выполняется внутри limiter.Wait.
func (c *Client) Send(ctx context.Context, ev Event) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	return c.perform(ctx, ev)
}

// Dispatch — асинхронная обёртка над Send для горячего пути обработки
// апдейтов: доставка не должна блокировать приём следующих событий.
// Результат логируется.
func (c *Client) Dispatch(ev Event) {
	if !c.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*httpClientTimeout*time.Second)
		defer cancel()

		permanent, err := c.Send(ctx, ev)
		switch {
		case err == nil:
			logger.Debugf("Webhook delivered: %s chat=%s", ev.EventType, ev.ChatID)
		case permanent:
			logger.Errorf("Webhook rejected %s event: %v", ev.EventType, err)
		default:
			logger.Warnf("Webhook delivery failed for %s event: %v", ev.EventType, err)
		}
	}()
}

// perform выполняет POST JSON без троттлера и приводит ответ к паре
// (permanent, error).
func (c *Client) perform(ctx context.Context, ev Event) (bool, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyHTTPError(resp.StatusCode, respBody)
	}
	return false, nil
}

// classifyHTTPError нормализует не-2xx ответы HTTP в (permanent, error).
// 429: временная ошибка (троттлер подождёт); 4xx: постоянная; 5xx: временная.
func classifyHTTPError(status int, body []byte) (bool, error) {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return false, fmt.Errorf("webhook rate limit (%d): %s", status, msg)
	case status >= 400 && status < 500:
		return true, fmt.Errorf("webhook client error (%d): %s", status, msg)
	default:
		return false, fmt.Errorf("webhook server error (%d): %s", status, msg)
	}
}
