package web

// Файл handlers.go содержит HTTP-обработчики JSON API. Все ответы используют
// конверт {"status": "success"|"error", ...}; ошибки таксономии команд
// отображаются в HTTP-статусы в httpStatusFor.

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/sender"
	"telegram-bridge/internal/telegram/session"
	"telegram-bridge/internal/telegram/supervisor"
)

// httpStatusFor переводит ошибку команды в HTTP-статус.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrMissingPhone),
		errors.Is(err, session.ErrBadSessionName),
		errors.Is(err, supervisor.ErrNotConnected),
		errors.Is(err, sender.ErrDownloadFailed):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, sender.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, sender.ErrForbidden),
		errors.Is(err, sender.ErrUserBlocked):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody разбирает JSON-тело запроса в dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// handleHealth — проверка живости сервера.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	writeResponse(w, []byte("OK"))
}

// handleStatus возвращает состояние соединения и настройки автоочистки логов.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.executor.Status(r.Context())
	enabled, interval := s.autoClear.Settings()

	st := buildStatusPayload(snap)
	writeSuccess(w, map[string]any{
		"connected":               st.Connected,
		"phase":                   st.Phase,
		"user_info":               st.UserInfo,
		"session":                 st.Session,
		"error":                   st.Error,
		"auto_clear_logs":         enabled,
		"auto_clear_interval_min": int(interval / time.Minute),
	})
}

// handleSessions возвращает список сохранённых сессий и имя активной.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	names, err := s.executor.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeSuccess(w, map[string]any{
		"sessions":        names,
		"current_session": s.executor.Status(r.Context()).Session,
	})
}

// handleConnect запускает подключение. Ответ — только подтверждение запуска;
// прогресс приходит через websocket.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionName string `json:"session_name"`
		Phone       string `json:"phone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionName == "" {
		writeError(w, http.StatusBadRequest, "session_name is required")
		return
	}

	if err := s.executor.Connect(r.Context(), req.SessionName, req.Phone); err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeSuccess(w, map[string]any{"message": "Connection process started"})
}

// handleDisconnect разрывает соединение. Всегда успешен.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	_ = s.executor.Disconnect(r.Context())
	writeSuccess(w, map[string]any{"message": "Disconnected"})
}

// handleRemoveSession удаляет файл сессии.
func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionName string `json:"session_name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionName == "" {
		writeError(w, http.StatusBadRequest, "session_name is required")
		return
	}

	if err := s.executor.RemoveSession(r.Context(), req.SessionName); err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeSuccess(w, map[string]any{"message": "Session removed"})
}

// handleSendMessage отправляет текст в чат.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID  string `json:"chat_id"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.sendMessage(w, r, req.ChatID, req.Message)
}

// handleSendPhoto отправляет фотографию по URL.
func (s *Server) handleSendPhoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID    string `json:"chat_id"`
		Photo     string `json:"photo"`
		Caption   string `json:"caption"`
		ParseMode string `json:"parse_mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.sendPhoto(w, r, req.ChatID, req.Photo, req.Caption, req.ParseMode)
}

// handleChats возвращает чаты с недавней активностью и id маркерного чата.
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, markerID, err := s.executor.ListChats(r.Context())
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}

	var marker any
	if markerID != 0 {
		marker = markerID
	}
	writeSuccess(w, map[string]any{
		"chats":          chats,
		"marker_chat_id": marker,
	})
}

// handleLogs возвращает содержимое кольцевого буфера логов.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{"logs": s.ring.Snapshot()})
}

// handleClearLogs очищает журнал и оповещает websocket-клиентов.
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	removed := s.ring.Clear()
	s.hub.LogsCleared()
	logger.Infof("Web logs cleared manually (%d entries)", removed)
	writeSuccess(w, map[string]any{"message": "Logs cleared"})
}

// handleToggleAutoClear меняет настройки автоочистки журнала.
func (s *Server) handleToggleAutoClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled     *bool `json:"enabled"`
		IntervalMin *int  `json:"interval_min"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	var interval *time.Duration
	if req.IntervalMin != nil {
		if *req.IntervalMin <= 0 {
			writeError(w, http.StatusBadRequest, "interval_min must be positive")
			return
		}
		d := time.Duration(*req.IntervalMin) * time.Minute
		interval = &d
	}

	s.autoClear.Update(req.Enabled, interval)
	enabled, current := s.autoClear.Settings()
	logger.Infof("Auto-clear logs: enabled=%t interval=%s", enabled, current)
	writeSuccess(w, map[string]any{
		"auto_clear_logs":         enabled,
		"auto_clear_interval_min": int(current / time.Minute),
	})
}

// handleWebhookSend — вход для внешних систем: отправка текста через мост.
// При настроенном WEBHOOK_API_KEY требует совпадения api_key из тела.
func (s *Server) handleWebhookSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey  string `json:"api_key"`
		ChatID  string `json:"chat_id"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAPIKey(w, req.APIKey) {
		return
	}
	s.sendMessage(w, r, req.ChatID, req.Message)
}

// handleWebhookSendPhoto — вход для внешних систем: отправка фотографии.
func (s *Server) handleWebhookSendPhoto(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey    string `json:"api_key"`
		ChatID    string `json:"chat_id"`
		Photo     string `json:"photo"`
		Caption   string `json:"caption"`
		ParseMode string `json:"parse_mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.checkAPIKey(w, req.APIKey) {
		return
	}
	s.sendPhoto(w, r, req.ChatID, req.Photo, req.Caption, req.ParseMode)
}

func (s *Server) checkAPIKey(w http.ResponseWriter, key string) bool {
	if s.webhookKey == "" {
		return true
	}
	if key != s.webhookKey {
		logger.Warn("Webhook ingress rejected: invalid api_key")
		writeError(w, http.StatusUnauthorized, "invalid api_key")
		return false
	}
	return true
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, chatID, text string) {
	if chatID == "" || text == "" {
		writeError(w, http.StatusBadRequest, "chat_id and message are required")
		return
	}

	msgID, err := s.executor.SendMessage(r.Context(), chatID, text)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeSuccess(w, map[string]any{"message_id": msgID})
}

func (s *Server) sendPhoto(w http.ResponseWriter, r *http.Request, chatID, photo, caption, parseMode string) {
	if chatID == "" || photo == "" {
		writeError(w, http.StatusBadRequest, "chat_id and photo are required")
		return
	}

	msgID, err := s.executor.SendPhoto(r.Context(), chatID, photo, caption, parseMode)
	if err != nil {
		writeError(w, httpStatusFor(err), err.Error())
		return
	}
	writeSuccess(w, map[string]any{"message_id": msgID})
}
