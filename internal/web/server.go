// Package web реализует управляющий интерфейс моста: JSON API для жизненного
// цикла соединения и отправки сообщений, websocket-канал реального времени и
// журналы для браузера. Сервер не хранит доменного состояния — всё делегирует
// фасаду команд.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"telegram-bridge/internal/commands"
	"telegram-bridge/internal/infra/logger"

	"go.uber.org/zap"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// Server представляет веб-сервер моста.
type Server struct {
	srv        *http.Server
	executor   commands.Executor
	hub        *Hub
	ring       *LogRing
	autoClear  *AutoClear
	webhookKey string

	done chan struct{}
}

// NewServer создаёт веб-сервер. hub, ring и autoClear создаются снаружи,
// потому что они же участвуют в проводке логгера и супервизора.
func NewServer(addr string, executor commands.Executor, hub *Hub, ring *LogRing, autoClear *AutoClear, webhookKey string) *Server {
	s := &Server{
		executor:   executor,
		hub:        hub,
		ring:       ring,
		autoClear:  autoClear,
		webhookKey: webhookKey,
		done:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", hub.HandleWS)

	mux.HandleFunc("/api/status", requireMethod(http.MethodGet, s.handleStatus))
	mux.HandleFunc("/api/sessions", requireMethod(http.MethodGet, s.handleSessions))
	mux.HandleFunc("/api/connect", requireMethod(http.MethodPost, s.handleConnect))
	mux.HandleFunc("/api/disconnect", requireMethod(http.MethodPost, s.handleDisconnect))
	mux.HandleFunc("/api/remove-session", requireMethod(http.MethodPost, s.handleRemoveSession))
	mux.HandleFunc("/api/send-message", requireMethod(http.MethodPost, s.handleSendMessage))
	mux.HandleFunc("/api/send-photo", requireMethod(http.MethodPost, s.handleSendPhoto))
	mux.HandleFunc("/api/chats", requireMethod(http.MethodGet, s.handleChats))
	mux.HandleFunc("/api/logs", requireMethod(http.MethodGet, s.handleLogs))
	mux.HandleFunc("/api/clear-logs", requireMethod(http.MethodPost, s.handleClearLogs))
	mux.HandleFunc("/api/toggle-auto-clear", requireMethod(http.MethodPost, s.handleToggleAutoClear))
	mux.HandleFunc("/api/webhook/send", requireMethod(http.MethodPost, s.handleWebhookSend))
	mux.HandleFunc("/api/webhook/send-photo", requireMethod(http.MethodPost, s.handleWebhookSendPhoto))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s
}

// Start запускает веб-сервер и фоновые циклы хаба и автоочистки.
// Блокирует до остановки сервера.
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))

	go s.hub.Run()
	go s.autoClear.Run(s.done)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown корректно останавливает веб-сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	close(s.done)
	s.hub.Stop()
	return s.srv.Shutdown(ctx)
}

// Handler возвращает корневой обработчик (используется тестами).
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
