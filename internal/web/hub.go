package web

// Файл hub.go реализует websocket-канал реального времени: хаб рассылает
// события всем подключённым браузерам, каждый клиент обслуживается парой
// горутин read/write. Медленный клиент не блокирует рассылку: его буфер
// переполняется, и кадр для него отбрасывается.

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/supervisor"
)

const (
	// writeWait — дедлайн на запись одного кадра.
	writeWait = 10 * time.Second
	// pongWait — максимальная тишина от клиента до разрыва соединения.
	pongWait = 60 * time.Second
	// pingPeriod — период ping-кадров; должен быть меньше pongWait.
	pingPeriod = 30 * time.Second
	// maxFrameSize — входящие кадры небольшие (код/пароль).
	maxFrameSize = 4096

	clientBufferSize    = 64
	broadcastBufferSize = 256
)

// События, рассылаемые сервером.
const (
	eventStatusUpdate    = "status_update"
	eventAskCode         = "ask_code"
	eventAskPassword     = "ask_password"
	eventLog             = "log"
	eventLogsCleared     = "logs_cleared"
	eventSessionsUpdated = "sessions_updated"
)

// События, принимаемые от клиента.
const (
	eventCodeResponse     = "code_response"
	eventPasswordResponse = "password_response"
)

// Frame — кадр websocket-протокола в обе стороны.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// PromptSink принимает введённые пользователем код и пароль.
// Реализуется фасадом команд.
type PromptSink interface {
	SubmitCode(code string) bool
	SubmitPassword(password string) bool
}

// statusPayload — полезная нагрузка события status_update и ответа
// GET /api/status.
type statusPayload struct {
	Connected bool                     `json:"connected"`
	Phase     string                   `json:"phase"`
	UserInfo  *supervisor.UserIdentity `json:"user_info"`
	Session   string                   `json:"session,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

func buildStatusPayload(snap supervisor.Snapshot) statusPayload {
	return statusPayload{
		Connected: snap.Connected,
		Phase:     string(snap.Phase),
		UserInfo:  snap.User,
		Session:   snap.Session,
		Error:     snap.LastError,
	}
}

// Hub — реестр websocket-клиентов и очередь рассылки. Реализует
// supervisor.Broadcaster и commands.SessionsNotifier.
type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	sink      PromptSink
	clients   map[*wsClient]bool
	stopped   bool
	broadcast chan Frame
	// lastStatus отправляется каждому новому клиенту, чтобы страница сразу
	// показала актуальное состояние без отдельного запроса.
	lastStatus *Frame
}

// wsClient — одно websocket-соединение с собственной горутиной записи.
type wsClient struct {
	conn *websocket.Conn
	send chan Frame
	done chan struct{}
	once sync.Once
	hub  *Hub
}

func (c *wsClient) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// NewHub создаёт хаб. Run должен быть запущен до подключения клиентов.
func NewHub(sink PromptSink) *Hub {
	return &Hub{
		sink:      sink,
		clients:   make(map[*wsClient]bool),
		broadcast: make(chan Frame, broadcastBufferSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Интерфейс локальный, origin не проверяем.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetSink привязывает получателя кода/пароля. Нужен, когда хаб создаётся
// раньше остального графа зависимостей: надзиратель транслирует события через
// хаб, а ввод из браузера идёт обратно через фасад команд.
func (h *Hub) SetSink(sink PromptSink) {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()
}

func (h *Hub) promptSink() PromptSink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sink
}

// Run читает очередь рассылки и доставляет кадры всем клиентам.
// Завершается после Stop.
func (h *Hub) Run() {
	for frame := range h.broadcast {
		h.mu.RLock()
		for client := range h.clients {
			select {
			case <-client.done:
			case client.send <- frame:
			default:
				logger.Warnf("Websocket client buffer full, dropping %q frame", frame.Event)
			}
		}
		h.mu.RUnlock()
	}
}

// Stop закрывает все соединения и останавливает рассылку.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	for client := range h.clients {
		client.shutdown()
	}
	h.clients = make(map[*wsClient]bool)
	close(h.broadcast)
	h.mu.Unlock()
}

// Broadcast ставит кадр в очередь рассылки, не блокируя вызывающего.
func (h *Hub) Broadcast(frame Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		logger.Warnf("Websocket broadcast queue full, dropping %q frame", frame.Event)
	}
}

// StatusUpdate рассылает снимок состояния соединения (supervisor.Broadcaster).
func (h *Hub) StatusUpdate(snap supervisor.Snapshot) {
	frame := Frame{Event: eventStatusUpdate, Data: buildStatusPayload(snap)}

	h.mu.Lock()
	h.lastStatus = &frame
	h.mu.Unlock()

	h.Broadcast(frame)
}

// AskCode просит браузер показать форму ввода кода подтверждения.
func (h *Hub) AskCode() {
	h.Broadcast(Frame{Event: eventAskCode})
}

// AskPassword просит браузер показать форму ввода пароля 2FA.
func (h *Hub) AskPassword() {
	h.Broadcast(Frame{Event: eventAskPassword})
}

// SessionsUpdated сообщает об изменении каталога сессий.
func (h *Hub) SessionsUpdated(names []string) {
	h.Broadcast(Frame{Event: eventSessionsUpdated, Data: map[string]any{"sessions": names}})
}

// Log транслирует строку лога в реальном времени.
func (h *Hub) Log(entry LogView) {
	h.Broadcast(Frame{Event: eventLog, Data: entry})
}

// LogsCleared сообщает браузерам, что журнал очищен.
func (h *Hub) LogsCleared() {
	h.Broadcast(Frame{Event: eventLogsCleared})
}

// ClientCount возвращает число подключённых клиентов.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS апгрейдит HTTP-запрос до websocket и регистрирует клиента.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan Frame, clientBufferSize),
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = true
	last := h.lastStatus
	h.mu.Unlock()

	logger.Debugf("Websocket client connected (%d total)", h.ClientCount())

	// Новый клиент сразу получает последний статус.
	if last != nil {
		client.send <- *last
	}

	go client.writePump()
	go client.readPump()
}

// writePump пишет кадры из канала send в соединение и шлёт периодические ping.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Debugf("Websocket write failed: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump принимает кадры от клиента и маршрутизирует ответы на запросы
// аутентификации. Выход из цикла снимает клиента с учёта.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		c.shutdown()
		logger.Debugf("Websocket client disconnected (%d remaining)", c.hub.ClientCount())
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("Websocket read failed: %v", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *wsClient) handleFrame(data []byte) {
	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.Warnf("Websocket: malformed frame: %v", err)
		return
	}

	sink := c.hub.promptSink()
	if sink == nil {
		logger.Warnf("Websocket: frame %q before prompt sink is bound; ignored", frame.Event)
		return
	}

	switch frame.Event {
	case eventCodeResponse:
		var payload struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Code == "" {
			logger.Warn("Websocket: code_response without code")
			return
		}
		if !sink.SubmitCode(payload.Code) {
			logger.Warn("Websocket: no login is waiting for a code")
		}

	case eventPasswordResponse:
		var payload struct {
			Password string `json:"password"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.Password == "" {
			logger.Warn("Websocket: password_response without password")
			return
		}
		if !sink.SubmitPassword(payload.Password) {
			logger.Warn("Websocket: no login is waiting for a password")
		}

	default:
		logger.Debugf("Websocket: unknown event %q", frame.Event)
	}
}
