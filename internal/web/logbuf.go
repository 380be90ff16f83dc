package web

// Файл logbuf.go содержит кольцевой буфер логов для веб-интерфейса и
// планировщик автоочистки. Буфер наполняется из вторичного core логгера,
// так что в него попадают те же записи, что в консоль и файл.

import (
	"sync"
	"time"

	"telegram-bridge/internal/infra/logger"
)

// LogView — запись журнала в формате веб-интерфейса.
type LogView struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LogRing — ограниченный буфер записей журнала. При переполнении самая
// старая запись вытесняется.
type LogRing struct {
	mu       sync.Mutex
	entries  []LogView
	start    int
	count    int
	capacity int
}

// NewLogRing создаёт буфер ёмкости capacity (минимум 1).
func NewLogRing(capacity int) *LogRing {
	if capacity < 1 {
		capacity = 1
	}
	return &LogRing{
		entries:  make([]LogView, capacity),
		capacity: capacity,
	}
}

// Add добавляет запись, вытесняя старейшую при переполнении.
func (r *LogRing) Add(entry LogView) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.count) % r.capacity
	r.entries[idx] = entry
	if r.count < r.capacity {
		r.count++
		return
	}
	r.start = (r.start + 1) % r.capacity
}

// Snapshot возвращает копию записей от старых к новым.
func (r *LogRing) Snapshot() []LogView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]LogView, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(r.start+i)%r.capacity])
	}
	return out
}

// Clear очищает буфер и возвращает число удалённых записей.
func (r *LogRing) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.count
	r.start = 0
	r.count = 0
	return removed
}

// Len возвращает текущее число записей.
func (r *LogRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// LogFeed возвращает функцию для logger.SetSink: каждая запись попадает в
// кольцевой буфер и транслируется websocket-клиентам.
func LogFeed(ring *LogRing, hub *Hub, loc *time.Location) func(logger.Entry) {
	if loc == nil {
		loc = time.UTC
	}
	return func(e logger.Entry) {
		view := LogView{
			Time:    e.Time.In(loc).Format("2006-01-02 15:04:05"),
			Level:   normalizeLevel(e.Level),
			Message: e.Message,
		}
		ring.Add(view)
		hub.Log(view)
	}
}

// normalizeLevel приводит уровень zap к верхнему регистру веб-интерфейса.
func normalizeLevel(level string) string {
	switch level {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return level
	}
}

// AutoClear периодически очищает журнал веб-интерфейса. Интервал и флаг
// включения меняются на лету из /api/toggle-auto-clear.
type AutoClear struct {
	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	changed  chan struct{}
	clearFn  func()
}

// NewAutoClear создаёт планировщик. clearFn вызывается на каждый тик
// (очистка буфера плюс событие logs_cleared).
func NewAutoClear(enabled bool, interval time.Duration, clearFn func()) *AutoClear {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AutoClear{
		enabled:  enabled,
		interval: interval,
		changed:  make(chan struct{}, 1),
		clearFn:  clearFn,
	}
}

// Settings возвращает текущие настройки автоочистки.
func (a *AutoClear) Settings() (enabled bool, interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled, a.interval
}

// Update меняет настройки. nil означает «оставить как есть». Таймер
// перезапускается с новыми параметрами.
func (a *AutoClear) Update(enabled *bool, interval *time.Duration) {
	a.mu.Lock()
	if enabled != nil {
		a.enabled = *enabled
	}
	if interval != nil && *interval > 0 {
		a.interval = *interval
	}
	a.mu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}
}

// Run крутит цикл автоочистки до отмены контекста.
func (a *AutoClear) Run(done <-chan struct{}) {
	for {
		enabled, interval := a.Settings()

		if !enabled {
			select {
			case <-done:
				return
			case <-a.changed:
				continue
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-done:
			timer.Stop()
			return
		case <-a.changed:
			timer.Stop()
			continue
		case <-timer.C:
			logger.Debug("Auto-clearing web logs")
			a.clearFn()
		}
	}
}
