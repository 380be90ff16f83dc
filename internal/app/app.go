// Package app — верхний уровень сборки моста Telegram↔webhook. Здесь
// связываются конфигурация, логирование, каталог файлов сессий, надзиратель
// MTProto-соединения, фасад команд и веб-сервер управления. Отсюда стартует
// весь процесс и обеспечивается корректный shutdown.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"

	"telegram-bridge/internal/commands"
	"telegram-bridge/internal/infra/concurrency"
	"telegram-bridge/internal/infra/config"
	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/relay"
	"telegram-bridge/internal/telegram/session"
	"telegram-bridge/internal/telegram/supervisor"
	"telegram-bridge/internal/web"
	"telegram-bridge/internal/webhook"
)

const (
	webServerShutdownTimeout = 10 * time.Second

	// Паспорт устройства, предъявляемый Telegram при логине.
	deviceModel   = "MacBookPro18,1"
	systemVersion = "macOS v15.6.1 build 24G90"
	appVersion    = "1.0.0"
)

// App агрегирует все подсистемы моста. Создаётся один раз в main,
// инициализируется Init и работает до отмены mainCtx.
type App struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc
	cfg        config.EnvConfig

	store     *session.Store
	hook      *webhook.Client
	dedup     *concurrency.Deduplicator
	relay     *relay.Relay
	sup       *supervisor.Supervisor
	executor  commands.Executor
	hub       *web.Hub
	ring      *web.LogRing
	autoClear *web.AutoClear
	server    *web.Server
}

// NewApp создаёт неинициализированное приложение. mainCancel используется для
// общего shutdown по сигналу или по таймеру автозавершения.
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Init строит граф зависимостей. Порядок важен: хаб создаётся раньше
// надзирателя (он транслирует статусы через хаб), а получатель кода/пароля
// привязывается к хабу последним, когда фасад команд уже собран.
func (a *App) Init() error {
	a.cfg = config.Env()

	logger.InitFile(logger.FileConfig{
		Path:       a.cfg.LogFile,
		Level:      a.cfg.LogFileLevel,
		MaxSizeMB:  a.cfg.LogFileMaxSize,
		MaxBackups: a.cfg.LogFileMaxBackups,
		MaxAgeDays: a.cfg.LogFileMaxAge,
		Compress:   a.cfg.LogFileCompress,
	})

	store, err := session.NewStore(a.cfg.SessionsDir)
	if err != nil {
		return errors.Wrap(err, "init session store")
	}
	a.store = store

	a.hook = webhook.NewClient(a.cfg.WebhookURL, a.cfg.WebhookRPS)
	a.dedup = concurrency.NewDeduplicator(a.cfg.DedupWindowSec)
	a.relay = relay.New(a.hook, a.dedup, config.AppLocation)

	a.hub = web.NewHub(nil)
	a.sup = supervisor.New(store, a.hub, supervisor.Options{
		APIID:         a.cfg.APIID,
		APIHash:       a.cfg.APIHash,
		TestDC:        a.cfg.TestDC,
		ThrottleRPS:   a.cfg.ThrottleRPS,
		DataDir:       a.cfg.DataDir,
		PromptTimeout: time.Duration(a.cfg.AuthPromptTimeoutSec) * time.Second,
		Relay:         a.relay,
		Device: telegram.DeviceConfig{
			DeviceModel:   deviceModel,
			SystemVersion: systemVersion,
			AppVersion:    appVersion,
		},
	})
	a.executor = commands.NewExecutor(a.sup, store, a.hub, a.cfg.ChatMarker)
	a.hub.SetSink(a.executor)

	a.ring = web.NewLogRing(a.cfg.MaxWebLogs)
	a.autoClear = web.NewAutoClear(a.cfg.AutoClearLogs,
		time.Duration(a.cfg.AutoClearIntervalMin)*time.Minute, func() {
			if removed := a.ring.Clear(); removed > 0 {
				a.hub.LogsCleared()
				logger.Debugf("Auto-cleared %d web log entries", removed)
			}
		})
	logger.SetSink(web.LogFeed(a.ring, a.hub, config.AppLocation))

	a.server = web.NewServer(a.cfg.WebServerAddress, a.executor, a.hub, a.ring,
		a.autoClear, a.cfg.WebhookAPIKey)

	logger.Debug("Application components initialized")
	return nil
}

// Run запускает фоновые сервисы и веб-сервер, затем блокируется до отмены
// mainCtx или фатальной ошибки сервера. Telegram-соединение здесь не
// поднимается: его жизненным циклом управляет надзиратель по командам из веба.
func (a *App) Run() error {
	if err := concurrency.StartTimeoutTimer(a.mainCtx, a.cfg.RunTimeoutSec, a.mainCancel); err != nil {
		return errors.Wrap(err, "start timeout timer")
	}

	a.dedup.Start(a.mainCtx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	var runErr error
	select {
	case <-a.mainCtx.Done():
	case err := <-serverErr:
		runErr = err
		a.mainCancel()
	}

	a.shutdown()

	if runErr != nil {
		return errors.Wrap(runErr, "web server")
	}
	return nil
}

// shutdown останавливает подсистемы в обратном порядке: сначала живое
// Telegram-соединение (чтобы последние статусы ушли в ещё открытые websocket),
// затем веб-сервер, фоновая очистка и трансляция логов.
func (a *App) shutdown() {
	logger.Info("Shutting down bridge...")

	a.sup.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), webServerShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Errorf("web server shutdown: %v", err)
	}

	a.dedup.Stop()
	logger.SetSink(nil)

	logger.Info("Bridge stopped")
}
