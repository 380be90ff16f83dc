// Файл attempt.go — тело одной попытки подключения. Горутина попытки владеет
// собственным gotd-клиентом, хранилищем состояния апдейтов и кэшем пиров;
// фазы: авторизация (с веб-запросами кода/пароля) → проверка статуса →
// публикация Connected → цикл менеджера апдейтов до отмены или ошибки.
// Терминальный переход выполняется строго через Supervisor.finish.

package supervisor

import (
	"context"
	"path/filepath"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/infra/storage"
	"telegram-bridge/internal/telegram/peersmgr"
)

// lazyUpdateHandler откладывает установку реального обработчика апдейтов,
// разрывая цикл инициализации клиент ↔ менеджер апдейтов.
type lazyUpdateHandler struct {
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

// runAttempt — штатная реализация launch. Любой выход завершается finish;
// классификация ошибки определяет текст, который увидит веб-клиент.
func (s *Supervisor) runAttempt(ctx context.Context, h *handle) {
	var runErr error
	defer func() { s.finish(h, runErr) }()

	hadSession := s.store.Exists(h.session)

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	waiter := floodwait.NewWaiter()

	options := telegram.Options{
		SessionStorage: s.store.Storage(h.session),
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(
				rate.Limit(s.opts.ThrottleRPS),
				s.opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: s.opts.Device,
	}
	if s.opts.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(s.opts.APIID, s.opts.APIHash, options)

	peersSvc, err := peersmgr.New(client.API(), s.dataFile(h.session, "peers.bbolt"))
	if err != nil {
		runErr = errors.Wrap(err, "init peers manager")
		return
	}
	defer func() {
		if closeErr := peersSvc.Close(); closeErr != nil {
			logger.Errorf("close peers db: %v", closeErr)
		}
	}()

	statePath := s.dataFile(h.session, "state.bbolt")
	if err = storage.EnsureDir(statePath); err != nil {
		runErr = errors.Wrap(err, "ensure state dir")
		return
	}
	stateDB, err := bbolt.Open(statePath, 0o600, nil)
	if err != nil {
		runErr = errors.Wrap(err, "open state storage")
		return
	}
	defer func() {
		if closeErr := stateDB.Close(); closeErr != nil {
			logger.Errorf("close state db: %v", closeErr)
		}
	}()

	updMgr := tgupdates.New(tgupdates.Config{
		Handler:      dispatcher,
		Storage:      boltstor.NewStateStorage(stateDB),
		AccessHasher: peersSvc.Mgr,
	})
	lazyHandler.handler = contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(updMgr), peersSvc.Store())

	if s.opts.Relay != nil {
		s.opts.Relay.Bind(dispatcher)
	}

	runErr = waiter.Run(ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			self, loginErr := s.login(ctx, client, h)
			if loginErr != nil {
				return loginErr
			}

			if initErr := peersSvc.Mgr.Init(ctx); initErr != nil {
				logger.Errorf("init peers manager: %v", initErr)
			}
			if loadErr := peersSvc.LoadFromStorage(ctx); loadErr != nil {
				logger.Errorf("load peers from storage: %v", loadErr)
			}
			if s.opts.Relay != nil {
				s.opts.Relay.SetSelf(self.ID)
			}

			cli := &Client{API: client.API(), Peers: peersSvc, SelfID: self.ID}
			if !s.markConnected(h, identityOf(self), cli) {
				// Попытка вытеснена во время входа: тихо уходим.
				return context.Canceled
			}

			return updMgr.Run(ctx, client.API(), self.ID, tgupdates.AuthOptions{
				Forget: false,
				OnStart: func(context.Context) {
					logger.Debugf("Updates manager started (attempt=%s)", h.attemptID)
				},
			})
		})
	})
	runErr = s.classifyRunError(h, hadSession, runErr)
}

// login выполняет авторизацию с веб-аутентификатором и проверяет её итог.
func (s *Supervisor) login(ctx context.Context, client *telegram.Client, h *handle) (*tg.User, error) {
	flow := auth.NewFlow(
		promptAuthenticator{
			phone:   h.phone,
			prompts: s.prompts,
			bcast:   s.bcast,
			timeout: s.opts.PromptTimeout,
		},
		auth.SendCodeOptions{},
	)

	if err := client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	status, err := client.Auth().Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		s.dropSessionFile(h.session, "authorization not confirmed")
		return nil, ErrAuthorizationFailed
	}

	self, err := client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}
	logger.Infof("Logged in as %s %s (@%s, id=%d)",
		self.FirstName, self.LastName, self.Username, self.ID)
	return self, nil
}

// classifyRunError приводит ошибку попытки к стабильной таксономии.
// Ошибка авторизации существующего файла сессии означает, что файл мёртв:
// он удаляется, чтобы следующий запуск начал чистый вход.
func (s *Supervisor) classifyRunError(h *handle, hadSession bool, err error) error {
	switch {
	case err == nil || isShutdownErr(err):
		return err
	case errors.Is(err, ErrAuthTimeout):
		return ErrAuthTimeout
	case errors.Is(err, ErrAuthorizationFailed):
		return ErrAuthorizationFailed
	case auth.IsUnauthorized(err):
		if hadSession {
			s.dropSessionFile(h.session, "stored session rejected")
			return ErrInvalidSession
		}
		return errors.Wrap(ErrAuthorizationFailed, err.Error())
	case hadSession && errors.Is(err, ErrMissingPhone):
		// Файл сессии есть, но авторизацию он не даёт, а телефона для
		// повторного входа не передали: считаем сессию недействительной.
		s.dropSessionFile(h.session, "session no longer authorized")
		return ErrInvalidSession
	default:
		return err
	}
}

// dropSessionFile удаляет файл сессии после подтверждённой недействительности.
func (s *Supervisor) dropSessionFile(name, reason string) {
	logger.Warnf("Removing session %q: %s", name, reason)
	if err := s.store.Remove(name); err != nil {
		logger.Errorf("remove session %q: %v", name, err)
	}
}

// dataFile строит путь служебного файла для сессии в каталоге данных.
func (s *Supervisor) dataFile(sessionName, suffix string) string {
	return filepath.Join(s.opts.DataDir, sessionName+"."+suffix)
}
