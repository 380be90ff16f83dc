// Файл authenticator.go описывает веб-аутентификатор (auth.UserAuthenticator):
// номер телефона приходит из запроса на подключение, код подтверждения и пароль
// 2FA запрашиваются у браузера через Broadcaster и ожидаются в слоте Handoff с
// тайм-аутом. Этот слой связывает веб-интерфейс и gotd, не меняя сетевую
// логику клиента.

package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"telegram-bridge/internal/infra/concurrency"
	"telegram-bridge/internal/infra/logger"
)

// promptAuthenticator реализует auth.UserAuthenticator поверх слота Handoff.
// Каждый запрос публикует событие наблюдателям и блокируется до прихода
// значения либо истечения timeout.
type promptAuthenticator struct {
	phone   string
	prompts *concurrency.Handoff
	bcast   Broadcaster
	timeout time.Duration
}

// Phone возвращает номер, переданный в запросе на подключение. Формат не
// проверяется; ожидается E.164. Пустой номер до этого места не доходит:
// Connect отклоняет новую сессию без телефона.
func (a promptAuthenticator) Phone(_ context.Context) (string, error) {
	if a.phone == "" {
		return "", ErrMissingPhone
	}
	return a.phone, nil
}

// Code публикует запрос кода подтверждения и ждёт ответа веб-клиента.
// sentCode содержит метаданные от Telegram и здесь не используется.
func (a promptAuthenticator) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	logger.Info("Waiting for verification code from web client")
	a.bcast.AskCode()

	value, err := a.prompts.Await(ctx, promptCode, a.timeout)
	if errors.Is(err, concurrency.ErrHandoffTimeout) {
		return "", errors.Wrap(ErrAuthTimeout, "verification code")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// Password публикует запрос облачного пароля и ждёт ответа веб-клиента.
func (a promptAuthenticator) Password(ctx context.Context) (string, error) {
	logger.Info("Waiting for 2FA password from web client")
	a.bcast.AskPassword()

	value, err := a.prompts.Await(ctx, promptPassword, a.timeout)
	if errors.Is(err, concurrency.ErrHandoffTimeout) {
		return "", errors.Wrap(ErrAuthTimeout, "2fa password")
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// AcceptTermsOfService принимает условия молча: интерактивного подтверждения
// в браузерном сценарии нет, текст фиксируется в логе.
func (a promptAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	logger.Infof("Accepting Telegram Terms of Service (%s)", tos.ID.Data)
	return nil
}

// SignUp вызывается для незарегистрированного номера. Регистрация новых
// аккаунтов через мост не поддерживается.
func (a promptAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.Wrap(ErrAuthorizationFailed, "sign-up is not supported")
}
