// Package sender реализует отправку сообщений и фотографий в произвольный чат
// по запросу из web-API. Адресат задаётся строкой: числовой идентификатор в
// нотации Bot API либо публичное имя (@username). Пакет классифицирует ошибки
// Telegram API в стабильную таксономию, на которую опираются HTTP-статусы
// веб-слоя.
package sender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/html"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/telegram/peersmgr"
)

// Ошибки доставки. Резолв адресата и транспортные сбои различимы через
// errors.Is: веб-слой превращает их в разные HTTP-статусы.
var (
	// ErrEntityNotFound — адресат не найден или не может быть разрешён в peer.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrForbidden — запись в чат запрещена (нет прав или нас ограничили).
	ErrForbidden = errors.New("forbidden")
	// ErrUserBlocked — получатель заблокировал текущий аккаунт.
	ErrUserBlocked = errors.New("user blocked")
	// ErrDownloadFailed — Telegram не смог скачать медиа по внешнему URL.
	ErrDownloadFailed = errors.New("download failed")
	// ErrSendFailed — прочие сбои доставки.
	ErrSendFailed = errors.New("send failed")
)

// Sender отправляет сообщения от имени подключённого аккаунта.
type Sender struct {
	api   *tg.Client
	peers *peersmgr.Service
	msg   *message.Sender
}

// New создаёт Sender поверх уже подключённого MTProto-клиента.
func New(api *tg.Client, peers *peersmgr.Service) *Sender {
	return &Sender{
		api:   api,
		peers: peers,
		msg:   message.NewSender(api),
	}
}

// SendText отправляет обычное текстовое сообщение и возвращает message_id.
func (s *Sender) SendText(ctx context.Context, chat, text string) (int, error) {
	peer, err := s.resolve(ctx, chat)
	if err != nil {
		return 0, err
	}

	upd, err := s.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int64(), // #nosec G404
	})
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return extractMessageID(upd), nil
}

// SendPhoto отправляет фотографию по внешнему URL с опциональной подписью.
// Скачивание URL выполняет сторона Telegram; локальная загрузка файла не
// производится. Поддерживаемый parse_mode подписи — "html"; "markdown"
// деградирует до простого текста с предупреждением в лог.
func (s *Sender) SendPhoto(ctx context.Context, chat, photoURL, caption, parseMode string) (int, error) {
	peer, err := s.resolve(ctx, chat)
	if err != nil {
		return 0, err
	}

	upd, err := s.msg.To(peer).Media(ctx, message.PhotoExternal(photoURL, captionOptions(caption, parseMode)...))
	if err != nil {
		return 0, classifyRPCError(err)
	}
	return extractMessageID(upd), nil
}

// resolve превращает строковый адрес чата в InputPeer. Сначала пробуем
// числовую коэрцию (идентификатор в нотации Bot API), затем трактуем строку
// как публичное имя. Любая неудача резолва — ErrEntityNotFound, кроме отмены
// контекста.
func (s *Sender) resolve(ctx context.Context, chat string) (tg.InputPeerClass, error) {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return nil, errors.Wrap(ErrEntityNotFound, "empty chat identifier")
	}

	var (
		peer tg.InputPeerClass
		err  error
	)
	if id, numErr := strconv.ParseInt(chat, 10, 64); numErr == nil {
		peer, err = s.peers.InputPeerForID(ctx, id)
	} else {
		peer, err = s.peers.InputPeerForUsername(ctx, chat)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Debugf("sender: resolve %q failed: %v", chat, err)
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, chat)
	}
	return peer, nil
}

// captionOptions превращает подпись и parse_mode в styled-опции gotd.
func captionOptions(caption, parseMode string) []message.StyledTextOption {
	if caption == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(parseMode)) {
	case "html":
		return []message.StyledTextOption{html.String(nil, caption)}
	case "markdown", "md":
		// У gotd нет markdown-парсера подписи; деградируем до plain.
		logger.Warn("sender: markdown parse_mode is not supported, sending caption as plain text")
	case "", "none", "text":
	default:
		logger.Warnf("sender: unknown parse_mode %q, sending caption as plain text", parseMode)
	}
	return []message.StyledTextOption{styling.Plain(caption)}
}

// classifyRPCError приводит ошибку Telegram API к таксономии пакета.
// Исходная ошибка сохраняется в цепочке для логов.
func classifyRPCError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if rpcErr, ok := tgerr.As(err); ok {
		switch rpcErr.Type {
		case "PEER_ID_INVALID", "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "CHANNEL_INVALID", "CHAT_ID_INVALID":
			return fmt.Errorf("%w: %s", ErrEntityNotFound, rpcErr.Type)
		case "USER_IS_BLOCKED":
			return fmt.Errorf("%w: %s", ErrUserBlocked, rpcErr.Type)
		case "CHAT_WRITE_FORBIDDEN", "CHAT_ADMIN_REQUIRED", "USER_BANNED_IN_CHANNEL":
			return fmt.Errorf("%w: %s", ErrForbidden, rpcErr.Type)
		case "WEBPAGE_CURL_FAILED", "WEBPAGE_MEDIA_EMPTY", "MEDIA_EMPTY", "PHOTO_EXT_INVALID":
			return fmt.Errorf("%w: %s", ErrDownloadFailed, rpcErr.Type)
		}
	}
	return errors.Wrap(ErrSendFailed, err.Error())
}

// extractMessageID достаёт идентификатор отправленного сообщения из ответа
// API. Telegram возвращает его в разных формах в зависимости от типа чата.
// 0 означает, что идентификатор в ответе отсутствовал.
func extractMessageID(upd tg.UpdatesClass) int {
	switch u := upd.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		return messageIDFromUpdates(u.Updates)
	case *tg.UpdatesCombined:
		return messageIDFromUpdates(u.Updates)
	default:
		return 0
	}
}

func messageIDFromUpdates(updates []tg.UpdateClass) int {
	for _, item := range updates {
		switch u := item.(type) {
		case *tg.UpdateMessageID:
			return u.ID
		case *tg.UpdateNewMessage:
			if msg, ok := u.Message.(*tg.Message); ok {
				return msg.ID
			}
		case *tg.UpdateNewChannelMessage:
			if msg, ok := u.Message.(*tg.Message); ok {
				return msg.ID
			}
		}
	}
	return 0
}
