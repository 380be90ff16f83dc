// Package dialogs отвечает за построение списка недавних чатов пользователя.
// Полный список диалогов постранично выгружается через MessagesGetDialogs,
// после чего фильтруется по дате верхнего сообщения: наружу попадают только
// чаты с активностью за последние 7 суток. Параллельно ищется «маркерный»
// чат — диалог, в имени которого встречается настроенная подстрока.
package dialogs

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-bridge/internal/infra/logger"
	telegramruntime "telegram-bridge/internal/telegram/runtime"
)

const (
	dialogFetchWaitMinMs = 500
	dialogFetchWaitMaxMs = 1500
	dialogFetchPageLimit = 100

	// recentWindow — окно активности: чаты без сообщений за этот период не
	// попадают в выдачу.
	recentWindow = 7 * 24 * time.Hour
)

var errDialogsNotModified = errors.New("dialogs not modified")

// Chat — элемент списка недавних чатов в том виде, в котором он уходит в
// web-API. Поля username/first_name/last_name присутствуют только когда
// известны для сущности.
type Chat struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Recent выгружает диалоги и возвращает чаты с активностью за последние
// 7 суток плюс идентификатор маркерного чата (0, если не найден).
func Recent(ctx context.Context, api *tg.Client, marker string) ([]Chat, int64, error) {
	result, err := fetchDialogs(ctx, api)
	if err != nil {
		return nil, 0, err
	}
	chats, markerID := Build(result, time.Now(), marker)
	logger.Debugf("dialogs: %d recent chats out of %d dialogs", len(chats), len(result.Dialogs))
	return chats, markerID, nil
}

// fetchDialogs последовательно выгружает список диалогов пользователя через
// MessagesGetDialogs. Пагинация по тройке (offset_date, offset_id, offset_peer)
// с использованием собранных по ходу access_hash. Диалоги приходят от новых к
// старым, поэтому выгрузка останавливается, как только дата верхнего сообщения
// страницы уходит за пределы окна активности.
func fetchDialogs(ctx context.Context, api *tg.Client) (*tg.MessagesDialogs, error) {
	result := &tg.MessagesDialogs{}
	cutoff := int(time.Now().Add(-recentWindow).Unix())

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	telegramruntime.WaitRandomTimeMs(ctx, dialogFetchWaitMinMs, dialogFetchWaitMaxMs)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogFetchPageLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "MessagesGetDialogs")
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return result, nil
			}
			return nil, err
		}

		if len(batch.Dialogs) == 0 {
			break
		}

		result.Dialogs = append(result.Dialogs, batch.Dialogs...)
		result.Messages = append(result.Messages, batch.Messages...)
		result.Chats = append(result.Chats, batch.Chats...)
		result.Users = append(result.Users, batch.Users...)

		updateHashesFromBatch(batch, userHashes, channelHashes)

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}

		// Хвост страницы старше окна — дальше только ещё более старые диалоги.
		if offsetDate != 0 && offsetDate < cutoff {
			break
		}

		if offsetDate == 0 {
			offsetDate = prevOffsetDate
		}
		if offsetID == 0 {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogFetchPageLimit {
			break
		}

		telegramruntime.WaitRandomTimeMs(ctx, dialogFetchWaitMinMs, dialogFetchWaitMaxMs)
	}

	return result, nil
}

// Build фильтрует выгруженные диалоги по окну активности от now и собирает
// итоговый список чатов. Вторым значением возвращается идентификатор первого
// чата, имя которого содержит marker (0 — не найден или marker пуст).
func Build(result *tg.MessagesDialogs, now time.Time, marker string) ([]Chat, int64) {
	cutoff := int(now.Add(-recentWindow).Unix())

	users := make(map[int64]*tg.User)
	for _, entity := range result.Users {
		if user, ok := entity.(*tg.User); ok {
			users[user.ID] = user
		}
	}
	groups := make(map[int64]*tg.Chat)
	channels := make(map[int64]*tg.Channel)
	for _, entity := range result.Chats {
		switch item := entity.(type) {
		case *tg.Chat:
			groups[item.ID] = item
		case *tg.Channel:
			channels[item.ID] = item
		}
	}

	chats := make([]Chat, 0, len(result.Dialogs))
	var markerID int64

	for _, dlg := range result.Dialogs {
		dialog, ok := dlg.(*tg.Dialog)
		if !ok {
			// Папки диалогов не являются чатами.
			continue
		}
		if date := messageDate(result.Messages, dialog.TopMessage); date == 0 || date < cutoff {
			continue
		}

		var chat Chat
		switch peer := dialog.Peer.(type) {
		case *tg.PeerUser:
			user, known := users[peer.UserID]
			if !known {
				continue
			}
			chat = Chat{
				ID:        user.ID,
				Name:      userDisplayName(user),
				Type:      "User",
				Username:  user.Username,
				FirstName: user.FirstName,
				LastName:  user.LastName,
			}
		case *tg.PeerChat:
			group, known := groups[peer.ChatID]
			if !known {
				continue
			}
			chat = Chat{ID: group.ID, Name: group.Title, Type: "Chat"}
		case *tg.PeerChannel:
			channel, known := channels[peer.ChannelID]
			if !known {
				continue
			}
			chat = Chat{
				ID:       channel.ID,
				Name:     channel.Title,
				Type:     "Channel",
				Username: channel.Username,
			}
		default:
			continue
		}

		if chat.Name == "" {
			chat.Name = "Unknown"
		}
		if markerID == 0 && marker != "" && strings.Contains(chat.Name, marker) {
			markerID = chat.ID
		}
		chats = append(chats, chat)
	}

	return chats, markerID
}

func userDisplayName(user *tg.User) string {
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = user.Username
	}
	return name
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, errors.Errorf("unexpected dialogs response: %T", resp)
	}
}

func updateHashesFromBatch(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{
			UserID:     entity.UserID,
			AccessHash: userHashes[entity.UserID],
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{
			ChannelID:  entity.ChannelID,
			AccessHash: channelHashes[entity.ChannelID],
		}
	default:
		return &tg.InputPeerEmpty{}
	}
}
