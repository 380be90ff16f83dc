// Package relay связывает транспортный слой (tg.* updates) с доставкой на
// внешний webhook. В рамках пакета решаются задачи:
//  1. нормализация входящих и исходящих сообщений в формат события webhook,
//  2. трансляция сервисных сообщений о входе/выходе участников чатов,
//  3. защита от повторной обработки (Deduplicator по peerID/msgID/EditDate).
//
// Пакет не ходит в сеть сам по себе — он формирует события и передаёт их
// клиенту webhook, доставка которого асинхронна и не блокирует приём апдейтов.
package relay

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gotd/td/tg"

	"telegram-bridge/internal/infra/concurrency"
	"telegram-bridge/internal/infra/logger"
	"telegram-bridge/internal/infra/timeutil"
	"telegram-bridge/internal/tgutil"
	"telegram-bridge/internal/webhook"
)

// Relay агрегирует зависимости и реализует реакции на ключевые типы апдейтов
// Telegram. Имя и тип чата восстанавливаются из сущностей апдейта; сущности,
// отсутствующие в апдейте, пропускаются с плейсхолдером, а не тормозят поток.
type Relay struct {
	hook     *webhook.Client           // hook доставляет события на внешний webhook
	dupCache *concurrency.Deduplicator // dupCache предотвращает повторную обработку одинаковых сообщений
	loc      *time.Location            // loc — таймзона меток времени событий
	selfID   atomic.Int64              // selfID — идентификатор вошедшего пользователя (для исходящих)
}

// New подготавливает инстанс без запуска фоновых горутин.
func New(hook *webhook.Client, dup *concurrency.Deduplicator, loc *time.Location) *Relay {
	if loc == nil {
		loc = time.UTC
	}
	return &Relay{hook: hook, dupCache: dup, loc: loc}
}

// SetSelf фиксирует идентификатор вошедшего пользователя. Вызывается после
// успешной авторизации, до старта менеджера апдейтов.
func (r *Relay) SetSelf(id int64) { r.selfID.Store(id) }

// Bind регистрирует обработчики на диспетчере апдейтов.
func (r *Relay) Bind(dispatcher tg.UpdateDispatcher) {
	dispatcher.OnNewMessage(r.OnNewMessage)
	dispatcher.OnNewChannelMessage(r.OnNewChannelMessage)
}

// OnNewMessage обрабатывает сообщение в личном или групповом чате.
func (r *Relay) OnNewMessage(_ context.Context, entities tg.Entities, u *tg.UpdateNewMessage) error {
	r.process(entities, u.Message)
	return nil
}

// OnNewChannelMessage обрабатывает сообщение из канала/супергруппы. Логика
// идентична личным/групповым сообщениям.
func (r *Relay) OnNewChannelMessage(_ context.Context, entities tg.Entities, u *tg.UpdateNewChannelMessage) error {
	r.process(entities, u.Message)
	return nil
}

// process выполняет дедупликацию и передаёт события на доставку.
func (r *Relay) process(entities tg.Entities, message tg.MessageClass) {
	events := r.BuildEvents(entities, message, time.Now())
	if len(events) == 0 {
		return
	}
	for _, ev := range events {
		r.hook.Dispatch(ev)
	}
}

// BuildEvents нормализует один апдейт в ноль или более событий webhook.
// Повторы в пределах окна дедупликации дают пустой результат.
func (r *Relay) BuildEvents(entities tg.Entities, message tg.MessageClass, now time.Time) []webhook.Event {
	switch msg := message.(type) {
	case *tg.Message:
		return r.buildMessageEvent(entities, msg, now)
	case *tg.MessageService:
		return r.buildMembershipEvents(entities, msg, now)
	default:
		return nil
	}
}

// buildMessageEvent формирует событие message для обычного текстового
// сообщения. Исходящие пересылки пропускаются: мост транслирует только
// собственноручно написанные исходящие.
func (r *Relay) buildMessageEvent(entities tg.Entities, msg *tg.Message, now time.Time) []webhook.Event {
	if _, forwarded := msg.GetFwdFrom(); msg.Out && forwarded {
		return nil
	}
	peerID := tgutil.GetPeerID(msg.PeerID)
	if r.dupCache != nil && r.dupCache.DedupSeen(peerID, msg.ID, msg.EditDate) {
		return nil
	}

	direction := webhook.DirectionIncoming
	senderID := senderOf(msg)
	if msg.Out {
		direction = webhook.DirectionOutgoing
		senderID = r.selfID.Load()
	}

	_, isPrivate := msg.PeerID.(*tg.PeerUser)
	chatName := chatTitle(entities, msg.PeerID)

	var userName, username string
	if user, ok := entities.Users[senderID]; ok {
		userName = displayName(user)
		username = user.Username
	}

	logger.Debugf("Relaying %s message %d from chat %d", direction, msg.ID, peerID)
	return []webhook.Event{{
		EventType: webhook.EventMessage,
		UserID:    strconv.FormatInt(senderID, 10),
		UserName:  userName,
		Username:  username,
		ChatID:    strconv.FormatInt(peerID, 10),
		ChatName:  chatName,
		IsPrivate: isPrivate,
		Direction: direction,
		Message:   msg.Message,
		Timestamp: timeutil.FormatEventTime(now, r.loc),
	}}
}

// buildMembershipEvents транслирует сервисные действия чата: вход по
// приглашению или ссылке, выход или исключение участника.
func (r *Relay) buildMembershipEvents(entities tg.Entities, msg *tg.MessageService, now time.Time) []webhook.Event {
	peerID := tgutil.GetPeerID(msg.PeerID)
	if r.dupCache != nil && r.dupCache.DedupSeen(peerID, msg.ID, 0) {
		return nil
	}

	chatID := strconv.FormatInt(peerID, 10)
	chatName := chatTitle(entities, msg.PeerID)
	ts := timeutil.FormatEventTime(now, r.loc)

	var events []webhook.Event
	switch action := msg.Action.(type) {
	case *tg.MessageActionChatAddUser:
		for _, uid := range action.Users {
			events = append(events, webhook.Event{
				EventType:  webhook.EventUserJoined,
				ChatID:     chatID,
				ChatName:   chatName,
				JoinedUser: memberOf(entities, uid),
				Timestamp:  ts,
			})
		}
	case *tg.MessageActionChatJoinedByLink:
		events = append(events, webhook.Event{
			EventType:  webhook.EventUserJoined,
			ChatID:     chatID,
			ChatName:   chatName,
			JoinedUser: memberOf(entities, senderOf(msg)),
			Timestamp:  ts,
		})
	case *tg.MessageActionChatDeleteUser:
		events = append(events, webhook.Event{
			EventType: webhook.EventUserLeft,
			ChatID:    chatID,
			ChatName:  chatName,
			LeftUser:  memberOf(entities, action.UserID),
			Timestamp: ts,
		})
	}
	return events
}

// messageLike покрывает *tg.Message и *tg.MessageService.
type messageLike interface {
	GetFromID() (tg.PeerClass, bool)
	GetPeerID() tg.PeerClass
}

// senderOf извлекает идентификатор автора сообщения. Для личных чатов FromID
// может отсутствовать — тогда автором считается собеседник.
func senderOf(msg messageLike) int64 {
	if from, ok := msg.GetFromID(); ok {
		return tgutil.GetPeerID(from)
	}
	if peer, ok := msg.GetPeerID().(*tg.PeerUser); ok {
		return peer.UserID
	}
	return 0
}

// memberOf собирает данные участника из сущностей апдейта. Неизвестный
// участник представляется только идентификатором.
func memberOf(entities tg.Entities, id int64) *webhook.Member {
	m := &webhook.Member{ID: id}
	if user, ok := entities.Users[id]; ok {
		m.FirstName = user.FirstName
		m.LastName = user.LastName
		m.Username = user.Username
	}
	return m
}

// chatTitle восстанавливает человекочитаемое имя чата из сущностей апдейта.
func chatTitle(entities tg.Entities, peer tg.PeerClass) string {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if user, ok := entities.Users[p.UserID]; ok {
			return displayName(user)
		}
	case *tg.PeerChat:
		if chat, ok := entities.Chats[p.ChatID]; ok {
			return chat.Title
		}
	case *tg.PeerChannel:
		if channel, ok := entities.Channels[p.ChannelID]; ok {
			return channel.Title
		}
	}
	return "Unknown"
}

// displayName склеивает имя и фамилию, отбрасывая пустые части.
func displayName(u *tg.User) string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
