package relay_test

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"telegram-bridge/internal/infra/concurrency"
	"telegram-bridge/internal/telegram/relay"
	"telegram-bridge/internal/webhook"
)

var testTime = time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

func testEntities() tg.Entities {
	return tg.Entities{
		Users: map[int64]*tg.User{
			101: {ID: 101, FirstName: "Alice", LastName: "Liddell", Username: "alice"},
			102: {ID: 102, FirstName: "Bob"},
		},
		Chats: map[int64]*tg.Chat{
			201: {ID: 201, Title: "Work Group"},
		},
		Channels: map[int64]*tg.Channel{
			301: {ID: 301, Title: "Announcements"},
		},
	}
}

func TestBuildEventsIncomingPrivate(t *testing.T) {
	t.Parallel()

	r := relay.New(webhook.NewClient("", 1), nil, time.UTC)
	msg := &tg.Message{
		ID:      10,
		PeerID:  &tg.PeerUser{UserID: 101},
		Message: "hello there",
	}

	events := r.BuildEvents(testEntities(), msg, testTime)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != webhook.EventMessage {
		t.Errorf("event_type = %q", ev.EventType)
	}
	if ev.Direction != webhook.DirectionIncoming {
		t.Errorf("direction = %q", ev.Direction)
	}
	if !ev.IsPrivate {
		t.Error("is_private = false, want true")
	}
	if ev.UserID != "101" || ev.ChatID != "101" {
		t.Errorf("user_id=%q chat_id=%q, want both 101", ev.UserID, ev.ChatID)
	}
	if ev.UserName != "Alice Liddell" || ev.Username != "alice" {
		t.Errorf("user_name=%q username=%q", ev.UserName, ev.Username)
	}
	if ev.ChatName != "Alice Liddell" {
		t.Errorf("chat_name = %q", ev.ChatName)
	}
	if ev.Message != "hello there" {
		t.Errorf("message = %q", ev.Message)
	}
	if ev.Timestamp != "2024-05-01T10:30:00.000+00:00" {
		t.Errorf("timestamp = %q", ev.Timestamp)
	}
}

func TestBuildEventsOutgoingGroup(t *testing.T) {
	t.Parallel()

	r := relay.New(webhook.NewClient("", 1), nil, time.UTC)
	r.SetSelf(999)
	msg := &tg.Message{
		ID:      11,
		Out:     true,
		PeerID:  &tg.PeerChat{ChatID: 201},
		Message: "on my way",
	}

	events := r.BuildEvents(testEntities(), msg, testTime)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Direction != webhook.DirectionOutgoing {
		t.Errorf("direction = %q", ev.Direction)
	}
	if ev.UserID != "999" {
		t.Errorf("user_id = %q, want 999 (self)", ev.UserID)
	}
	if ev.ChatID != "201" || ev.ChatName != "Work Group" {
		t.Errorf("chat_id=%q chat_name=%q", ev.ChatID, ev.ChatName)
	}
	if ev.IsPrivate {
		t.Error("is_private = true for group chat")
	}
}

func TestBuildEventsSkipsForwardedOutgoing(t *testing.T) {
	t.Parallel()

	r := relay.New(webhook.NewClient("", 1), nil, time.UTC)
	msg := &tg.Message{
		ID:      12,
		Out:     true,
		PeerID:  &tg.PeerChat{ChatID: 201},
		Message: "forwarded thing",
	}
	msg.SetFwdFrom(tg.MessageFwdHeader{})

	if events := r.BuildEvents(testEntities(), msg, testTime); len(events) != 0 {
		t.Fatalf("got %d events for forwarded outgoing, want 0", len(events))
	}
}

func TestBuildEventsMembership(t *testing.T) {
	t.Parallel()

	r := relay.New(webhook.NewClient("", 1), nil, time.UTC)

	join := &tg.MessageService{
		ID:     13,
		PeerID: &tg.PeerChat{ChatID: 201},
		Action: &tg.MessageActionChatAddUser{Users: []int64{101, 102}},
	}
	events := r.BuildEvents(testEntities(), join, testTime)
	if len(events) != 2 {
		t.Fatalf("got %d join events, want 2", len(events))
	}
	if events[0].EventType != webhook.EventUserJoined {
		t.Errorf("event_type = %q", events[0].EventType)
	}
	if events[0].JoinedUser == nil || events[0].JoinedUser.ID != 101 {
		t.Errorf("joined_user = %+v", events[0].JoinedUser)
	}
	if events[0].JoinedUser.FirstName != "Alice" {
		t.Errorf("joined_user.first_name = %q", events[0].JoinedUser.FirstName)
	}

	leave := &tg.MessageService{
		ID:     14,
		PeerID: &tg.PeerChat{ChatID: 201},
		Action: &tg.MessageActionChatDeleteUser{UserID: 102},
	}
	events = r.BuildEvents(testEntities(), leave, testTime)
	if len(events) != 1 {
		t.Fatalf("got %d leave events, want 1", len(events))
	}
	if events[0].EventType != webhook.EventUserLeft {
		t.Errorf("event_type = %q", events[0].EventType)
	}
	if events[0].LeftUser == nil || events[0].LeftUser.ID != 102 {
		t.Errorf("left_user = %+v", events[0].LeftUser)
	}
}

func TestBuildEventsDeduplicates(t *testing.T) {
	t.Parallel()

	dup := concurrency.NewDeduplicator(60)
	r := relay.New(webhook.NewClient("", 1), dup, time.UTC)
	msg := &tg.Message{
		ID:      15,
		PeerID:  &tg.PeerUser{UserID: 101},
		Message: "once only",
	}

	if events := r.BuildEvents(testEntities(), msg, testTime); len(events) != 1 {
		t.Fatalf("first pass: got %d events, want 1", len(events))
	}
	if events := r.BuildEvents(testEntities(), msg, testTime); len(events) != 0 {
		t.Fatalf("second pass: got %d events, want 0 (deduplicated)", len(events))
	}
}
