package dialogs_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"telegram-bridge/internal/telegram/dialogs"
)

func dialogWithTop(peer tg.PeerClass, topMessage int) tg.DialogClass {
	return &tg.Dialog{Peer: peer, TopMessage: topMessage}
}

func messageAt(id int, date time.Time) tg.MessageClass {
	return &tg.Message{ID: id, Date: int(date.Unix())}
}

func TestBuildFiltersByRecentActivity(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-24 * time.Hour)
	stale := now.Add(-10 * 24 * time.Hour)

	result := &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			dialogWithTop(&tg.PeerUser{UserID: 101}, 1),
			dialogWithTop(&tg.PeerChat{ChatID: 202}, 2),
			dialogWithTop(&tg.PeerChannel{ChannelID: 303}, 3),
		},
		Messages: []tg.MessageClass{
			messageAt(1, fresh),
			messageAt(2, stale),
			messageAt(3, fresh),
		},
		Users: []tg.UserClass{
			&tg.User{ID: 101, FirstName: "Ada", LastName: "Lovelace", Username: "ada"},
		},
		Chats: []tg.ChatClass{
			&tg.Chat{ID: 202, Title: "Old Group"},
			&tg.Channel{ID: 303, Title: "News Feed", Username: "newsfeed"},
		},
	}

	chats, markerID := dialogs.Build(result, now, "")
	if markerID != 0 {
		t.Fatalf("markerID = %d, want 0", markerID)
	}

	want := []dialogs.Chat{
		{ID: 101, Name: "Ada Lovelace", Type: "User", Username: "ada", FirstName: "Ada", LastName: "Lovelace"},
		{ID: 303, Name: "News Feed", Type: "Channel", Username: "newsfeed"},
	}
	if !reflect.DeepEqual(chats, want) {
		t.Fatalf("chats = %+v, want %+v", chats, want)
	}
}

func TestBuildFindsMarkerChat(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)

	result := &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			dialogWithTop(&tg.PeerChat{ChatID: 11}, 1),
			dialogWithTop(&tg.PeerChannel{ChannelID: 22}, 2),
		},
		Messages: []tg.MessageClass{
			messageAt(1, fresh),
			messageAt(2, fresh),
		},
		Chats: []tg.ChatClass{
			&tg.Chat{ID: 11, Title: "Planning"},
			&tg.Channel{ID: 22, Title: "TheReconquestMap HQ"},
		},
	}

	_, markerID := dialogs.Build(result, now, "TheReconquestMap")
	if markerID != 22 {
		t.Fatalf("markerID = %d, want 22", markerID)
	}
}

func TestBuildSkipsUnresolvableEntities(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	fresh := now.Add(-time.Hour)

	result := &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			// Сущности нет среди Users, папка не является чатом,
			// диалог без верхнего сообщения не имеет даты активности.
			dialogWithTop(&tg.PeerUser{UserID: 999}, 1),
			&tg.DialogFolder{Folder: tg.Folder{ID: 1}, TopMessage: 1},
			dialogWithTop(&tg.PeerChat{ChatID: 11}, 42),
		},
		Messages: []tg.MessageClass{messageAt(1, fresh)},
		Chats:    []tg.ChatClass{&tg.Chat{ID: 11, Title: "Planning"}},
	}

	chats, _ := dialogs.Build(result, now, "")
	if len(chats) != 0 {
		t.Fatalf("chats = %+v, want empty", chats)
	}
}

func TestBuildUserNameFallsBackToUsername(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	result := &tg.MessagesDialogs{
		Dialogs:  []tg.DialogClass{dialogWithTop(&tg.PeerUser{UserID: 7}, 1)},
		Messages: []tg.MessageClass{messageAt(1, now.Add(-time.Minute))},
		Users:    []tg.UserClass{&tg.User{ID: 7, Username: "ghost"}},
	}

	chats, _ := dialogs.Build(result, now, "")
	if len(chats) != 1 || chats[0].Name != "ghost" {
		t.Fatalf("chats = %+v, want single chat named %q", chats, "ghost")
	}
}
