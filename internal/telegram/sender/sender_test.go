package sender

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

func TestClassifyRPCError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"peer invalid", tgerr.New(400, "PEER_ID_INVALID"), ErrEntityNotFound},
		{"username free", tgerr.New(400, "USERNAME_NOT_OCCUPIED"), ErrEntityNotFound},
		{"channel invalid", tgerr.New(400, "CHANNEL_INVALID"), ErrEntityNotFound},
		{"blocked", tgerr.New(400, "USER_IS_BLOCKED"), ErrUserBlocked},
		{"write forbidden", tgerr.New(403, "CHAT_WRITE_FORBIDDEN"), ErrForbidden},
		{"admin required", tgerr.New(400, "CHAT_ADMIN_REQUIRED"), ErrForbidden},
		{"curl failed", tgerr.New(400, "WEBPAGE_CURL_FAILED"), ErrDownloadFailed},
		{"media empty", tgerr.New(400, "MEDIA_EMPTY"), ErrDownloadFailed},
		{"flood wait", tgerr.New(420, "FLOOD_WAIT_5"), ErrSendFailed},
		{"plain error", errors.New("boom"), ErrSendFailed},
		{"context canceled", context.Canceled, context.Canceled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyRPCError(tc.err)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("classifyRPCError(%v) = %v, want nil", tc.err, got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("classifyRPCError(%v) = %v, want wrapped %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestExtractMessageID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		upd  tg.UpdatesClass
		want int
	}{
		{
			name: "short sent message",
			upd:  &tg.UpdateShortSentMessage{ID: 42},
			want: 42,
		},
		{
			name: "updates with message id",
			upd: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateMessageID{ID: 7},
			}},
			want: 7,
		},
		{
			name: "channel message",
			upd: &tg.Updates{Updates: []tg.UpdateClass{
				&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 13}},
			}},
			want: 13,
		},
		{
			name: "combined",
			upd: &tg.UpdatesCombined{Updates: []tg.UpdateClass{
				&tg.UpdateNewMessage{Message: &tg.Message{ID: 99}},
			}},
			want: 99,
		},
		{
			name: "no id in response",
			upd:  &tg.UpdatesTooLong{},
			want: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extractMessageID(tc.upd); got != tc.want {
				t.Fatalf("extractMessageID = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCaptionOptions(t *testing.T) {
	t.Parallel()

	if opts := captionOptions("", "html"); opts != nil {
		t.Fatalf("empty caption should produce no options, got %d", len(opts))
	}
	for _, mode := range []string{"", "none", "html", "markdown", "weird"} {
		if opts := captionOptions("hello", mode); len(opts) != 1 {
			t.Fatalf("captionOptions(%q) produced %d options, want 1", mode, len(opts))
		}
	}
}
