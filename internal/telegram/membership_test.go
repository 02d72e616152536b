package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avecha/wikigate/internal/services"
)

func TestModeratorMuteSendsZeroPermissions(t *testing.T) {
	bot := &fakeBot{}
	mod := NewModerator(bot)

	if err := mod.Mute(context.Background(), groupID, userID); err != nil {
		t.Fatalf("mute: %v", err)
	}

	if len(bot.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(bot.requests))
	}
	cfg, ok := bot.requests[0].(tgbotapi.RestrictChatMemberConfig)
	if !ok {
		t.Fatalf("unexpected request type %T", bot.requests[0])
	}
	if cfg.ChatID != groupID || cfg.UserID != userID {
		t.Fatalf("restrict aimed at chat=%d user=%d", cfg.ChatID, cfg.UserID)
	}
	if cfg.Permissions.CanSendMessages {
		t.Fatal("mute must revoke send permission")
	}
}

func TestModeratorUnmuteRestoresDefaults(t *testing.T) {
	bot := &fakeBot{}
	mod := NewModerator(bot)

	if err := mod.Unmute(context.Background(), groupID, userID); err != nil {
		t.Fatalf("unmute: %v", err)
	}

	cfg := bot.requests[0].(tgbotapi.RestrictChatMemberConfig)
	if !cfg.Permissions.CanSendMessages || !cfg.Permissions.CanSendMediaMessages {
		t.Fatal("unmute must restore send permissions")
	}
}

func TestModeratorStatusMapping(t *testing.T) {
	cases := []struct {
		apiStatus string
		want      services.MemberState
	}{
		{"creator", services.MemberStateCreator},
		{"administrator", services.MemberStateAdministrator},
		{"restricted", services.MemberStateRestricted},
		{"left", services.MemberStateLeft},
		{"kicked", services.MemberStateKicked},
		{"member", services.MemberStateMember},
	}
	for _, tc := range cases {
		bot := &fakeBot{members: map[int64]tgbotapi.ChatMember{
			userID: {Status: tc.apiStatus, UntilDate: 123},
		}}
		st, err := NewModerator(bot).Status(context.Background(), groupID, userID)
		if err != nil {
			t.Fatalf("%s: %v", tc.apiStatus, err)
		}
		if st.State != tc.want {
			t.Errorf("%s: state = %v, want %v", tc.apiStatus, st.State, tc.want)
		}
		if st.UntilDate != 123 {
			t.Errorf("%s: until = %d", tc.apiStatus, st.UntilDate)
		}
	}
}

func TestMapAPIError(t *testing.T) {
	cases := []struct {
		in   string
		want error
	}{
		{"Bad Request: not enough rights to restrict/unrestrict chat member", services.ErrPermissionDenied},
		{"Bad Request: CHAT_ADMIN_REQUIRED", services.ErrPermissionDenied},
		{"Bad Request: user not found", services.ErrTargetNotFound},
		{"Bad Request: USER_NOT_PARTICIPANT", services.ErrTargetNotFound},
		{"Bad Request: user is an administrator of the chat", services.ErrAdministratorProtected},
		{"Bad Request: can't restrict self", services.ErrAdministratorProtected},
	}
	for _, tc := range cases {
		got := mapAPIError(&tgbotapi.Error{Code: 400, Message: tc.in})
		if !errors.Is(got, tc.want) {
			t.Errorf("%q mapped to %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestMapAPIErrorPassesThroughUnknown(t *testing.T) {
	base := errors.New("Post \"...\": connection refused")
	if got := mapAPIError(base); got != base {
		t.Fatalf("got %v", got)
	}
	if mapAPIError(nil) != nil {
		t.Fatal("nil must map to nil")
	}
}
