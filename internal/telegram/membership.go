// Package telegram adapts the bot to the Telegram Bot API: the membership
// interface the reconciler drives, and the command front-end users and
// operators talk to.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/avecha/wikigate/internal/services"
)

// botClient is the slice of *tgbotapi.BotAPI this package depends on.
// Narrowed to an interface so command and moderation logic is testable
// without a live bot token.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

// Moderator implements services.Membership over the Telegram restrict API.
type Moderator struct {
	api botClient
}

// NewModerator wraps a bot client.
func NewModerator(api botClient) *Moderator {
	return &Moderator{api: api}
}

// mutedPermissions revokes everything a restricted member could do.
var mutedPermissions = tgbotapi.ChatPermissions{}

// memberPermissions restores the default member permission set.
var memberPermissions = tgbotapi.ChatPermissions{
	CanSendMessages:       true,
	CanSendMediaMessages:  true,
	CanSendPolls:          true,
	CanSendOtherMessages:  true,
	CanAddWebPagePreviews: true,
	CanChangeInfo:         false,
	CanInviteUsers:        true,
	CanPinMessages:        false,
}

// Mute indefinitely restricts userID in group. The Telegram API keeps a
// zero until-date restriction forever.
func (m *Moderator) Mute(ctx context.Context, group, userID int64) error {
	return m.restrict(group, userID, &mutedPermissions)
}

// Unmute restores the default member permissions for userID in group.
func (m *Moderator) Unmute(ctx context.Context, group, userID int64) error {
	return m.restrict(group, userID, &memberPermissions)
}

func (m *Moderator) restrict(group, userID int64, perms *tgbotapi.ChatPermissions) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: group,
			UserID: userID,
		},
		Permissions: perms,
	}
	_, err := m.api.Request(cfg)
	return mapAPIError(err)
}

// Status reports the member state of userID in group.
func (m *Moderator) Status(ctx context.Context, group, userID int64) (services.MemberStatus, error) {
	member, err := m.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: group,
			UserID: userID,
		},
	})
	if err != nil {
		return services.MemberStatus{}, mapAPIError(err)
	}

	st := services.MemberStatus{UntilDate: member.UntilDate}
	switch member.Status {
	case "creator":
		st.State = services.MemberStateCreator
	case "administrator":
		st.State = services.MemberStateAdministrator
	case "restricted":
		st.State = services.MemberStateRestricted
	case "left":
		st.State = services.MemberStateLeft
	case "kicked":
		st.State = services.MemberStateKicked
	default:
		st.State = services.MemberStateMember
	}
	return st, nil
}

// mapAPIError translates Telegram API failures onto the service taxonomy.
// Anything unrecognized is passed through untouched.
func mapAPIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	msg := err.Error()
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "not enough rights"),
		strings.Contains(lower, "chat_admin_required"),
		strings.Contains(lower, "have no rights"):
		return fmt.Errorf("%w: %s", services.ErrPermissionDenied, msg)
	case strings.Contains(lower, "user not found"),
		strings.Contains(lower, "user_not_participant"),
		strings.Contains(lower, "participant_id_invalid"),
		strings.Contains(lower, "user is not a member"):
		return fmt.Errorf("%w: %s", services.ErrTargetNotFound, msg)
	case strings.Contains(lower, "can't restrict self"),
		strings.Contains(lower, "user is an administrator"),
		strings.Contains(lower, "chat owner"):
		return fmt.Errorf("%w: %s", services.ErrAdministratorProtected, msg)
	}
	return err
}
