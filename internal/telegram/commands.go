package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/avecha/wikigate/internal/services"
)

// callbackPrefix marks link-completion callback data.
const callbackPrefix = "link:"

const (
	msgGreeting = "Hello! This group requires a confirmed wiki account. " +
		"Use /confirm <wiki username> to link yours, or /policy for details."
	msgPolicy = "New members are muted until they confirm a wiki account " +
		"meeting the activity requirements, or are whitelisted by an operator."
	msgConfirmUsage    = "Usage: /confirm <wiki username>"
	msgConfirmPrivate  = "Please run /confirm in a private chat with me."
	msgConfirmStarted  = "Almost there. Press the button below once you are ready to finish linking."
	msgConfirmButton   = "Finish linking"
	msgConfirmDone     = "Confirmed. Welcome aboard!"
	msgDeconfirmed     = "Your confirmation has been removed."
	msgOperatorOnly    = "This command is restricted to operators."
	msgReplyNeeded     = "Reply to the target user's message, or pass their numeric id."
	msgGroupOnly       = "Run this command inside the gated group."
	msgWhitelistUsage  = "Usage: /whitelist <reason> (as a reply to the target user)"
	msgRefused         = "The user has been refused confirmation rights."
	msgAccepted        = "The user may request confirmation again."
	msgWhitelisted     = "The user has been whitelisted in this group."
	msgUnwhitelisted   = "The user's whitelist entry has been removed."
	msgNoRecord        = "I have no record for you yet. Say /start first."
	msgSessionGone     = "That confirmation attempt is no longer valid. Start over with /confirm."
	msgTransportFailed = "The wiki could not be reached. Please try again later."
)

func (h *Handler) handleStart(msg *tgbotapi.Message, _ string) {
	if !msg.Chat.IsPrivate() {
		return
	}
	if err := h.gate.RegisterUser(context.Background(), msg.From.ID); err != nil {
		log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("register failed")
		return
	}
	h.reply(msg, msgGreeting)
}

func (h *Handler) handlePolicy(msg *tgbotapi.Message, _ string) {
	h.reply(msg, msgPolicy)
}

func (h *Handler) handleConfirm(msg *tgbotapi.Message, args string) {
	if !msg.Chat.IsPrivate() {
		h.reply(msg, msgConfirmPrivate)
		return
	}
	if args == "" {
		h.reply(msg, msgConfirmUsage)
		return
	}

	token, err := h.gate.RequestConfirmation(context.Background(), msg.From.ID, args)
	if err != nil {
		h.reply(msg, renderConfirmError(err, h.gate, msg.From.ID))
		return
	}

	button := tgbotapi.NewInlineKeyboardButtonData(msgConfirmButton, callbackPrefix+token)
	out := tgbotapi.NewMessage(msg.Chat.ID, msgConfirmStarted)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button))
	if _, err := h.api.Send(out); err != nil {
		log.Warn().Err(err).Msg("confirm prompt failed")
	}
}

// handleCallback completes the handshake behind an inline button press.
func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if !strings.HasPrefix(cb.Data, callbackPrefix) {
		return
	}
	token := strings.TrimPrefix(cb.Data, callbackPrefix)

	var text string
	owner, live := h.links.Owner(token)
	switch {
	case !live:
		// Expired or already-used token. Release the presser's own
		// attempt so /confirm works again; AbandonConfirmation leaves a
		// live attempt of theirs untouched.
		h.gate.AbandonConfirmation(ctx, cb.From.ID)
		text = msgSessionGone
	case owner != cb.From.ID:
		// A forwarded button. Not this user's handshake.
		text = msgSessionGone
	default:
		h.links.Complete(token)
		rec, err := h.gate.CompleteConfirmation(ctx, cb.From.ID)
		switch {
		case err == nil:
			text = msgConfirmDone
			h.report(fmt.Sprintf("user %d confirmed wiki account %d", cb.From.ID, rec.LinkedAccount))
		case errors.Is(err, services.ErrIdentityAlreadyLinked):
			text = "That wiki account is already linked to someone else."
		case errors.Is(err, services.ErrIdentityNotEligible):
			text = "That wiki account does not meet the activity requirements."
		case errors.Is(err, services.ErrVerificationTransport):
			text = msgTransportFailed
		default:
			text = msgSessionGone
		}
	}

	if _, err := h.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Debug().Err(err).Msg("callback ack failed")
	}
	if cb.Message != nil {
		if _, err := h.api.Send(tgbotapi.NewMessage(cb.Message.Chat.ID, text)); err != nil {
			log.Warn().Err(err).Msg("callback reply failed")
		}
	}
}

func (h *Handler) handleDeconfirm(msg *tgbotapi.Message, _ string) {
	err := h.gate.Deconfirm(context.Background(), msg.From.ID)
	switch {
	case err == nil:
		h.reply(msg, msgDeconfirmed)
		h.report(fmt.Sprintf("user %d deconfirmed", msg.From.ID))
	case errors.Is(err, services.ErrNotConfirmed):
		h.reply(msg, "You are not confirmed.")
	default:
		log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("deconfirm failed")
	}
}

func (h *Handler) handleStatus(msg *tgbotapi.Message, _ string) {
	rec, ok := h.gate.Status(msg.From.ID)
	if !ok {
		h.reply(msg, msgNoRecord)
		return
	}
	switch {
	case rec.Refused:
		h.reply(msg, "You are refused confirmation rights. Contact an operator.")
	case rec.Confirmed:
		h.reply(msg, fmt.Sprintf("Confirmed, linked to wiki account %d.", rec.LinkedAccount))
	case rec.Confirming:
		h.reply(msg, "A confirmation attempt is in progress.")
	default:
		h.reply(msg, "Not confirmed. Use /confirm <wiki username> to link an account.")
	}
}

func (h *Handler) handleRefuse(msg *tgbotapi.Message, args string) {
	target, ok := h.operatorTarget(msg, args)
	if !ok {
		return
	}
	if err := h.gate.Refuse(context.Background(), target); err != nil {
		log.Error().Err(err).Int64("target", target).Msg("refuse failed")
		return
	}
	h.reply(msg, msgRefused)
	h.report(fmt.Sprintf("operator %d refused user %d", msg.From.ID, target))
}

func (h *Handler) handleAccept(msg *tgbotapi.Message, args string) {
	target, ok := h.operatorTarget(msg, args)
	if !ok {
		return
	}
	err := h.gate.Accept(context.Background(), target)
	switch {
	case err == nil:
		h.reply(msg, msgAccepted)
		h.report(fmt.Sprintf("operator %d accepted user %d", msg.From.ID, target))
	case errors.Is(err, services.ErrNotRefused):
		h.reply(msg, "That user is not refused.")
	default:
		log.Error().Err(err).Int64("target", target).Msg("accept failed")
	}
}

func (h *Handler) handleWhitelist(msg *tgbotapi.Message, args string) {
	if !h.requireOperator(msg) {
		return
	}
	if !h.gated(msg.Chat.ID) {
		h.reply(msg, msgGroupOnly)
		return
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil || args == "" {
		h.reply(msg, msgWhitelistUsage)
		return
	}
	target := msg.ReplyToMessage.From.ID
	if err := h.gate.WhitelistAdd(context.Background(), target, msg.Chat.ID, args); err != nil {
		log.Error().Err(err).Int64("target", target).Msg("whitelist failed")
		return
	}
	h.reply(msg, msgWhitelisted)
	h.report(fmt.Sprintf("operator %d whitelisted user %d in %d: %s", msg.From.ID, target, msg.Chat.ID, args))
}

func (h *Handler) handleUnwhitelist(msg *tgbotapi.Message, _ string) {
	if !h.requireOperator(msg) {
		return
	}
	if !h.gated(msg.Chat.ID) {
		h.reply(msg, msgGroupOnly)
		return
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		h.reply(msg, msgReplyNeeded)
		return
	}
	target := msg.ReplyToMessage.From.ID
	err := h.gate.WhitelistRemove(context.Background(), target, msg.Chat.ID)
	switch {
	case err == nil:
		h.reply(msg, msgUnwhitelisted)
		h.report(fmt.Sprintf("operator %d unwhitelisted user %d in %d", msg.From.ID, target, msg.Chat.ID))
	case errors.Is(err, services.ErrNotWhitelisted):
		h.reply(msg, "That user is not whitelisted here.")
	default:
		log.Error().Err(err).Int64("target", target).Msg("unwhitelist failed")
	}
}

// requireOperator gates operator commands on the configured admin list.
func (h *Handler) requireOperator(msg *tgbotapi.Message) bool {
	if h.isAdmin(msg.From.ID) {
		return true
	}
	h.reply(msg, msgOperatorOnly)
	return false
}

// operatorTarget resolves the target of an operator command: the replied-to
// user, or a numeric id argument.
func (h *Handler) operatorTarget(msg *tgbotapi.Message, args string) (int64, bool) {
	if !h.requireOperator(msg) {
		return 0, false
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, true
	}
	if id, err := strconv.ParseInt(args, 10, 64); err == nil && id != 0 {
		return id, true
	}
	h.reply(msg, msgReplyNeeded)
	return 0, false
}

// renderConfirmError maps request-phase failures to user-facing text.
func renderConfirmError(err error, gate *services.GateService, userID int64) string {
	switch {
	case errors.Is(err, services.ErrAlreadyConfirmed):
		if rec, ok := gate.Status(userID); ok {
			return fmt.Sprintf("You are already confirmed (wiki account %d).", rec.LinkedAccount)
		}
		return "You are already confirmed."
	case errors.Is(err, services.ErrConfirmationInProgress):
		return "A confirmation attempt is already in progress. Finish or wait for it to expire."
	case errors.Is(err, services.ErrRefused):
		return "An operator has refused you confirmation rights."
	case errors.Is(err, services.ErrIdentityNotFound):
		return "No such wiki account. Check the spelling and try again."
	case errors.Is(err, services.ErrVerificationTransport):
		return msgTransportFailed
	default:
		return "Something went wrong. Please try again later."
	}
}
