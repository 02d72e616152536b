package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/avecha/wikigate/internal/linker"
	"github.com/avecha/wikigate/internal/services"
)

// Options carries the deployment knobs the front-end needs.
type Options struct {
	// Groups are the gated chat ids.
	Groups []int64
	// AdminUsers may run operator commands (refuse, accept, whitelist).
	AdminUsers []int64
	// LogChannel receives operator-visible action reports; 0 disables.
	LogChannel int64
}

// Handler dispatches Telegram updates to the gate service.
type Handler struct {
	api   botClient
	gate  *services.GateService
	links *linker.Registry
	opts  Options

	commands map[string]func(msg *tgbotapi.Message, args string)
}

// NewHandler builds the command front-end.
func NewHandler(api botClient, gate *services.GateService, links *linker.Registry, opts Options) *Handler {
	h := &Handler{
		api:   api,
		gate:  gate,
		links: links,
		opts:  opts,
	}
	h.commands = map[string]func(msg *tgbotapi.Message, args string){
		"start":       h.handleStart,
		"policy":      h.handlePolicy,
		"confirm":     h.handleConfirm,
		"deconfirm":   h.handleDeconfirm,
		"status":      h.handleStatus,
		"refuse":      h.handleRefuse,
		"accept":      h.handleAccept,
		"whitelist":   h.handleWhitelist,
		"unwhitelist": h.handleUnwhitelist,
	}
	return h
}

// Run consumes the update channel until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate routes one update. Unknown content is ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.NewChatMembers != nil:
		h.handleNewMembers(ctx, update.Message)
	case update.Message != nil && update.Message.IsCommand():
		h.handleCommand(update.Message)
	}
}

func (h *Handler) handleCommand(msg *tgbotapi.Message) {
	fn, ok := h.commands[msg.Command()]
	if !ok {
		return
	}
	fn(msg, strings.TrimSpace(msg.CommandArguments()))
}

// handleNewMembers mutes newcomers in gated groups unless their record
// exempts them.
func (h *Handler) handleNewMembers(ctx context.Context, msg *tgbotapi.Message) {
	if !h.gated(msg.Chat.ID) {
		return
	}
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		if err := h.gate.NoteNewMember(ctx, member.ID, msg.Chat.ID); err != nil {
			log.Error().Err(err).Int64("user_id", member.ID).Msg("new member handling failed")
		}
	}
}

func (h *Handler) gated(chatID int64) bool {
	for _, g := range h.opts.Groups {
		if g == chatID {
			return true
		}
	}
	return false
}

func (h *Handler) isAdmin(userID int64) bool {
	for _, id := range h.opts.AdminUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// reply sends text back to the originating chat, best effort.
func (h *Handler) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := h.api.Send(out); err != nil {
		log.Warn().Err(err).Int64("chat", msg.Chat.ID).Msg("reply failed")
	}
}

// report mirrors a notable action to the log channel, if configured.
func (h *Handler) report(text string) {
	if h.opts.LogChannel == 0 {
		return
	}
	if _, err := h.api.Send(tgbotapi.NewMessage(h.opts.LogChannel, text)); err != nil {
		log.Warn().Err(err).Msg("log channel report failed")
	}
}
