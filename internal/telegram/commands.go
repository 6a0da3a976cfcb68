package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_gatekeeper_bot/internal/approval"
	"tg_gatekeeper_bot/internal/domain"
	"tg_gatekeeper_bot/internal/logging"
)

// cmdStart greets in private chats. Admins of the main chat get the command
// list; everyone else gets brushed off.
func (r *Router) cmdStart(ctx context.Context, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}

	admin, err := r.isMainAdmin(ctx, msg.From.ID)
	if err != nil {
		// Cannot verify, so treat the caller as a regular user.
		r.logger.WithField("event", "admin_lookup_failed").WithError(err).Warn("failed to fetch main chat admins")
		admin = false
	}

	if !admin {
		r.send(ctx, msg.Chat.ID, "Meow!")
		return
	}

	docs := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		docs = append(docs, cmd.about)
	}

	r.sendParams(ctx, &bot.SendMessageParams{
		ChatID:         msg.Chat.ID,
		Text:           "Hi! I'm the gatekeeper. These are the things I can do:\n" + strings.Join(docs, "\n"),
		ProtectContent: true,
	})
}

// cmdSay relays the replied-to message into the main chat. Admin only, in a
// private chat, and the command must be a reply.
func (r *Router) cmdSay(ctx context.Context, msg *models.Message) {
	if msg.Chat.Type != models.ChatTypePrivate {
		return
	}

	admin, err := r.isMainAdmin(ctx, msg.From.ID)
	if err != nil {
		r.logger.WithField("event", "admin_lookup_failed").WithError(err).Warn("failed to fetch main chat admins")
		return
	}
	if !admin {
		return
	}

	if msg.ReplyToMessage == nil {
		r.respondError(ctx, msg.Chat.ID, "Please respond to the message you wish to send")
		return
	}

	text := msg.ReplyToMessage.Text
	if strings.TrimSpace(text) == "" {
		r.respondError(ctx, msg.Chat.ID, "Only text messages can be relayed")
		return
	}

	sent, err := r.api.SendMessage(ctx, &bot.SendMessageParams{ChatID: r.mainChatID, Text: text})
	if err != nil {
		r.logger.WithField("event", "relay_failed").WithError(err).Error("failed to relay message to main chat")
		r.respondError(ctx, msg.Chat.ID, "Failed to send the message")
		return
	}

	r.logger.WithFields(logging.Fields{
		"event":      "message_relayed",
		"message_id": sent.ID,
		"admin_id":   msg.From.ID,
	}).Info("relayed message to main chat")

	r.respondSuccess(ctx, msg.Chat.ID, fmt.Sprintf("Sent! id: %d", sent.ID))
}

// cmdApprove issues an invite link for the single mentioned user. Only valid
// in the waiting room; the ledger enforces that the caller is the
// anonymous-admin identity.
func (r *Router) cmdApprove(ctx context.Context, msg *models.Message) {
	if msg.Chat.ID != r.waitingRoomChatID {
		return
	}

	targets := mentions(msg)

	link, err := r.approvals.Approve(ctx, msg.From.Username, targets)
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		r.logger.WithFields(logging.Fields{
			"event":   "approve_unauthorized",
			"user_id": msg.From.ID,
		}).Debug("ignoring /approve from non-authority")
		return
	case errors.Is(err, domain.ErrInvalidArgument):
		r.respondError(ctx, msg.Chat.ID, "Must specify a single user to approve")
		return
	case err != nil:
		r.logger.WithField("event", "approve_failed").WithError(err).Error("failed to issue invite link")
		r.respondError(ctx, msg.Chat.ID, "Failed to issue an invite link")
		return
	}

	validMinutes := int(approval.DefaultValidity.Minutes())
	r.send(ctx, msg.Chat.ID, fmt.Sprintf(
		"%s Here's your invite link to the main group! This link is only valid for %d minutes\n\n%s",
		targets[0], validMinutes, link,
	))
}

// cmdMeetDates lists upcoming events. Allowed in private chats, the main
// chat, and the admin chat.
func (r *Router) cmdMeetDates(ctx context.Context, msg *models.Message) {
	allowed := msg.Chat.Type == models.ChatTypePrivate ||
		msg.Chat.ID == r.mainChatID ||
		msg.Chat.ID == r.adminChatID
	if !allowed {
		return
	}

	events, err := r.events.Upcoming(ctx, time.Now())
	if err != nil {
		r.logger.WithField("event", "meet_dates_failed").WithError(err).Warn("failed to fetch upcoming events")
		r.respondError(ctx, msg.Chat.ID, "Could not fetch the meet calendar, try again later")
		return
	}

	r.sendHTML(ctx, msg.Chat.ID, meetDatesBody(events))
}
