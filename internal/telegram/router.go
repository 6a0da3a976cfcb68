package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/domain"
	"tg_gatekeeper_bot/internal/logging"
)

// approvals is the ledger surface the handlers consume.
type approvals interface {
	Approve(ctx context.Context, callerHandle string, targets []string) (string, error)
	ResolveJoinRequest(chatID int64, handle, presented string) domain.Decision
}

// eventSource supplies the upcoming events for /meet_dates.
type eventSource interface {
	Upcoming(ctx context.Context, now time.Time) ([]domain.Event, error)
}

// command couples a registered command name with its one-line description
// (surfaced by /start) and its handler.
type command struct {
	name    string
	about   string
	handler func(ctx context.Context, msg *models.Message)
}

// Router owns the dispatch table: command messages by name, membership
// changes to the watcher, join requests to the join handler. The table is
// immutable after construction.
type Router struct {
	api       botAPI
	approvals approvals
	events    eventSource
	logger    *logrus.Entry

	mainChatID        int64
	adminChatID       int64
	waitingRoomChatID int64
	rulesURL          string

	commands []command
}

// NewRouter builds the dispatch table over the client's platform connection.
func NewRouter(cfg config.Config, client *Client, approvals approvals, events eventSource, logger *logrus.Entry) *Router {
	if logger == nil {
		logger = logging.Logger()
	}

	router := &Router{
		approvals:         approvals,
		events:            events,
		logger:            logger,
		mainChatID:        cfg.MainChatID,
		adminChatID:       cfg.AdminChatID,
		waitingRoomChatID: cfg.WaitingRoomChatID,
		rulesURL:          cfg.RulesURL,
	}
	if client != nil {
		router.api = client.bot
	}

	// Registration order is the order /start lists the commands in.
	router.commands = []command{
		{name: "/start", about: "/start: initiate a conversation", handler: router.cmdStart},
		{name: "/meet_dates", about: "/meet_dates: list upcoming meet dates", handler: router.cmdMeetDates},
		{name: "/say", about: "/say: send a replied-to message to the main chat", handler: router.cmdSay},
		{name: "/approve", about: "/approve @username: create an invite link for a user", handler: router.cmdApprove},
	}

	return router
}

// Dispatch routes one update to its handler. Unroutable updates are dropped;
// the client has already logged them.
func (r *Router) Dispatch(ctx context.Context, update *models.Update) {
	if r == nil || update == nil {
		return
	}

	switch {
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	case update.ChatMember != nil:
		r.handleChatMember(ctx, update.ChatMember)
	case update.ChatJoinRequest != nil:
		r.handleJoinRequest(ctx, update.ChatJoinRequest)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *models.Message) {
	if msg == nil || msg.From == nil {
		return
	}

	name := commandName(msg.Text)
	if name == "" {
		return
	}

	for _, cmd := range r.commands {
		if cmd.name == name {
			cmd.handler(ctx, msg)
			return
		}
	}

	r.logger.WithFields(logging.Fields{
		"event":   "command_unknown",
		"command": name,
		"chat_id": msg.Chat.ID,
	}).Debug("ignoring unregistered command")
}

// commandName returns the leading /command of a message, with any @botname
// suffix stripped, or "" when the message is not a command.
func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}

	name := fields[0]
	if at := strings.Index(name, "@"); at > 0 {
		name = name[:at]
	}

	return name
}

// send delivers plain text to a chat, logging delivery failures. It returns
// the sent message for handlers that echo its id.
func (r *Router) send(ctx context.Context, chatID int64, text string) *models.Message {
	return r.sendParams(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
}

// sendHTML delivers HTML-formatted text to a chat.
func (r *Router) sendHTML(ctx context.Context, chatID int64, text string) *models.Message {
	return r.sendParams(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text, ParseMode: models.ParseModeHTML})
}

func (r *Router) sendParams(ctx context.Context, params *bot.SendMessageParams) *models.Message {
	sent, err := r.api.SendMessage(ctx, params)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": params.ChatID,
		}).WithError(err).Warn("failed to send message")
		return nil
	}

	return sent
}

func (r *Router) respondSuccess(ctx context.Context, chatID int64, text string) {
	r.send(ctx, chatID, "✅ "+text)
}

func (r *Router) respondError(ctx context.Context, chatID int64, text string) {
	r.send(ctx, chatID, "❌ "+text)
}

// alert delivers plain text to the admin chat.
func (r *Router) alert(ctx context.Context, text string) {
	r.send(ctx, r.adminChatID, text)
}

// isMainAdmin reports whether userID administers the main chat. The admin
// list is queried live so promotions and demotions apply immediately.
func (r *Router) isMainAdmin(ctx context.Context, userID int64) (bool, error) {
	admins, err := r.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: r.mainChatID})
	if err != nil {
		return false, err
	}

	for _, member := range admins {
		if adminUserID(member) == userID {
			return true, nil
		}
	}

	return false, nil
}

// adminUserID extracts the user id from the owner and administrator variants
// of the member union; other variants never appear in an admin list.
func adminUserID(member models.ChatMember) int64 {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		if member.Owner != nil && member.Owner.User != nil {
			return member.Owner.User.ID
		}
	case models.ChatMemberTypeAdministrator:
		if member.Administrator != nil {
			return member.Administrator.User.ID
		}
	}

	return 0
}
