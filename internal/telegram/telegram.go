// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_gatekeeper_bot/internal/config"
	"tg_gatekeeper_bot/internal/logging"
)

// botAPI is the slice of the bot client the package uses: long polling plus
// the message, invite-link, join-request, and membership calls.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	CreateChatInviteLink(ctx context.Context, params *bot.CreateChatInviteLinkParams) (*models.ChatInviteLink, error)
	RevokeChatInviteLink(ctx context.Context, params *bot.RevokeChatInviteLinkParams) (*models.ChatInviteLink, error)
	ApproveChatJoinRequest(ctx context.Context, params *bot.ApproveChatJoinRequestParams) (bool, error)
	DeclineChatJoinRequest(ctx context.Context, params *bot.DeclineChatJoinRequestParams) (bool, error)
	UnbanChatMember(ctx context.Context, params *bot.UnbanChatMemberParams) (bool, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"chat_member",
		"chat_join_request",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	bot    botAPI
	logger *logrus.Entry

	mainChatID  int64
	adminChatID int64

	router *Router
}

// NewClient initializes the Telegram bot with long polling and default handlers.
// Updates are dropped until a Router is attached.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger:      logger,
		mainChatID:  cfg.MainChatID,
		adminChatID: cfg.AdminChatID,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.dispatch),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot

	return client, nil
}

// Attach wires the router every received update is forwarded to. Must be
// called before Start.
func (c *Client) Attach(router *Router) {
	c.router = router
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// CreateInviteLink issues a join-request invite link for chatID that expires
// after validFor.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64, validFor time.Duration) (string, error) {
	if c == nil || c.bot == nil {
		return "", errors.New("telegram client is not initialized")
	}

	link, err := c.bot.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:             chatID,
		ExpireDate:         int(time.Now().Add(validFor).Unix()),
		CreatesJoinRequest: true,
	})
	if err != nil {
		return "", fmt.Errorf("create invite link: %w", err)
	}
	if link == nil || link.InviteLink == "" {
		return "", errors.New("platform returned an empty invite link")
	}

	return link.InviteLink, nil
}

// RevokeInviteLink revokes a previously issued invite link for chatID.
func (c *Client) RevokeInviteLink(ctx context.Context, chatID int64, link string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	if _, err := c.bot.RevokeChatInviteLink(ctx, &bot.RevokeChatInviteLinkParams{
		ChatID:     chatID,
		InviteLink: link,
	}); err != nil {
		return fmt.Errorf("revoke invite link: %w", err)
	}

	return nil
}

// Announce sends text to the main chat. HTML parse mode matches the welcome
// and reminder texts the bot produces.
func (c *Client) Announce(ctx context.Context, text string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    c.mainChatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}); err != nil {
		return fmt.Errorf("announce to main chat: %w", err)
	}

	return nil
}

// Alert sends plain text to the admin chat.
func (c *Client) Alert(ctx context.Context, text string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: c.adminChatID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("alert admin chat: %w", err)
	}

	return nil
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

// dispatch is the default handler: it logs the update the same way for every
// type and forwards it to the router.
func (c *Client) dispatch(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}

	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}

	c.logger.WithFields(fields).Info("telegram update received")

	if c.router != nil {
		c.router.Dispatch(ctx, update)
	}
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.ChatMember != nil:
		return updateMeta{
			userID:     update.ChatMember.From.ID,
			chatID:     update.ChatMember.Chat.ID,
			updateType: "chat_member",
		}
	case update.ChatJoinRequest != nil:
		return updateMeta{
			userID:     update.ChatJoinRequest.From.ID,
			chatID:     update.ChatJoinRequest.Chat.ID,
			updateType: "chat_join_request",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
