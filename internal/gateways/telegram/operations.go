package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/db"
)

// Operations implements the enforcement and notification gateways on top of
// the Telegram Bot API. Restriction maps to muted chat permissions; threads
// map to pinned review messages.
type Operations struct {
	bot    *api.BotAPI
	logger *log.Entry
}

func NewOperations(bot *api.BotAPI) *Operations {
	return &Operations{
		bot:    bot,
		logger: log.WithField("object", "TelegramOperations"),
	}
}

func parseID(id string) (int64, error) {
	parsed, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q: %w", id, err)
	}
	return parsed, nil
}

func (o *Operations) AssignRestrictedRole(ctx context.Context, serverID, userID string) error {
	chatID, err := parseID(serverID)
	if err != nil {
		return err
	}
	memberID, err := parseID(userID)
	if err != nil {
		return err
	}

	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     memberID,
		},
		UntilDate: time.Now().Add(24 * time.Hour).Unix(),
		Permissions: &api.ChatPermissions{
			CanSendMessages:       false,
			CanSendOtherMessages:  false,
			CanAddWebPagePreviews: false,
		},
	}
	if _, err := o.bot.Request(config); err != nil {
		return fmt.Errorf("failed to restrict user: %w", err)
	}
	return nil
}

func (o *Operations) RemoveRestrictedRole(ctx context.Context, serverID, userID string) error {
	chatID, err := parseID(serverID)
	if err != nil {
		return err
	}
	memberID, err := parseID(userID)
	if err != nil {
		return err
	}

	config := api.RestrictChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     memberID,
		},
		Permissions: &api.ChatPermissions{
			CanSendMessages:       true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
		},
	}
	if _, err := o.bot.Request(config); err != nil {
		return fmt.Errorf("failed to unrestrict user: %w", err)
	}
	return nil
}

func (o *Operations) BanMember(ctx context.Context, serverID, userID, reason string) error {
	chatID, err := parseID(serverID)
	if err != nil {
		return err
	}
	memberID, err := parseID(userID)
	if err != nil {
		return err
	}

	config := api.BanChatMemberConfig{
		ChatMemberConfig: api.ChatMemberConfig{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     memberID,
		},
		RevokeMessages: true,
	}
	if _, err := o.bot.Request(config); err != nil {
		if strings.Contains(err.Error(), "not enough rights") {
			return fmt.Errorf("not enough rights to ban user")
		}
		return fmt.Errorf("failed to ban user: %w", err)
	}
	return nil
}

// CreateVerificationThread opens the moderator review anchor for a case. On
// Telegram this is a pinned message rather than a real thread.
func (o *Operations) CreateVerificationThread(ctx context.Context, event *db.VerificationEvent) (string, error) {
	chatID, err := parseID(event.ServerID)
	if err != nil {
		return "", err
	}

	msg := api.NewMessage(chatID, fmt.Sprintf("🔍 Verification case %s opened for user %s", event.ID, event.UserID))
	msg.DisableNotification = true
	sent, err := o.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to create verification anchor: %w", err)
	}

	pin := api.PinChatMessageConfig{
		BaseChatMessage: api.BaseChatMessage{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			MessageID:  sent.MessageID,
		},
		DisableNotification: true,
	}
	if _, err := o.bot.Request(pin); err != nil {
		o.logger.WithError(err).Debug("failed to pin verification anchor")
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (o *Operations) ResolveThread(ctx context.Context, serverID, threadID string) error {
	return o.editThreadState(serverID, threadID, "✅ resolved")
}

func (o *Operations) ReopenThread(ctx context.Context, serverID, threadID string) error {
	return o.editThreadState(serverID, threadID, "🔄 reopened")
}

func (o *Operations) editThreadState(serverID, threadID, state string) error {
	chatID, err := parseID(serverID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(threadID)
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", threadID, err)
	}

	edit := api.NewEditMessageText(chatID, messageID, fmt.Sprintf("🔍 Verification case %s", state))
	if _, err := o.bot.Request(edit); err != nil {
		return fmt.Errorf("failed to edit verification anchor: %w", err)
	}
	return nil
}

func (o *Operations) UpsertFlaggedUserNotification(ctx context.Context, event *db.VerificationEvent, detection *db.DetectionEvent) (string, error) {
	chatID, err := parseID(event.ServerID)
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("⚠️ User %s was flagged for review", event.UserID)
	if detection != nil && len(detection.Reasons) > 0 {
		text += "\nReasons: " + strings.Join(detection.Reasons, "; ")
	}

	if event.NotificationMessageID != nil {
		messageID, convErr := strconv.Atoi(*event.NotificationMessageID)
		if convErr == nil {
			edit := api.NewEditMessageText(chatID, messageID, text)
			if _, err := o.bot.Request(edit); err == nil {
				return *event.NotificationMessageID, nil
			}
			// Fall through and post a fresh notification.
		}
	}

	msg := api.NewMessage(chatID, text)
	msg.DisableNotification = true
	markup := api.NewInlineKeyboardMarkup(
		api.NewInlineKeyboardRow(
			api.NewInlineKeyboardButtonData("✅ Verify", fmt.Sprintf("case_verify:%s", event.ID)),
			api.NewInlineKeyboardButtonData("🔨 Ban", fmt.Sprintf("case_ban:%s", event.ID)),
		),
	)
	msg.ReplyMarkup = &markup

	sent, err := o.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("failed to send notification: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (o *Operations) UpdateNotificationControls(ctx context.Context, event *db.VerificationEvent) error {
	if event.NotificationMessageID == nil {
		return nil
	}
	chatID, err := parseID(event.ServerID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(*event.NotificationMessageID)
	if err != nil {
		return fmt.Errorf("invalid notification id %q: %w", *event.NotificationMessageID, err)
	}

	var markup api.InlineKeyboardMarkup
	if event.Status == db.VerificationPending {
		markup = api.NewInlineKeyboardMarkup(
			api.NewInlineKeyboardRow(
				api.NewInlineKeyboardButtonData("✅ Verify", fmt.Sprintf("case_verify:%s", event.ID)),
				api.NewInlineKeyboardButtonData("🔨 Ban", fmt.Sprintf("case_ban:%s", event.ID)),
			),
		)
	} else {
		markup = api.NewInlineKeyboardMarkup(
			api.NewInlineKeyboardRow(
				api.NewInlineKeyboardButtonData("🔄 Reopen", fmt.Sprintf("case_reopen:%s", event.ID)),
			),
		)
	}

	edit := api.NewEditMessageReplyMarkup(chatID, messageID, markup)
	if _, err := o.bot.Request(edit); err != nil {
		return fmt.Errorf("failed to update notification controls: %w", err)
	}
	return nil
}

func (o *Operations) AppendActionLogEntry(ctx context.Context, event *db.VerificationEvent, summary string) error {
	chatID, err := parseID(event.ServerID)
	if err != nil {
		return err
	}

	msg := api.NewMessage(chatID, summary)
	msg.DisableNotification = true
	if event.NotificationMessageID != nil {
		if messageID, convErr := strconv.Atoi(*event.NotificationMessageID); convErr == nil {
			msg.ReplyParameters = api.ReplyParameters{
				ChatID:                   chatID,
				MessageID:                messageID,
				AllowSendingWithoutReply: true,
			}
		}
	}
	if _, err := o.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to append action log entry: %w", err)
	}
	return nil
}
