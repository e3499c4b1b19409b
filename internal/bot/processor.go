package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/adapters"
	"github.com/watchdogbot/watchdog/internal/db"
	"github.com/watchdogbot/watchdog/internal/detection"
	"github.com/watchdogbot/watchdog/internal/moderation"
)

const (
	callbackVerify = "case_verify"
	callbackBan    = "case_ban"
	callbackReopen = "case_reopen"
)

// UpdateProcessor translates platform updates into detection triggers and
// moderator commands.
type UpdateProcessor struct {
	bot          *api.BotAPI
	store        db.Client
	orchestrator *detection.Orchestrator
	coordinator  *moderation.Coordinator
	logger       *log.Entry
}

func NewUpdateProcessor(bot *api.BotAPI, store db.Client, orchestrator *detection.Orchestrator, coordinator *moderation.Coordinator) *UpdateProcessor {
	return &UpdateProcessor{
		bot:          bot,
		store:        store,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		logger:       log.WithField("object", "UpdateProcessor"),
	}
}

func (p *UpdateProcessor) Process(ctx context.Context, update *api.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return p.processCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return p.processMessage(ctx, update.Message)
	default:
		return nil
	}
}

func (p *UpdateProcessor) processMessage(ctx context.Context, msg *api.Message) error {
	if msg.From == nil || msg.Chat.IsPrivate() {
		return nil
	}

	serverID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := strconv.FormatInt(msg.From.ID, 10)
	p.ensureKnown(ctx, msg, serverID, userID)

	if len(msg.NewChatMembers) > 0 {
		return p.processJoins(ctx, msg, serverID)
	}

	if msg.IsCommand() {
		return p.processCommand(ctx, msg, serverID)
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return nil
	}

	profile := &adapters.Profile{
		UserID:   userID,
		Username: msg.From.UserName,
	}
	msgRef := &detection.MessageRef{
		MessageID: strconv.Itoa(msg.MessageID),
		ChannelID: serverID,
	}

	result := p.orchestrator.DetectMessage(ctx, serverID, userID, content, msgRef, profile)
	return p.coordinator.HandleDetection(ctx, result)
}

func (p *UpdateProcessor) processJoins(ctx context.Context, msg *api.Message, serverID string) error {
	for _, member := range msg.NewChatMembers {
		if member.IsBot {
			continue
		}
		userID := strconv.FormatInt(member.ID, 10)
		if err := p.store.UpsertUser(ctx, &db.User{ID: userID, Username: member.UserName}); err != nil {
			p.logger.WithError(err).Error("failed to upsert joining user")
		}

		profile := adapters.Profile{
			UserID:         userID,
			Username:       member.UserName,
			JoinedServerAt: msg.Time(),
		}
		result := p.orchestrator.DetectNewJoin(ctx, serverID, userID, profile)
		if err := p.coordinator.HandleDetection(ctx, result); err != nil {
			p.logger.WithError(err).WithField("user_id", userID).Error("failed to handle join detection")
		}
	}
	return nil
}

func (p *UpdateProcessor) processCommand(ctx context.Context, msg *api.Message, serverID string) error {
	target := msg.ReplyToMessage
	switch msg.Command() {
	case "report":
		if target == nil || target.From == nil {
			return nil
		}
		targetID := strconv.FormatInt(target.From.ID, 10)
		reporterID := strconv.FormatInt(msg.From.ID, 10)
		result := p.orchestrator.DetectUserReport(ctx, serverID, targetID, reporterID, msg.CommandArguments())
		return p.coordinator.HandleDetection(ctx, result)
	case "flag":
		if target == nil || target.From == nil {
			return nil
		}
		if !p.isAdmin(msg.Chat.ID, msg.From.ID) {
			return nil
		}
		targetID := strconv.FormatInt(target.From.ID, 10)
		moderatorID := strconv.FormatInt(msg.From.ID, 10)
		result := p.orchestrator.DetectManualFlag(ctx, serverID, targetID, moderatorID, msg.CommandArguments())
		return p.coordinator.HandleDetection(ctx, result)
	}
	return nil
}

func (p *UpdateProcessor) processCallback(ctx context.Context, query *api.CallbackQuery) error {
	action, eventID, ok := strings.Cut(query.Data, ":")
	if !ok || query.Message == nil || query.From == nil {
		return nil
	}
	if !p.isAdmin(query.Message.Chat.ID, query.From.ID) {
		p.answerCallback(query.ID, "Moderators only")
		return nil
	}

	event, err := p.store.GetVerificationEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("verification event %s: %w", eventID, err)
	}
	moderatorID := strconv.FormatInt(query.From.ID, 10)

	switch action {
	case callbackVerify:
		err = p.coordinator.VerifyUser(ctx, event.ServerID, event.UserID, moderatorID, "")
	case callbackBan:
		err = p.coordinator.BanUser(ctx, event.ServerID, event.UserID, "banned via moderation controls", moderatorID)
	case callbackReopen:
		err = p.coordinator.ReopenVerification(ctx, eventID, moderatorID)
	default:
		return nil
	}
	if err != nil {
		p.answerCallback(query.ID, "Action failed: "+err.Error())
		return err
	}
	p.answerCallback(query.ID, "Done")
	return nil
}

// ensureKnown keeps server and user rows current so audit lookups resolve.
func (p *UpdateProcessor) ensureKnown(ctx context.Context, msg *api.Message, serverID, userID string) {
	if err := p.store.UpsertServer(ctx, &db.Server{ID: serverID, Title: msg.Chat.Title}); err != nil {
		p.logger.WithError(err).Error("failed to upsert server")
	}
	if err := p.store.UpsertUser(ctx, &db.User{ID: userID, Username: msg.From.UserName}); err != nil {
		p.logger.WithError(err).Error("failed to upsert user")
	}
}

func (p *UpdateProcessor) isAdmin(chatID, userID int64) bool {
	member, err := p.bot.GetChatMember(api.GetChatMemberConfig{
		ChatConfigWithUser: api.ChatConfigWithUser{
			ChatConfig: api.ChatConfig{ChatID: chatID},
			UserID:     userID,
		},
	})
	if err != nil {
		p.logger.WithError(err).Debug("cant resolve chat member")
		return false
	}
	return member.IsAdministrator() || member.IsCreator()
}

func (p *UpdateProcessor) answerCallback(callbackID, text string) {
	if _, err := p.bot.Request(api.NewCallback(callbackID, text)); err != nil {
		p.logger.WithError(err).Debug("cant answer callback query")
	}
}
