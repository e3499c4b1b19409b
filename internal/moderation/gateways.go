package moderation

import (
	"context"

	"github.com/watchdogbot/watchdog/internal/db"
)

// EnforcementGateway performs platform-side enforcement. The coordinator only
// decides that an action must happen, never how.
type EnforcementGateway interface {
	AssignRestrictedRole(ctx context.Context, serverID, userID string) error
	RemoveRestrictedRole(ctx context.Context, serverID, userID string) error
	BanMember(ctx context.Context, serverID, userID, reason string) error
	CreateVerificationThread(ctx context.Context, event *db.VerificationEvent) (string, error)
	ResolveThread(ctx context.Context, serverID, threadID string) error
	ReopenThread(ctx context.Context, serverID, threadID string) error
}

// NotificationGateway maintains moderator-facing notifications. Calls are
// fire-and-forget from the coordinator's perspective.
type NotificationGateway interface {
	UpsertFlaggedUserNotification(ctx context.Context, event *db.VerificationEvent, detection *db.DetectionEvent) (string, error)
	UpdateNotificationControls(ctx context.Context, event *db.VerificationEvent) error
	AppendActionLogEntry(ctx context.Context, event *db.VerificationEvent, summary string) error
}
