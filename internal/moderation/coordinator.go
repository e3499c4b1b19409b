package moderation

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/db"
	"github.com/watchdogbot/watchdog/internal/detection"
	"github.com/watchdogbot/watchdog/internal/verification"
)

type coordinatorStore interface {
	GetVerificationEvent(ctx context.Context, id string) (*db.VerificationEvent, error)
	UpdateVerificationEvent(ctx context.Context, event *db.VerificationEvent) error
	LinkDetectionEvent(ctx context.Context, detectionEventID, verificationEventID string) error
	StampAdminResolution(ctx context.Context, detectionEventID, resolution string) error
}

type caseLifecycle interface {
	ActiveCase(ctx context.Context, serverID, userID string) (*db.VerificationEvent, error)
	Open(ctx context.Context, serverID, userID string, detectionEventID *string) (*db.VerificationEvent, error)
	Verify(ctx context.Context, event *db.VerificationEvent, moderatorID string) error
	Ban(ctx context.Context, event *db.VerificationEvent, moderatorID string) error
	Reopen(ctx context.Context, event *db.VerificationEvent, moderatorID string) error
}

type actionRecorder interface {
	RecordAction(ctx context.Context, action *db.AdminAction) (*db.AdminAction, error)
	FormatActionSummary(action *db.AdminAction) string
}

type serverRules interface {
	ServerRules(ctx context.Context, serverID string) detection.Rules
}

// Coordinator turns detection results and moderator commands into case-level
// state changes and side-effect requests. Processing is serialized per
// (server,user) so the one-open-case invariant holds under concurrent
// triggers.
type Coordinator struct {
	store        coordinatorStore
	lifecycle    caseLifecycle
	auditor      actionRecorder
	rules        serverRules
	enforcement  EnforcementGateway
	notification NotificationGateway
	keys         *keyedMutex
	logger       *log.Entry
}

func NewCoordinator(store coordinatorStore, lifecycle caseLifecycle, auditor actionRecorder, rules serverRules, enforcement EnforcementGateway, notification NotificationGateway) *Coordinator {
	return &Coordinator{
		store:        store,
		lifecycle:    lifecycle,
		auditor:      auditor,
		rules:        rules,
		enforcement:  enforcement,
		notification: notification,
		keys:         newKeyedMutex(),
		logger:       log.WithField("object", "Coordinator"),
	}
}

func caseKey(serverID, userID string) string {
	return serverID + ":" + userID
}

// HandleDetection reacts to one suspicion result. While a pending case
// exists for the (server,user) only the notification is refreshed: no
// duplicate case, restriction or thread.
func (c *Coordinator) HandleDetection(ctx context.Context, result detection.Result) error {
	entry := c.logger.WithField("method", "HandleDetection").
		WithField("server_id", result.ServerID).
		WithField("user_id", result.UserID)

	if !result.Suspicious {
		return nil
	}
	// The threshold gates on the raw suspicion score, not Confidence.
	// Confidence is distance from the boundary, so borderline hits and
	// fixed-score triggers like user reports carry a low Confidence even
	// though they need moderator eyes.
	rules := c.rules.ServerRules(ctx, result.ServerID)
	if result.Score < rules.MinConfidenceThreshold {
		entry.WithField("score", result.Score).Debug("below server suspicion threshold, skipping")
		return nil
	}

	key := caseKey(result.ServerID, result.UserID)
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	active, err := c.lifecycle.ActiveCase(ctx, result.ServerID, result.UserID)
	if err != nil {
		return fmt.Errorf("failed to look up active case: %w", err)
	}
	if active != nil {
		if err := c.notification.UpdateNotificationControls(ctx, active); err != nil {
			entry.WithError(err).Error("failed to refresh notification")
		}
		return nil
	}

	var detectionEventID *string
	if result.Event != nil {
		detectionEventID = &result.Event.ID
	}

	event, err := c.lifecycle.Open(ctx, result.ServerID, result.UserID, detectionEventID)
	if err != nil {
		if errors.Is(err, verification.ErrCaseExists) {
			entry.Debug("case opened concurrently, skipping side effects")
			return nil
		}
		return fmt.Errorf("failed to open verification case: %w", err)
	}

	if detectionEventID != nil {
		if err := c.store.LinkDetectionEvent(ctx, *detectionEventID, event.ID); err != nil {
			entry.WithError(err).Error("failed to link detection event")
		}
	}

	if rules.AutoRestrict {
		if err := c.enforcement.AssignRestrictedRole(ctx, result.ServerID, result.UserID); err != nil {
			entry.WithError(err).Error("failed to restrict flagged user")
		}
	}

	if threadID, err := c.enforcement.CreateVerificationThread(ctx, event); err != nil {
		entry.WithError(err).Error("failed to create verification thread")
	} else if threadID != "" {
		event.ThreadID = &threadID
	}

	if messageID, err := c.notification.UpsertFlaggedUserNotification(ctx, event, result.Event); err != nil {
		entry.WithError(err).Error("failed to send flagged user notification")
	} else if messageID != "" {
		event.NotificationMessageID = &messageID
	}

	if event.ThreadID != nil || event.NotificationMessageID != nil {
		if err := c.store.UpdateVerificationEvent(ctx, event); err != nil {
			entry.WithError(err).Error("failed to store case references")
		}
	}
	return nil
}

// VerifyUser resolves the active pending case as legitimate. Fails loudly
// when there is none.
func (c *Coordinator) VerifyUser(ctx context.Context, serverID, userID, moderatorID, notes string) error {
	key := caseKey(serverID, userID)
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	active, err := c.lifecycle.ActiveCase(ctx, serverID, userID)
	if err != nil {
		return fmt.Errorf("failed to look up active case: %w", err)
	}
	if active == nil {
		return fmt.Errorf("no active verification case for user %s in server %s: %w", userID, serverID, db.ErrNotFound)
	}

	previous := active.Status
	if err := c.lifecycle.Verify(ctx, active, moderatorID); err != nil {
		return err
	}

	action, err := c.auditor.RecordAction(ctx, &db.AdminAction{
		ServerID:            serverID,
		UserID:              userID,
		AdminID:             moderatorID,
		VerificationEventID: &active.ID,
		DetectionEventID:    active.DetectionEventID,
		Type:                db.AdminActionVerify,
		PreviousStatus:      previous,
		NewStatus:           db.VerificationVerified,
		Notes:               notes,
	})
	if err != nil {
		return err
	}

	c.stampResolution(ctx, active, "verified by "+moderatorID)
	c.requestCaseClosure(ctx, active, action, false)
	return nil
}

// BanUser bans a member. A missing active case is tolerated: the enforcement
// request and audit row are produced regardless.
func (c *Coordinator) BanUser(ctx context.Context, serverID, userID, reason, moderatorID string) error {
	key := caseKey(serverID, userID)
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	active, err := c.lifecycle.ActiveCase(ctx, serverID, userID)
	if err != nil {
		return fmt.Errorf("failed to look up active case: %w", err)
	}

	var previous db.VerificationStatus
	if active != nil {
		previous = active.Status
		if err := c.lifecycle.Ban(ctx, active, moderatorID); err != nil {
			return err
		}
	}

	if err := c.enforcement.BanMember(ctx, serverID, userID, reason); err != nil {
		return fmt.Errorf("failed to ban member: %w", err)
	}

	adminAction := &db.AdminAction{
		ServerID:       serverID,
		UserID:         userID,
		AdminID:        moderatorID,
		Type:           db.AdminActionBan,
		PreviousStatus: previous,
		NewStatus:      db.VerificationBanned,
		Notes:          reason,
	}
	if active != nil {
		adminAction.VerificationEventID = &active.ID
		adminAction.DetectionEventID = active.DetectionEventID
	}
	action, err := c.auditor.RecordAction(ctx, adminAction)
	if err != nil {
		return err
	}

	if active != nil {
		c.stampResolution(ctx, active, "banned by "+moderatorID)
		c.requestCaseClosure(ctx, active, action, true)
	}
	return nil
}

// ReopenVerification returns a resolved case to pending and re-applies the
// restriction.
func (c *Coordinator) ReopenVerification(ctx context.Context, verificationEventID, moderatorID string) error {
	event, err := c.store.GetVerificationEvent(ctx, verificationEventID)
	if err != nil {
		return fmt.Errorf("verification event %s: %w", verificationEventID, err)
	}

	key := caseKey(event.ServerID, event.UserID)
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	previous := event.Status
	if err := c.lifecycle.Reopen(ctx, event, moderatorID); err != nil {
		return err
	}

	action, err := c.auditor.RecordAction(ctx, &db.AdminAction{
		ServerID:            event.ServerID,
		UserID:              event.UserID,
		AdminID:             moderatorID,
		VerificationEventID: &event.ID,
		DetectionEventID:    event.DetectionEventID,
		Type:                db.AdminActionReopen,
		PreviousStatus:      previous,
		NewStatus:           db.VerificationPending,
	})
	if err != nil {
		return err
	}

	entry := c.logger.WithField("method", "ReopenVerification").WithField("event_id", event.ID)
	if err := c.enforcement.AssignRestrictedRole(ctx, event.ServerID, event.UserID); err != nil {
		entry.WithError(err).Error("failed to re-restrict user")
	}
	if event.ThreadID != nil {
		if err := c.enforcement.ReopenThread(ctx, event.ServerID, *event.ThreadID); err != nil {
			entry.WithError(err).Error("failed to reopen thread")
		}
	}
	c.notifyAction(ctx, event, action)
	return nil
}

func (c *Coordinator) stampResolution(ctx context.Context, event *db.VerificationEvent, resolution string) {
	if event.DetectionEventID == nil {
		return
	}
	if err := c.store.StampAdminResolution(ctx, *event.DetectionEventID, resolution); err != nil {
		c.logger.WithError(err).Debug("failed to stamp detection resolution")
	}
}

// requestCaseClosure asks the gateways to unwind the side effects of an open
// case. Failures are logged; the state transition already happened.
func (c *Coordinator) requestCaseClosure(ctx context.Context, event *db.VerificationEvent, action *db.AdminAction, banned bool) {
	entry := c.logger.WithField("method", "requestCaseClosure").WithField("event_id", event.ID)

	if !banned {
		if err := c.enforcement.RemoveRestrictedRole(ctx, event.ServerID, event.UserID); err != nil {
			entry.WithError(err).Error("failed to remove restriction")
		}
	}
	if event.ThreadID != nil {
		if err := c.enforcement.ResolveThread(ctx, event.ServerID, *event.ThreadID); err != nil {
			entry.WithError(err).Error("failed to resolve thread")
		}
	}
	c.notifyAction(ctx, event, action)
}

func (c *Coordinator) notifyAction(ctx context.Context, event *db.VerificationEvent, action *db.AdminAction) {
	entry := c.logger.WithField("method", "notifyAction").WithField("event_id", event.ID)

	if err := c.notification.UpdateNotificationControls(ctx, event); err != nil {
		entry.WithError(err).Error("failed to update notification controls")
	}
	if action != nil {
		if err := c.notification.AppendActionLogEntry(ctx, event, c.auditor.FormatActionSummary(action)); err != nil {
			entry.WithError(err).Error("failed to append action log entry")
		}
	}
}
