package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/db"
)

// ErrValidation signals required audit fields were missing.
var ErrValidation = errors.New("validation failed")

type auditStore interface {
	GetServer(ctx context.Context, id string) (*db.Server, error)
	GetUser(ctx context.Context, id string) (*db.User, error)
	CreateAdminAction(ctx context.Context, action *db.AdminAction) (*db.AdminAction, error)
}

// Auditor validates and persists the immutable log of moderator decisions.
type Auditor struct {
	store  auditStore
	logger *log.Entry
}

func NewAuditor(store auditStore) *Auditor {
	return &Auditor{
		store:  store,
		logger: log.WithField("object", "Auditor"),
	}
}

// RecordAction persists one audit row. The referenced server and user must
// already exist; the returned error names whichever is missing.
func (a *Auditor) RecordAction(ctx context.Context, action *db.AdminAction) (*db.AdminAction, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: action is nil", ErrValidation)
	}
	if action.ServerID == "" || action.UserID == "" || action.AdminID == "" {
		return nil, fmt.Errorf("%w: server, user and admin ids are required", ErrValidation)
	}
	if action.Type == "" {
		return nil, fmt.Errorf("%w: action type is required", ErrValidation)
	}

	if _, err := a.store.GetServer(ctx, action.ServerID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("server %s: %w", action.ServerID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up server %s: %w", action.ServerID, err)
	}
	if _, err := a.store.GetUser(ctx, action.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", action.UserID, db.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up user %s: %w", action.UserID, err)
	}

	created, err := a.store.CreateAdminAction(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("failed to record admin action: %w", err)
	}

	a.logger.WithField("action_id", created.ID).
		WithField("action_type", string(created.Type)).
		WithField("admin_id", created.AdminID).
		Info("recorded admin action")
	return created, nil
}

// FormatActionSummary renders a deterministic human-readable summary of one
// audit row.
func (a *Auditor) FormatActionSummary(action *db.AdminAction) string {
	var b strings.Builder

	switch action.Type {
	case db.AdminActionVerify:
		b.WriteString("✅ Verified")
	case db.AdminActionBan:
		b.WriteString("🔨 Banned")
	case db.AdminActionReopen:
		b.WriteString("🔄 Case reopened")
	case db.AdminActionCreateThread:
		b.WriteString("🧵 Verification thread created")
	default:
		b.WriteString(string(action.Type))
	}

	fmt.Fprintf(&b, " by <@%s>", action.AdminID)
	fmt.Fprintf(&b, " at %s", action.ActionAt.Format("2006-01-02 15:04:05 MST"))

	if action.PreviousStatus != "" && action.PreviousStatus != action.NewStatus && action.NewStatus != "" {
		fmt.Fprintf(&b, "\nStatus changed from %s to %s", action.PreviousStatus, action.NewStatus)
	}
	if action.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s", action.Notes)
	}
	return b.String()
}
