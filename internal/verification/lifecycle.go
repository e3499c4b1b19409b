package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/db"
)

var (
	// ErrCaseExists signals a violated one-open-case-per-(server,user)
	// invariant.
	ErrCaseExists = errors.New("active verification case already exists")
)

type lifecycleStore interface {
	CreateVerificationEvent(ctx context.Context, event *db.VerificationEvent) (*db.VerificationEvent, error)
	UpdateVerificationEvent(ctx context.Context, event *db.VerificationEvent) error
	GetVerificationEvent(ctx context.Context, id string) (*db.VerificationEvent, error)
	GetActiveVerificationEvent(ctx context.Context, serverID, userID string) (*db.VerificationEvent, error)
}

// Lifecycle owns every status transition of verification cases. The states
// are pending (initial), verified and banned (terminal until reopened).
type Lifecycle struct {
	store  lifecycleStore
	logger *log.Entry
}

func NewLifecycle(store lifecycleStore) *Lifecycle {
	return &Lifecycle{
		store:  store,
		logger: log.WithField("object", "Lifecycle"),
	}
}

// ActiveCase returns the most recent pending case for a (server,user), or
// nil when there is none.
func (l *Lifecycle) ActiveCase(ctx context.Context, serverID, userID string) (*db.VerificationEvent, error) {
	return l.store.GetActiveVerificationEvent(ctx, serverID, userID)
}

// Open creates a new pending case. It fails with ErrCaseExists when one is
// already open for this (server,user).
func (l *Lifecycle) Open(ctx context.Context, serverID, userID string, detectionEventID *string) (*db.VerificationEvent, error) {
	if serverID == "" || userID == "" {
		return nil, fmt.Errorf("open verification case: server and user ids are required")
	}

	active, err := l.store.GetActiveVerificationEvent(ctx, serverID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active case: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("server %s user %s: %w", serverID, userID, ErrCaseExists)
	}

	event, err := l.store.CreateVerificationEvent(ctx, &db.VerificationEvent{
		ServerID:         serverID,
		UserID:           userID,
		Status:           db.VerificationPending,
		DetectionEventID: detectionEventID,
	})
	if err != nil {
		// The partial unique index may have raced us; surface the winner.
		if active, lookupErr := l.store.GetActiveVerificationEvent(ctx, serverID, userID); lookupErr == nil && active != nil {
			return nil, fmt.Errorf("server %s user %s: %w", serverID, userID, ErrCaseExists)
		}
		return nil, fmt.Errorf("failed to create verification case: %w", err)
	}

	l.logger.WithField("event_id", event.ID).
		WithField("server_id", serverID).
		WithField("user_id", userID).
		Info("opened verification case")
	return event, nil
}

// Verify resolves a pending case as legitimate. Only pending cases can be
// verified.
func (l *Lifecycle) Verify(ctx context.Context, event *db.VerificationEvent, moderatorID string) error {
	if event == nil || event.Status != db.VerificationPending {
		return fmt.Errorf("pending verification case: %w", db.ErrNotFound)
	}
	l.resolve(event, db.VerificationVerified, moderatorID)
	return l.store.UpdateVerificationEvent(ctx, event)
}

// Ban resolves a case as banned. Unlike Verify, ban does not require the
// case to still be pending.
func (l *Lifecycle) Ban(ctx context.Context, event *db.VerificationEvent, moderatorID string) error {
	if event == nil {
		return fmt.Errorf("verification case: %w", db.ErrNotFound)
	}
	l.resolve(event, db.VerificationBanned, moderatorID)
	return l.store.UpdateVerificationEvent(ctx, event)
}

// Reopen returns a resolved case to pending, clearing its resolution stamp.
func (l *Lifecycle) Reopen(ctx context.Context, event *db.VerificationEvent, moderatorID string) error {
	if event == nil || (event.Status != db.VerificationVerified && event.Status != db.VerificationBanned) {
		return fmt.Errorf("resolved verification case: %w", db.ErrNotFound)
	}

	active, err := l.store.GetActiveVerificationEvent(ctx, event.ServerID, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to check active case: %w", err)
	}
	if active != nil && active.ID != event.ID {
		return fmt.Errorf("server %s user %s: %w", event.ServerID, event.UserID, ErrCaseExists)
	}

	event.Status = db.VerificationPending
	event.ResolvedAt = nil
	event.ResolvedBy = nil
	if err := l.store.UpdateVerificationEvent(ctx, event); err != nil {
		return err
	}

	l.logger.WithField("event_id", event.ID).
		WithField("moderator_id", moderatorID).
		Info("reopened verification case")
	return nil
}

func (l *Lifecycle) resolve(event *db.VerificationEvent, status db.VerificationStatus, moderatorID string) {
	now := time.Now()
	event.Status = status
	event.ResolvedAt = &now
	event.ResolvedBy = &moderatorID
}
