package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pborman/uuid"

	"github.com/watchdogbot/watchdog/internal/db"
)

func (c *sqliteClient) CreateVerificationEvent(ctx context.Context, event *db.VerificationEvent) (*db.VerificationEvent, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if event.ID == "" {
		event.ID = uuid.New()
	}
	now := time.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = db.VerificationPending
	}
	if event.Metadata == nil {
		event.Metadata = db.Dict{}
	}

	query := `
		INSERT INTO verification_events (id, server_id, user_id, status, detection_event_id,
			thread_id, notification_message_id, notes, metadata, created_at, updated_at,
			resolved_at, resolved_by)
		VALUES (:id, :server_id, :user_id, :status, :detection_event_id,
			:thread_id, :notification_message_id, :notes, :metadata, :created_at, :updated_at,
			:resolved_at, :resolved_by)
	`
	if _, err := c.db.NamedExecContext(ctx, query, event); err != nil {
		return nil, fmt.Errorf("failed to create verification event: %w", err)
	}
	return event, nil
}

func (c *sqliteClient) UpdateVerificationEvent(ctx context.Context, event *db.VerificationEvent) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	event.UpdatedAt = time.Now()
	query := `
		UPDATE verification_events
		SET status = :status,
			thread_id = :thread_id,
			notification_message_id = :notification_message_id,
			notes = :notes,
			metadata = :metadata,
			updated_at = :updated_at,
			resolved_at = :resolved_at,
			resolved_by = :resolved_by
		WHERE id = :id
	`
	result, err := c.db.NamedExecContext(ctx, query, event)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("verification event %s: %w", event.ID, db.ErrNotFound)
	}
	return nil
}

func (c *sqliteClient) GetVerificationEvent(ctx context.Context, id string) (*db.VerificationEvent, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	event := &db.VerificationEvent{}
	err := c.db.GetContext(ctx, event, `SELECT * FROM verification_events WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

func (c *sqliteClient) GetActiveVerificationEvent(ctx context.Context, serverID, userID string) (*db.VerificationEvent, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	event := &db.VerificationEvent{}
	err := c.db.GetContext(ctx, event, `
		SELECT * FROM verification_events
		WHERE server_id = ?
		AND user_id = ?
		AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, serverID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}
