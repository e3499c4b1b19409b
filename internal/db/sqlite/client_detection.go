package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"

	"github.com/watchdogbot/watchdog/internal/db"
)

func (c *sqliteClient) CreateDetectionEvent(ctx context.Context, event *db.DetectionEvent) (*db.DetectionEvent, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if event.ID == "" {
		event.ID = uuid.New()
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = time.Now()
	}
	if event.Reasons == nil {
		event.Reasons = db.StringList{}
	}
	if event.Metadata == nil {
		event.Metadata = db.Dict{}
	}

	query := `
		INSERT INTO detection_events (id, server_id, user_id, detection_type, confidence,
			confidence_level, reasons, message_id, channel_id, verification_event_id,
			admin_resolution, metadata, detected_at)
		VALUES (:id, :server_id, :user_id, :detection_type, :confidence,
			:confidence_level, :reasons, :message_id, :channel_id, :verification_event_id,
			:admin_resolution, :metadata, :detected_at)
	`
	if _, err := c.db.NamedExecContext(ctx, query, event); err != nil {
		return nil, fmt.Errorf("failed to create detection event: %w", err)
	}
	return event, nil
}

func (c *sqliteClient) GetRecentDetectionEvents(ctx context.Context, serverID, userID string, limit int) ([]*db.DetectionEvent, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var events []*db.DetectionEvent
	err := c.db.SelectContext(ctx, &events, `
		SELECT * FROM detection_events
		WHERE server_id = ? AND user_id = ?
		ORDER BY detected_at DESC
		LIMIT ?
	`, serverID, userID, limit)
	return events, err
}

func (c *sqliteClient) LinkDetectionEvent(ctx context.Context, detectionEventID, verificationEventID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.db.ExecContext(ctx, `
		UPDATE detection_events SET verification_event_id = ? WHERE id = ?
	`, verificationEventID, detectionEventID)
	return err
}

// StampAdminResolution records the one-time moderator resolution on an event.
// A second stamp attempt is rejected.
func (c *sqliteClient) StampAdminResolution(ctx context.Context, detectionEventID, resolution string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	result, err := c.db.ExecContext(ctx, `
		UPDATE detection_events SET admin_resolution = ?
		WHERE id = ? AND admin_resolution IS NULL
	`, resolution, detectionEventID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("detection event %s: %w", detectionEventID, db.ErrNotFound)
	}
	return nil
}

func (c *sqliteClient) DeleteDetectionEventsOlderThan(ctx context.Context, days int) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	result, err := c.db.ExecContext(ctx, `
		DELETE FROM detection_events
		WHERE detected_at < datetime('now', ?)
	`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
