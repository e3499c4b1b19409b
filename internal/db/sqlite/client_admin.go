package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"

	"github.com/watchdogbot/watchdog/internal/db"
)

func (c *sqliteClient) CreateAdminAction(ctx context.Context, action *db.AdminAction) (*db.AdminAction, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if action.ID == "" {
		action.ID = uuid.New()
	}
	if action.ActionAt.IsZero() {
		action.ActionAt = time.Now()
	}
	if action.Metadata == nil {
		action.Metadata = db.Dict{}
	}

	query := `
		INSERT INTO admin_actions (id, server_id, user_id, admin_id, verification_event_id,
			detection_event_id, action_type, action_at, previous_status, new_status, notes, metadata)
		VALUES (:id, :server_id, :user_id, :admin_id, :verification_event_id,
			:detection_event_id, :action_type, :action_at, :previous_status, :new_status, :notes, :metadata)
	`
	if _, err := c.db.NamedExecContext(ctx, query, action); err != nil {
		return nil, fmt.Errorf("failed to create admin action: %w", err)
	}
	return action, nil
}

func (c *sqliteClient) GetAdminActions(ctx context.Context, serverID, userID string) ([]*db.AdminAction, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var actions []*db.AdminAction
	err := c.db.SelectContext(ctx, &actions, `
		SELECT * FROM admin_actions
		WHERE server_id = ? AND user_id = ?
		ORDER BY action_at DESC
	`, serverID, userID)
	return actions, err
}
