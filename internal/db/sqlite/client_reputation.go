package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/watchdogbot/watchdog/internal/db"
)

func (c *sqliteClient) GetReputation(ctx context.Context, scope, serverID, userID string) (*db.ReputationScore, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	score := &db.ReputationScore{}
	err := c.db.GetContext(ctx, score, `
		SELECT * FROM reputation_scores
		WHERE scope = ? AND server_id = ? AND user_id = ?
	`, scope, serverID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return score, nil
}

func (c *sqliteClient) SetReputation(ctx context.Context, score *db.ReputationScore) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	score.UpdatedAt = time.Now()
	query := `
		INSERT INTO reputation_scores (scope, server_id, user_id, score, updated_at)
		VALUES (:scope, :server_id, :user_id, :score, :updated_at)
		ON CONFLICT(scope, server_id, user_id) DO UPDATE SET
		score=excluded.score,
		updated_at=excluded.updated_at
	`
	_, err := c.db.NamedExecContext(ctx, query, score)
	return err
}

func (c *sqliteClient) GetUserServerScores(ctx context.Context, userID string) ([]float64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var scores []float64
	err := c.db.SelectContext(ctx, &scores, `
		SELECT score FROM reputation_scores
		WHERE scope = ? AND user_id = ?
	`, db.ReputationScopeServer, userID)
	return scores, err
}
