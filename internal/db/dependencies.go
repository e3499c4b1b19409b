package db

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type Client interface {
	Close() error

	UpsertServer(ctx context.Context, server *Server) error
	GetServer(ctx context.Context, id string) (*Server, error)
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	GetServerConfig(ctx context.Context, serverID string) (*ServerConfig, error)
	SetServerConfig(ctx context.Context, cfg *ServerConfig) error

	CreateDetectionEvent(ctx context.Context, event *DetectionEvent) (*DetectionEvent, error)
	GetRecentDetectionEvents(ctx context.Context, serverID, userID string, limit int) ([]*DetectionEvent, error)
	LinkDetectionEvent(ctx context.Context, detectionEventID, verificationEventID string) error
	StampAdminResolution(ctx context.Context, detectionEventID, resolution string) error
	DeleteDetectionEventsOlderThan(ctx context.Context, days int) (int64, error)

	CreateVerificationEvent(ctx context.Context, event *VerificationEvent) (*VerificationEvent, error)
	UpdateVerificationEvent(ctx context.Context, event *VerificationEvent) error
	GetVerificationEvent(ctx context.Context, id string) (*VerificationEvent, error)
	GetActiveVerificationEvent(ctx context.Context, serverID, userID string) (*VerificationEvent, error)

	CreateAdminAction(ctx context.Context, action *AdminAction) (*AdminAction, error)
	GetAdminActions(ctx context.Context, serverID, userID string) ([]*AdminAction, error)

	GetReputation(ctx context.Context, scope, serverID, userID string) (*ReputationScore, error)
	SetReputation(ctx context.Context, score *ReputationScore) error
	GetUserServerScores(ctx context.Context, userID string) ([]float64, error)

	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}
