package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/iamwavecut/tool"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/watchdogbot/watchdog/internal/db"
	"github.com/watchdogbot/watchdog/resources"
)

type sqliteClient struct {
	db    *sqlx.DB
	mutex sync.RWMutex
}

func NewSQLiteClient(dir, dbName string) *sqliteClient {
	dbx, err := sqlx.Open("sqlite", filepath.Join(dir, dbName))
	if err != nil {
		log.WithError(err).Fatalln("cant open db")
	}
	dbx.SetMaxOpenConns(42)

	migrationsSource := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: resources.FS,
		Root:       "migrations",
	}
	n, err := migrate.Exec(dbx.DB, "sqlite3", migrationsSource, migrate.Up)
	if err != nil {
		log.WithError(err).Fatalln("migrate up failed")
	}
	if n > 0 {
		log.Infof("applied %d migrations", n)
	}

	return &sqliteClient{db: dbx}
}

func (c *sqliteClient) Close() error {
	return c.db.Close()
}

func (c *sqliteClient) UpsertServer(ctx context.Context, server *db.Server) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO servers (id, title, created_at)
		VALUES (:id, :title, :created_at)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, server))
}

func (c *sqliteClient) GetServer(ctx context.Context, id string) (*db.Server, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	server := &db.Server{}
	err := c.db.GetContext(ctx, server, `SELECT * FROM servers WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return server, nil
}

func (c *sqliteClient) UpsertUser(ctx context.Context, user *db.User) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO users (id, username, created_at)
		VALUES (:id, :username, :created_at)
		ON CONFLICT(id) DO UPDATE SET username=excluded.username
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, user))
}

func (c *sqliteClient) GetUser(ctx context.Context, id string) (*db.User, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	user := &db.User{}
	err := c.db.GetContext(ctx, user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (c *sqliteClient) GetServerConfig(ctx context.Context, serverID string) (*db.ServerConfig, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	cfg := &db.ServerConfig{}
	err := c.db.GetContext(ctx, cfg, `SELECT * FROM server_configs WHERE server_id = ?`, serverID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return cfg, nil
}

func (c *sqliteClient) SetServerConfig(ctx context.Context, cfg *db.ServerConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO server_configs (server_id, message_threshold, timeframe_seconds,
			suspicious_keywords, min_confidence_threshold, auto_restrict)
		VALUES (:server_id, :message_threshold, :timeframe_seconds,
			:suspicious_keywords, :min_confidence_threshold, :auto_restrict)
		ON CONFLICT(server_id) DO UPDATE SET
		message_threshold=excluded.message_threshold,
		timeframe_seconds=excluded.timeframe_seconds,
		suspicious_keywords=excluded.suspicious_keywords,
		min_confidence_threshold=excluded.min_confidence_threshold,
		auto_restrict=excluded.auto_restrict
	`
	return tool.Err(c.db.NamedExecContext(ctx, query, cfg))
}

func (c *sqliteClient) GetKV(ctx context.Context, key string) (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var value string
	err := c.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

func (c *sqliteClient) SetKV(ctx context.Context, key, value string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`
	_, err := c.db.ExecContext(ctx, query, key, value)
	return err
}
