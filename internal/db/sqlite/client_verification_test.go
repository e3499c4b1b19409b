package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/watchdogbot/watchdog/internal/db"
)

func TestActiveCaseUniquenessEnforcedByIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewSQLiteClient(t.TempDir(), "test.db")
	t.Cleanup(func() { _ = client.Close() })

	first, err := client.CreateVerificationEvent(ctx, &db.VerificationEvent{
		ServerID: "srv-1",
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("create first case: %v", err)
	}
	if first.Status != db.VerificationPending {
		t.Fatalf("status = %s, want pending default", first.Status)
	}

	if _, err := client.CreateVerificationEvent(ctx, &db.VerificationEvent{
		ServerID: "srv-1",
		UserID:   "user-1",
	}); err == nil {
		t.Fatal("expected unique index violation for second pending case")
	}

	// Resolving the first case frees the slot.
	first.Status = db.VerificationVerified
	if err := client.UpdateVerificationEvent(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := client.CreateVerificationEvent(ctx, &db.VerificationEvent{
		ServerID: "srv-1",
		UserID:   "user-1",
	}); err != nil {
		t.Fatalf("create after resolution: %v", err)
	}
}

func TestGetActiveVerificationEvent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewSQLiteClient(t.TempDir(), "test.db")
	t.Cleanup(func() { _ = client.Close() })

	active, err := client.GetActiveVerificationEvent(ctx, "srv-1", "user-1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active case, got %+v", active)
	}

	created, err := client.CreateVerificationEvent(ctx, &db.VerificationEvent{
		ServerID: "srv-1",
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err = client.GetActiveVerificationEvent(ctx, "srv-1", "user-1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatalf("expected case %s, got %+v", created.ID, active)
	}

	created.Status = db.VerificationBanned
	if err := client.UpdateVerificationEvent(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	active, err = client.GetActiveVerificationEvent(ctx, "srv-1", "user-1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatalf("resolved case must not be active, got %+v", active)
	}
}

func TestUpdateVerificationEventMissingRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewSQLiteClient(t.TempDir(), "test.db")
	t.Cleanup(func() { _ = client.Close() })

	err := client.UpdateVerificationEvent(ctx, &db.VerificationEvent{
		ID:       "does-not-exist",
		ServerID: "srv-1",
		UserID:   "user-1",
		Status:   db.VerificationVerified,
		Metadata: db.Dict{},
	})
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
