package verification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/watchdogbot/watchdog/internal/db"
)

type lifecycleTestStore struct {
	events          map[string]*db.VerificationEvent
	createErr       error
	seq             int
	hideFirstActive bool
}

func newLifecycleTestStore() *lifecycleTestStore {
	return &lifecycleTestStore{events: map[string]*db.VerificationEvent{}}
}

func (s *lifecycleTestStore) CreateVerificationEvent(_ context.Context, event *db.VerificationEvent) (*db.VerificationEvent, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.seq++
	stored := *event
	stored.ID = fmt.Sprintf("case-%d", s.seq)
	stored.CreatedAt = time.Now()
	s.events[stored.ID] = &stored
	return &stored, nil
}

func (s *lifecycleTestStore) UpdateVerificationEvent(_ context.Context, event *db.VerificationEvent) error {
	if _, ok := s.events[event.ID]; !ok {
		return db.ErrNotFound
	}
	stored := *event
	s.events[event.ID] = &stored
	return nil
}

func (s *lifecycleTestStore) GetVerificationEvent(_ context.Context, id string) (*db.VerificationEvent, error) {
	event, ok := s.events[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	out := *event
	return &out, nil
}

func (s *lifecycleTestStore) GetActiveVerificationEvent(_ context.Context, serverID, userID string) (*db.VerificationEvent, error) {
	if s.hideFirstActive {
		s.hideFirstActive = false
		return nil, nil
	}
	for _, event := range s.events {
		if event.ServerID == serverID && event.UserID == userID && event.Status == db.VerificationPending {
			out := *event
			return &out, nil
		}
	}
	return nil, nil
}

func TestOpenRejectsDuplicatePendingCase(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	first, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if first.Status != db.VerificationPending {
		t.Fatalf("status = %s, want pending", first.Status)
	}

	if _, err := lifecycle.Open(ctx, "srv-1", "user-1", nil); !errors.Is(err, ErrCaseExists) {
		t.Fatalf("second open error = %v, want ErrCaseExists", err)
	}

	// A different user in the same server is unaffected.
	if _, err := lifecycle.Open(ctx, "srv-1", "user-2", nil); err != nil {
		t.Fatalf("open for other user: %v", err)
	}
}

func TestOpenSurfacesRaceWinner(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	// Simulate a concurrent writer slipping in between the existence check
	// and the insert: the insert fails on the unique index while an active
	// case is visible on re-read.
	store.events["case-raced"] = &db.VerificationEvent{
		ID:       "case-raced",
		ServerID: "srv-1",
		UserID:   "user-1",
		Status:   db.VerificationPending,
	}
	store.hideFirstActive = true
	store.createErr = fmt.Errorf("constraint failed: idx_verification_events_active")

	if _, err := lifecycle.Open(ctx, "srv-1", "user-1", nil); !errors.Is(err, ErrCaseExists) {
		t.Fatalf("open error = %v, want ErrCaseExists", err)
	}

	// With no winner visible the creation failure itself surfaces.
	store.events = map[string]*db.VerificationEvent{}
	if _, err := lifecycle.Open(ctx, "srv-1", "user-1", nil); err == nil || errors.Is(err, ErrCaseExists) {
		t.Fatalf("expected raw creation failure, got %v", err)
	}
}

func TestVerifyRequiresPendingCase(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	event, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := lifecycle.Verify(ctx, event, "mod-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if event.Status != db.VerificationVerified {
		t.Fatalf("status = %s, want verified", event.Status)
	}
	if event.ResolvedAt == nil || event.ResolvedBy == nil || *event.ResolvedBy != "mod-1" {
		t.Fatalf("expected resolution stamp, got %+v", event)
	}

	if err := lifecycle.Verify(ctx, event, "mod-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("re-verify error = %v, want ErrNotFound", err)
	}
	if err := lifecycle.Verify(ctx, nil, "mod-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("nil case error = %v, want ErrNotFound", err)
	}
}

func TestBanResolvesRegardlessOfState(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	event, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := lifecycle.Verify(ctx, event, "mod-1"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A verified case can still be banned.
	if err := lifecycle.Ban(ctx, event, "mod-2"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if event.Status != db.VerificationBanned {
		t.Fatalf("status = %s, want banned", event.Status)
	}
	if *event.ResolvedBy != "mod-2" {
		t.Fatalf("ResolvedBy = %s, want mod-2", *event.ResolvedBy)
	}

	if err := lifecycle.Ban(ctx, nil, "mod-2"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("nil case error = %v, want ErrNotFound", err)
	}
}

func TestReopenReturnsResolvedCaseToPending(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	event, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// Pending cases cannot be reopened.
	if err := lifecycle.Reopen(ctx, event, "mod-1"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("reopen pending error = %v, want ErrNotFound", err)
	}

	if err := lifecycle.Ban(ctx, event, "mod-1"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := lifecycle.Reopen(ctx, event, "mod-2"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if event.Status != db.VerificationPending {
		t.Fatalf("status = %s, want pending", event.Status)
	}
	if event.ResolvedAt != nil || event.ResolvedBy != nil {
		t.Fatalf("expected cleared resolution stamp, got %+v", event)
	}

	stored, err := store.GetVerificationEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != db.VerificationPending {
		t.Fatalf("stored status = %s, want pending", stored.Status)
	}
}

func TestReopenBlockedByAnotherActiveCase(t *testing.T) {
	t.Parallel()

	store := newLifecycleTestStore()
	lifecycle := NewLifecycle(store)
	ctx := context.Background()

	first, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := lifecycle.Ban(ctx, first, "mod-1"); err != nil {
		t.Fatalf("ban: %v", err)
	}

	second, err := lifecycle.Open(ctx, "srv-1", "user-1", nil)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a distinct second case")
	}

	if err := lifecycle.Reopen(ctx, first, "mod-1"); !errors.Is(err, ErrCaseExists) {
		t.Fatalf("reopen error = %v, want ErrCaseExists", err)
	}
}
