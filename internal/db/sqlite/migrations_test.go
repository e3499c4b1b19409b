package sqlite

import (
	"context"
	"testing"
)

func TestVerificationEventsIndexesExistAfterMigrations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewSQLiteClient(t.TempDir(), "test.db")
	t.Cleanup(func() { _ = client.Close() })

	rows, err := client.db.QueryContext(ctx, "PRAGMA index_list('verification_events')")
	if err != nil {
		t.Fatalf("query index_list: %v", err)
	}
	defer rows.Close()

	type indexInfo struct {
		unique  int
		partial int
	}
	indexes := make(map[string]indexInfo)
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			t.Fatalf("scan index row: %v", err)
		}
		indexes[name] = indexInfo{unique: unique, partial: partial}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate index rows: %v", err)
	}

	info, ok := indexes["idx_verification_events_active"]
	if !ok {
		t.Fatalf("required index idx_verification_events_active not found in %v", indexes)
	}
	if info.unique != 1 {
		t.Fatal("active-case index must be unique")
	}
	if info.partial != 1 {
		t.Fatal("active-case index must be partial over pending rows")
	}
}

func TestDetectionEventsIndexExistsAfterMigrations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := NewSQLiteClient(t.TempDir(), "test.db")
	t.Cleanup(func() { _ = client.Close() })

	rows, err := client.db.QueryContext(ctx, "PRAGMA index_list('detection_events')")
	if err != nil {
		t.Fatalf("query index_list: %v", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			t.Fatalf("scan index row: %v", err)
		}
		if name == "idx_detection_events_server_user" {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate index rows: %v", err)
	}
	if !found {
		t.Fatal("required index idx_detection_events_server_user not found")
	}
}
