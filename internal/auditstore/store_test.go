package auditstore

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRecordAndListOrdersNewestFirst(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Record(ctx, RunRecord{RunID: "r1", Intent: "fix bug", Status: "completed", FinishedAtUnixMs: 100}); err != nil {
		t.Fatalf("Record r1: %v", err)
	}
	if err := s.Record(ctx, RunRecord{RunID: "r2", Intent: "add feature", Status: "failed", FinishedAtUnixMs: 200}); err != nil {
		t.Fatalf("Record r2: %v", err)
	}

	out, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out)=%d, want 2", len(out))
	}
	if out[0].RunID != "r2" {
		t.Fatalf("out[0].RunID=%q, want r2 (newest first)", out[0].RunID)
	}
}

func TestRecordUpsertsExistingRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Record(ctx, RunRecord{RunID: "r1", Status: "running", FinishedAtUnixMs: 100}); err != nil {
		t.Fatalf("Record initial: %v", err)
	}
	if err := s.Record(ctx, RunRecord{RunID: "r1", Status: "completed", FinishedAtUnixMs: 150}); err != nil {
		t.Fatalf("Record update: %v", err)
	}

	out, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out)=%d, want 1 (upsert, not insert)", len(out))
	}
	if out[0].Status != "completed" {
		t.Fatalf("Status=%q, want completed", out[0].Status)
	}
}

func TestListRejectsUninitializedStore(t *testing.T) {
	var s *Store
	if _, err := s.List(context.Background(), 10); err == nil {
		t.Fatalf("expected error on nil store")
	}
}
