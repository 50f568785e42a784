package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sunset/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteAppendAndLatest(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if _, err := s.LatestClosureEvent(ctx, "acct-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LatestClosureEvent() on empty store error = %v, want ErrNotFound", err)
	}

	eta := time.Date(2026, 10, 23, 20, 0, 0, 0, time.UTC)
	first := &domain.ClosureEvent{
		AccountID:              "acct-1",
		ConfirmationNumber:     "CL-20261017-ABCDEF12",
		Status:                 domain.ProcessInProgress,
		Step:                   domain.StepInitiated,
		TransferRelationshipID: "rel-1",
		EstimatedCompletion:    &eta,
	}
	if err := s.AppendClosureEvent(ctx, first); err != nil {
		t.Fatalf("AppendClosureEvent() error = %v", err)
	}
	if first.ID == 0 {
		t.Error("AppendClosureEvent() did not set ID")
	}
	if first.CreatedAt.IsZero() {
		t.Error("AppendClosureEvent() did not set CreatedAt")
	}

	second := &domain.ClosureEvent{
		AccountID:   "acct-1",
		Status:      domain.ProcessInProgress,
		Step:        domain.StepLiquidatingPositions,
		ProgressPct: 25,
		Action:      domain.ActionLiquidatedPositions,
	}
	if err := s.AppendClosureEvent(ctx, second); err != nil {
		t.Fatalf("AppendClosureEvent() error = %v", err)
	}

	got, err := s.LatestClosureEvent(ctx, "acct-1")
	if err != nil {
		t.Fatalf("LatestClosureEvent() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("LatestClosureEvent().ID = %d, want %d", got.ID, second.ID)
	}
	if got.Step != domain.StepLiquidatingPositions {
		t.Errorf("LatestClosureEvent().Step = %s, want %s", got.Step, domain.StepLiquidatingPositions)
	}
	if got.EstimatedCompletion != nil {
		t.Errorf("LatestClosureEvent().EstimatedCompletion = %v, want nil", got.EstimatedCompletion)
	}

	events, err := s.ListClosureEvents(ctx, "acct-1", 0)
	if err != nil {
		t.Fatalf("ListClosureEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("ListClosureEvents() returned %d events, want 2", len(events))
	}
	if events[0].ConfirmationNumber != "CL-20261017-ABCDEF12" {
		t.Errorf("events[0].ConfirmationNumber = %q", events[0].ConfirmationNumber)
	}
	if events[0].EstimatedCompletion == nil || !events[0].EstimatedCompletion.Equal(eta) {
		t.Errorf("events[0].EstimatedCompletion = %v, want %v", events[0].EstimatedCompletion, eta)
	}

	limited, err := s.ListClosureEvents(ctx, "acct-1", 1)
	if err != nil {
		t.Fatalf("ListClosureEvents(limit=1) error = %v", err)
	}
	if len(limited) != 1 || limited[0].ID != second.ID {
		t.Errorf("ListClosureEvents(limit=1) = %+v, want the newest event", limited)
	}
}

func TestSQLiteListActiveClosures(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	add := func(account, confirmation, status string, step domain.ClosureStep) {
		t.Helper()
		ev := &domain.ClosureEvent{AccountID: account, ConfirmationNumber: confirmation, Status: status, Step: step}
		if err := s.AppendClosureEvent(ctx, ev); err != nil {
			t.Fatalf("AppendClosureEvent() error = %v", err)
		}
	}
	add("a", "CL-A", domain.ProcessInProgress, domain.StepInitiated)
	add("b", "CL-B", domain.ProcessInProgress, domain.StepInitiated)
	add("b", "CL-B", domain.ProcessCompleted, domain.StepCompleted)
	add("c", "CL-C", domain.ProcessFailed, domain.StepFailed)
	add("c", "CL-C", domain.ProcessInProgress, domain.StepLiquidatingPositions)
	// Never confirmed, so never active.
	add("d", "", domain.ProcessInProgress, domain.StepLiquidatingPositions)

	active, err := s.ListActiveClosures(ctx)
	if err != nil {
		t.Fatalf("ListActiveClosures() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActiveClosures() returned %d, want 2: %+v", len(active), active)
	}
	if active[0].AccountID != "a" || active[1].AccountID != "c" {
		t.Errorf("ListActiveClosures() accounts = %s,%s, want a,c", active[0].AccountID, active[1].AccountID)
	}
	if active[1].Step != domain.StepLiquidatingPositions {
		t.Errorf("active[1].Step = %s, want latest step", active[1].Step)
	}
}

func TestParquetExportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export", "acct-1.parquet")
	eta := time.Date(2026, 10, 23, 20, 0, 0, 0, time.UTC)
	events := []domain.ClosureEvent{
		{
			ID:                  1,
			AccountID:           "acct-1",
			ConfirmationNumber:  "CL-20261017-ABCDEF12",
			Status:              domain.ProcessInProgress,
			Step:                domain.StepLiquidatingPositions,
			ProgressPct:         25,
			EstimatedCompletion: &eta,
			CreatedAt:           time.Date(2026, 10, 17, 14, 0, 0, 0, time.UTC),
		},
		{
			ID:        2,
			AccountID: "acct-1",
			Status:    domain.ProcessFailed,
			Step:      domain.StepFailed,
			Error:     "transfers blocked",
			CreatedAt: time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC),
		},
	}

	if err := ExportParquet(path, events); err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	got, err := ReadParquet(path)
	if err != nil {
		t.Fatalf("ReadParquet() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadParquet() returned %d events, want 2", len(got))
	}
	if got[0].ProgressPct != 25 || got[0].Step != domain.StepLiquidatingPositions {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[0].EstimatedCompletion == nil || !got[0].EstimatedCompletion.Equal(eta) {
		t.Errorf("got[0].EstimatedCompletion = %v, want %v", got[0].EstimatedCompletion, eta)
	}
	if got[1].EstimatedCompletion != nil {
		t.Errorf("got[1].EstimatedCompletion = %v, want nil", got[1].EstimatedCompletion)
	}
	if !got[1].CreatedAt.Equal(events[1].CreatedAt) {
		t.Errorf("got[1].CreatedAt = %v, want %v", got[1].CreatedAt, events[1].CreatedAt)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.db")
	s, err := Open(ctx, "sqlite", path, PostgresConfig{})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("Open(sqlite) = %T, want *SQLiteStore", s)
	}

	if _, err := Open(ctx, "mysql", path, PostgresConfig{}); err == nil {
		t.Error("Open(mysql) error = nil, want error")
	}
}
