package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"sunset/internal/domain"
)

// EventRecord is the Parquet schema for an exported closure event.
type EventRecord struct {
	ID                     int64  `parquet:"id"`
	AccountID              string `parquet:"account_id"`
	ConfirmationNumber     string `parquet:"confirmation_number"`
	Status                 string `parquet:"status"`
	Step                   string `parquet:"step"`
	ProgressPct            int32  `parquet:"progress_pct"`
	Action                 string `parquet:"action"`
	Message                string `parquet:"message"`
	Error                  string `parquet:"error"`
	TransferRelationshipID string `parquet:"transfer_relationship_id"`
	EstimatedCompletion    int64  `parquet:"estimated_completion,timestamp(millisecond)"` // Unix ms, 0 if unknown
	CreatedAt              int64  `parquet:"created_at,timestamp(millisecond)"`           // Unix ms
}

// ExportParquet writes events to a Parquet file at path, creating parent
// directories as needed.
func ExportParquet(path string, events []domain.ClosureEvent) error {
	records := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		r := EventRecord{
			ID:                     ev.ID,
			AccountID:              ev.AccountID,
			ConfirmationNumber:     ev.ConfirmationNumber,
			Status:                 ev.Status,
			Step:                   string(ev.Step),
			ProgressPct:            int32(ev.ProgressPct),
			Action:                 ev.Action,
			Message:                ev.Message,
			Error:                  ev.Error,
			TransferRelationshipID: ev.TransferRelationshipID,
			CreatedAt:              ev.CreatedAt.UnixMilli(),
		}
		if ev.EstimatedCompletion != nil {
			r.EstimatedCompletion = ev.EstimatedCompletion.UnixMilli()
		}
		records = append(records, r)
	}
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("writing closure events to %s: %w", path, err)
	}
	return nil
}

// ReadParquet reads events previously written by ExportParquet.
func ReadParquet(path string) ([]domain.ClosureEvent, error) {
	records, err := readParquetFile[EventRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading closure events from %s: %w", path, err)
	}
	events := make([]domain.ClosureEvent, 0, len(records))
	for _, r := range records {
		ev := domain.ClosureEvent{
			ID:                     r.ID,
			AccountID:              r.AccountID,
			ConfirmationNumber:     r.ConfirmationNumber,
			Status:                 r.Status,
			Step:                   domain.ClosureStep(r.Step),
			ProgressPct:            int(r.ProgressPct),
			Action:                 r.Action,
			Message:                r.Message,
			Error:                  r.Error,
			TransferRelationshipID: r.TransferRelationshipID,
			CreatedAt:              time.UnixMilli(r.CreatedAt).UTC(),
		}
		if r.EstimatedCompletion != 0 {
			t := time.UnixMilli(r.EstimatedCompletion).UTC()
			ev.EstimatedCompletion = &t
		}
		events = append(events, ev)
	}
	return events, nil
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
