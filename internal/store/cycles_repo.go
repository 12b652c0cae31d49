package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailpilot/internal/core"
)

// InsertCycle appends one cycle record to the history.
func (s *Store) InsertCycle(ctx context.Context, rec *core.CycleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var endedAt any
	if !rec.EndedAt.IsZero() {
		endedAt = rec.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	var errMsg any
	if rec.Error != "" {
		errMsg = rec.Error
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cycles (id, seq, started_at, ended_at, succeeded, error,
			window_start, window_end, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Seq, rec.StartedAt.UTC().Format(time.RFC3339Nano), endedAt,
		boolToInt(rec.Succeeded), errMsg,
		nullableTime(rec.WindowStart), nullableTime(rec.WindowEnd), nullableTime(rec.NextRunAt),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// ListCycles returns the most recent cycles, newest first.
func (s *Store) ListCycles(ctx context.Context, limit int) ([]*core.CycleRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, seq, started_at, ended_at, succeeded, error,
			window_start, window_end, next_run_at
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var recs []*core.CycleRecord
	for rows.Next() {
		rec, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanCycle(row rowScanner) (*core.CycleRecord, error) {
	var rec core.CycleRecord
	var startedAt string
	var endedAt, errMsg, windowStart, windowEnd, nextRunAt sql.NullString
	var succeeded int

	err := row.Scan(&rec.ID, &rec.Seq, &startedAt, &endedAt, &succeeded, &errMsg,
		&windowStart, &windowEnd, &nextRunAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}

	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		if rec.EndedAt, err = parseTime(endedAt.String); err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	rec.Succeeded = succeeded != 0
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	if rec.WindowStart, err = scanNullableTime(windowStart); err != nil {
		return nil, fmt.Errorf("parse window_start: %w", err)
	}
	if rec.WindowEnd, err = scanNullableTime(windowEnd); err != nil {
		return nil, fmt.Errorf("parse window_end: %w", err)
	}
	if rec.NextRunAt, err = scanNullableTime(nextRunAt); err != nil {
		return nil, fmt.Errorf("parse next_run_at: %w", err)
	}
	return &rec, nil
}
