package database

import (
	"database/sql"
	"fmt"

	"github.com/thinkscotty/daybook/internal/models"
)

func (db *DB) CreateRun(rec *models.RunRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO run_records (id, kind, trigger_kind, started_at, outcome)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Kind, rec.Trigger, formatTime(rec.StartedAt), models.OutcomeRunning)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (db *DB) FinishRun(rec *models.RunRecord) error {
	if rec.FinishedAt == nil {
		return fmt.Errorf("finish run %s: no finished_at", rec.ID)
	}
	_, err := db.conn.Exec(`
		UPDATE run_records
		SET finished_at = ?, outcome = ?, provider_used = ?, provider_name = ?,
		    degraded = ?, delivery_attempts = ?, source_summary = ?, error = ?
		WHERE id = ?`,
		formatTime(*rec.FinishedAt), rec.Outcome, rec.ProviderUsed, rec.ProviderName,
		boolToInt(rec.Degraded), rec.DeliveryAttempts, rec.SourceSummary, rec.Error,
		rec.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rec.ID, err)
	}
	return nil
}

func (db *DB) GetRun(id string) (models.RunRecord, error) {
	row := db.conn.QueryRow(`
		SELECT id, kind, trigger_kind, started_at, finished_at, outcome,
		       provider_used, provider_name, degraded, delivery_attempts,
		       source_summary, error, created_at
		FROM run_records WHERE id = ?`, id)
	return scanRun(row)
}

func (db *DB) RecentRuns(limit int) ([]models.RunRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, trigger_kind, started_at, finished_at, outcome,
		       provider_used, provider_name, degraded, delivery_attempts,
		       source_summary, error, created_at
		FROM run_records
		ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (db *DB) LastRunByKind(kind models.RunKind) (models.RunRecord, error) {
	row := db.conn.QueryRow(`
		SELECT id, kind, trigger_kind, started_at, finished_at, outcome,
		       provider_used, provider_name, degraded, delivery_attempts,
		       source_summary, error, created_at
		FROM run_records WHERE kind = ?
		ORDER BY started_at DESC LIMIT 1`, kind)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.RunRecord, error) {
	var rec models.RunRecord
	var startedAt, createdAt string
	var finishedAt sql.NullString
	var degraded int
	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.Trigger, &startedAt, &finishedAt, &rec.Outcome,
		&rec.ProviderUsed, &rec.ProviderName, &degraded, &rec.DeliveryAttempts,
		&rec.SourceSummary, &rec.Error, &createdAt)
	if err != nil {
		return rec, err
	}
	rec.Degraded = degraded != 0
	rec.StartedAt, _ = parseTime(startedAt)
	rec.CreatedAt, _ = parseTime(createdAt)
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err == nil {
			rec.FinishedAt = &t
		}
	}
	return rec, nil
}
