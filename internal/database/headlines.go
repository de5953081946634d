package database

import (
	"fmt"
	"time"

	"github.com/thinkscotty/daybook/internal/models"
)

func (db *DB) SaveHeadlines(headlines []models.Headline) error {
	stmt, err := db.conn.Prepare(`INSERT INTO seen_headlines (title, trigrams) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, h := range headlines {
		if _, err := stmt.Exec(h.Title, h.Trigrams); err != nil {
			return fmt.Errorf("insert headline %q: %w", h.Title, err)
		}
	}
	return nil
}

func (db *DB) RecentHeadlines(since time.Time) ([]models.Headline, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, trigrams, created_at
		FROM seen_headlines WHERE created_at >= ?
		ORDER BY created_at DESC`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var headlines []models.Headline
	for rows.Next() {
		var h models.Headline
		var createdAt string
		if err := rows.Scan(&h.ID, &h.Title, &h.Trigrams, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt, _ = parseTime(createdAt)
		headlines = append(headlines, h)
	}
	return headlines, rows.Err()
}

func (db *DB) PruneHeadlines(keepDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	result, err := db.conn.Exec(`DELETE FROM seen_headlines WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
