package database

import (
	"github.com/thinkscotty/daybook/internal/models"
)

func (db *DB) SaveToken(t models.Token) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO oauth_tokens (key, access_token, token_type, expires_at, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))`,
		t.Key, t.AccessToken, t.TokenType, formatTime(t.ExpiresAt))
	return err
}

func (db *DB) GetToken(key string) (models.Token, error) {
	var t models.Token
	var expiresAt, updatedAt string
	err := db.conn.QueryRow(`
		SELECT key, access_token, token_type, expires_at, updated_at
		FROM oauth_tokens WHERE key = ?`, key).Scan(
		&t.Key, &t.AccessToken, &t.TokenType, &expiresAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.ExpiresAt, _ = parseTime(expiresAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return t, nil
}
