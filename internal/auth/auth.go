package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

// SettingsStore is the slice of the database the ops token needs.
type SettingsStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

const opsTokenKey = "ops_token_hash"

// HashToken hashes a bearer token using bcrypt with cost 12.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), 12)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken compares a presented bearer token against a bcrypt hash.
func VerifyToken(token, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}

// EnsureOpsToken makes sure an ops API token hash exists in settings. A
// non-empty override (DAYBOOK_OPS_TOKEN) always wins and is re-hashed on
// every boot. Otherwise a token is generated on first boot and printed to the
// log exactly once; only its hash is stored.
func EnsureOpsToken(store SettingsStore, override string) error {
	if override != "" {
		hash, err := HashToken(override)
		if err != nil {
			return err
		}
		if err := store.SetSetting(opsTokenKey, hash); err != nil {
			return fmt.Errorf("store ops token hash: %w", err)
		}
		slog.Info("Ops API token taken from environment")
		return nil
	}

	_, err := store.GetSetting(opsTokenKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read ops token hash: %w", err)
	}

	token, err := GenerateToken()
	if err != nil {
		return err
	}
	hash, err := HashToken(token)
	if err != nil {
		return err
	}
	if err := store.SetSetting(opsTokenKey, hash); err != nil {
		return fmt.Errorf("store ops token hash: %w", err)
	}
	slog.Info("Generated ops API token; it will not be shown again", "token", token)
	return nil
}

// VerifyOpsToken checks a presented token against the stored hash.
func VerifyOpsToken(store SettingsStore, token string) error {
	hash, err := store.GetSetting(opsTokenKey)
	if err != nil {
		return fmt.Errorf("no ops token configured: %w", err)
	}
	return VerifyToken(token, hash)
}
