package database

import (
	"context"
	"fmt"
	"time"
)

// APIToken is a stored admin token. Only the bcrypt hash is persisted.
type APIToken struct {
	ID        string     `db:"id" json:"id"`
	Label     string     `db:"label" json:"label"`
	TokenHash string     `db:"token_hash" json:"-"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// InsertAPIToken stores a new token hash.
func (s *DB) InsertAPIToken(ctx context.Context, t APIToken) error {
	query := s.rebind(`
		INSERT INTO api_tokens (id, label, token_hash, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, t.ID, t.Label, t.TokenHash, t.CreatedAt); err != nil {
		return fmt.Errorf("insert api token %s: %w", t.ID, err)
	}
	return nil
}

// ActiveAPITokens lists tokens that have not been revoked.
func (s *DB) ActiveAPITokens(ctx context.Context) ([]APIToken, error) {
	var tokens []APIToken
	query := `SELECT id, label, token_hash, created_at, revoked_at FROM api_tokens WHERE revoked_at IS NULL`
	if err := s.db.SelectContext(ctx, &tokens, query); err != nil {
		return nil, fmt.Errorf("list api tokens: %w", err)
	}
	return tokens, nil
}

// RevokeAPIToken marks a token revoked; future auth checks skip it.
func (s *DB) RevokeAPIToken(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("revoke api token %s: %w", id, err)
	}
	return nil
}
