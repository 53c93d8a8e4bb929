package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"raidline/internal/domain"
)

// HashToken returns a stable SHA-256 hex digest for the provided token.
// Only hashes are stored at rest.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// InsertToken stores a hashed API token. TokenHash must already contain the
// hashed value.
func (r Repo) InsertToken(ctx context.Context, token domain.APIToken) error {
	if token.ID == "" {
		return errors.New("id required")
	}
	if token.ActorID == "" {
		return errors.New("actor_id required")
	}
	if token.TokenHash == "" {
		return errors.New("token_hash required")
	}
	if token.CreatedAt == "" {
		token.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_tokens(id, actor_id, note, token_hash, created_at) VALUES (?,?,?,?,?)`,
		token.ID, token.ActorID, nullable(token.Note), token.TokenHash, token.CreatedAt)
	return err
}

// GetTokenByHash returns an API token by its hashed value.
func (r Repo) GetTokenByHash(ctx context.Context, hash string) (domain.APIToken, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, actor_id, COALESCE(note,''), token_hash, created_at FROM api_tokens WHERE token_hash=? LIMIT 1`, hash)
	var token domain.APIToken
	err := row.Scan(&token.ID, &token.ActorID, &token.Note, &token.TokenHash, &token.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIToken{}, ErrNotFound
	}
	return token, err
}

// ListTokens returns the actor's tokens, newest first.
func (r Repo) ListTokens(ctx context.Context, actorID string) ([]domain.APIToken, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, actor_id, COALESCE(note,''), token_hash, created_at FROM api_tokens WHERE actor_id=? ORDER BY created_at DESC, id DESC`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIToken
	for rows.Next() {
		var token domain.APIToken
		if err := rows.Scan(&token.ID, &token.ActorID, &token.Note, &token.TokenHash, &token.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, token)
	}
	return res, nil
}

// DeleteToken revokes one of the actor's tokens.
func (r Repo) DeleteToken(ctx context.Context, actorID, tokenID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_tokens WHERE id=? AND actor_id=?`, tokenID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
