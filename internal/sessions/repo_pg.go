package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"brandpost-backend/internal/shared/errs"
)

// PGRepo implements Repo using Postgres with the state stored as JSONB.
type PGRepo struct {
	DB  *sql.DB
	TTL time.Duration
}

// Get returns the session unless it is missing or expired.
func (r *PGRepo) Get(ctx context.Context, id string) (Session, error) {
	const query = `
SELECT state
FROM sessions
WHERE id = $1 AND (expires_at IS NULL OR expires_at > NOW())`

	var raw []byte
	if err := r.DB.QueryRowContext(ctx, query, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, errs.ErrNotFound
		}
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

// Save upserts the session snapshot and slides its expiry.
func (r *PGRepo) Save(ctx context.Context, s Session) error {
	const query = `
INSERT INTO sessions (
    id,
    owner_id,
    state,
    created_at,
    updated_at,
    expires_at
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at`

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}

	var expiresAt sql.NullTime
	if r.TTL > 0 {
		expiresAt = sql.NullTime{Time: s.UpdatedAt.Add(r.TTL), Valid: true}
	}

	_, err = r.DB.ExecContext(ctx, query, s.ID, s.OwnerID, raw, s.CreatedAt, s.UpdatedAt, expiresAt)
	return err
}

// Delete removes a session.
func (r *PGRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

var _ Repo = (*PGRepo)(nil)
