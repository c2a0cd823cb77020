package export

import (
	"context"
	"database/sql"
)

// PGLedger indexes exports in the exports table.
type PGLedger struct {
	DB *sql.DB
}

// Record inserts one receipt.
func (l *PGLedger) Record(ctx context.Context, ownerID string, rec Receipt) error {
	const query = `
INSERT INTO exports (
    id,
    session_id,
    owner_id,
    platform,
    variation_id,
    version,
    is_placeholder,
    storage_prefix,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := l.DB.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.SessionID,
		ownerID,
		rec.Platform,
		rec.VariationID,
		rec.Version,
		rec.IsPlaceholder,
		rec.Prefix,
		rec.CreatedAt,
	)
	return err
}

// ListBySession returns the receipts for a session, newest first.
func (l *PGLedger) ListBySession(ctx context.Context, sessionID string) ([]Receipt, error) {
	const query = `
SELECT id, session_id, platform, variation_id, version, is_placeholder, storage_prefix, created_at
FROM exports
WHERE session_id = $1
ORDER BY created_at DESC`

	rows, err := l.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var rec Receipt
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Platform, &rec.VariationID, &rec.Version, &rec.IsPlaceholder, &rec.Prefix, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ Ledger = (*PGLedger)(nil)
