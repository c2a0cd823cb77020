package sessions

import "context"

// Repo persists session snapshots.
type Repo interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}
