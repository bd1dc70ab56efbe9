package bizctx

import "context"

// Repo looks up business contexts. Context CRUD is owned by another service;
// the pipeline only reads.
type Repo interface {
	FindByID(ctx context.Context, id string) (Context, error)
}
