package leads

import "context"

// Repo persists leads. Upsert is keyed by (account, business context,
// subject) and must be safe to re-run on retry.
type Repo interface {
	Upsert(ctx context.Context, lead Lead) (leadID string, err error)
}
