package job

import (
	"context"
	"time"

	"github.com/orquesta/orquesta/id"
)

// Claim is one dequeue of a job by a worker. A job that is snoozed, retried
// or reaped is claimed again under a new Token, so two deliveries of the
// same job never share one.
type Claim struct {
	JobID     id.JobID
	WorkerID  id.WorkerID
	Token     string
	ClaimedAt time.Time
}

type claimKey struct{}

// WithClaim returns a context carrying c to the job handler.
func WithClaim(ctx context.Context, c Claim) context.Context {
	return context.WithValue(ctx, claimKey{}, c)
}

// ClaimFrom returns the claim the handler is executing under.
func ClaimFrom(ctx context.Context) (Claim, bool) {
	c, ok := ctx.Value(claimKey{}).(Claim)
	return c, ok
}
