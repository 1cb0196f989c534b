package workflow

import "context"

type leaseKey struct{}

// WithLease returns a context whose execution locks its run under token.
// The engine derives token from the job claim, so each delivery of a run
// job is a distinct lock owner.
func WithLease(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, leaseKey{}, token)
}

// LeaseFrom returns the lease token carried by ctx, if any.
func LeaseFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(leaseKey{}).(string)
	return token, ok && token != ""
}
