package repositorysync

import "context"

type refreshContextKey struct{}

// WithRefresh marks reads made with ctx to bypass fresh local copies and go
// to the remote. The remote copy is still reconciled and written through.
func WithRefresh(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, refreshContextKey{}, true)
}

func refreshRequested(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	forced, _ := ctx.Value(refreshContextKey{}).(bool)
	return forced
}
