package krisha

import "context"

type stopKey struct{}

// Detach returns a context that is never cancelled but remembers ctx.
// A request made with it runs to completion after an interrupt, while
// RetryingFetcher still stops scheduling further attempts once ctx is done.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), stopKey{}, ctx)
}

// stopContext returns the context a Detach call remembered, or ctx itself.
func stopContext(ctx context.Context) context.Context {
	if parent, ok := ctx.Value(stopKey{}).(context.Context); ok {
		return parent
	}
	return ctx
}
