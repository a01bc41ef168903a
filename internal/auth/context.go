package auth

import (
	"context"
	"errors"
)

var ErrNoService = errors.New("auth: no calling service in context")

type ctxKey int

const ctxService ctxKey = iota

// WithService records the service that presented the request's token.
func WithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxService, service)
}

func Service(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxService).(string); ok && s != "" {
		return s, nil
	}
	return "", ErrNoService
}
