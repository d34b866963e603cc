package common

import (
	"context"
	"strings"
)

// Module names recognised by the pause registry.
const (
	ModuleHTLC   = "htlc"
	ModuleRouter = "router"
)

type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrPaused when the module's circuit breaker is engaged. It
// must run before any other validation of a mutating call.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(strings.ToLower(module)) {
		return ErrPaused
	}
	return nil
}

type callGuardKey struct{}

// EnterCall marks the context as belonging to an in-flight settlement call
// owned by scope. A second EnterCall for the same scope on a derived context
// fails with ErrReentrant. The mark lives only as long as the returned
// context, so every exit path of the caller releases it.
func EnterCall(ctx context.Context, scope any) (context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if active, ok := ctx.Value(callGuardKey{}).([]any); ok {
		for _, s := range active {
			if s == scope {
				return ctx, ErrReentrant
			}
		}
		next := append(append([]any(nil), active...), scope)
		return context.WithValue(ctx, callGuardKey{}, next), nil
	}
	return context.WithValue(ctx, callGuardKey{}, []any{scope}), nil
}

// InCall reports whether ctx is derived from an in-flight call of scope.
func InCall(ctx context.Context, scope any) bool {
	if ctx == nil {
		return false
	}
	active, _ := ctx.Value(callGuardKey{}).([]any)
	for _, s := range active {
		if s == scope {
			return true
		}
	}
	return false
}
