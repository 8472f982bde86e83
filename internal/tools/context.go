package tools

import (
	"context"

	"github.com/nextlevelbuilder/taskbridge/internal/store"
)

type ctxKey int

const actorKey ctxKey = iota

// Actor identifies the platform user on whose behalf tools execute, with
// their resolved capabilities. Tools enforce the same capability gates as the
// direct command path.
type Actor struct {
	OpenID string
	Name   string
	Caps   store.CapabilitySet
}

// WithActor attaches the invoking user to the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom extracts the invoking user, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
