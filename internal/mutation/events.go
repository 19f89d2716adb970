package mutation

import "context"

// Op is the kind of write reported to observers.
type Op string

const (
	OpCreated Op = "create"
	OpUpdated Op = "update"
	OpDeleted Op = "delete"
)

// Event reports one committed write.
type Event struct {
	EntityType string
	ID         any
	Op         Op
}

// Observer is notified after a top-level operation commits. It is never
// called for rolled back work.
type Observer interface {
	EntityMutated(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// EntityMutated calls f.
func (f ObserverFunc) EntityMutated(ctx context.Context, event Event) {
	f(ctx, event)
}
