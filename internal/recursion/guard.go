// Package recursion tracks the entity types on the active path of a nested
// mutation and rejects cycles and runaway depth.
package recursion

import (
	"strings"

	"nestedgraph/internal/mutationerr"
)

// DefaultMaxDepth bounds nesting when no limit is configured.
const DefaultMaxDepth = 10

// Guard is scoped to a single top-level operation and is not safe for
// concurrent use.
type Guard struct {
	maxDepth int
	path     []string
	active   map[string]int
}

// NewGuard returns a guard enforcing maxDepth. Non-positive values use DefaultMaxDepth.
func NewGuard(maxDepth int) *Guard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Guard{maxDepth: maxDepth, active: make(map[string]int)}
}

// Enter pushes entityType onto the active path. It fails with
// CircularReference when the type is already active and with DepthExceeded
// when the path would grow past the limit. A failed Enter leaves the path
// unchanged and must not be paired with Exit.
func (g *Guard) Enter(entityType string) error {
	if g.active[entityType] > 0 {
		return mutationerr.New(mutationerr.CircularReference, entityType, "",
			"%s re-entered via %s", entityType, strings.Join(append(g.Path(), entityType), " -> "))
	}
	if len(g.path)+1 > g.maxDepth {
		return mutationerr.New(mutationerr.DepthExceeded, entityType, "",
			"nesting depth exceeds %d", g.maxDepth)
	}
	g.path = append(g.path, entityType)
	g.active[entityType]++
	return nil
}

// Exit pops entityType from the active path.
func (g *Guard) Exit(entityType string) {
	n := len(g.path)
	if n == 0 || g.path[n-1] != entityType {
		return
	}
	g.path = g.path[:n-1]
	g.active[entityType]--
	if g.active[entityType] <= 0 {
		delete(g.active, entityType)
	}
}

// Depth returns the number of active entries.
func (g *Guard) Depth() int {
	return len(g.path)
}

// Path returns a copy of the active path, outermost first.
func (g *Guard) Path() []string {
	return append([]string(nil), g.path...)
}

// MaxDepth returns the configured limit.
func (g *Guard) MaxDepth() int {
	return g.maxDepth
}
