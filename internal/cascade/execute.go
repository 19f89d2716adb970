package cascade

import (
	"context"
	"fmt"

	"nestedgraph/internal/store"
)

// Execute applies the plan in order. The caller owns the transaction and
// must roll it back when Execute fails.
func Execute(ctx context.Context, writer store.Writer, plan *Plan) error {
	for _, s := range plan.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch s.kind {
		case stepReassign:
			if _, err := writer.Update(ctx, s.entity, s.id, map[string]any{s.field: s.value}); err != nil {
				return fmt.Errorf("reassign %s %v.%s: %w", s.entity.Name, s.id, s.field, err)
			}
		case stepDetach:
			if err := writer.SetMembership(ctx, s.entity, s.id, s.field, nil); err != nil {
				return fmt.Errorf("detach %s %v.%s: %w", s.entity.Name, s.id, s.field, err)
			}
		case stepDelete:
			if err := writer.Delete(ctx, s.entity, s.id); err != nil {
				return fmt.Errorf("delete %s %v: %w", s.entity.Name, s.id, err)
			}
		}
	}
	return nil
}
