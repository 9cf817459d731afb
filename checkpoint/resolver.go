package checkpoint

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var resolverTracer = otel.Tracer("checkpoint/resolver")

// Resolver decides which checkpoint instances surface at a pipeline
// position for a task, given its mode (spec.md §4.5).
type Resolver struct {
	definitions DefinitionStore
	instances   InstanceStore
	breaker     FailureTracker
	logger      *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(definitions DefinitionStore, instances InstanceStore, breaker FailureTracker, logger *zap.Logger) *Resolver {
	return &Resolver{
		definitions: definitions,
		instances:   instances,
		breaker:     breaker,
		logger:      logger.With(zap.String("component", "resolver")),
	}
}

// Resolve loads the enabled, mode-applicable, non-tripped definitions
// at a position, creates or reuses their per-task instances, and
// returns them in stable (sort_order asc, created_at asc) order.
func (r *Resolver) Resolve(ctx context.Context, taskID string, position PipelinePosition, mode string) ([]*Instance, error) {
	ctx, span := resolverTracer.Start(ctx, "checkpoint.Resolver.Resolve",
		trace.WithAttributes())
	defer span.End()

	defs, err := r.definitions.ListForPosition(ctx, position)
	if err != nil {
		return nil, err
	}

	instances := make([]*Instance, 0, len(defs))
	for _, def := range defs {
		if !def.MatchesMode(mode) {
			continue
		}
		if r.breaker.IsTripped(def.ID) {
			continue
		}

		inst, err := r.resolveInstance(ctx, taskID, def)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	return instances, nil
}

func (r *Resolver) resolveInstance(ctx context.Context, taskID string, def *Definition) (*Instance, error) {
	inst, err := r.instances.Find(ctx, taskID, def.ID)
	if err == nil {
		// Existing row: terminal instances are returned as-is; failed
		// or timed-out instances under budget are left unchanged (the
		// Lifecycle Controller performs the explicit retry). Both cases
		// mean "return the row unchanged".
		return inst, nil
	}
	if !IsCode(err, ErrCodeNotFound) {
		return nil, err
	}

	created, err := r.instances.Create(ctx, taskID, def, nil)
	if err != nil {
		return nil, err
	}
	if created.State != StatePending {
		// Lost the create race; the winner's row is whatever state it's
		// already in.
		return created, nil
	}

	now := clockNow()
	offered, err := r.instances.Transition(ctx, created.ID, func(i *Instance) error {
		i.State = StateOffered
		i.OfferedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offered, nil
}

// HasPending reports whether any resolved instance for (task, position,
// mode) is not in a terminal state. The orchestrator uses this to gate
// pipeline progression on required checkpoints.
func (r *Resolver) HasPending(ctx context.Context, taskID string, position PipelinePosition, mode string) (bool, error) {
	instances, err := r.Resolve(ctx, taskID, position, mode)
	if err != nil {
		return false, err
	}
	for _, inst := range instances {
		if !inst.State.Terminal() {
			return true, nil
		}
	}
	return false, nil
}
