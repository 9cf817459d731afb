package checkpoint

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer = otel.Tracer("checkpoint/orchestrator")

// Orchestrator is the read-only facade the chat pipeline consumes: "give
// me active checkpoints at position P for task T" (spec.md §4.8). It is
// the only entry point an external caller needs; the pipeline never
// touches Resolver/Lifecycle/stores directly.
type Orchestrator struct {
	resolver  *Resolver
	instances InstanceStore
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(resolver *Resolver, instances InstanceStore) *Orchestrator {
	return &Orchestrator{resolver: resolver, instances: instances}
}

// Resolve returns the checkpoint instances active at a pipeline
// position for a task, creating any missing ones.
func (o *Orchestrator) Resolve(ctx context.Context, taskID string, position PipelinePosition, mode string) ([]*Instance, error) {
	ctx, span := orchestratorTracer.Start(ctx, "checkpoint.Orchestrator.Resolve",
		trace.WithAttributes(
			attribute.String("checkpoint.task_id", taskID),
			attribute.String("checkpoint.position", string(position)),
			attribute.String("checkpoint.mode", mode),
		))
	defer span.End()
	return o.resolver.Resolve(ctx, taskID, position, mode)
}

// Get returns a single instance by id, scoped to the owning task.
func (o *Orchestrator) Get(ctx context.Context, taskID string, instanceID uint) (*Instance, error) {
	inst, err := o.instances.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.TaskID != taskID {
		return nil, ErrNotFound("instance")
	}
	return inst, nil
}

// HasPending gates pipeline progression: true iff any resolved
// instance for (task, position, mode) is not terminal.
func (o *Orchestrator) HasPending(ctx context.Context, taskID string, position PipelinePosition, mode string) (bool, error) {
	return o.resolver.HasPending(ctx, taskID, position, mode)
}
