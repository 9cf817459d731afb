package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceStore persists CheckpointInstance rows and their transitions.
// (task_id, definition_id) is unique: create is idempotent under that
// constraint.
type InstanceStore interface {
	Find(ctx context.Context, taskID string, definitionID uint) (*Instance, error)
	Create(ctx context.Context, taskID string, def *Definition, payload map[string]any) (*Instance, error)
	Transition(ctx context.Context, instanceID uint, apply func(*Instance) error) (*Instance, error)
	ListForTask(ctx context.Context, taskID string, position *PipelinePosition) ([]*Instance, error)
	Get(ctx context.Context, instanceID uint) (*Instance, error)
	CountRecentFailures(ctx context.Context, definitionID uint, since time.Time) (int, error)
}

type gormInstanceStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewInstanceStore returns a GORM-backed InstanceStore.
func NewInstanceStore(db *gorm.DB, logger *zap.Logger) InstanceStore {
	return &gormInstanceStore{db: db, logger: logger.With(zap.String("component", "instance_store"))}
}

func (s *gormInstanceStore) Find(ctx context.Context, taskID string, definitionID uint) (*Instance, error) {
	var inst Instance
	err := s.db.WithContext(ctx).
		Where("task_id = ? AND definition_id = ?", taskID, definitionID).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound("instance")
	}
	if err != nil {
		return nil, NewError(ErrCodeInternal, "find instance").WithCause(err)
	}
	return &inst, nil
}

// Create is idempotent under the (task_id, definition_id) unique index:
// concurrent creates yield exactly one row via ON CONFLICT DO NOTHING;
// the loser re-reads the winner's row (spec.md §4.3, §5).
func (s *gormInstanceStore) Create(ctx context.Context, taskID string, def *Definition, payload map[string]any) (*Instance, error) {
	now := time.Now()
	inst := &Instance{
		TaskID:       taskID,
		DefinitionID: def.ID,
		ControlType:  def.ControlType,
		FieldSchema:  NewJSONColumn(append([]FieldDescriptor(nil), def.FieldSchema.Val...)),
		State:        StatePending,
		Payload:      NewJSONColumn(payload),
		SubmitResult: NewJSONColumn[map[string]any](nil),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "definition_id"}},
			DoNothing: true,
		}).
		Create(inst).Error
	if err != nil {
		return nil, NewError(ErrCodeInternal, "create instance").WithCause(err)
	}

	if inst.ID != 0 {
		return inst, nil
	}

	// Lost the race: another request created the row first. Re-read it.
	return s.Find(ctx, taskID, def.ID)
}

func (s *gormInstanceStore) Get(ctx context.Context, instanceID uint) (*Instance, error) {
	var inst Instance
	err := s.db.WithContext(ctx).First(&inst, instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound("instance")
	}
	if err != nil {
		return nil, NewError(ErrCodeInternal, "get instance").WithCause(err)
	}
	return &inst, nil
}

// Transition is the only mutator for instance state. apply mutates the
// in-memory row (state, counters, timestamps); Transition persists the
// result inside a single-row write. No multi-row transaction is
// required by the engine (spec.md §4.6).
func (s *gormInstanceStore) Transition(ctx context.Context, instanceID uint, apply func(*Instance) error) (*Instance, error) {
	inst, err := s.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := apply(inst); err != nil {
		return nil, err
	}
	inst.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(inst).Error; err != nil {
		return nil, NewError(ErrCodeInternal, "persist instance transition").WithCause(err)
	}
	return inst, nil
}

func (s *gormInstanceStore) ListForTask(ctx context.Context, taskID string, position *PipelinePosition) ([]*Instance, error) {
	q := s.db.WithContext(ctx).Where("task_id = ?", taskID)
	if position != nil {
		q = q.Joins("JOIN checkpoint_definitions ON checkpoint_definitions.id = checkpoint_instances.definition_id").
			Where("checkpoint_definitions.pipeline_position = ?", *position)
	}
	var instances []*Instance
	if err := q.Find(&instances).Error; err != nil {
		return nil, NewError(ErrCodeInternal, "list instances for task").WithCause(err)
	}
	return instances, nil
}

// CountRecentFailures counts the definition's instances in the failed
// or timed_out state whose failed_at is at or after since, whether or
// not their retry budget is spent. The Failure Tracker does not call
// it; the tracker keeps its own in-memory window.
func (s *gormInstanceStore) CountRecentFailures(ctx context.Context, definitionID uint, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Instance{}).
		Where("definition_id = ? AND state IN ? AND failed_at >= ?", definitionID, []InstanceState{StateFailed, StateTimedOut}, since).
		Count(&count).Error
	if err != nil {
		return 0, NewError(ErrCodeInternal, "count recent failures").WithCause(err)
	}
	return int(count), nil
}
