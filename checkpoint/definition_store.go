package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefinitionStore persists CheckpointDefinition records: CRUD, toggle,
// soft-delete.
type DefinitionStore interface {
	Create(ctx context.Context, def *Definition) error
	Update(ctx context.Context, id uint, patch DefinitionPatch) (*Definition, error)
	Toggle(ctx context.Context, id uint, enabled bool) (*Definition, error)
	GetByID(ctx context.Context, id uint) (*Definition, error)
	GetByControlType(ctx context.Context, controlType string) (*Definition, error)
	List(ctx context.Context, includeDisabled bool) ([]*Definition, error)
	ListForPosition(ctx context.Context, position PipelinePosition) ([]*Definition, error)
}

// DefinitionPatch carries the fields an admin update may change.
// ControlType is intentionally absent: it can never be changed once
// created (spec.md §4.2).
type DefinitionPatch struct {
	Label                       *string
	Description                 *string
	FieldSchema                 *[]FieldDescriptor
	PipelinePosition            *PipelinePosition
	SortOrder                   *int
	ApplicableModes             *[]string
	Required                    *bool
	TimeoutSeconds              **int
	MaxRetries                  *int
	CircuitBreakerThreshold     *int
	CircuitBreakerWindowMinutes *int
}

type gormDefinitionStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDefinitionStore returns a GORM-backed DefinitionStore.
func NewDefinitionStore(db *gorm.DB, logger *zap.Logger) DefinitionStore {
	return &gormDefinitionStore{db: db, logger: logger.With(zap.String("component", "definition_store"))}
}

func (s *gormDefinitionStore) Create(ctx context.Context, def *Definition) error {
	existing, err := s.GetByControlType(ctx, def.ControlType)
	if err != nil && !IsCode(err, ErrCodeNotFound) {
		return err
	}
	if existing != nil {
		return NewError(ErrCodeDuplicateControlType, "control_type already exists: "+def.ControlType)
	}

	if err := s.db.WithContext(ctx).Create(def).Error; err != nil {
		if isUniqueViolation(err) {
			return NewError(ErrCodeDuplicateControlType, "control_type already exists: "+def.ControlType)
		}
		return NewError(ErrCodeInternal, "create definition").WithCause(err)
	}
	return nil
}

func (s *gormDefinitionStore) Update(ctx context.Context, id uint, patch DefinitionPatch) (*Definition, error) {
	def, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Label != nil {
		def.Label = *patch.Label
	}
	if patch.Description != nil {
		def.Description = *patch.Description
	}
	if patch.FieldSchema != nil {
		def.FieldSchema = NewJSONColumn(*patch.FieldSchema)
	}
	if patch.PipelinePosition != nil {
		def.PipelinePosition = *patch.PipelinePosition
	}
	if patch.SortOrder != nil {
		def.SortOrder = *patch.SortOrder
	}
	if patch.ApplicableModes != nil {
		def.ApplicableModes = NewJSONColumn(*patch.ApplicableModes)
	}
	if patch.Required != nil {
		def.Required = *patch.Required
	}
	if patch.TimeoutSeconds != nil {
		def.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if patch.MaxRetries != nil {
		def.MaxRetries = *patch.MaxRetries
	}
	if patch.CircuitBreakerThreshold != nil {
		def.CircuitBreakerThreshold = *patch.CircuitBreakerThreshold
	}
	if patch.CircuitBreakerWindowMinutes != nil {
		def.CircuitBreakerWindowMinutes = *patch.CircuitBreakerWindowMinutes
	}
	def.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(def).Error; err != nil {
		return nil, NewError(ErrCodeInternal, "update definition").WithCause(err)
	}
	return def, nil
}

func (s *gormDefinitionStore) Toggle(ctx context.Context, id uint, enabled bool) (*Definition, error) {
	def, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	def.Enabled = enabled
	def.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Model(def).Updates(map[string]any{
		"enabled":    enabled,
		"updated_at": def.UpdatedAt,
	}).Error; err != nil {
		return nil, NewError(ErrCodeInternal, "toggle definition").WithCause(err)
	}
	return def, nil
}

func (s *gormDefinitionStore) GetByID(ctx context.Context, id uint) (*Definition, error) {
	var def Definition
	err := s.db.WithContext(ctx).First(&def, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound("definition")
	}
	if err != nil {
		return nil, NewError(ErrCodeInternal, "get definition").WithCause(err)
	}
	return &def, nil
}

func (s *gormDefinitionStore) GetByControlType(ctx context.Context, controlType string) (*Definition, error) {
	var def Definition
	err := s.db.WithContext(ctx).Where("control_type = ?", controlType).First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound("definition")
	}
	if err != nil {
		return nil, NewError(ErrCodeInternal, "get definition by control_type").WithCause(err)
	}
	return &def, nil
}

func (s *gormDefinitionStore) List(ctx context.Context, includeDisabled bool) ([]*Definition, error) {
	q := s.db.WithContext(ctx).Order("pipeline_position ASC, sort_order ASC, created_at ASC")
	if !includeDisabled {
		q = q.Where("enabled = ?", true)
	}
	var defs []*Definition
	if err := q.Find(&defs).Error; err != nil {
		return nil, NewError(ErrCodeInternal, "list definitions").WithCause(err)
	}
	return defs, nil
}

func (s *gormDefinitionStore) ListForPosition(ctx context.Context, position PipelinePosition) ([]*Definition, error) {
	var defs []*Definition
	err := s.db.WithContext(ctx).
		Where("pipeline_position = ? AND enabled = ?", position, true).
		Order("sort_order ASC, created_at ASC").
		Find(&defs).Error
	if err != nil {
		return nil, NewError(ErrCodeInternal, "list definitions for position").WithCause(err)
	}
	return defs, nil
}
