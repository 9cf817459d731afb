// Package checkpoint implements the checkpoint pipeline engine: the
// definition registry, per-task instance lifecycle, resolver, failure
// tracker, seeder, and the read-only orchestrator facade the chat
// pipeline consumes.
package checkpoint

import "time"

// PipelinePosition is one of the three fixed interleaving points in the
// retrieval -> generation flow.
type PipelinePosition string

const (
	PositionAfterRetrieval  PipelinePosition = "after_retrieval"
	PositionAfterGeneration PipelinePosition = "after_generation"
	PositionPostGeneration  PipelinePosition = "post_generation"
)

func (p PipelinePosition) Valid() bool {
	switch p {
	case PositionAfterRetrieval, PositionAfterGeneration, PositionPostGeneration:
		return true
	}
	return false
}

// AnyMode is the wildcard applicable-mode tag meaning "any mode".
const AnyMode = "*"

// InstanceState is the explicit state of a CheckpointInstance.
type InstanceState string

const (
	StatePending   InstanceState = "pending"
	StateOffered   InstanceState = "offered"
	StateActive    InstanceState = "active"
	StateSubmitted InstanceState = "submitted"
	StateSkipped   InstanceState = "skipped"
	StateFailed    InstanceState = "failed"
	StateTimedOut  InstanceState = "timed_out"
	StateCollapsed InstanceState = "collapsed"
)

// Terminal reports whether no further transitions are permitted from
// this state.
func (s InstanceState) Terminal() bool {
	switch s {
	case StateSubmitted, StateSkipped, StateCollapsed:
		return true
	}
	return false
}

// Definition is the admin-owned template for a checkpoint kind.
type Definition struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ControlType string `gorm:"uniqueIndex;size:128;not null" json:"control_type"`

	Label       string `json:"label"`
	Description string `json:"description"`

	FieldSchema JSONColumn[[]FieldDescriptor] `gorm:"type:text" json:"field_schema"`

	PipelinePosition PipelinePosition        `gorm:"index;size:32;not null" json:"pipeline_position"`
	SortOrder        int                     `json:"sort_order"`
	ApplicableModes  JSONColumn[[]string]    `gorm:"type:text" json:"applicable_modes"`

	Required                   bool  `json:"required"`
	TimeoutSeconds             *int  `json:"timeout_seconds"`
	MaxRetries                 int   `json:"max_retries"`
	CircuitBreakerThreshold    int   `json:"circuit_breaker_threshold"`
	CircuitBreakerWindowMinutes int  `json:"circuit_breaker_window_minutes"`

	Enabled bool `gorm:"index;not null;default:true" json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Definition) TableName() string { return "checkpoint_definitions" }

// MatchesMode reports whether the definition applies to the given mode.
func (d *Definition) MatchesMode(mode string) bool {
	for _, m := range d.ApplicableModes.Val {
		if m == AnyMode || m == mode {
			return true
		}
	}
	return false
}

// Instance is the per-task materialization of a Definition.
type Instance struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	TaskID       string `gorm:"uniqueIndex:idx_task_definition;size:128;not null" json:"task_id"`
	DefinitionID uint   `gorm:"uniqueIndex:idx_task_definition;not null" json:"definition_id"`

	ControlType string                        `gorm:"size:128;not null" json:"control_type"`
	FieldSchema JSONColumn[[]FieldDescriptor] `gorm:"type:text" json:"field_schema"`

	State InstanceState `gorm:"index;size:32;not null" json:"state"`

	Payload      JSONColumn[map[string]any] `gorm:"type:text" json:"payload"`
	SubmitResult JSONColumn[map[string]any] `gorm:"type:text" json:"submit_result"`

	AttemptCount int     `json:"attempt_count"`
	LastError    string  `json:"last_error"`

	FailedAt    *time.Time `json:"failed_at"`
	OfferedAt   *time.Time `json:"offered_at"`
	SubmittedAt *time.Time `json:"submitted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Instance) TableName() string { return "checkpoint_instances" }

// ExhaustedRetries reports whether the instance has consumed its retry
// budget for the given definition's max_retries policy.
func (i *Instance) ExhaustedRetries(maxRetries int) bool {
	return i.AttemptCount >= maxRetries
}
