package checkpoint

import (
	"context"

	"go.uber.org/zap"
)

// seedDefinition is the canonical policy for one built-in definition,
// listed in spec.md §4.7.
type seedDefinition struct {
	controlType string
	label       string
	description string
	position    PipelinePosition
	modes       []string
	required    bool
	maxRetries  int
	timeout     *int
	fields      []FieldDescriptor
}

func intPtr(v int) *int { return &v }

var builtinSeeds = []seedDefinition{
	{
		controlType: "chunk_selector",
		label:       "Select relevant passages",
		description: "Choose the retrieved passages that best support the answer.",
		position:    PositionAfterRetrieval,
		modes:       []string{"hitl_r", "hitl_full"},
		required:    true,
		maxRetries:  2,
		timeout:     nil,
		fields: []FieldDescriptor{
			{Key: "selected_node_ids", Type: FieldMultiSelect, Label: "Relevant passages", Required: true},
		},
	},
	{
		controlType: "summary_editor",
		label:       "Edit the generated summary",
		description: "Review and, if needed, edit the generated summary before it is shown.",
		position:    PositionAfterGeneration,
		modes:       []string{"hitl_g", "hitl_full"},
		required:    true,
		maxRetries:  2,
		timeout:     nil,
		fields: []FieldDescriptor{
			{Key: "edited_text", Type: FieldTextarea, Label: "Summary text", Required: true},
		},
	},
	{
		controlType: "questionnaire",
		label:       "Answer a short questionnaire",
		description: "Rate confidence and citation helpfulness for this answer.",
		position:    PositionPostGeneration,
		modes:       []string{"hitl_r", "hitl_g", "hitl_full"},
		required:    false,
		maxRetries:  2,
		timeout:     nil,
		fields: []FieldDescriptor{
			{Key: "confidence", Type: FieldRadio, Label: "Confidence", Required: false,
				Options: []Option{{Value: "1", Label: "1"}, {Value: "2", Label: "2"}, {Value: "3", Label: "3"}, {Value: "4", Label: "4"}, {Value: "5", Label: "5"}}},
			{Key: "citation_helpfulness", Type: FieldRadio, Label: "Were citations helpful?", Required: false,
				Options: []Option{{Value: "yes", Label: "Yes"}, {Value: "no", Label: "No"}}},
		},
	},
}

// DefaultCircuitBreakerThreshold and DefaultCircuitBreakerWindowMinutes
// seed the breaker policy for built-in definitions; admins may edit
// them after creation like any other definition field.
const (
	DefaultCircuitBreakerThreshold     = 5
	DefaultCircuitBreakerWindowMinutes = 60
)

// Seeder idempotently installs the three built-in definitions on
// startup (spec.md §4.7). It never overwrites an existing definition:
// admin edits survive restarts.
type Seeder struct {
	definitions DefinitionStore
	logger      *zap.Logger
}

// NewSeeder constructs a Seeder.
func NewSeeder(definitions DefinitionStore, logger *zap.Logger) *Seeder {
	return &Seeder{definitions: definitions, logger: logger.With(zap.String("component", "seeder"))}
}

// Seed installs any built-in definitions missing from the store.
func (s *Seeder) Seed(ctx context.Context) error {
	for _, seed := range builtinSeeds {
		_, err := s.definitions.GetByControlType(ctx, seed.controlType)
		if err == nil {
			continue
		}
		if !IsCode(err, ErrCodeNotFound) {
			return err
		}

		def := &Definition{
			ControlType:                 seed.controlType,
			Label:                       seed.label,
			Description:                 seed.description,
			FieldSchema:                 NewJSONColumn(seed.fields),
			PipelinePosition:            seed.position,
			SortOrder:                   0,
			ApplicableModes:             NewJSONColumn(seed.modes),
			Required:                    seed.required,
			TimeoutSeconds:              seed.timeout,
			MaxRetries:                  seed.maxRetries,
			CircuitBreakerThreshold:     DefaultCircuitBreakerThreshold,
			CircuitBreakerWindowMinutes: DefaultCircuitBreakerWindowMinutes,
			Enabled:                     true,
		}
		if err := s.definitions.Create(ctx, def); err != nil {
			if IsCode(err, ErrCodeDuplicateControlType) {
				// Another process seeded it concurrently; fine.
				continue
			}
			return err
		}
		s.logger.Info("seeded built-in checkpoint definition", zap.String("control_type", seed.controlType))
	}
	return nil
}
