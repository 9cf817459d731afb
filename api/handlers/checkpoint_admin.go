package handlers

import (
	"net/http"
	"strconv"

	"github.com/jiman93/checkpointd/checkpoint"
	"go.uber.org/zap"
)

// =============================================================================
// 🛠️ Checkpoint 定义管理 Handler（管理端，需 JWT admin 角色）
// =============================================================================

// CheckpointAdminHandler 处理 checkpoint 定义的管理端 CRUD 路由。
type CheckpointAdminHandler struct {
	definitions checkpoint.DefinitionStore
	breaker     checkpoint.FailureTracker
	logger      *zap.Logger
}

// NewCheckpointAdminHandler 创建 CheckpointAdminHandler。breaker 在管理员
// 重新启用一个已跳闸的定义时被清空，否则 Resolver 会一直基于内存中的
// tripped 状态排除它，即便数据库里的 enabled 已经改回 true。
func NewCheckpointAdminHandler(definitions checkpoint.DefinitionStore, breaker checkpoint.FailureTracker, logger *zap.Logger) *CheckpointAdminHandler {
	return &CheckpointAdminHandler{definitions: definitions, breaker: breaker, logger: logger.With(zap.String("component", "checkpoint_admin_handler"))}
}

// extractDefinitionID 从路径中提取 definition id（Go 1.22+ PathValue）。
func extractDefinitionID(r *http.Request) (uint, bool) {
	idStr := r.PathValue("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// definitionRequest is the wire shape for create/update payloads.
type definitionRequest struct {
	ControlType                 string                        `json:"control_type,omitempty"`
	Label                       string                        `json:"label"`
	Description                 string                        `json:"description"`
	FieldSchema                 []checkpoint.FieldDescriptor `json:"field_schema"`
	PipelinePosition            checkpoint.PipelinePosition   `json:"pipeline_position"`
	SortOrder                   int                           `json:"sort_order"`
	ApplicableModes             []string                      `json:"applicable_modes"`
	Required                    bool                          `json:"required"`
	TimeoutSeconds              *int                          `json:"timeout_seconds"`
	MaxRetries                  int                           `json:"max_retries"`
	CircuitBreakerThreshold     int                           `json:"circuit_breaker_threshold"`
	CircuitBreakerWindowMinutes int                           `json:"circuit_breaker_window_minutes"`
}

// HandleList GET /checkpoints/definitions?include_disabled=bool
func (h *CheckpointAdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	includeDisabled := r.URL.Query().Get("include_disabled") == "true"
	defs, err := h.definitions.List(r.Context(), includeDisabled)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, defs)
}

// HandleCreate POST /checkpoints/definitions
func (h *CheckpointAdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req definitionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if issues := checkpoint.ValidateFieldSchema(req.FieldSchema); len(issues) > 0 {
		WriteError(w, checkpoint.NewError(checkpoint.ErrCodeValidationFailure, "field_schema is invalid").WithIssues(issues), h.logger)
		return
	}

	def := &checkpoint.Definition{
		ControlType:                 req.ControlType,
		Label:                       req.Label,
		Description:                 req.Description,
		FieldSchema:                 checkpoint.NewJSONColumn(req.FieldSchema),
		PipelinePosition:            req.PipelinePosition,
		SortOrder:                   req.SortOrder,
		ApplicableModes:             checkpoint.NewJSONColumn(req.ApplicableModes),
		Required:                    req.Required,
		TimeoutSeconds:              req.TimeoutSeconds,
		MaxRetries:                  req.MaxRetries,
		CircuitBreakerThreshold:     req.CircuitBreakerThreshold,
		CircuitBreakerWindowMinutes: req.CircuitBreakerWindowMinutes,
		Enabled:                     true,
	}

	if err := h.definitions.Create(r.Context(), def); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{Success: true, Data: def})
}

// HandleGet GET /checkpoints/definitions/{id}
func (h *CheckpointAdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := extractDefinitionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid definition id", h.logger)
		return
	}
	def, err := h.definitions.GetByID(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, def)
}

// HandleUpdate PUT /checkpoints/definitions/{id}
func (h *CheckpointAdminHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := extractDefinitionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid definition id", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req struct {
		Label                       *string                        `json:"label"`
		Description                 *string                        `json:"description"`
		FieldSchema                 *[]checkpoint.FieldDescriptor `json:"field_schema"`
		PipelinePosition            *checkpoint.PipelinePosition   `json:"pipeline_position"`
		SortOrder                   *int                           `json:"sort_order"`
		ApplicableModes             *[]string                      `json:"applicable_modes"`
		Required                    *bool                          `json:"required"`
		TimeoutSeconds              **int                          `json:"timeout_seconds"`
		MaxRetries                  *int                           `json:"max_retries"`
		CircuitBreakerThreshold     *int                           `json:"circuit_breaker_threshold"`
		CircuitBreakerWindowMinutes *int                           `json:"circuit_breaker_window_minutes"`
	}
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.FieldSchema != nil {
		if issues := checkpoint.ValidateFieldSchema(*req.FieldSchema); len(issues) > 0 {
			WriteError(w, checkpoint.NewError(checkpoint.ErrCodeValidationFailure, "field_schema is invalid").WithIssues(issues), h.logger)
			return
		}
	}

	patch := checkpoint.DefinitionPatch{
		Label:                       req.Label,
		Description:                 req.Description,
		FieldSchema:                 req.FieldSchema,
		PipelinePosition:            req.PipelinePosition,
		SortOrder:                   req.SortOrder,
		ApplicableModes:             req.ApplicableModes,
		Required:                    req.Required,
		TimeoutSeconds:              req.TimeoutSeconds,
		MaxRetries:                  req.MaxRetries,
		CircuitBreakerThreshold:     req.CircuitBreakerThreshold,
		CircuitBreakerWindowMinutes: req.CircuitBreakerWindowMinutes,
	}

	def, err := h.definitions.Update(r.Context(), id, patch)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, def)
}

// toggleRequest is the body for POST .../toggle.
type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleToggle POST /checkpoints/definitions/{id}/toggle
func (h *CheckpointAdminHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := extractDefinitionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid definition id", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req toggleRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, err := h.definitions.Toggle(r.Context(), id, req.Enabled)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Enabled {
		h.breaker.Reset(id)
	}
	WriteSuccess(w, def)
}

// HandleDelete DELETE /checkpoints/definitions/{id} — soft delete (toggle off).
func (h *CheckpointAdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := extractDefinitionID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid definition id", h.logger)
		return
	}
	def, err := h.definitions.Toggle(r.Context(), id, false)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, def)
}

// HandleFieldTypes GET /checkpoints/field-types
func (h *CheckpointAdminHandler) HandleFieldTypes(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, checkpoint.FieldTypes)
}
