package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jiman93/checkpointd/checkpoint"
	"github.com/jiman93/checkpointd/internal/cache"
	"go.uber.org/zap"
)

// =============================================================================
// 🚦 Checkpoint 任务流水线 Handler（数据面，API Key 鉴权）
// =============================================================================

// CheckpointTaskHandler 处理某个任务在流水线各位点上的 checkpoint 交互路由。
type CheckpointTaskHandler struct {
	orchestrator *checkpoint.Orchestrator
	lifecycle    *checkpoint.Lifecycle
	resolveCache *cache.ResolveCache // optional; nil means resolve always goes straight through
	logger       *zap.Logger
}

// NewCheckpointTaskHandler 创建 CheckpointTaskHandler。resolveCache 可为 nil。
func NewCheckpointTaskHandler(orchestrator *checkpoint.Orchestrator, lifecycle *checkpoint.Lifecycle, resolveCache *cache.ResolveCache, logger *zap.Logger) *CheckpointTaskHandler {
	return &CheckpointTaskHandler{
		orchestrator: orchestrator,
		lifecycle:    lifecycle,
		resolveCache: resolveCache,
		logger:       logger.With(zap.String("component", "checkpoint_task_handler")),
	}
}

// invalidate evicts the resolve cache for taskID after a lifecycle
// transition, if a cache is wired in.
func (h *CheckpointTaskHandler) invalidate(ctx context.Context, taskID string) {
	if h.resolveCache == nil || taskID == "" {
		return
	}
	if err := h.resolveCache.Invalidate(ctx, taskID); err != nil {
		h.logger.Warn("resolve cache invalidate failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func extractInstanceID(r *http.Request) (uint, bool) {
	idStr := r.PathValue("instance_id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// resolvedCheckpoints is the wire shape for GET .../checkpoints.
type resolvedCheckpoints struct {
	TaskID           string                 `json:"task_id"`
	PipelinePosition string                 `json:"pipeline_position"`
	Checkpoints      []*checkpoint.Instance `json:"checkpoints"`
}

// HandleResolve GET /tasks/{task_id}/checkpoints?pipeline_position=P
func (h *CheckpointTaskHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "task_id is required", h.logger)
		return
	}
	position := checkpoint.PipelinePosition(r.URL.Query().Get("pipeline_position"))
	if !position.Valid() {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "pipeline_position is invalid", h.logger)
		return
	}
	mode := r.URL.Query().Get("mode")

	instances, err := h.resolve(r.Context(), taskID, position, mode)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, resolvedCheckpoints{
		TaskID:           taskID,
		PipelinePosition: string(position),
		Checkpoints:      instances,
	})
}

// resolve serves Resolve through the read-through cache when one is
// wired in, falling back to the orchestrator directly otherwise.
func (h *CheckpointTaskHandler) resolve(ctx context.Context, taskID string, position checkpoint.PipelinePosition, mode string) ([]*checkpoint.Instance, error) {
	if h.resolveCache == nil {
		return h.orchestrator.Resolve(ctx, taskID, position, mode)
	}

	raw, err := h.resolveCache.Resolve(ctx, taskID, string(position), mode)
	if err != nil {
		return nil, err
	}
	instances := make([]*checkpoint.Instance, len(raw))
	for i, r := range raw {
		var inst checkpoint.Instance
		if err := json.Unmarshal(r, &inst); err != nil {
			return nil, err
		}
		instances[i] = &inst
	}
	return instances, nil
}

// HandleGet GET /tasks/{task_id}/checkpoints/{instance_id}
func (h *CheckpointTaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	instanceID, ok := extractInstanceID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid instance id", h.logger)
		return
	}

	inst, err := h.orchestrator.Get(r.Context(), taskID, instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, inst)
}

type submitRequest struct {
	Data json.RawMessage `json:"data"`
}

// submitFailureResponse is returned on 422 validation failure per
// spec.md §6: {message, issues, attempt_count, max_retries, retry_available}.
type submitFailureResponse struct {
	Message        string                        `json:"message"`
	Issues         []checkpoint.ValidationIssue `json:"issues"`
	AttemptCount   int                           `json:"attempt_count"`
	MaxRetries     int                           `json:"max_retries"`
	RetryAvailable bool                          `json:"retry_available"`
}

// HandleSubmit POST /tasks/{task_id}/checkpoints/{instance_id}/submit
func (h *CheckpointTaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := extractInstanceID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid instance id", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req submitRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	result, err := h.lifecycle.Submit(r.Context(), instanceID, data)
	if err != nil {
		if ckErr, ok := err.(*checkpoint.Error); ok && ckErr.Code == checkpoint.ErrCodeValidationFailure && result != nil {
			h.invalidate(r.Context(), r.PathValue("task_id"))
			WriteJSON(w, ckErr.HTTPStatus, submitFailureResponse{
				Message:        ckErr.Message,
				Issues:         result.Issues,
				AttemptCount:   result.AttemptCount,
				MaxRetries:     result.MaxRetries,
				RetryAvailable: result.RetryAvailable,
			})
			return
		}
		WriteError(w, err, h.logger)
		return
	}
	h.invalidate(r.Context(), r.PathValue("task_id"))
	WriteSuccess(w, result.Instance)
}

// HandleSkip POST /tasks/{task_id}/checkpoints/{instance_id}/skip
func (h *CheckpointTaskHandler) HandleSkip(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := extractInstanceID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid instance id", h.logger)
		return
	}
	inst, err := h.lifecycle.Skip(r.Context(), instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.invalidate(r.Context(), r.PathValue("task_id"))
	WriteSuccess(w, inst)
}

// HandleRetry POST /tasks/{task_id}/checkpoints/{instance_id}/retry
func (h *CheckpointTaskHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := extractInstanceID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid instance id", h.logger)
		return
	}
	inst, err := h.lifecycle.Retry(r.Context(), instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.invalidate(r.Context(), r.PathValue("task_id"))
	WriteSuccess(w, inst)
}

// HandleTimeout POST /tasks/{task_id}/checkpoints/{instance_id}/timeout
func (h *CheckpointTaskHandler) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	instanceID, ok := extractInstanceID(r)
	if !ok {
		WriteErrorMessage(w, http.StatusBadRequest, checkpoint.ErrCodeValidationFailure, "invalid instance id", h.logger)
		return
	}
	inst, err := h.lifecycle.Timeout(r.Context(), instanceID)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.invalidate(r.Context(), r.PathValue("task_id"))
	WriteSuccess(w, inst)
}
