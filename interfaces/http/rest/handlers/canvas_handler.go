package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"canvas-backend/application/ports"
	"canvas-backend/application/services"
	"canvas-backend/domain/canvas"
	"canvas-backend/pkg/common"
	apperrors "canvas-backend/pkg/errors"
	"canvas-backend/pkg/utils"
)

// maxBodyBytes caps request bodies. Canvas states with large graphs fit
// comfortably; anything bigger is a client bug.
const maxBodyBytes = 10 << 20

// CanvasHandler exposes the sync engine over REST
type CanvasHandler struct {
	service *services.CanvasService
	errors  *apperrors.ErrorHandler
	logger  *zap.Logger
}

// NewCanvasHandler creates a new canvas handler
func NewCanvasHandler(service *services.CanvasService, errorHandler *apperrors.ErrorHandler, logger *zap.Logger) *CanvasHandler {
	return &CanvasHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger,
	}
}

// CreateCanvasRequest is the body for registering a canvas
type CreateCanvasRequest struct {
	CanvasID string `json:"canvasId" validate:"required,min=1,max=128"`
}

// SyncRequest carries a batch of transactions to apply
type SyncRequest struct {
	Transactions []canvas.Transaction `json:"transactions"`
}

// AddNodeEntry is one node insertion in an AddNodesRequest
type AddNodeEntry struct {
	Node      canvas.NodeSpec        `json:"node"`
	ConnectTo []canvas.ConnectFilter `json:"connectTo,omitempty"`
}

// AddNodesRequest is the body for inserting nodes
type AddNodesRequest struct {
	Nodes      []AddNodeEntry `json:"nodes" validate:"required,min=1"`
	AutoLayout bool           `json:"autoLayout"`
}

// CreateVersionRequest carries the client's local state to reconcile and seal
type CreateVersionRequest struct {
	State *canvas.State `json:"state" validate:"required"`
}

// CreateCanvas handles POST /canvases
func (h *CanvasHandler) CreateCanvas(w http.ResponseWriter, r *http.Request) {
	var req CreateCanvasRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	record, err := h.service.CreateCanvas(r.Context(), req.CanvasID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, canvasResponse(record))
}

// GetCanvas handles GET /canvases/{canvasID}
func (h *CanvasHandler) GetCanvas(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	record, err := h.service.GetCanvas(r.Context(), canvasID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, canvasResponse(record))
}

// GetState handles GET /canvases/{canvasID}/state
func (h *CanvasHandler) GetState(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")
	version := r.URL.Query().Get("version")

	state, err := h.service.GetState(r.Context(), canvasID, version)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, state)
}

// SaveState handles PUT /canvases/{canvasID}/state
func (h *CanvasHandler) SaveState(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	var state canvas.State
	if err := common.ParseJSONBody(r, &state, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid state body: "+err.Error()))
		return
	}

	storageKey, err := h.service.SaveState(r.Context(), canvasID, &state)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"version":    state.Version,
		"storageKey": storageKey,
	})
}

// ForceState handles POST /canvases/{canvasID}/state:force. It overwrites
// the canvas with the supplied state, discarding whatever is there.
func (h *CanvasHandler) ForceState(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	var state canvas.State
	if err := common.ParseJSONBody(r, &state, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid state body: "+err.Error()))
		return
	}

	result, err := h.service.SetState(r.Context(), canvasID, &state)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, result)
}

// SyncState handles POST /canvases/{canvasID}/sync
func (h *CanvasHandler) SyncState(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	var req SyncRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}

	state, err := h.service.SyncState(r.Context(), canvasID, req.Transactions)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if state == nil {
		// Nothing to apply.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	common.RespondJSON(w, http.StatusOK, state)
}

// AddNodes handles POST /canvases/{canvasID}/nodes
func (h *CanvasHandler) AddNodes(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	var req AddNodesRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	requests := make([]services.AddNodeRequest, len(req.Nodes))
	for i, entry := range req.Nodes {
		requests[i] = services.AddNodeRequest{Node: entry.Node, ConnectTo: entry.ConnectTo}
	}

	result, err := h.service.AddNodes(r.Context(), canvasID, requests, req.AutoLayout)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	common.RespondJSON(w, http.StatusCreated, map[string]interface{}{
		"state": result.State,
		"nodes": result.Nodes,
		"edges": result.Edges,
	})
}

// CreateVersion handles POST /canvases/{canvasID}/versions. A merge
// conflict responds 409 with both competing states so the client can
// resolve manually.
func (h *CanvasHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	var req CreateVersionRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	result, err := h.service.CreateVersion(r.Context(), canvasID, req.State)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if result.IsConflict() {
		h.logger.Info("Version conflict surfaced to client",
			zap.String("canvasID", canvasID),
			zap.String("reason", result.Conflict.Reason),
		)
		common.RespondJSON(w, http.StatusConflict, map[string]interface{}{
			"conflict": result.Conflict,
		})
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	common.RespondJSON(w, status, map[string]interface{}{
		"created": result.Created,
		"state":   result.State,
	})
}

// ListVersions handles GET /canvases/{canvasID}/versions
func (h *CanvasHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	canvasID := chi.URLParam(r, "canvasID")

	params, err := common.ExtractListParams(r)
	if err != nil {
		h.errors.Handle(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	entries, nextCursor, err := h.service.ListVersions(r.Context(), canvasID, params.Limit, params.Cursor)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	versions := make([]map[string]interface{}, len(entries))
	for i, entry := range entries {
		versions[i] = versionResponse(entry)
	}

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"versions":   versions,
		"nextCursor": nextCursor,
	})
}

func canvasResponse(record *ports.CanvasRecord) map[string]interface{} {
	return map[string]interface{}{
		"canvasId":       record.CanvasID,
		"currentVersion": record.CurrentVersion,
		"usedToolsets":   record.UsedToolsets,
		"createdAt":      record.CreatedAt.Format(time.RFC3339),
		"updatedAt":      record.UpdatedAt.Format(time.RFC3339),
	}
}

func versionResponse(entry ports.VersionIndexEntry) map[string]interface{} {
	return map[string]interface{}{
		"version":   entry.Version,
		"hash":      entry.Hash,
		"nodeCount": entry.NodeCount,
		"edgeCount": entry.EdgeCount,
		"createdAt": entry.CreatedAt.Format(time.RFC3339),
	}
}
