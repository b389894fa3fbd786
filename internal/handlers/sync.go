package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/benvon/smart-tagger/internal/index"
	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/store"
	"github.com/benvon/smart-tagger/internal/syncer"
	"github.com/benvon/smart-tagger/internal/validation"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SyncStatus is the batch state as the editor polls it
type SyncStatus struct {
	State    models.IOState   `json:"state"`
	Kind     models.BatchKind `json:"kind"`
	Progress models.Progress  `json:"progress"`
	RunID    uuid.UUID        `json:"run_id"`
	index.Summary
}

// SyncStarted acknowledges a batch started in the background
type SyncStarted struct {
	RunID uuid.UUID        `json:"run_id"`
	Kind  models.BatchKind `json:"kind"`
}

// SyncHandler starts batch runs and reports their progress
type SyncHandler struct {
	syncer      *syncer.Orchestrator
	store       *store.Store
	projectPath string
	// runCtx outlives requests so a batch is not cut off when its request ends
	runCtx context.Context
	logger *zap.Logger
}

// NewSyncHandler creates a sync handler. Batches run under runCtx, which
// should be cancelled on shutdown.
func NewSyncHandler(runCtx context.Context, o *syncer.Orchestrator, s *store.Store, projectPath string, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{syncer: o, store: s, projectPath: projectPath, runCtx: runCtx, logger: logger}
}

// RegisterRoutes registers sync routes on a router that already has the /sync prefix
func (h *SyncHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/save", h.StartSave).Methods("POST")
	r.HandleFunc("/load", h.StartLoad).Methods("POST")
	r.HandleFunc("/status", h.Status).Methods("GET")
}

// StartSave begins saving every modified asset and returns 202
func (h *SyncHandler) StartSave(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, models.BatchKindSave, h.syncer.StartSaveAll)
}

// StartLoad begins loading the project and returns 202
func (h *SyncHandler) StartLoad(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, models.BatchKindLoad, h.syncer.StartLoadAll)
}

type startFunc func(ctx context.Context, projectPath string) (uuid.UUID, <-chan syncer.BatchResult, error)

func (h *SyncHandler) start(w http.ResponseWriter, r *http.Request, kind models.BatchKind, start startFunc) {
	projectPath, ok := projectFromRequest(w, r, h.projectPath)
	if !ok {
		return
	}

	runID, done, err := start(h.runCtx, projectPath)
	if errors.Is(err, syncer.ErrBusy) {
		respondJSONError(w, http.StatusConflict, "busy", err.Error())
		return
	}
	if err != nil {
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to start batch")
		return
	}

	go h.report(runID, done)
	respondJSON(w, http.StatusAccepted, SyncStarted{RunID: runID, Kind: kind})
}

// report drains the run result so failures are visible in the server log
func (h *SyncHandler) report(runID uuid.UUID, done <-chan syncer.BatchResult) {
	result, ok := <-done
	if !ok {
		return
	}
	for assetID, err := range result.Failures {
		h.logger.Debug("batch_unit_failure_detail",
			zap.String("run_id", runID.String()),
			zap.String("asset_id", logpkg.SanitizeAssetID(assetID)),
			zap.String("error", logpkg.SanitizeError(err)),
		)
	}
}

// Status returns the orchestrator state, progress and dirty set counts
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.syncer.Snapshot()
	respondJSON(w, http.StatusOK, SyncStatus{
		State:    snap.State,
		Kind:     snap.Kind,
		Progress: snap.Progress,
		RunID:    snap.RunID,
		Summary:  h.store.Index().Summary(),
	})
}

// projectFromRequest reads an optional {project_path} body. An empty body
// uses fallback; with no fallback a project path is required.
func projectFromRequest(w http.ResponseWriter, r *http.Request, fallback string) (string, bool) {
	if r.ContentLength == 0 {
		if fallback == "" {
			respondJSONError(w, http.StatusBadRequest, "validation_failed", "project_path failed required")
			return "", false
		}
		return fallback, true
	}

	var req validation.SyncRequest
	if !decodeAndValidate(w, r, &req) {
		return "", false
	}
	return req.ProjectPath, true
}
