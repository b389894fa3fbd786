package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/benvon/smart-tagger/internal/index"
	logpkg "github.com/benvon/smart-tagger/internal/logger"
	"github.com/benvon/smart-tagger/internal/models"
	"github.com/benvon/smart-tagger/internal/store"
	"github.com/benvon/smart-tagger/internal/syncer"
	"github.com/benvon/smart-tagger/internal/tagdiff"
	"github.com/benvon/smart-tagger/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AssetView is an asset as the editor renders it
type AssetView struct {
	ID       string            `json:"id"`
	Tags     []tagdiff.TagView `json:"tags"`
	Modified bool              `json:"modified"`
	Added    []string          `json:"added,omitempty"`
	Removed  []string          `json:"removed,omitempty"`
}

// NewAssetView builds the view for one asset
func NewAssetView(a models.Asset) AssetView {
	changes := tagdiff.Diff(a)
	return AssetView{
		ID:       a.ID,
		Tags:     tagdiff.DisplayStatuses(a),
		Modified: a.Modified,
		Added:    changes.Added,
		Removed:  changes.Removed,
	}
}

// AssetHandler serves tag editing on the in-memory store
type AssetHandler struct {
	store       *store.Store
	syncer      *syncer.Orchestrator
	projectPath string
	logger      *zap.Logger
}

// NewAssetHandler creates an asset handler. projectPath is used when a save
// request does not name one.
func NewAssetHandler(s *store.Store, o *syncer.Orchestrator, projectPath string, logger *zap.Logger) *AssetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssetHandler{store: s, syncer: o, projectPath: projectPath, logger: logger}
}

// RegisterRoutes registers asset routes on a router that already has the
// /assets prefix. Asset ids may contain slashes.
func (h *AssetHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("", h.ListAssets).Methods("GET")
	r.HandleFunc("/modified", h.ListModified).Methods("GET")
	r.HandleFunc("/reset", h.ResetAll).Methods("POST")
	r.HandleFunc("/{id:.+}/tags/reorder", h.ReorderTags).Methods("POST")
	r.HandleFunc("/{target:.+/tags/.+}", h.DeleteTag).Methods("DELETE")
	r.HandleFunc("/{id:.+}/tags", h.AddTag).Methods("POST")
	r.HandleFunc("/{id:.+}/reset", h.ResetAsset).Methods("POST")
	r.HandleFunc("/{id:.+}/save", h.SaveAsset).Methods("POST")
	r.HandleFunc("/{id:.+}", h.GetAsset).Methods("GET")
}

// ListAssets returns every asset in load order
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets := h.store.Assets()
	views := make([]AssetView, 0, len(assets))
	for _, a := range assets {
		views = append(views, NewAssetView(a))
	}
	respondJSON(w, http.StatusOK, views)
}

// ModifiedView lists modified assets with the dirty set counts
type ModifiedView struct {
	index.Summary
	IDs []string `json:"ids"`
}

// ListModified returns the ids of modified assets in load order
func (h *AssetHandler) ListModified(w http.ResponseWriter, r *http.Request) {
	idx := h.store.Index()
	respondJSON(w, http.StatusOK, ModifiedView{Summary: idx.Summary(), IDs: idx.IDs()})
}

// GetAsset returns one asset
func (h *AssetHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, ok := h.store.Asset(mux.Vars(r)["id"])
	if !ok {
		respondJSONError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	}
	respondJSON(w, http.StatusOK, NewAssetView(a))
}

// AddTag appends a tag to an asset
func (h *AssetHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.exists(w, id) {
		return
	}

	var req validation.AddTagRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	name := validation.SanitizeText(req.Name)
	if !h.store.AddTag(id, name) {
		respondJSONError(w, http.StatusUnprocessableEntity, "not_applied", "Tag is empty or already present")
		return
	}
	h.respondAsset(w, id)
}

// DeleteTag marks a tag for deletion, or restores one already marked. Both
// the asset id and the tag name may contain slashes.
func (h *AssetHandler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, name := splitTagTarget(mux.Vars(r)["target"], func(id string) bool {
		_, ok := h.store.Asset(id)
		return ok
	})
	if !h.exists(w, id) {
		return
	}

	if !h.store.DeleteTag(id, name) {
		respondJSONError(w, http.StatusUnprocessableEntity, "not_applied", "Tag not present on asset")
		return
	}
	h.respondAsset(w, id)
}

// ReorderTags moves a tag to a new position
func (h *AssetHandler) ReorderTags(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.exists(w, id) {
		return
	}

	var req validation.ReorderTagsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if !h.store.ReorderTags(id, *req.OldIndex, *req.NewIndex) {
		respondJSONError(w, http.StatusUnprocessableEntity, "not_applied", "Indices are equal or out of range")
		return
	}
	h.respondAsset(w, id)
}

// ResetAsset discards pending edits on one asset
func (h *AssetHandler) ResetAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.store.ResetTags(id) {
		respondJSONError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	}
	h.respondAsset(w, id)
}

// ResetAll discards pending edits on every asset
func (h *AssetHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	n := h.store.ResetAllTags()
	h.logger.Info("all_tags_reset", zap.Int("assets", n))
	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}

// SaveAsset persists one asset and waits for the result
func (h *AssetHandler) SaveAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	projectPath, ok := h.resolveProject(w, r)
	if !ok {
		return
	}

	result, err := h.syncer.SaveAsset(r.Context(), id, projectPath)
	switch {
	case errors.Is(err, syncer.ErrNotFound):
		respondJSONError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	case errors.Is(err, syncer.ErrBusy):
		respondJSONError(w, http.StatusConflict, "busy", err.Error())
		return
	case err != nil:
		h.logger.Error("asset_save_failed",
			zap.String("asset_id", logpkg.SanitizeAssetID(id)),
			zap.Error(err),
		)
		respondJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to save asset")
		return
	}

	if ferr, failed := result.Failures[id]; failed {
		respondJSONError(w, http.StatusBadGateway, "save_failed", logpkg.SanitizeError(ferr))
		return
	}
	h.respondAsset(w, id)
}

// resolveProject reads an optional {project_path} body, falling back to the
// configured project
func (h *AssetHandler) resolveProject(w http.ResponseWriter, r *http.Request) (string, bool) {
	return projectFromRequest(w, r, h.projectPath)
}

func (h *AssetHandler) exists(w http.ResponseWriter, id string) bool {
	if _, ok := h.store.Asset(id); !ok {
		respondJSONError(w, http.StatusNotFound, "not_found", "Asset not found")
		return false
	}
	return true
}

func (h *AssetHandler) respondAsset(w http.ResponseWriter, id string) {
	a, ok := h.store.Asset(id)
	if !ok {
		respondJSONError(w, http.StatusNotFound, "not_found", "Asset not found")
		return
	}
	respondJSON(w, http.StatusOK, NewAssetView(a))
}

// splitTagTarget splits "<id>/tags/<name>" at the "/tags/" separator that
// names a known asset, trying the rightmost first. Without a match it splits
// at the rightmost separator.
func splitTagTarget(target string, known func(id string) bool) (id, name string) {
	const sep = "/tags/"
	fallbackID, fallbackName := "", ""
	for end := len(target); end > 0; {
		i := strings.LastIndex(target[:end], sep)
		if i < 0 {
			break
		}
		id, name = target[:i], target[i+len(sep):]
		if fallbackID == "" {
			fallbackID, fallbackName = id, name
		}
		if id != "" && name != "" && known(id) {
			return id, name
		}
		end = i
	}
	return fallbackID, fallbackName
}
