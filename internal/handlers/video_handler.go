// -----------------------------------------------------------------------
// Last Modified: Friday, 17th April 2026 9:21:14 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/specto/internal/common"
	"github.com/ternarybob/specto/internal/interfaces"
)

// VideoHandler serves the video status API: the pull surface viewers
// resync from, the selection and submission mutations, and the producer
// injection endpoint that feeds the status queue.
type VideoHandler struct {
	store       interfaces.StatusStore
	selection   interfaces.SelectionService
	queue       interfaces.QueueManager
	statusQueue string
	logger      arbor.ILogger
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(store interfaces.StatusStore, selection interfaces.SelectionService, queue interfaces.QueueManager, config *common.Config, logger arbor.ILogger) *VideoHandler {
	return &VideoHandler{
		store:       store,
		selection:   selection,
		queue:       queue,
		statusQueue: config.Queue.StatusQueue,
		logger:      logger,
	}
}

// ListVideosHandler returns every tracked video
// GET /api/videos
func (h *VideoHandler) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	videos, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list videos")
		WriteError(w, http.StatusInternalServerError, "Failed to list videos")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"videos": videos,
		"count":  len(videos),
	})
}

// GetVideoHandler returns a single video by canonical or alternate id
// GET /api/videos/{id}
func (h *VideoHandler) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Extract video ID from path: /api/videos/{id}
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 3 || pathParts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Video ID is required")
		return
	}
	videoID := pathParts[2]

	video, err := h.store.Get(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, interfaces.ErrVideoNotFound) {
			WriteError(w, http.StatusNotFound, "Video not found")
			return
		}
		h.logger.Error().Err(err).Str("video_id", videoID).Msg("Failed to get video")
		WriteError(w, http.StatusInternalServerError, "Failed to get video")
		return
	}

	WriteJSON(w, http.StatusOK, video)
}

// BatchStatusHandler resolves a set of identities in one round trip.
// Unknown ids are skipped, not errors: viewers batch-probe freely.
// POST /api/videos/status/batch
func (h *VideoHandler) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		IDs []string `json:"ids" validate:"required,min=1"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	videos, err := h.store.GetBatch(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error().Err(err).Int("requested", len(req.IDs)).Msg("Failed to get video batch")
		WriteError(w, http.StatusInternalServerError, "Failed to get video batch")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"videos": videos,
		"count":  len(videos),
	})
}

// IngestStatusHandler accepts a raw status report and enqueues it for the
// ingestion adapter. The payload is not normalized here: producers drift,
// and the adapter owns the tolerant decode. Anything that is valid JSON
// is accepted and queued as-is.
// POST /api/videos/status
func (h *VideoHandler) IngestStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()

	if len(payload) == 0 || !json.Valid(payload) {
		WriteError(w, http.StatusBadRequest, "Request body must be a JSON status report")
		return
	}

	messageID, err := h.queue.Publish(r.Context(), h.statusQueue, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to enqueue status report")
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue status report")
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"message_id": messageID,
	})
}

// SelectVideoHandler marks a pending video as selected
// POST /api/videos/{id}/select
func (h *VideoHandler) SelectVideoHandler(w http.ResponseWriter, r *http.Request) {
	h.applySelection(w, r, true)
}

// DeselectVideoHandler clears the selection flag
// POST /api/videos/{id}/deselect
func (h *VideoHandler) DeselectVideoHandler(w http.ResponseWriter, r *http.Request) {
	h.applySelection(w, r, false)
}

func (h *VideoHandler) applySelection(w http.ResponseWriter, r *http.Request, selected bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	// Extract video ID from path: /api/videos/{id}/select or /deselect
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 || pathParts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Video ID is required")
		return
	}
	videoID := pathParts[2]

	var changed bool
	var err error
	if selected {
		changed, err = h.selection.Select(r.Context(), videoID)
	} else {
		changed, err = h.selection.Deselect(r.Context(), videoID)
	}
	if err != nil {
		if errors.Is(err, interfaces.ErrVideoNotFound) {
			WriteError(w, http.StatusNotFound, "Video not found")
			return
		}
		h.logger.Error().Err(err).Str("video_id", videoID).Bool("selected", selected).Msg("Failed to update selection")
		WriteError(w, http.StatusInternalServerError, "Failed to update selection")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": videoID,
		"selected": selected,
		"changed":  changed,
	})
}

// SelectBatchHandler applies the selection rule to each member
// independently and reports the per-member outcome
// POST /api/videos/select-batch
func (h *VideoHandler) SelectBatchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		IDs      []string `json:"ids" validate:"required,min=1"`
		Selected bool     `json:"selected"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.selection.SelectBatch(r.Context(), req.IDs, req.Selected)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to apply batch selection")
		WriteError(w, http.StatusInternalServerError, "Failed to apply batch selection")
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// SubmitVideosHandler hands the pending members to the worker cluster as
// one batch under a parent id. Rejected members are reported in the
// response, never fatal; an empty accepted set publishes nothing.
// POST /api/videos/submit
func (h *VideoHandler) SubmitVideosHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		ParentID string   `json:"parent_id"`
		IDs      []string `json:"ids" validate:"required,min=1"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	parentID, result, err := h.selection.Submit(r.Context(), req.ParentID, req.IDs)
	if err != nil {
		// The accepted members are already processing; the batch just never
		// reached the cluster. Surface both so the caller can retry or reset.
		h.logger.Error().Err(err).Str("parent_id", parentID).Msg("Failed to publish submission batch")
		WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "error",
			"error":     "Failed to publish submission batch",
			"parent_id": parentID,
			"accepted":  result.Accepted,
			"rejected":  result.Rejected,
		})
		return
	}

	h.logger.Info().
		Str("parent_id", parentID).
		Int("accepted", result.Accepted).
		Int("rejected", result.Rejected).
		Msg("Submission batch accepted")

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"parent_id":    parentID,
		"accepted":     result.Accepted,
		"rejected":     result.Rejected,
		"rejected_ids": result.RejectedIDs,
	})
}

// ResetVideoHandler returns a video to pending through the gated reset.
// An actively processing record is refused with 409 rather than touched.
// POST /api/videos/{id}/reset
func (h *VideoHandler) ResetVideoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	// Extract video ID from path: /api/videos/{id}/reset
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 4 || pathParts[2] == "" {
		WriteError(w, http.StatusBadRequest, "Video ID is required")
		return
	}
	videoID := pathParts[2]

	if err := h.selection.Reset(r.Context(), videoID); err != nil {
		switch {
		case errors.Is(err, interfaces.ErrVideoNotFound):
			WriteError(w, http.StatusNotFound, "Video not found")
		case errors.Is(err, interfaces.ErrActivelyProcessing):
			WriteJSON(w, http.StatusConflict, map[string]string{
				"status": "error",
				"error":  "Video is actively processing",
				"reason": "last update is younger than the stale threshold",
			})
		default:
			h.logger.Error().Err(err).Str("video_id", videoID).Msg("Failed to reset video")
			WriteError(w, http.StatusInternalServerError, "Failed to reset video")
		}
		return
	}

	h.logger.Info().Str("video_id", videoID).Msg("Video reset to pending")

	WriteJSON(w, http.StatusOK, map[string]string{
		"video_id": videoID,
		"message":  "Video reset to pending",
	})
}
