package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"matchbreak/internal/dedupe"
	"matchbreak/internal/mailq"
	"matchbreak/internal/types"
)

// defaultListLimit bounds admin list responses when no limit is given.
const defaultListLimit = 50

// QueueAdminHandler exposes queue introspection and the dedupe reset for
// support staff. All routes sit behind the admin token middleware.
type QueueAdminHandler struct {
	queue  *mailq.Queue
	guard  dedupe.Guard
	logger *slog.Logger
}

// NewQueueAdminHandler wires the admin surface.
func NewQueueAdminHandler(queue *mailq.Queue, guard dedupe.Guard, logger *slog.Logger) *QueueAdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueAdminHandler{queue: queue, guard: guard, logger: logger}
}

// RegisterRoutes mounts the admin endpoints on r. The caller applies the
// auth middleware.
func (h *QueueAdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/queue/stats", h.Stats)
	r.Get("/queue/waiting", h.ListWaiting)
	r.Get("/queue/failed", h.ListFailed)
	r.Post("/bookings/{bookingID}/reset-sent", h.ResetSent)
}

// Stats returns per-state job counts.
func (h *QueueAdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to read queue stats", err))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: stats})
}

// ListWaiting returns pending jobs, soonest first.
func (h *QueueAdminHandler) ListWaiting(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListWaiting(r.Context(), listLimit(r))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to list waiting jobs", err))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: jobs})
}

// ListFailed returns terminally failed jobs with their failure reasons,
// most recent first.
func (h *QueueAdminHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListFailed(r.Context(), listLimit(r))
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to list failed jobs", err))
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: jobs})
}

// ResetSent clears the dedupe marker so support can re-trigger a
// confirmation for a booking whose email never arrived.
func (h *QueueAdminHandler) ResetSent(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	if bookingID == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "booking id is required", nil))
		return
	}
	if err := h.guard.ResetSentStatus(r.Context(), bookingID); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeInternalQueue, "failed to reset sent marker", err))
		return
	}
	h.logger.InfoContext(r.Context(), "sent marker reset", "booking_id", bookingID)
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{
		"booking_id": bookingID,
		"status":     "reset",
	}})
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultListLimit
}
