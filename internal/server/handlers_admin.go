package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/storage"
)

// HandleBackupPriority handles POST /admin/priority/backup. Snapshots every
// event's priority state into the recovery table, then clears it. Returns the
// snapshot id needed to restore.
func (h *Handlers) HandleBackupPriority(w http.ResponseWriter, r *http.Request) {
	snapshotID, count, err := h.db.BackupPriority(r.Context())
	if errors.Is(err, storage.ErrDegradedSchema) {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "priority schema not available on this store")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to back up priority state", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"snapshot_id": snapshotID,
		"events":      count,
	})
}

// restoreRequest is the body of POST /admin/priority/restore.
type restoreRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

// HandleRestorePriority handles POST /admin/priority/restore.
func (h *Handlers) HandleRestorePriority(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	snapshotID, err := uuid.Parse(req.SnapshotID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "snapshot_id must be a UUID")
		return
	}

	count, err := h.db.RestorePriority(r.Context(), snapshotID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "snapshot not found")
		return
	}
	if errors.Is(err, storage.ErrDegradedSchema) {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidInput, "priority schema not available on this store")
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to restore priority state", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"snapshot_id": snapshotID,
		"events":      count,
	})
}
