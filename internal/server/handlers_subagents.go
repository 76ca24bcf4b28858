package server

import (
	"net/http"

	"github.com/ashita-ai/kansoku/internal/model"
)

// HandleRegisterSubagent handles POST /subagents/register.
func (h *Handlers) HandleRegisterSubagent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterSubagentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	id, swept, err := h.db.RegisterSubagent(r.Context(), req.SessionID, req.Name, req.SubagentType)
	if err != nil {
		h.writeInternalError(w, r, "failed to register subagent", err)
		return
	}

	// The inline sweep is a registry change too; observers hear about the
	// terminations before the registration that triggered them.
	for _, a := range swept {
		h.hub.PublishSubagent(a.SessionID, map[string]any{
			"action":     "terminated",
			"session_id": a.SessionID,
			"name":       a.Name,
		})
	}

	h.hub.PublishSubagent(req.SessionID, map[string]any{
		"action":        "registered",
		"id":            id,
		"session_id":    req.SessionID,
		"name":          req.Name,
		"subagent_type": req.SubagentType,
	})

	writeJSON(w, r, http.StatusCreated, map[string]any{"id": id})
}

// HandleSendMessage handles POST /subagents/message.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	msg, err := h.db.SendMessage(r.Context(), req.Sender, req.Message)
	if err != nil {
		h.writeInternalError(w, r, "failed to send message", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{"id": msg.ID})
}

// HandleUnreadMessages handles POST /subagents/unread. Each returned message
// is marked as seen for the polling name before the response is written, so
// a re-poll never re-delivers.
func (h *Handlers) HandleUnreadMessages(w http.ResponseWriter, r *http.Request) {
	var req model.UnreadRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.SubagentName == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "subagent_name is required")
		return
	}

	msgs, err := h.db.UnreadMessages(r.Context(), req.SubagentName)
	if err != nil {
		h.writeInternalError(w, r, "failed to load unread messages", err)
		return
	}
	if msgs == nil {
		msgs = []model.UnreadMessage{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleReportCompletion handles POST /subagents/completion. Targets the most
// recent registration of the session+name pair; a missing pair is a 404, not
// an error.
func (h *Handlers) HandleReportCompletion(w http.ResponseWriter, r *http.Request) {
	var req model.CompletionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Status != nil {
		switch model.SubagentStatus(*req.Status) {
		case model.StatusCompleted, model.StatusTerminated:
		default:
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "status must be completed or terminated")
			return
		}
	}

	updated, err := h.db.ReportCompletion(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "failed to report completion", err)
		return
	}
	if !updated {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no subagent matches session_id and name")
		return
	}

	h.hub.PublishSubagent(req.SessionID, map[string]any{
		"action":     "completed",
		"session_id": req.SessionID,
		"name":       req.Name,
	})

	writeJSON(w, r, http.StatusOK, map[string]any{"updated": true})
}

// HandleUpdatePrompt handles POST /subagents/prompt.
func (h *Handlers) HandleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req model.UpdatePromptRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.db.UpdateSubagentPrompt(r.Context(), req.SessionID, req.Name, req.InitialPrompt)
	if err != nil {
		h.writeInternalError(w, r, "failed to update prompt", err)
		return
	}
	if !updated {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no subagent matches session_id and name")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"updated": true})
}

// HandleListSubagents handles GET /subagents/{session_id}.
func (h *Handlers) HandleListSubagents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "session_id is required")
		return
	}

	agents, err := h.db.ListSubagents(r.Context(), sessionID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list subagents", err)
		return
	}
	if agents == nil {
		agents = []model.Subagent{}
	}
	writeJSON(w, r, http.StatusOK, agents)
}
