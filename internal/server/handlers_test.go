package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku/internal/model"
	"github.com/ashita-ai/kansoku/internal/testutil"
)

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) model.APIResponse {
	t.Helper()
	var resp model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var apiErr model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

// validationHandlers builds Handlers with no backing store. Only paths that
// reject the request before touching storage may be exercised with these.
func validationHandlers() *Handlers {
	return NewHandlers(HandlersDeps{
		Logger:              testutil.TestLogger(),
		MaxRequestBodyBytes: 1 << 20,
	})
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubmitEventRejectsMissingFields(t *testing.T) {
	h := validationHandlers()
	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing source_app", `{"session_id":"s1","event_type":"Stop"}`},
		{"missing session_id", `{"source_app":"app","event_type":"Stop"}`},
		{"missing event_type", `{"source_app":"app","session_id":"s1"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.HandleSubmitEvent(rec, postJSON("/events", tc.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, model.ErrCodeInvalidInput, decodeAPIError(t, rec).Error.Code)
		})
	}
}

func TestSubmitEventRejectsOversizedField(t *testing.T) {
	h := validationHandlers()
	long := strings.Repeat("a", model.MaxSourceAppLen+1)
	rec := httptest.NewRecorder()
	h.HandleSubmitEvent(rec, postJSON("/events",
		`{"source_app":"`+long+`","session_id":"s1","event_type":"Stop"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentEventsRejectsBadQuery(t *testing.T) {
	h := validationHandlers()

	rec := httptest.NewRecorder()
	h.HandleRecentEvents(rec, httptest.NewRequest(http.MethodGet, "/events/recent?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleRecentEvents(rec, httptest.NewRequest(http.MethodGet, "/events/recent?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleRecentEvents(rec, httptest.NewRequest(http.MethodGet, "/events/recent?priority=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterSubagentRejectsInvalid(t *testing.T) {
	h := validationHandlers()

	rec := httptest.NewRecorder()
	h.HandleRegisterSubagent(rec, postJSON("/subagents/register", `{"session_id":"s1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	long := strings.Repeat("n", model.MaxSubagentNameLen+1)
	rec = httptest.NewRecorder()
	h.HandleRegisterSubagent(rec, postJSON("/subagents/register",
		`{"session_id":"s1","name":"`+long+`"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageRejectsInvalid(t *testing.T) {
	h := validationHandlers()

	rec := httptest.NewRecorder()
	h.HandleSendMessage(rec, postJSON("/subagents/message", `{"message":{"a":1}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleSendMessage(rec, postJSON("/subagents/message", `{"sender":"Alpha"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnreadRequiresName(t *testing.T) {
	h := validationHandlers()
	rec := httptest.NewRecorder()
	h.HandleUnreadMessages(rec, postJSON("/subagents/unread", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportCompletionRejectsBadStatus(t *testing.T) {
	h := validationHandlers()

	rec := httptest.NewRecorder()
	h.HandleReportCompletion(rec, postJSON("/subagents/completion",
		`{"session_id":"s1","name":"Alpha","status":"active"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleReportCompletion(rec, postJSON("/subagents/completion",
		`{"session_id":"s1","name":"Alpha","status":"done"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleReportCompletion(rec, postJSON("/subagents/completion", `{"name":"Alpha"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionWindowRejectsBadRange(t *testing.T) {
	h := validationHandlers()

	rec := httptest.NewRecorder()
	h.HandleSessionWindow(rec, httptest.NewRequest(http.MethodGet, "/sessions?start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.HandleSessionWindow(rec, httptest.NewRequest(http.MethodGet,
		"/sessions?start=2026-08-02T00:00:00Z&end=2026-08-01T00:00:00Z", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeAPIError(t, rec).Error.Code)

	rec = httptest.NewRecorder()
	h.HandleSessionWindow(rec, httptest.NewRequest(http.MethodGet, "/sessions?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRestorePriorityRejectsBadSnapshotID(t *testing.T) {
	h := validationHandlers()
	rec := httptest.NewRecorder()
	h.HandleRestorePriority(rec, postJSON("/admin/priority/restore", `{"snapshot_id":"not-a-uuid"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
