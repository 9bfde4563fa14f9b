package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// snapshotPayload is the wire form of a snapshot on REST and WebSocket.
type snapshotPayload struct {
	TakenAt time.Time         `json:"taken_at"`
	Fields  *autelis.Snapshot `json:"fields"`
}

func newSnapshotPayload(snap *autelis.Snapshot) snapshotPayload {
	return snapshotPayload{TakenAt: snap.TakenAt(), Fields: snap}
}

// fieldResponse is the body of GET /state/{field}.
type fieldResponse struct {
	Field   string        `json:"field"`
	Value   autelis.Value `json:"value"`
	Kind    autelis.Kind  `json:"kind"`
	TakenAt time.Time     `json:"taken_at"`
}

// commandResponse is the body of PUT /devices/{name}/state.
type commandResponse struct {
	Device  string                `json:"device"`
	Native  string                `json:"native,omitempty"`
	Desired string                `json:"desired"`
	Outcome autelis.Outcome       `json:"outcome"`
	Request *autelis.WriteRequest `json:"request,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// handleGetState returns the current snapshot.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	snap := s.bridge.Snapshot()
	if snap == nil {
		writeUnavailable(w, "no snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotPayload(snap))
}

// handleGetField returns one field of the current snapshot.
func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	snap := s.bridge.Snapshot()
	if snap == nil {
		writeUnavailable(w, "no snapshot yet")
		return
	}

	field := chi.URLParam(r, "field")
	v, ok := snap.Get(field)
	if !ok {
		writeNotFound(w, "field not found: "+field)
		return
	}
	writeJSON(w, http.StatusOK, fieldResponse{
		Field:   field,
		Value:   v,
		Kind:    v.Kind,
		TakenAt: snap.TakenAt(),
	})
}

// handleFieldHistory returns recorded changes of one field, newest first.
func (s *Server) handleFieldHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	field := chi.URLParam(r, "field")
	changes, err := s.history.GetFieldHistory(r.Context(), field, limit)
	if err != nil {
		s.logger.Error("failed to read field history", "field", field, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"field":   field,
		"changes": changes,
		"count":   len(changes),
	})
}

// handleListCommands returns the command audit log, newest first.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "history is disabled")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := s.history.ListCommands(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list commands", "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

// handleQueue returns the setpoint writes waiting for the request queue.
func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	pending := s.bridge.PendingWrites()
	if pending == nil {
		pending = []autelis.WriteRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"depth":   len(pending),
	})
}

// handleSetDeviceState runs a command through the bridge's command processor.
//
// The body takes the same shapes as an MQTT command payload, normally
// {"state": "on"} or {"state": 84}.
func (s *Server) handleSetDeviceState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}
	desired, err := autelis.DecodeCommandPayload(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	device := chi.URLParam(r, "name")
	res := s.bridge.Command(r.Context(), device, desired)

	s.logger.Info("command via API",
		"device", res.Device,
		"desired", res.Desired,
		"outcome", res.Outcome,
		"subject", subjectFromContext(r.Context()),
		"request_id", r.Context().Value(ctxKeyRequestID),
	)

	resp := commandResponse{
		Device:  res.Device,
		Native:  res.Native,
		Desired: res.Desired,
		Outcome: res.Outcome,
		Request: res.Request,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, outcomeStatus(res.Outcome), resp)
}

// handlePoll triggers an immediate poll of the controller.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	err := s.bridge.PollNow(r.Context())
	switch {
	case err == nil:
		snap := s.bridge.Snapshot()
		writeJSON(w, http.StatusOK, newSnapshotPayload(snap))
	case errors.Is(err, autelis.ErrPollInFlight):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a poll is already in flight")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}

// outcomeStatus maps a command outcome to an HTTP status code.
func outcomeStatus(o autelis.Outcome) int {
	switch o {
	case autelis.OutcomeDispatched, autelis.OutcomeQueued:
		return http.StatusAccepted
	case autelis.OutcomeRejected:
		return http.StatusUnprocessableEntity
	case autelis.OutcomeFailed:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// parseLimit reads the optional limit query parameter. It writes a 400 and
// returns false when the value is not a non-negative integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
