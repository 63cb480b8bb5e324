package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ideastake/ledgerbeat/internal/events"
	"github.com/ideastake/ledgerbeat/internal/heartbeat"
	"github.com/ideastake/ledgerbeat/internal/history"
)

// HeartbeatStatusResponse is returned by the status, start and stop endpoints.
type HeartbeatStatusResponse struct {
	Running           bool       `json:"running"`
	IntervalSeconds   int        `json:"interval_seconds"`
	Endpoint          string     `json:"endpoint"`
	LastTransactionID string     `json:"last_transaction_id,omitempty"`
	LastSource        string     `json:"last_source,omitempty"`
	LastCompletedAt   *time.Time `json:"last_completed_at,omitempty"`
}

// IntervalRequest is the body of PUT /api/heartbeat/interval.
type IntervalRequest struct {
	Seconds int `json:"seconds" validate:"required,gt=0"`
}

// IntervalResponse reports the configured interval.
type IntervalResponse struct {
	Seconds int `json:"seconds"`
}

// TransactionResponse carries a transaction signature.
type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
}

// HistoryResponse is returned by GET /api/heartbeat/history.
type HistoryResponse struct {
	Attempts []history.Entry `json:"attempts"`
	Stats    history.Stats   `json:"stats"`
}

// HeartbeatHandlers serves the /api/heartbeat routes.
type HeartbeatHandlers struct {
	hb      HeartbeatController
	history HistoryReader
	bus     *events.Bus
	log     zerolog.Logger
}

// NewHeartbeatHandlers creates the handlers. history and bus may be nil.
func NewHeartbeatHandlers(hb HeartbeatController, hist HistoryReader, bus *events.Bus, log zerolog.Logger) *HeartbeatHandlers {
	return &HeartbeatHandlers{
		hb:      hb,
		history: hist,
		bus:     bus,
		log:     log.With().Str("component", "heartbeat_handlers").Logger(),
	}
}

// HandleStatus handles GET /api/heartbeat
func (h *HeartbeatHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatusResponse(h.hb.Status()))
}

// HandleStart handles POST /api/heartbeat/start
func (h *HeartbeatHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.hb.Start(); err != nil {
		h.log.Error().Err(err).Msg("Failed to start heartbeat")
		writeDomainError(w, err)
		return
	}
	st := h.hb.Status()
	h.emit(events.ActionStarted, st)
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

// HandleStop handles POST /api/heartbeat/stop. It blocks until the loop
// has exited, which may include an in-flight tick.
func (h *HeartbeatHandlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.hb.Stop(); err != nil {
		h.log.Error().Err(err).Msg("Heartbeat loop ended abnormally")
		if !errors.Is(err, heartbeat.ErrLoopAborted) {
			writeDomainError(w, err)
			return
		}
		h.emit(events.ActionStopped, h.hb.Status())
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Kind: "loop_aborted"})
		return
	}
	st := h.hb.Status()
	h.emit(events.ActionStopped, st)
	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

// HandleGetInterval handles GET /api/heartbeat/interval
func (h *HeartbeatHandlers) HandleGetInterval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IntervalResponse{Seconds: h.hb.Status().IntervalSeconds})
}

// HandleSetInterval handles PUT /api/heartbeat/interval
func (h *HeartbeatHandlers) HandleSetInterval(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[IntervalRequest](r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.hb.SetInterval(req.Seconds); err != nil {
		writeDomainError(w, err)
		return
	}
	h.emit(events.ActionIntervalChanged, h.hb.Status())
	writeJSON(w, http.StatusOK, IntervalResponse{Seconds: req.Seconds})
}

// HandleLast handles GET /api/heartbeat/last
func (h *HeartbeatHandlers) HandleLast(w http.ResponseWriter, r *http.Request) {
	st := h.hb.Status()
	if st.LastResult == nil {
		writeError(w, http.StatusNotFound, "no successful heartbeat yet", "")
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{TransactionID: st.LastResult.TransactionID})
}

// HandleTrigger handles POST /api/heartbeat/trigger. It runs one heartbeat
// synchronously, whether or not the loop is running.
func (h *HeartbeatHandlers) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	txID, err := h.hb.TriggerNow(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{TransactionID: txID})
}

// HandleHistory handles GET /api/heartbeat/history?limit=n
func (h *HeartbeatHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled", "")
		return
	}

	limit := history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > history.MaxLimit {
			writeDomainError(w, &ValidationError{Field: "limit", Message: "limit must be between 1 and " + strconv.Itoa(history.MaxLimit)})
			return
		}
		limit = n
	}

	entries, err := h.history.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, "failed to read history", "")
		return
	}
	stats, err := h.history.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read history stats")
		writeError(w, http.StatusInternalServerError, "failed to read history", "")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{Attempts: entries, Stats: stats})
}

func (h *HeartbeatHandlers) emit(action string, st heartbeat.Status) {
	if h.bus == nil {
		return
	}
	h.bus.Emit("heartbeat", &events.SupervisorData{
		Action:          action,
		Running:         st.Running,
		IntervalSeconds: st.IntervalSeconds,
	})
}

func toStatusResponse(st heartbeat.Status) HeartbeatStatusResponse {
	resp := HeartbeatStatusResponse{
		Running:         st.Running,
		IntervalSeconds: st.IntervalSeconds,
		Endpoint:        st.Endpoint,
	}
	if st.LastResult != nil {
		completed := st.LastResult.CompletedAt
		resp.LastTransactionID = st.LastResult.TransactionID
		resp.LastSource = string(st.LastResult.Source)
		resp.LastCompletedAt = &completed
	}
	return resp
}
