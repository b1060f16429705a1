package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"tradelab/internal/backtest"
	"tradelab/internal/domain"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

// maxBody caps request bodies; batch requests list instruments, not data.
const maxBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "websocket_sessions": s.hub.Len()})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Registry().Describe())
}

func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	iv := domain.Interval(strings.TrimSpace(r.URL.Query().Get("interval")))
	ids, err := s.engine.Instruments(r.Context(), iv)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, InstrumentsResponse{Interval: iv, Instruments: ids})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.Single()
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.engine.Run(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.Batch()
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.batcher.RunBatch(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStream writes batch events as Server-Sent Events, one "data:" line
// per event, until the batch completes or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, errors.New("streaming unsupported"))
		return
	}

	var body RunRequest
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := body.Batch()
	if err != nil {
		s.writeError(w, err)
		return
	}
	events, err := s.batcher.Stream(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.Error("encoding stream event", "type", ev.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			s.log.Info("stream client gone", "error", err)
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := strings.ToUpper(strings.TrimSpace(r.PathValue("instrument")))
	if id == "" {
		s.writeError(w, &strategy.ValidationError{Field: "instrument_id", Reason: "required"})
		return
	}
	n, err := s.engine.Invalidate(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("cache invalidated", "instrument", id, "removed", n)
	writeJSON(w, http.StatusOK, InvalidateResponse{InstrumentID: id, Removed: n})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &strategy.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *backtest.FetchError
	switch {
	case backtest.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backtest.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, backtest.ErrListingUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &fe) && fe.Transient(), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	var ve *strategy.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status >= 500 {
		s.log.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}
