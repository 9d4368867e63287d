// Package httpapi exposes the control API: start and stop calibration,
// inspect status and profiles, and read current estimates.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/luxd/internal/calibration"
	"github.com/dokzlo13/luxd/internal/ledger"
	"github.com/dokzlo13/luxd/internal/profile"
)

// ErrUnknownRoom is returned by Service implementations for rooms that are
// not configured.
var ErrUnknownRoom = errors.New("unknown room")

// Service is the application surface the API exposes
type Service interface {
	Rooms() []string
	StartCalibration(ctx context.Context, room string) error
	StopCalibration(room string) error
	CalibrationStatus(room string) (calibration.Status, error)
	Estimate(ctx context.Context, room string) (float64, bool, error)
	Profile(room string) (*profile.Profile, error)
	History(room string, limit int) ([]*ledger.Entry, error)
}

// Server is the control API HTTP server
type Server struct {
	addr       string
	svc        Service
	httpServer *http.Server
}

// NewServer creates a new control API server
func NewServer(host string, port int, svc Service) *Server {
	return &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		svc:  svc,
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/rooms", s.handleRooms)
	mux.HandleFunc("GET /api/rooms/{room}/status", s.handleStatus)
	mux.HandleFunc("GET /api/rooms/{room}/estimate", s.handleEstimate)
	mux.HandleFunc("GET /api/rooms/{room}/profile", s.handleProfile)
	mux.HandleFunc("GET /api/rooms/{room}/history", s.handleHistory)
	mux.HandleFunc("POST /api/rooms/{room}/calibration/start", s.handleStart)
	mux.HandleFunc("POST /api/rooms/{room}/calibration/stop", s.handleStop)

	return mux
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting control API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control API shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	type roomInfo struct {
		Name       string `json:"name"`
		Calibrated bool   `json:"calibrated"`
		Phase      string `json:"phase"`
	}

	rooms := s.svc.Rooms()
	out := make([]roomInfo, 0, len(rooms))
	for _, room := range rooms {
		info := roomInfo{Name: room}
		if st, err := s.svc.CalibrationStatus(room); err == nil {
			info.Phase = st.Label
		}
		if p, err := s.svc.Profile(room); err == nil && p != nil {
			info.Calibrated = true
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	err := s.svc.StartCalibration(r.Context(), room)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "room": room})
	case errors.Is(err, ErrUnknownRoom):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, calibration.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, calibration.ErrNoUsableLights):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	err := s.svc.StopCalibration(room)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopping", "room": room})
	case errors.Is(err, ErrUnknownRoom):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, calibration.ErrNotRunning):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	st, err := s.svc.CalibrationStatus(room)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	lux, ok, err := s.svc.Estimate(r.Context(), room)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("room %q is not calibrated", room))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room":          room,
		"estimated_lux": lux,
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	p, err := s.svc.Profile(room)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("room %q has no calibration profile", room))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	entries, err := s.svc.History(room, limit)
	if err != nil {
		if errors.Is(err, ErrUnknownRoom) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	type historyEntry struct {
		EventType string         `json:"event_type"`
		Timestamp time.Time      `json:"timestamp"`
		RunID     string         `json:"run_id"`
		Payload   map[string]any `json:"payload,omitempty"`
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			EventType: string(e.EventType),
			Timestamp: e.Timestamp,
			RunID:     e.RunID,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
