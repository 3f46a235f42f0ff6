package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mjasion/balena-home/dashboard/control"
	"github.com/mjasion/balena-home/dashboard/state"
	"github.com/mjasion/balena-home/dashboard/view"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error string `json:"error"`
}

type modeResponse struct {
	Changed bool      `json:"changed"`
	View    view.View `json:"view"`
}

func (s *Server) currentView() view.View {
	return view.Render(s.opts.Variant, s.opts.Store.Snapshot())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Store.Snapshot())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil {
		s.writeError(w, http.StatusNotImplemented, control.ErrUnsupported)
		return
	}

	vars := mux.Vars(r)
	var on bool
	switch strings.ToUpper(vars["action"]) {
	case "ON":
		on = true
	case "OFF":
	default:
		s.writeError(w, http.StatusBadRequest, errors.New("action must be ON or OFF"))
		return
	}

	if err := s.opts.Controller.SetDevice(r.Context(), vars["device"], on); err != nil {
		s.writeError(w, commandStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil {
		s.writeError(w, http.StatusNotImplemented, control.ErrUnsupported)
		return
	}

	target, err := state.ParseMode(mux.Vars(r)["mode"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	changed, err := s.opts.Controller.SelectMode(r.Context(), target)
	if err != nil {
		s.writeError(w, commandStatus(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, modeResponse{Changed: changed, View: s.currentView()})
}

// commandStatus maps controller errors to HTTP status codes. Anything not
// recognised came from the backend.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, control.ErrNotManual):
		return http.StatusConflict
	case errors.Is(err, control.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, control.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
