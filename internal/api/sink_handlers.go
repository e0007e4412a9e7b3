package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListSinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sinks.ListSinks())
}

func (s *Server) handleGetSink(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	entry, ok := s.sinks.GetSink(name)
	if !ok {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetLatency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	latency, err := s.sinks.GetSinkLatency(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latency_usec": latency.Microseconds(),
	})
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Volumes []uint32 `json:"volumes"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if len(req.Volumes) == 0 {
		writeError(w, http.StatusBadRequest, "volumes must not be empty")
		return
	}

	if err := s.sinks.SetSinkVolume(name, req.Volumes); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, _ := s.sinks.GetSink(name)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSetMute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Muted bool `json:"muted"`
	}
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.sinks.SetSinkMuted(name, req.Muted); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, _ := s.sinks.GetSink(name)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.sinks.SuspendSink(name, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, _ := s.sinks.GetSink(name)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.sinks.SuspendSink(name, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, _ := s.sinks.GetSink(name)
	writeJSON(w, http.StatusOK, entry)
}
