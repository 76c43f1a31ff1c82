package api

import (
	"net/http"
)

type remindersResponse struct {
	Sent int `json:"sent"`
}

// handleNormalize reports under-covered submissions in the body. With
// require_coverage=true any gap turns the answer into a 422.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	res, err := s.svc.Normalize(r.Context(), principalFrom(r), r.PathValue("event"), round, q.Get("method"))
	if err != nil {
		writeError(w, err)
		return
	}
	if q.Get("require_coverage") == "true" {
		if cerr := res.CoverageErr(); cerr != nil {
			writeError(w, cerr)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReliability(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.svc.Reliability(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sent, err := s.svc.SendReminders(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, remindersResponse{Sent: sent})
}

func (s *Server) handleAnalyticsFeed(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	feed, err := s.svc.AnalyticsFeed(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleExportAnalytics(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	feed, err := s.svc.ExportAnalytics(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}
