package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Path values win over body fields so a record cannot be written under
// another event or id.

func (s *Server) handleUpsertJudge(w http.ResponseWriter, r *http.Request) {
	var j model.Judge
	if err := decode(r, &j); err != nil {
		writeError(w, err)
		return
	}
	j.EventID, j.ID = r.PathValue("event"), r.PathValue("id")
	if err := s.svc.UpsertJudge(r.Context(), principalFrom(r), j); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleListJudges(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListJudges(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertTeam(w http.ResponseWriter, r *http.Request) {
	var t model.Team
	if err := decode(r, &t); err != nil {
		writeError(w, err)
		return
	}
	t.EventID, t.ID = r.PathValue("event"), r.PathValue("id")
	if err := s.svc.UpsertTeam(r.Context(), principalFrom(r), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListTeams(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpsertSubmission(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := decode(r, &sub); err != nil {
		writeError(w, err)
		return
	}
	sub.EventID, sub.ID = r.PathValue("event"), r.PathValue("id")
	if err := s.svc.UpsertSubmission(r.Context(), principalFrom(r), sub); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSubmissions(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	var win model.JudgingWindow
	if err := decode(r, &win); err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.SetJudgingWindow(r.Context(), principalFrom(r), r.PathValue("event"), win); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *Server) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	win, err := s.svc.JudgingWindow(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}
