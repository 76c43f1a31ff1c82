package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	service "github.com/Khushwant-Singh1/HackOps/internal/app"
)

type resolveRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleDetectConflicts(w http.ResponseWriter, r *http.Request) {
	flags, err := s.svc.DetectConflicts(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleDeclareConflict(w http.ResponseWriter, r *http.Request) {
	var in service.DeclareInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.EventID = r.PathValue("event")
	flag, err := s.svc.DeclareConflict(r.Context(), principalFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flag)
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flags, err := s.svc.ListConflicts(r.Context(), principalFrom(r), repository.ConflictFilter{
		EventID:        r.PathValue("event"),
		JudgeID:        q.Get("judge_id"),
		SubmissionID:   q.Get("submission_id"),
		UnresolvedOnly: q.Get("unresolved") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	flag, err := s.svc.ResolveConflict(r.Context(), principalFrom(r), r.PathValue("id"), req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}
