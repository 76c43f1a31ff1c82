package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
)

type unlockRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.svc.GetRound(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleLockRound(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.svc.LockRound(r.Context(), principalFrom(r), r.PathValue("event"), round)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	state, err := s.svc.FinalizeSubmission(r.Context(), principalFrom(r), r.PathValue("event"), round, r.PathValue("submission"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req unlockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := s.svc.UnlockSubmission(r.Context(), principalFrom(r), r.PathValue("event"), round, r.PathValue("submission"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	round, err := intQuery(r, "round")
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.svc.ListAudit(r.Context(), principalFrom(r), repository.AuditFilter{
		EventID: r.PathValue("event"),
		Round:   round,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
