package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

type rubricRequest struct {
	TrackID  string            `json:"track_id"`
	Criteria []model.Criterion `json:"criteria"`
}

func (s *Server) handleCreateRubric(w http.ResponseWriter, r *http.Request) {
	var req rubricRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rb, err := s.svc.CreateRubric(r.Context(), principalFrom(r), r.PathValue("event"), req.TrackID, req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rb)
}

func (s *Server) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListRubrics(r.Context(), principalFrom(r), r.PathValue("event"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRubric(w http.ResponseWriter, r *http.Request) {
	rb, err := s.svc.GetRubric(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

func (s *Server) handleUpdateRubric(w http.ResponseWriter, r *http.Request) {
	var req rubricRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rb, err := s.svc.UpdateRubric(r.Context(), principalFrom(r), r.PathValue("id"), req.Criteria)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

func (s *Server) handleLockRubric(w http.ResponseWriter, r *http.Request) {
	rb, err := s.svc.LockRubric(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}
