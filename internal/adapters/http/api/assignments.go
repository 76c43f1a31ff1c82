package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	service "github.com/Khushwant-Singh1/HackOps/internal/app"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

type completeRequest struct {
	JudgeID      string `json:"judge_id"`
	SubmissionID string `json:"submission_id"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var c model.Constraints
	if err := decode(r, &c); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.Assign(r.Context(), principalFrom(r), r.PathValue("event"), round, c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	list, err := s.svc.ListAssignments(r.Context(), principalFrom(r), repository.AssignmentFilter{
		EventID:      r.PathValue("event"),
		Round:        round,
		JudgeID:      q.Get("judge_id"),
		SubmissionID: q.Get("submission_id"),
		CountingOnly: q.Get("counting") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCompleteAssignment(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req completeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.svc.CompleteAssignment(r.Context(), principalFrom(r), r.PathValue("event"), round, req.JudgeID, req.SubmissionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var in service.ReassignInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.AssignmentID = r.PathValue("id")
	a, err := s.svc.Reassign(r.Context(), principalFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
