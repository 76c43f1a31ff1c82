package api

import (
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/ledger"
)

// handleSubmitScore answers 412 when expected_version is stale; the client
// re-reads the score and retries.
func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in ledger.Input
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.EventID, in.Round = r.PathValue("event"), round
	sc, err := s.svc.SubmitScore(r.Context(), principalFrom(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleListScores(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	list, err := s.svc.ListScores(r.Context(), principalFrom(r), repository.ScoreFilter{
		EventID:       r.PathValue("event"),
		Round:         round,
		JudgeID:       q.Get("judge_id"),
		SubmissionID:  q.Get("submission_id"),
		IncludeVoided: q.Get("include_voided") == "true",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	sc, err := s.svc.GetScore(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}
