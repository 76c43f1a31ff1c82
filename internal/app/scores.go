package service

import (
	"context"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/ledger"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// SubmitScore records a judge's evaluation. A stale ExpectedVersion fails
// with a ConcurrencyError and is never retried here.
func (s *Service) SubmitScore(ctx context.Context, p model.Principal, in ledger.Input) (sc model.Score, err error) {
	ctx, span := tracing.Start(ctx, "service.SubmitScore")
	defer func() {
		tracing.End(span, err)
		if err != nil {
			metrics.RecordScoreRejected(model.KindName(err))
		}
		s.observe(ctx, "submit score", err,
			logger.String("judge", in.JudgeID),
			logger.String("submission", in.SubmissionID),
			logger.Int("round", in.Round))
	}()

	if err = requireSelf(p, in.JudgeID, "submit score"); err != nil {
		return model.Score{}, err
	}
	if in.EventID != "" {
		if err = s.checkWindow(ctx, in.EventID, "submit score"); err != nil {
			return model.Score{}, err
		}
	}

	unlock := s.gates.shared(in.Key())
	sc, err = s.ledger.Submit(ctx, in)
	unlock()
	if err != nil {
		return model.Score{}, err
	}

	metrics.RecordScoreSubmitted()
	s.logger.Debug(ctx, "score recorded",
		logger.String("score", sc.ID),
		logger.String("judge", sc.JudgeID),
		logger.String("submission", sc.SubmissionID),
		logger.Float64("total", sc.Total),
		logger.Int64("version", sc.Version))
	return sc, nil
}

func (s *Service) GetScore(ctx context.Context, p model.Principal, id string) (model.Score, error) {
	if err := checkPrincipal(p, "read score"); err != nil {
		return model.Score{}, err
	}
	sc, err := s.store.GetScore(ctx, id)
	if err != nil {
		return model.Score{}, err
	}
	if !p.IsOrganizer() && sc.JudgeID != p.ID {
		return model.Score{}, &model.ForbiddenError{PrincipalID: p.ID, Op: "read score"}
	}
	return sc, nil
}

// ListScores returns scores matching the filter. Judges only see their own.
func (s *Service) ListScores(ctx context.Context, p model.Principal, f repository.ScoreFilter) ([]model.Score, error) {
	if err := checkPrincipal(p, "list scores"); err != nil {
		return nil, err
	}
	f.JudgeID = scopeJudge(p, f.JudgeID)
	return s.store.ListScores(ctx, f)
}
