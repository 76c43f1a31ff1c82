package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/analytics"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/normalize"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/reliability"
	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
	"github.com/Khushwant-Singh1/HackOps/pkg/metrics"
	"github.com/Khushwant-Singh1/HackOps/pkg/tracing"
)

// NormalizationResult is the normalized view of a round at Version.
// UnderCovered lists submissions that received no aggregate.
type NormalizationResult struct {
	EventID      string              `json:"event_id"`
	Round        int                 `json:"round"`
	Version      int64               `json:"version"`
	Method       normalize.Method    `json:"method"`
	Values       []normalize.Value   `json:"values"`
	Entries      []normalize.Entry   `json:"entries"`
	UnderCovered []model.CoverageGap `json:"under_covered"`
	ComputedAt   time.Time           `json:"computed_at"`
}

// CoverageErr returns the under-coverage report as an error, or nil.
func (r NormalizationResult) CoverageErr() error {
	if len(r.UnderCovered) == 0 {
		return nil
	}
	return &model.CoverageError{Gaps: r.UnderCovered}
}

// ReliabilityResult is the reliability report of a round.
type ReliabilityResult struct {
	EventID string `json:"event_id"`
	Round   int    `json:"round"`
	Version int64  `json:"version"`
	reliability.Report
}

func (s *Service) resolveMethod(method string) (normalize.Normalizer, error) {
	if method == "" {
		method = string(s.normalizationMethod)
	}
	return normalize.ForMethod(normalize.Method(method))
}

// Normalize computes and stores normalized scores for a round, retrying when
// a write lands mid-computation. Concurrent calls for one round share a
// single computation, and results are cached per round version.
func (s *Service) Normalize(ctx context.Context, p model.Principal, eventID string, round int, method string) (res NormalizationResult, err error) {
	ctx, span := tracing.Start(ctx, "service.Normalize")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "normalize", err, logger.String("event", eventID), logger.Int("round", round))
	}()

	if err = requireOrganizer(p, "normalize"); err != nil {
		return NormalizationResult{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return NormalizationResult{}, err
	}
	n, err := s.resolveMethod(method)
	if err != nil {
		return NormalizationResult{}, err
	}
	return s.normalized(ctx, key, n)
}

func (s *Service) normalized(ctx context.Context, key model.RoundKey, n normalize.Normalizer) (NormalizationResult, error) {
	start := time.Now()
	v, err, shared := s.normalizeGroup.Do(key.String()+"|"+string(n.Method()), func() (interface{}, error) {
		return s.normalizeRound(context.WithoutCancel(ctx), key, n)
	})
	metrics.RecordNormalizationLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return NormalizationResult{}, err
	}
	if shared {
		s.logger.Debug(ctx, "normalization shared", logger.String("round", key.String()))
	}
	return v.(NormalizationResult), nil
}

func (s *Service) normalizeRound(ctx context.Context, key model.RoundKey, n normalize.Normalizer) (NormalizationResult, error) {
	var conflictErr *model.ConcurrencyError
	for attempt := 0; attempt < s.normalizationRetries; attempt++ {
		if attempt > 0 {
			metrics.RecordNormalizationRetry()
		}
		state, err := s.store.GetRound(ctx, key)
		if err != nil {
			return NormalizationResult{}, fmt.Errorf("load round: %w", err)
		}
		if res, ok := s.cached(key, n.Method(), state.Version); ok {
			return res, nil
		}
		scores, err := s.store.ListScores(ctx, repository.ScoreFilter{EventID: key.EventID, Round: key.Round})
		if err != nil {
			return NormalizationResult{}, fmt.Errorf("load scores: %w", err)
		}
		subs, err := s.judgeable(ctx, key.EventID)
		if err != nil {
			return NormalizationResult{}, fmt.Errorf("load submissions: %w", err)
		}

		out := normalize.Compute(normalize.Input{
			Scores:      scores,
			Submissions: subs,
			CoverageMin: s.constraintsFor(state).CoverageMin,
			Normalizer:  n,
		})
		values := make([]repository.NormalizedValue, 0, len(out.Values))
		for _, v := range out.Values {
			values = append(values, repository.NormalizedValue{ScoreID: v.ScoreID, Normalized: v.Normalized, Unnormalized: v.Unnormalized})
		}

		err = s.commitNormalization(ctx, key, state.Version, n.Method(), values)
		if errors.As(err, &conflictErr) {
			s.logger.Debug(ctx, "round changed during normalization",
				logger.String("round", key.String()),
				logger.Int("attempt", attempt+1),
				logger.Int64("expected", conflictErr.Expected),
				logger.Int64("actual", conflictErr.Actual))
			continue
		}
		if err != nil {
			return NormalizationResult{}, err
		}

		res := NormalizationResult{
			EventID:      key.EventID,
			Round:        key.Round,
			Version:      state.Version,
			Method:       out.Method,
			Values:       out.Values,
			Entries:      out.Entries,
			UnderCovered: []model.CoverageGap{},
			ComputedAt:   s.clock.Now(),
		}
		if out.Coverage != nil {
			res.UnderCovered = out.Coverage.Gaps
		}
		s.remember(key, res)
		s.logger.Info(ctx, "round normalized",
			logger.String("round", key.String()),
			logger.String("method", string(out.Method)),
			logger.Int64("version", state.Version),
			logger.Int("scores", len(out.Values)),
			logger.Int("underCovered", len(res.UnderCovered)))
		return res, nil
	}
	if conflictErr == nil {
		conflictErr = &model.ConcurrencyError{Resource: "round " + key.String()}
	}
	return NormalizationResult{}, conflictErr
}

// commitNormalization stores values computed with the default method. Other
// methods are previews: they only re-check the round version.
func (s *Service) commitNormalization(ctx context.Context, key model.RoundKey, version int64, m normalize.Method, values []repository.NormalizedValue) error {
	if m == s.normalizationMethod {
		return s.store.ApplyNormalization(ctx, key, version, values)
	}
	after, err := s.store.GetRound(ctx, key)
	if err != nil {
		return fmt.Errorf("load round: %w", err)
	}
	if after.Version != version {
		return &model.ConcurrencyError{Resource: "round " + key.String(), Expected: version, Actual: after.Version}
	}
	return nil
}

func (s *Service) cached(key model.RoundKey, m normalize.Method, version int64) (NormalizationResult, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	res, ok := s.cache[cacheKey{key: key, method: m, version: version}]
	return res, ok
}

// remember caches res and evicts older versions of the same round.
func (s *Service) remember(key model.RoundKey, res NormalizationResult) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for k := range s.cache {
		if k.key == key && k.version < res.Version {
			delete(s.cache, k)
		}
	}
	s.cache[cacheKey{key: key, method: res.Method, version: res.Version}] = res
}

func (s *Service) dropCached(key model.RoundKey) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	for k := range s.cache {
		if k.key == key {
			delete(s.cache, k)
		}
	}
}

// Reliability reports judge agreement, coverage and bias for a round using
// the default normalization.
func (s *Service) Reliability(ctx context.Context, p model.Principal, eventID string, round int) (rep ReliabilityResult, err error) {
	ctx, span := tracing.Start(ctx, "service.Reliability")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "reliability", err, logger.String("event", eventID), logger.Int("round", round))
	}()

	if err = requireOrganizer(p, "read reliability"); err != nil {
		return ReliabilityResult{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return ReliabilityResult{}, err
	}
	n, err := s.resolveMethod("")
	if err != nil {
		return ReliabilityResult{}, err
	}
	res, err := s.normalized(ctx, key, n)
	if err != nil {
		return ReliabilityResult{}, err
	}
	return ReliabilityResult{
		EventID: eventID,
		Round:   round,
		Version: res.Version,
		Report:  s.reliabilityOf(res),
	}, nil
}

func (s *Service) reliabilityOf(res NormalizationResult) reliability.Report {
	obs := make([]reliability.Observation, 0, len(res.Values))
	for _, v := range res.Values {
		obs = append(obs, reliability.Observation{
			JudgeID:      v.JudgeID,
			SubmissionID: v.SubmissionID,
			Total:        v.Total,
			Normalized:   v.Normalized,
		})
	}
	subs := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		subs = append(subs, e.SubmissionID)
	}
	return reliability.Build(reliability.Input{Observations: obs, Submissions: subs, Threshold: s.biasThreshold})
}

// AnalyticsFeed builds the read-only analytics snapshot of a round.
func (s *Service) AnalyticsFeed(ctx context.Context, p model.Principal, eventID string, round int) (feed analytics.Feed, err error) {
	ctx, span := tracing.Start(ctx, "service.AnalyticsFeed")
	defer func() {
		tracing.End(span, err)
		s.observe(ctx, "analytics feed", err, logger.String("event", eventID), logger.Int("round", round))
	}()

	if err = requireOrganizer(p, "read analytics feed"); err != nil {
		return analytics.Feed{}, err
	}
	key, err := roundKey(eventID, round)
	if err != nil {
		return analytics.Feed{}, err
	}
	n, err := s.resolveMethod("")
	if err != nil {
		return analytics.Feed{}, err
	}
	res, err := s.normalized(ctx, key, n)
	if err != nil {
		return analytics.Feed{}, err
	}
	return s.feedOf(res), nil
}

func (s *Service) feedOf(res NormalizationResult) analytics.Feed {
	feed := analytics.Feed{
		EventID:     res.EventID,
		Round:       res.Round,
		Version:     res.Version,
		Method:      string(res.Method),
		GeneratedAt: s.clock.Now(),
		Scores:      make([]analytics.ScoreRow, 0, len(res.Values)),
		Aggregates:  make([]analytics.AggregateRow, 0, len(res.Entries)),
	}
	for _, v := range res.Values {
		feed.Scores = append(feed.Scores, analytics.ScoreRow{
			ScoreID:      v.ScoreID,
			JudgeID:      v.JudgeID,
			SubmissionID: v.SubmissionID,
			Total:        v.Total,
			Normalized:   v.Normalized,
			Unnormalized: v.Unnormalized,
		})
	}
	for _, e := range res.Entries {
		feed.Aggregates = append(feed.Aggregates, analytics.AggregateRow{
			SubmissionID:         e.SubmissionID,
			Rank:                 e.Rank,
			Aggregate:            e.Aggregate,
			RawMean:              e.RawMean,
			Coverage:             e.Coverage,
			InsufficientCoverage: e.InsufficientCoverage,
		})
	}
	report := s.reliabilityOf(res)
	feed.Judges = make([]analytics.JudgeRow, 0, len(report.Judges))
	for _, j := range report.Judges {
		feed.Judges = append(feed.Judges, analytics.JudgeRow{
			JudgeID:   j.JudgeID,
			Scored:    j.Scored,
			Agreement: j.Agreement,
			Bias:      j.Bias,
			Outlier:   j.Outlier,
		})
	}
	return feed
}

// ExportAnalytics writes the analytics feed of a round to the configured
// exporter, replacing any previous export of the round.
func (s *Service) ExportAnalytics(ctx context.Context, p model.Principal, eventID string, round int) (analytics.Feed, error) {
	if s.exporter == nil {
		return analytics.Feed{}, model.NewStateError("export analytics", "no analytics exporter is configured")
	}
	feed, err := s.AnalyticsFeed(ctx, p, eventID, round)
	if err != nil {
		return analytics.Feed{}, err
	}
	err = s.exporter.Export(ctx, feed)
	metrics.RecordAnalyticsExport(err)
	if err != nil {
		s.observe(ctx, "export analytics", err, logger.String("event", eventID), logger.Int("round", round))
		return analytics.Feed{}, fmt.Errorf("export analytics: %w", err)
	}
	s.logger.Info(ctx, "analytics exported",
		logger.String("event", eventID),
		logger.Int("round", round),
		logger.Int64("version", feed.Version))
	return feed, nil
}
