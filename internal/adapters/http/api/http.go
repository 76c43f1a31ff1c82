// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/adapters/analytics"
	"github.com/Khushwant-Singh1/HackOps/internal/adapters/repository"
	service "github.com/Khushwant-Singh1/HackOps/internal/app"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/ledger"
	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Principal headers. Authentication happens upstream; the API trusts them.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalRole = "X-Principal-Role"
)

const maxBodyBytes = 1 << 20

// Judging is the engine surface the handlers call. *service.Service
// implements it.
type Judging interface {
	CreateRubric(ctx context.Context, p model.Principal, eventID, trackID string, criteria []model.Criterion) (model.Rubric, error)
	UpdateRubric(ctx context.Context, p model.Principal, id string, criteria []model.Criterion) (model.Rubric, error)
	LockRubric(ctx context.Context, p model.Principal, id string) (model.Rubric, error)
	GetRubric(ctx context.Context, p model.Principal, id string) (model.Rubric, error)
	ListRubrics(ctx context.Context, p model.Principal, eventID string) ([]model.Rubric, error)

	UpsertJudge(ctx context.Context, p model.Principal, j model.Judge) error
	UpsertTeam(ctx context.Context, p model.Principal, t model.Team) error
	UpsertSubmission(ctx context.Context, p model.Principal, s model.Submission) error
	ListJudges(ctx context.Context, p model.Principal, eventID string) ([]model.Judge, error)
	ListTeams(ctx context.Context, p model.Principal, eventID string) ([]model.Team, error)
	ListSubmissions(ctx context.Context, p model.Principal, eventID string) ([]model.Submission, error)
	SetJudgingWindow(ctx context.Context, p model.Principal, eventID string, w model.JudgingWindow) error
	JudgingWindow(ctx context.Context, p model.Principal, eventID string) (model.JudgingWindow, error)

	DetectConflicts(ctx context.Context, p model.Principal, eventID string) ([]model.ConflictFlag, error)
	DeclareConflict(ctx context.Context, p model.Principal, in service.DeclareInput) (model.ConflictFlag, error)
	ResolveConflict(ctx context.Context, p model.Principal, id, note string) (model.ConflictFlag, error)
	ListConflicts(ctx context.Context, p model.Principal, f repository.ConflictFilter) ([]model.ConflictFlag, error)

	Assign(ctx context.Context, p model.Principal, eventID string, round int, c model.Constraints) (service.AssignResult, error)
	ListAssignments(ctx context.Context, p model.Principal, f repository.AssignmentFilter) ([]model.Assignment, error)
	Reassign(ctx context.Context, p model.Principal, in service.ReassignInput) (model.Assignment, error)
	CompleteAssignment(ctx context.Context, p model.Principal, eventID string, round int, judgeID, submissionID string) (model.Assignment, error)

	SubmitScore(ctx context.Context, p model.Principal, in ledger.Input) (model.Score, error)
	GetScore(ctx context.Context, p model.Principal, id string) (model.Score, error)
	ListScores(ctx context.Context, p model.Principal, f repository.ScoreFilter) ([]model.Score, error)

	LockRound(ctx context.Context, p model.Principal, eventID string, round int) (model.RoundState, error)
	FinalizeSubmission(ctx context.Context, p model.Principal, eventID string, round int, submissionID string) (model.RoundState, error)
	UnlockSubmission(ctx context.Context, p model.Principal, eventID string, round int, submissionID, reason string) (model.RoundState, error)
	GetRound(ctx context.Context, p model.Principal, eventID string, round int) (model.RoundState, error)
	ListAudit(ctx context.Context, p model.Principal, f repository.AuditFilter) ([]model.AuditEntry, error)

	Normalize(ctx context.Context, p model.Principal, eventID string, round int, method string) (service.NormalizationResult, error)
	Reliability(ctx context.Context, p model.Principal, eventID string, round int) (service.ReliabilityResult, error)
	AnalyticsFeed(ctx context.Context, p model.Principal, eventID string, round int) (analytics.Feed, error)
	ExportAnalytics(ctx context.Context, p model.Principal, eventID string, round int) (analytics.Feed, error)
	SendReminders(ctx context.Context, p model.Principal, eventID string, round int) (int, error)
}

// Server wires HTTP routes for the judging API.
type Server struct {
	svc           Judging
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(svc Judging, statsProvider StatsProvider) *Server {
	return &Server{
		svc:           svc,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
}

type route struct {
	pattern  string
	endpoint string
	handler  http.HandlerFunc
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	const ev = "/v1/events/{event}"
	const rd = ev + "/rounds/{round}"
	routes := []route{
		{"POST " + ev + "/rubrics", "rubrics", s.handleCreateRubric},
		{"GET " + ev + "/rubrics", "rubrics", s.handleListRubrics},
		{"GET /v1/rubrics/{id}", "rubric", s.handleGetRubric},
		{"PUT /v1/rubrics/{id}", "rubric", s.handleUpdateRubric},
		{"POST /v1/rubrics/{id}/lock", "rubric_lock", s.handleLockRubric},

		{"PUT " + ev + "/directory/judges/{id}", "directory", s.handleUpsertJudge},
		{"GET " + ev + "/directory/judges", "directory", s.handleListJudges},
		{"PUT " + ev + "/directory/teams/{id}", "directory", s.handleUpsertTeam},
		{"GET " + ev + "/directory/teams", "directory", s.handleListTeams},
		{"PUT " + ev + "/directory/submissions/{id}", "directory", s.handleUpsertSubmission},
		{"GET " + ev + "/directory/submissions", "directory", s.handleListSubmissions},
		{"PUT " + ev + "/directory/window", "directory", s.handleSetWindow},
		{"GET " + ev + "/directory/window", "directory", s.handleGetWindow},

		{"POST " + ev + "/conflicts/detect", "conflicts_detect", s.handleDetectConflicts},
		{"POST " + ev + "/conflicts", "conflicts", s.handleDeclareConflict},
		{"GET " + ev + "/conflicts", "conflicts", s.handleListConflicts},
		{"POST /v1/conflicts/{id}/resolve", "conflict_resolve", s.handleResolveConflict},

		{"POST " + rd + "/assignments", "assignments", s.handleAssign},
		{"GET " + rd + "/assignments", "assignments", s.handleListAssignments},
		{"POST " + rd + "/assignments/complete", "assignment_complete", s.handleCompleteAssignment},
		{"POST /v1/assignments/{id}/reassign", "assignment_reassign", s.handleReassign},

		{"POST " + rd + "/scores", "scores", s.handleSubmitScore},
		{"GET " + rd + "/scores", "scores", s.handleListScores},
		{"GET /v1/scores/{id}", "score", s.handleGetScore},

		{"GET " + rd, "round", s.handleGetRound},
		{"POST " + rd + "/lock", "round_lock", s.handleLockRound},
		{"POST " + rd + "/submissions/{submission}/finalize", "round_finalize", s.handleFinalize},
		{"POST " + rd + "/submissions/{submission}/unlock", "round_unlock", s.handleUnlock},

		{"POST " + rd + "/normalize", "normalize", s.handleNormalize},
		{"GET " + rd + "/reliability", "reliability", s.handleReliability},
		{"POST " + rd + "/reminders", "reminders", s.handleReminders},
		{"GET " + rd + "/analytics", "analytics", s.handleAnalyticsFeed},
		{"POST " + rd + "/analytics/export", "analytics_export", s.handleExportAnalytics},
		{"GET " + ev + "/audit", "audit", s.handleListAudit},
	}
	for _, rt := range routes {
		mux.HandleFunc(rt.pattern, MetricsMiddleware(rt.handler, rt.endpoint))
	}
}

// principalFrom reads the caller from the principal headers. Missing values
// yield an empty principal, which the engine refuses.
func principalFrom(r *http.Request) model.Principal {
	return model.Principal{
		ID:   strings.TrimSpace(r.Header.Get(HeaderPrincipalID)),
		Role: model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole)))),
	}
}

func roundParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("round"))
	if err != nil {
		return 0, model.NewValidationError("round", "must be an integer")
	}
	return n, nil
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.NewValidationError(name, "must be an integer")
	}
	return n, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
