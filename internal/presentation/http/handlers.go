package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"postsmith/app/internal/domain/content"
	"postsmith/app/internal/domain/pipeline"
	"postsmith/app/internal/domain/publish"
)

type healthResponse struct {
	Status int
	Body   struct {
		Status    string `json:"status"`
		Database  string `json:"database"`
		Scheduler string `json:"scheduler"`
	}
}

type attemptView struct {
	Number  int    `json:"number"`
	Style   string `json:"style"`
	Outcome string `json:"outcome"`
	Length  int    `json:"length"`
	Error   string `json:"error,omitempty"`
}

type generationView struct {
	OK       bool          `json:"ok"`
	Topic    string        `json:"topic"`
	Text     string        `json:"text,omitempty"`
	Style    string        `json:"style,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Attempts []attemptView `json:"attempts"`
}

type runResponse struct {
	Status int
	Body   struct {
		RunID      string         `json:"run_id"`
		StartedAt  time.Time      `json:"started_at"`
		FinishedAt time.Time      `json:"finished_at"`
		Published  bool           `json:"published"`
		DryRun     bool           `json:"dry_run"`
		PostID     string         `json:"post_id,omitempty"`
		Generation generationView `json:"generation"`
	}
}

type previewResponse struct {
	Body generationView
}

type scheduleEntryView struct {
	At   string    `json:"at"`
	Name string    `json:"name"`
	Next time.Time `json:"next"`
}

type scheduleResponse struct {
	Body struct {
		Running  bool                `json:"running"`
		Location string              `json:"location,omitempty"`
		Entries  []scheduleEntryView `json:"entries"`
	}
}

func adminSecurity() []map[string][]string {
	return []map[string][]string{{bearerScheme: {}}}
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) registerRunRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-run",
		Method:        stdhttp.MethodPost,
		Path:          "/v1/runs",
		Summary:       "Generate and publish a post now",
		DefaultStatus: stdhttp.StatusCreated,
		Security:      adminSecurity(),
		Errors: []int{
			stdhttp.StatusUnauthorized,
			stdhttp.StatusConflict,
			stdhttp.StatusUnprocessableEntity,
			stdhttp.StatusBadGateway,
			stdhttp.StatusInternalServerError,
		},
	}, s.runHandler)
}

func (s *Server) registerPreviewRoute() {
	huma.Register(s.api, huma.Operation{
		OperationID: "create-preview",
		Method:      stdhttp.MethodPost,
		Path:        "/v1/previews",
		Summary:     "Generate a post without publishing it",
		Errors:      []int{stdhttp.StatusUnauthorized, stdhttp.StatusInternalServerError},
		Security:    adminSecurity(),
	}, s.previewHandler)
}

func (s *Server) registerScheduleRoute() {
	huma.Get(s.api, "/v1/schedule", s.scheduleHandler, func(op *huma.Operation) {
		op.Summary = "List upcoming scheduled runs"
		op.Security = adminSecurity()
	})
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{Status: stdhttp.StatusOK}
	resp.Body.Status = "ok"
	resp.Body.Database = "unchecked"
	resp.Body.Scheduler = "disabled"

	if s.database != nil {
		resp.Body.Database = "ok"
		if err := s.database(ctx); err != nil {
			s.recordError(ctx, err, "pinging database", nil)
			resp.Body.Status = "degraded"
			resp.Body.Database = "error"
			resp.Status = stdhttp.StatusServiceUnavailable
		}
	}

	if s.schedule != nil {
		resp.Body.Scheduler = "stopped"
		if s.schedule.Running() {
			resp.Body.Scheduler = "running"
		}
	}

	return resp, nil
}

func (s *Server) runHandler(ctx context.Context, _ *struct{}) (*runResponse, error) {
	report, err := s.pipeline.Run(ctx)
	if err != nil {
		status, message := classifyRunError(err)
		if status >= stdhttp.StatusInternalServerError {
			s.recordError(ctx, err, "manual run failed", nil)
		}
		return nil, huma.NewError(status, message, err)
	}

	resp := &runResponse{Status: stdhttp.StatusCreated}
	resp.Body.RunID = report.RunID
	resp.Body.StartedAt = report.StartedAt
	resp.Body.FinishedAt = report.FinishedAt
	resp.Body.Published = report.Published
	resp.Body.DryRun = report.DryRun
	resp.Body.PostID = string(report.PostID)
	resp.Body.Generation = toGenerationView(report.Generation)

	return resp, nil
}

func (s *Server) previewHandler(ctx context.Context, _ *struct{}) (*previewResponse, error) {
	result, err := s.pipeline.Preview(ctx)
	if err != nil {
		s.recordError(ctx, err, "preview failed", nil)
		return nil, huma.Error500InternalServerError("preview generation failed", err)
	}

	return &previewResponse{Body: toGenerationView(result)}, nil
}

func (s *Server) scheduleHandler(_ context.Context, _ *struct{}) (*scheduleResponse, error) {
	resp := &scheduleResponse{}
	resp.Body.Entries = []scheduleEntryView{}

	if s.schedule == nil {
		return resp, nil
	}

	resp.Body.Running = s.schedule.Running()
	if loc := s.schedule.Location(); loc != nil {
		resp.Body.Location = loc.String()
	}
	for _, upcoming := range s.schedule.Next() {
		resp.Body.Entries = append(resp.Body.Entries, scheduleEntryView{
			At:   upcoming.At,
			Name: upcoming.Name,
			Next: upcoming.Next,
		})
	}

	return resp, nil
}

func classifyRunError(err error) (int, string) {
	switch {
	case eris.Is(err, pipeline.ErrRunInProgress):
		return stdhttp.StatusConflict, "another run is in progress"
	case eris.Is(err, content.ErrRetriesExhausted):
		return stdhttp.StatusUnprocessableEntity, "no post within the length limit was generated: " + content.ReasonRetriesExhausted
	case errors.Is(err, publish.ErrPublish):
		return stdhttp.StatusBadGateway, "the platform rejected the post"
	default:
		return stdhttp.StatusInternalServerError, "the run could not be completed"
	}
}

func toGenerationView(result content.Result) generationView {
	view := generationView{
		OK:       result.OK(),
		Topic:    string(result.Topic),
		Reason:   result.Reason,
		Attempts: make([]attemptView, 0, len(result.Attempts)),
	}
	if result.Post != nil {
		view.Text = result.Post.Text
		view.Style = string(result.Post.Style)
	}

	for _, attempt := range result.Attempts {
		item := attemptView{
			Number:  attempt.Number,
			Style:   string(attempt.Style),
			Outcome: string(attempt.Outcome),
			Length:  attempt.Length,
		}
		if attempt.Err != nil {
			item.Error = attempt.Err.Error()
		}
		view.Attempts = append(view.Attempts, item)
	}

	return view
}
