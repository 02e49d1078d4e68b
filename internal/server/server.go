package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"goalline/internal/domain"
	"goalline/internal/planner"
)

// Config for the HTTP API handler.
type Config struct {
	Planner  *planner.Planner
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"goal not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Goalline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Goalline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerGoals(group, cfg.Planner)
	registerDecisions(group, cfg.Planner)
	registerCheckpoints(group, cfg.Planner)
	registerTimeline(group, cfg.Planner)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, planner.ErrGoalNotFound),
		errors.Is(err, planner.ErrDecisionNotFound),
		errors.Is(err, planner.ErrCheckpointNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, planner.ErrDecisionResolved):
		return newAPIError(http.StatusConflict, "decision_resolved", err.Error(), nil)
	case errors.Is(err, planner.ErrInvalidChoice):
		return newAPIError(http.StatusBadRequest, "invalid_choice", err.Error(), nil)
	}
	var pe *planner.PersistenceError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusInternalServerError, "persistence_error", "storage failure", map[string]any{"op": pe.Op})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGoals(api huma.API, p *planner.Planner) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-goal",
		Method:        http.MethodPost,
		Path:          "/goals",
		Summary:       "Create goal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		g, err := p.CreateGoal(ctx, planner.CreateGoalOptions{
			Title:               input.Body.Title,
			Description:         input.Body.Description,
			ExecutionStyle:      domain.ExecutionStyle(input.Body.ExecutionStyle),
			CheckpointFrequency: domain.CheckpointFrequency(input.Body.CheckpointFrequency),
			ParentGoalID:        input.Body.ParentGoalID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []GoalSummary `json:"body"`
	}, error) {
		goals, err := p.ListGoals(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []GoalSummary `json:"body"`
		}{Body: mapGoalSummaries(goals)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}",
		Summary:     "Get goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		g, err := p.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-goal",
		Method:      http.MethodDelete,
		Path:        "/goals/{goal_id}",
		Summary:     "Delete goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct{}, error) {
		if err := p.DeleteGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "goal-progress",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/progress",
		Summary:     "Goal progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		pct, err := p.GoalProgress(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: ProgressResponse{GoalID: input.GoalID, Percent: pct}}, nil
	})
}

func registerDecisions(api huma.API, p *planner.Planner) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/decisions",
		Summary:     "List decisions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID  string `path:"goal_id"`
		Pending bool   `query:"pending"`
	}) (*struct {
		Body []domain.UserDecision `json:"body"`
	}, error) {
		g, err := p.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		decisions := g.Decisions
		if input.Pending {
			decisions = decisions[:0:0]
			for _, d := range g.Decisions {
				if !d.Resolved() {
					decisions = append(decisions, d)
				}
			}
		}
		return &struct {
			Body []domain.UserDecision `json:"body"`
		}{Body: decisions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-decision",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/decisions/{decision_id}",
		Summary:     "Submit decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		GoalID     string                `path:"goal_id"`
		DecisionID string                `path:"decision_id"`
		Body       SubmitDecisionRequest `json:"body"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if input.Body.Choice == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "choice is required", nil)
		}
		g, err := p.SubmitUserDecision(ctx, input.GoalID, input.DecisionID, input.Body.Choice)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})
}

func registerCheckpoints(api huma.API, p *planner.Planner) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-checkpoint",
		Method:        http.MethodPost,
		Path:          "/goals/{goal_id}/checkpoints",
		Summary:       "Create checkpoint",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		GoalID string                  `path:"goal_id"`
		Body   CreateCheckpointRequest `json:"body"`
	}) (*struct {
		Body domain.Checkpoint `json:"body"`
	}, error) {
		cp, err := p.CreateCheckpoint(ctx, input.GoalID, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Checkpoint `json:"body"`
		}{Body: cp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checkpoints",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/checkpoints",
		Summary:     "List checkpoints",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
	}) (*struct {
		Body []domain.Checkpoint `json:"body"`
	}, error) {
		cps, err := p.ListCheckpoints(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Checkpoint `json:"body"`
		}{Body: cps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-checkpoint",
		Method:      http.MethodPost,
		Path:        "/goals/{goal_id}/checkpoints/{checkpoint_id}/restore",
		Summary:     "Restore checkpoint",
		Errors:      []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		GoalID       string `path:"goal_id"`
		CheckpointID string `path:"checkpoint_id"`
	}) (*struct {
		Body GoalResponse `json:"body"`
	}, error) {
		if err := p.RestoreFromCheckpoint(ctx, input.GoalID, input.CheckpointID); err != nil {
			return nil, handleError(err)
		}
		g, err := p.GetGoal(ctx, input.GoalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GoalResponse `json:"body"`
		}{Body: goalResponse(g)}, nil
	})
}

func registerTimeline(api huma.API, p *planner.Planner) {
	huma.Register(api, huma.Operation{
		OperationID: "goal-timeline",
		Method:      http.MethodGet,
		Path:        "/goals/{goal_id}/timeline",
		Summary:     "Goal timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GoalID string `path:"goal_id"`
		Limit  int    `query:"limit" default:"100"`
		Type   string `query:"type"`
	}) (*struct {
		Body []domain.TimelineEvent `json:"body"`
	}, error) {
		if _, err := p.GetGoal(ctx, input.GoalID); err != nil {
			return nil, handleError(err)
		}
		evts, err := p.Timeline(ctx, input.GoalID, input.Limit, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TimelineEvent `json:"body"`
		}{Body: evts}, nil
	})
}
