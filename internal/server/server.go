// Package server exposes the engagement pipeline over HTTP for the
// dashboard and automation clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"bountyline/internal/domain"
	"bountyline/internal/engine"
	"bountyline/internal/execrun"
	"bountyline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"plan text is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bountyline API.
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
	hcfg := huma.DefaultConfig("Bountyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerEngagements(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerCompetition(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if se, ok := err.(huma.StatusError); ok {
		return se
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid engagement status transition"),
		strings.Contains(lowered, "gate failed"),
		strings.Contains(lowered, "gate not met"),
		strings.Contains(lowered, "buy box not met"),
		strings.Contains(lowered, "not approved"):
		return newAPIError(http.StatusConflict, "gate_failed", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") || strings.Contains(lowered, "malformed"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Bountyline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Workspace status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		counts, err := e.Repo.CountEngagementsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"engagement_counts": counts,
			"hourly_target":     e.Config.Economics.HourlyTarget,
		}}, nil
	})
}

func registerEngagements(api huma.API, e engine.Engine) {
	type EngagementPath struct {
		EngagementID string `path:"engagement_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-engagements",
		Method:      http.MethodGet,
		Path:        "/engagements",
		Summary:     "List engagements",
	}, func(ctx context.Context, input *struct {
		Repo   string `query:"repo"`
		Status string `query:"status"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Engagement `json:"body"`
	}, error) {
		list, err := e.Repo.ListEngagements(ctx, repo.EngagementFilters{
			Repo: input.Repo, Status: input.Status, Kind: input.Kind, Limit: input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if list == nil {
			list = []domain.Engagement{}
		}
		return &struct {
			Body []domain.Engagement `json:"body"`
		}{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-engagement",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}",
		Summary:     "Engagement detail with latest metrics",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		eng, err := e.Repo.GetEngagement(ctx, input.EngagementID)
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{"engagement": eng}
		if m, err := e.Repo.GetMetrics(ctx, eng.ID); err == nil {
			body["metrics"] = m
		}
		if rec, err := e.Repo.LatestEligibility(ctx, eng.ID); err == nil {
			body["eligibility"] = rec
		}
		if snaps, err := e.Repo.LatestCompetitionSnapshots(ctx, eng.ID, 1); err == nil && len(snaps) > 0 {
			body["competition"] = snaps[0]
		}
		if jr, err := e.Repo.LatestJudgeRun(ctx, eng.ID); err == nil {
			body["judge"] = jr
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-engagement",
		Method:        http.MethodPost,
		Path:          "/engagements",
		Summary:       "Register an issue for pursuit",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			IssueURL string  `json:"issue_url" required:"true"`
			Kind     string  `json:"kind" enum:"paid,reputation"`
			Payout   float64 `json:"payout,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind := input.Body.Kind
		if kind == "" {
			kind = "paid"
		}
		eng, err := e.CreateEngagement(ctx, input.Body.IssueURL, kind, input.Body.Payout, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	type EngagementPath struct {
		EngagementID string `path:"engagement_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "qualify-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/qualify",
		Summary:     "Run the qualification pipeline",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			EnvRequired     bool     `json:"env_required,omitempty"`
			EnvApproved     bool     `json:"env_approved,omitempty"`
			MaintainerScore *float64 `json:"maintainer_score,omitempty"`
			CIFlakeRate     *float64 `json:"ci_flake_rate,omitempty"`
			ForceRules      bool     `json:"force_rules,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body engine.QualifyResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Qualify(ctx, input.EngagementID, actorID, engine.QualifyOptions{
			EnvRequired:     input.Body.EnvRequired,
			EnvApproved:     input.Body.EnvApproved,
			MaintainerScore: input.Body.MaintainerScore,
			CIFlakeRate:     input.Body.CIFlakeRate,
			ForceRules:      input.Body.ForceRules,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.QualifyResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/plan",
		Summary:     "Record a plan and enter planning",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Plan  string `json:"plan" required:"true"`
			Force bool   `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.Plan(ctx, input.EngagementID, input.Body.Plan, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-plan",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/plan/approve",
		Summary:     "Approve the recorded plan",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.ApprovePlan(ctx, input.EngagementID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "draft-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/draft",
		Summary:     "Record the submission draft",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Draft string `json:"draft" required:"true"`
			Force bool   `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.Draft(ctx, input.EngagementID, input.Body.Draft, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "judge-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/judge",
		Summary:     "Run the compliance gate without advancing state",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			ForSubmit bool `json:"for_submit,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		verdict, err := e.RunJudge(ctx, input.EngagementID, actorID, input.Body.ForSubmit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: verdict}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/submit",
		Summary:     "Run the gate and mark submitted",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			PRURL string `json:"pr_url" required:"true"`
			Force bool   `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, verdict, err := e.Submit(ctx, input.EngagementID, input.Body.PRURL, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"engagement": eng, "verdict": verdict}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abort-engagement",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/abort",
		Summary:     "Abandon with a classified reason",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Reason string `json:"reason" required:"true"`
			Note   string `json:"note,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.Abort(ctx, input.EngagementID, input.Body.Reason, input.Body.Note, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-merged",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/merged",
		Summary:     "Record that the submitted PR landed",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Force bool `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.MarkMerged(ctx, input.EngagementID, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-completed",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/completed",
		Summary:     "Close out a merged engagement",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Force bool `json:"force,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Engagement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, err := e.MarkCompleted(ctx, input.EngagementID, actorID, input.Body.Force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Engagement `json:"body"`
		}{Body: eng}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-test-run",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/test-runs",
		Summary:     "Record a local test suite result",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Body struct {
			Command    string `json:"command" required:"true"`
			ExitCode   int    `json:"exit_code"`
			DurationMS int64  `json:"duration_ms,omitempty"`
			Output     string `json:"output,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.TestRun `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.RecordTestRun(ctx, input.EngagementID, actorID, execrun.Result{
			Command:    input.Body.Command,
			ExitCode:   input.Body.ExitCode,
			DurationMS: input.Body.DurationMS,
			Output:     input.Body.Output,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TestRun `json:"body"`
		}{Body: run}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	type repoPath struct {
		Owner string `path:"owner"`
		Name  string `path:"name"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-rules-profile",
		Method:      http.MethodGet,
		Path:        "/repos/{owner}/{name}/rules",
		Summary:     "Cached contribution rules",
	}, func(ctx context.Context, input *repoPath) (*struct {
		Body domain.RulesProfile `json:"body"`
	}, error) {
		p, err := e.Repo.GetRulesProfile(ctx, input.Owner+"/"+input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RulesProfile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cla-status",
		Method:      http.MethodGet,
		Path:        "/repos/{owner}/{name}/cla",
		Summary:     "Agreement status",
	}, func(ctx context.Context, input *repoPath) (*struct {
		Body domain.CLAStatus `json:"body"`
	}, error) {
		status, err := e.CLA.Get(ctx, input.Owner+"/"+input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CLAStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-style-guide",
		Method:      http.MethodGet,
		Path:        "/repos/{owner}/{name}/style",
		Summary:     "Derived style guide",
	}, func(ctx context.Context, input *repoPath) (*struct {
		Body domain.StyleGuideRecord `json:"body"`
	}, error) {
		rec, err := e.Repo.GetStyleGuide(ctx, input.Owner+"/"+input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StyleGuideRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerCompetition(api huma.API, e engine.Engine) {
	type EngagementPath struct {
		EngagementID string `path:"engagement_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "check-competition",
		Method:      http.MethodPost,
		Path:        "/engagements/{engagement_id}/competition/check",
		Summary:     "Take a fresh competition snapshot",
	}, func(ctx context.Context, input *EngagementPath) (*struct {
		Body any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CheckCompetition(ctx, input.EngagementID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-competition-snapshots",
		Method:      http.MethodGet,
		Path:        "/engagements/{engagement_id}/competition",
		Summary:     "Recent competition snapshots",
	}, func(ctx context.Context, input *struct {
		EngagementPath
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.CompetitionSnapshot `json:"body"`
	}, error) {
		snaps, err := e.Repo.LatestCompetitionSnapshots(ctx, input.EngagementID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if snaps == nil {
			snaps = []domain.CompetitionSnapshot{}
		}
		return &struct {
			Body []domain.CompetitionSnapshot `json:"body"`
		}{Body: snaps}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit        int    `query:"limit"`
		EngagementID string `query:"engagement_id"`
		Type         string `query:"type"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		evts, err := e.Repo.LatestEvents(ctx, limit, input.EngagementID, input.Type, "", "")
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a local development token",
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string `json:"actor_id" required:"true"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if !auth.DevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		token, err := IssueToken(auth.JWTSecret, input.Body.ActorID, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": token}}, nil
	})
}
