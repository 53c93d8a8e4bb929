package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"raidline/internal/catalog"
	"raidline/internal/domain"
	"raidline/internal/engine"
	"raidline/internal/events"
	"raidline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"invalid state \"done\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Raidline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v2"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Raidline API", "0.2.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	feed := newLiveFeed(cfg.Engine)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProgress(group, cfg.Engine, feed)
	registerTeam(group, cfg.Engine, feed)
	registerTokens(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerLive(router, basePath, feed)
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
	switch {
	case errors.Is(err, engine.ErrInvalidState):
		return newAPIError(http.StatusBadRequest, "invalid_state", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidCount):
		return newAPIError(http.StatusBadRequest, "invalid_count", err.Error(), nil)
	case errors.Is(err, engine.ErrEmptyUpdate):
		return newAPIError(http.StatusBadRequest, "empty_update", err.Error(), nil)
	case errors.Is(err, engine.ErrWrongPassword):
		return newAPIError(http.StatusUnauthorized, "wrong_password", err.Error(), nil)
	case errors.Is(err, engine.ErrNotTeamOwner):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, engine.ErrAlreadyInTeam),
		errors.Is(err, engine.ErrNotInTeam),
		errors.Is(err, engine.ErrTeamFull),
		errors.Is(err, engine.ErrCannotKickOwner):
		return newAPIError(http.StatusConflict, "team_conflict", err.Error(), nil)
	case errors.Is(err, catalog.ErrUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "catalog_unavailable", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusServiceUnavailable:
		return "catalog_unavailable"
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
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Raidline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerProgress(api huma.API, e engine.Engine, feed *liveFeed) {
	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/progress",
		Summary:     "Get player progress",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProgressEnvelope `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.GetProgress(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		mode, err := currentGameMode(ctx, e, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressEnvelope `json:"body"`
		}{Body: ProgressEnvelope{Data: view, Meta: ProgressMeta{Self: actorID, GameMode: mode}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team-progress",
		Method:      http.MethodGet,
		Path:        "/team/progress",
		Summary:     "Get progress for the whole team",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TeamProgressEnvelope `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		team, err := e.TeamProgress(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamProgressEnvelope `json:"body"`
		}{Body: TeamProgressEnvelope{
			Data:            team.Data,
			HiddenTeammates: team.HiddenTeammates,
			Meta:            ProgressMeta{Self: actorID},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-player-level",
		Method:      http.MethodPost,
		Path:        "/progress/level/{levelValue}",
		Summary:     "Set player level",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		LevelValue string `path:"levelValue"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		level, err := strconv.Atoi(input.LevelValue)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_count", fmt.Sprintf("invalid level %q", input.LevelValue), nil)
		}
		if err := e.SetLevel(ctx, actorID, level); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "level", map[string]any{"level": level})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-game-mode",
		Method:      http.MethodPost,
		Path:        "/progress/mode/{mode}",
		Summary:     "Switch active game mode",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Mode string `path:"mode" enum:"pvp,pve"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetGameMode(ctx, actorID, input.Mode); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-state",
		Method:      http.MethodPost,
		Path:        "/progress/task/{taskId}",
		Summary:     "Update a single task state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"taskId"`
		Body   SetStateRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetTaskState(ctx, actorID, input.TaskID, input.Body.State); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "task", map[string]any{"id": input.TaskID, "state": input.Body.State})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-tasks-state",
		Method:      http.MethodPost,
		Path:        "/progress/tasks",
		Summary:     "Update multiple task states atomically",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body map[string]string `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetTasksState(ctx, actorID, input.Body); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "tasks", map[string]any{"count": len(input.Body)})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-objective",
		Method:      http.MethodPost,
		Path:        "/progress/task/objective/{objectiveId}",
		Summary:     "Update a task objective",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ObjectiveID string              `path:"objectiveId"`
		Body        SetObjectiveRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		update := engine.ObjectiveUpdate{State: input.Body.State, Count: input.Body.Count}
		if err := e.SetObjective(ctx, actorID, input.ObjectiveID, update); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "objective", map[string]any{"id": input.ObjectiveID})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-hideout-module",
		Method:      http.MethodPost,
		Path:        "/progress/hideout/{hideoutId}",
		Summary:     "Update a hideout module state",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		HideoutID string          `path:"hideoutId"`
		Body      SetStateRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetHideoutModule(ctx, actorID, input.HideoutID, input.Body.State); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "hideout", map[string]any{"id": input.HideoutID, "state": input.Body.State})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-hideout-build-time",
		Method:      http.MethodGet,
		Path:        "/progress/hideout/{hideoutId}/buildtime",
		Summary:     "Remaining construction time for a hideout module",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		HideoutID string `path:"hideoutId"`
	}) (*struct {
		Body BuildTimeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		seconds, err := e.StationBuildTime(ctx, actorID, input.HideoutID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BuildTimeResponse `json:"body"`
		}{Body: BuildTimeResponse{ID: input.HideoutID, Seconds: seconds}}, nil
	})
}

func registerTeam(api huma.API, e engine.Engine, feed *liveFeed) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/team/create",
		Summary:       "Create a team",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		teamID, team, err := e.CreateTeam(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(teamID, team)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "Get current team",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sys, err := e.Repo.System(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if sys.TeamID == "" {
			return nil, newAPIError(http.StatusNotFound, "not_found", "not in a team", nil)
		}
		team, err := e.Repo.Team(ctx, sys.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(sys.TeamID, team)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "join-team",
		Method:      http.MethodPost,
		Path:        "/team/join",
		Summary:     "Join a team",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body JoinTeamRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := e.JoinTeam(ctx, actorID, input.Body.ID, input.Body.Password); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "team_join", map[string]any{"member": actorID})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leave-team",
		Method:      http.MethodPost,
		Path:        "/team/leave",
		Summary:     "Leave the current team",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// Leaving destroys the team link, so resolve who to notify first
		// and push the frame only once the write has gone through.
		audience := feed.audience(ctx, actorID)
		if err := e.LeaveTeam(ctx, actorID); err != nil {
			return nil, handleError(err)
		}
		feed.broadcastTo(audience, actorID, "team_leave", map[string]any{"member": actorID})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "kick-team-member",
		Method:      http.MethodPost,
		Path:        "/team/kick/{memberId}",
		Summary:     "Kick a team member",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		MemberID string `path:"memberId"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.KickMember(ctx, actorID, input.MemberID); err != nil {
			return nil, handleError(err)
		}
		feed.broadcast(ctx, actorID, "team_kick", map[string]any{"member": input.MemberID})
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "hide-teammate",
		Method:      http.MethodPost,
		Path:        "/team/hide/{memberId}",
		Summary:     "Toggle teammate visibility in team views",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		MemberID string            `path:"memberId"`
		Body     HideMemberRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.HideTeammate(ctx, actorID, input.MemberID, input.Body.Hidden); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTokens(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-token",
		Method:        http.MethodPost,
		Path:          "/token",
		Summary:       "Create an API token",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTokenRequest `json:"body"`
	}) (*struct {
		Body TokenCreatedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := uuid.NewString()
		token := domain.APIToken{
			ID:        uuid.NewString(),
			ActorID:   actorID,
			Note:      strings.TrimSpace(input.Body.Note),
			TokenHash: repo.HashToken(raw),
		}
		if err := e.Repo.InsertToken(ctx, token); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TokenCreatedResponse `json:"body"`
		}{Body: TokenCreatedResponse{ID: token.ID, Token: raw, Note: token.Note}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tokens",
		Method:      http.MethodGet,
		Path:        "/token",
		Summary:     "List API tokens",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TokenResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tokens, err := e.Repo.ListTokens(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TokenResponse, 0, len(tokens))
		for _, t := range tokens {
			res = append(res, TokenResponse{ID: t.ID, Note: t.Note, CreatedAt: t.CreatedAt})
		}
		return &struct {
			Body []TokenResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-token",
		Method:      http.MethodDelete,
		Path:        "/token/{tokenId}",
		Summary:     "Revoke an API token",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TokenID string `path:"tokenId"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteToken(ctx, actorID, input.TokenID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent progress events",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Events.Latest(ctx, actorID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

// currentGameMode reads the active mode off the stored progress record.
func currentGameMode(ctx context.Context, e engine.Engine, actorID string) (string, error) {
	doc, err := e.Repo.Progress(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ModePvP, nil
	}
	if err != nil {
		return "", err
	}
	if mode, ok := doc["currentGameMode"].(string); ok && domain.ValidMode(mode) {
		return mode, nil
	}
	return domain.ModePvP, nil
}

func eventResponse(evt events.Event) EventResponse {
	var payload map[string]any
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		Payload:    payload,
	}
}

func teamResponse(id string, team domain.Team) TeamResponse {
	return TeamResponse{
		ID:             id,
		Owner:          team.Owner,
		Password:       team.Password,
		MaximumMembers: team.MaximumMembers,
		Members:        nonNilSlice(team.Members),
		CreatedAt:      team.CreatedAt,
	}
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
