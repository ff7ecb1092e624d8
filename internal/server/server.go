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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"kravsak/internal/domain"
	"kravsak/internal/engine"
	"kravsak/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"version conflict on case s1: expected 3, log has 4"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the kravsak API.
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
			// Schema-level request validation is 400; 422 is reserved for
			// domain-rule violations.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Store))
	hcfg := huma.DefaultConfig("Kravsak API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSaker(group, cfg.Engine)
	registerClaims(group, cfg.Engine)
	registerResponses(group, cfg.Engine)
	registerCaseLevel(group, cfg.Engine)
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

// handleError maps domain errors to the envelope. All commands fail before
// any append, so a non-2xx response never leaves a partially written log.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var vc domain.VersionConflictError
	if errors.As(err, &vc) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), map[string]any{
			"expected": vc.Expected,
			"actual":   vc.Actual,
		})
	}
	var it domain.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_transition", err.Error(), map[string]any{
			"track":  string(it.Track),
			"status": string(it.Status),
		})
	}
	var mp domain.MalformedPayloadError
	if errors.As(err, &mp) {
		return newAPIError(http.StatusBadRequest, "malformed_payload", err.Error(), map[string]any{
			"type":  string(mp.Type),
			"field": mp.Field,
		})
	}
	var is domain.InconsistentSubsidiaryStateError
	if errors.As(err, &is) {
		return newAPIError(http.StatusInternalServerError, "inconsistent_subsidiary_state", err.Error(), map[string]any{
			"track": string(is.Track),
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "required") {
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
		return "version_conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_transition"
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

func registerSaker(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Register a case",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateSakRequest `json:"body"`
	}) (*struct {
		Body SakResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Tittel == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tittel is required", nil)
		}
		opts := engine.SakCreateOptions{Tittel: input.Body.Tittel}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.KontraktRef != nil {
			opts.KontraktRef = *input.Body.KontraktRef
		}
		if input.Body.TENavn != nil {
			opts.TENavn = *input.Body.TENavn
		}
		if input.Body.BHNavn != nil {
			opts.BHNavn = *input.Body.BHNavn
		}
		sak, err := e.CreateSak(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SakResponse `json:"body"`
		}{Body: SakResponse{Sak: sak}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases with state roll-up",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SakSummary `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		saker, err := e.Store.ListSaker(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := []SakSummary{}
		for _, sak := range saker {
			state, err := e.State(ctx, sak.ID)
			if err != nil {
				return nil, handleError(err)
			}
			items = append(items, SakSummary{
				Sak:           sak,
				OverallStatus: state.OverallStatus,
				TotalClaimed:  state.TotalClaimed,
				TotalApproved: state.TotalApproved,
				EventCount:    state.EventCount,
			})
		}
		return &struct {
			Body []SakSummary `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case-state",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/state",
		Summary:     "Current projected case state",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		state, err := e.State(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case-events",
		Method:      http.MethodGet,
		Path:        "/cases/{id}/events",
		Summary:     "Ordered event log with revision annotations",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body EventFeedResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Events(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []engine.AnnotatedEvent{}
		}
		return &struct {
			Body EventFeedResponse `json:"body"`
		}{Body: EventFeedResponse{Items: items}}, nil
	})
}

func parseTrack(s string) (domain.Track, huma.StatusError) {
	switch domain.Track(s) {
	case domain.TrackGrunnlag, domain.TrackVederlag, domain.TrackFrist:
		return domain.Track(s), nil
	}
	return "", newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown track %q", s), nil)
}

func registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-claim",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/claims/{track}",
		Summary:     "Submit or revise a claim",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID    string       `path:"id"`
		Track string       `path:"track"`
		Body  ClaimRequest `json:"body"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		track, trackErr := parseTrack(input.Track)
		if trackErr != nil {
			return nil, trackErr
		}
		current, err := e.State(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.ClaimOptions{
			SakID:           input.ID,
			Track:           track,
			Actor:           actorID,
			Data:            input.Body.Data,
			ExpectedVersion: input.Body.ExpectedVersion,
		}
		// First claim on a track creates it; later posts revise. The
		// expected-version check catches any race with this read.
		var state domain.SakState
		if hasClaim(current, track) {
			state, err = e.ReviseClaim(ctx, opts)
		} else {
			state, err = e.SubmitClaim(ctx, opts)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-claim",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/claims/{track}/withdraw",
		Summary:     "Withdraw a claim",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID    string          `path:"id"`
		Track string          `path:"track"`
		Body  WithdrawRequest `json:"body"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		track, trackErr := parseTrack(input.Track)
		if trackErr != nil {
			return nil, trackErr
		}
		state, err := e.WithdrawClaim(ctx, engine.WithdrawOptions{
			SakID:           input.ID,
			Track:           track,
			Actor:           actorID,
			Begrunnelse:     input.Body.Begrunnelse,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})
}

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-response",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/responses/{track}",
		Summary:     "Submit or revise an owner response",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID    string          `path:"id"`
		Track string          `path:"track"`
		Body  ResponseRequest `json:"body"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		track, trackErr := parseTrack(input.Track)
		if trackErr != nil {
			return nil, trackErr
		}
		current, err := e.State(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.ResponseOptions{
			SakID:           input.ID,
			Track:           track,
			Actor:           actorID,
			Data:            input.Body.Data,
			ExpectedVersion: input.Body.ExpectedVersion,
		}
		var state domain.SakState
		if trackHasResponse(current, track) {
			state, err = e.ReviseResponse(ctx, opts)
		} else {
			state, err = e.SubmitResponse(ctx, opts)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})
}

func registerCaseLevel(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "notify-forsering",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/forsering",
		Summary:     "Record an acceleration notice",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ForseringRequest `json:"body"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.NotifyForsering(ctx, engine.ForseringOptions{
			SakID:           input.ID,
			Actor:           actorID,
			EstimertKostnad: input.Body.EstimertKostnad,
			DagmulktPerDag:  input.Body.DagmulktPerDag,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "issue-change-order",
		Method:      http.MethodPost,
		Path:        "/cases/{id}/change-order",
		Summary:     "Issue the final change order",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ChangeOrderRequest `json:"body"`
	}) (*struct {
		Body domain.SakState `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := e.IssueChangeOrder(ctx, engine.ChangeOrderOptions{
			SakID:           input.ID,
			Actor:           actorID,
			EONummer:        input.Body.EONummer,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SakState `json:"body"`
		}{Body: state}, nil
	})
}

func hasClaim(state domain.SakState, track domain.Track) bool {
	switch track {
	case domain.TrackGrunnlag:
		return state.Grunnlag.Status != domain.StatusDraft
	case domain.TrackVederlag:
		return state.Vederlag.Status != domain.StatusNotApplicable
	case domain.TrackFrist:
		return state.Frist.Status != domain.StatusNotApplicable
	}
	return false
}

func trackHasResponse(state domain.SakState, track domain.Track) bool {
	switch track {
	case domain.TrackGrunnlag:
		return state.Grunnlag.HasResponse
	case domain.TrackVederlag:
		return state.Vederlag.HasResponse
	case domain.TrackFrist:
		return state.Frist.HasResponse
	}
	return false
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
    <title>Kravsak API Docs</title>
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
