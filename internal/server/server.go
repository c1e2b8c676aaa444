package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"consentline/internal/domain"
	"consentline/internal/engine"
	"consentline/internal/engine/auth"
	"consentline/internal/repo"
)

const devTokenTTL = 12 * time.Hour

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// CronSecret authenticates POST /cron/closure-scan.
	CronSecret string
	Anonymous  RateLimit
	Logger     *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"decision is not open for voting"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"end_time\"}"`
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

// New returns an HTTP handler exposing the Consentline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
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
	router.Use(middleware.Recoverer)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newRateLimitMiddleware(path.Join(basePath, "public")+"/", cfg.Anonymous))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Consentline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDecisions(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerParticipants(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerBallots(group, cfg.Engine)
	registerLog(group, cfg.Engine)
	registerCron(group, cfg.Engine, cfg.CronSecret)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", fe.Reason, nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	}
	var ie engine.InvalidStateError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "invalid_state", ie.Reason, nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", "the decision changed concurrently; retry", nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", "request timed out", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	oas.Components.SecuritySchemes["cronSecret"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Cron-Secret",
	}
	bearer := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = bearer
	healthPath := path.Join("/", basePath, "health")
	devLoginPath := path.Join("/", basePath, "auth/dev/login")
	cronPrefix := path.Join("/", basePath, "cron") + "/"
	publicPrefix := path.Join("/", basePath, "public") + "/"
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			switch {
			case route == healthPath, route == devLoginPath, strings.HasPrefix(route, publicPrefix):
				op.Security = []map[string][]string{}
			case strings.HasPrefix(route, cronPrefix):
				op.Security = []map[string][]string{{"cronSecret": {}}, {"bearerAuth": {}}}
			default:
				op.Security = bearer
			}
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
    <title>Consentline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;. Public ballot routes take X-Dedup-Key.
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

type decisionPath struct {
	ID string `path:"id"`
}

type decisionResponse struct {
	Body domain.Decision `json:"body"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-decision",
		Method:        http.MethodPost,
		Path:          "/decisions",
		Summary:       "Create a draft decision",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateDecisionRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDecision(ctx, input.Body.options(actorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:"DRAFT,OPEN,CLOSED,IMPLEMENTED,ARCHIVED"`
		Algorithm string `query:"algorithm" enum:"CONSENSUS,CONSENT,MAJORITY,SUPERMAJORITY,NUANCED,ADVISORY"`
		CreatorID string `query:"creator_id"`
		EndAfter  string `query:"end_after" doc:"RFC3339 lower bound on end_time"`
		EndBefore string `query:"end_before" doc:"RFC3339 upper bound on end_time"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body DecisionListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		f := repo.DecisionFilter{
			Status:    domain.Status(input.Status),
			Algorithm: domain.Algorithm(input.Algorithm),
			CreatorID: strings.TrimSpace(input.CreatorID),
			Limit:     normalizeLimit(input.Limit),
		}
		var err error
		if f.EndAfter, err = parseTimeParam("end_after", input.EndAfter); err != nil {
			return nil, err
		}
		if f.EndBefore, err = parseTimeParam("end_before", input.EndBefore); err != nil {
			return nil, err
		}
		items, err := e.ListDecisions(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionListResponse `json:"body"`
		}{Body: DecisionListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}",
		Summary:     "Get decision",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *decisionPath) (*decisionResponse, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.GetDecision(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-decision",
		Method:      http.MethodPatch,
		Path:        "/decisions/{id}",
		Summary:     "Edit a draft decision",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateDecisionRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.UpdateDecision(ctx, engine.UpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-decision",
		Method:        http.MethodDelete,
		Path:          "/decisions/{id}",
		Summary:       "Delete a draft decision",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *decisionPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDraft(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decision-timeline",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/timeline",
		Summary:     "Stage windows of a CONSENT decision",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *decisionPath) (*struct {
		Body TimelineResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		windows, err := e.Timeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimelineResponse `json:"body"`
		}{Body: TimelineResponse{DecisionID: input.ID, Windows: nonNilSlice(windows)}}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "launch-decision",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/launch",
		Summary:     "Open a draft decision for voting",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body LaunchDecisionRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.LaunchDecision(ctx, input.ID, input.Body.EndTime, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-decision",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/close",
		Summary:     "Close an open decision now",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *decisionPath) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CloseDecision(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-decision",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/reopen",
		Summary:     "Reopen a closed decision with a new deadline",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body LaunchDecisionRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.ReopenDecision(ctx, input.ID, input.Body.EndTime, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-decision-status",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/status",
		Summary:     "Mark a decided decision IMPLEMENTED or ARCHIVED",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body StatusRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SetStatus(ctx, input.ID, domain.Status(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-amendment-action",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/amendment",
		Summary:     "Record the creator's amendment action",
		Description: "Only during the AMENDEMENTS stage of a CONSENT decision. AMENDED (with the new title or description) and KEPT move the decision to OBJECTIONS; WITHDRAWN closes it.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body AmendmentRequest `json:"body"`
	}) (*decisionResponse, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SetAmendmentAction(ctx, engine.AmendmentOptions{
			ID:          input.ID,
			Action:      domain.AmendmentAction(input.Body.Action),
			Title:       input.Body.Title,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &decisionResponse{Body: d}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/participants",
		Summary:     "List participants",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *decisionPath) (*struct {
		Body ParticipantListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListParticipants(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ParticipantListResponse `json:"body"`
		}{Body: ParticipantListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-participant",
		Method:        http.MethodPost,
		Path:          "/decisions/{id}/participants",
		Summary:       "Invite a member or an external email",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AddParticipantRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AddParticipant(ctx, engine.ParticipantOptions{
			DecisionID:   input.ID,
			UserID:       input.Body.UserID,
			InviteeEmail: input.Body.InviteeEmail,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-participant",
		Method:        http.MethodDelete,
		Path:          "/decisions/{id}/participants/{participant_id}",
		Summary:       "Remove a participant from a draft",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID            string `path:"id"`
		ParticipantID string `path:"participant_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveParticipant(ctx, input.ID, input.ParticipantID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/proposals",
		Summary:     "List proposals",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *decisionPath) (*struct {
		Body ProposalListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProposals(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProposalListResponse `json:"body"`
		}{Body: ProposalListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-proposal",
		Method:        http.MethodPost,
		Path:          "/decisions/{id}/proposals",
		Summary:       "Add a proposal to a draft",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body AddProposalRequest `json:"body"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AddProposal(ctx, input.ID, input.Body.Title, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *decisionPath) (*struct {
		Body CommentListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentListResponse `json:"body"`
		}{Body: CommentListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-comment",
		Method:        http.MethodPost,
		Path:          "/decisions/{id}/comments",
		Summary:       "Ask a clarification, give an opinion or comment",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.PostComment(ctx, engine.CommentOptions{
			DecisionID:   input.ID,
			Kind:         domain.CommentKind(input.Body.Kind),
			Body:         input.Body.Body,
			ActorID:      principal.ActorID,
			InviteeEmail: principal.Email,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

type ballotInput[T any] struct {
	ID       string `path:"id"`
	DedupKey string `header:"X-Dedup-Key" doc:"Stable per-voter key for anonymous decisions"`
	Body     T
}

type ballotResponse struct {
	Body domain.Ballot `json:"body"`
}

func registerBallots(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ballots",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/ballots",
		Summary:     "List ballots",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *decisionPath) (*struct {
		Body BallotListResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBallots(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BallotListResponse `json:"body"`
		}{Body: BallotListResponse{Items: nonNilSlice(items)}}, nil
	})

	registerBallotFamily(api, e, "consensus", domain.AlgorithmConsensus, func(r BinaryBallotRequest) (domain.BallotPayload, bool) {
		return domain.BallotPayload{Value: domain.BinaryValue(r.Value)}, false
	})
	registerBallotFamily(api, e, "consent", domain.AlgorithmConsent, func(r ConsentBallotRequest) (domain.BallotPayload, bool) {
		return domain.BallotPayload{Objection: domain.ObjectionStatus(r.Objection), Text: r.Text}, r.Withdraw
	})
	registerBallotFamily(api, e, "majority", domain.AlgorithmMajority, func(r MajorityBallotRequest) (domain.BallotPayload, bool) {
		return domain.BallotPayload{ProposalID: r.ProposalID}, false
	})
	registerBallotFamily(api, e, "nuanced", domain.AlgorithmNuanced, func(r NuancedBallotRequest) (domain.BallotPayload, bool) {
		return domain.BallotPayload{Mentions: r.Mentions}, false
	})
	registerBallotFamily(api, e, "advisory", domain.AlgorithmAdvisory, func(r AdvisoryBallotRequest) (domain.BallotPayload, bool) {
		return domain.BallotPayload{Value: domain.BinaryValue(r.Value), Text: r.Text}, false
	})
}

// registerBallotFamily exposes one ballot kind twice: for authenticated
// participants and, under /public, for anonymous decisions.
func registerBallotFamily[T any](api huma.API, e engine.Engine, slug string, family domain.Algorithm, convert func(T) (domain.BallotPayload, bool)) {
	huma.Register(api, huma.Operation{
		OperationID: "cast-" + slug + "-ballot",
		Method:      http.MethodPost,
		Path:        "/decisions/{id}/ballots/" + slug,
		Summary:     "Cast or change a " + slug + " ballot",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *ballotInput[T]) (*ballotResponse, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, withdraw := convert(input.Body)
		b, err := e.RecordBallot(ctx, engine.BallotInput{
			DecisionID:   input.ID,
			Family:       family,
			UserID:       principal.ActorID,
			InviteeEmail: principal.Email,
			DedupKey:     input.DedupKey,
			Payload:      payload,
			Withdraw:     withdraw,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &ballotResponse{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cast-public-" + slug + "-ballot",
		Method:      http.MethodPost,
		Path:        "/public/decisions/{id}/ballots/" + slug,
		Summary:     "Cast or change an anonymous " + slug + " ballot",
		Errors:      append([]int{http.StatusTooManyRequests}, mutationErrors...),
	}, func(ctx context.Context, input *ballotInput[T]) (*ballotResponse, error) {
		d, err := e.GetDecision(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if d.Mode != domain.ModeAnonymous {
			return nil, handleError(auth.ForbiddenError{Reason: "this decision only accepts ballots from invited participants"})
		}
		var userID string
		if p, ok := principalFromContext(ctx); ok {
			userID = p.ActorID
		}
		payload, withdraw := convert(input.Body)
		b, err := e.RecordBallot(ctx, engine.BallotInput{
			DecisionID: input.ID,
			Family:     family,
			UserID:     userID,
			DedupKey:   input.DedupKey,
			Payload:    payload,
			Withdraw:   withdraw,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &ballotResponse{Body: b}, nil
	})
}

func registerLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "decision-log",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}/log",
		Summary:     "Decision audit log",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body LogResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.DecisionLog(ctx, input.ID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogResponse `json:"body"`
		}{Body: LogResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerCron(api huma.API, e engine.Engine, secret string) {
	huma.Register(api, huma.Operation{
		OperationID: "closure-scan",
		Method:      http.MethodPost,
		Path:        "/cron/closure-scan",
		Summary:     "Run one closure scan over every open decision",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CronSecret    string `header:"X-Cron-Secret"`
		Authorization string `header:"Authorization"`
	}) (*struct {
		Body engine.ScanSummary `json:"body"`
	}, error) {
		got := strings.TrimSpace(input.CronSecret)
		if got == "" {
			got, _ = bearerToken(input.Authorization)
		}
		if !auth.SecretMatches(secret, got) {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid cron secret", nil)
		}
		summary, err := e.RunClosureScanFrom(ctx, "cron")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ScanSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, strings.TrimSpace(input.Body.Email), devTokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
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

func parseTimeParam(name, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", name+" must be an RFC3339 timestamp", map[string]any{"value": raw})
	}
	t = t.UTC()
	return &t, nil
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
