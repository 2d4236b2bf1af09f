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

	"ticketgate/internal/config"
	"ticketgate/internal/domain"
	"ticketgate/internal/engine"
	"ticketgate/internal/engine/auth"
	"ticketgate/internal/policy"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_checked_in"`
	Message string         `json:"message" example:"ticket already checked in: invalid state"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"ticket_id\":\"01927d1c\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// devTokenTTL bounds tokens minted by the dev login endpoint.
const devTokenTTL = 12 * time.Hour

// New returns an HTTP handler exposing the ticketgate API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Ticketgate API", "0.3.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerTickets(group, cfg.Engine)
	registerCheckIns(group, cfg.Engine)
	registerFees(group, cfg.Engine)
	registerQuotas(group, cfg.Engine)
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

// handleError maps engine errors onto the API envelope. Denials for
// anonymous callers are reported as missing authentication.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	var denied *policy.DeniedError
	if errors.As(err, &denied) || errors.Is(err, domain.ErrPermissionDenied) {
		if actorFromContext(ctx) == nil {
			return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		var details map[string]any
		if denied != nil {
			details = map[string]any{"action": denied.Action}
		}
		return newAPIError(http.StatusForbidden, "forbidden", msg, details)
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, map[string]any{"field": ve.Field})
	}
	switch {
	case errors.Is(err, domain.ErrValidation):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, domain.ErrQuotaExceeded):
		return newAPIError(http.StatusTooManyRequests, "quota_exceeded", msg, nil)
	case errors.Is(err, domain.ErrAlreadyCheckedIn):
		return newAPIError(http.StatusConflict, "already_checked_in", msg, nil)
	case errors.Is(err, domain.ErrTicketNotValid):
		return newAPIError(http.StatusConflict, "ticket_not_valid", msg, nil)
	case errors.Is(err, domain.ErrNotCancellable):
		return newAPIError(http.StatusConflict, "not_cancellable", msg, nil)
	case errors.Is(err, domain.ErrEventNotOnSale):
		return newAPIError(http.StatusConflict, "not_on_sale", msg, nil)
	case errors.Is(err, domain.ErrInvalidState):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "quota_exceeded"
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

// applyAuthSecurity documents the accepted credentials. Public operations
// carry an empty security list.
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
	public := map[string]bool{}
	for _, p := range []string{"health", "auth/dev/login", "fees/quote"} {
		public[path.Join("/", basePath, p)] = true
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Ticketgate API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key (gate scanners).
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

type idPath struct {
	ID string `path:"id"`
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create and publish an event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ev, err := e.CreateEvent(ctx, actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{ev}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events visible to the caller",
	}, func(ctx context.Context, input *struct {
		OrganizerID string `query:"organizer_id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		evs, err := e.ListEvents(ctx, actorFromContext(ctx), input.OrganizerID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if evs == nil {
			evs = []domain.Event{}
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: evs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		ev, err := e.GetEvent(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: EventResponse{ev}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event-sales",
		Method:      http.MethodGet,
		Path:        "/events/{id}/sales",
		Summary:     "Sales report with payout estimate",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body SalesResponse `json:"body"`
	}, error) {
		report, err := e.EventSales(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body SalesResponse `json:"body"`
		}{Body: SalesResponse{report}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-event-tickets",
		Method:      http.MethodGet,
		Path:        "/events/{id}/tickets",
		Summary:     "List tickets sold for an event",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body TicketListResponse `json:"body"`
	}, error) {
		tickets, err := e.EventTickets(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if tickets == nil {
			tickets = []domain.Ticket{}
		}
		return &struct {
			Body TicketListResponse `json:"body"`
		}{Body: TicketListResponse{Items: tickets}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "issue-ticket",
		Method:        http.MethodPost,
		Path:          "/events/{id}/tickets",
		Summary:       "Issue a ticket for an event tier",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body IssueTicketRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := actorFromContext(ctx)
		t, err := e.IssueTicket(ctx, actor, input.Body.options(input.ID, actor))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: TicketResponse{t}}, nil
	})
}

func registerTickets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/{id}",
		Summary:     "Get ticket",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		t, err := e.GetTicket(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: TicketResponse{t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lookup-ticket",
		Method:      http.MethodGet,
		Path:        "/tickets/by-code/{code}",
		Summary:     "Look up a ticket by its code without checking it in",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		t, err := e.LookupTicket(ctx, actorFromContext(ctx), input.Code)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: TicketResponse{t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-ticket",
		Method:      http.MethodPost,
		Path:        "/tickets/{id}/cancel",
		Summary:     "Cancel a valid ticket",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		res, err := e.CancelTicket(ctx, actorFromContext(ctx), input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: CancelResponse{res}}, nil
	})
}

func registerCheckIns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "check-in",
		Method:      http.MethodPost,
		Path:        "/checkins",
		Summary:     "Admit a ticket by code",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CheckInRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := e.CheckIn(ctx, actorFromContext(ctx), input.Body.Code)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: TicketResponse{t}}, nil
	})
}

func registerFees(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "quote-fees",
		Method:      http.MethodPost,
		Path:        "/fees/quote",
		Summary:     "Forward pricing for a base price",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body FeeQuoteRequest `json:"body"`
	}) (*struct {
		Body FeeQuoteResponse `json:"body"`
	}, error) {
		sheet := input.Body.Sheet
		if sheet == "" {
			sheet = config.SheetEvents
		}
		p, err := e.QuoteFees(sheet, input.Body.BasePrice)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body FeeQuoteResponse `json:"body"`
		}{Body: FeeQuoteResponse{Sheet: sheet, PriceBreakdown: p}}, nil
	})
}

func registerQuotas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "consume-quota",
		Method:      http.MethodPost,
		Path:        "/quotas/{name}/consume",
		Summary:     "Consume from a named quota",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusTooManyRequests,
		},
	}, func(ctx context.Context, input *struct {
		Name string              `path:"name"`
		Body ConsumeQuotaRequest `json:"body"`
	}) (*struct {
		Body QuotaResponse `json:"body"`
	}, error) {
		amount := input.Body.Amount
		if amount == 0 {
			amount = 1
		}
		d, err := e.ConsumeQuota(ctx, actorFromContext(ctx), input.Name, input.Body.ResourceID, amount)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if !d.Allowed {
			return nil, newAPIError(http.StatusTooManyRequests, "quota_exceeded", "quota exceeded", map[string]any{
				"quota":     input.Name,
				"remaining": d.Remaining,
				"limit":     d.Limit,
			})
		}
		return &struct {
			Body QuotaResponse `json:"body"`
		}{Body: QuotaResponse{Quota: input.Name, Decision: d}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "peek-quota",
		Method:      http.MethodGet,
		Path:        "/quotas/{name}",
		Summary:     "Remaining allowance of a named quota",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name       string `path:"name"`
		ResourceID string `query:"resource_id"`
	}) (*struct {
		Body QuotaResponse `json:"body"`
	}, error) {
		d, err := e.PeekQuota(ctx, actorFromContext(ctx), input.Name, input.ResourceID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body QuotaResponse `json:"body"`
		}{Body: QuotaResponse{Quota: input.Name, Decision: d}}, nil
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
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := auth.SignToken(authCfg.JWTSecret, domain.Actor{
			ID:            actorID,
			Roles:         domain.NewRoleSet(input.Body.Roles...),
			EmailVerified: input.Body.EmailVerified,
			Tier:          domain.ParseTier(input.Body.Tier),
		}, devTokenTTL, time.Now())
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
