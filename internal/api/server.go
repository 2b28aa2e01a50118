// Package api exposes the ingest endpoint and the per-session operations over
// HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/crm"
	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/scoring"
	"github.com/cynergists/specter/internal/store"
)

// Store is the persistence the handlers read and write directly.
type Store interface {
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (*model.Session, error)
	GetVisitorByPK(ctx context.Context, id string) (*model.Visitor, error)
	ListTenantRules(ctx context.Context, tenantID string) ([]model.ScoringRule, error)
	ReplaceTenantRules(ctx context.Context, tenantID string, rules []model.ScoringRule) error
	ListEscalations(ctx context.Context, filter store.LogFilter) ([]model.EscalationLog, error)
	Ping(ctx context.Context) error
}

// Ingester processes tracker batches.
type Ingester interface {
	Ingest(ctx context.Context, tenant *model.Tenant, p *ingest.Payload, meta ingest.RequestMeta) (*ingest.Summary, error)
}

// Scorer rescores a session.
type Scorer interface {
	ScoreSession(ctx context.Context, tenant *model.Tenant, sess *model.Session) (*scoring.Result, error)
}

// Resolver resolves identity for a session.
type Resolver interface {
	Resolve(ctx context.Context, tenant *model.Tenant, visitor *model.Visitor, sess *model.Session, signals model.IdentitySignals) (*model.Resolution, error)
}

// Syncer pushes a session to the tenant's CRM.
type Syncer interface {
	SyncSession(ctx context.Context, tenant *model.Tenant, sess *model.Session, visitor *model.Visitor, res *model.Resolution) (*crm.SyncResult, error)
}

// Escalator records operator escalations.
type Escalator interface {
	Manual(ctx context.Context, tenantID string, sess *model.Session, visitorID, reasonCode, reason string, details map[string]any) (*model.EscalationLog, error)
}

// Trigger fires the high-intent workflow.
type Trigger interface {
	Fire(ctx context.Context, tenantID string, sess *model.Session, visitorID string) (*model.TriggerPayload, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Store     Store
	Ingester  Ingester
	Scorer    Scorer
	Resolver  Resolver
	Syncer    Syncer
	Escalator Escalator
	Trigger   Trigger
}

// Options tune the HTTP surface.
type Options struct {
	AllowedOrigins []string
	MaxBodyBytes   int64
	Timeout        time.Duration
}

type server struct {
	Deps
}

// NewRouter builds the chi router with CORS, request logging and panic
// recovery in front of every route.
func NewRouter(d Deps, opts Options) http.Handler {
	s := &server{Deps: d}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	if opts.MaxBodyBytes > 0 {
		r.Use(maxBody(opts.MaxBodyBytes))
	}
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", s.health)

	r.Route("/v1/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/ingest", s.ingest)

		r.Get("/rules", s.listRules)
		r.Put("/rules", s.replaceRules)
		r.Get("/escalations", s.listEscalations)

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Post("/score", s.score)
			r.Post("/resolve", s.resolve)
			r.Post("/sync", s.sync)
			r.Post("/escalate", s.escalate)
			r.Post("/trigger", s.trigger)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
