package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/ledgermatch/ledgermatch/internal/audit/http"
	"github.com/ledgermatch/ledgermatch/internal/auth"
	"github.com/ledgermatch/ledgermatch/internal/rbac"
	reconhttp "github.com/ledgermatch/ledgermatch/internal/recon/http"
	"github.com/ledgermatch/ledgermatch/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Tokens         *auth.TokenStore
	AuthHandler    *auth.Handler
	ReconHandler   *reconhttp.Handler
	AuditHandler   *audithttp.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
		Tokens: params.Tokens,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	params.AuthHandler.MountRoutes(r)
	params.ReconHandler.MountRoutes(r, params.RBACMiddleware)
	params.AuditHandler.MountRoutes(r, params.RBACMiddleware)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
