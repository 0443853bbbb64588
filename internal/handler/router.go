package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-match/backend/internal/handler/chat"
	"github.com/zhouzirui/z-match/backend/internal/handler/persona"
	"github.com/zhouzirui/z-match/backend/internal/handler/stream"
	"github.com/zhouzirui/z-match/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/z-match/backend/internal/middleware"
	personaModel "github.com/zhouzirui/z-match/backend/internal/model/persona"
	"github.com/zhouzirui/z-match/backend/internal/service/auth"
	"github.com/zhouzirui/z-match/backend/internal/service/notify"
	"github.com/zhouzirui/z-match/backend/internal/service/session"
	"github.com/zhouzirui/z-match/backend/internal/transport/ws"
	"github.com/zhouzirui/z-match/backend/pkg/metrics"
	"github.com/zhouzirui/z-match/backend/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Personas  personaModel.Store
	Registry  *session.Registry
	Hub       *notify.Hub
	Verifier  *auth.Verifier
	Metrics   *metrics.Manager
	Gatherer  prometheus.Gatherer
	WSOptions ws.Options
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logging.Component("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = metrics.GetRegistry()
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Registry.Len(),
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Registry, deps.Verifier).RegisterRoutes(api)
	})

	stream.New(deps.Registry, deps.Hub, deps.Verifier, deps.Metrics, deps.WSOptions).RegisterRoutes(r)

	return r
}
