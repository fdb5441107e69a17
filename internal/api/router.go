package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tidegate/armada/internal/api/management"
	"github.com/tidegate/armada/internal/api/middleware"
	"github.com/tidegate/armada/internal/api/response"
	"github.com/tidegate/armada/internal/auth"
	"github.com/tidegate/armada/internal/service"
)

type RouterDeps struct {
	ProvisioningSvc *service.ProvisioningService
	DeploymentSvc   *service.DeploymentService
	Scheduler       *service.RolloutScheduler
	CleanupSvc      *service.CleanupService
	JWTManager      *auth.JWTManager
	AdminEmail      string
	AdminPassword   string
	CORSOrigins     string
	Logger          *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.Metrics)

	// CORS
	origins := strings.Split(deps.CORSOrigins, ",")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	authHandler := management.NewAuthHandler(deps.JWTManager, deps.AdminEmail, deps.AdminPassword)
	targetHandler := management.NewTargetHandler(deps.ProvisioningSvc)
	setHandler := management.NewDistributionSetHandler(deps.ProvisioningSvc)
	assignmentHandler := management.NewAssignmentHandler(deps.DeploymentSvc)
	actionHandler := management.NewActionHandler(deps.DeploymentSvc, deps.Scheduler, deps.CleanupSvc)

	r.Route("/api/v1/management", func(r chi.Router) {
		// Rate limit management API: 30 req/s with burst of 60
		r.Use(middleware.RateLimit(30, 60))

		// Login (no auth required)
		r.Post("/auth/login", authHandler.Login)

		// Authenticated management endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.ManagementAuth(deps.JWTManager))
			r.Use(middleware.Tenant)

			r.Post("/auth/refresh", authHandler.Refresh)

			// Targets
			r.Post("/targets", targetHandler.Register)
			r.Get("/targets/{controllerID}", targetHandler.Get)
			r.Get("/targets/{controllerID}/actions", actionHandler.ListByTarget)

			// Distribution sets
			r.Post("/distribution-sets", setHandler.Create)
			r.Get("/distribution-sets/{id}", setHandler.Get)
			r.Get("/distribution-sets/{id}/actions", actionHandler.ListByDistributionSet)
			r.Post("/distribution-sets/{id}/assignments", assignmentHandler.Assign)
			r.Post("/distribution-sets/{id}/offline-reports", assignmentHandler.ReportOffline)

			// Actions
			r.Get("/actions/{id}", actionHandler.Get)
			r.Post("/actions/{id}/cancel", actionHandler.Cancel)
			r.Post("/actions/{id}/force-quit", actionHandler.ForceQuit)
			r.Post("/actions/{id}/force", actionHandler.Force)
			r.Get("/actions/{id}/statuses", actionHandler.StatusHistory)
			r.Get("/action-statuses/{id}/messages", actionHandler.StatusMessages)

			// Rollout group scheduling
			r.Post("/rollouts/{rolloutID}/start", actionHandler.StartRolloutGroup)

			// Maintenance
			r.Post("/maintenance/action-cleanup", actionHandler.TriggerCleanup)
		})
	})

	return r
}
