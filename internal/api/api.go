package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/jbweber/homelab/perch/internal/domain"
	"github.com/jbweber/homelab/perch/internal/pricing"
)

// Service is the lifecycle surface the HTTP handlers depend on.
type Service interface {
	GetInstance(ctx context.Context, userID string) (domain.Instance, domain.InstanceConfig, error)
	GetKey(ctx context.Context, userID string) (domain.InstanceKey, error)
	GetCost(ctx context.Context, userID string) (pricing.CostReport, error)
	Start(ctx context.Context, userID string) (domain.Instance, error)
	Stop(ctx context.Context, userID string) (domain.Instance, error)

	ListSources(ctx context.Context, userID string) ([]domain.AllowedSource, error)
	AddSource(ctx context.Context, userID, address string) (domain.AllowedSource, error)
	RemoveSource(ctx context.Context, userID, sourceID string) error

	Provision(ctx context.Context, targetUserID string) (domain.Instance, error)
	AdminStart(ctx context.Context, targetUserID string) (domain.Instance, error)
	AdminStop(ctx context.Context, targetUserID string) (domain.Instance, error)
	Reclaim(ctx context.Context, targetUserID string) error
	SetConfig(ctx context.Context, config domain.InstanceConfig) (domain.InstanceConfig, error)
	GetAggregateCosts(ctx context.Context) (pricing.AggregateReport, error)
}

// API wires the handler groups to the lifecycle service.
type API struct {
	svc Service
}

// NewAPI creates a new API instance over the lifecycle service.
func NewAPI(svc Service) *API {
	return &API{svc: svc}
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	instances := NewInstances(a.svc)
	sources := NewSources(a.svc)
	admin := NewAdmin(a.svc)

	r.Route("/api/v0", func(r chi.Router) {
		r.Use(RequireUser)

		r.Route("/instance", func(r chi.Router) {
			r.Get("/", instances.GetInstanceHandler)
			r.Post("/start", instances.StartHandler)
			r.Post("/stop", instances.StopHandler)
			r.Get("/key", instances.GetKeyHandler)
			r.Get("/cost", instances.GetCostHandler)
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", sources.ListHandler)
			r.Post("/", sources.AddHandler)
			r.Delete("/{id}", sources.RemoveHandler)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/costs", admin.AggregateCostsHandler)
			r.Route("/users/{userID}", func(r chi.Router) {
				r.Post("/instance", admin.ProvisionHandler)
				r.Post("/instance/start", admin.StartHandler)
				r.Post("/instance/stop", admin.StopHandler)
				r.Delete("/instance", admin.ReclaimHandler)
				r.Put("/config", admin.SetConfigHandler)
			})
		})
	})
}
