package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/products"
	"github.com/Spok95/prodplan/internal/domain/recipes"
	"github.com/Spok95/prodplan/internal/engine"
	"github.com/Spok95/prodplan/internal/reports"
)

// Repos — репозитории справочников и планов, обслуживаемые CRUD-частью API.
type Repos struct {
	Materials  *materials.Repo
	Products   *products.Repo
	Recipes    *recipes.Repo
	Production *production.Repo
	Planning   *planning.Repo
}

type Server struct {
	srv   *http.Server
	log   *slog.Logger
	svc   *engine.Service
	exp   *reports.Exporter
	repos Repos
}

func New(addr string, exposeMetrics bool, log *slog.Logger, svc *engine.Service, exp *reports.Exporter, repos Repos) *Server {
	s := &Server{log: log, svc: svc, exp: exp, repos: repos}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if exposeMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("POST /api/material_types", s.createMaterialType)
	mux.HandleFunc("GET /api/material_types", s.listMaterialTypes)
	mux.HandleFunc("DELETE /api/material_types/{id}", s.deleteMaterialType)
	mux.HandleFunc("POST /api/lots", s.createLot)
	mux.HandleFunc("GET /api/lots", s.listLots)
	mux.HandleFunc("PATCH /api/lots/{id}", s.updateLot)
	mux.HandleFunc("GET /api/lots/{id}/usage", s.lotUsage)

	mux.HandleFunc("POST /api/products", s.createProduct)
	mux.HandleFunc("GET /api/products", s.listProducts)
	mux.HandleFunc("DELETE /api/products/{id}", s.deleteProduct)

	mux.HandleFunc("POST /api/recipes", s.createRecipe)
	mux.HandleFunc("GET /api/recipes", s.listSavedRecipes)
	mux.HandleFunc("GET /api/recipes/{id}", s.getRecipe)
	mux.HandleFunc("POST /api/recipes/{id}/items", s.addRecipeItem)
	mux.HandleFunc("DELETE /api/recipes/{id}/items/{item_id}", s.removeRecipeItem)
	mux.HandleFunc("POST /api/recipes/{id}/save", s.saveRecipe)

	mux.HandleFunc("POST /api/plans", s.createPlan)
	mux.HandleFunc("GET /api/plans", s.listPlans)
	mux.HandleFunc("GET /api/plans/{id}", s.getPlan)
	mux.HandleFunc("PATCH /api/plans/{id}/quantity", s.updatePlanQuantity)
	mux.HandleFunc("PATCH /api/plans/{id}/batch_number", s.updatePlanBatchNumber)
	mux.HandleFunc("GET /api/plans/{id}/audit", s.planAudit)
	mux.HandleFunc("DELETE /api/plans/{id}/batches", s.deleteAllBatches)

	mux.HandleFunc("PUT /api/monthly_plans", s.upsertMonthlyPlan)
	mux.HandleFunc("GET /api/monthly_plans", s.listMonthlyPlans)
	mux.HandleFunc("DELETE /api/monthly_plans/{id}", s.deleteMonthlyPlan)
	mux.HandleFunc("GET /api/monthly_demand", s.monthlyDemand)

	mux.HandleFunc("GET /api/availability", s.availability)
	mux.HandleFunc("GET /api/requirements", s.requirements)
	mux.HandleFunc("POST /api/plans/{id}/batches", s.createBatch)
	mux.HandleFunc("POST /api/plans/{id}/batches/bulk", s.createBatches)
	mux.HandleFunc("POST /api/plans/{id}/status", s.transition)
	mux.HandleFunc("POST /api/plans/{id}/undo_completion", s.undoCompletion)
	mux.HandleFunc("DELETE /api/plans/{id}", s.deletePlan)
	mux.HandleFunc("DELETE /api/batches/{id}", s.deleteBatch)
	mux.HandleFunc("POST /api/batches/{id}/ingredients", s.addIngredient)
	mux.HandleFunc("DELETE /api/reservations/{id}", s.removeIngredient)
	mux.HandleFunc("GET /api/forecast", s.forecast)
	mux.HandleFunc("GET /api/forecast.xlsx", s.forecastXLSX)
	mux.HandleFunc("GET /api/plans/{id}/used_materials.xlsx", s.usedMaterialsXLSX)

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
