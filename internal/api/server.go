package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"minmatar-fleet/internal/config"
	"minmatar-fleet/internal/db"
	"minmatar-fleet/internal/esi"
	"minmatar-fleet/internal/industry"
	"minmatar-fleet/internal/metrics"
	"minmatar-fleet/internal/sde"
)

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	esi      esi.TypeClient
	validate *validator.Validate

	mu      sync.RWMutex
	sdeData *sde.Data
	svc     *industry.Service
	ready   bool
}

// NewServer creates a new API server. Industry routes answer 503 until SetSDE.
func NewServer(cfg *config.Config, database *db.DB, esiClient esi.TypeClient) *Server {
	return &Server{
		cfg:      cfg,
		db:       database,
		esi:      esiClient,
		validate: newValidator(),
	}
}

// SetSDE is called when SDE data finishes loading.
func (s *Server) SetSDE(data *sde.Data) {
	svc := industry.NewService(industry.Deps{
		SDE:           data,
		Types:         s.db,
		ESI:           s.esi,
		Products:      s.db,
		Demand:        s.db,
		DepthCeiling:  s.cfg.Industry.DepthCeiling,
		TypeCacheSize: s.cfg.Industry.TypeCacheSize,
		TypeCacheTTL:  s.cfg.Industry.TypeCacheTTL(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdeData = data
	s.svc = svc
	s.ready = true
}

func (s *Server) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Server) service() *industry.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(metrics.MetricsMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/industry", func(r chi.Router) {
		r.Use(s.requireReady)

		r.Get("/types/{typeID}/breakdown", s.handleTypeBreakdown)
		r.Get("/types/{typeID}/breakdown/flat", s.handleTypeFlatBreakdown)

		r.Get("/products", s.handleListProducts)
		r.Get("/products/{productID}", s.handleGetProduct)
		r.Get("/products/{productID}/breakdown", s.handleProductBreakdown)
		r.With(apiKeyMiddleware(s.cfg.Server.APIKey)).Put("/products", s.handlePutProduct)
		r.With(apiKeyMiddleware(s.cfg.Server.APIKey)).Delete("/products/{productID}", s.handleDeleteProduct)

		r.Get("/orders", s.handleListOrders)
		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/{orderID}", s.handleGetOrder)
		r.Delete("/orders/{orderID}", s.handleDeleteOrder)
		r.Post("/orders/{orderID}/items", s.handleAddOrderItem)
		r.Post("/orders/{orderID}/items/{itemID}/assignments", s.handleAssignOrderItem)
		r.Get("/orders/{orderID}/breakdown", s.handleOrderBreakdown)

		r.Get("/summary/nested", s.handleNestedSummary)
		r.Get("/summary/flat", s.handleFlatSummary)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	var typeCount, formulaCount int
	if s.sdeData != nil {
		typeCount = len(s.sdeData.Types)
		if s.sdeData.Industry != nil {
			formulaCount = len(s.sdeData.Industry.ProductToFormula)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, map[string]interface{}{
		"sde_ready": ready,
		"types":     typeCount,
		"formulas":  formulaCount,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSONStatus(w, code, map[string]string{"error": msg})
}
