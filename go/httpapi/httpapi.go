// Package httpapi is the thin HTTP surface consumed by the frontend:
// onboarding submission and readiness polling. Heavier surfaces (semantic
// queries, artifact browsing) live outside the core.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/prismward/prism/go/orchestrator"
	"github.com/prismward/prism/go/tenants"
)

// OnboardRequest is the onboarding submission body.
type OnboardRequest struct {
	TenantSlug   string          `json:"tenant_slug"`
	BusinessName string          `json:"business_name"`
	Days         int             `json:"days"`
	Sources      []SourceRequest `json:"sources"`
}

// SourceRequest selects one source platform and its table logic.
type SourceRequest struct {
	Platform         string   `json:"platform"`
	Enabled          bool     `json:"enabled"`
	ConversionEvents []string `json:"conversion_events,omitempty"`
	FunnelSteps      []string `json:"funnel_steps,omitempty"`
	IdentityStrategy string   `json:"identity_strategy,omitempty"`
}

// OnboardResponse acknowledges an accepted submission.
type OnboardResponse struct {
	TenantSlug        string `json:"tenant_slug"`
	ProvisioningToken string `json:"provisioning_token"`
}

// ReadinessResponse reports onboarding progress of one tenant.
type ReadinessResponse struct {
	IsReady    bool   `json:"is_ready"`
	LastLoadID string `json:"last_load_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

type readiness struct {
	state      orchestrator.ReadinessState
	message    string
	lastLoadID string
}

// Tracker records the latest readiness transition per tenant. It implements
// the orchestrator's readiness callback.
type Tracker struct {
	mu     sync.RWMutex
	states map[string]readiness
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]readiness)}
}

// Update is an orchestrator.ReadinessFunc.
func (t *Tracker) Update(tenantSlug string, state orchestrator.ReadinessState, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cur = t.states[tenantSlug]
	cur.state, cur.message = state, message
	t.states[tenantSlug] = cur
}

// SetLoadID records the invocation id of the tenant's latest run.
func (t *Tracker) SetLoadID(tenantSlug, loadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var cur = t.states[tenantSlug]
	cur.lastLoadID = loadID
	t.states[tenantSlug] = cur
}

func (t *Tracker) get(tenantSlug string) (readiness, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var r, ok = t.states[tenantSlug]
	return r, ok
}

// Server serves the onboarding surface.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Tenants      *tenants.Store
	Tracker      *Tracker
	// DefaultDays bounds ingestion when a submission omits days.
	DefaultDays int
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	var r = chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/onboard", s.handleOnboard)
	r.Get("/readiness/{tenantSlug}", s.handleReadiness)
	r.Method("GET", "/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleOnboard(w http.ResponseWriter, req *http.Request) {
	var body OnboardRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var cfg = tenants.TenantConfig{
		Slug:         body.TenantSlug,
		BusinessName: body.BusinessName,
		Status:       tenants.StatusOnboarding,
	}
	for _, src := range body.Sources {
		cfg.Sources = append(cfg.Sources, tenants.SourceConfig{
			Platform: src.Platform,
			Enabled:  src.Enabled,
			Logic: tenants.Logic{
				ConversionEvents: src.ConversionEvents,
				FunnelSteps:      src.FunnelSteps,
				IdentityStrategy: src.IdentityStrategy,
			},
		})
	}
	if err := s.Tenants.Upsert(req.Context(), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var days = body.Days
	if days <= 0 {
		days = s.DefaultDays
	}
	var token = uuid.NewString()
	s.Tracker.Update(cfg.Slug, orchestrator.StateStarting, "onboarding accepted")

	// The run continues past this request's lifetime; readiness polling
	// observes its progress.
	go func() {
		var rep, err = s.Orchestrator.Onboard(context.Background(), cfg.Slug, days)
		if rep != nil && rep.InvocationID != "" {
			s.Tracker.SetLoadID(cfg.Slug, rep.InvocationID)
		}
		if err != nil {
			log.WithFields(log.Fields{
				"tenant": cfg.Slug,
				"error":  err,
			}).Error("onboarding run failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(OnboardResponse{
		TenantSlug:        cfg.Slug,
		ProvisioningToken: token,
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, req *http.Request) {
	var slug = chi.URLParam(req, "tenantSlug")
	var r, ok = s.Tracker.get(slug)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown tenant "+slug)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ReadinessResponse{
		IsReady:    r.state == orchestrator.StateReady,
		LastLoadID: r.lastLoadID,
		Status:     string(r.state),
		Message:    r.message,
	})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
