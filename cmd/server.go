package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/dedup"
	"github.com/sells-group/visitor-intel/internal/enrichment"
	"github.com/sells-group/visitor-intel/internal/intake"
	"github.com/sells-group/visitor-intel/internal/model"
	"github.com/sells-group/visitor-intel/internal/monitoring"
)

type visitRecorder interface {
	Record(ctx context.Context, in intake.VisitInput) (*intake.Outcome, error)
}

type identityResolver interface {
	Resolve(ctx context.Context, ip string) model.ResolvedIdentity
}

type enrichmentRunner interface {
	RunCycle(ctx context.Context) (*enrichment.Result, error)
}

type dedupRunner interface {
	RunCycle(ctx context.Context) (*dedup.Result, error)
}

type snapshotter interface {
	Collect(ctx context.Context) (*monitoring.Snapshot, error)
}

// api serves the orchestration endpoints. Scheduling stays external: a timer
// calls the cycle endpoints.
type api struct {
	intake     visitRecorder
	resolver   identityResolver
	enrichment enrichmentRunner
	dedup      dedupRunner
	status     snapshotter
}

func newAPI(env *appEnv) *api {
	return &api{
		intake:     env.Intake,
		resolver:   env.Resolver,
		enrichment: env.Processor,
		dedup:      env.Dedup,
		status:     env.Collector,
	}
}

// routes builds the HTTP router.
func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/visits", a.recordVisit)
		r.Get("/resolve/{ip}", a.resolveIP)
		r.Post("/cycles/enrichment", a.runEnrichment)
		r.Post("/cycles/dedup", a.runDedup)
		r.Get("/status", a.snapshot)
	})

	return r
}

func (a *api) recordVisit(w http.ResponseWriter, r *http.Request) {
	var in intake.VisitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.IP == "" {
		writeError(w, http.StatusBadRequest, "ip is required")
		return
	}

	out, err := a.intake.Record(r.Context(), in)
	if err != nil {
		if errors.Is(err, intake.ErrInvalidVisit) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("record visit failed", zap.String("ip", in.IP), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "record visit failed")
		return
	}

	writeJSON(w, http.StatusCreated, out)
}

func (a *api) resolveIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if _, err := netip.ParseAddr(ip); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ip")
		return
	}
	writeJSON(w, http.StatusOK, a.resolver.Resolve(r.Context(), ip))
}

func (a *api) runEnrichment(w http.ResponseWriter, r *http.Request) {
	res, err := a.enrichment.RunCycle(r.Context())
	if err != nil {
		zap.L().Error("enrichment cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enrichment cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) runDedup(w http.ResponseWriter, r *http.Request) {
	res, err := a.dedup.RunCycle(r.Context())
	if err != nil {
		zap.L().Error("dedup cycle failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dedup cycle failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.status.Collect(r.Context())
	if err != nil {
		zap.L().Error("collect status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect status failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
