package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/veridocs/correction-cli/internal/analysis"
	"github.com/veridocs/correction-cli/internal/model"
	"github.com/veridocs/correction-cli/internal/monitoring"
	"github.com/veridocs/correction-cli/internal/store"
)

var servePort int

// apiEnv bundles the dependencies behind the HTTP surface. runCtx outlives
// individual requests so an analysis run shared across callers is not
// cancelled when the first caller disconnects.
type apiEnv struct {
	store     store.Store
	analyzer  *analysis.Analyzer
	collector *monitoring.Collector
	runCtx    context.Context

	analyzeGroup singleflight.Group
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pattern mining HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		env := &apiEnv{
			store:     st,
			analyzer:  analysis.New(st, analysisParams()),
			collector: monitoring.NewCollector(st),
			runCtx:    ctx,
		}

		go monitoring.NewChecker(env.collector, cfg.Monitoring).Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newAPIRouter(env *apiEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", env.handleStatus)
		r.Post("/analyze", env.handleAnalyze)
		r.Get("/patterns", env.handleListPatterns)
		r.Get("/patterns/{id}", env.handleGetPattern)
		r.Post("/patterns/{id}/status", env.handleSetPatternStatus)
	})

	return r
}

func (env *apiEnv) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := env.collector.Collect(r.Context())
	if err != nil {
		zap.L().Error("status collection failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status collection failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleAnalyze runs one analysis pass. Concurrent requests collapse into a
// single run and all callers receive its result.
func (env *apiEnv) handleAnalyze(w http.ResponseWriter, _ *http.Request) {
	result, err, shared := env.analyzeGroup.Do("analyze", func() (any, error) {
		return env.analyzer.Run(env.runCtx)
	})
	if err != nil {
		zap.L().Error("analysis run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "analysis run failed")
		return
	}

	run := result.(*model.AnalysisRun)
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    run,
		"shared": shared,
	})
}

func (env *apiEnv) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	filter := store.PatternFilter{
		IssuerID: r.URL.Query().Get("issuer_id"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		ps := model.PatternStatus(status)
		if !ps.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "unknown status "+status)
			return
		}
		filter.Status = ps
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	patterns, err := env.store.ListPatterns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list patterns failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list patterns failed")
		return
	}
	if patterns == nil {
		patterns = []model.CorrectionPattern{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

func (env *apiEnv) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := env.store.GetPattern(r.Context(), id)
	if err != nil {
		zap.L().Error("get pattern failed", zap.String("pattern_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get pattern failed")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "pattern not found")
		return
	}

	events, err := env.store.ListEventsForPattern(r.Context(), id, 0)
	if err != nil {
		zap.L().Error("list pattern events failed", zap.String("pattern_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get pattern failed")
		return
	}
	if events == nil {
		events = []model.CorrectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pattern": p,
		"events":  events,
	})
}

func (env *apiEnv) handleSetPatternStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"status\": \"...\"}")
		return
	}

	p, err := env.analyzer.SetPatternStatus(r.Context(), id, model.PatternStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrPatternNotFound):
			writeError(w, http.StatusNotFound, "pattern not found")
		case errors.Is(err, model.ErrInvalidTransition):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			zap.L().Error("set pattern status failed", zap.String("pattern_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "set pattern status failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
