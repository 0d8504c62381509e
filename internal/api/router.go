// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the admission HTTP surface: workflow submission,
// execution status reads, plugin management and health.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maestro-run/maestro/internal/engine"
	"github.com/maestro-run/maestro/internal/httputil"
	"github.com/maestro-run/maestro/internal/log"
	"github.com/maestro-run/maestro/internal/registry"
	"github.com/maestro-run/maestro/internal/store"
	maestroerrors "github.com/maestro-run/maestro/pkg/errors"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version string

	// Development widens error bodies with internal detail. Never set
	// in production.
	Development bool
}

// Router wraps an http.ServeMux with request logging.
type Router struct {
	mux      *http.ServeMux
	config   RouterConfig
	engine   *engine.Engine
	store    *store.Store
	registry *registry.Registry
	logger   *slog.Logger
}

// NewRouter creates the router with all endpoints registered.
func NewRouter(cfg RouterConfig, eng *engine.Engine, st *store.Store, reg *registry.Registry, logger *slog.Logger) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		config:   cfg,
		engine:   eng,
		store:    st,
		registry: reg,
		logger:   log.WithComponent(logger, "api"),
	}

	r.mux.HandleFunc("POST /api/workflows", r.handleSubmit)
	r.mux.HandleFunc("GET /api/workflows/{id}", r.handleStatus)
	r.mux.HandleFunc("GET /api/executions/{id}", r.handleStatus)
	r.mux.HandleFunc("GET /api/executions", r.handleListExecutions)

	r.mux.HandleFunc("POST /api/plugins", r.handleRegisterPlugin)
	r.mux.HandleFunc("PUT /api/plugins/{id}", r.handleUpdatePlugin)
	r.mux.HandleFunc("GET /api/plugins", r.handleListPlugins)
	r.mux.HandleFunc("GET /api/plugins/{id}", r.handleGetPlugin)

	r.mux.HandleFunc("GET /api/stats", r.handleStats)
	r.mux.HandleFunc("GET /api/health", r.handleHealth)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Root endpoint for basic connectivity check
	r.mux.HandleFunc("GET /", r.handleRoot)

	return r
}

// ServeHTTP implements http.Handler with request logging around the mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	defer func() {
		r.logger.Info("request completed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}()

	r.mux.ServeHTTP(w, req)
}

// handleRoot handles GET / for basic connectivity.
func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"name":    "maestrod",
		"version": r.config.Version,
	})
}

// writeDomainError translates a domain error into an HTTP response.
func (r *Router) writeDomainError(w http.ResponseWriter, err error) {
	var (
		vf *engine.ValidationFailure
		ve *maestroerrors.ValidationError
		ce *maestroerrors.CycleError
		me *maestroerrors.MissingDependencyError
		nf *maestroerrors.NotFoundError
		cf *maestroerrors.ConflictError
	)

	switch {
	case maestroerrors.As(err, &vf):
		details := make([]string, len(vf.Errors))
		for i, e := range vf.Errors {
			details[i] = e.Error()
		}
		httputil.WriteErrorDetails(w, http.StatusBadRequest, vf.Error(), details)
	case maestroerrors.As(err, &ve), maestroerrors.As(err, &ce), maestroerrors.As(err, &me):
		httputil.WriteErrorDetails(w, http.StatusBadRequest, err.Error(), []string{err.Error()})
	case maestroerrors.As(err, &nf):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case maestroerrors.As(err, &cf):
		// Duplicate queue keys indicate an internal bug, not bad input.
		r.logger.Error("conflict on submission", slog.String("error", err.Error()))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	default:
		r.logger.Error("request failed", slog.String("error", err.Error()))
		if r.config.Development {
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
