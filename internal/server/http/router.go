// Copyright 2025 Paddy Lindsay
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

// Package http serves the drinks API over HTTP with gin. Routes are
// registered in one table together with the permission each requires, and
// every error a handler or middleware records is rendered by a single error
// writer.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plindsay/coffeeshop/internal/config"
	"github.com/plindsay/coffeeshop/internal/drinks"
	"github.com/plindsay/coffeeshop/internal/log"
	"github.com/plindsay/coffeeshop/pkg/auth"
	"github.com/plindsay/coffeeshop/pkg/security"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

// Route describes one endpoint. An empty Permission marks a public route.
type Route struct {
	Method     string
	Path       string
	Permission string
	Handler    gin.HandlerFunc
}

// Public reports whether the route can be called without a token.
func (r Route) Public() bool {
	return r.Permission == ""
}

// Dependencies are the collaborators the router needs. Security, Tracing and
// Metrics are optional.
type Dependencies struct {
	Logger   *log.Logger
	Drinks   *drinks.Service
	Verifier *auth.Verifier
	Security *security.SecurityMiddleware
	Tracing  *telemetry.TracingHelper
	Metrics  *telemetry.MetricsHelper
}

// Router is the HTTP entry point of the service.
type Router struct {
	engine  *gin.Engine
	routes  []Route
	logger  *log.Logger
	authLog *log.AuthenticationLogger
	metrics *telemetry.MetricsHelper
}

// NewRouter builds the gin engine, installs the middleware chain and
// registers the drinks routes.
func NewRouter(deps Dependencies) (*Router, error) {
	if deps.Drinks == nil {
		return nil, errors.New("drinks service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(nil)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.ContextWithFallback = true

	var trusted []string
	if deps.Security != nil {
		trusted = deps.Security.TrustedProxies()
	}
	if err := engine.SetTrustedProxies(trusted); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}

	rt := &Router{
		engine:  engine,
		logger:  deps.Logger,
		authLog: deps.Logger.NewAuthenticationLogger(),
		metrics: deps.Metrics,
	}

	if deps.Tracing != nil {
		engine.Use(telemetry.Middleware(deps.Tracing, deps.Metrics))
	}
	engine.Use(
		requestID(deps.Logger),
		requestLogger(),
		rt.handleErrors(),
		recovery(),
	)
	if deps.Security != nil {
		engine.Use(deps.Security.Handler())
	}

	engine.NoRoute(func(c *gin.Context) {
		_ = c.Error(errNotFound)
	})
	engine.NoMethod(func(c *gin.Context) {
		_ = c.Error(errMethodNotAllowed)
	})

	h := &handlers{drinks: deps.Drinks}
	rt.routes = []Route{
		{Method: http.MethodGet, Path: "/healthz", Handler: h.health},
		{Method: http.MethodGet, Path: "/drinks", Handler: h.listDrinks},
		{Method: http.MethodGet, Path: "/drinks-detail", Permission: "get:drinks", Handler: h.listDrinkDetails},
		{Method: http.MethodPost, Path: "/drinks", Permission: "post:drinks", Handler: h.createDrink},
		{Method: http.MethodPatch, Path: "/drinks/:id", Permission: "patch:drinks", Handler: h.updateDrink},
		{Method: http.MethodDelete, Path: "/drinks/:id", Permission: "delete:drinks", Handler: h.deleteDrink},
	}
	for _, route := range rt.routes {
		chain := []gin.HandlerFunc{}
		if !route.Public() {
			chain = append(chain, auth.RequiresAuth(deps.Verifier, route.Permission), rt.tokenAccepted(route.Permission))
		}
		chain = append(chain, route.Handler)
		engine.Handle(route.Method, route.Path, chain...)
	}

	return rt, nil
}

// Routes returns the registered route table.
func (rt *Router) Routes() []Route {
	out := make([]Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.engine.ServeHTTP(w, r)
}

// NewServer wraps handler in an http.Server configured from cfg.
func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
