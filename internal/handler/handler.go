package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/angeloszaimis/mesh-gateway/internal/backend"
	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/dispatch"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// Routes are the prefixes proxied to a single downstream service.
var Routes = []backend.Route{
	{Prefix: "/api/auth", Service: backend.UserService, Rewrite: "/auth"},
	{Prefix: "/api/users", Service: backend.UserService, Rewrite: "/users"},
	{Prefix: "/api/items", Service: backend.ItemService, Rewrite: "/items"},
	{Prefix: "/api/categories", Service: backend.ItemService, Rewrite: "/categories"},
	{Prefix: "/api/search", Service: backend.ItemService, Rewrite: "/search"},
	{Prefix: "/api/lists", Service: backend.ListService, Rewrite: "/lists"},
	{Prefix: "/api/stats", Service: backend.ListService, Rewrite: "/stats"},
}

var availableRoutes = []string{
	"GET /health",
	"GET /registry",
	"GET /api/dashboard",
	"GET /api/global-search",
	"GET /api/circuit-breakers",
	"GET /metrics",
	"POST /api/auth/register",
	"POST /api/auth/login",
	"GET /api/items",
	"GET /api/lists",
}

// GatewayInfo describes the running gateway in /health.
type GatewayInfo struct {
	Address     string
	Environment string
}

type GatewayHandler struct {
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	breakers   *circuitbreaker.Table
	info       GatewayInfo
	now        func() time.Time
}

func NewGatewayHandler(
	logger *slog.Logger,
	dispatcher *dispatch.Dispatcher,
	reg *registry.Registry,
	breakers *circuitbreaker.Table,
	info GatewayInfo,
) *GatewayHandler {
	return &GatewayHandler{
		logger:     logger.With(slog.String("component", "handler")),
		dispatcher: dispatcher,
		registry:   reg,
		breakers:   breakers,
		info:       info,
		now:        time.Now,
	}
}

// Proxy forwards every request under route.Prefix to its service.
func (h *GatewayHandler) Proxy(route backend.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatcher.Proxy(w, r, route)
	}
}

func (h *GatewayHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusNotFound, map[string]any{
		"error":           "Endpoint not found",
		"availableRoutes": availableRoutes,
	})
}

func (h *GatewayHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339Nano)
}
