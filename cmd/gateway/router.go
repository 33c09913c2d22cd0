package main

import (
	"net/http"

	"github.com/angeloszaimis/mesh-gateway/internal/handler"
)

func setupRouter(h *handler.GatewayHandler, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	for _, route := range handler.Routes {
		proxy := h.Proxy(route)
		mux.Handle(route.Prefix, proxy)
		mux.Handle(route.Prefix+"/", proxy)
	}

	mux.HandleFunc("GET /api/dashboard", h.Dashboard)
	mux.HandleFunc("GET /api/global-search", h.GlobalSearch)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /registry", h.Registry)
	mux.HandleFunc("GET /api/circuit-breakers", h.CircuitBreakers)
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("POST /registry/services", h.RegisterService)
	mux.HandleFunc("GET /registry/services/{name}", h.DiscoverService)
	mux.HandleFunc("PUT /registry/services/{name}/heartbeat", h.Heartbeat)
	mux.HandleFunc("DELETE /registry/services/{name}", h.UnregisterService)

	mux.HandleFunc("/", h.NotFound)

	return mux
}
