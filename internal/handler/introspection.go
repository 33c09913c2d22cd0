package handler

import (
	"net"
	"net/http"
	"strconv"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

type gatewayStatus struct {
	Status      string `json:"status"`
	Port        int    `json:"port"`
	Environment string `json:"environment"`
	Instance    string `json:"instance"`
	Timestamp   string `json:"timestamp"`
}

type healthResponse struct {
	Gateway         gatewayStatus             `json:"gateway"`
	Services        []registry.Record         `json:"services"`
	CircuitBreakers []circuitbreaker.Snapshot `json:"circuitBreakers"`
}

// Health reports the gateway together with the last known state of every
// service and breaker. It never probes, the health sweep keeps the
// registry current.
func (h *GatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	_, portStr, _ := net.SplitHostPort(h.info.Address)
	port, _ := strconv.Atoi(portStr)

	httpserver.WriteJSON(w, http.StatusOK, healthResponse{
		Gateway: gatewayStatus{
			Status:      "healthy",
			Port:        port,
			Environment: h.info.Environment,
			Instance:    h.registry.Owner().Instance,
			Timestamp:   h.timestamp(),
		},
		Services:        h.registry.All(),
		CircuitBreakers: h.breakers.Snapshots(),
	})
}

type registryResponse struct {
	Services  []registry.Record `json:"services"`
	Total     int               `json:"total"`
	Timestamp string            `json:"timestamp"`
}

func (h *GatewayHandler) Registry(w http.ResponseWriter, r *http.Request) {
	services := h.registry.All()
	httpserver.WriteJSON(w, http.StatusOK, registryResponse{
		Services:  services,
		Total:     len(services),
		Timestamp: h.timestamp(),
	})
}

func (h *GatewayHandler) CircuitBreakers(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string][]circuitbreaker.Snapshot{
		"circuitBreakers": h.breakers.Snapshots(),
	})
}
