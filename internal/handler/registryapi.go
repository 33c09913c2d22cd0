package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/angeloszaimis/mesh-gateway/internal/httpserver"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const maxRegistrationBytes = 64 << 10

func (h *GatewayHandler) RegisterService(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegistrationBytes))
	if err := dec.Decode(&reg); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "Invalid registration body", err.Error())
		return
	}
	if err := reg.Validate(); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "Invalid registration", err.Error())
		return
	}

	rec := h.registry.RegisterAs(reg.Identity(), reg.Name, reg.Host, reg.Port, reg.Metadata)
	httpserver.WriteJSON(w, http.StatusCreated, rec)
}

func (h *GatewayHandler) DiscoverService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rec, ok := h.registry.Discover(name)
	if !ok {
		httpserver.WriteError(w, http.StatusNotFound, "Service not registered", name)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, rec)
}

// Heartbeat answers 404 for unknown services so the caller registers
// again explicitly.
func (h *GatewayHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.registry.Heartbeat(name) {
		h.logger.Warn("Heartbeat from unregistered service", slog.String("service", name))
		httpserver.WriteError(w, http.StatusNotFound, "Service not registered", name)
		return
	}

	rec, _ := h.registry.Discover(name)
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"name":          rec.Name,
		"status":        rec.Status,
		"lastHeartbeat": rec.LastHeartbeat,
	})
}

func (h *GatewayHandler) UnregisterService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.registry.Unregister(name) {
		httpserver.WriteError(w, http.StatusNotFound, "Service not registered", name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
