package api

import (
	"context"
	"net/http"
	"time"
)

// healthTimeout bounds each dependency probe.
const healthTimeout = 2 * time.Second

type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

// handleHealth reports the database and the optional MQTT and InfluxDB
// connections. Only the database makes the service unhealthy; the others
// degrade it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: s.version, Services: map[string]string{}}
	status := http.StatusOK

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Services["database"] = "down"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		} else {
			resp.Services["database"] = "up"
		}
	}

	optional := map[string]HealthChecker{}
	if s.mqtt != nil {
		optional["mqtt"] = s.mqtt
	}
	if s.influx != nil {
		optional["influxdb"] = s.influx
	}
	for name, dep := range optional {
		if err := dep.HealthCheck(ctx); err != nil {
			resp.Services[name] = "down"
			if resp.Status == "ok" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Services[name] = "up"
	}

	writeJSON(w, status, resp)
}
