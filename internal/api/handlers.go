package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mattjoyce/storegate/internal/apierr"
	"github.com/mattjoyce/storegate/internal/auth"
	"github.com/mattjoyce/storegate/internal/log"
)

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Store         string `json:"store"`
	Version       string `json:"version,omitempty"`
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Store:         "ok",
		Version:       s.config.Version,
	}
	status := http.StatusOK

	if s.c.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.c.Store.Ping(ctx); err != nil {
			s.logger.Error("store ping failed", "error", err)
			resp.Status, resp.Store = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// handleProvision handles POST /provision for the authenticated tenant.
func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	tenant := auth.TenantFromContext(r.Context())
	if tenant == "" {
		apierr.WriteEnvelope(w, apierr.Authentication(apierr.CodeUnauthorized, "no tenant in session"))
		return
	}

	res, err := s.c.Provision.Provision(r.Context(), tenant)
	if err != nil {
		e := apierr.As(err)
		log.WithTenant(s.logger, tenant).Warn("provision request failed", "code", e.Code, "status", e.Status())
		apierr.WriteEnvelope(w, e)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleProvisionStatus handles GET /provision.
func (s *Server) handleProvisionStatus(w http.ResponseWriter, r *http.Request) {
	tenant := auth.TenantFromContext(r.Context())
	if tenant == "" {
		apierr.WriteEnvelope(w, apierr.Authentication(apierr.CodeUnauthorized, "no tenant in session"))
		return
	}

	res, err := s.c.Provision.Status(r.Context(), tenant)
	if err != nil {
		apierr.WriteEnvelope(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
