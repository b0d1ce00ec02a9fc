package endpoints

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ragscan/internal/api"
	"github.com/jackzampolin/ragscan/internal/providers"
	"github.com/jackzampolin/ragscan/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	OCR       string `json:"ocr,omitempty"`
	Knowledge string `json:"knowledge,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

var _ api.Endpoint = (*HealthEndpoint)(nil)

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

var _ api.Endpoint = (*ReadyEndpoint)(nil)

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Readiness check
//	@Description	Reports OCR provider and knowledge store health
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", OCR: "ok", Knowledge: "ok"}
	ctx := r.Context()

	s := svcctx.ServicesFrom(ctx)
	if s == nil {
		resp.Status = "degraded"
		resp.OCR = "not_initialized"
		resp.Knowledge = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	provider, err := s.OCRProvider("")
	switch {
	case err != nil:
		resp.OCR = "not_configured"
	case !provider.Health(ctx).Available:
		resp.OCR = "unhealthy"
	}

	if store := svcctx.StoreFrom(ctx); store == nil {
		resp.Knowledge = "not_configured"
	} else if err := store.Health(ctx); err != nil {
		resp.Knowledge = "unhealthy"
	}

	if resp.OCR != "ok" || resp.Knowledge != "ok" {
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (OCR provider and knowledge store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			fmt.Printf("Status:    %s\n", resp.Status)
			fmt.Printf("OCR:       %s\n", resp.OCR)
			fmt.Printf("Knowledge: %s\n", resp.Knowledge)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string          `json:"server"`
	Providers ProvidersStatus `json:"providers"`
	Knowledge KnowledgeStatus `json:"knowledge"`
	Ledger    string          `json:"ledger,omitempty"`
}

// ProvidersStatus shows registered OCR providers and their pacing counters.
type ProvidersStatus struct {
	Default string                    `json:"default"`
	OCR     []string                  `json:"ocr"`
	Health  []providers.HealthStatus  `json:"health,omitempty"`
	Limits  []providers.LimiterStatus `json:"limits,omitempty"`
}

// KnowledgeStatus shows the knowledge store target.
type KnowledgeStatus struct {
	URL     string `json:"url"`
	Dataset string `json:"dataset"`
	Health  string `json:"health"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

var _ api.Endpoint = (*StatusEndpoint)(nil)

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Detailed server status
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Server: "running"}

	if mgr := svcctx.ConfigFrom(ctx); mgr != nil {
		cfg := mgr.Get()
		resp.Providers.Default = cfg.Defaults.OCRProvider
		resp.Knowledge.URL = cfg.Knowledge.URL
		resp.Knowledge.Dataset = cfg.Knowledge.Dataset
	}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Providers.OCR = registry.ListOCR()
		all := registry.OCRProviders()
		names := make([]string, 0, len(all))
		for name := range all {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := all[name]
			resp.Providers.Health = append(resp.Providers.Health, p.Health(ctx))
			if l, ok := p.(*providers.Limited); ok {
				resp.Providers.Limits = append(resp.Providers.Limits, l.Status())
			}
		}
	}

	resp.Knowledge.Health = "not_initialized"
	if store := svcctx.StoreFrom(ctx); store != nil {
		resp.Knowledge.Health = "healthy"
		if err := store.Health(ctx); err != nil {
			resp.Knowledge.Health = "unhealthy"
		}
	}

	if l := svcctx.LedgerFrom(ctx); l != nil {
		resp.Ledger = l.Path()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
