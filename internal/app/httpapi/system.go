package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/solpos/service_layer/internal/httputil"
)

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"services": h.app.Services(),
	})
}

type hostInfo struct {
	Cluster        string   `json:"cluster"`
	DemoMode       bool     `json:"demo_mode"`
	Uptime         string   `json:"uptime"`
	GoVersion      string   `json:"go_version"`
	Goroutines     int      `json:"goroutines"`
	Subscribers    int      `json:"subscribers"`
	Providers      []string `json:"settlement_providers"`
	CPUPercent     float64  `json:"cpu_percent,omitempty"`
	MemUsedPercent float64  `json:"mem_used_percent,omitempty"`
	HostUptime     uint64   `json:"host_uptime_seconds,omitempty"`
	Platform       string   `json:"platform,omitempty"`
}

// info reports process and host statistics. Host probes that fail are
// omitted rather than failing the request.
func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := hostInfo{
		Cluster:     h.app.Tokens.Cluster(),
		DemoMode:    h.app.Config.DemoMode,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		GoVersion:   runtime.Version(),
		Goroutines:  runtime.NumGoroutine(),
		Subscribers: h.app.Events.Subscribers(),
	}
	for _, p := range h.app.Settlements.Providers() {
		out.Providers = append(out.Providers, string(p))
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		out.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemUsedPercent = vm.UsedPercent
	}
	if hi, err := host.InfoWithContext(ctx); err == nil {
		out.HostUptime = hi.Uptime
		out.Platform = hi.Platform
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"cluster":        h.app.Tokens.Cluster(),
		"defaultPayment": h.app.Tokens.DefaultPayment(),
		"settlement":     h.app.Tokens.SettlementTokens(),
		"tokens":         h.app.Tokens.All(),
	})
}
