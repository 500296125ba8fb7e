package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type healthReport struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	QueueDepth int     `json:"queue_depth"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float64 `json:"mem_percent"`
}

// Health handles GET /health. Host gauges are best-effort; a probe failure
// never flips the health status on its own.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status: "healthy",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	total := 0
	for _, depth := range s.engine.QueueStats() {
		total += depth
	}
	report.QueueDepth = total

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		report.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, report)
}
