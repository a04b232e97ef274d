package httpapi

import (
	"net/http"

	"github.com/StricklySoft/stricklysoft-iam/pkg/lifecycle"
)

// health serves the lifecycle report: 200 when healthy, 503 otherwise.
func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.deps.Service == nil {
		writeJSON(w, http.StatusOK, lifecycle.Report{State: lifecycle.StateRunning, Healthy: true})
		return
	}
	report := a.deps.Service.Report(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, report)
}
