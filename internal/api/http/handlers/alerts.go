package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"marketpulse/internal/domain"
	"marketpulse/pkg/httputil"
)

type alertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

// ListAlerts serves the ledger in its order; ?kind= and ?limit= narrow it down
func (a *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := a.Engine.Alerts()

	if kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind != "" {
		want := domain.AlertKind(strings.ToUpper(kind))
		filtered := make([]domain.Alert, 0, len(alerts))
		for _, al := range alerts {
			if al.Kind == want || al.Category == kind {
				filtered = append(filtered, al)
			}
		}
		alerts = filtered
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			if werr := httputil.Error(w, r, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer", nil); werr != nil {
				a.Log.Errorf("ListAlerts handler error: %s", werr.Error())
			}
			return
		}
		if n < len(alerts) {
			alerts = alerts[:n]
		}
	}

	a.writeOK(w, "ListAlerts", alertsResponse{Alerts: alerts, Count: len(alerts)})
}
