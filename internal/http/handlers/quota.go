package handlers

import "net/http"

// QuotaStatus reports both consumption windows.
func (a *App) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	windows := a.Engine.QuotaStatus(r.Context())

	out := make([]map[string]any, 0, len(windows))
	for _, win := range windows {
		out = append(out, map[string]any{
			"window":           win.Name,
			"usage":            win.Usage,
			"limit":            win.Limit,
			"remaining":        win.Remaining,
			"reset_in_seconds": int(win.ResetIn.Seconds()),
			"reset_at":         win.ResetAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"windows": out})
}
