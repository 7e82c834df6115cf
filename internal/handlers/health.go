package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

var startTime = time.Now()

// healthHandler reports engine liveness plus the page surface this instance
// serves, so monitoring can tell checkout, upsell, and receipt pages apart.
func healthHandler(pageType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		payload := map[string]any{
			"status":    "ok",
			"engine":    "checkout",
			"page_type": pageType,
			"uptime":    time.Since(startTime).String(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		if err := json.NewEncoder(w).Encode(payload); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
