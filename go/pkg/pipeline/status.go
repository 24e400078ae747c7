package pipeline

import (
	"encoding/json"
	"net/http"
)

type status struct {
	Loaded   bool      `json:"loaded"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// StatusHandler serves the latest composed snapshot as JSON.
func (e *Engine) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		st := status{}
		if s, ok := e.Latest(); ok {
			st.Loaded = true
			st.Snapshot = &s
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
}
