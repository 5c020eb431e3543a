package api

import (
	"net/http"
)

// NewRouter registers all API endpoints on a fresh ServeMux.
//
//	handlers := NewHandlers(orchestrator, checker)
//	router := NewRouter(handlers)
//	http.ListenAndServe("localhost:8765", router)
func NewRouter(handlers *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	// Reads
	mux.HandleFunc("/api/status", handlers.StatusHandler)
	mux.HandleFunc("/api/prerequisites", handlers.PrerequisitesHandler)
	mux.HandleFunc("/api/cluster/status", handlers.ClusterStatusHandler)

	// Cluster lifecycle
	mux.HandleFunc("/api/cluster/start", handlers.ClusterStartHandler)
	mux.HandleFunc("/api/cluster/stop", handlers.ClusterStopHandler)

	// Long-running pipelines
	mux.HandleFunc("/api/rebuild", handlers.RebuildHandler)
	mux.HandleFunc("/api/smoke-test", handlers.SmokeTestHandler)
	mux.HandleFunc("/api/mpc/deploy", handlers.DeployHandler)
	mux.HandleFunc("/api/metrics/deploy", handlers.DeployMetricsHandler)
	mux.HandleFunc("/api/features/enable", handlers.EnableFeatureHandler)
	mux.HandleFunc("/api/git/sync", handlers.GitSyncHandler)

	return mux
}
