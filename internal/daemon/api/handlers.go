// Package api provides HTTP handlers for the daemon's REST API.
//
// Long-running operations follow an async pattern: the handler asks the
// orchestrator to start the operation and returns 202 Accepted immediately,
// or 409 Conflict when another operation already holds the slot. Clients poll
// GET /api/status to observe progress and the outcome of the last operation.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/env"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/ops"
	"github.com/meyrevived/mpc-dev-studio/internal/prereq"
)

// Orchestrator abstracts the environment orchestrator for the handlers,
// primarily for dependency injection in tests.
type Orchestrator interface {
	Status(ctx context.Context) state.DevEnvironment
	ClusterStatus(ctx context.Context) (cluster.State, error)
	CreateEnvironment() error
	DestroyEnvironment() error
	StartRebuild() error
	StartSmokeTest() error
	StartMPCDeploy() error
	StartMetricsDeploy() error
	StartFeatureEnable(name string, credentials map[string]string) error
	StartGitSync() error
}

// PrereqChecker abstracts the prerequisite checker.
type PrereqChecker interface {
	CheckAll(ctx context.Context) *prereq.CheckResult
}

// Handlers holds the dependencies for all HTTP API handlers.
type Handlers struct {
	Orchestrator Orchestrator
	Checker      PrereqChecker
}

// NewHandlers creates a Handlers instance over the orchestrator and checker.
func NewHandlers(orchestrator Orchestrator, checker PrereqChecker) *Handlers {
	return &Handlers{
		Orchestrator: orchestrator,
		Checker:      checker,
	}
}

// ClusterStatusResponse is the JSON response for GET /api/cluster/status.
// Status is one of "running", "initializing", "not_running", "error"; Error
// carries diagnostics when classification itself failed.
type ClusterStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OperationResponse is the JSON response for accepted async operations.
type OperationResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EnableFeatureRequest is the JSON request body for POST /api/features/enable.
//
// Supported features are "aws-secrets" and "ibm-secrets". The credentials map
// carries feature-specific keys, e.g. access_key_id, secret_access_key and
// ssh_key_path for aws-secrets.
type EnableFeatureRequest struct {
	FeatureName string            `json:"feature_name"`
	Credentials map[string]string `json:"credentials"`
}

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondAccepted writes the 202 response for a started operation.
func respondAccepted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusAccepted, OperationResponse{
		Status:  "accepted",
		Message: message,
	})
}

// respondStartError maps an operation start failure to an HTTP response:
// a busy tracker is 409 Conflict, anything else is 500.
func respondStartError(w http.ResponseWriter, err error) {
	if errors.Is(err, ops.ErrAlreadyRunning) || errors.Is(err, env.ErrOperationInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"status": "conflict",
			"error":  err.Error(),
		})
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// requireMethod enforces the HTTP method, writing 405 on mismatch.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// StatusHandler handles GET /api/status: the full environment snapshot.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.Orchestrator.Status(r.Context()))
}

// PrerequisitesHandler handles GET /api/prerequisites: tool availability and
// version checks.
func (h *Handlers) PrerequisitesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, h.Checker.CheckAll(ctx))
}

// ClusterStatusHandler handles GET /api/cluster/status: the classified
// observed state of the Kind cluster.
func (h *Handlers) ClusterStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status, err := h.Orchestrator.ClusterStatus(r.Context())

	response := ClusterStatusResponse{Status: status.String()}
	if err != nil {
		response.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// ClusterStartHandler handles POST /api/cluster/start: begins cluster creation.
func (h *Handlers) ClusterStartHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.CreateEnvironment(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Cluster creation initiated. Use GET /api/cluster/status to check progress.")
}

// ClusterStopHandler handles POST /api/cluster/stop: begins cluster destruction.
func (h *Handlers) ClusterStopHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.DestroyEnvironment(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Cluster destruction initiated. Use GET /api/cluster/status to check progress.")
}

// RebuildHandler handles POST /api/rebuild: begins the image rebuild pipeline.
func (h *Handlers) RebuildHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.StartRebuild(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Rebuild initiated. Check GET /api/status for progress.")
}

// SmokeTestHandler handles POST /api/smoke-test: begins the smoke test TaskRun.
func (h *Handlers) SmokeTestHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.StartSmokeTest(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Smoke test initiated. Check GET /api/status for the verdict.")
}

// DeployHandler handles POST /api/mpc/deploy: begins the MPC deployment.
func (h *Handlers) DeployHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.StartMPCDeploy(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "MPC deployment initiated. Check daemon logs for deployment progress.")
}

// DeployMetricsHandler handles POST /api/metrics/deploy: begins the metrics
// stack deployment.
func (h *Handlers) DeployMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.StartMetricsDeploy(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Metrics stack deployment initiated. Check daemon logs for progress.")
}

// EnableFeatureHandler handles POST /api/features/enable: begins enabling a
// named feature with the supplied credentials.
func (h *Handlers) EnableFeatureHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req EnableFeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.FeatureName == "" {
		http.Error(w, "feature_name is required", http.StatusBadRequest)
		return
	}

	if err := h.Orchestrator.StartFeatureEnable(req.FeatureName, req.Credentials); err != nil {
		respondStartError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "accepted",
		"message":      fmt.Sprintf("Enabling feature %s. Check GET /api/status for progress.", req.FeatureName),
		"feature_name": req.FeatureName,
	})
}

// GitSyncHandler handles POST /api/git/sync: begins upstream synchronization
// of all tracked repositories.
func (h *Handlers) GitSyncHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.Orchestrator.StartGitSync(); err != nil {
		respondStartError(w, err)
		return
	}
	respondAccepted(w, "Git synchronization initiated. Check daemon logs for sync progress.")
}
