// Package state defines data models for tracking the MPC development environment.
//
// The DevEnvironment struct is the root state object: cluster record, repository
// states, MPC deployment info, enabled features, and the current operation status.
// This snapshot is exposed via GET /api/status and is what the IDE plugin polls to
// track operation progress.
package state

import "time"

// Declared cluster postures. The declared posture is what the daemon believes it
// set the cluster to, distinct from the observed state the cluster resolver
// derives on each status query.
const (
	ClusterStatusRunning = "running"
	ClusterStatusPaused  = "paused"
	ClusterStatusStopped = "stopped"
)

// ClusterState represents the managed Kind cluster.
//
// Exactly one cluster record exists per environment. It is absent (nil in the
// aggregate) until cluster creation succeeds and is discarded again on a
// successful destroy.
type ClusterState struct {
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	Status          string    `json:"status"` // "running" | "paused" | "stopped"
	KubeconfigPath  string    `json:"kubeconfig_path"`
	KonfluxDeployed bool      `json:"konflux_deployed"`
}

// RepositoryState represents the state of a tracked Git repository.
//
// This tracks the current branch, sync status, and whether there are uncommitted
// changes. The git manager updates these fields during state refreshes.
type RepositoryState struct {
	Name                  string    `json:"name"`
	Path                  string    `json:"path"`
	CurrentBranch         string    `json:"current_branch"`
	LastSynced            time.Time `json:"last_synced"`
	CommitsBehindUpstream int       `json:"commits_behind_upstream"`
	HasLocalChanges       bool      `json:"has_local_changes"`
}

// MPCDeployment records whether and when the multi-platform-controller was
// deployed into the cluster. Present only after a successful deploy operation;
// cleared when the cluster is destroyed.
type MPCDeployment struct {
	ControllerImage string    `json:"controller_image"`
	OTPImage        string    `json:"otp_image"`
	DeployedAt      time.Time `json:"deployed_at"`
	SourceGitHash   string    `json:"source_git_hash"`
}

// FeatureState represents the enabled/disabled state of optional features.
//
// Cloud provider features are enabled when their secrets are deployed to the
// cluster; the metrics flag is set by a successful metrics deployment.
type FeatureState struct {
	AWSEnabled     bool `json:"aws_enabled"`
	IBMEnabled     bool `json:"ibm_enabled"`
	MetricsEnabled bool `json:"metrics_enabled"`
}

// DevEnvironment is the top-level development environment aggregate, the
// primary object returned by GET /api/status.
//
// Invariants:
//   - OperationStatus != "idle" implies at most one operation is executing.
//   - LastOperationError is non-empty only after a failed operation and before
//     the next operation starts.
//   - Cluster is nil before creation and after destruction.
type DevEnvironment struct {
	SessionID          string                     `json:"session_id"`
	CreatedAt          time.Time                  `json:"created_at"`
	LastActive         time.Time                  `json:"last_active"`
	Cluster            *ClusterState              `json:"cluster"`
	Repositories       map[string]RepositoryState `json:"repositories"`
	MPCDeployment      *MPCDeployment             `json:"mpc_deployment"`
	Features           FeatureState               `json:"features"`
	OperationStatus    string                     `json:"operation_status"`
	LastOperationError string                     `json:"last_operation_error"`
}
