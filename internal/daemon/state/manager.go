package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
)

// GitManager abstracts Git operations for repository state checking, decoupling
// the Manager from the git package implementation. The context bounds the git
// invocations so a hung repository check cannot stall status reads.
type GitManager interface {
	CheckRepoState(ctx context.Context, repoPath string) (*RepositoryState, error)
}

// ClusterObserver abstracts the observed-state query against the cluster
// lifecycle manager.
type ClusterObserver interface {
	Status(ctx context.Context) (cluster.State, error)
}

// Manager owns the in-memory DevEnvironment aggregate for the lifetime of one
// session.
//
// It queries the live environment on demand rather than loading from disk, and
// uses a mutex so concurrent HTTP handlers get consistent snapshots. All
// composite mutations (cluster record, deployment record, features) go through
// its methods with exclusive access, avoiding torn reads of composite status.
//
// Operation status is not stored here; the orchestrator overlays it from the
// operation tracker when building a snapshot.
type Manager struct {
	mu    sync.RWMutex
	state DevEnvironment

	gitManager     GitManager
	clusterObs     ClusterObserver
	repoPaths      map[string]string // map[repoName]repoPath
	clusterName    string
	kubeconfigPath string
}

// ManagerConfig holds the dependencies for creating a Manager. All fields are
// required except RepoPaths, which may be empty when no repositories are tracked.
type ManagerConfig struct {
	GitManager      GitManager
	ClusterObserver ClusterObserver
	RepoPaths       map[string]string
	ClusterName     string
	KubeconfigPath  string
}

// NewManager creates a Manager and performs an initial scan of the environment
// to populate the aggregate.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if cfg.GitManager == nil {
		return nil, errors.New("GitManager is required")
	}
	if cfg.ClusterObserver == nil {
		return nil, errors.New("ClusterObserver is required")
	}
	if cfg.ClusterName == "" {
		return nil, errors.New("ClusterName is required")
	}

	m := &Manager{
		gitManager:     cfg.GitManager,
		clusterObs:     cfg.ClusterObserver,
		repoPaths:      cfg.RepoPaths,
		clusterName:    cfg.ClusterName,
		kubeconfigPath: cfg.KubeconfigPath,
	}

	if err := m.initialScan(); err != nil {
		return nil, fmt.Errorf("failed to perform initial state scan: %w", err)
	}

	return m, nil
}

// initialScanTimeout bounds the startup observation of the cluster and the
// tracked repositories, matching the probe bound on status reads.
const initialScanTimeout = 10 * time.Second

// initialScan populates the aggregate from scratch on startup: fresh session ID,
// cluster observation, and a pass over all tracked repositories.
func (m *Manager) initialScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), initialScanTimeout)
	defer cancel()

	now := time.Now()
	m.state = DevEnvironment{
		SessionID:    uuid.New().String(),
		CreatedAt:    now,
		LastActive:   now,
		Repositories: make(map[string]RepositoryState),
	}

	m.refreshClusterLocked(ctx)
	m.refreshRepositoriesLocked(ctx, now)

	return nil
}

// Snapshot returns a copy of the current aggregate. The repositories map is
// copied too, so callers can never mutate shared state through the snapshot.
func (m *Manager) Snapshot() DevEnvironment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.state
	snap.Repositories = make(map[string]RepositoryState, len(m.state.Repositories))
	for name, repo := range m.state.Repositories {
		snap.Repositories[name] = repo
	}
	if m.state.Cluster != nil {
		clusterCopy := *m.state.Cluster
		snap.Cluster = &clusterCopy
	}
	if m.state.MPCDeployment != nil {
		depCopy := *m.state.MPCDeployment
		snap.MPCDeployment = &depCopy
	}
	return snap
}

// Refresh queries the live environment and updates the aggregate: cluster
// record presence, repository states, and the last-active timestamp. The
// caller's context bounds the cluster observation and the repository checks,
// so a refresh can never outlive the probe deadline.
func (m *Manager) Refresh(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.state.LastActive = now

	m.refreshClusterLocked(ctx)
	m.refreshRepositoriesLocked(ctx, now)
}

// refreshClusterLocked reconciles the cluster record with the observed state.
// The record exists while the cluster object exists (observed running or
// initializing) and is discarded when the cluster is gone. Observation errors
// leave the previous record untouched; the next refresh re-evaluates.
func (m *Manager) refreshClusterLocked(ctx context.Context) {
	observed, err := m.clusterObs.Status(ctx)
	if err != nil {
		return
	}

	switch observed {
	case cluster.StateRunning, cluster.StateInitializing:
		if m.state.Cluster == nil {
			m.state.Cluster = &ClusterState{
				Name:           m.clusterName,
				CreatedAt:      time.Now(),
				KubeconfigPath: m.kubeconfigPath,
			}
		}
		m.state.Cluster.Status = ClusterStatusRunning
	case cluster.StateNotRunning:
		m.state.Cluster = nil
		m.state.MPCDeployment = nil
	case cluster.StateError:
		// Tooling unusable: keep whatever we knew before.
	}
}

// refreshRepositoriesLocked re-checks every tracked repository. Repositories
// that fail the check are dropped from the mapping until they check out again.
func (m *Manager) refreshRepositoriesLocked(ctx context.Context, now time.Time) {
	for repoName, repoPath := range m.repoPaths {
		repoState, err := m.gitManager.CheckRepoState(ctx, repoPath)
		if err != nil {
			delete(m.state.Repositories, repoName)
			continue
		}
		repoState.LastSynced = now
		m.state.Repositories[repoName] = *repoState
	}
}

// MarkClusterCreated records a fresh cluster record after a successful create.
func (m *Manager) MarkClusterCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Cluster = &ClusterState{
		Name:           m.clusterName,
		CreatedAt:      time.Now(),
		Status:         ClusterStatusRunning,
		KubeconfigPath: m.kubeconfigPath,
	}
	m.state.LastActive = time.Now()
}

// ClearCluster discards the cluster record and everything scoped to the
// cluster's lifetime: the deployment record and the enabled features.
func (m *Manager) ClearCluster() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Cluster = nil
	m.state.MPCDeployment = nil
	m.state.Features = FeatureState{}
	m.state.LastActive = time.Now()
}

// SetMPCDeployment records a successful MPC deployment.
func (m *Manager) SetMPCDeployment(dep *MPCDeployment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.MPCDeployment = dep
	if m.state.Cluster != nil {
		m.state.Cluster.KonfluxDeployed = true
	}
	m.state.LastActive = time.Now()
}

// SetFeature flips a named feature flag. Unknown names are ignored.
func (m *Manager) SetFeature(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "aws-secrets":
		m.state.Features.AWSEnabled = enabled
	case "ibm-secrets":
		m.state.Features.IBMEnabled = enabled
	case "metrics":
		m.state.Features.MetricsEnabled = enabled
	}
	m.state.LastActive = time.Now()
}

// Touch updates the last-active timestamp, recording an observed interaction.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.LastActive = time.Now()
}
