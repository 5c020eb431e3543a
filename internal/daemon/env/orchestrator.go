// Package env composes the cluster lifecycle manager and the operation tracker
// behind one per-session handle.
//
// The Orchestrator serves status reads and operation starts to the HTTP layer.
// Reads always succeed within a bounded probe timeout; writes are granted or
// refused atomically by the operation tracker and then run on background
// goroutines with a guaranteed exactly-once completion, even when the work
// panics or is cancelled.
package env

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/ops"
)

// Operation deadlines. Cluster bring-up and builds take minutes; the deadlines
// only bound runaway tooling, they are not expected durations.
const (
	probeTimeout         = 10 * time.Second
	createTimeout        = 10 * time.Minute
	destroyTimeout       = 5 * time.Minute
	rebuildTimeout       = 15 * time.Minute
	smokeTestTimeout     = 30 * time.Minute
	deployMPCTimeout     = 15 * time.Minute
	deployMetricsTimeout = 10 * time.Minute
	enableFeatureTimeout = 5 * time.Minute
	gitSyncTimeout       = 5 * time.Minute
)

// ErrOperationInProgress is returned when a request requires an idle
// environment but an operation holds the slot.
var ErrOperationInProgress = errors.New("an operation is in progress")

// ClusterManager abstracts the cluster lifecycle operations the orchestrator
// sequences.
type ClusterManager interface {
	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Status(ctx context.Context) (cluster.State, error)
}

// Pipelines holds the long-running work the orchestrator supervises. The
// pipelines are external to the orchestrator: it only sequences them, gates
// them through the tracker, and records their outcomes.
type Pipelines struct {
	Rebuild       func(ctx context.Context) error
	SmokeTest     func(ctx context.Context) error
	DeployMPC     func(ctx context.Context) (*state.MPCDeployment, error)
	DeployMetrics func(ctx context.Context) error
	EnableFeature func(ctx context.Context, name string, credentials map[string]string) error
	SyncRepos     func(ctx context.Context) error
}

// Orchestrator binds the cluster lifecycle manager and the operation tracker
// into one environment record.
type Orchestrator struct {
	stateMgr   *state.Manager
	clusterMgr ClusterManager
	tracker    *ops.Tracker
	pipelines  Pipelines
}

// New creates an Orchestrator over the given collaborators.
func New(stateMgr *state.Manager, clusterMgr ClusterManager, pipelines Pipelines) *Orchestrator {
	return &Orchestrator{
		stateMgr:   stateMgr,
		clusterMgr: clusterMgr,
		tracker:    ops.NewTracker(),
		pipelines:  pipelines,
	}
}

// Status returns the composed DevEnvironment snapshot. It always succeeds: the
// cluster observation is bounded by the probe timeout and a failed observation
// degrades to the previous record rather than blocking or erroring.
func (o *Orchestrator) Status(ctx context.Context) state.DevEnvironment {
	refreshCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	o.stateMgr.Refresh(refreshCtx)

	snap := o.stateMgr.Snapshot()
	op, lastErr := o.tracker.Current()
	snap.OperationStatus = string(op)
	snap.LastOperationError = lastErr
	return snap
}

// ClusterStatus classifies the cluster's observed state within the probe timeout.
func (o *Orchestrator) ClusterStatus(ctx context.Context) (cluster.State, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return o.clusterMgr.Status(probeCtx)
}

// StartOperation begins the named operation and, if the tracker grants the
// slot, executes work on a background goroutine that outlives the caller.
// Completion is invoked exactly once: on success, failure, cancellation, or
// panic.
func (o *Orchestrator) StartOperation(op ops.Operation, timeout time.Duration, work func(ctx context.Context) error) error {
	if err := o.tracker.Begin(op); err != nil {
		return err
	}

	go o.runOperation(op, timeout, work)
	return nil
}

// runOperation drives work to completion and settles the tracker.
func (o *Orchestrator) runOperation(op ops.Operation, timeout time.Duration, work func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Printf("Starting operation: %s", op)

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", op, r)
		}
		if err != nil {
			log.Printf("ERROR: operation %s failed: %v", op, err)
		} else {
			log.Printf("Operation %s completed successfully", op)
		}
		o.tracker.Complete(op, err)
	}()

	err = work(ctx)
}

// CreateEnvironment starts cluster creation as a tracked operation. Success
// records the cluster record; callers poll Status until the cluster reports
// running.
func (o *Orchestrator) CreateEnvironment() error {
	return o.StartOperation(ops.OpCreatingCluster, createTimeout, func(ctx context.Context) error {
		if err := o.clusterMgr.Create(ctx); err != nil {
			return err
		}
		o.stateMgr.MarkClusterCreated()
		return nil
	})
}

// DestroyEnvironment starts cluster destruction as a tracked operation. It is
// only permitted when the environment is idle; otherwise it fails with
// ErrOperationInProgress. Success discards the cluster record, the deployment
// record, and the enabled features.
func (o *Orchestrator) DestroyEnvironment() error {
	err := o.StartOperation(ops.OpDestroyingCluster, destroyTimeout, func(ctx context.Context) error {
		if err := o.clusterMgr.Destroy(ctx); err != nil {
			return err
		}
		o.stateMgr.ClearCluster()
		return nil
	})
	if errors.Is(err, ops.ErrAlreadyRunning) {
		return fmt.Errorf("%w: cannot destroy environment", ErrOperationInProgress)
	}
	return err
}

// StartRebuild starts the image rebuild pipeline as a tracked operation.
func (o *Orchestrator) StartRebuild() error {
	return o.StartOperation(ops.OpRebuilding, rebuildTimeout, o.pipelines.Rebuild)
}

// StartSmokeTest starts the smoke test pipeline as a tracked operation.
func (o *Orchestrator) StartSmokeTest() error {
	return o.StartOperation(ops.OpSmokeTesting, smokeTestTimeout, o.pipelines.SmokeTest)
}

// StartMPCDeploy starts the MPC deployment pipeline as a tracked operation.
// A successful deployment is recorded into the aggregate.
func (o *Orchestrator) StartMPCDeploy() error {
	return o.StartOperation(ops.OpDeployingMPC, deployMPCTimeout, func(ctx context.Context) error {
		dep, err := o.pipelines.DeployMPC(ctx)
		if err != nil {
			return err
		}
		if dep != nil {
			o.stateMgr.SetMPCDeployment(dep)
		}
		return nil
	})
}

// StartMetricsDeploy starts the metrics stack deployment as a tracked
// operation, flipping the metrics feature flag on success.
func (o *Orchestrator) StartMetricsDeploy() error {
	return o.StartOperation(ops.OpDeployingMetrics, deployMetricsTimeout, func(ctx context.Context) error {
		if err := o.pipelines.DeployMetrics(ctx); err != nil {
			return err
		}
		o.stateMgr.SetFeature("metrics", true)
		return nil
	})
}

// StartFeatureEnable starts enabling the named feature as a tracked operation,
// flipping its flag on success.
func (o *Orchestrator) StartFeatureEnable(name string, credentials map[string]string) error {
	return o.StartOperation(ops.OpEnablingFeature, enableFeatureTimeout, func(ctx context.Context) error {
		if err := o.pipelines.EnableFeature(ctx, name, credentials); err != nil {
			return err
		}
		o.stateMgr.SetFeature(name, true)
		return nil
	})
}

// StartGitSync starts upstream synchronization of all tracked repositories as
// a tracked operation.
func (o *Orchestrator) StartGitSync() error {
	return o.StartOperation(ops.OpSyncingGit, gitSyncTimeout, o.pipelines.SyncRepos)
}
