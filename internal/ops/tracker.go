// Package ops tracks the single long-running operation an environment may have
// in flight.
//
// Long operations (rebuild, smoke test, deployments, cluster mutations) run on
// background goroutines that outlive the HTTP request that started them. The
// Tracker is the one synchronization point preventing two such operations from
// racing on the same cluster: Begin is the sole concurrency gate and callers
// must not bypass it.
package ops

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Operation names one long-running unit of work. Cluster mutations are tracked
// operations too, which is what makes concurrent create/destroy impossible.
type Operation string

const (
	OpIdle              Operation = "idle"
	OpCreatingCluster   Operation = "creating_cluster"
	OpDestroyingCluster Operation = "destroying_cluster"
	OpRebuilding        Operation = "rebuilding"
	OpSmokeTesting      Operation = "smoke_testing"
	OpDeployingMPC      Operation = "deploying_mpc"
	OpDeployingMetrics  Operation = "deploying_metrics"
	OpEnablingFeature   Operation = "enabling_feature"
	OpSyncingGit        Operation = "syncing_git"
)

// ErrAlreadyRunning is returned by Begin when another operation holds the slot.
// It is expected and non-retriable by the same request; callers poll status
// instead of retrying immediately.
var ErrAlreadyRunning = errors.New("an operation is already in progress")

// Tracker is a single-slot state machine recording the currently running
// operation and the terminal outcome of the most recent completed one.
//
// The zero value is not usable; construct with NewTracker.
type Tracker struct {
	mu        sync.Mutex
	current   Operation
	lastError string
}

// NewTracker returns an idle Tracker.
func NewTracker() *Tracker {
	return &Tracker{current: OpIdle}
}

// Begin atomically transitions the tracker from idle to op, clearing the stored
// error from any previous operation. It fails with ErrAlreadyRunning when any
// operation is in flight.
func (t *Tracker) Begin(op Operation) error {
	if op == OpIdle {
		return fmt.Errorf("cannot begin operation %q", op)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != OpIdle {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.current)
	}

	t.current = op
	t.lastError = ""
	return nil
}

// Complete transitions the tracker back to idle. A non-nil opErr is recorded
// and kept until the next Begin so the UI can display it; it is never thrown
// back through the tracker. Complete always reaches idle, so the environment
// cannot get stuck in a non-idle state by a failed operation.
func (t *Tracker) Complete(op Operation, opErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != op {
		// A completion for an operation that is not current indicates a caller
		// bug; log it but still settle to idle rather than wedge the slot.
		log.Printf("WARNING: completing operation %q while %q is current", op, t.current)
	}

	t.current = OpIdle
	if opErr != nil {
		t.lastError = opErr.Error()
	}
}

// Current returns the in-flight operation (OpIdle when none) and the error
// message of the most recent failed operation, if it has not been superseded.
// It never blocks behind a running operation.
func (t *Tracker) Current() (Operation, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.lastError
}
