package cluster

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

// Resolver classifies the cluster into a State from two independent signals:
// registry membership ("kind get clusters") and control-plane reachability
// ("kubectl cluster-info" against the cluster's context).
//
// The order of the checks matters. Registry absence must short-circuit before
// the reachability probe runs: probing a nonexistent cluster fails in a way
// indistinguishable from "still initializing" and would misclassify the state.
type Resolver struct {
	runner      procrun.Runner
	clusterName string
}

// NewResolver creates a Resolver for the named cluster.
func NewResolver(runner procrun.Runner, clusterName string) *Resolver {
	return &Resolver{
		runner:      runner,
		clusterName: clusterName,
	}
}

// Resolve determines the current cluster state.
//
// It returns StateError, with the underlying cause, when the registry query
// itself cannot be completed. All other outcomes are regular states with a nil
// error. The caller's context bounds both the registry query and the probe, so
// Resolve never outlives the caller's timeout.
func (r *Resolver) Resolve(ctx context.Context) (State, error) {
	result, err := r.runner.Run(ctx, procrun.ShellSpec("kind get clusters", kindProviderEnv))
	if err != nil {
		return StateError, fmt.Errorf("failed to query cluster registry: %w", err)
	}
	if result.ExitCode != 0 {
		return StateError, fmt.Errorf("cluster registry query exited with code %d: %s", result.ExitCode, result.Combined())
	}

	if !r.registered(result.Stdout) {
		log.Printf("Cluster '%s' not found in registry", r.clusterName)
		return StateNotRunning, nil
	}

	// The cluster object exists; check whether the control plane is serving.
	probe := procrun.Spec{
		Command: "kubectl",
		Args:    []string{"cluster-info", "--context", "kind-" + r.clusterName},
	}
	probeResult, err := r.runner.Run(ctx, probe)
	if err != nil && ctx.Err() != nil {
		// Caller cancellation is not a cluster state.
		return StateError, err
	}
	if err != nil || probeResult.ExitCode != 0 {
		log.Printf("Cluster '%s' registered but control plane not reachable yet", r.clusterName)
		return StateInitializing, nil
	}

	log.Printf("Cluster '%s' is running and reachable", r.clusterName)
	return StateRunning, nil
}

// registered reports whether the cluster name appears in the registry listing,
// one cluster name per line.
func (r *Resolver) registered(listing string) bool {
	for _, line := range strings.Split(strings.TrimSpace(listing), "\n") {
		if strings.TrimSpace(line) == r.clusterName {
			return true
		}
	}
	return false
}
