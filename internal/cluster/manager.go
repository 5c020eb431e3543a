// Package cluster provides Kind cluster lifecycle management for the MPC Dev Studio.
//
// It handles creating, destroying, and classifying the state of a single Kind
// (Kubernetes in Docker) cluster whose identity is injected at construction. The
// package uses Podman as the container runtime provider for better SELinux
// compatibility on RHEL/Fedora systems, and executes all commands through bash to
// ensure proper environment handling and resource limits.
package cluster

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/meyrevived/mpc-dev-studio/internal/config"
	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

// kindProviderEnv selects Podman as kind's container runtime provider.
const kindProviderEnv = "KIND_EXPERIMENTAL_PROVIDER=podman"

// notFoundPhrases are the exact diagnostics current kind releases emit when
// asked to delete a cluster that does not exist. Destroy treats a match as a
// successful no-op. The list is deliberately narrow: unrecognized phrasing is a
// genuine failure, so a broader match cannot mask one.
var notFoundPhrases = []string{
	"not found",
	"No kind clusters found",
}

// CreateError reports a failed cluster creation, carrying the full captured
// tool output for operator diagnosis.
type CreateError struct {
	Output string
	Err    error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("failed to create Kind cluster: %v (output: %s)", e.Err, e.Output)
}

func (e *CreateError) Unwrap() error { return e.Err }

// DestroyError reports a failed cluster deletion, carrying the full captured
// tool output for operator diagnosis.
type DestroyError struct {
	Output string
	Err    error
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("failed to delete Kind cluster: %v (output: %s)", e.Err, e.Output)
}

func (e *DestroyError) Unwrap() error { return e.Err }

// Manager handles Kind cluster lifecycle operations (create, destroy, status)
// for one named cluster. It owns no state beyond what the cluster tooling itself
// reports; every Status call re-derives the state from scratch.
type Manager struct {
	runner      procrun.Runner
	resolver    *Resolver
	clusterName string
	kindConfig  string
}

// NewManager creates a cluster manager for the cluster named in the configuration.
func NewManager(cfg *config.Config) *Manager {
	return NewManagerWithRunner(procrun.NewExecRunner(), cfg.GetClusterName(), cfg.KindConfigPath())
}

// NewManagerWithRunner creates a cluster manager with an explicit process runner.
// Used by tests to script tool behavior.
func NewManagerWithRunner(runner procrun.Runner, clusterName, kindConfigPath string) *Manager {
	return &Manager{
		runner:      runner,
		resolver:    NewResolver(runner, clusterName),
		clusterName: clusterName,
		kindConfig:  kindConfigPath,
	}
}

// Create creates the Kind cluster.
//
// On success the cluster object exists but is not necessarily serving yet;
// callers must poll Status until StateRunning. Create must not run concurrently
// with Destroy for the same cluster, which the operation tracker enforces above
// this layer.
func (m *Manager) Create(ctx context.Context) error {
	log.Printf("Creating Kind cluster '%s'...", m.clusterName)

	cmdline := fmt.Sprintf("kind create cluster --name %s", m.clusterName)
	if m.kindConfig != "" {
		cmdline += " --config " + m.kindConfig
	}

	result, err := m.runner.Run(ctx, procrun.ShellSpec(cmdline, kindProviderEnv))
	if err != nil {
		return &CreateError{Output: result.Combined(), Err: err}
	}
	if result.ExitCode != 0 {
		return &CreateError{
			Output: result.Combined(),
			Err:    fmt.Errorf("kind create exited with code %d", result.ExitCode),
		}
	}

	log.Printf("Kind cluster '%s' created successfully", m.clusterName)
	return nil
}

// Destroy deletes the Kind cluster.
//
// Deleting a cluster that does not exist is a success, not a failure: the
// stderr diagnostics are matched against the known not-found phrasings and a
// match is treated as an idempotent no-op. Any other non-zero exit fails with
// the captured output attached.
func (m *Manager) Destroy(ctx context.Context) error {
	log.Printf("Destroying Kind cluster '%s'...", m.clusterName)

	cmdline := fmt.Sprintf("kind delete cluster --name %s", m.clusterName)
	result, err := m.runner.Run(ctx, procrun.ShellSpec(cmdline, kindProviderEnv))
	if err != nil {
		return &DestroyError{Output: result.Combined(), Err: err}
	}
	if result.ExitCode != 0 {
		if matchesNotFound(result.Stderr) {
			log.Printf("Cluster '%s' does not exist (already deleted or never created)", m.clusterName)
			return nil
		}
		return &DestroyError{
			Output: result.Combined(),
			Err:    fmt.Errorf("kind delete exited with code %d", result.ExitCode),
		}
	}

	log.Printf("Kind cluster '%s' destroyed successfully", m.clusterName)
	return nil
}

// Status classifies the current cluster state.
//
// The returned error is non-nil only alongside StateError, carrying the cause
// for logs; the State itself is always usable. The caller's context bounds all
// external calls, so Status completes even when the tooling hangs.
func (m *Manager) Status(ctx context.Context) (State, error) {
	return m.resolver.Resolve(ctx)
}

// matchesNotFound reports whether the stderr diagnostics match one of the
// documented not-found phrasings.
func matchesNotFound(stderr string) bool {
	for _, phrase := range notFoundPhrases {
		if strings.Contains(stderr, phrase) {
			return true
		}
	}
	return false
}
