// Package git provides Git repository management for the daemon's state tracking.
//
// The daemon tracks fork-based repositories where 'origin' points to the user's
// fork and 'upstream' to the original repository. This package checks repository
// state (current branch, local changes, commits behind upstream) from local data
// only, and separately synchronizes the locally cached upstream refs over the
// network. CheckRepoState relies on Sync having run; until then the
// commits-behind count may be stale.
package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

// Manager provides fork-aware Git operations for the tracked repositories.
type Manager struct {
	runner procrun.Runner
}

// NewManager creates a Manager backed by the real git binary.
func NewManager() *Manager {
	return NewManagerWithRunner(procrun.NewExecRunner())
}

// NewManagerWithRunner creates a Manager with an explicit process runner,
// used by tests to script git behavior.
func NewManagerWithRunner(runner procrun.Runner) *Manager {
	return &Manager{runner: runner}
}

// CheckRepoState checks the Git state of a repository using only local data.
// It performs no network operations: the commits-behind count compares the
// current branch against the locally cached upstream/main ref. The caller's
// context bounds the git invocations; status reads pass a probe-bounded one.
func (m *Manager) CheckRepoState(ctx context.Context, repoPath string) (*state.RepositoryState, error) {
	if err := m.verifyGitRepo(ctx, repoPath); err != nil {
		return nil, err
	}

	currentBranch, err := m.currentBranch(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get current branch: %w", err)
	}

	hasLocalChanges, err := m.hasLocalChanges(ctx, repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check for local changes: %w", err)
	}

	commitsBehind := m.commitsBehindUpstream(ctx, repoPath, currentBranch)

	return &state.RepositoryState{
		Name:                  repoName(repoPath),
		Path:                  repoPath,
		CurrentBranch:         currentBranch,
		CommitsBehindUpstream: commitsBehind,
		HasLocalChanges:       hasLocalChanges,
	}, nil
}

// Sync fetches the latest changes from the 'upstream' remote, updating the
// locally cached upstream refs that CheckRepoState compares against. It does
// not modify the working directory. Called periodically by the daemon's
// background sync worker and on demand through the API.
func (m *Manager) Sync(ctx context.Context, repoPath string) error {
	if err := m.verifyGitRepo(ctx, repoPath); err != nil {
		return err
	}

	if err := m.ensureUpstreamRemote(ctx, repoPath); err != nil {
		return fmt.Errorf("failed to ensure upstream remote: %w", err)
	}

	result, err := m.git(ctx, repoPath, "fetch", "upstream")
	if err != nil {
		return fmt.Errorf("failed to fetch from upstream: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("failed to fetch from upstream: %s", result.Stderr)
	}

	return nil
}

// SyncAll synchronizes every repository in the mapping, collecting failures
// instead of stopping at the first one.
func (m *Manager) SyncAll(ctx context.Context, repoPaths map[string]string) error {
	var failures []string
	for repoName, repoPath := range repoPaths {
		if err := m.Sync(ctx, repoPath); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", repoName, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("failed to sync repositories: %s", strings.Join(failures, "; "))
	}
	return nil
}

// git runs a git subcommand against the repository.
func (m *Manager) git(ctx context.Context, repoPath string, args ...string) (procrun.Result, error) {
	spec := procrun.Spec{
		Command: "git",
		Args:    append([]string{"-C", repoPath}, args...),
	}
	return m.runner.Run(ctx, spec)
}

// verifyGitRepo checks that the path is a Git repository via rev-parse.
func (m *Manager) verifyGitRepo(ctx context.Context, repoPath string) error {
	result, err := m.git(ctx, repoPath, "rev-parse", "--git-dir")
	if err != nil || result.ExitCode != 0 {
		return fmt.Errorf("not a git repository: %s", repoPath)
	}
	return nil
}

// currentBranch returns the current branch name. Fails in detached HEAD state.
func (m *Manager) currentBranch(ctx context.Context, repoPath string) (string, error) {
	result, err := m.git(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("rev-parse failed: %s", result.Stderr)
	}

	branch := strings.TrimSpace(result.Stdout)
	if branch == "" {
		return "", errors.New("empty branch name")
	}
	return branch, nil
}

// ensureUpstreamRemote verifies the 'upstream' remote is configured.
func (m *Manager) ensureUpstreamRemote(ctx context.Context, repoPath string) error {
	result, err := m.git(ctx, repoPath, "remote", "get-url", "upstream")
	if err != nil || result.ExitCode != 0 {
		return errors.New("upstream remote not configured (use: git remote add upstream <url>)")
	}
	return nil
}

// hasLocalChanges reports uncommitted or untracked files via porcelain status.
func (m *Manager) hasLocalChanges(ctx context.Context, repoPath string) (bool, error) {
	result, err := m.git(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if result.ExitCode != 0 {
		return false, fmt.Errorf("status failed: %s", result.Stderr)
	}
	return strings.TrimSpace(result.Stdout) != "", nil
}

// commitsBehindUpstream counts commits on upstream/main missing from the
// current branch. Returns 0 when upstream/main does not exist locally yet
// (before the first Sync).
func (m *Manager) commitsBehindUpstream(ctx context.Context, repoPath, currentBranch string) int {
	result, err := m.git(ctx, repoPath, "rev-list", "--count", currentBranch+"..upstream/main")
	if err != nil || result.ExitCode != 0 {
		return 0
	}

	count, err := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if err != nil {
		return 0
	}
	return count
}

// repoName extracts the repository name from its path.
func repoName(repoPath string) string {
	parts := strings.Split(strings.TrimRight(repoPath, "/"), "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return repoPath
}
