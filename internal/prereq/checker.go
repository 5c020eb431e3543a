// Package prereq verifies the host has the tools the daemon drives.
//
// Every lifecycle operation shells out to external binaries (kind, kubectl,
// git, a container runtime, helm), so the checker reports which of them are
// installed and whether they meet the minimum versions. Docker and Podman are
// interchangeable: Podman satisfies the container runtime requirement when
// Docker is absent.
package prereq

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

// ToolResult is the outcome of checking one tool.
type ToolResult struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Version   string `json:"version"`
	Required  string `json:"required"`
	Status    string `json:"status"` // "ok", "missing", "outdated", "unknown"
}

// CheckResult aggregates all tool checks.
type CheckResult struct {
	Prerequisites map[string]ToolResult `json:"prerequisites"`
	AllMet        bool                  `json:"all_met"`
	Errors        []string              `json:"errors,omitempty"`
}

// toolCheck describes how to probe one tool's version.
type toolCheck struct {
	name         string
	command      string
	args         []string
	required     string
	versionRegex string
}

// checks lists the required tools. The docker entry has a podman alternative
// handled separately in CheckAll.
var checks = []toolCheck{
	{"go", "go", []string{"version"}, "1.24.0", `go(\d+\.\d+(?:\.\d+)?)`},
	{"kind", "kind", []string{"--version"}, "0.26.0", `(\d+\.\d+\.\d+)`},
	{"kubectl", "kubectl", []string{"version", "--client"}, "1.31.1", `v?(\d+\.\d+\.\d+)`},
	{"docker", "docker", []string{"--version"}, "27.0.1", `(\d+\.\d+\.\d+)`},
	{"git", "git", []string{"--version"}, "2.46.0", `(\d+\.\d+\.\d+)`},
	{"helm", "helm", []string{"version", "--short"}, "3.0.0", `v?(\d+\.\d+\.\d+)`},
}

var podmanCheck = toolCheck{"podman", "podman", []string{"--version"}, "5.3.1", `(\d+\.\d+\.\d+)`}

// Checker probes the host's installed tooling.
type Checker struct {
	runner procrun.Runner
}

// NewChecker creates a Checker probing the real host.
func NewChecker() *Checker {
	return NewCheckerWithRunner(procrun.NewExecRunner())
}

// NewCheckerWithRunner creates a Checker with an explicit process runner,
// used by tests to script tool behavior.
func NewCheckerWithRunner(runner procrun.Runner) *Checker {
	return &Checker{runner: runner}
}

// CheckAll runs every tool check and aggregates the results. When Docker fails
// its check but Podman passes, the container runtime requirement is considered
// met and the Docker error is dropped.
func (c *Checker) CheckAll(ctx context.Context) *CheckResult {
	result := &CheckResult{
		Prerequisites: make(map[string]ToolResult),
		AllMet:        true,
		Errors:        []string{},
	}

	for _, check := range checks {
		toolResult := c.checkTool(ctx, check)
		result.Prerequisites[check.name] = toolResult

		if toolResult.Status != "ok" {
			result.AllMet = false
			switch toolResult.Status {
			case "missing":
				result.Errors = append(result.Errors, check.name+" is not installed")
			case "outdated":
				result.Errors = append(result.Errors, fmt.Sprintf("%s version %s is below minimum requirement %s",
					check.name, toolResult.Version, toolResult.Required))
			}
		}
	}

	if result.Prerequisites["docker"].Status != "ok" {
		podmanResult := c.checkTool(ctx, podmanCheck)
		result.Prerequisites["podman"] = podmanResult

		if podmanResult.Status == "ok" {
			var kept []string
			for _, msg := range result.Errors {
				if !strings.Contains(msg, "docker") {
					kept = append(kept, msg)
				}
			}
			result.Errors = kept

			result.AllMet = true
			for name, tool := range result.Prerequisites {
				if name != "docker" && tool.Status != "ok" {
					result.AllMet = false
					break
				}
			}
		} else {
			result.Errors = append(result.Errors, "Neither Docker nor Podman is available")
		}
	}

	return result
}

// checkTool probes one tool: run its version command, extract the version, and
// compare against the minimum.
func (c *Checker) checkTool(ctx context.Context, check toolCheck) ToolResult {
	result := ToolResult{
		Name:      check.name,
		Installed: false,
		Version:   "Not Found",
		Required:  check.required,
		Status:    "missing",
	}

	probe, err := c.runner.Run(ctx, procrun.Spec{
		Command: check.command,
		Args:    check.args,
	})
	if err != nil {
		return result
	}

	result.Installed = true

	if probe.ExitCode != 0 {
		result.Status = "unknown"
		result.Version = "Unknown"
		return result
	}

	version := extractVersion(probe.Combined(), check.versionRegex)
	if version == "" {
		result.Status = "unknown"
		result.Version = "Unknown"
		return result
	}

	result.Version = version
	if versionAtLeast(version, check.required) {
		result.Status = "ok"
	} else {
		result.Status = "outdated"
	}
	return result
}

// extractVersion pulls the first capture group of the pattern out of the
// command output.
func extractVersion(output, pattern string) string {
	matches := regexp.MustCompile(pattern).FindStringSubmatch(output)
	if len(matches) > 1 {
		return matches[1]
	}
	return ""
}

// versionAtLeast reports whether version >= required, comparing
// major.minor.patch numerically with missing components treated as 0.
func versionAtLeast(version, required string) bool {
	have := strings.Split(strings.TrimPrefix(version, "v"), ".")
	want := strings.Split(strings.TrimPrefix(required, "v"), ".")

	for len(have) < 3 {
		have = append(have, "0")
	}
	for len(want) < 3 {
		want = append(want, "0")
	}

	for i := 0; i < 3; i++ {
		var haveNum, wantNum int
		_, _ = fmt.Sscanf(have[i], "%d", &haveNum)
		_, _ = fmt.Sscanf(want[i], "%d", &wantNum)

		if haveNum != wantNum {
			return haveNum > wantNum
		}
	}
	return true
}
