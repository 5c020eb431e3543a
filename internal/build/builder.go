// Package build provides the rebuild pipeline for the Multi-Platform Controller
// (MPC) container images.
//
// The pipeline detects whether Docker or Podman is available, builds both MPC
// images from the local source repository, and loads them into the managed Kind
// cluster. It is one of the long-running operations the environment orchestrator
// sequences; the orchestrator supervises it, this package only does the work.
package build

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/meyrevived/mpc-dev-studio/internal/config"
	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

// Images produced by the rebuild pipeline. Both are required for the MPC stack:
// the controller manages builds, the OTP server secures access to build hosts.
const (
	ControllerImage = "multi-platform-controller:latest"
	OTPImage        = "multi-platform-otp:latest"
)

// Builder builds MPC container images and loads them into the Kind cluster.
type Builder struct {
	runner      procrun.Runner
	repoPath    string
	clusterName string
}

// NewBuilder creates a Builder for the repository and cluster in the configuration.
func NewBuilder(cfg *config.Config) *Builder {
	return NewBuilderWithRunner(procrun.NewExecRunner(), cfg.GetMpcRepoPath(), cfg.GetClusterName())
}

// NewBuilderWithRunner creates a Builder with an explicit process runner,
// used by tests to script tool behavior.
func NewBuilderWithRunner(runner procrun.Runner, repoPath, clusterName string) *Builder {
	return &Builder{
		runner:      runner,
		repoPath:    repoPath,
		clusterName: clusterName,
	}
}

// RebuildImages builds both MPC images and loads them into the Kind cluster.
// This is the entry point the orchestrator's rebuild operation runs.
func RebuildImages(ctx context.Context, cfg *config.Config) error {
	return NewBuilder(cfg).BuildAll(ctx)
}

// BuildAll builds the controller and OTP images in sequence.
func (b *Builder) BuildAll(ctx context.Context) error {
	if err := b.buildImage(ctx, "Dockerfile", ControllerImage); err != nil {
		return fmt.Errorf("failed to build controller image: %w", err)
	}
	if err := b.buildImage(ctx, "Dockerfile.otp", OTPImage); err != nil {
		return fmt.Errorf("failed to build OTP image: %w", err)
	}
	return nil
}

// buildImage builds one image and loads it into the cluster.
//
// The --platform flag pins the host's native architecture. This prevents
// cross-compilation (e.g. an ARM64 host building amd64) which can OOM-kill the
// Go compiler inside the build.
func (b *Builder) buildImage(ctx context.Context, dockerfileName, imageTag string) error {
	log.Printf("Starting image build: %s", imageTag)

	containerRuntime, err := b.detectContainerRuntime(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect container runtime: %w", err)
	}
	log.Printf("Using container runtime: %s", containerRuntime)

	dockerfile := filepath.Join(b.repoPath, dockerfileName)
	if _, err := os.Stat(dockerfile); err != nil {
		return fmt.Errorf("dockerfile not found at %s: %w", dockerfile, err)
	}

	platform := "linux/" + runtime.GOARCH
	log.Printf("Building %s for platform %s from %s", imageTag, platform, b.repoPath)

	result, err := b.runner.Run(ctx, procrun.Spec{
		Command: containerRuntime,
		Args: []string{
			"build",
			"--platform", platform,
			"-t", imageTag,
			"-f", dockerfile,
			b.repoPath,
		},
		Dir: b.repoPath,
	})
	if err != nil {
		return fmt.Errorf("build command failed: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("build of %s exited with code %d: %s", imageTag, result.ExitCode, result.Combined())
	}

	log.Printf("Image build completed successfully: %s", imageTag)

	if err := b.loadImageIntoKind(ctx, containerRuntime, imageTag); err != nil {
		return fmt.Errorf("failed to load image into Kind cluster: %w", err)
	}

	return nil
}

// detectContainerRuntime determines whether to use docker or podman, in order:
// the DOCKER_CLI override, then podman (preferred on RHEL/Fedora), then docker.
func (b *Builder) detectContainerRuntime(ctx context.Context) (string, error) {
	candidates := []string{"podman", "docker"}
	if override := os.Getenv("DOCKER_CLI"); override != "" {
		candidates = append([]string{override}, candidates...)
	}

	for _, candidate := range candidates {
		result, err := b.runner.Run(ctx, procrun.Spec{
			Command: candidate,
			Args:    []string{"--version"},
		})
		if err == nil && result.ExitCode == 0 {
			return candidate, nil
		}
	}

	return "", errors.New("neither docker nor podman found in PATH")
}

// loadImageIntoKind transfers the built image into the Kind cluster by piping
// the runtime's save output into kind's image-archive load, avoiding a
// temporary tar file.
func (b *Builder) loadImageIntoKind(ctx context.Context, containerRuntime, imageTag string) error {
	log.Printf("Loading image %s into Kind cluster '%s'...", imageTag, b.clusterName)

	cmdline := fmt.Sprintf("%s save %s | kind load image-archive /dev/stdin --name %s",
		containerRuntime, imageTag, b.clusterName)

	var env []string
	if containerRuntime == "podman" {
		env = append(env, "KIND_EXPERIMENTAL_PROVIDER=podman")
	}

	result, err := b.runner.Run(ctx, procrun.ShellSpec(cmdline, env...))
	if err != nil {
		return fmt.Errorf("image load failed: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("image load exited with code %d: %s", result.ExitCode, result.Combined())
	}

	log.Println("Image loaded into Kind cluster successfully")
	return nil
}
