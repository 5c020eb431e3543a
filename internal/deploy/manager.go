// Package deploy provides deployment operations against the managed Kind cluster.
//
// It covers the Multi-Platform Controller deployment (manifests, image patching,
// verification), the AWS secrets that enable cloud-based builds, and the metrics
// stack (Prometheus + Grafana). Each entry point is one of the long-running
// operations the environment orchestrator sequences.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/meyrevived/mpc-dev-studio/internal/config"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

const (
	mpcNamespace      = "multi-platform-controller"
	mpcDeploymentName = "multi-platform-controller"
	otpDeploymentName = "multi-platform-otp-server"
	hostConfigName    = "host-config"

	// Podman prefixes locally built images with "localhost/" when they are
	// loaded into the cluster.
	controllerImage = "localhost/multi-platform-controller:latest"
	otpImage        = "localhost/multi-platform-otp:latest"

	deploymentWait = 2 * time.Minute
)

// Manager coordinates kubectl invocations to deploy and configure the MPC stack.
type Manager struct {
	runner procrun.Runner
	config *config.Config
}

// NewManager creates a deployment manager for the configured environment.
func NewManager(cfg *config.Config) *Manager {
	return NewManagerWithRunner(procrun.NewExecRunner(), cfg)
}

// NewManagerWithRunner creates a deployment manager with an explicit process
// runner, used by tests to script kubectl behavior.
func NewManagerWithRunner(runner procrun.Runner, cfg *config.Config) *Manager {
	return &Manager{
		runner: runner,
		config: cfg,
	}
}

// DeployMPC runs the full MPC deployment workflow and returns a record of what
// was deployed. This is the entry point the orchestrator's deploy operation runs.
func DeployMPC(ctx context.Context, cfg *config.Config) (*state.MPCDeployment, error) {
	return NewManager(cfg).Deploy(ctx)
}

// Deploy executes the deployment sequence: host-config, manifests, rollout
// waits, image patches, restart, verification. Each step is logged and failures
// carry the step that failed.
func (m *Manager) Deploy(ctx context.Context) (*state.MPCDeployment, error) {
	log.Println("Starting MPC deployment...")

	if err := m.deployHostConfig(ctx); err != nil {
		return nil, fmt.Errorf("failed to deploy host-config: %w", err)
	}

	if err := m.applyManifests(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply MPC manifests: %w", err)
	}

	for _, deployment := range []string{mpcDeploymentName, otpDeploymentName} {
		if err := m.waitForDeployment(ctx, deployment); err != nil {
			return nil, fmt.Errorf("deployment %s not ready: %w", deployment, err)
		}
	}

	if err := m.patchDeploymentImage(ctx, mpcDeploymentName, controllerImage); err != nil {
		return nil, fmt.Errorf("failed to patch controller deployment: %w", err)
	}
	if err := m.patchDeploymentImage(ctx, otpDeploymentName, otpImage); err != nil {
		return nil, fmt.Errorf("failed to patch OTP deployment: %w", err)
	}

	if err := m.restartDeployments(ctx); err != nil {
		return nil, fmt.Errorf("failed to restart deployments: %w", err)
	}

	if err := m.verifyDeploymentImages(ctx); err != nil {
		return nil, fmt.Errorf("image verification failed: %w", err)
	}

	log.Println("MPC deployment completed successfully!")

	return &state.MPCDeployment{
		ControllerImage: controllerImage,
		OTPImage:        otpImage,
		DeployedAt:      time.Now(),
		SourceGitHash:   m.sourceGitHash(ctx),
	}, nil
}

// kubectl runs a kubectl subcommand against the managed cluster's context.
func (m *Manager) kubectl(ctx context.Context, args ...string) (procrun.Result, error) {
	contextArgs := []string{"--context", "kind-" + m.config.GetClusterName()}
	return m.runner.Run(ctx, procrun.Spec{
		Command: "kubectl",
		Args:    append(contextArgs, args...),
	})
}

// kubectlOK runs kubectl and converts any non-zero exit into an error carrying
// the captured diagnostics.
func (m *Manager) kubectlOK(ctx context.Context, args ...string) error {
	result, err := m.kubectl(ctx, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("kubectl %s exited with code %d: %s",
			strings.Join(args, " "), result.ExitCode, result.Combined())
	}
	return nil
}

// deployHostConfig applies the host-config ConfigMap, generating a minimal one
// for local development when none exists yet.
func (m *Manager) deployHostConfig(ctx context.Context) error {
	log.Println("Deploying host-config ConfigMap...")

	if err := m.ensureNamespace(ctx); err != nil {
		return err
	}

	hostConfigPath := filepath.Join(m.config.GetTempDir(), "host-config.yaml")
	if _, err := os.Stat(hostConfigPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access host-config file: %w", err)
		}
		log.Println("host-config.yaml not found, generating minimal configuration for local development...")
		if err := m.generateMinimalHostConfig(hostConfigPath); err != nil {
			return fmt.Errorf("failed to generate host-config: %w", err)
		}
	}

	// Replace any existing ConfigMap so repeated deploys pick up edits.
	if _, err := m.kubectl(ctx, "get", "configmap", hostConfigName, "-n", mpcNamespace); err == nil {
		_ = m.kubectlOK(ctx, "delete", "configmap", hostConfigName, "-n", mpcNamespace)
	}

	if err := m.kubectlOK(ctx, "apply", "-f", hostConfigPath, "-n", mpcNamespace); err != nil {
		return err
	}

	log.Println("Host-config ConfigMap deployed successfully")
	return nil
}

// ensureNamespace creates the MPC namespace if it does not exist yet.
func (m *Manager) ensureNamespace(ctx context.Context) error {
	result, err := m.kubectl(ctx, "get", "namespace", mpcNamespace)
	if err != nil {
		return err
	}
	if result.ExitCode == 0 {
		return nil
	}
	return m.kubectlOK(ctx, "create", "namespace", mpcNamespace)
}

// hostConfigDocument models the generated host-config ConfigMap.
type hostConfigDocument struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   hostConfigMeta    `yaml:"metadata"`
	Data       map[string]string `yaml:"data"`
}

type hostConfigMeta struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels"`
}

// generateMinimalHostConfig writes a minimal host-config.yaml: local platforms
// plus two AWS dynamic platforms, enough for developers to start testing
// without hand-writing the configuration.
func (m *Manager) generateMinimalHostConfig(outputPath string) error {
	doc := hostConfigDocument{
		APIVersion: "v1",
		Kind:       "ConfigMap",
		Metadata: hostConfigMeta{
			Name:      hostConfigName,
			Namespace: mpcNamespace,
			Labels: map[string]string{
				"build.appstudio.redhat.com/multi-platform-config": "hosts",
			},
		},
		Data: map[string]string{
			"local-platforms":   "linux/x86_64,local,localhost",
			"dynamic-platforms": "linux/arm64,linux/amd64",
			"instance-tag":      "mpc-dev-env",
		},
	}

	for platform, settings := range map[string]map[string]string{
		"linux-arm64": {
			"ami":           "ami-03d8261904652a19c",
			"instance-type": "m6g.large",
		},
		"linux-amd64": {
			"ami":           "ami-0c02fb55b1a47c3c8",
			"instance-type": "m6a.large",
		},
	} {
		prefix := "dynamic." + platform + "."
		doc.Data[prefix+"type"] = "aws"
		doc.Data[prefix+"region"] = "us-east-1"
		doc.Data[prefix+"key-name"] = "mpc-dev-key"
		doc.Data[prefix+"aws-secret"] = "aws-account"
		doc.Data[prefix+"ssh-secret"] = "aws-ssh-key"
		doc.Data[prefix+"max-instances"] = "10"
		doc.Data[prefix+"allocation-timeout"] = "600"
		for key, value := range settings {
			doc.Data[prefix+key] = value
		}
	}

	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal host-config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write host-config file: %w", err)
	}

	log.Printf("Generated minimal host-config.yaml at: %s", outputPath)
	return nil
}

// applyManifests applies the MPC operator and OTP server manifests from the
// controller repository.
func (m *Manager) applyManifests(ctx context.Context) error {
	log.Println("Applying MPC deployment manifests...")

	for _, dir := range []string{"deploy/operator", "deploy/otp"} {
		manifestDir := filepath.Join(m.config.GetMpcRepoPath(), dir)
		if _, err := os.Stat(manifestDir); err != nil {
			return fmt.Errorf("manifest directory not found: %s", manifestDir)
		}
		if err := m.kubectlOK(ctx, "apply", "-k", manifestDir); err != nil {
			return err
		}
	}

	return nil
}

// waitForDeployment polls until the named deployment exists in the cluster.
// Deployments may be created asynchronously after the manifest apply.
func (m *Manager) waitForDeployment(ctx context.Context, name string) error {
	log.Printf("Waiting for deployment %s...", name)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	timeout := time.After(deploymentWait)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return errors.New("timeout waiting for deployment " + name)
		case <-ticker.C:
			result, err := m.kubectl(ctx, "get", "deployment", name, "-n", mpcNamespace)
			if err == nil && result.ExitCode == 0 {
				log.Printf("Deployment %s found", name)
				return nil
			}
		}
	}
}

// patchDeploymentImage points the deployment at the locally built image with
// imagePullPolicy Never, so Kubernetes uses the image loaded into the Kind
// cluster instead of trying to pull it.
func (m *Manager) patchDeploymentImage(ctx context.Context, deployment, image string) error {
	log.Printf("Patching deployment %s with image %s", deployment, image)

	patchJSON := fmt.Sprintf(`[
  {"op": "replace", "path": "/spec/template/spec/containers/0/image", "value": "%s"},
  {"op": "replace", "path": "/spec/template/spec/containers/0/imagePullPolicy", "value": "Never"}
]`, image)

	return m.kubectlOK(ctx, "patch", "deployment", deployment,
		"-n", mpcNamespace, "--type=json", "--patch", patchJSON)
}

// restartDeployments restarts both deployments so the image patches take effect.
func (m *Manager) restartDeployments(ctx context.Context) error {
	log.Println("Restarting deployments...")

	for _, deployment := range []string{mpcDeploymentName, otpDeploymentName} {
		if err := m.kubectlOK(ctx, "rollout", "restart", "deployment", deployment, "-n", mpcNamespace); err != nil {
			return err
		}
		if err := m.kubectlOK(ctx, "rollout", "status", "deployment", deployment,
			"-n", mpcNamespace, "--timeout=120s"); err != nil {
			return err
		}
	}

	return nil
}

// verifyDeploymentImages confirms the running deployments reference the locally
// built images after the restart.
func (m *Manager) verifyDeploymentImages(ctx context.Context) error {
	log.Println("Verifying deployment images...")

	for deployment, image := range map[string]string{
		mpcDeploymentName: controllerImage,
		otpDeploymentName: otpImage,
	} {
		result, err := m.kubectl(ctx, "get", "deployment", deployment, "-n", mpcNamespace,
			"-o", "jsonpath={.spec.template.spec.containers[0].image}")
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("failed to read image of %s: %s", deployment, result.Combined())
		}
		if strings.TrimSpace(result.Stdout) != image {
			return fmt.Errorf("deployment %s runs %q, expected %q", deployment, strings.TrimSpace(result.Stdout), image)
		}
	}

	log.Println("Deployment images verified")
	return nil
}

// sourceGitHash resolves the HEAD commit of the controller repository for the
// deployment record. Best effort: an unreadable repository yields an empty hash.
func (m *Manager) sourceGitHash(ctx context.Context) string {
	result, err := m.runner.Run(ctx, procrun.Spec{
		Command: "git",
		Args:    []string{"-C", m.config.GetMpcRepoPath(), "rev-parse", "HEAD"},
	})
	if err != nil || result.ExitCode != 0 {
		return ""
	}
	return strings.TrimSpace(result.Stdout)
}
