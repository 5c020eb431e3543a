package deploy

import (
	"context"
	"fmt"
	"log"

	"github.com/meyrevived/mpc-dev-studio/internal/procrun"
)

const (
	monitoringNamespace = "monitoring"

	prometheusRelease = "prometheus"
	grafanaRelease    = "grafana"
)

// DeployMetrics installs the metrics stack (Prometheus and Grafana) into the
// monitoring namespace via Helm. Installs are idempotent: helm upgrade
// --install re-runs cleanly against an existing release.
func (m *Manager) DeployMetrics(ctx context.Context) error {
	log.Println("Deploying metrics stack (Prometheus + Grafana)...")

	for repoName, repoURL := range map[string]string{
		"prometheus-community": "https://prometheus-community.github.io/helm-charts",
		"grafana":              "https://grafana.github.io/helm-charts",
	} {
		if err := m.helmOK(ctx, "repo", "add", repoName, repoURL, "--force-update"); err != nil {
			return fmt.Errorf("failed to add helm repo %s: %w", repoName, err)
		}
	}
	if err := m.helmOK(ctx, "repo", "update"); err != nil {
		return fmt.Errorf("failed to update helm repos: %w", err)
	}

	if err := m.helmOK(ctx, "upgrade", "--install", prometheusRelease, "prometheus-community/prometheus",
		"--namespace", monitoringNamespace,
		"--create-namespace",
		"--set", "server.persistentVolume.enabled=false",
		"--set", "alertmanager.enabled=false",
		"--wait", "--timeout", "5m"); err != nil {
		return fmt.Errorf("failed to install Prometheus: %w", err)
	}
	log.Println("Prometheus installed")

	if err := m.helmOK(ctx, "upgrade", "--install", grafanaRelease, "grafana/grafana",
		"--namespace", monitoringNamespace,
		"--set", "persistence.enabled=false",
		"--set", "adminPassword=admin",
		"--wait", "--timeout", "5m"); err != nil {
		return fmt.Errorf("failed to install Grafana: %w", err)
	}
	log.Println("Grafana installed")

	log.Println("Metrics stack deployed successfully!")
	log.Println("Access Grafana with: kubectl port-forward -n monitoring svc/grafana 3000:80")

	return nil
}

// helmOK runs a helm subcommand against the managed cluster's context and
// converts any non-zero exit into an error carrying the captured diagnostics.
func (m *Manager) helmOK(ctx context.Context, args ...string) error {
	contextArgs := []string{"--kube-context", "kind-" + m.config.GetClusterName()}

	// Repo maintenance commands do not accept cluster flags.
	if len(args) > 0 && args[0] == "repo" {
		contextArgs = nil
	}

	result, err := m.runner.Run(ctx, procrun.Spec{
		Command: "helm",
		Args:    append(args, contextArgs...),
	})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("helm exited with code %d: %s", result.ExitCode, result.Combined())
	}
	return nil
}
