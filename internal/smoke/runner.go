// Package smoke runs the environment smoke test as a Tekton TaskRun.
//
// The smoke test submits a TaskRun into the controller's namespace, waits for
// it to complete, and streams its pod logs to a file for inspection. A custom
// TaskRun definition is picked up from the dev-env repository when present;
// otherwise a built-in TaskRun exercising a multi-platform build request is
// used.
package smoke

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	tektonv1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	tektonclient "github.com/tektoncd/pipeline/pkg/client/clientset/versioned"
	tektonscheme "github.com/tektoncd/pipeline/pkg/client/clientset/versioned/scheme"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/serializer"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"knative.dev/pkg/apis"

	"github.com/meyrevived/mpc-dev-studio/internal/config"
)

const (
	namespace = "multi-platform-controller"

	// taskRunFileName is the optional custom TaskRun definition in the
	// dev-env repository root.
	taskRunFileName = "smoke-test-taskrun.yaml"
)

var scheme = runtime.NewScheme()

func init() {
	_ = tektonscheme.AddToScheme(scheme)
}

// Runner submits and supervises the smoke test TaskRun.
//
// The clients are interface-typed so tests can substitute the fake clientsets;
// production runners are built from the developer's kubeconfig.
type Runner struct {
	tektonClient tektonclient.Interface
	k8sClient    kubernetes.Interface
	config       *config.Config

	podWait         time.Duration
	monitorTimeout  time.Duration
	monitorInterval time.Duration
}

// NewRunner creates a Runner with Tekton and Kubernetes clients built from the
// default kubeconfig (~/.kube/config).
func NewRunner(cfg *config.Config) (*Runner, error) {
	kubeconfigPath := filepath.Join(homedir.HomeDir(), ".kube", "config")

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
	}

	tekton, err := tektonclient.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tekton client: %w", err)
	}

	k8s, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	return NewRunnerWithClients(tekton, k8s, cfg), nil
}

// NewRunnerWithClients creates a Runner with explicit clients, used by tests
// with the fake clientsets.
func NewRunnerWithClients(tekton tektonclient.Interface, k8s kubernetes.Interface, cfg *config.Config) *Runner {
	return &Runner{
		tektonClient:    tekton,
		k8sClient:       k8s,
		config:          cfg,
		podWait:         5 * time.Minute,
		monitorTimeout:  30 * time.Minute,
		monitorInterval: 5 * time.Second,
	}
}

// Run executes the full smoke test: resolve the TaskRun definition, create it,
// stream its logs, and wait for the verdict. A failed or timed-out TaskRun is
// an error. This is the entry point the orchestrator's smoke test operation runs.
func (r *Runner) Run(ctx context.Context) error {
	taskRun, err := r.resolveTaskRun()
	if err != nil {
		return fmt.Errorf("failed to resolve smoke test TaskRun: %w", err)
	}

	created, err := r.tektonClient.TektonV1().TaskRuns(namespace).Create(ctx, taskRun, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("failed to create TaskRun: %w", err)
	}
	log.Printf("Smoke test TaskRun created: %s", created.Name)

	logPath := filepath.Join(r.config.GetTempDir(), created.Name+".log")
	go r.streamLogs(ctx, created.Name, logPath)

	status, err := r.monitor(ctx, created.Name)
	if err != nil {
		return fmt.Errorf("smoke test did not complete: %w", err)
	}
	if status != "Succeeded" {
		return fmt.Errorf("smoke test %s: %s (logs at %s)", created.Name, status, logPath)
	}

	log.Printf("Smoke test succeeded, logs at %s", logPath)
	return nil
}

// resolveTaskRun loads the custom TaskRun definition from the dev-env
// repository when one exists, falling back to the built-in definition.
func (r *Runner) resolveTaskRun() (*tektonv1.TaskRun, error) {
	customPath := filepath.Join(r.config.GetMpcDevEnvPath(), taskRunFileName)
	data, err := os.ReadFile(customPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Println("No custom smoke test TaskRun found, using built-in definition")
			return defaultTaskRun(), nil
		}
		return nil, fmt.Errorf("cannot read %s: %w", customPath, err)
	}

	log.Printf("Using custom smoke test TaskRun from %s", customPath)
	return parseTaskRun(data)
}

// parseTaskRun decodes YAML into a Tekton TaskRun via the Tekton scheme's
// universal deserializer, rejecting documents of any other kind.
func parseTaskRun(data []byte) (*tektonv1.TaskRun, error) {
	decode := serializer.NewCodecFactory(scheme).UniversalDeserializer().Decode
	obj, _, err := decode(data, nil, nil)
	if err != nil {
		return nil, err
	}

	taskRun, ok := obj.(*tektonv1.TaskRun)
	if !ok {
		return nil, errors.New("YAML does not contain a TaskRun")
	}
	return taskRun, nil
}

// defaultTaskRun builds the built-in smoke test: an inline task that requests a
// multi-platform build host, the controller's core workflow. The PLATFORM
// parameter triggers host allocation; the step succeeds once the platform
// result is populated.
func defaultTaskRun() *tektonv1.TaskRun {
	return &tektonv1.TaskRun{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "tekton.dev/v1",
			Kind:       "TaskRun",
		},
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: "mpc-smoke-test-",
			Namespace:    namespace,
		},
		Spec: tektonv1.TaskRunSpec{
			Params: tektonv1.Params{
				{
					Name:  "PLATFORM",
					Value: *tektonv1.NewStructuredValues("local"),
				},
			},
			TaskSpec: &tektonv1.TaskSpec{
				Params: tektonv1.ParamSpecs{
					{
						Name: "PLATFORM",
						Type: tektonv1.ParamTypeString,
					},
				},
				Steps: []tektonv1.Step{
					{
						Name:   "verify-platform",
						Image:  "registry.access.redhat.com/ubi9/ubi-minimal:latest",
						Script: "#!/bin/sh\necho \"Requested platform: $(params.PLATFORM)\"\n",
					},
				},
			},
		},
	}
}

// monitor polls the TaskRun until its Succeeded condition settles, bounded by
// the monitor timeout.
func (r *Runner) monitor(ctx context.Context, name string) (string, error) {
	timeout := time.After(r.monitorTimeout)
	ticker := time.NewTicker(r.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "Cancelled", ctx.Err()
		case <-timeout:
			return "Timeout", fmt.Errorf("TaskRun %s did not complete within %s", name, r.monitorTimeout)
		case <-ticker.C:
			taskRun, err := r.tektonClient.TektonV1().TaskRuns(namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				continue
			}

			// Only the Succeeded condition carries the verdict; the status may
			// list other condition types first.
			for _, condition := range taskRun.Status.Conditions {
				if condition.Type != apis.ConditionSucceeded {
					continue
				}
				if condition.Status == corev1.ConditionTrue {
					return "Succeeded", nil
				}
				if condition.Status == corev1.ConditionFalse {
					return "Failed", nil
				}
			}
		}
	}
}

// streamLogs waits for the TaskRun's pod and copies its container logs to the
// file. Log capture is supplementary: failures are logged, not propagated.
func (r *Runner) streamLogs(ctx context.Context, taskRunName, logPath string) {
	pod, err := r.waitForPod(ctx, taskRunName)
	if err != nil {
		log.Printf("WARNING: failed to wait for smoke test pod: %v", err)
		return
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		log.Printf("WARNING: failed to create smoke test log file: %v", err)
		return
	}
	defer func() {
		_ = logFile.Close()
	}()

	for _, container := range pod.Spec.Containers {
		if err := r.copyContainerLogs(ctx, pod.Name, container.Name, logFile); err != nil {
			log.Printf("WARNING: failed to stream logs from container %s: %v", container.Name, err)
		}
	}
}

// waitForPod polls for the TaskRun's pod until it is running. Streaming from a
// pod that is still initializing fails, so creation alone is not enough.
func (r *Runner) waitForPod(ctx context.Context, taskRunName string) (*corev1.Pod, error) {
	deadline := time.After(r.podWait)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, errors.New("timeout waiting for TaskRun pod")
		case <-ticker.C:
			pods, err := r.k8sClient.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
				LabelSelector: "tekton.dev/taskRun=" + taskRunName,
			})
			if err != nil || len(pods.Items) == 0 {
				continue
			}

			pod := &pods.Items[0]
			if pod.Status.Phase == corev1.PodRunning {
				return pod, nil
			}
		}
	}
}

// copyContainerLogs follows one container's log stream into the writer,
// blocking until the container finishes or the context is cancelled.
func (r *Runner) copyContainerLogs(ctx context.Context, podName, containerName string, w io.Writer) error {
	req := r.k8sClient.CoreV1().Pods(namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: containerName,
		Follow:    true,
	})

	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("failed to get log stream: %w", err)
	}
	defer func() {
		_ = stream.Close()
	}()

	_, err = io.Copy(w, stream)
	return err
}
