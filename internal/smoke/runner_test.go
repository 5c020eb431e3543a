package smoke

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	faketekton "github.com/tektoncd/pipeline/pkg/client/clientset/versioned/fake"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	fakek8s "k8s.io/client-go/kubernetes/fake"
	"knative.dev/pkg/apis"
	duckv1 "knative.dev/pkg/apis/duck/v1"

	tektonv1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"

	"github.com/meyrevived/mpc-dev-studio/internal/config"
)

func TestSmoke(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Smoke Test Suite")
}

const validTaskRunYAML = `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: custom-smoke
  namespace: multi-platform-controller
spec:
  taskSpec:
    steps:
      - name: check
        image: registry.access.redhat.com/ubi9/ubi-minimal:latest
        script: "echo ok"
`

const taskYAML = `apiVersion: tekton.dev/v1
kind: Task
metadata:
  name: not-a-taskrun
spec:
  steps:
    - name: noop
      image: registry.access.redhat.com/ubi9/ubi-minimal:latest
`

// settle marks the named TaskRun's Succeeded condition once it appears in the
// fake cluster, imitating the Tekton controller.
func settle(tekton *faketekton.Clientset, name string, status corev1.ConditionStatus) {
	settleWith(tekton, name, duckv1.Conditions{
		{Type: apis.ConditionSucceeded, Status: status},
	})
}

// settleWith writes the full condition list, for statuses where Succeeded is
// not the only (or first) condition type.
func settleWith(tekton *faketekton.Clientset, name string, conditions duckv1.Conditions) {
	defer GinkgoRecover()

	var taskRun *tektonv1.TaskRun
	Eventually(func() error {
		var err error
		taskRun, err = tekton.TektonV1().TaskRuns(namespace).Get(
			context.Background(), name, metav1.GetOptions{})
		return err
	}, 2*time.Second, 50*time.Millisecond).Should(Succeed())

	taskRun.Status.Conditions = conditions
	_, err := tekton.TektonV1().TaskRuns(namespace).UpdateStatus(
		context.Background(), taskRun, metav1.UpdateOptions{})
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("Runner", func() {
	var (
		tekton *faketekton.Clientset
		runner *Runner
		cfg    *config.Config
		ctx    context.Context
	)

	BeforeEach(func() {
		tempDir, err := os.MkdirTemp("", "smoke-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = os.RemoveAll(tempDir) })

		cfg = &config.Config{
			MpcDevEnvPath: filepath.Join(tempDir, "dev-env"),
			TempDir:       filepath.Join(tempDir, "temp"),
			ClusterName:   "konflux",
		}
		Expect(os.MkdirAll(cfg.GetMpcDevEnvPath(), 0755)).To(Succeed())
		Expect(os.MkdirAll(cfg.GetTempDir(), 0755)).To(Succeed())

		tekton = faketekton.NewSimpleClientset()
		runner = NewRunnerWithClients(tekton, fakek8s.NewSimpleClientset(), cfg)
		// Log capture gives up quickly; the fake cluster never runs pods.
		runner.podWait = 100 * time.Millisecond
		runner.monitorInterval = 20 * time.Millisecond
		ctx = context.Background()
	})

	Describe("parseTaskRun", func() {
		It("should decode a TaskRun document", func() {
			taskRun, err := parseTaskRun([]byte(validTaskRunYAML))

			Expect(err).NotTo(HaveOccurred())
			Expect(taskRun.Name).To(Equal("custom-smoke"))
			Expect(taskRun.Spec.TaskSpec.Steps).To(HaveLen(1))
		})

		It("should reject a document of another kind", func() {
			_, err := parseTaskRun([]byte(taskYAML))

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("does not contain a TaskRun"))
		})

		It("should reject malformed YAML", func() {
			_, err := parseTaskRun([]byte("{{nope"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("defaultTaskRun", func() {
		It("should request a local platform build host", func() {
			taskRun := defaultTaskRun()

			Expect(taskRun.GenerateName).To(Equal("mpc-smoke-test-"))
			Expect(taskRun.Namespace).To(Equal(namespace))
			Expect(taskRun.Spec.Params).To(HaveLen(1))
			Expect(taskRun.Spec.Params[0].Name).To(Equal("PLATFORM"))
			Expect(taskRun.Spec.Params[0].Value.StringVal).To(Equal("local"))
			Expect(taskRun.Spec.TaskSpec).NotTo(BeNil())
			Expect(taskRun.Spec.TaskSpec.Steps).To(HaveLen(1))
		})
	})

	Describe("resolveTaskRun", func() {
		It("should fall back to the built-in definition", func() {
			taskRun, err := runner.resolveTaskRun()

			Expect(err).NotTo(HaveOccurred())
			Expect(taskRun.GenerateName).To(Equal("mpc-smoke-test-"))
		})

		It("should prefer the custom definition from the dev-env repository", func() {
			customPath := filepath.Join(cfg.GetMpcDevEnvPath(), taskRunFileName)
			Expect(os.WriteFile(customPath, []byte(validTaskRunYAML), 0644)).To(Succeed())

			taskRun, err := runner.resolveTaskRun()

			Expect(err).NotTo(HaveOccurred())
			Expect(taskRun.Name).To(Equal("custom-smoke"))
		})
	})

	Describe("Run", func() {
		BeforeEach(func() {
			customPath := filepath.Join(cfg.GetMpcDevEnvPath(), taskRunFileName)
			Expect(os.WriteFile(customPath, []byte(validTaskRunYAML), 0644)).To(Succeed())
		})

		It("should succeed when the TaskRun succeeds", func() {
			go settle(tekton, "custom-smoke", corev1.ConditionTrue)

			Expect(runner.Run(ctx)).To(Succeed())
		})

		It("should succeed when another condition type is listed before Succeeded", func() {
			go settleWith(tekton, "custom-smoke", duckv1.Conditions{
				{Type: "Ready", Status: corev1.ConditionFalse},
				{Type: apis.ConditionSucceeded, Status: corev1.ConditionTrue},
			})

			Expect(runner.Run(ctx)).To(Succeed())
		})

		It("should keep waiting while only non-Succeeded conditions are set", func() {
			runner.monitorTimeout = 200 * time.Millisecond
			go settleWith(tekton, "custom-smoke", duckv1.Conditions{
				{Type: "Ready", Status: corev1.ConditionFalse},
			})

			err := runner.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("did not complete"))
		})

		It("should fail when the TaskRun fails", func() {
			go settle(tekton, "custom-smoke", corev1.ConditionFalse)

			err := runner.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Failed"))
		})

		It("should time out on a TaskRun that never settles", func() {
			runner.monitorTimeout = 200 * time.Millisecond

			err := runner.Run(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("did not complete"))
		})
	})

	Describe("monitor", func() {
		It("should report cancellation", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			status, err := runner.monitor(cancelled, "custom-smoke")
			Expect(err).To(MatchError(context.Canceled))
			Expect(status).To(Equal("Cancelled"))
		})
	})
})
