package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/api"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/env"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/ops"
	"github.com/meyrevived/mpc-dev-studio/internal/prereq"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

// MockOrchestrator scripts every orchestrator entry point the handlers use.
type MockOrchestrator struct {
	StatusFunc             func(ctx context.Context) state.DevEnvironment
	ClusterStatusFunc      func(ctx context.Context) (cluster.State, error)
	CreateEnvironmentFunc  func() error
	DestroyEnvironmentFunc func() error
	StartRebuildFunc       func() error
	StartSmokeTestFunc     func() error
	StartMPCDeployFunc     func() error
	StartMetricsDeployFunc func() error
	StartFeatureEnableFunc func(name string, credentials map[string]string) error
	StartGitSyncFunc       func() error
}

func (m *MockOrchestrator) Status(ctx context.Context) state.DevEnvironment {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return state.DevEnvironment{SessionID: "session-1", OperationStatus: "idle"}
}

func (m *MockOrchestrator) ClusterStatus(ctx context.Context) (cluster.State, error) {
	if m.ClusterStatusFunc != nil {
		return m.ClusterStatusFunc(ctx)
	}
	return cluster.StateNotRunning, nil
}

func (m *MockOrchestrator) CreateEnvironment() error {
	if m.CreateEnvironmentFunc != nil {
		return m.CreateEnvironmentFunc()
	}
	return nil
}

func (m *MockOrchestrator) DestroyEnvironment() error {
	if m.DestroyEnvironmentFunc != nil {
		return m.DestroyEnvironmentFunc()
	}
	return nil
}

func (m *MockOrchestrator) StartRebuild() error {
	if m.StartRebuildFunc != nil {
		return m.StartRebuildFunc()
	}
	return nil
}

func (m *MockOrchestrator) StartSmokeTest() error {
	if m.StartSmokeTestFunc != nil {
		return m.StartSmokeTestFunc()
	}
	return nil
}

func (m *MockOrchestrator) StartMPCDeploy() error {
	if m.StartMPCDeployFunc != nil {
		return m.StartMPCDeployFunc()
	}
	return nil
}

func (m *MockOrchestrator) StartMetricsDeploy() error {
	if m.StartMetricsDeployFunc != nil {
		return m.StartMetricsDeployFunc()
	}
	return nil
}

func (m *MockOrchestrator) StartFeatureEnable(name string, credentials map[string]string) error {
	if m.StartFeatureEnableFunc != nil {
		return m.StartFeatureEnableFunc(name, credentials)
	}
	return nil
}

func (m *MockOrchestrator) StartGitSync() error {
	if m.StartGitSyncFunc != nil {
		return m.StartGitSyncFunc()
	}
	return nil
}

// MockChecker scripts prerequisite check results.
type MockChecker struct {
	CheckAllFunc func(ctx context.Context) *prereq.CheckResult
}

func (m *MockChecker) CheckAll(ctx context.Context) *prereq.CheckResult {
	if m.CheckAllFunc != nil {
		return m.CheckAllFunc(ctx)
	}
	return &prereq.CheckResult{Prerequisites: map[string]prereq.ToolResult{}, AllMet: true}
}

var _ = Describe("Handlers", func() {
	var (
		orchestrator *MockOrchestrator
		handlers     *api.Handlers
		recorder     *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		orchestrator = &MockOrchestrator{}
		handlers = api.NewHandlers(orchestrator, &MockChecker{})
		recorder = httptest.NewRecorder()
	})

	decodeBody := func() map[string]any {
		var body map[string]any
		Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
		return body
	}

	Describe("StatusHandler", func() {
		It("should return the environment snapshot as JSON", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			handlers.StatusHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			Expect(recorder.Header().Get("Content-Type")).To(Equal("application/json"))

			body := decodeBody()
			Expect(body["session_id"]).To(Equal("session-1"))
			Expect(body["operation_status"]).To(Equal("idle"))
		})

		It("should reject non-GET requests", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
			handlers.StatusHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("ClusterStatusHandler", func() {
		It("should report the classified cluster state", func() {
			orchestrator.ClusterStatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateRunning, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/api/cluster/status", nil)
			handlers.ClusterStatusHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			body := decodeBody()
			Expect(body["status"]).To(Equal("running"))
			Expect(body).NotTo(HaveKey("error"))
		})

		It("should attach the diagnostics when classification fails", func() {
			orchestrator.ClusterStatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateError, errors.New("podman socket not available")
			}

			req := httptest.NewRequest(http.MethodGet, "/api/cluster/status", nil)
			handlers.ClusterStatusHandler(recorder, req)

			body := decodeBody()
			Expect(body["status"]).To(Equal("error"))
			Expect(body["error"]).To(ContainSubstring("podman socket"))
		})
	})

	Describe("ClusterStartHandler", func() {
		It("should return 202 when the operation is granted", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/cluster/start", nil)
			handlers.ClusterStartHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
			Expect(decodeBody()["status"]).To(Equal("accepted"))
		})

		It("should return 409 when another operation holds the slot", func() {
			orchestrator.CreateEnvironmentFunc = func() error {
				return ops.ErrAlreadyRunning
			}

			req := httptest.NewRequest(http.MethodPost, "/api/cluster/start", nil)
			handlers.ClusterStartHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
			Expect(decodeBody()["status"]).To(Equal("conflict"))
		})

		It("should reject non-POST requests", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/cluster/start", nil)
			handlers.ClusterStartHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("ClusterStopHandler", func() {
		It("should return 409 when destruction is refused", func() {
			orchestrator.DestroyEnvironmentFunc = func() error {
				return env.ErrOperationInProgress
			}

			req := httptest.NewRequest(http.MethodPost, "/api/cluster/stop", nil)
			handlers.ClusterStopHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})

		It("should return 202 when destruction is granted", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/cluster/stop", nil)
			handlers.ClusterStopHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
		})
	})

	Describe("RebuildHandler", func() {
		It("should return 202 when the rebuild starts", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/rebuild", nil)
			handlers.RebuildHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
		})

		It("should return 409 while another operation runs", func() {
			orchestrator.StartRebuildFunc = func() error {
				return ops.ErrAlreadyRunning
			}

			req := httptest.NewRequest(http.MethodPost, "/api/rebuild", nil)
			handlers.RebuildHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("EnableFeatureHandler", func() {
		postFeature := func(payload string) {
			req := httptest.NewRequest(http.MethodPost, "/api/features/enable",
				bytes.NewBufferString(payload))
			handlers.EnableFeatureHandler(recorder, req)
		}

		It("should pass the feature name and credentials to the orchestrator", func() {
			var gotName string
			var gotCreds map[string]string
			orchestrator.StartFeatureEnableFunc = func(name string, credentials map[string]string) error {
				gotName = name
				gotCreds = credentials
				return nil
			}

			postFeature(`{"feature_name":"aws-secrets","credentials":{"access_key_id":"AKIA"}}`)

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
			Expect(gotName).To(Equal("aws-secrets"))
			Expect(gotCreds).To(HaveKeyWithValue("access_key_id", "AKIA"))
			Expect(decodeBody()["feature_name"]).To(Equal("aws-secrets"))
		})

		It("should reject an invalid body", func() {
			postFeature(`{invalid`)
			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})

		It("should require a feature name", func() {
			postFeature(`{"credentials":{}}`)
			Expect(recorder.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("PrerequisitesHandler", func() {
		It("should return the aggregated check result", func() {
			checker := &MockChecker{
				CheckAllFunc: func(ctx context.Context) *prereq.CheckResult {
					return &prereq.CheckResult{
						Prerequisites: map[string]prereq.ToolResult{
							"kind": {Name: "kind", Installed: true, Version: "0.27.0", Required: "0.26.0", Status: "ok"},
						},
						AllMet: true,
					}
				},
			}
			handlers = api.NewHandlers(orchestrator, checker)

			req := httptest.NewRequest(http.MethodGet, "/api/prerequisites", nil)
			handlers.PrerequisitesHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusOK))
			body := decodeBody()
			Expect(body["all_met"]).To(BeTrue())
		})
	})

	Describe("GitSyncHandler", func() {
		It("should return 202 when the sync starts", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/git/sync", nil)
			handlers.GitSyncHandler(recorder, req)

			Expect(recorder.Code).To(Equal(http.StatusAccepted))
		})
	})
})
