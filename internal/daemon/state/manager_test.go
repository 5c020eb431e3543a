package state_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
)

// MockGitManager scripts repository state checks.
type MockGitManager struct {
	CheckRepoStateFunc func(ctx context.Context, repoPath string) (*state.RepositoryState, error)
}

func (m *MockGitManager) CheckRepoState(ctx context.Context, repoPath string) (*state.RepositoryState, error) {
	if m.CheckRepoStateFunc != nil {
		return m.CheckRepoStateFunc(ctx, repoPath)
	}
	return &state.RepositoryState{
		Name:          "multi-platform-controller",
		Path:          repoPath,
		CurrentBranch: "main",
	}, nil
}

// MockClusterObserver scripts observed cluster state.
type MockClusterObserver struct {
	StatusFunc func(ctx context.Context) (cluster.State, error)
}

func (m *MockClusterObserver) Status(ctx context.Context) (cluster.State, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}
	return cluster.StateNotRunning, nil
}

var _ = Describe("Manager", func() {
	var (
		gitMgr *MockGitManager
		obs    *MockClusterObserver
		cfg    *state.ManagerConfig
	)

	BeforeEach(func() {
		gitMgr = &MockGitManager{}
		obs = &MockClusterObserver{}
		cfg = &state.ManagerConfig{
			GitManager:      gitMgr,
			ClusterObserver: obs,
			RepoPaths: map[string]string{
				"multi-platform-controller": "/home/dev/multi-platform-controller",
			},
			ClusterName:    "konflux",
			KubeconfigPath: "/home/dev/.kube/config",
		}
	})

	Describe("NewManager", func() {
		It("should create a manager and populate the aggregate", func() {
			manager, err := state.NewManager(cfg)

			Expect(err).NotTo(HaveOccurred())

			snap := manager.Snapshot()
			Expect(snap.SessionID).NotTo(BeEmpty())
			Expect(snap.CreatedAt).NotTo(BeZero())
			Expect(snap.Repositories).To(HaveKey("multi-platform-controller"))
		})

		It("should require a GitManager", func() {
			cfg.GitManager = nil

			_, err := state.NewManager(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("GitManager is required"))
		})

		It("should require a ClusterObserver", func() {
			cfg.ClusterObserver = nil

			_, err := state.NewManager(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ClusterObserver is required"))
		})

		It("should require a cluster name", func() {
			cfg.ClusterName = ""

			_, err := state.NewManager(cfg)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ClusterName is required"))
		})
	})

	Describe("Snapshot", func() {
		It("should return copies that cannot mutate shared state", func() {
			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateRunning, nil
			}
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())

			snap := manager.Snapshot()
			Expect(snap.Cluster).NotTo(BeNil())

			snap.Cluster.Name = "tampered"
			snap.Repositories["rogue"] = state.RepositoryState{}

			fresh := manager.Snapshot()
			Expect(fresh.Cluster.Name).To(Equal("konflux"))
			Expect(fresh.Repositories).NotTo(HaveKey("rogue"))
		})
	})

	Describe("Refresh", func() {
		It("should materialize the cluster record when the cluster is observed running", func() {
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Snapshot().Cluster).To(BeNil())

			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateRunning, nil
			}
			manager.Refresh(context.Background())

			snap := manager.Snapshot()
			Expect(snap.Cluster).NotTo(BeNil())
			Expect(snap.Cluster.Name).To(Equal("konflux"))
			Expect(snap.Cluster.Status).To(Equal(state.ClusterStatusRunning))
			Expect(snap.Cluster.KubeconfigPath).To(Equal("/home/dev/.kube/config"))
		})

		It("should discard the cluster and deployment records when the cluster is gone", func() {
			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateRunning, nil
			}
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())
			manager.SetMPCDeployment(&state.MPCDeployment{ControllerImage: "localhost/multi-platform-controller:latest"})

			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateNotRunning, nil
			}
			manager.Refresh(context.Background())

			snap := manager.Snapshot()
			Expect(snap.Cluster).To(BeNil())
			Expect(snap.MPCDeployment).To(BeNil())
		})

		It("should keep the previous record when observation fails", func() {
			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateRunning, nil
			}
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())

			obs.StatusFunc = func(ctx context.Context) (cluster.State, error) {
				return cluster.StateError, errors.New("podman socket not available")
			}
			manager.Refresh(context.Background())

			Expect(manager.Snapshot().Cluster).NotTo(BeNil())
		})

		It("should drop repositories that fail their check until they recover", func() {
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(manager.Snapshot().Repositories).To(HaveLen(1))

			gitMgr.CheckRepoStateFunc = func(ctx context.Context, repoPath string) (*state.RepositoryState, error) {
				return nil, errors.New("not a git repository")
			}
			manager.Refresh(context.Background())

			Expect(manager.Snapshot().Repositories).To(BeEmpty())
		})

		It("should bound repository checks by the caller's context", func() {
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())

			gitMgr.CheckRepoStateFunc = func(ctx context.Context, repoPath string) (*state.RepositoryState, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}

			refreshCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			start := time.Now()
			manager.Refresh(refreshCtx)

			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("should advance the last-active timestamp", func() {
			manager, err := state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())

			before := manager.Snapshot().LastActive
			manager.Refresh(context.Background())

			Expect(manager.Snapshot().LastActive).To(BeTemporally(">=", before))
		})
	})

	Describe("mutations", func() {
		var manager *state.Manager

		BeforeEach(func() {
			var err error
			manager, err = state.NewManager(cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should record a fresh cluster record on MarkClusterCreated", func() {
			manager.MarkClusterCreated()

			snap := manager.Snapshot()
			Expect(snap.Cluster).NotTo(BeNil())
			Expect(snap.Cluster.Name).To(Equal("konflux"))
			Expect(snap.Cluster.Status).To(Equal(state.ClusterStatusRunning))
		})

		It("should clear everything cluster-scoped on ClearCluster", func() {
			manager.MarkClusterCreated()
			manager.SetMPCDeployment(&state.MPCDeployment{ControllerImage: "localhost/multi-platform-controller:latest"})
			manager.SetFeature("aws-secrets", true)

			manager.ClearCluster()

			snap := manager.Snapshot()
			Expect(snap.Cluster).To(BeNil())
			Expect(snap.MPCDeployment).To(BeNil())
			Expect(snap.Features).To(Equal(state.FeatureState{}))
		})

		It("should flag the cluster as deployed when recording a deployment", func() {
			manager.MarkClusterCreated()
			manager.SetMPCDeployment(&state.MPCDeployment{ControllerImage: "localhost/multi-platform-controller:latest"})

			snap := manager.Snapshot()
			Expect(snap.MPCDeployment).NotTo(BeNil())
			Expect(snap.Cluster.KonfluxDeployed).To(BeTrue())
		})

		It("should map feature names onto their flags", func() {
			manager.SetFeature("aws-secrets", true)
			manager.SetFeature("ibm-secrets", true)
			manager.SetFeature("metrics", true)
			manager.SetFeature("unknown-feature", true)

			features := manager.Snapshot().Features
			Expect(features.AWSEnabled).To(BeTrue())
			Expect(features.IBMEnabled).To(BeTrue())
			Expect(features.MetricsEnabled).To(BeTrue())
		})
	})
})
