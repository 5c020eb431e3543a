// Package main implements the MPC Dev Studio daemon.
//
// The daemon provides an HTTP API (port 8765) for managing a local Kubernetes
// development environment for the Multi-Platform Controller (MPC). It handles:
//   - Kind cluster creation and management
//   - MPC image building and deployment
//   - Smoke testing via Tekton TaskRuns
//   - Git repository synchronization
//   - File watching for hot reload during development
//
// The daemon is designed to be called by bash scripts and IDE integrations that
// handle user interaction, while the daemon handles all Kubernetes, Tekton, and
// MPC operations.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/meyrevived/mpc-dev-studio/internal/build"
	"github.com/meyrevived/mpc-dev-studio/internal/cluster"
	"github.com/meyrevived/mpc-dev-studio/internal/config"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/api"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/env"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/git"
	"github.com/meyrevived/mpc-dev-studio/internal/daemon/state"
	"github.com/meyrevived/mpc-dev-studio/internal/deploy"
	"github.com/meyrevived/mpc-dev-studio/internal/ops"
	"github.com/meyrevived/mpc-dev-studio/internal/prereq"
	"github.com/meyrevived/mpc-dev-studio/internal/smoke"
)

func main() {
	log.Println("Starting MPC Dev Studio daemon...")

	log.Println("Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	log.Printf("Configuration loaded successfully:")
	log.Printf("  MPC_REPO_PATH: %s", cfg.GetMpcRepoPath())
	log.Printf("  MPC_DEV_ENV_PATH: %s", cfg.GetMpcDevEnvPath())
	log.Printf("  Cluster name: %s", cfg.GetClusterName())
	log.Printf("  TempDir: %s", cfg.GetTempDir())

	kubeconfigPath := filepath.Join(os.Getenv("HOME"), ".kube", "config")

	repoPaths := map[string]string{
		"multi-platform-controller": cfg.GetMpcRepoPath(),
	}
	if infraPath := cfg.GetInfraDeploymentsPath(); infraPath != "" {
		repoPaths["infra-deployments"] = infraPath
	}

	log.Println("Initializing managers...")
	gitManager := git.NewManager()
	clusterManager := cluster.NewManager(cfg)
	deployManager := deploy.NewManager(cfg)

	stateManager, err := state.NewManager(&state.ManagerConfig{
		GitManager:      gitManager,
		ClusterObserver: clusterManager,
		RepoPaths:       repoPaths,
		ClusterName:     cfg.GetClusterName(),
		KubeconfigPath:  kubeconfigPath,
	})
	if err != nil {
		log.Fatalf("Failed to create state manager: %v", err)
	}
	log.Println("State manager initialized successfully")

	orchestrator := env.New(stateManager, clusterManager, env.Pipelines{
		Rebuild: func(ctx context.Context) error {
			return build.RebuildImages(ctx, cfg)
		},
		SmokeTest: func(ctx context.Context) error {
			// The runner is built per invocation: the kubeconfig context only
			// exists once the cluster has been created.
			runner, err := smoke.NewRunner(cfg)
			if err != nil {
				return err
			}
			return runner.Run(ctx)
		},
		DeployMPC: func(ctx context.Context) (*state.MPCDeployment, error) {
			return deployManager.Deploy(ctx)
		},
		DeployMetrics: deployManager.DeployMetrics,
		EnableFeature: deployManager.EnableFeature,
		SyncRepos: func(ctx context.Context) error {
			return gitManager.SyncAll(ctx, repoPaths)
		},
	})

	log.Println("Setting up API handlers and router...")
	handlers := api.NewHandlers(orchestrator, prereq.NewChecker())
	router := api.NewRouter(handlers)

	server := &http.Server{
		Addr:    "localhost:8765",
		Handler: router,
	}

	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Background Git sync keeps the locally cached upstream refs fresh so
	// repository state reads stay meaningful. It talks to the git manager
	// directly: a routine fetch should not occupy the operation slot.
	syncTicker := time.NewTicker(60 * time.Minute)
	defer syncTicker.Stop()

	go func() {
		log.Println("Starting background Git sync worker (every 60 minutes)...")

		syncAll := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := gitManager.SyncAll(ctx, repoPaths); err != nil {
				log.Printf("WARNING: Background Git sync: %v", err)
			}
		}

		syncAll()
		for range syncTicker.C {
			log.Println("Running periodic Git sync...")
			syncAll()
		}
	}()

	// File watcher for hot reload: source changes in the MPC repository
	// trigger an image rebuild.
	log.Println("Initializing file watcher for hot reload...")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WARNING: Failed to create file watcher: %v", err)
	} else {
		defer func() {
			_ = watcher.Close()
		}()

		if err := addRecursiveWatch(watcher, cfg.GetMpcRepoPath()); err != nil {
			log.Printf("WARNING: Failed to add watch on %s: %v", cfg.GetMpcRepoPath(), err)
		} else {
			log.Printf("File watcher active on: %s", cfg.GetMpcRepoPath())
			go fileWatcherLoop(watcher, 2*time.Second, func() { triggerRebuild(orchestrator) })
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal: %v. Shutting down gracefully...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	} else {
		log.Println("Server shutdown complete")
	}

	log.Println("MPC Dev Studio daemon stopped")
}

// addRecursiveWatch adds a file system watch on the root and every
// subdirectory, skipping VCS and IDE directories to reduce overhead.
func addRecursiveWatch(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			name := filepath.Base(path)
			if name == ".git" || name == "__pycache__" || name == ".pytest_cache" ||
				name == "node_modules" || name == ".vscode" || name == ".idea" {
				return filepath.SkipDir
			}

			if err := watcher.Add(path); err != nil {
				log.Printf("WARNING: Failed to watch directory %s: %v", path, err)
			}
		}

		return nil
	})
}

// fileWatcherLoop debounces file system events and calls trigger once changes
// settle. Resetting the timer on every relevant event is the whole debounce:
// trigger fires only after a quiet period of debounceDuration.
func fileWatcherLoop(watcher *fsnotify.Watcher, debounceDuration time.Duration, trigger func()) {
	var debounceTimer *time.Timer

	log.Println("File watcher loop started (Hot Reload active)")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				log.Println("File watcher events channel closed")
				return
			}

			if shouldIgnoreEvent(event) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, trigger)

		case err, ok := <-watcher.Errors:
			if !ok {
				log.Println("File watcher errors channel closed")
				return
			}
			log.Printf("File watcher error: %v", err)
		}
	}
}

// triggerRebuild starts the hot-reload rebuild. A request that loses to an
// in-flight operation is skipped; the next change will try again.
func triggerRebuild(orchestrator *env.Orchestrator) {
	log.Println("File changes detected, triggering rebuild...")
	if err := orchestrator.StartRebuild(); err != nil {
		if errors.Is(err, ops.ErrAlreadyRunning) {
			log.Printf("Hot reload skipped: %v", err)
		} else {
			log.Printf("ERROR: Hot reload rebuild failed to start: %v", err)
		}
	}
}

// shouldIgnoreEvent filters file system events that do not indicate meaningful
// source changes: non-Write/Create operations, temporary files, hidden files.
func shouldIgnoreEvent(event fsnotify.Event) bool {
	if event.Op != fsnotify.Write && event.Op != fsnotify.Create {
		return true
	}

	ext := filepath.Ext(event.Name)
	for _, ignoreExt := range []string{".swp", ".swo", ".pyc", ".pyo", ".log", ".tmp"} {
		if ext == ignoreExt {
			return true
		}
	}

	base := filepath.Base(event.Name)
	if len(base) > 0 && base[0] == '.' {
		return true
	}

	return false
}
