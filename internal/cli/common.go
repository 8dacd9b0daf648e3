// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cli assembles every component package (store, queue, executor,
// orchestrator, worker, cache, artifacts, secrets, notify, metrics,
// telemetry, control) behind a cobra command tree, grounded on the
// teacher's cmd/common.go (newClient/newDataStores) and cmd/scheduler.go /
// cmd/start_all.go construction style: each subcommand loads config, builds
// its collaborators through the helpers in this file, then runs until its
// context is cancelled.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	moby "github.com/moby/moby/client"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/buildit-ci/buildit/internal/artifacts"
	"github.com/buildit-ci/buildit/internal/cache"
	"github.com/buildit-ci/buildit/internal/config"
	"github.com/buildit-ci/buildit/internal/executor"
	"github.com/buildit-ci/buildit/internal/executor/docker"
	"github.com/buildit-ci/buildit/internal/executor/k8s"
	"github.com/buildit-ci/buildit/internal/logger"
	"github.com/buildit-ci/buildit/internal/notify"
	"github.com/buildit-ci/buildit/internal/orchestrator"
	"github.com/buildit-ci/buildit/internal/queue"
	"github.com/buildit-ci/buildit/internal/registry"
	"github.com/buildit-ci/buildit/internal/secrets"
	"github.com/buildit-ci/buildit/internal/store"
	"github.com/buildit-ci/buildit/internal/telemetry"
)

func newLogger(cfg *config.Config) logger.Logger {
	opts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.LogLevel == "debug" {
		opts = append(opts, logger.WithDebug())
	}
	return logger.NewLogger(opts...)
}

// newPostgresPool opens a pgx connection pool and applies pending goose
// migrations through a *sql.DB opened against the same DSN, mirroring how
// the teacher's data stores are wired up once per process in common.go.
func newPostgresPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("cli: connecting to postgres: %w", err)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cli: opening migration connection: %w", err)
	}
	defer db.Close()

	if err := queue.Migrate(db); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cli: applying migrations: %w", err)
	}
	return pool, nil
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// newExecutor builds the Executor backend selected by cfg.Executor.
func newExecutor(cfg *config.Config, log logger.Logger) (executor.Executor, error) {
	switch cfg.Executor {
	case config.ExecutorBackendKubernetes:
		restCfg, err := kubeRestConfig(cfg.KubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("cli: building kubernetes config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("cli: building kubernetes client: %w", err)
		}
		return k8s.New(clientset, cfg.KubernetesNamespace, log), nil
	default:
		cli, err := moby.NewClientWithOpts(moby.FromEnv, moby.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("cli: building docker client: %w", err)
		}
		return docker.New(cli, log), nil
	}
}

// kubeRestConfig resolves an in-cluster config when running as a pod, or a
// kubeconfig file otherwise, the same fallback order `kubectl` itself uses.
func kubeRestConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfigPath == "" {
		kubeconfigPath = os.Getenv("KUBECONFIG")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

// newNotifier builds a Slack notifier, or nil if no token is configured —
// notification is optional everywhere it's consumed.
func newNotifier(cfg *config.Config) *notify.SlackNotifier {
	if cfg.SlackToken == "" {
		return nil
	}
	return notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel)
}

// newArtifactCollector builds a MinIO-backed artifact collector, or nil if
// no endpoint is configured.
func newArtifactCollector(cfg *config.Config) (*artifacts.Collector, error) {
	if cfg.ArtifactsEndpoint == "" {
		return nil, nil
	}
	uploader, err := artifacts.NewMinioUploader(
		cfg.ArtifactsEndpoint, cfg.ArtifactsAccessKey, cfg.ArtifactsSecretKey, cfg.ArtifactsBucket, cfg.ArtifactsUseTLS,
	)
	if err != nil {
		return nil, fmt.Errorf("cli: building artifact uploader: %w", err)
	}
	return artifacts.New(cfg.WorkDir, uploader), nil
}

// newSecretResolver builds a Vault-backed secret resolver, or nil if no
// Vault address is configured.
func newSecretResolver(cfg *config.Config) (*secrets.VaultStore, error) {
	if cfg.VaultAddr == "" {
		return nil, nil
	}
	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.VaultAddr
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("cli: building vault client: %w", err)
	}
	return secrets.NewVaultStore(client, cfg.VaultMount, cfg.VaultPath), nil
}

// newTracer builds the OpenTelemetry tracer described by cfg's otel_*
// settings. Disabled (a no-op tracer) when otel_enabled is false.
func newTracer(ctx context.Context, cfg *config.Config) (*telemetry.Tracer, error) {
	return telemetry.NewTracer(ctx, "buildit", &telemetry.Config{
		Enabled:  cfg.OTelEnabled,
		Endpoint: cfg.OTelEndpoint,
		Timeout:  cfg.OTelTimeout,
		Insecure: cfg.OTelInsecure,
	})
}

// buildOrchestrator wires every optional Orchestrator collaborator
// available from cfg. Any of cache/artifacts/notifier/secrets may be nil;
// the orchestrator treats an absent collaborator as a no-op.
func buildOrchestrator(ctx context.Context, cfg *config.Config, log logger.Logger, exec executor.Executor, approvals orchestrator.ApprovalGate) (*orchestrator.Orchestrator, *telemetry.Tracer, error) {
	var opts []orchestrator.Option

	opts = append(opts, orchestrator.WithCache(cache.New(cfg.CacheDir)))

	tracer, err := newTracer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if tracer.IsEnabled() {
		opts = append(opts, orchestrator.WithTracer(tracer))
	}

	if collector, err := newArtifactCollector(cfg); err != nil {
		return nil, nil, err
	} else if collector != nil {
		opts = append(opts, orchestrator.WithArtifacts(collector))
	}

	if n := newNotifier(cfg); n != nil {
		opts = append(opts, orchestrator.WithNotifier(n))
	}

	if resolver, err := newSecretResolver(cfg); err != nil {
		return nil, nil, err
	} else if resolver != nil {
		opts = append(opts, orchestrator.WithSecrets(resolver))
	}

	if approvals != nil {
		opts = append(opts, orchestrator.WithApprovals(approvals))
	}

	return orchestrator.New(exec, log, opts...), tracer, nil
}

func newRegistry(cfg *config.Config) *registry.FileRegistry {
	return registry.NewFileRegistry(cfg.WorkDir)
}

func newStore(pool *pgxpool.Pool) *store.Store {
	return store.New(pool)
}

func newQueue(pool *pgxpool.Pool) *queue.Queue {
	return queue.New(pool)
}
