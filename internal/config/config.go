// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads process configuration from a YAML file, environment
// variables, and flags, in that precedence order, via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ExecutorBackend selects which Executor (C4) implementation a server or
// worker process spawns jobs through.
type ExecutorBackend string

const (
	ExecutorBackendDocker     ExecutorBackend = "docker"
	ExecutorBackendKubernetes ExecutorBackend = "kubernetes"
)

// Config is every setting a buildit process (server, worker, scheduler)
// might need. Every field has a zero-config default suitable for a local
// single-binary run against a local Postgres/Redis.
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DatabaseURL string `mapstructure:"database_url"`
	RedisAddr   string `mapstructure:"redis_addr"`

	Executor            ExecutorBackend `mapstructure:"executor"`
	KubeconfigPath      string          `mapstructure:"kubeconfig_path"`
	KubernetesNamespace string          `mapstructure:"kubernetes_namespace"`

	WorkDir string `mapstructure:"work_dir"`

	CacheDir string `mapstructure:"cache_dir"`

	ArtifactsEndpoint  string `mapstructure:"artifacts_endpoint"`
	ArtifactsBucket    string `mapstructure:"artifacts_bucket"`
	ArtifactsAccessKey string `mapstructure:"artifacts_access_key"`
	ArtifactsSecretKey string `mapstructure:"artifacts_secret_key"`
	ArtifactsUseTLS    bool   `mapstructure:"artifacts_use_tls"`

	VaultAddr  string `mapstructure:"vault_addr"`
	VaultMount string `mapstructure:"vault_mount"`
	VaultPath  string `mapstructure:"vault_path"`

	SlackToken   string `mapstructure:"slack_token"`
	SlackChannel string `mapstructure:"slack_channel"`

	OTelEnabled  bool          `mapstructure:"otel_enabled"`
	OTelEndpoint string        `mapstructure:"otel_endpoint"`
	OTelInsecure bool          `mapstructure:"otel_insecure"`
	OTelTimeout  time.Duration `mapstructure:"otel_timeout"`

	WorkerID string `mapstructure:"worker_id"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("database_url", "postgres://localhost:5432/buildit?sslmode=disable")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("executor", ExecutorBackendDocker)
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("work_dir", "/workspace")
	v.SetDefault("cache_dir", "/var/lib/buildit/cache")
	v.SetDefault("artifacts_use_tls", true)
	v.SetDefault("vault_mount", "secret")
	v.SetDefault("otel_timeout", 10*time.Second)
}

// Load reads configuration from file (if non-empty), then BUILDIT_*
// environment variables, then whatever flags the caller already bound onto
// v via viper.BindPFlag. Flags and env both override the file.
func Load(v *viper.Viper, file string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	defaults(v)

	v.SetEnvPrefix("buildit")
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	return &cfg, nil
}
