package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"optibench/internal/common/db"
	"optibench/internal/common/storage"
	"optibench/internal/executor"
	"optibench/internal/stage"
	"optibench/internal/worker"
	"optibench/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8081"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultDatabasePath = "data/leaderboard.db"
	defaultSubmissions  = "data/submissions"
	defaultWorkRoot     = "data/work"
	defaultClientDir    = "assets/class-materials"
	defaultBackend      = "ollama"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// BenchmarkConfig holds the harness and its assets.
type BenchmarkConfig struct {
	// Backend selects the LLM client the harness uses: "ollama" or "openai".
	Backend string `yaml:"backend"`

	HarnessPath   string        `yaml:"harnessPath"`
	BenchmarksDir string        `yaml:"benchmarksDir"`
	SecretPath    string        `yaml:"secretPath"`
	Command       string        `yaml:"command"`
	Trials        int           `yaml:"trials"`
	Timeout       time.Duration `yaml:"timeout"`
	Python        string        `yaml:"python"`
}

// AppConfig holds the full service config.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Logger    logger.Config     `yaml:"logger"`
	Database  db.SQLiteConfig   `yaml:"database"`
	Storage   storage.Config    `yaml:"storage"`
	Worker    worker.Config     `yaml:"worker"`
	Stage     stage.Config      `yaml:"stage"`
	Benchmark BenchmarkConfig   `yaml:"benchmark"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Benchmark.HarnessPath == "" {
		return nil, fmt.Errorf("benchmark harnessPath is required")
	}
	if cfg.Benchmark.BenchmarksDir == "" {
		return nil, fmt.Errorf("benchmark benchmarksDir is required")
	}
	if cfg.Benchmark.Backend == "" {
		cfg.Benchmark.Backend = defaultBackend
	}
	if cfg.Benchmark.Backend != "ollama" && cfg.Benchmark.Backend != "openai" {
		return nil, fmt.Errorf("unknown benchmark backend %q", cfg.Benchmark.Backend)
	}
	if cfg.Benchmark.Backend == "openai" && cfg.Benchmark.SecretPath == "" {
		return nil, fmt.Errorf("benchmark secretPath is required for the openai backend")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalDir == "" {
		cfg.Storage.LocalDir = defaultSubmissions
	}
	if cfg.Stage.WorkRoot == "" {
		cfg.Stage.WorkRoot = defaultWorkRoot
	}
	if cfg.Stage.ClientDir == "" {
		cfg.Stage.ClientDir = defaultClientDir
	}
	return &cfg, nil
}

func (b BenchmarkConfig) toExecutorConfig() executor.Config {
	return executor.Config{
		HarnessPath:   b.HarnessPath,
		BenchmarksDir: b.BenchmarksDir,
		SecretPath:    b.SecretPath,
		Command:       b.Command,
		Trials:        b.Trials,
		Timeout:       b.Timeout,
		Python:        b.Python,
	}
}
