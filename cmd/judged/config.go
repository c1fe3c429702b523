package main

import (
	"fmt"
	"os"
	"time"

	"fuzojd/internal/common/cache"
	"fuzojd/internal/common/db"
	"fuzojd/internal/common/storage"
	"fuzojd/internal/judge/judger"
	"fuzojd/internal/judge/sandbox"
	"fuzojd/internal/judge/sandbox/cgroup"
	"fuzojd/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultWorkRoot = "./judge_work"
	defaultCacheDir = "./problem_cache"
	defaultCacheTTL = time.Hour
	defaultPoolSize = 4
)

// JudgeConfig holds judging pipeline settings.
type JudgeConfig struct {
	WorkRoot       string `yaml:"workRoot"`
	PoolSize       int    `yaml:"poolSize"`
	CompileCommand string `yaml:"compileCommand"`
}

// SandboxConfig holds sandbox execution settings.
type SandboxConfig struct {
	CgroupRoot       string `yaml:"cgroupRoot"`
	HelperPath       string `yaml:"helperPath"`
	EnableNamespaces bool   `yaml:"enableNamespaces"`
	EnableSeccomp    bool   `yaml:"enableSeccomp"`
	SwitchUser       bool   `yaml:"switchUser"`
}

// CacheConfig holds the local data pack cache settings.
type CacheConfig struct {
	RootDir    string        `yaml:"rootDir"`
	TTL        time.Duration `yaml:"ttl"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
	Bucket     string        `yaml:"bucket"`
}

// AppConfig holds the judged daemon config. Database, Redis and MinIO
// sections are optional; features backed by an absent section stay off.
type AppConfig struct {
	Logger   logger.Config       `yaml:"logger"`
	Judge    JudgeConfig         `yaml:"judge"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
	Cache    CacheConfig         `yaml:"cache"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
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
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = defaultWorkRoot
	}
	if cfg.Judge.PoolSize <= 0 {
		cfg.Judge.PoolSize = defaultPoolSize
	}
	if cfg.Cache.RootDir == "" {
		cfg.Cache.RootDir = defaultCacheDir
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaultCacheTTL
	}
	if cfg.Cache.Bucket == "" {
		cfg.Cache.Bucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}

func (cfg *AppConfig) judgerConfig() judger.Config {
	return judger.Config{
		WorkRoot:       cfg.Judge.WorkRoot,
		CompileCommand: cfg.Judge.CompileCommand,
		Sandbox: sandbox.Config{
			HelperPath:       cfg.Sandbox.HelperPath,
			CGroups:          cgroup.NewManager(cfg.Sandbox.CgroupRoot),
			EnableNamespaces: cfg.Sandbox.EnableNamespaces,
			EnableSeccomp:    cfg.Sandbox.EnableSeccomp,
			SwitchUser:       cfg.Sandbox.SwitchUser,
		},
	}
}
