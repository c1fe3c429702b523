// judged reads judging jobs from YAML files, runs them through the sandbox
// pipeline and reports the results. Test data either points at local files
// or at a data pack in object storage resolved through the file cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"fuzojd/internal/common/cache"
	"fuzojd/internal/common/db"
	"fuzojd/internal/common/storage"
	"fuzojd/internal/filecache"
	"fuzojd/internal/judge/judger"
	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/repository"
	"fuzojd/internal/judge/service"
	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

type jobTestCase struct {
	ID            int    `yaml:"id"`
	DataPath      string `yaml:"dataPath"`
	AnswerPath    string `yaml:"answerPath"`
	TimeLimitMs   int64  `yaml:"timeLimitMs"`
	MemLimitBytes int64  `yaml:"memLimitBytes"`
	Score         int    `yaml:"score"`
}

type jobDataPack struct {
	Key     string `yaml:"key"`
	Hash    string `yaml:"hash"`
	Version int64  `yaml:"version"`
}

type jobProblem struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	CheckerPath     string        `yaml:"checkerPath"`
	CheckerLanguage string        `yaml:"checkerLanguage"`
	Score           int           `yaml:"score"`
	TestCases       []jobTestCase `yaml:"testCases"`
	DataPack        *jobDataPack  `yaml:"dataPack"`
}

type jobSolution struct {
	ID       string `yaml:"id"`
	TextPath string `yaml:"textPath"`
	Language string `yaml:"language"`
}

type jobFile struct {
	Problem  jobProblem  `yaml:"problem"`
	Solution jobSolution `yaml:"solution"`
}

func main() {
	configPath := flag.String("config", "", "path to the daemon config file")
	flag.Parse()
	jobs := flag.Args()

	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "usage: judged [-config file] job.yaml...")
		os.Exit(2)
	}

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	if err := run(ctx, cfg, jobs); err != nil {
		logger.Error(ctx, "judged failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *AppConfig, jobPaths []string) error {
	var packCache *filecache.FileCache
	if cfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return err
		}
		var lock cache.LockOps
		if cfg.Redis.Addr != "" {
			redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
			if err != nil {
				return err
			}
			defer redisCache.Close()
			lock = redisCache
		}
		packCache = filecache.New(cfg.Cache.RootDir, cfg.Cache.TTL, cfg.Cache.LockWait,
			cfg.Cache.MaxEntries, cfg.Cache.Bucket, objStorage, lock)
	}

	var results *repository.ResultRepository
	if cfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&cfg.Database)
		if err != nil {
			return err
		}
		defer mysqlDB.Close()
		results = repository.NewResultRepository(mysqlDB.DB())
	}

	if err := os.MkdirAll(cfg.Judge.WorkRoot, 0755); err != nil {
		return fmt.Errorf("create work root failed: %w", err)
	}

	factory := judger.NewFactory(cfg.judgerConfig())
	dispatcher := service.NewDispatcher(factory, cfg.Judge.PoolSize)
	defer dispatcher.Shutdown()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	for _, path := range jobPaths {
		job, err := loadJob(ctx, path, packCache)
		if err != nil {
			return fmt.Errorf("load job %s: %w", path, err)
		}
		future, err := dispatcher.Submit(*job)
		if err != nil {
			return err
		}
		result, err := future.Wait(ctx)
		if err != nil {
			return err
		}
		if err := encoder.Encode(resultView(result)); err != nil {
			return err
		}
		if results != nil {
			if err := results.Save(ctx, result); err != nil {
				logger.Warn(ctx, "persist result failed", zap.Error(err))
			}
		}
	}
	return nil
}

func loadJob(ctx context.Context, path string, packCache *filecache.FileCache) (*service.Job, error) {
	var raw jobFile
	if err := loadYAML(path, &raw); err != nil {
		return nil, err
	}

	solutionLang, ok := pmodel.ParseLanguage(raw.Solution.Language)
	if !ok {
		return nil, fmt.Errorf("unknown solution language %q", raw.Solution.Language)
	}
	checkerLang, ok := pmodel.ParseLanguage(raw.Problem.CheckerLanguage)
	if !ok {
		return nil, fmt.Errorf("unknown checker language %q", raw.Problem.CheckerLanguage)
	}

	// Data pack paths are pack-relative until the cache materializes them.
	packDir := ""
	if raw.Problem.DataPack != nil {
		if packCache == nil {
			return nil, fmt.Errorf("job needs a data pack but object storage is not configured")
		}
		dir, err := packCache.Get(ctx, filecache.ProblemMeta{
			ProblemID:    raw.Problem.ID,
			Version:      raw.Problem.DataPack.Version,
			DataPackKey:  raw.Problem.DataPack.Key,
			DataPackHash: raw.Problem.DataPack.Hash,
		})
		if err != nil {
			return nil, err
		}
		packDir = dir
	}

	problem := &pmodel.Problem{
		ID:              raw.Problem.ID,
		Name:            raw.Problem.Name,
		CheckerPath:     resolvePath(packDir, raw.Problem.CheckerPath),
		CheckerLanguage: checkerLang,
		Score:           raw.Problem.Score,
	}
	for _, tc := range raw.Problem.TestCases {
		problem.TestCases = append(problem.TestCases, pmodel.TestCase{
			ID:            tc.ID,
			DataPath:      resolvePath(packDir, tc.DataPath),
			AnswerPath:    resolvePath(packDir, tc.AnswerPath),
			TimeLimitMs:   tc.TimeLimitMs,
			MemLimitBytes: tc.MemLimitBytes,
			Score:         tc.Score,
		})
	}

	solution := &pmodel.Solution{
		ID:       raw.Solution.ID,
		TextPath: raw.Solution.TextPath,
		Language: solutionLang,
	}
	return &service.Job{Problem: problem, Solution: solution}, nil
}

func resolvePath(packDir, path string) string {
	if path == "" || filepath.IsAbs(path) || packDir == "" {
		return path
	}
	return filepath.Join(packDir, path)
}

type caseView struct {
	ID       int    `json:"id"`
	State    string `json:"state"`
	Score    int    `json:"score"`
	Info     string `json:"info,omitempty"`
	TimeMs   int64  `json:"timeMs"`
	MemBytes int64  `json:"memBytes"`
}

type view struct {
	SolutionID string     `json:"solutionId"`
	ProblemID  string     `json:"problemId"`
	State      string     `json:"state"`
	Score      int        `json:"score"`
	Info       string     `json:"info,omitempty"`
	TestCases  []caseView `json:"testCases"`
}

func resultView(result *pmodel.Result) view {
	v := view{
		SolutionID: result.SolutionID,
		ProblemID:  result.ProblemID,
		State:      result.State.String(),
		Score:      result.Score,
		Info:       result.Info,
	}
	for _, tc := range result.TestCases {
		v.TestCases = append(v.TestCases, caseView{
			ID:       tc.ID,
			State:    tc.State.String(),
			Score:    tc.Score,
			Info:     tc.Info,
			TimeMs:   tc.TimeMs,
			MemBytes: tc.MemBytes,
		})
	}
	return v
}
