// Package filecache materializes problem data packs (test inputs, answers,
// checker binaries) from object storage onto the local disk and hands out
// local paths to judging runs.
package filecache

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"fuzojd/internal/common/cache"
	"fuzojd/internal/common/storage"
	appErr "fuzojd/pkg/errors"
	"fuzojd/pkg/utils/logger"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const (
	metaFileName  = "meta.json"
	lockKeyPrefix = "judge:datapack:lock:"
	lockPollEvery = 100 * time.Millisecond
)

// ProblemMeta identifies one version of a problem's data pack.
type ProblemMeta struct {
	ProblemID    string `json:"problemId"`
	Version      int64  `json:"version"`
	DataPackKey  string `json:"dataPackKey"`
	DataPackHash string `json:"dataPackHash"`
}

type entry struct {
	key       string
	path      string
	expiresAt time.Time
}

// FileCache caches extracted data packs under rootDir with LRU + TTL
// eviction. Concurrent fetches of the same pack are serialized through a
// distributed lock so only one worker downloads.
type FileCache struct {
	rootDir    string
	ttl        time.Duration
	lockWait   time.Duration
	maxEntries int
	bucket     string
	storage    storage.ObjectStorage
	lock       cache.LockOps

	mu      sync.Mutex
	entries map[string]*entry
	lru     []string
}

// New creates a file cache. lock may be nil when the daemon runs alone.
func New(rootDir string, ttl, lockWait time.Duration, maxEntries int, bucket string, store storage.ObjectStorage, lock cache.LockOps) *FileCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	if lockWait <= 0 {
		lockWait = 30 * time.Second
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FileCache{
		rootDir:    rootDir,
		ttl:        ttl,
		lockWait:   lockWait,
		maxEntries: maxEntries,
		bucket:     bucket,
		storage:    store,
		lock:       lock,
		entries:    make(map[string]*entry),
	}
}

// Get returns the local directory holding the extracted data pack for meta,
// fetching it from object storage when the cache misses.
func (c *FileCache) Get(ctx context.Context, meta ProblemMeta) (string, error) {
	if meta.ProblemID == "" || meta.DataPackKey == "" {
		return "", appErr.ValidationError("problem_meta", "problem id and data pack key are required")
	}
	if c.storage == nil {
		return "", appErr.New(appErr.CacheError).WithMessage("object storage is not configured")
	}

	key := cacheKey(meta)
	path := filepath.Join(c.rootDir, meta.ProblemID, cacheVersionDir(meta))

	if c.hit(key) {
		return path, nil
	}
	if c.checkDisk(path, meta) {
		c.admit(key, path)
		return path, nil
	}
	if err := c.fetchAndExtract(ctx, meta, path); err != nil {
		return "", err
	}
	c.admit(key, path)
	return path, nil
}

func cacheKey(meta ProblemMeta) string {
	return meta.ProblemID + ":" + cacheVersionDir(meta)
}

func cacheVersionDir(meta ProblemMeta) string {
	if meta.Version > 0 {
		return "v" + strconv.FormatInt(meta.Version, 10)
	}
	return "latest"
}

func (c *FileCache) hit(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		c.dropLocked(key)
		return false
	}
	e.expiresAt = time.Now().Add(c.ttl)
	c.touchLocked(key)
	return true
}

// checkDisk recognizes a pack extracted by an earlier process, guarded by
// the recorded hash.
func (c *FileCache) checkDisk(path string, meta ProblemMeta) bool {
	data, err := os.ReadFile(filepath.Join(path, metaFileName))
	if err != nil {
		return false
	}
	var stored ProblemMeta
	if err := json.Unmarshal(data, &stored); err != nil {
		return false
	}
	return stored.DataPackHash == meta.DataPackHash && stored.DataPackHash != ""
}

func (c *FileCache) fetchAndExtract(ctx context.Context, meta ProblemMeta, path string) error {
	release, err := c.acquireLock(ctx, meta)
	if err != nil {
		return err
	}
	defer release()

	// Another worker may have finished while we waited for the lock.
	if c.checkDisk(path, meta) {
		return nil
	}

	obj, err := c.storage.GetObject(ctx, c.bucket, meta.DataPackKey)
	if err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "fetch data pack %s failed", meta.DataPackKey)
	}
	defer obj.Close()

	tmpDir := path + ".tmp"
	_ = os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create cache dir failed")
	}

	hasher := sha256.New()
	if err := extractTarZst(io.TeeReader(obj, hasher), tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return err
	}

	if meta.DataPackHash != "" {
		sum := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(sum, meta.DataPackHash) {
			_ = os.RemoveAll(tmpDir)
			return appErr.Newf(appErr.ObjectCorrupt,
				"data pack %s hash mismatch: got %s", meta.DataPackKey, sum)
		}
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		return appErr.Wrapf(err, appErr.CacheError, "encode pack meta failed")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, metaFileName), metaData, 0644); err != nil {
		_ = os.RemoveAll(tmpDir)
		return appErr.Wrapf(err, appErr.CacheError, "write pack meta failed")
	}

	_ = os.RemoveAll(path)
	if err := os.Rename(tmpDir, path); err != nil {
		_ = os.RemoveAll(tmpDir)
		return appErr.Wrapf(err, appErr.CacheError, "install data pack failed")
	}
	return nil
}

func (c *FileCache) acquireLock(ctx context.Context, meta ProblemMeta) (func(), error) {
	if c.lock == nil {
		return func() {}, nil
	}
	key := lockKeyPrefix + cacheKey(meta)
	deadline := time.Now().Add(c.lockWait)
	for {
		ok, err := c.lock.TryLock(ctx, key, 5*time.Minute)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.LockFailed, "data pack lock failed")
		}
		if ok {
			return func() {
				if err := c.lock.Unlock(context.Background(), key); err != nil {
					logger.Warn(context.Background(), "release data pack lock failed",
						zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, appErr.Newf(appErr.LockFailed, "waited %s for data pack lock", c.lockWait)
		}
		select {
		case <-ctx.Done():
			return nil, appErr.Wrap(ctx.Err(), appErr.LockFailed)
		case <-time.After(lockPollEvery):
		}
	}
}

func extractTarZst(r io.Reader, dir string) error {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return appErr.Wrapf(err, appErr.ObjectCorrupt, "open zstd stream failed")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.ObjectCorrupt, "read data pack tar failed")
		}

		name := filepath.Clean(hdr.Name)
		if name == "." || strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			continue
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "extract dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "extract dir failed")
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "extract file failed")
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return appErr.Wrapf(err, appErr.CacheError, "extract file failed")
			}
			f.Close()
		}
	}
}

func (c *FileCache) admit(key, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.touchLocked(key)
		return
	}
	c.entries[key] = &entry{key: key, path: path, expiresAt: time.Now().Add(c.ttl)}
	c.lru = append(c.lru, key)
	for len(c.entries) > c.maxEntries {
		oldest := c.lru[0]
		victim := c.entries[oldest]
		c.dropLocked(oldest)
		if victim != nil {
			_ = os.RemoveAll(victim.path)
		}
	}
}

func (c *FileCache) touchLocked(key string) {
	for i, k := range c.lru {
		if k == key {
			c.lru = append(append(c.lru[:i:i], c.lru[i+1:]...), key)
			return
		}
	}
}

func (c *FileCache) dropLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.lru {
		if k == key {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			return
		}
	}
}
