// Package cgroup manages one cgroup-v2 directory per sandboxed process.
package cgroup

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	appErr "fuzojd/pkg/errors"
	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

// DefaultRoot is the cgroup-v2 mount point on a standard host.
const DefaultRoot = "/sys/fs/cgroup"

const (
	namePrefix = "FUZOJ_"
	// cpu.max quota is written against a fixed 100ms period.
	cpuPeriodUs = 100000

	createRetries = 3
)

// Manager creates groups under one cgroup root and keeps the process-wide
// name registry that prevents two live groups from sharing a directory.
type Manager struct {
	root string

	mu    sync.Mutex
	inUse map[string]struct{}
}

// NewManager returns a manager rooted at root; empty means DefaultRoot.
func NewManager(root string) *Manager {
	if root == "" {
		root = DefaultRoot
	}
	return &Manager{
		root:  root,
		inUse: make(map[string]struct{}),
	}
}

// Group is a handle on one FUZOJ_<key> cgroup directory. It exclusively owns
// the directory until Destroy.
type Group struct {
	mgr   *Manager
	key   string
	path  string
	valid bool

	timeLimitUs   int64
	memLimitBytes int64
}

// Acquire reserves key in the registry and creates the cgroup directory.
// A stale directory from a crashed run is rmdir'd and recreated, up to
// createRetries attempts.
func (m *Manager) Acquire(key string) (*Group, error) {
	m.mu.Lock()
	if _, busy := m.inUse[key]; busy {
		m.mu.Unlock()
		return nil, appErr.Newf(appErr.CGroupNameBusy, "cgroup %s%s is already in use", namePrefix, key)
	}
	m.inUse[key] = struct{}{}
	m.mu.Unlock()

	path := filepath.Join(m.root, namePrefix+key)
	var err error
	for attempt := 0; attempt <= createRetries; attempt++ {
		err = os.Mkdir(path, 0755)
		if err == nil {
			return &Group{mgr: m, key: key, path: path, valid: true}, nil
		}
		if !os.IsExist(err) {
			break
		}
		logger.Warn(context.Background(), "stale cgroup found, removing",
			zap.String("cgroup", path))
		if rmErr := os.Remove(path); rmErr != nil {
			err = rmErr
			break
		}
	}

	m.release(key)
	return nil, appErr.Wrapf(err, appErr.CGroupError, "create cgroup %s failed", path)
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	delete(m.inUse, key)
	m.mu.Unlock()
}

// Path returns the cgroup directory path, empty once destroyed.
func (g *Group) Path() string {
	if !g.valid {
		return ""
	}
	return g.path
}

// AddProcess appends pid to cgroup.procs.
func (g *Group) AddProcess(pid int) error {
	if !g.valid {
		return appErr.New(appErr.CGroupError).WithMessage("cgroup handle is no longer valid")
	}
	if pid <= 0 {
		return appErr.ValidationError("pid", "invalid")
	}
	f, err := os.OpenFile(filepath.Join(g.path, "cgroup.procs"), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return appErr.Wrapf(err, appErr.CGroupError, "open cgroup.procs failed")
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		return appErr.Wrapf(err, appErr.CGroupError, "write cgroup.procs failed")
	}
	return nil
}

// SetMemLimit writes bytes to memory.max and remembers the limit.
func (g *Group) SetMemLimit(bytes int64) error {
	if !g.valid {
		return appErr.New(appErr.CGroupError).WithMessage("cgroup handle is no longer valid")
	}
	if err := g.writeValue("memory.max", strconv.FormatInt(bytes, 10)); err != nil {
		return err
	}
	g.memLimitBytes = bytes
	return nil
}

// SetTimeLimitMs writes a CPU bandwidth quota derived from ms. The quota is
// advisory; enforcement happens in the supervisor loop.
func (g *Group) SetTimeLimitMs(ms int64) error {
	return g.SetTimeLimit(ms * 1000)
}

// SetTimeLimit writes "<quota_us> 100000" to cpu.max.
func (g *Group) SetTimeLimit(us int64) error {
	if !g.valid {
		return appErr.New(appErr.CGroupError).WithMessage("cgroup handle is no longer valid")
	}
	value := strconv.FormatInt(us, 10) + " " + strconv.Itoa(cpuPeriodUs)
	if err := g.writeValue("cpu.max", value); err != nil {
		return err
	}
	g.timeLimitUs = us
	return nil
}

// CPUTimeUs parses usage_usec out of cpu.stat, -1 when unreadable.
func (g *Group) CPUTimeUs() int64 {
	if !g.valid {
		return -1
	}
	data, err := os.ReadFile(filepath.Join(g.path, "cpu.stat"))
	if err != nil {
		return -1
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "usage_usec" {
			continue
		}
		val, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return -1
		}
		return val
	}
	return -1
}

// CPUTimeMs is CPUTimeUs converted to ms, -1 when unreadable.
func (g *Group) CPUTimeMs() int64 {
	us := g.CPUTimeUs()
	if us < 0 {
		return -1
	}
	return us / 1000
}

// MemoryPeak reads memory.peak, 0 when unreadable.
func (g *Group) MemoryPeak() int64 {
	if !g.valid {
		return 0
	}
	data, err := os.ReadFile(filepath.Join(g.path, "memory.peak"))
	if err != nil {
		return 0
	}
	val, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return val
}

// OOMKilled reports whether memory.events recorded an oom or oom_kill.
func (g *Group) OOMKilled() bool {
	if !g.valid {
		return false
	}
	data, err := os.ReadFile(filepath.Join(g.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] != "oom" && fields[0] != "oom_kill" {
			continue
		}
		if val, err := strconv.ParseInt(fields[1], 10, 64); err == nil && val > 0 {
			return true
		}
	}
	return false
}

// Destroy removes the cgroup directory and releases the name. Failures are
// logged, not returned; a leaked directory beats a crashed supervisor.
func (g *Group) Destroy() {
	if !g.valid {
		return
	}
	if err := os.Remove(g.path); err != nil {
		logger.Warn(context.Background(), "remove cgroup failed",
			zap.String("cgroup", g.path), zap.Error(err))
	}
	g.mgr.release(g.key)
	g.valid = false
}

func (g *Group) writeValue(name, value string) error {
	if err := os.WriteFile(filepath.Join(g.path, name), []byte(value), 0640); err != nil {
		return appErr.Wrapf(err, appErr.CGroupError, "write %s failed", name)
	}
	return nil
}
