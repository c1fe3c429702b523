// Package sandbox stages files into an isolated directory and executes a
// graph of program nodes inside it, one child process at a time.
package sandbox

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"fuzojd/internal/judge/sandbox/cgroup"
	appErr "fuzojd/pkg/errors"
	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config carries the execution environment shared by every node of a stage.
type Config struct {
	// HelperPath locates the sandbox-init shim binary.
	HelperPath string
	// CGroups is the process-wide cgroup manager.
	CGroups *cgroup.Manager
	// EnableNamespaces spawns children in new PID/NET/UTS namespaces.
	// Requires CAP_SYS_ADMIN; disabled in unprivileged test runs.
	EnableNamespaces bool
	// EnableSeccomp loads the syscall kill-list into non-compile nodes.
	EnableSeccomp bool
	// SwitchUser drops non-compile nodes to the nobody account.
	SwitchUser bool
}

// Sandbox owns one stage directory and an ordered list of root programs.
type Sandbox struct {
	path     string
	cfg      Config
	programs []*ProgramNode
	valid    bool

	// execute is swapped out by traversal tests.
	execute func(ctx context.Context, node *ProgramNode)
}

// New creates the stage directory. An existing directory is reused, any
// other mkdir failure invalidates the sandbox.
func New(path string, cfg Config) (*Sandbox, error) {
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.CGroups == nil {
		cfg.CGroups = cgroup.NewManager("")
	}
	if err := os.Mkdir(path, 0755); err != nil && !os.IsExist(err) {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "create stage %s failed", path)
	}
	s := &Sandbox{path: path, cfg: cfg, valid: true}
	s.execute = s.spawn
	return s, nil
}

// Path returns the stage directory, empty once destroyed.
func (s *Sandbox) Path() string {
	if !s.valid {
		return ""
	}
	return s.path
}

// Valid reports whether the stage is still usable.
func (s *Sandbox) Valid() bool { return s.valid }

// AddFile stages src into the stage as dst. Hardlink first; falls back to a
// copy when the filesystem refuses the link.
func (s *Sandbox) AddFile(dst, src string, mode os.FileMode) error {
	if !s.valid {
		return appErr.New(appErr.SandboxStale)
	}
	real := filepath.Join(s.path, dst)
	if err := os.Link(src, real); err != nil {
		logger.Debug(context.Background(), "hardlink failed, copying",
			zap.String("src", src), zap.Error(err))
		return s.CopyFile(dst, src, mode)
	}
	// A hardlink shares the source inode; chmod here would touch the
	// original file, so the staged copy keeps its permissions.
	return nil
}

// CopyFile is the forced-copy variant of AddFile.
func (s *Sandbox) CopyFile(dst, src string, mode os.FileMode) error {
	if !s.valid {
		return appErr.New(appErr.SandboxStale)
	}
	in, err := os.Open(src)
	if err != nil {
		return appErr.Wrapf(err, appErr.StageFailed, "open %s failed", src)
	}
	defer in.Close()

	real := filepath.Join(s.path, dst)
	out, err := os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.StageFailed, "create %s failed", real)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return appErr.Wrapf(err, appErr.StageFailed, "copy %s failed", src)
	}
	return out.Chmod(mode)
}

// AddProgram appends a root node to the execution list.
func (s *Sandbox) AddProgram(node *ProgramNode) {
	if !s.valid {
		return
	}
	s.programs = append(s.programs, node)
}

// Run executes every root in insertion order, walking each tree depth-first.
// A subtree whose parent did not exit normally is skipped.
func (s *Sandbox) Run(ctx context.Context) {
	if !s.valid {
		return
	}
	for _, program := range s.programs {
		s.runProgram(ctx, program)
	}
}

type frame struct {
	node *ProgramNode
	next int
}

func (s *Sandbox) runProgram(ctx context.Context, root *ProgramNode) {
	s.execute(ctx, root)
	if !root.NormalExit || len(root.Children) == 0 {
		return
	}

	stk := []frame{{node: root}}
	for len(stk) > 0 {
		it := stk[len(stk)-1]
		stk = stk[:len(stk)-1]

		node := it.node.Children[it.next]
		it.next++
		if it.next < len(it.node.Children) {
			stk = append(stk, it)
		}

		s.execute(ctx, node)
		if !node.NormalExit || len(node.Children) == 0 {
			continue
		}
		stk = append(stk, frame{node: node})
	}
}

// Destroy removes the stage directory recursively. Failures are logged and
// swallowed.
func (s *Sandbox) Destroy() {
	if !s.valid {
		return
	}
	if err := os.RemoveAll(s.path); err != nil {
		logger.Warn(context.Background(), "remove stage failed",
			zap.String("stage", s.path), zap.Error(err))
	}
	s.valid = false
}
