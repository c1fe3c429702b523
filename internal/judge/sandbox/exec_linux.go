//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"fuzojd/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	superviseInterval = 100 * time.Millisecond
	// maxProcessWall guards the supervisor itself against a child the
	// cgroup clock never catches (e.g. one blocked forever on IO).
	maxProcessWall = 10 * time.Second
)

// initSpec is the wire format consumed by cmd/sandbox-init on its stdin.
// The shim keeps its own copy of this struct.
type initSpec struct {
	StagePath  string   `json:"stagePath"`
	Chroot     bool     `json:"chroot"`
	Exe        string   `json:"exe"`
	Args       []string `json:"args"`
	Env        []string `json:"env"`
	Stdin      string   `json:"stdin"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	Seccomp    bool     `json:"seccomp"`
	SwitchUser bool     `json:"switchUser"`
}

// spawn runs one node to completion: start the shim behind a start-gate
// pipe, place it into a fresh cgroup, release the gate, then supervise until
// the child is reaped. Result fields on the node are filled in once the child
// has been released and reaped; when setup fails before the gate is released
// they keep their zero values, so NormalExit stays false.
func (s *Sandbox) spawn(ctx context.Context, node *ProgramNode) {
	gateR, gateW, err := os.Pipe()
	if err != nil {
		logger.Error(ctx, "create start gate failed", zap.Error(err))
		return
	}
	defer gateW.Close()

	spec := initSpec{
		StagePath:  s.path,
		Chroot:     node.Type != NodeCompile,
		Exe:        node.Exe,
		Args:       node.Args,
		Env:        node.Env,
		Stdin:      node.Stdin,
		Stdout:     node.Stdout,
		Stderr:     node.Stderr,
		Seccomp:    s.cfg.EnableSeccomp && node.Type != NodeCompile,
		SwitchUser: s.cfg.SwitchUser && node.Type != NodeCompile,
	}
	payload, err := json.Marshal(spec)
	if err != nil {
		gateR.Close()
		logger.Error(ctx, "encode init spec failed", zap.Error(err))
		return
	}

	var shimStderr bytes.Buffer
	cmd := exec.Command(s.cfg.HelperPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = &shimStderr
	// The gate read end becomes fd 3 in the shim.
	cmd.ExtraFiles = []*os.File{gateR}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if s.cfg.EnableNamespaces {
		cmd.SysProcAttr.Cloneflags = syscall.CLONE_NEWPID | syscall.CLONE_NEWNET | syscall.CLONE_NEWUTS
	}

	if err := cmd.Start(); err != nil {
		gateR.Close()
		logger.Error(ctx, "spawn program failed",
			zap.String("exe", node.Exe), zap.Error(err))
		return
	}
	gateR.Close()
	pid := cmd.Process.Pid

	group, err := s.cfg.CGroups.Acquire(cgroupKey(node.Exe))
	if err != nil {
		logger.Error(ctx, "acquire cgroup failed",
			zap.String("exe", node.Exe), zap.Error(err))
		killAndReap(pid, cmd)
		return
	}
	defer group.Destroy()

	if err := group.AddProcess(pid); err != nil {
		logger.Error(ctx, "assign process to cgroup failed",
			zap.Int("pid", pid), zap.Error(err))
		killAndReap(pid, cmd)
		return
	}
	if node.MemLimitBytes > 0 {
		if err := group.SetMemLimit(node.MemLimitBytes); err != nil {
			logger.Error(ctx, "set memory limit failed",
				zap.Int64("bytes", node.MemLimitBytes), zap.Error(err))
			killAndReap(pid, cmd)
			return
		}
	}
	if node.TimeLimitMs > 0 {
		// Advisory; the supervisor loop below is the enforcer.
		if err := group.SetTimeLimitMs(node.TimeLimitMs); err != nil {
			logger.Warn(ctx, "set cpu quota failed", zap.Error(err))
		}
	}

	if _, err := gateW.Write([]byte{0}); err != nil {
		logger.Error(ctx, "release start gate failed", zap.Error(err))
		killAndReap(pid, cmd)
		return
	}
	gateW.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	start := time.Now()
	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()

	killed := false
	reaped := false
	ctxDone := ctx.Done()
	for !reaped {
		select {
		case <-done:
			reaped = true
		case <-ctxDone:
			// A dropped orchestrator still reaps its in-flight child.
			killGroup(pid)
			killed = true
			ctxDone = nil
		case <-ticker.C:
			if killed {
				continue
			}
			over := node.TimeLimitMs > 0 && group.CPUTimeMs() > node.TimeLimitMs
			if over || time.Since(start) > maxProcessWall {
				logger.Info(ctx, "killing over-limit program",
					zap.Int("pid", pid), zap.String("exe", node.Exe))
				killGroup(pid)
				killed = true
			}
		}
	}

	if state := cmd.ProcessState; state != nil {
		if ws, ok := state.Sys().(syscall.WaitStatus); ok {
			node.WaitStatus = ws
			node.NormalExit = ws.Exited() && ws.ExitStatus() == 0
		}
	}
	node.TimeMs = group.CPUTimeMs()
	node.MemBytes = group.MemoryPeak()
	node.CGroupOOM = group.OOMKilled()

	if !node.NormalExit && shimStderr.Len() > 0 {
		logger.Warn(ctx, "sandbox shim stderr",
			zap.String("exe", node.Exe), zap.String("stderr", shimStderr.String()))
	}
}

// cgroupKey derives a collision-free cgroup name from the program name.
func cgroupKey(exe string) string {
	return filepath.Base(exe) + "_" + uuid.NewString()[:8]
}

func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func killAndReap(pid int, cmd *exec.Cmd) {
	killGroup(pid)
	_ = cmd.Wait()
}
