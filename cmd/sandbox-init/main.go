//go:build linux

// sandbox-init is the child-side shim spawned by the sandbox for every
// program node. It runs inside the fresh PID/NET/UTS namespaces, prepares
// the filesystem view and stdio, locks itself down, waits for the
// supervisor's start gate, and execs the target program.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// gateFd is the start-gate pipe read end handed over via ExtraFiles.
const gateFd = 3

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

// Syscall families a judged program must never reach: network, destructive
// filesystem, process control, kernel tampering, mount/chroot.
var killedSyscalls = []string{
	"socket", "connect", "accept", "bind", "listen",
	"sendto", "recvfrom", "sendmsg", "recvmsg", "shutdown",

	"mknod", "mkdir", "rmdir", "unlink", "link", "symlink", "rename",
	"chmod", "chown", "fchmod", "fchown", "truncate", "ftruncate",

	"fork", "vfork", "clone", "kill", "tkill", "tgkill", "prctl",
	"setpriority", "setpgid", "setuid", "setgid",
	"setresuid", "setresgid", "setreuid", "setregid",

	"ptrace", "syslog", "reboot", "swapon", "swapoff",
	"init_module", "finit_module", "delete_module",

	"mount", "umount2", "chroot",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	var spec initSpec
	if err := json.NewDecoder(os.Stdin).Decode(&spec); err != nil {
		return fmt.Errorf("decode init spec: %w", err)
	}
	if spec.Exe == "" || spec.StagePath == "" {
		return fmt.Errorf("exe and stage path are required")
	}

	if err := os.Chdir(spec.StagePath); err != nil {
		return fmt.Errorf("chdir stage: %w", err)
	}
	if spec.Chroot {
		if err := unix.Chroot("."); err != nil {
			return fmt.Errorf("chroot: %w", err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("chdir root: %w", err)
		}
	}

	if err := redirectIO(spec); err != nil {
		return err
	}

	if spec.SwitchUser {
		if err := switchToNobody(); err != nil {
			return err
		}
	}
	if spec.Seccomp {
		if err := applySeccomp(); err != nil {
			return err
		}
	}

	if err := awaitGate(); err != nil {
		return err
	}

	argv := append([]string{spec.Exe}, spec.Args...)
	env := spec.Env
	if len(env) == 0 {
		env = os.Environ()
	}
	path, err := exec.LookPath(spec.Exe)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(path, argv, env)
}

// redirectIO reopens the standard descriptors onto the configured stage
// paths. Each open must land on the descriptor it replaces.
func redirectIO(spec initSpec) error {
	redirects := []struct {
		fd    int
		path  string
		flags int
	}{
		{0, spec.Stdin, unix.O_RDONLY | unix.O_CREAT},
		{1, spec.Stdout, unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC},
		{2, spec.Stderr, unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC},
	}
	for _, r := range redirects {
		if r.path == "" {
			continue
		}
		if err := unix.Close(r.fd); err != nil {
			return fmt.Errorf("close fd %d: %w", r.fd, err)
		}
		fd, err := unix.Open(r.path, r.flags, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", r.path, err)
		}
		if fd != r.fd {
			unix.Close(fd)
			return fmt.Errorf("redirect %s landed on fd %d, want %d", r.path, fd, r.fd)
		}
	}
	return nil
}

func switchToNobody() error {
	nobody, err := user.Lookup("nobody")
	if err != nil {
		return fmt.Errorf("lookup nobody: %w", err)
	}
	uid, err := strconv.Atoi(nobody.Uid)
	if err != nil {
		return fmt.Errorf("parse nobody uid: %w", err)
	}
	gid, err := strconv.Atoi(nobody.Gid)
	if err != nil {
		return fmt.Errorf("parse nobody gid: %w", err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid: %w", err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid: %w", err)
	}
	return nil
}

func applySeccomp() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()
	for _, name := range killedSyscalls {
		sc, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every syscall exists on every arch.
			continue
		}
		if err := filter.AddRule(sc, seccomp.ActKillProcess); err != nil {
			return fmt.Errorf("add seccomp rule %s: %w", name, err)
		}
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

// awaitGate blocks until the supervisor has placed this process into its
// cgroup and applied limits.
func awaitGate() error {
	gate := os.NewFile(gateFd, "start-gate")
	if gate == nil {
		return fmt.Errorf("start gate fd missing")
	}
	defer gate.Close()
	buf := make([]byte, 1)
	n, err := gate.Read(buf)
	if err != nil || n != 1 {
		return fmt.Errorf("start gate read failed: n=%d err=%v", n, err)
	}
	return nil
}
