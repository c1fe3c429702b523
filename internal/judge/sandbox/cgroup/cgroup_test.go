package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	appErr "fuzojd/pkg/errors"
)

func TestAcquireCreatesDirectory(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)

	group, err := mgr.Acquire("solution_abc12345")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer group.Destroy()

	want := filepath.Join(root, "FUZOJ_solution_abc12345")
	if group.Path() != want {
		t.Fatalf("path = %q, want %q", group.Path(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("cgroup dir missing: %v", err)
	}
}

func TestAcquireRefusesBusyName(t *testing.T) {
	mgr := NewManager(t.TempDir())

	group, err := mgr.Acquire("dup")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer group.Destroy()

	if _, err := mgr.Acquire("dup"); !appErr.Is(err, appErr.CGroupNameBusy) {
		t.Fatalf("second Acquire err = %v, want CGroupNameBusy", err)
	}
}

func TestDestroyReleasesName(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)

	group, err := mgr.Acquire("reuse")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	group.Destroy()

	if _, err := os.Stat(filepath.Join(root, "FUZOJ_reuse")); !os.IsNotExist(err) {
		t.Fatalf("cgroup dir still present: %v", err)
	}

	again, err := mgr.Acquire("reuse")
	if err != nil {
		t.Fatalf("re-Acquire after destroy: %v", err)
	}
	again.Destroy()
}

func TestAcquireRecreatesStaleDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "FUZOJ_stale"), 0755); err != nil {
		t.Fatalf("plant stale dir: %v", err)
	}

	mgr := NewManager(root)
	group, err := mgr.Acquire("stale")
	if err != nil {
		t.Fatalf("Acquire over stale dir: %v", err)
	}
	group.Destroy()
}

func testGroup(t *testing.T) *Group {
	t.Helper()
	mgr := NewManager(t.TempDir())
	group, err := mgr.Acquire("counters")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(group.Destroy)
	return group
}

func write(t *testing.T, group *Group, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(group.Path(), name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestCPUTimeParsing(t *testing.T) {
	group := testGroup(t)

	if got := group.CPUTimeMs(); got != -1 {
		t.Fatalf("CPUTimeMs without cpu.stat = %d, want -1", got)
	}

	write(t, group, "cpu.stat", "usage_usec 1534000\nuser_usec 1200000\nsystem_usec 334000\n")
	if got := group.CPUTimeUs(); got != 1534000 {
		t.Fatalf("CPUTimeUs = %d", got)
	}
	if got := group.CPUTimeMs(); got != 1534 {
		t.Fatalf("CPUTimeMs = %d", got)
	}
}

func TestMemoryPeakParsing(t *testing.T) {
	group := testGroup(t)

	if got := group.MemoryPeak(); got != 0 {
		t.Fatalf("MemoryPeak without file = %d, want 0", got)
	}
	write(t, group, "memory.peak", "104857600\n")
	if got := group.MemoryPeak(); got != 104857600 {
		t.Fatalf("MemoryPeak = %d", got)
	}
}

func TestOOMParsing(t *testing.T) {
	group := testGroup(t)

	if group.OOMKilled() {
		t.Fatal("OOMKilled without file")
	}
	write(t, group, "memory.events", "low 0\nhigh 0\nmax 12\noom 0\noom_kill 0\n")
	if group.OOMKilled() {
		t.Fatal("OOMKilled with zero counters")
	}
	write(t, group, "memory.events", "low 0\nhigh 0\nmax 12\noom 1\noom_kill 1\n")
	if !group.OOMKilled() {
		t.Fatal("OOMKilled missed oom_kill > 0")
	}
}

func TestLimitWrites(t *testing.T) {
	group := testGroup(t)

	// cgroup control files exist before a real kernel accepts writes.
	write(t, group, "memory.max", "")
	write(t, group, "cpu.max", "")
	write(t, group, "cgroup.procs", "")

	if err := group.SetMemLimit(1 << 20); err != nil {
		t.Fatalf("SetMemLimit: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(group.Path(), "memory.max"))
	if string(data) != "1048576" {
		t.Fatalf("memory.max = %q", data)
	}

	if err := group.SetTimeLimitMs(1000); err != nil {
		t.Fatalf("SetTimeLimitMs: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(group.Path(), "cpu.max"))
	if string(data) != "1000000 100000" {
		t.Fatalf("cpu.max = %q", data)
	}

	if err := group.AddProcess(4242); err != nil {
		t.Fatalf("AddProcess: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(group.Path(), "cgroup.procs"))
	if string(data) != "4242\n" {
		t.Fatalf("cgroup.procs = %q", data)
	}

	if err := group.AddProcess(-1); err == nil {
		t.Fatal("AddProcess accepted an invalid pid")
	}
}

func TestDestroyedGroupRefusesOperations(t *testing.T) {
	mgr := NewManager(t.TempDir())
	group, err := mgr.Acquire("dead")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	group.Destroy()

	if group.Path() != "" {
		t.Fatalf("Path after destroy = %q", group.Path())
	}
	if err := group.SetMemLimit(1); err == nil {
		t.Fatal("SetMemLimit on destroyed group")
	}
	if got := group.CPUTimeMs(); got != -1 {
		t.Fatalf("CPUTimeMs on destroyed group = %d", got)
	}
}
