package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	sb, err := New(filepath.Join(t.TempDir(), "stage"), Config{})
	if err != nil {
		t.Fatalf("create sandbox: %v", err)
	}
	return sb
}

func TestSandboxStaging(t *testing.T) {
	sb := newTestSandbox(t)

	src := filepath.Join(t.TempDir(), "data.in")
	if err := os.WriteFile(src, []byte("1 2 3\n"), 0600); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if err := sb.AddFile("./0.in", src, 0744); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(sb.Path(), "0.in"))
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "1 2 3\n" {
		t.Fatalf("staged content = %q", data)
	}

	if err := sb.CopyFile("./copy.in", src, 0644); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	info, err := os.Stat(filepath.Join(sb.Path(), "copy.in"))
	if err != nil {
		t.Fatalf("stat copy: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Fatalf("copy mode = %v", info.Mode().Perm())
	}

	if err := sb.AddFile("./missing", filepath.Join(t.TempDir(), "nope"), 0644); err == nil {
		t.Fatal("AddFile accepted a missing source")
	}
}

func TestSandboxDestroyRemovesStage(t *testing.T) {
	sb := newTestSandbox(t)
	stage := sb.Path()
	if _, err := os.Stat(stage); err != nil {
		t.Fatalf("stage missing before destroy: %v", err)
	}

	sb.Destroy()
	if _, err := os.Stat(stage); !os.IsNotExist(err) {
		t.Fatalf("stage still present after destroy: %v", err)
	}
	if sb.Valid() {
		t.Fatal("sandbox still valid after destroy")
	}
	if err := sb.AddFile("./x", "/etc/hostname", 0644); err == nil {
		t.Fatal("stale sandbox accepted AddFile")
	}
}

// node builds a labelled node whose execution outcome is scripted.
func node(label string, ok bool, children ...*ProgramNode) *ProgramNode {
	return &ProgramNode{Exe: label, Children: children, NormalExit: ok}
}

func runOrder(t *testing.T, sb *Sandbox) []string {
	t.Helper()
	var order []string
	sb.execute = func(_ context.Context, n *ProgramNode) {
		order = append(order, n.Exe)
		// NormalExit was pre-scripted on the node; a real run would set
		// it here.
	}
	sb.Run(context.Background())
	return order
}

func TestRunVisitsDepthFirstInSiblingOrder(t *testing.T) {
	sb := newTestSandbox(t)
	defer sb.Destroy()

	//      compile
	//      /  |  \
	//    r0  r1  r2
	//    |    |   |
	//    c0  c1  c2
	c0, c1, c2 := node("c0", true), node("c1", true), node("c2", true)
	root := node("compile", true,
		node("r0", true, c0),
		node("r1", true, c1),
		node("r2", true, c2),
	)
	sb.AddProgram(root)

	got := runOrder(t, sb)
	want := []string{"compile", "r0", "c0", "r1", "c1", "r2", "c2"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRunSkipsSubtreeOfFailedNode(t *testing.T) {
	sb := newTestSandbox(t)
	defer sb.Destroy()

	root := node("compile", true,
		node("r0", true, node("c0", true)),
		node("r1", false, node("c1", true)),
		node("r2", true, node("c2", true)),
	)
	sb.AddProgram(root)

	got := runOrder(t, sb)
	want := []string{"compile", "r0", "c0", "r1", "r2", "c2"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestRunSkipsEverythingUnderFailedRoot(t *testing.T) {
	sb := newTestSandbox(t)
	defer sb.Destroy()

	root := node("compile", false,
		node("r0", true, node("c0", true)),
		node("r1", true),
	)
	sb.AddProgram(root)

	got := runOrder(t, sb)
	if len(got) != 1 || got[0] != "compile" {
		t.Fatalf("order = %v, want only compile", got)
	}
}

func TestRunExecutesRootsInInsertionOrder(t *testing.T) {
	sb := newTestSandbox(t)
	defer sb.Destroy()

	sb.AddProgram(node("a", false))
	sb.AddProgram(node("b", true, node("b0", true)))
	sb.AddProgram(node("c", true))

	got := runOrder(t, sb)
	want := []string{"a", "b", "b0", "c"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
