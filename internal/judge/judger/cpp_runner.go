package judger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/sandbox"
	appErr "fuzojd/pkg/errors"

	"github.com/google/shlex"
)

const (
	compileLogFile = "./compile.log"
	// compileMemLimit caps g++ itself, not the submission.
	compileMemLimit = 1 << 30

	defaultCppCompileCmd = "g++ -static -O2 {source} -o {binary}"
)

// CppRunner stages a C++ submission, compiles it statically and runs the
// binary once per test case.
type CppRunner struct {
	problem  *pmodel.Problem
	solution *pmodel.Solution

	// compileCmd is a template with {source} and {binary} placeholders.
	compileCmd string

	sb          *sandbox.Sandbox
	runs        *[]*sandbox.ProgramNode
	compileNode *sandbox.ProgramNode
	programName string
}

// NewCppRunner creates the C++ runner strategy. compileCmd of "" selects the
// reference g++ invocation.
func NewCppRunner(problem *pmodel.Problem, solution *pmodel.Solution, compileCmd string) *CppRunner {
	if compileCmd == "" {
		compileCmd = defaultCppCompileCmd
	}
	return &CppRunner{problem: problem, solution: solution, compileCmd: compileCmd}
}

func (r *CppRunner) Language() pmodel.Language { return pmodel.LanguageCpp }

// SetRunner stages the source and builds the compile node plus one run node
// per test case, chained under the compile node.
func (r *CppRunner) SetRunner(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error {
	r.sb = sb
	r.runs = runs

	if err := r.setCompileEnv(); err != nil {
		return err
	}
	return r.setRunEnv()
}

func (r *CppRunner) setCompileEnv() error {
	r.programName = "./" + r.solution.ID + "_solution"
	source := r.programName + ".cc"
	if err := r.sb.AddFile(source, r.solution.TextPath, 0744); err != nil {
		return appErr.Wrapf(err, appErr.StageFailed, "stage solution source failed")
	}

	argv, err := buildCompileCommand(r.compileCmd, source, r.programName)
	if err != nil {
		return err
	}

	r.compileNode = &sandbox.ProgramNode{
		Type:          sandbox.NodeCompile,
		Exe:           argv[0],
		Args:          argv[1:],
		Stderr:        compileLogFile,
		MemLimitBytes: compileMemLimit,
	}
	r.sb.AddProgram(r.compileNode)
	return nil
}

func (r *CppRunner) setRunEnv() error {
	for i, tc := range r.problem.TestCases {
		base := "./" + strconv.Itoa(i)
		inputFile := base + ".in"
		outputFile := base + ".out"

		if err := r.sb.AddFile(inputFile, tc.DataPath, 0744); err != nil {
			return appErr.Wrapf(err, appErr.StageFailed, "stage test input %d failed", i)
		}

		node := &sandbox.ProgramNode{
			Type:          sandbox.NodeProgram,
			Exe:           r.programName,
			Stdin:         inputFile,
			Stdout:        outputFile,
			TimeLimitMs:   tc.TimeLimitMs,
			MemLimitBytes: tc.MemLimitBytes,
		}
		r.compileNode.Children = append(r.compileNode.Children, node)
		*r.runs = append(*r.runs, node)
	}
	return nil
}

// GetResult interprets the executed nodes. A failed compile turns every case
// into CE with the compiler diagnostic on case 0.
func (r *CppRunner) GetResult() []pmodel.TestCaseResult {
	results := make([]pmodel.TestCaseResult, len(*r.runs))
	for i := range results {
		results[i].ID = r.problem.TestCases[i].ID
	}

	if !r.compileNode.NormalExit {
		log, err := os.ReadFile(filepath.Join(r.sb.Path(), compileLogFile))
		if err == nil && len(results) > 0 {
			results[0].Info = string(log)
		}
		for i := range results {
			results[i].State = pmodel.StateCE
			results[i].Score = 0
		}
		return results
	}

	for i, node := range *r.runs {
		r.interpretRun(node, &results[i])
	}
	return results
}

func (r *CppRunner) interpretRun(node *sandbox.ProgramNode, result *pmodel.TestCaseResult) {
	result.State = pmodel.StateAC
	result.TimeMs = node.TimeMs
	result.MemBytes = node.MemBytes
	result.Score = 0

	if !node.NormalExit {
		ws := node.WaitStatus
		switch {
		case ws.Exited() && ws.ExitStatus() != 0:
			result.State = pmodel.StateRE
			result.Info = "return value is not zero."
			return
		case ws.Signaled():
			switch ws.Signal() {
			case syscall.SIGSEGV:
				result.State = pmodel.StateRE
				result.Info = "segment fault."
				return
			case syscall.SIGFPE:
				result.State = pmodel.StateFPE
				result.Info = "Float error."
				return
			case syscall.SIGKILL:
				if node.CGroupOOM {
					result.State = pmodel.StateMLE
					result.Info = "MLE"
					return
				}
				// A supervisor kill; the limit checks below decide
				// whether it was a timeout.
				result.State = pmodel.StateRE
			default:
				result.State = pmodel.StateRE
				result.Info = fmt.Sprintf("killed by signal %d.", ws.Signal())
				return
			}
		}
	}

	if node.TimeLimitMs > 0 && node.TimeMs > node.TimeLimitMs {
		result.State = pmodel.StateTLE
		return
	}
	if node.MemLimitBytes > 0 && node.MemBytes > node.MemLimitBytes {
		result.State = pmodel.StateMLE
	}
}

// buildCompileCommand expands the placeholders and splits the template the
// same way a shell would.
func buildCompileCommand(tpl, source, binary string) ([]string, error) {
	cmd := strings.ReplaceAll(tpl, "{source}", source)
	cmd = strings.ReplaceAll(cmd, "{binary}", binary)
	argv, err := shlex.Split(cmd)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidValue, "parse compile command failed")
	}
	if len(argv) == 0 {
		return nil, appErr.New(appErr.InvalidValue).WithMessage("compile command is empty")
	}
	return argv, nil
}
