// Package judger turns a problem/solution pair into a Result by driving
// runner and grader strategies over one sandbox.
package judger

import (
	"context"
	"path/filepath"
	"strings"

	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/sandbox"
	appErr "fuzojd/pkg/errors"
	"fuzojd/pkg/utils/logger"

	"go.uber.org/zap"
)

// Runner builds the compile+run subtree into a sandbox and interprets the
// executed nodes into per-case results.
type Runner interface {
	Language() pmodel.Language
	SetRunner(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error
	GetResult() []pmodel.TestCaseResult
}

// Grader attaches checker nodes to the run nodes and scores their output.
type Grader interface {
	Language() pmodel.Language
	SetGrader(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error
	GetResult() []pmodel.TestCaseResult
}

// Config is shared by every judging run of one daemon.
type Config struct {
	// WorkRoot holds the per-submission stage directories.
	WorkRoot string
	// Sandbox is the execution environment for stages.
	Sandbox sandbox.Config
	// CompileCommand overrides the runner's compile command template.
	CompileCommand string
}

// Judger executes one judging run. The done channel closes exactly once,
// when Judge has produced its result.
type Judger struct {
	runner   Runner
	grader   Grader
	problem  *pmodel.Problem
	solution *pmodel.Solution
	cfg      Config

	done   chan struct{}
	result *pmodel.Result
}

func newJudger(runner Runner, grader Grader, problem *pmodel.Problem, solution *pmodel.Solution, cfg Config) *Judger {
	return &Judger{
		runner:   runner,
		grader:   grader,
		problem:  problem,
		solution: solution,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Done is the one-shot completion signal for callers awaiting the run.
func (j *Judger) Done() <-chan struct{} { return j.done }

// Result is valid once Done is closed.
func (j *Judger) Result() *pmodel.Result { return j.result }

// Judge runs the full pipeline: stage, build the program graph, execute,
// interpret, converge. Infrastructure faults return a nil result with a
// coded error; submission faults are verdicts inside the result.
func (j *Judger) Judge(ctx context.Context) (*pmodel.Result, error) {
	defer close(j.done)

	stageName := strings.ToUpper(j.runner.Language().String()) + "_" + j.solution.ID
	sb, err := sandbox.New(filepath.Join(j.cfg.WorkRoot, stageName), j.cfg.Sandbox)
	if err != nil {
		logger.Error(ctx, "create sandbox failed",
			zap.String("stage", stageName), zap.Error(err))
		return nil, err
	}
	defer sb.Destroy()

	var runs []*sandbox.ProgramNode
	if err := j.runner.SetRunner(sb, &runs); err != nil {
		logger.Error(ctx, "build runner graph failed", zap.Error(err))
		return nil, err
	}
	if err := j.grader.SetGrader(sb, &runs); err != nil {
		logger.Error(ctx, "build grader graph failed", zap.Error(err))
		return nil, err
	}

	sb.Run(ctx)

	runnerResult := j.runner.GetResult()
	graderResult := j.grader.GetResult()
	if len(runnerResult) != len(graderResult) {
		return nil, appErr.Newf(appErr.JudgeSystemError,
			"runner produced %d results, grader %d", len(runnerResult), len(graderResult))
	}

	result := converge(runnerResult, graderResult)
	result.ProblemID = j.problem.ID
	result.SolutionID = j.solution.ID
	j.result = result
	return result, nil
}

// converge folds runner and grader per-case results into the final Result.
// For a case the runner accepted, the grader's state, info and score win;
// any other case keeps the runner's verdict untouched.
func converge(runnerResult, graderResult []pmodel.TestCaseResult) *pmodel.Result {
	result := &pmodel.Result{
		TestCases: make([]pmodel.TestCaseResult, len(runnerResult)),
		State:     pmodel.StateAC,
	}

	for i := range runnerResult {
		result.TestCases[i] = runnerResult[i]
		if runnerResult[i].State == pmodel.StateAC {
			result.TestCases[i].State = graderResult[i].State
			result.TestCases[i].Info = graderResult[i].Info
			result.TestCases[i].Score = graderResult[i].Score
		}
	}

	for _, tc := range result.TestCases {
		if tc.State != pmodel.StateAC {
			// CE means every case is CE; stop folding.
			if tc.State == pmodel.StateCE {
				result.State = pmodel.StateCE
				result.Info = tc.Info
				break
			}
			if result.State != pmodel.StateAC && result.State != tc.State {
				result.State = pmodel.StateMUL
			} else {
				result.State = tc.State
			}
		}
		result.Score += tc.Score
	}

	return result
}
