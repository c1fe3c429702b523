package judger

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/sandbox"
	appErr "fuzojd/pkg/errors"
)

// fullScoreSentinel is what a checker prints to award the case's full score.
const fullScoreSentinel = -1

// CppGrader stages the problem's reference checker binary and attaches one
// checker node under every run node.
type CppGrader struct {
	problem  *pmodel.Problem
	solution *pmodel.Solution

	sb         *sandbox.Sandbox
	gradeNodes []*sandbox.ProgramNode
}

func NewCppGrader(problem *pmodel.Problem, solution *pmodel.Solution) *CppGrader {
	return &CppGrader{problem: problem, solution: solution}
}

func (g *CppGrader) Language() pmodel.Language { return pmodel.LanguageCpp }

// SetGrader stages the checker once, then chains one checker node per run
// node. The run node's stdout feeds the checker's stdin; the checker writes
// "<score>\n<info>" to ./<i>.res.
func (g *CppGrader) SetGrader(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error {
	g.sb = sb

	graderName := "./" + g.solution.ID + "_judger"
	if err := sb.AddFile(graderName, g.problem.CheckerPath, 0755); err != nil {
		return appErr.Wrapf(err, appErr.StageFailed, "stage checker binary failed")
	}

	g.gradeNodes = make([]*sandbox.ProgramNode, 0, len(*runs))
	for i, run := range *runs {
		if run.Stdout == "" {
			return appErr.Newf(appErr.JudgeSystemError, "run node %d has no stdout to grade", i)
		}
		node := &sandbox.ProgramNode{
			Type:   sandbox.NodeChecker,
			Exe:    graderName,
			Args:   []string{strconv.Itoa(i)},
			Stdin:  run.Stdout,
			Stdout: "./" + strconv.Itoa(i) + ".res",
		}
		run.Children = append(run.Children, node)
		g.gradeNodes = append(g.gradeNodes, node)
	}
	return nil
}

// GetResult parses every checker's result file into a per-case verdict.
func (g *CppGrader) GetResult() []pmodel.TestCaseResult {
	results := make([]pmodel.TestCaseResult, len(g.gradeNodes))
	for i, node := range g.gradeNodes {
		results[i].ID = g.problem.TestCases[i].ID
		g.score(node, &results[i], i)
	}
	return results
}

func (g *CppGrader) score(node *sandbox.ProgramNode, result *pmodel.TestCaseResult, id int) {
	result.Score = 0
	fullScore := g.problem.TestCases[id].Score

	if !node.NormalExit {
		judgeError(result)
		return
	}

	f, err := os.Open(filepath.Join(g.sb.Path(), node.Stdout))
	if err != nil {
		judgeError(result)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		judgeError(result)
		return
	}
	score, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		judgeError(result)
		return
	}
	if scanner.Scan() {
		result.Info = scanner.Text()
	}

	if score > fullScore || score < fullScoreSentinel {
		judgeError(result)
		return
	}

	if score == fullScore || score == fullScoreSentinel {
		result.Score = fullScore
		result.State = pmodel.StateAC
		return
	}

	result.Score = score
	result.State = pmodel.StateWA
}

func judgeError(result *pmodel.TestCaseResult) {
	result.State = pmodel.StateUKN
	result.Info = "judge error"
	result.Score = 0
}
