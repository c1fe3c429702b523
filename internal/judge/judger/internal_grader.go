package judger

import (
	"os"
	"path/filepath"
	"strings"

	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/sandbox"
	appErr "fuzojd/pkg/errors"
)

// InternalGrader is the built-in diff-style checker: it compares each run's
// stdout against the test case's answer file, line by line, ignoring
// trailing whitespace and trailing blank lines. It adds no program nodes.
type InternalGrader struct {
	problem *pmodel.Problem

	sb   *sandbox.Sandbox
	runs []*sandbox.ProgramNode
}

func NewInternalGrader(problem *pmodel.Problem) *InternalGrader {
	return &InternalGrader{problem: problem}
}

func (g *InternalGrader) Language() pmodel.Language { return pmodel.LanguageInternal }

// SetGrader records the run nodes; grading happens entirely after Run.
func (g *InternalGrader) SetGrader(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error {
	g.sb = sb
	g.runs = *runs
	for i, run := range *runs {
		if run.Stdout == "" {
			return appErr.Newf(appErr.JudgeSystemError, "run node %d has no stdout to grade", i)
		}
		if g.problem.TestCases[i].AnswerPath == "" {
			return appErr.ValidationError("answer_path", "required")
		}
	}
	return nil
}

func (g *InternalGrader) GetResult() []pmodel.TestCaseResult {
	results := make([]pmodel.TestCaseResult, len(g.runs))
	for i, run := range g.runs {
		tc := g.problem.TestCases[i]
		results[i].ID = tc.ID
		results[i].Score = 0

		if !run.NormalExit {
			// The runner's verdict stands for this case anyway.
			results[i].State = pmodel.StateWA
			continue
		}

		got, err := os.ReadFile(filepath.Join(g.sb.Path(), run.Stdout))
		if err != nil {
			judgeError(&results[i])
			continue
		}
		want, err := os.ReadFile(tc.AnswerPath)
		if err != nil {
			judgeError(&results[i])
			continue
		}

		if outputsMatch(string(got), string(want)) {
			results[i].State = pmodel.StateAC
			results[i].Score = tc.Score
		} else {
			results[i].State = pmodel.StateWA
			results[i].Info = "wrong answer."
		}
	}
	return results
}

// outputsMatch compares two program outputs the lenient way: trailing
// whitespace on each line and trailing blank lines do not count.
func outputsMatch(got, want string) bool {
	gotLines := normalizeLines(got)
	wantLines := normalizeLines(want)
	if len(gotLines) != len(wantLines) {
		return false
	}
	for i := range gotLines {
		if gotLines[i] != wantLines[i] {
			return false
		}
	}
	return true
}

func normalizeLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
