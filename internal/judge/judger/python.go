package judger

import (
	"fuzojd/internal/judge/pmodel"
	"fuzojd/internal/judge/sandbox"
	appErr "fuzojd/pkg/errors"
)

// PythonRunner is a placeholder; interpreted execution needs NodeInterpret
// plumbing through the runtime image before it can be wired up.
type PythonRunner struct {
	problem  *pmodel.Problem
	solution *pmodel.Solution
}

func NewPythonRunner(problem *pmodel.Problem, solution *pmodel.Solution) *PythonRunner {
	return &PythonRunner{problem: problem, solution: solution}
}

func (r *PythonRunner) Language() pmodel.Language { return pmodel.LanguagePython }

func (r *PythonRunner) SetRunner(sb *sandbox.Sandbox, runs *[]*sandbox.ProgramNode) error {
	return appErr.New(appErr.LanguageNotSupported).WithMessage("python runner is not implemented")
}

func (r *PythonRunner) GetResult() []pmodel.TestCaseResult {
	return nil
}
