package judger

import (
	"fuzojd/internal/judge/pmodel"
	appErr "fuzojd/pkg/errors"
)

// Factory selects runner and grader strategies from the solution language
// and the problem's checker language.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Judger wires a judging run for the given pair, or reports the combination
// as unsupported.
func (f *Factory) Judger(problem *pmodel.Problem, solution *pmodel.Solution) (*Judger, error) {
	var runner Runner
	switch solution.Language {
	case pmodel.LanguageCpp:
		runner = NewCppRunner(problem, solution, f.cfg.CompileCommand)
	default:
		return nil, appErr.Newf(appErr.LanguageNotSupported,
			"no runner for language %s", solution.Language)
	}

	var grader Grader
	switch problem.CheckerLanguage {
	case pmodel.LanguageCpp:
		grader = NewCppGrader(problem, solution)
	case pmodel.LanguageInternal:
		grader = NewInternalGrader(problem)
	default:
		return nil, appErr.Newf(appErr.LanguageNotSupported,
			"no grader for checker language %s", problem.CheckerLanguage)
	}

	return newJudger(runner, grader, problem, solution, f.cfg), nil
}
