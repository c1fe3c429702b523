// Package pmodel holds the plain records a judging run operates on.
package pmodel

// Language identifies a programming language for solutions and checkers.
// LanguageInternal selects the built-in diff checker instead of an external
// binary.
type Language int

const (
	LanguageCpp Language = iota
	LanguagePython
	LanguageJava
	LanguageGo
	LanguageJavaScript
	LanguageCSharp
	LanguageSQL
	LanguageInternal
)

func (l Language) String() string {
	switch l {
	case LanguageCpp:
		return "cpp"
	case LanguagePython:
		return "python"
	case LanguageJava:
		return "java"
	case LanguageGo:
		return "go"
	case LanguageJavaScript:
		return "javascript"
	case LanguageCSharp:
		return "csharp"
	case LanguageSQL:
		return "sql"
	case LanguageInternal:
		return "internal"
	}
	return "unknown"
}

// ParseLanguage maps a config string onto a Language tag.
func ParseLanguage(s string) (Language, bool) {
	for l := LanguageCpp; l <= LanguageInternal; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

// JudgeState is the verdict of one test case or of a whole submission.
type JudgeState int

const (
	StateAC  JudgeState = iota // accepted
	StateWA                    // wrong answer
	StateRE                    // runtime error
	StateCE                    // compile error
	StateTLE                   // time limit exceeded
	StateMLE                   // memory limit exceeded
	StateFPE                   // floating point exception
	StateMUL                   // multiple distinct non-AC states
	StateUKN                   // judge-side error
)

func (s JudgeState) String() string {
	switch s {
	case StateAC:
		return "AC"
	case StateWA:
		return "WA"
	case StateRE:
		return "RE"
	case StateCE:
		return "CE"
	case StateTLE:
		return "TLE"
	case StateMLE:
		return "MLE"
	case StateFPE:
		return "FPE"
	case StateMUL:
		return "MUL"
	case StateUKN:
		return "UKN"
	}
	return "UKN"
}
