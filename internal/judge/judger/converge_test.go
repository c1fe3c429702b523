package judger

import (
	"testing"

	"fuzojd/internal/judge/pmodel"
)

func tcr(state pmodel.JudgeState, score int, info string) pmodel.TestCaseResult {
	return pmodel.TestCaseResult{State: state, Score: score, Info: info}
}

func TestConvergeAllAccepted(t *testing.T) {
	runner := []pmodel.TestCaseResult{tcr(pmodel.StateAC, 0, ""), tcr(pmodel.StateAC, 0, "")}
	grader := []pmodel.TestCaseResult{tcr(pmodel.StateAC, 33, "OK"), tcr(pmodel.StateAC, 33, "OK")}

	result := converge(runner, grader)
	if result.State != pmodel.StateAC {
		t.Fatalf("state = %v, want AC", result.State)
	}
	if result.Score != 66 {
		t.Fatalf("score = %d, want 66", result.Score)
	}
	for i, tc := range result.TestCases {
		if tc.State != pmodel.StateAC || tc.Score != 33 || tc.Info != "OK" {
			t.Fatalf("case %d = %+v, want grader values", i, tc)
		}
	}
}

func TestConvergeGraderOverridesOnlyAcceptedCases(t *testing.T) {
	runner := []pmodel.TestCaseResult{
		tcr(pmodel.StateAC, 0, ""),
		tcr(pmodel.StateTLE, 0, ""),
	}
	grader := []pmodel.TestCaseResult{
		tcr(pmodel.StateWA, 10, "partial"),
		tcr(pmodel.StateAC, 33, "never read"),
	}

	result := converge(runner, grader)
	if result.TestCases[0].State != pmodel.StateWA || result.TestCases[0].Score != 10 {
		t.Fatalf("case 0 = %+v, want grader WA/10", result.TestCases[0])
	}
	if result.TestCases[1].State != pmodel.StateTLE || result.TestCases[1].Score != 0 {
		t.Fatalf("case 1 = %+v, want runner TLE untouched", result.TestCases[1])
	}
	if result.Score != 10 {
		t.Fatalf("score = %d, want 10", result.Score)
	}
}

func TestConvergeSingleFailureState(t *testing.T) {
	runner := []pmodel.TestCaseResult{
		tcr(pmodel.StateTLE, 0, ""),
		tcr(pmodel.StateTLE, 0, ""),
		tcr(pmodel.StateAC, 0, ""),
	}
	grader := []pmodel.TestCaseResult{
		tcr(pmodel.StateAC, 33, ""),
		tcr(pmodel.StateAC, 33, ""),
		tcr(pmodel.StateAC, 34, ""),
	}

	result := converge(runner, grader)
	if result.State != pmodel.StateTLE {
		t.Fatalf("state = %v, want TLE", result.State)
	}
	if result.Score != 34 {
		t.Fatalf("score = %d, want 34", result.Score)
	}
}

func TestConvergeMultipleDistinctFailures(t *testing.T) {
	runner := []pmodel.TestCaseResult{
		tcr(pmodel.StateTLE, 0, ""),
		tcr(pmodel.StateRE, 0, ""),
	}
	grader := make([]pmodel.TestCaseResult, 2)

	result := converge(runner, grader)
	if result.State != pmodel.StateMUL {
		t.Fatalf("state = %v, want MUL", result.State)
	}
}

func TestConvergeCompileErrorShortCircuits(t *testing.T) {
	runner := []pmodel.TestCaseResult{
		tcr(pmodel.StateCE, 0, "main.cc:1: error"),
		tcr(pmodel.StateCE, 0, ""),
	}
	grader := make([]pmodel.TestCaseResult, 2)

	result := converge(runner, grader)
	if result.State != pmodel.StateCE {
		t.Fatalf("state = %v, want CE", result.State)
	}
	if result.Info != "main.cc:1: error" {
		t.Fatalf("info = %q, want compiler diagnostic", result.Info)
	}
	if result.Score != 0 {
		t.Fatalf("score = %d, want 0", result.Score)
	}
}

func TestConvergeWrongAnswerKeepsCheckerScore(t *testing.T) {
	runner := []pmodel.TestCaseResult{tcr(pmodel.StateAC, 0, "")}
	grader := []pmodel.TestCaseResult{tcr(pmodel.StateWA, 7, "line 3 differs")}

	result := converge(runner, grader)
	if result.State != pmodel.StateWA {
		t.Fatalf("state = %v, want WA", result.State)
	}
	if result.TestCases[0].Score != 7 || result.Score != 7 {
		t.Fatalf("score = %d (case %d), want checker score 7", result.Score, result.TestCases[0].Score)
	}
	if result.TestCases[0].Info != "line 3 differs" {
		t.Fatalf("info = %q", result.TestCases[0].Info)
	}
}
