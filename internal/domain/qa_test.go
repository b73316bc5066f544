package domain

import "testing"

func validOutput() JudgeOutput {
	return JudgeOutput{
		Scores: JudgeScores{
			RootCauseIdentification: 4.0,
			PlanQuality:             3.5,
			ExperimentIterateLoop:   3.0,
			UseOfSignalsTestsLogs:   4.5,
			MinimalityOfFix:         5.0,
			Clarity:                 3.0,
		},
		Overall:   3.8,
		Rationale: "Systematic debugging with good use of test signals.",
		Flags:     []JudgeFlag{FlagExemplaryTrace},
	}
}

func TestJudgeOutputValid(t *testing.T) {
	o := validOutput()
	if err := o.Validate(); err != nil {
		t.Fatalf("valid output rejected: %v", err)
	}
}

func TestJudgeOutputRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*JudgeOutput)
	}{
		{"score above range", func(o *JudgeOutput) { o.Scores.Clarity = 5.1 }},
		{"score below range", func(o *JudgeOutput) { o.Scores.PlanQuality = -0.1 }},
		{"overall above range", func(o *JudgeOutput) { o.Overall = 6.0 }},
		{"empty rationale", func(o *JudgeOutput) { o.Rationale = "" }},
		{"unknown flag", func(o *JudgeOutput) { o.Flags = []JudgeFlag{"suspiciously_good"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := validOutput()
			tc.mutate(&o)
			if err := o.Validate(); !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRoundOverall(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{3.333333, 3.3},
		{3.35, 3.4},
		{0, 0},
		{5, 5},
	}
	for _, tc := range cases {
		if got := RoundOverall(tc.in); got != tc.want {
			t.Errorf("RoundOverall(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTraceStatusIsTerminal(t *testing.T) {
	if TraceStatusCollecting.IsTerminal() || TraceStatusFinalizing.IsTerminal() {
		t.Fatal("active statuses reported terminal")
	}
	if !TraceStatusComplete.IsTerminal() || !TraceStatusFailed.IsTerminal() {
		t.Fatal("terminal statuses not reported terminal")
	}
}
