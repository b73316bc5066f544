package domain

import (
	"fmt"
	"math"
)

// RubricVersion is stamped onto judge results.
const RubricVersion = "1.0"

// TestInvocation is one sandboxed test execution.
type TestInvocation struct {
	InvocationID string `json:"invocation_id"`
	TsMs         int64  `json:"ts_ms"`
	Command      string `json:"command"`
	ExitCode     int    `json:"exit_code"`
	DurationMs   int64  `json:"duration_ms"`
	Passed       bool   `json:"passed"`
	Error        string `json:"error,omitempty"`
	ReportBlobID string `json:"report_blob_id,omitempty"`
	StdoutBlobID string `json:"stdout_blob_id,omitempty"`
	StderrBlobID string `json:"stderr_blob_id,omitempty"`
}

// QATests is the tests sub-document of a QA result.
type QATests struct {
	Runner         string           `json:"runner"`
	ContainerImage string           `json:"container_image,omitempty"`
	Invocations    []TestInvocation `json:"invocations"`
	FinalPassed    bool             `json:"final_passed"`
}

// JudgeScores are the six rubric dimensions, each in [0.0, 5.0].
type JudgeScores struct {
	RootCauseIdentification float64 `json:"root_cause_identification"`
	PlanQuality             float64 `json:"plan_quality"`
	ExperimentIterateLoop   float64 `json:"experiment_iterate_loop"`
	UseOfSignalsTestsLogs   float64 `json:"use_of_signals_tests_logs"`
	MinimalityOfFix         float64 `json:"minimality_of_fix"`
	Clarity                 float64 `json:"clarity"`
}

func (s *JudgeScores) each() []float64 {
	return []float64{
		s.RootCauseIdentification,
		s.PlanQuality,
		s.ExperimentIterateLoop,
		s.UseOfSignalsTestsLogs,
		s.MinimalityOfFix,
		s.Clarity,
	}
}

// Validate checks every dimension is in range.
func (s *JudgeScores) Validate() error {
	names := []string{
		"root_cause_identification", "plan_quality", "experiment_iterate_loop",
		"use_of_signals_tests_logs", "minimality_of_fix", "clarity",
	}
	for i, v := range s.each() {
		if v < 0.0 || v > 5.0 {
			return NewValidationError("scores."+names[i], fmt.Sprintf("score %.2f outside [0.0, 5.0]", v))
		}
	}
	return nil
}

// JudgeResult is the judge sub-document persisted on the trace. The
// rationale lives in the blob store; only its reference is kept here.
type JudgeResult struct {
	Model           string      `json:"model"`
	RubricVersion   string      `json:"rubric_version"`
	Scores          JudgeScores `json:"scores"`
	Overall         float64     `json:"overall"`
	RationaleBlobID string      `json:"rationale_blob_id,omitempty"`
	Flags           []JudgeFlag `json:"flags"`
}

// JudgeOutput is the raw JSON shape the LLM judge must return.
type JudgeOutput struct {
	Scores    JudgeScores `json:"scores"`
	Overall   float64     `json:"overall"`
	Rationale string      `json:"rationale"`
	Flags     []JudgeFlag `json:"flags"`
}

// Validate enforces the strict output contract: scores and overall in
// range, non-empty rationale, flags drawn from the fixed vocabulary.
func (o *JudgeOutput) Validate() error {
	if err := o.Scores.Validate(); err != nil {
		return err
	}
	if o.Overall < 0.0 || o.Overall > 5.0 {
		return NewValidationError("overall", fmt.Sprintf("overall %.2f outside [0.0, 5.0]", o.Overall))
	}
	if o.Rationale == "" {
		return NewValidationError("rationale", "rationale must be non-empty")
	}
	for _, f := range o.Flags {
		if !IsValidJudgeFlag(f) {
			return NewValidationError("flags", fmt.Sprintf("unknown flag: %s", f))
		}
	}
	return nil
}

// RoundOverall rounds an overall score to one decimal place.
func RoundOverall(v float64) float64 {
	return math.Round(v*10) / 10
}

// QA is the quality-assessment block of a trace. Tests and Judge are
// nil until their stages have run; Error records an infrastructural
// stage failure.
type QA struct {
	SchemaValid bool         `json:"schema_valid"`
	Tests       *QATests     `json:"tests,omitempty"`
	Judge       *JudgeResult `json:"judge,omitempty"`
	Error       string       `json:"error,omitempty"`
}
