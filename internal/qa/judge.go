package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/tracekit/tracekit/internal/adapter/llm"
	"github.com/tracekit/tracekit/internal/domain"
)

const (
	maxPacketBytes     = 64 << 10
	maxJudgeTokens     = 2000
	maxInvocationLines = 5
	blobPreviewChars   = 500
	outputPreviewChars = 200
)

const rubricText = `# LLM Judge Rubric

## Scoring Dimensions

Each dimension is scored **0.0-5.0** (float, one decimal place).

### 1. Root-Cause Identification (root_cause_identification)
- **5**: Developer correctly identifies the exact root cause with evidence (logs, stack traces, code references).
- **4**: Root cause is correct; evidence is present but incomplete.
- **3**: Root cause is approximately correct; some confusion or misdirection.
- **2**: Partially correct; significant time spent on wrong hypotheses.
- **1**: Root cause not clearly identified; fix may be coincidental.
- **0**: No evidence of root-cause analysis.

### 2. Plan Quality (plan_quality)
- **5**: Clear hypothesis-driven plan; systematic test-iterate loop; well-structured approach.
- **4**: Good plan with minor gaps in systematicity.
- **3**: Reasonable approach but reactive rather than planned.
- **2**: Ad-hoc debugging; no clear plan evident.
- **1**: Chaotic process; random changes.
- **0**: No discernible plan or methodology.

### 3. Experiment & Iterate Loop (experiment_iterate_loop)
- **5**: Each change is tested; results inform next step; clear feedback loop.
- **4**: Good iteration with occasional untested changes.
- **3**: Some iteration; gaps in testing intermediate states.
- **2**: Minimal iteration; large jumps between states.
- **1**: No meaningful iteration; single attempt.
- **0**: No experimentation visible.

### 4. Use of Signals - Tests & Logs (use_of_signals_tests_logs)
- **5**: Tests, logs, stack traces, and error messages are consistently used to guide decisions.
- **4**: Signals are mostly used; occasional missed signals.
- **3**: Some signal usage; important signals sometimes ignored.
- **2**: Minimal use of available signals.
- **1**: Signals largely ignored.
- **0**: No signal usage evident.

### 5. Minimality of Fix (minimality_of_fix)
- **5**: Fix is precisely targeted; no unrelated changes; minimal diff.
- **4**: Fix is targeted with minor unnecessary changes.
- **3**: Fix includes some unrelated cleanup or refactoring.
- **2**: Significant unrelated changes mixed with the fix.
- **1**: Overly broad changes; hard to isolate the actual fix.
- **0**: Changes are mostly unrelated to the bug.

### 6. Clarity (clarity)
- **5**: Reasoning is clear, well-documented, and directly grounded in code/evidence.
- **4**: Mostly clear; minor gaps in explanation.
- **3**: Understandable but could be clearer; some leaps in logic.
- **2**: Reasoning is hard to follow; significant gaps.
- **1**: Very unclear reasoning.
- **0**: No reasoning provided.

## Overall Score

overall = weighted average of all 6 dimensions (equal weight).
Rounded to one decimal place.

## Flags

Set zero or more flags from this fixed set when clearly warranted:
- hallucination_risk - Judge suspects developer reasoning contains fabricated information.
- missing_steps - Significant debugging steps appear to be missing from the trace.
- unsafe_suggestion - Fix introduces potential security or reliability concerns.
- incomplete_fix - Fix may not fully resolve the reported bug.
- exemplary_trace - Trace is exceptionally high quality and suitable as a training example.

## Required JSON Output Shape

Return EXACTLY this JSON structure with no additional keys:

{
  "scores": {
    "root_cause_identification": 0.0,
    "plan_quality": 0.0,
    "experiment_iterate_loop": 0.0,
    "use_of_signals_tests_logs": 0.0,
    "minimality_of_fix": 0.0,
    "clarity": 0.0
  },
  "overall": 0.0,
  "rationale": "Free-text explanation of scores (1-3 paragraphs).",
  "flags": []
}

All scores must be floats in range [0.0, 5.0]. The overall field should be the average of the 6 scores, rounded to one decimal place. The flags array may be empty or contain values from the fixed set above.`

const judgeSystemPrompt = `You are an expert code reviewer evaluating a developer's bug-fix trace.

Your task is to evaluate the trace using the rubric below and return a strictly valid JSON response.

` + rubricText + `

IMPORTANT:
- Return ONLY valid JSON matching the exact output shape above.
- Do not include any text before or after the JSON.
- All score values must be floats between 0.0 and 5.0.
- The overall score should be the average of all 6 dimension scores, rounded to 1 decimal place.
- Only set flags when clearly warranted based on the evidence.`

// runJudge produces the judge sub-document. It never fails the chain:
// denied consent, an unreachable model and malformed output all land on
// the documented fallback result.
func (w *Worker) runJudge(ctx context.Context, trace *domain.Trace, tests *domain.QATests) *domain.JudgeResult {
	if trace.Policy != nil && !trace.Policy.JudgeAllowed {
		return w.fallbackResult(ctx, trace, "judging not permitted by consent policy")
	}

	events, err := w.svc.Store().GetEvents(ctx, trace.TraceID)
	if err != nil {
		return w.fallbackResult(ctx, trace, "load events: "+err.Error())
	}

	packet := w.buildPacket(trace, events, tests)

	callCtx, cancel := context.WithTimeout(ctx, w.config.JudgeTimeout)
	defer cancel()

	temperature := 0.0
	maxTokens := maxJudgeTokens
	resp, err := w.judge.CreateChatCompletion(callCtx, &llm.ChatCompletionRequest{
		Model: w.config.JudgeModel,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: "Please evaluate the following bug-fix trace:\n\n" + packet},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return w.fallbackResult(ctx, trace, "judge call failed: "+err.Error())
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return w.fallbackResult(ctx, trace, "judge returned no choices")
	}

	output, err := parseJudgeOutput(resp.Choices[0].Message.Content)
	if err != nil {
		return w.fallbackResult(ctx, trace, "judge output rejected: "+err.Error())
	}

	rationaleID := w.storeRationale(ctx, output.Rationale)
	return &domain.JudgeResult{
		Model:           w.config.JudgeModel,
		RubricVersion:   domain.RubricVersion,
		Scores:          output.Scores,
		Overall:         domain.RoundOverall(output.Overall),
		RationaleBlobID: rationaleID,
		Flags:           output.Flags,
	}
}

// fallbackResult is the low-confidence judge result: zeroed scores and
// a hallucination_risk flag, with the reason preserved as rationale.
func (w *Worker) fallbackResult(ctx context.Context, trace *domain.Trace, reason string) *domain.JudgeResult {
	log.Printf("WARN: judge fallback for trace %s: %s", trace.TraceID, reason)
	rationaleID := w.storeRationale(ctx, "Automated fallback result: "+reason)
	return &domain.JudgeResult{
		Model:           w.config.JudgeModel,
		RubricVersion:   domain.RubricVersion,
		Scores:          domain.JudgeScores{},
		Overall:         0,
		RationaleBlobID: rationaleID,
		Flags:           []domain.JudgeFlag{domain.FlagHallucinationRisk},
	}
}

func (w *Worker) storeRationale(ctx context.Context, rationale string) string {
	if rationale == "" {
		return ""
	}
	resp, err := w.svc.UploadBlob(ctx, []byte(rationale), "text/plain")
	if err != nil {
		log.Printf("WARN: store judge rationale: %v", err)
		return ""
	}
	return resp.BlobID
}

// parseJudgeOutput parses the model response into the strict output
// shape, tolerating a markdown code fence around the JSON.
func parseJudgeOutput(text string) (*domain.JudgeOutput, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		lines := strings.Split(s, "\n")
		start := 1
		end := len(lines)
		for i := len(lines) - 1; i >= start; i-- {
			if strings.HasPrefix(lines[i], "```") {
				end = i
				break
			}
		}
		s = strings.Join(lines[start:end], "\n")
	}

	var output domain.JudgeOutput
	dec := json.NewDecoder(strings.NewReader(s))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&output); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := output.Validate(); err != nil {
		return nil, err
	}
	return &output, nil
}

// buildPacket renders the evidence the judge sees: bug report, ordered
// event summaries, final state and test results, capped to a byte
// budget.
func (w *Worker) buildPacket(trace *domain.Trace, events []domain.Event, tests *domain.QATests) string {
	var b strings.Builder

	bug := trace.Task.BugReport
	b.WriteString("## Bug Report\n")
	fmt.Fprintf(&b, "**Title:** %s\n", bug.Title)
	fmt.Fprintf(&b, "**Description:** %s\n", bug.Description)
	if bug.ReproSteps != "" {
		fmt.Fprintf(&b, "**Repro Steps:** %s\n", bug.ReproSteps)
	}
	if bug.Expected != "" {
		fmt.Fprintf(&b, "**Expected:** %s\n", bug.Expected)
	}
	if bug.Actual != "" {
		fmt.Fprintf(&b, "**Actual:** %s\n", bug.Actual)
	}
	b.WriteString("\n## Developer Actions (ordered by sequence)\n")
	for i := range events {
		if summary := w.summarizeEvent(&events[i]); summary != "" {
			b.WriteString(summary)
			b.WriteByte('\n')
		}
		if b.Len() > maxPacketBytes {
			b.WriteString("[event log truncated]\n")
			break
		}
	}

	b.WriteString("\n## Final State\n")
	if fs := trace.FinalState; fs != nil {
		if fs.CommitHead != "" {
			fmt.Fprintf(&b, "**Final commit:** %s\n", fs.CommitHead)
		}
		if fs.PR != nil {
			if fs.PR.Title != "" {
				fmt.Fprintf(&b, "**PR Title:** %s\n", fs.PR.Title)
			}
			if fs.PR.Description != "" {
				fmt.Fprintf(&b, "**PR Description:** %s\n", fs.PR.Description)
			}
			if fs.PR.DiffBlobID != "" {
				fmt.Fprintf(&b, "**Diff blob:** %s\n", fs.PR.DiffBlobID)
			}
		}
	} else {
		b.WriteString("No final state recorded.\n")
	}

	b.WriteString("\n## Test Results\n")
	if tests != nil {
		fmt.Fprintf(&b, "**Runner:** %s\n", tests.Runner)
		fmt.Fprintf(&b, "**Final passed:** %t\n", tests.FinalPassed)
		for i, inv := range tests.Invocations {
			if i >= maxInvocationLines {
				break
			}
			fmt.Fprintf(&b, "- Invocation %d: command=`%s`, exit_code=%d, passed=%t, duration_ms=%d\n",
				i+1, inv.Command, inv.ExitCode, inv.Passed, inv.DurationMs)
		}
	} else {
		b.WriteString("No test results recorded.\n")
	}

	packet := b.String()
	if len(packet) > maxPacketBytes {
		packet = packet[:maxPacketBytes] + "\n[packet truncated]"
	}
	return packet
}

// summarizeEvent renders one timeline line for the judge. Event types
// that carry no judging signal are skipped.
func (w *Worker) summarizeEvent(e *domain.Event) string {
	prefix := fmt.Sprintf("[seq=%d, ts=%d] ", e.Seq, e.TsMs)

	switch e.Type {
	case domain.EventTypeFileEdit:
		var p domain.FileEditPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		return fmt.Sprintf("%s**file_edit**: `%s` (%s)", prefix, p.FilePath, p.EditKind)
	case domain.EventTypeThought:
		var p domain.ThoughtPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		if preview := w.blobPreview(p.ContentBlobID, blobPreviewChars); preview != "" {
			return fmt.Sprintf("%s**thought** (%s): %s", prefix, p.Kind, preview)
		}
		return fmt.Sprintf("%s**thought** (%s): [blob: %s]", prefix, p.Kind, p.ContentBlobID)
	case domain.EventTypeTestRun:
		var p domain.TestRunPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		return fmt.Sprintf("%s**test_run**: `%s` (exit_code=%d, passed=%t, duration=%dms)",
			prefix, p.Command, p.ExitCode, p.Passed, p.DurationMs)
	case domain.EventTypeTerminalCommand:
		var p domain.TerminalCommandPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		return fmt.Sprintf("%s**terminal_command**: `%s` (cwd: %s)", prefix, p.Command, p.Cwd)
	case domain.EventTypeTerminalOutput:
		var p domain.TerminalOutputPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		if preview := w.blobPreview(p.ChunkBlobID, outputPreviewChars); preview != "" {
			return fmt.Sprintf("%s**terminal_output** (%s): %s", prefix, p.Stream, preview)
		}
		return fmt.Sprintf("%s**terminal_output** (%s): [truncated=%t]", prefix, p.Stream, p.IsTruncated)
	case domain.EventTypeCommit:
		var p domain.CommitPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		sha := p.CommitSHA
		if len(sha) > 12 {
			sha = sha[:12]
		}
		msg := p.Message
		if len(msg) > 100 {
			msg = msg[:100]
		}
		return fmt.Sprintf("%s**commit**: %s - %s", prefix, sha, msg)
	case domain.EventTypeError:
		var p domain.ErrorPayload
		if json.Unmarshal(e.Payload, &p) != nil {
			return ""
		}
		msg := p.Message
		if len(msg) > 100 {
			msg = msg[:100]
		}
		return fmt.Sprintf("%s**error**: %s: %s", prefix, p.ErrorType, msg)
	}
	return ""
}

// blobPreview fetches the first maxChars of a text blob, or "" when the
// blob is missing or not valid text.
func (w *Worker) blobPreview(blobID string, maxChars int) string {
	if blobID == "" {
		return ""
	}
	data, err := w.svc.Blobs().Get(blobID)
	if err != nil || !utf8.Valid(data) {
		return ""
	}
	text := string(data)
	if len(text) > maxChars {
		return text[:maxChars] + "..."
	}
	return text
}
