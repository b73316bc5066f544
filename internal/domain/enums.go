// Package domain defines the core domain models for the trace service.
package domain

// TraceStatus represents the lifecycle status of a trace.
type TraceStatus string

const (
	TraceStatusCollecting TraceStatus = "collecting"
	TraceStatusFinalizing TraceStatus = "finalizing"
	TraceStatusComplete   TraceStatus = "complete"
	TraceStatusFailed     TraceStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TraceStatus) IsTerminal() bool {
	return s == TraceStatusComplete || s == TraceStatusFailed
}

// EventType represents the type of a timeline event. The set is closed:
// payload validation rejects types outside it.
type EventType string

const (
	EventTypeFileEdit        EventType = "file_edit"
	EventTypeFileSnapshot    EventType = "file_snapshot"
	EventTypeTerminalCommand EventType = "terminal_command"
	EventTypeTerminalOutput  EventType = "terminal_output"
	EventTypeTestRun         EventType = "test_run"
	EventTypeThought         EventType = "thought"
	EventTypeCommit          EventType = "commit"
	EventTypePRMetadata      EventType = "pr_metadata"
	EventTypeError           EventType = "error"
	EventTypeDebugAction     EventType = "debug_action"
	EventTypeNavigation      EventType = "navigation"
)

// ActorKind identifies who or what produced an event.
type ActorKind string

const (
	ActorKindHuman ActorKind = "human"
	ActorKindTool  ActorKind = "tool"
	ActorKindIDE   ActorKind = "ide"
)

// ExperienceLevel describes the developer's seniority.
type ExperienceLevel string

const (
	ExperienceJunior  ExperienceLevel = "junior"
	ExperienceMid     ExperienceLevel = "mid"
	ExperienceSenior  ExperienceLevel = "senior"
	ExperienceUnknown ExperienceLevel = "unknown"
)

// EditKind describes how a file edit was expressed.
type EditKind string

const (
	EditKindPatch          EditKind = "patch"
	EditKindReplaceRange   EditKind = "replace_range"
	EditKindKeystrokeBatch EditKind = "keystroke_batch"
)

// SnapshotReason describes why a file snapshot was taken.
type SnapshotReason string

const (
	SnapshotPreTest          SnapshotReason = "pre_test"
	SnapshotPostTest         SnapshotReason = "post_test"
	SnapshotManualCheckpoint SnapshotReason = "manual_checkpoint"
)

// Stream identifies a captured output stream.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ThoughtKind classifies a recorded reasoning note.
type ThoughtKind string

const (
	ThoughtHypothesis     ThoughtKind = "hypothesis"
	ThoughtPlan           ThoughtKind = "plan"
	ThoughtInterpretation ThoughtKind = "interpretation"
	ThoughtDecision       ThoughtKind = "decision"
	ThoughtPostmortem     ThoughtKind = "postmortem"
)

// JudgeFlag is a member of the fixed judge flag vocabulary.
type JudgeFlag string

const (
	FlagHallucinationRisk JudgeFlag = "hallucination_risk"
	FlagMissingSteps      JudgeFlag = "missing_steps"
	FlagUnsafeSuggestion  JudgeFlag = "unsafe_suggestion"
	FlagIncompleteFix     JudgeFlag = "incomplete_fix"
	FlagExemplaryTrace    JudgeFlag = "exemplary_trace"
)

var validJudgeFlags = map[JudgeFlag]bool{
	FlagHallucinationRisk: true,
	FlagMissingSteps:      true,
	FlagUnsafeSuggestion:  true,
	FlagIncompleteFix:     true,
	FlagExemplaryTrace:    true,
}

// IsValidJudgeFlag reports whether f belongs to the fixed vocabulary.
func IsValidJudgeFlag(f JudgeFlag) bool {
	return validJudgeFlags[f]
}

// RedactionRule names a redaction pass applied to blob content.
type RedactionRule string

const (
	RedactSecretScan    RedactionRule = "secret_scan"
	RedactPIIMask       RedactionRule = "pii_mask"
	RedactTruncateLarge RedactionRule = "truncate_large"
)
