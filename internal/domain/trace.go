package domain

import "encoding/json"

// TraceVersion is the current schema version stamped on new traces.
const TraceVersion = "1.0"

// Repo identifies the repository the bug-fix session ran against.
type Repo struct {
	RepoID        string `json:"repo_id"`
	RemoteURL     string `json:"remote_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
	CommitBase    string `json:"commit_base"`
}

// BugReport is the report the session set out to fix.
type BugReport struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ReproSteps  string   `json:"repro_steps,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Actual      string   `json:"actual,omitempty"`
	Links       []string `json:"links"`
}

// Task wraps the bug report with optional tracking metadata.
type Task struct {
	TaskID    string    `json:"task_id,omitempty"`
	BugReport BugReport `json:"bug_report"`
	Labels    []string  `json:"labels"`
}

// ConsentFlags records what the developer agreed to store and run.
type ConsentFlags struct {
	StoreRawCode        bool `json:"store_raw_code"`
	StoreTerminalOutput bool `json:"store_terminal_output"`
	AllowLLMJudge       bool `json:"allow_llm_judge"`
}

// Developer identifies the session's developer.
type Developer struct {
	DeveloperID     string          `json:"developer_id"`
	ExperienceLevel ExperienceLevel `json:"experience_level"`
	ConsentFlags    ConsentFlags    `json:"consent_flags"`
}

// IDE names the editor used during the session.
type IDE struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Environment captures the machine context of the session.
type Environment struct {
	OS            string   `json:"os,omitempty"`
	IDE           IDE      `json:"ide"`
	Language      []string `json:"language"`
	Containerized bool     `json:"containerized"`
	Timezone      string   `json:"timezone,omitempty"`
}

// PRFinalState describes the pull request produced by the session.
type PRFinalState struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	DiffBlobID  string `json:"diff_blob_id,omitempty"`
}

// FinalState is the code state the trace was finalized with.
// DocumentBlobID is filled by the materializer once the assembled
// document has been written.
type FinalState struct {
	CommitHead     string        `json:"commit_head,omitempty"`
	PR             *PRFinalState `json:"pr,omitempty"`
	DocumentBlobID string        `json:"document_blob_id,omitempty"`
}

// PolicyDecision is the consent policy outcome recorded at create time
// so QA stages do not re-evaluate it.
type PolicyDecision struct {
	JudgeAllowed   bool `json:"judge_allowed"`
	StoreRawOutput bool `json:"store_raw_output"`
}

// Trace is one bug-fix session's record.
type Trace struct {
	TraceVersion  string          `json:"trace_version"`
	TraceID       string          `json:"trace_id"`
	CreatedAtMs   int64           `json:"created_at_ms"`
	FinalizedAtMs *int64          `json:"finalized_at_ms,omitempty"`
	Status        TraceStatus     `json:"status"`
	Repo          Repo            `json:"repo"`
	Task          Task            `json:"task"`
	Developer     Developer       `json:"developer"`
	Environment   Environment     `json:"environment"`
	Policy        *PolicyDecision `json:"policy,omitempty"`
	Events        []Event         `json:"events,omitempty"`
	FinalState    *FinalState     `json:"final_state,omitempty"`
	QA            *QA             `json:"qa,omitempty"`

	// QAJobID identifies the QA chain triggered by finalize. It is
	// returned from finalize but never part of the assembled document.
	QAJobID string `json:"-"`
}

// TraceCreateRequest is the body of POST /v1/traces.
type TraceCreateRequest struct {
	Repo        Repo        `json:"repo"`
	Task        Task        `json:"task"`
	Developer   Developer   `json:"developer"`
	Environment Environment `json:"environment"`
}

// Validate checks the required metadata shape. Deep schema validation
// is the materializer's job; this only guards the fields every later
// stage depends on.
func (r *TraceCreateRequest) Validate() error {
	if r.Repo.RepoID == "" {
		return NewValidationError("repo.repo_id", "repo_id is required")
	}
	if r.Repo.CommitBase == "" {
		return NewValidationError("repo.commit_base", "commit_base is required")
	}
	if r.Task.BugReport.Title == "" {
		return NewValidationError("task.bug_report.title", "title is required")
	}
	if r.Task.BugReport.Description == "" {
		return NewValidationError("task.bug_report.description", "description is required")
	}
	if r.Developer.DeveloperID == "" {
		return NewValidationError("developer.developer_id", "developer_id is required")
	}
	if r.Environment.IDE.Name == "" {
		return NewValidationError("environment.ide.name", "ide.name is required")
	}
	switch r.Developer.ExperienceLevel {
	case ExperienceJunior, ExperienceMid, ExperienceSenior, ExperienceUnknown:
	case "":
		// defaulted by Normalize
	default:
		return NewValidationError("developer.experience_level", "unknown experience level")
	}
	return nil
}

// Normalize fills defaults the wire schema leaves optional.
func (r *TraceCreateRequest) Normalize() {
	if r.Developer.ExperienceLevel == "" {
		r.Developer.ExperienceLevel = ExperienceUnknown
	}
	if r.Task.BugReport.Links == nil {
		r.Task.BugReport.Links = []string{}
	}
	if r.Task.Labels == nil {
		r.Task.Labels = []string{}
	}
	if r.Environment.Language == nil {
		r.Environment.Language = []string{}
	}
}

// FinalizeRequest is the body of POST /v1/traces/:trace_id/finalize.
type FinalizeRequest struct {
	FinalState FinalState `json:"final_state"`
}

// TraceCreateResponse is the response to trace creation.
type TraceCreateResponse struct {
	TraceID     string      `json:"trace_id"`
	CreatedAtMs int64       `json:"created_at_ms"`
	Status      TraceStatus `json:"status"`
}

// EventsAcceptedResponse is the response to a successful batch append.
type EventsAcceptedResponse struct {
	Accepted int   `json:"accepted"`
	SeqHigh  int64 `json:"seq_high"`
}

// FinalizeResponse is the response to a successful finalize.
type FinalizeResponse struct {
	TraceID string      `json:"trace_id"`
	Status  TraceStatus `json:"status"`
	QAJobID string      `json:"qa_job_id"`
}

// BlobUploadResponse is the response to a blob upload.
type BlobUploadResponse struct {
	BlobID     string `json:"blob_id"`
	ByteLength int64  `json:"byte_length"`
	StorageURI string `json:"storage_uri"`
}

// RawJSON marshals v, panicking on failure. Only for values the domain
// package itself defines, which always marshal.
func RawJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
