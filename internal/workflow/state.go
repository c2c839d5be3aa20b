// Package workflow defines the WorkflowState data model shared by the
// state store (C8) and the engine (C9), grounded on the teacher's
// session.Session/RunMeta split in runtime/agent/session/session.go: a
// coarse top-level status plus an ordered collection of finer-grained
// units (there, runs; here, sections).
package workflow

import "time"

// Status is the coarse lifecycle state of a workflow thread.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusGenerating Status = "generating"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// SectionStatus is the lifecycle state of one document section.
type SectionStatus string

const (
	SectionPending    SectionStatus = "pending"
	SectionInProgress SectionStatus = "in_progress"
	SectionCompleted  SectionStatus = "completed"
	SectionError      SectionStatus = "error"
)

// Section is one ordered unit of the document being generated.
type Section struct {
	SectionID    string
	Order        int
	Name         string
	Status       SectionStatus
	ContentHTML  string
	TokensUsed   int
	ErrorMessage string
	UpdatedAt    time.Time
}

// Exhibit is one uploaded supporting document attached to a case.
type Exhibit struct {
	ExhibitID  string
	Filename   string
	MimeType   string
	Size       int64
	UploadedAt time.Time
	StorageKey string
}

// LogEntry is one append-only workflow log line, distinct from the audit
// trail: this is operator/debugging narrative, not a compliance record.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// State is the WorkflowState record from the data model: everything the
// engine needs to resume a thread from a checkpoint, plus everything a
// live-preview subscriber needs to render current progress.
type State struct {
	ThreadID         string
	Status           Status
	CaseID           string
	DocumentType     string
	UserID           string
	Sections         []Section
	Exhibits         []Exhibit
	Logs             []LogEntry
	StartedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	Metadata         map[string]any
	CurrentNode      string
	CheckpointCursor string
}

// Clone returns a deep-enough copy of s for copy-on-read store contracts:
// slices and the metadata map are copied so callers cannot mutate store
// internals through a returned State.
func (s State) Clone() State {
	out := s
	out.Sections = append([]Section(nil), s.Sections...)
	out.Exhibits = append([]Exhibit(nil), s.Exhibits...)
	out.Logs = append([]LogEntry(nil), s.Logs...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// SectionPatch mutates a subset of a Section's mutable fields; nil fields
// are left unchanged. Used by update_section so callers need not read the
// whole section to change one field.
type SectionPatch struct {
	Status       *SectionStatus
	ContentHTML  *string
	TokensUsed   *int
	ErrorMessage *string
}

// Apply returns sec with patch applied and UpdatedAt bumped to now.
func (p SectionPatch) Apply(sec Section, now time.Time) Section {
	if p.Status != nil {
		sec.Status = *p.Status
	}
	if p.ContentHTML != nil {
		sec.ContentHTML = *p.ContentHTML
	}
	if p.TokensUsed != nil {
		sec.TokensUsed = *p.TokensUsed
	}
	if p.ErrorMessage != nil {
		sec.ErrorMessage = *p.ErrorMessage
	}
	sec.UpdatedAt = now
	return sec
}

// Delta is the unit broadcast to C14 subscribers after every committed
// write: the new state plus a tag describing what kind of mutation
// produced it, so a UI can animate section updates differently from a
// terminal status change.
type Delta struct {
	ThreadID string
	Kind     string // "section_update", "exhibit_added", "log_added", "status_changed", "full"
	State    State
}
