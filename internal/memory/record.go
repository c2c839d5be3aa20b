// Package memory defines the shared MemoryRecord type and the store
// contracts (episodic, semantic, working) that the memory manager (C6)
// composes, grounded on the teacher's agent memory Store/Snapshot/Event
// shape (runtime/agent/memory) generalized from per-run event logs to
// per-user/per-case fact records with optional embeddings.
package memory

import "time"

// Type distinguishes episodic entries (raw event log) from semantic facts
// (extracted, embedded, and indexed for similarity search).
type Type string

const (
	Episodic Type = "episodic"
	Semantic Type = "semantic"
)

// Record is the single record shape persisted by both the episodic and the
// semantic store. Episodic records must not carry an Embedding; semantic
// records must.
type Record struct {
	ID        string
	UserID    string
	CaseID    string // optional; empty when not associated with a case
	Type      Type
	Text      string
	Tags      []string
	Metadata  map[string]any
	Embedding []float32 // nil for episodic records
	ModelID   string    // embedding model that produced Embedding, empty if none
	CreatedAt time.Time
}

// Scored pairs a Record with a similarity score returned by a vector search.
type Scored struct {
	Record Record
	Score  float64
}

// Filter restricts a semantic search or episodic query to a caller's
// visibility scope. Tags, when non-empty, matches records carrying at least
// one of the listed tags (OR), combined with the other fields via AND.
type Filter struct {
	UserID string
	CaseID string // empty matches any case
	Tags   []string
}
