package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/ids"
	"github.com/lawercase/petition-orchestrator/internal/memory/embedder"
	"github.com/lawercase/petition-orchestrator/internal/memory/episodic"
	"github.com/lawercase/petition-orchestrator/internal/memory/semantic"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Event is the raw input to LogEvent/Reflect: a thing that happened, with
// enough structure for reflection to extract candidate facts.
type Event struct {
	UserID  string
	CaseID  string
	Text    string
	Tags    []string
	Facts   []string // candidate semantic facts extracted by the caller; empty means none
	Payload map[string]any
}

// ReflectToken is returned by Reflect; callers that need read-your-write
// visibility into the semantic store must await it before calling Retrieve.
type ReflectToken struct {
	done chan struct{}
}

// Wait blocks until the reflection that produced this token has committed
// its inserts to the semantic store.
func (t ReflectToken) Wait(ctx context.Context) error {
	if t.done == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager is the memory facade (C6): the only component permitted to write
// the episodic and semantic stores. Grounded on the teacher's layering
// discipline in runtime/agent/runtime (a manager/reader composes narrow
// store interfaces; stores never reference each other).
type Manager struct {
	episodic episodic.Store
	semantic semantic.Store
	embed    embedder.Embedder
	audit    audit.Store
	clock    clock.Clock
	log      telemetry.Logger

	mu sync.Mutex // serializes LogEvent calls across all users; Write and Reflect do not take it
}

// New builds a Manager over the given stores.
func New(ep episodic.Store, sem semantic.Store, emb embedder.Embedder, aud audit.Store, c clock.Clock, log telemetry.Logger) *Manager {
	return &Manager{episodic: ep, semantic: sem, embed: emb, audit: aud, clock: c, log: log}
}

// LogEvent appends an episodic record for evt and writes a matching audit
// entry.
func (m *Manager) LogEvent(ctx context.Context, evt Event) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{
		ID:        ids.Prefixed("mem"),
		UserID:    evt.UserID,
		CaseID:    evt.CaseID,
		Type:      Episodic,
		Text:      evt.Text,
		Tags:      evt.Tags,
		Metadata:  evt.Payload,
		CreatedAt: m.clock.Now(),
	}
	if err := m.episodic.Append(ctx, rec); err != nil {
		return Record{}, err
	}
	if _, err := m.audit.Append(ctx, evt.UserID, evt.CaseID, "memory", "log_event", map[string]string{"record_id": rec.ID}); err != nil {
		m.log.Warn(ctx, "memory manager: audit append failed after log_event", "error", err)
	}
	return rec, nil
}

// Reflect extracts candidate facts from evt.Facts, embeds them, and inserts
// them into the semantic store. Per policy, empty facts are skipped and
// exact-text duplicates within this call are deduplicated; no
// cross-call deduplication is performed (the index handles near-duplicates
// at query time).
func (m *Manager) Reflect(ctx context.Context, evt Event) ([]Record, ReflectToken, error) {
	seen := make(map[string]struct{}, len(evt.Facts))
	var facts []string
	for _, f := range evt.Facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		facts = append(facts, f)
	}
	if len(facts) == 0 {
		tok := ReflectToken{done: make(chan struct{})}
		close(tok.done)
		return nil, tok, nil
	}

	vectors, err := m.embed.Embed(ctx, facts)
	if err != nil {
		return nil, ReflectToken{}, err
	}

	now := m.clock.Now()
	records := make([]Record, len(facts))
	for i, f := range facts {
		records[i] = Record{
			ID:        ids.Prefixed("mem"),
			UserID:    evt.UserID,
			CaseID:    evt.CaseID,
			Type:      Semantic,
			Text:      f,
			Tags:      evt.Tags,
			Embedding: vectors[i],
			ModelID:   embedderModelID(m.embed),
			CreatedAt: now,
		}
	}

	if err := m.semantic.Insert(ctx, records); err != nil {
		return nil, ReflectToken{}, err
	}

	tok := ReflectToken{done: make(chan struct{})}
	close(tok.done)
	return records, tok, nil
}

// Retrieve embeds query and searches the semantic store under filter,
// scoped to the caller's visibility (callers must populate filter.UserID
// themselves; the manager does not infer authorization).
func (m *Manager) Retrieve(ctx context.Context, query string, filter Filter, topK int) ([]Scored, error) {
	vectors, err := m.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return m.semantic.Search(ctx, vectors[0], topK, filter)
}

// Write inserts an explicit fact directly into the semantic store, bypassing
// reflection. Used for structured data the caller already knows is a fact
// (e.g. an intake answer).
func (m *Manager) Write(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = ids.Prefixed("mem")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.clock.Now()
	}
	if rec.Type == Semantic && rec.Embedding == nil {
		vectors, err := m.embed.Embed(ctx, []string{rec.Text})
		if err != nil {
			return err
		}
		rec.Embedding = vectors[0]
		rec.ModelID = embedderModelID(m.embed)
	}

	switch rec.Type {
	case Episodic:
		return m.episodic.Append(ctx, rec)
	case Semantic:
		return m.semantic.Insert(ctx, []Record{rec})
	default:
		return apperr.New(apperr.InvalidState, "memory manager: record type must be episodic or semantic")
	}
}

// Remember is a convenience wrapper over Write for a bare semantic fact.
func (m *Manager) Remember(ctx context.Context, userID, caseID, text string, tags ...string) error {
	return m.Write(ctx, Record{UserID: userID, CaseID: caseID, Type: Semantic, Text: text, Tags: tags})
}

// AuditLog is a bounded wrapper over the audit trail for manager-internal
// and caller-initiated events that do not correspond to a memory write.
func (m *Manager) AuditLog(ctx context.Context, userID, threadID, action string, payload any) error {
	_, err := m.audit.Append(ctx, userID, threadID, "memory", action, payload)
	return err
}

func embedderModelID(e embedder.Embedder) string {
	type named interface{ Name() string }
	if n, ok := e.(named); ok {
		return n.Name()
	}
	return "unknown"
}
