// Package intake implements the multi-block questionnaire state machine
// (C12): start/answer/skip/status/cancel/resume over an ordered
// block/step questionnaire per case category, guarded on every operation
// by an ensure_case_exists check that either repairs an orphaned
// IntakeProgress row or fails explicitly. Grounded on the teacher's
// session.Session/RunMeta status-machine shape (runtime/agent/session),
// adapted from a run's linear status progression to a two-dimensional
// block/step cursor.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/casestore"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/telemetry"
)

// Status is the lifecycle state of one IntakeProgress row.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Progress is the IntakeProgress record from the data model, keyed by
// (user_id, case_id).
type Progress struct {
	UserID          string
	CaseID          string
	Category        string
	Status          Status
	CurrentBlock    string
	CurrentStep     int
	CompletedBlocks []string
	Responses       map[string]string
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// StatusResult answers the status() operation.
type StatusResult struct {
	Progress        Progress
	CurrentBlock    string
	CurrentStep     Step
	PercentComplete float64
	Done            bool
}

// Store is the IntakeProgress contract.
type Store interface {
	Get(ctx context.Context, userID, caseID string) (Progress, bool, error)
	Save(ctx context.Context, p Progress) error
}

// InMemory is a process-local Store, keyed by (user_id, case_id).
type InMemory struct {
	mu   sync.RWMutex
	rows map[string]Progress
}

// NewInMemory returns an empty in-memory intake progress store.
func NewInMemory() *InMemory {
	return &InMemory{rows: make(map[string]Progress)}
}

func rowKey(userID, caseID string) string { return userID + "\x00" + caseID }

func (s *InMemory) Get(_ context.Context, userID, caseID string) (Progress, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.rows[rowKey(userID, caseID)]
	return p, ok, nil
}

func (s *InMemory) Save(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rowKey(p.UserID, p.CaseID)] = p
	return nil
}

// Machine drives the intake state machine over a Store, a casestore.Store
// for the Orphan-Free guard, and the memory manager for C6 answer writes.
type Machine struct {
	store Store
	cases casestore.Store
	mem   *memory.Manager
	audit audit.Store
	clock clock.Clock
	log   telemetry.Logger
}

// New builds a Machine.
func New(store Store, cases casestore.Store, mem *memory.Manager, aud audit.Store, c clock.Clock, log telemetry.Logger) *Machine {
	if log == nil {
		log = telemetry.NoopLogger{}
	}
	return &Machine{store: store, cases: cases, mem: mem, audit: aud, clock: c, log: log}
}

// Start begins (or resumes, if already active) the questionnaire for
// category at (userID, caseID). Precondition: a Case row exists (or can
// be recovered from a prior IntakeProgress row).
func (m *Machine) Start(ctx context.Context, userID, caseID, category string) (StatusResult, error) {
	if category == "" {
		category = DefaultCategory
	}
	if err := m.ensureCaseExists(ctx, userID, caseID, category); err != nil {
		return StatusResult{}, err
	}

	existing, ok, err := m.store.Get(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}
	if ok && existing.Status == StatusActive {
		return m.statusResult(existing), nil
	}

	q, ok := Catalog[category]
	if !ok || len(q) == 0 {
		return StatusResult{}, apperr.New(apperr.InvalidState, fmt.Sprintf("intake: unknown category %q", category))
	}

	now := m.clock.Now()
	p := Progress{
		UserID:       userID,
		CaseID:       caseID,
		Category:     category,
		Status:       StatusActive,
		CurrentBlock: q[0].ID,
		CurrentStep:  0,
		Responses:    make(map[string]string),
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Save(ctx, p); err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

// Answer records text for the current step and advances the cursor. If
// the current step is required and text is empty, the step does not
// advance.
func (m *Machine) Answer(ctx context.Context, userID, caseID, text string) (StatusResult, error) {
	p, err := m.loadActive(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}

	block, step, done := m.locate(p)
	if done {
		return m.statusResult(p), apperr.New(apperr.InvalidState, "intake: questionnaire is already complete")
	}

	if step.Required && strings.TrimSpace(text) == "" {
		return m.statusResult(p), nil
	}

	p.Responses[step.ID] = text
	if err := m.recordAnswer(ctx, p, block, step, text); err != nil {
		return StatusResult{}, err
	}

	p = m.advance(p)
	p.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, p); err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

// Skip advances past the current step without recording an answer. Fails
// with apperr.InvalidState if the current step is required.
func (m *Machine) Skip(ctx context.Context, userID, caseID string) (StatusResult, error) {
	p, err := m.loadActive(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}
	_, step, done := m.locate(p)
	if done {
		return m.statusResult(p), apperr.New(apperr.InvalidState, "intake: questionnaire is already complete")
	}
	if step.Required {
		return m.statusResult(p), apperr.New(apperr.InvalidState, fmt.Sprintf("intake: step %q is required and cannot be skipped", step.ID))
	}
	p = m.advance(p)
	p.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, p); err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

// Status returns the current position and completion percentage, running
// the ensure_case_exists guard first (S4's orphan-recovery entry point).
func (m *Machine) Status(ctx context.Context, userID, caseID string) (StatusResult, error) {
	p, err := m.loadAny(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

// Cancel marks the questionnaire cancelled; Resume reactivates it.
func (m *Machine) Cancel(ctx context.Context, userID, caseID string) (StatusResult, error) {
	p, err := m.loadActive(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}
	p.Status = StatusCancelled
	p.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, p); err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

func (m *Machine) Resume(ctx context.Context, userID, caseID string) (StatusResult, error) {
	if err := m.ensureCaseExists(ctx, userID, caseID, ""); err != nil {
		return StatusResult{}, err
	}
	p, ok, err := m.store.Get(ctx, userID, caseID)
	if err != nil {
		return StatusResult{}, err
	}
	if !ok {
		return StatusResult{}, apperr.New(apperr.NotFound, "intake: no questionnaire in progress")
	}
	if p.Status != StatusCancelled {
		return m.statusResult(p), nil
	}
	p.Status = StatusActive
	p.UpdatedAt = m.clock.Now()
	if err := m.store.Save(ctx, p); err != nil {
		return StatusResult{}, err
	}
	return m.statusResult(p), nil
}

func (m *Machine) loadActive(ctx context.Context, userID, caseID string) (Progress, error) {
	p, err := m.loadAny(ctx, userID, caseID)
	if err != nil {
		return Progress{}, err
	}
	if p.Status != StatusActive {
		return Progress{}, apperr.New(apperr.InvalidState, fmt.Sprintf("intake: questionnaire is %s, not active", p.Status))
	}
	return p, nil
}

func (m *Machine) loadAny(ctx context.Context, userID, caseID string) (Progress, error) {
	if err := m.ensureCaseExists(ctx, userID, caseID, ""); err != nil {
		return Progress{}, err
	}
	p, ok, err := m.store.Get(ctx, userID, caseID)
	if err != nil {
		return Progress{}, err
	}
	if !ok {
		return Progress{}, apperr.New(apperr.NotFound, "intake: no questionnaire in progress")
	}
	return p, nil
}

// ensureCaseExists is the Orphan-Free guard required on every operation:
// if the referenced Case is missing, it attempts recovery from this row's
// own metadata before failing with apperr.OrphanedIntake.
func (m *Machine) ensureCaseExists(ctx context.Context, userID, caseID, category string) error {
	if caseID == "" {
		return apperr.New(apperr.InvalidState, "intake: case_id is required")
	}
	exists, err := m.cases.Exists(ctx, caseID)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "intake: check case existence", err)
	}
	if exists {
		return nil
	}

	existing, ok, err := m.store.Get(ctx, userID, caseID)
	if err != nil {
		return err
	}
	if !ok {
		// No prior progress row either: this is not an orphan, just an
		// unknown case (Start's precondition failed).
		return apperr.New(apperr.NotFound, "intake: case does not exist")
	}

	cat := existing.Category
	if cat == "" {
		cat = category
	}
	if cat == "" {
		cat = DefaultCategory
	}

	_, err = m.cases.Restore(ctx, casestore.Case{
		CaseID:   caseID,
		UserID:   userID,
		Title:    defaultTitle(cat),
		Status:   "draft",
		CaseType: cat,
	})
	if err != nil {
		return apperr.Wrap(apperr.OrphanedIntake, "intake: case missing and recovery failed", err)
	}

	if m.audit != nil {
		if _, aerr := m.audit.Append(ctx, userID, "", "intake", "intake.case_recovered", map[string]any{"case_id": caseID}); aerr != nil {
			m.log.Error(ctx, "intake: audit append failed after case recovery", "err", aerr)
		}
	}
	return nil
}

func defaultTitle(category string) string {
	return fmt.Sprintf("%s petition", category)
}

func (m *Machine) recordAnswer(ctx context.Context, p Progress, block Block, step Step, text string) error {
	if m.mem == nil {
		return nil
	}
	return m.mem.Write(ctx, memory.Record{
		UserID: p.UserID,
		CaseID: p.CaseID,
		Type:   memory.Semantic,
		Text:   text,
		Tags:   []string{"intake", block.ID, step.ID},
		Metadata: map[string]any{
			"case_id":     p.CaseID,
			"question_id": step.ID,
			"category":    p.Category,
		},
	})
}

// locate returns the block/step the cursor currently points at. done is
// true once every block has been completed.
func (m *Machine) locate(p Progress) (Block, Step, bool) {
	q, ok := Catalog[p.Category]
	if !ok {
		return Block{}, Step{}, true
	}
	idx := q.BlockIndex(p.CurrentBlock)
	if idx < 0 || idx >= len(q) {
		return Block{}, Step{}, true
	}
	block := q[idx]
	if p.CurrentStep < 0 || p.CurrentStep >= len(block.Steps) {
		return Block{}, Step{}, true
	}
	return block, block.Steps[p.CurrentStep], false
}

// advance moves the cursor to the next step, rolling over to the next
// block (and marking the current one completed) when the current block's
// steps are exhausted. Once every block is exhausted, Status becomes
// StatusCompleted.
func (m *Machine) advance(p Progress) Progress {
	q, ok := Catalog[p.Category]
	if !ok {
		return p
	}
	idx := q.BlockIndex(p.CurrentBlock)
	if idx < 0 {
		return p
	}
	block := q[idx]
	p.CurrentStep++
	if p.CurrentStep < len(block.Steps) {
		return p
	}

	p.CompletedBlocks = append(p.CompletedBlocks, block.ID)
	p.CurrentStep = 0
	if idx+1 < len(q) {
		p.CurrentBlock = q[idx+1].ID
		return p
	}

	p.CurrentBlock = ""
	p.Status = StatusCompleted
	now := m.clock.Now()
	p.CompletedAt = &now
	return p
}

func (m *Machine) statusResult(p Progress) StatusResult {
	block, step, done := m.locate(p)
	return StatusResult{
		Progress:        p,
		CurrentBlock:    block.ID,
		CurrentStep:     step,
		PercentComplete: m.percentComplete(p),
		Done:            done || p.Status == StatusCompleted,
	}
}

func (m *Machine) percentComplete(p Progress) float64 {
	q, ok := Catalog[p.Category]
	if !ok {
		return 0
	}
	total := q.TotalSteps()
	if total == 0 {
		return 0
	}
	return 100 * float64(len(p.Responses)) / float64(total)
}
