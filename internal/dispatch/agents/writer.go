package agents

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/ids"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/runlog"
	"github.com/lawercase/petition-orchestrator/internal/session"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/engine"
	"github.com/lawercase/petition-orchestrator/internal/workflow/graph"
	"github.com/lawercase/petition-orchestrator/internal/workflow/interrupt"
	"github.com/lawercase/petition-orchestrator/internal/workflow/petition"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

// PDFRenderer turns a finished workflow.State into a rendered document.
// PDF rendering is an explicit out-of-scope external collaborator; Writer
// consumes it only through this narrow interface and degrades to an
// explicit error when none is configured.
type PDFRenderer interface {
	Render(ctx context.Context, state workflow.State) ([]byte, error)
}

// Writer owns the lifecycle of a document-generation workflow thread:
// starting it (generate_letter, generate_petition_internal), pausing and
// resuming it, serving its live preview, accepting exhibit uploads, and
// rendering the final PDF.
type Writer struct {
	store     store.Store
	eng       engine.Engine
	appender  graph.AuditAppender
	router    *routing.Router
	mem       *memory.Manager
	validator petition.Validator
	pdf       PDFRenderer
	runlog    runlog.Store
	sessions  session.Store

	mu      sync.Mutex
	handles map[string]engine.WorkflowHandle

	calls atomic.Int64
}

// NewWriter builds a Writer. pdf may be nil (download_pdf then fails
// explicitly rather than silently returning an empty document). rl may be
// nil, in which case a generation run's node transitions and human-gate
// events are not recorded to the operator-facing run log. sessions may be
// nil, in which case generation runs are not attributed to a
// session.Session; when set, a command carrying a SessionID gets its run
// tracked through session.RunMeta as the thread starts, pauses, and resumes.
func NewWriter(st store.Store, eng engine.Engine, appender graph.AuditAppender, router *routing.Router, mem *memory.Manager, validator petition.Validator, pdf PDFRenderer, rl runlog.Store, sessions session.Store) *Writer {
	return &Writer{
		store:     st,
		eng:       eng,
		appender:  appender,
		router:    router,
		mem:       mem,
		validator: validator,
		pdf:       pdf,
		runlog:    rl,
		sessions:  sessions,
		handles:   make(map[string]engine.WorkflowHandle),
	}
}

// trackRunStart best-effort-records a new run's start against its session,
// the same "never let diagnostics affect execution" posture appendRunLog
// takes for the run log.
func (w *Writer) trackRunStart(ctx context.Context, cmd dispatch.Command, threadID, agentKind string) {
	if w.sessions == nil || cmd.SessionID == "" {
		return
	}
	now := time.Now()
	_ = w.sessions.UpsertRun(ctx, session.RunMeta{
		RunID:     threadID,
		SessionID: cmd.SessionID,
		AgentKind: agentKind,
		Status:    session.RunStatusRunning,
		StartedAt: now,
		UpdatedAt: now,
	})
}

// trackRunStatus best-effort-transitions an already-tracked run's status,
// preserving its original StartedAt and AgentKind.
func (w *Writer) trackRunStatus(ctx context.Context, cmd dispatch.Command, threadID string, status session.RunStatus) {
	if w.sessions == nil || cmd.SessionID == "" {
		return
	}
	run, err := w.sessions.LoadRun(ctx, threadID)
	if err != nil {
		return
	}
	run.Status = status
	run.UpdatedAt = time.Now()
	_ = w.sessions.UpsertRun(ctx, run)
}

func (w *Writer) Handle(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	w.calls.Add(1)

	switch cmd.Kind {
	case "generate_letter":
		title, _ := cmd.Payload["title"].(string)
		if title == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "writer: title is required")
		}
		return w.start(ctx, cmd, "letter", petition.Letter(title))

	case "generate_petition_internal":
		caseID, _ := cmd.Payload["case_id"].(string)
		docType, _ := cmd.Payload["document_type"].(string)
		if caseID == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "writer: case_id is required")
		}
		if docType == "" {
			docType = "EB1A"
		}
		return w.start(ctx, cmd, docType, petition.EB1A())

	case "pause":
		return w.pause(ctx, cmd)

	case "resume":
		return w.resume(ctx, cmd)

	case "get_preview":
		threadID, _ := cmd.Payload["thread_id"].(string)
		state, err := w.store.Load(ctx, threadID)
		if err != nil {
			return dispatch.Response{}, err
		}
		return dispatch.Response{Response: state}, nil

	case "download_pdf":
		return w.downloadPDF(ctx, cmd)

	case "upload_exhibit":
		return w.uploadExhibit(ctx, cmd)

	default:
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("writer agent: unsupported command kind %q", cmd.Kind))
	}
}

func (w *Writer) start(ctx context.Context, cmd dispatch.Command, docType string, specs []petition.SectionSpec) (dispatch.Response, error) {
	caseID, _ := cmd.Payload["case_id"].(string)
	threadID := ids.Prefixed("thread")

	sections := make([]workflow.Section, len(specs))
	for i, spec := range specs {
		sections[i] = workflow.Section{SectionID: spec.SectionID, Order: i, Name: spec.Name, Status: workflow.SectionPending}
	}

	initial := workflow.State{
		ThreadID:     threadID,
		Status:       workflow.StatusGenerating,
		CaseID:       caseID,
		DocumentType: docType,
		UserID:       cmd.UserID,
		Sections:     sections,
		StartedAt:    time.Now(),
	}
	if err := w.store.Save(ctx, initial); err != nil {
		return dispatch.Response{}, err
	}

	g, err := petition.Build("petition:"+threadID, specs, w.router, w.mem, w.store, w.validator)
	if err != nil {
		return dispatch.Response{}, err
	}
	workflowName := g.Name()
	if err := w.eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:    workflowName,
		Handler: g.Compile(w.store, w.appender, graph.WithRunLog(w.runlog)),
	}); err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: register workflow", err)
	}
	if err := g.RegisterActivities(ctx, w.eng); err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: register activities", err)
	}

	handle, err := w.eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       threadID,
		Workflow: workflowName,
		Input:    initial,
	})
	if err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: start workflow", err)
	}

	w.mu.Lock()
	w.handles[threadID] = handle
	w.mu.Unlock()

	w.trackRunStart(ctx, cmd, threadID, docType)

	return dispatch.Response{Response: map[string]string{"thread_id": threadID}}, nil
}

func (w *Writer) pause(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	threadID, _ := cmd.Payload["thread_id"].(string)
	handle, err := w.handleFor(threadID)
	if err != nil {
		return dispatch.Response{}, err
	}
	if err := handle.Signal(ctx, interrupt.SignalPause, interrupt.PauseRequest{ThreadID: threadID, RequestedBy: cmd.UserID}); err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: signal pause", err)
	}
	w.trackRunStatus(ctx, cmd, threadID, session.RunStatusPaused)
	return dispatch.Response{Response: map[string]string{"thread_id": threadID, "status": "paused"}}, nil
}

func (w *Writer) resume(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	threadID, _ := cmd.Payload["thread_id"].(string)
	handle, err := w.handleFor(threadID)
	if err != nil {
		return dispatch.Response{}, err
	}
	if err := handle.Signal(ctx, interrupt.SignalResume, interrupt.ResumeRequest{ThreadID: threadID, RequestedBy: cmd.UserID}); err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: signal resume", err)
	}
	w.trackRunStatus(ctx, cmd, threadID, session.RunStatusRunning)
	return dispatch.Response{Response: map[string]string{"thread_id": threadID, "status": "generating"}}, nil
}

func (w *Writer) downloadPDF(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	threadID, _ := cmd.Payload["thread_id"].(string)
	state, err := w.store.Load(ctx, threadID)
	if err != nil {
		return dispatch.Response{}, err
	}
	if state.Status != workflow.StatusCompleted {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("writer: thread %q is %s, not completed", threadID, state.Status))
	}
	if w.pdf == nil {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, "writer: pdf rendering is not configured")
	}
	bytes, err := w.pdf.Render(ctx, state)
	if err != nil {
		return dispatch.Response{}, apperr.Wrap(apperr.Internal, "writer: render pdf", err)
	}
	return dispatch.Response{Response: bytes}, nil
}

func (w *Writer) uploadExhibit(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	threadID, _ := cmd.Payload["thread_id"].(string)
	exhibitID, _ := cmd.Payload["exhibit_id"].(string)
	filename, _ := cmd.Payload["filename"].(string)
	mimeType, _ := cmd.Payload["mime_type"].(string)
	bytes, _ := cmd.Payload["bytes"].([]byte)
	if threadID == "" || filename == "" {
		return dispatch.Response{}, apperr.New(apperr.InvalidState, "writer: thread_id and filename are required")
	}
	if exhibitID == "" {
		exhibitID = ids.Prefixed("exhibit")
	}
	exhibit := workflow.Exhibit{
		ExhibitID:  exhibitID,
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(bytes)),
		UploadedAt: time.Now(),
		StorageKey: fmt.Sprintf("%s/%s", threadID, exhibitID),
	}
	if err := w.store.AddExhibit(ctx, threadID, exhibit); err != nil {
		return dispatch.Response{}, err
	}
	return dispatch.Response{Response: exhibit}, nil
}

func (w *Writer) handleFor(threadID string) (engine.WorkflowHandle, error) {
	if threadID == "" {
		return nil, apperr.New(apperr.InvalidState, "writer: thread_id is required")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	handle, ok := w.handles[threadID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("writer: no running workflow for thread %q", threadID))
	}
	return handle, nil
}

func (w *Writer) Stats() map[string]any {
	w.mu.Lock()
	running := len(w.handles)
	w.mu.Unlock()
	return map[string]any{"calls": w.calls.Load(), "running_threads": running}
}
