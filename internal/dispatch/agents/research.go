package agents

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/dispatch"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

// Research handles memory_lookup and ask: it retrieves facts from the
// memory manager (C6) and, for ask, additionally calls the model router
// (C15) to compose a natural-language answer grounded in what it found.
type Research struct {
	mem    *memory.Manager
	router *routing.Router
	calls  atomic.Int64
}

// NewResearch builds a Research agent over the memory manager and an
// optional router (nil disables the ask kind's answer synthesis; the
// agent still serves memory_lookup without one).
func NewResearch(mem *memory.Manager, router *routing.Router) *Research {
	return &Research{mem: mem, router: router}
}

func (r *Research) Handle(ctx context.Context, cmd dispatch.Command) (dispatch.Response, error) {
	r.calls.Add(1)
	caseID, _ := cmd.Payload["case_id"].(string)

	switch cmd.Kind {
	case "memory_lookup":
		query, _ := cmd.Payload["query"].(string)
		if query == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "research: query is required")
		}
		topK := 5
		if n, ok := cmd.Payload["top_k"].(int); ok && n > 0 {
			topK = n
		}
		facts, err := r.mem.Retrieve(ctx, query, memory.Filter{UserID: cmd.UserID, CaseID: caseID}, topK)
		if err != nil {
			return dispatch.Response{}, err
		}
		return dispatch.Response{Response: facts}, nil

	case "ask":
		text, _ := cmd.Payload["text"].(string)
		if text == "" {
			return dispatch.Response{}, apperr.New(apperr.InvalidState, "research: text is required")
		}
		return r.ask(ctx, cmd.UserID, caseID, text)

	default:
		return dispatch.Response{}, apperr.New(apperr.InvalidState, fmt.Sprintf("research agent: unsupported command kind %q", cmd.Kind))
	}
}

func (r *Research) ask(ctx context.Context, userID, caseID, text string) (dispatch.Response, error) {
	facts, err := r.mem.Retrieve(ctx, text, memory.Filter{UserID: userID, CaseID: caseID}, 5)
	if err != nil {
		return dispatch.Response{}, err
	}

	if r.router == nil {
		return dispatch.Response{Response: map[string]any{"facts": facts}}, nil
	}

	prompt := "Question: " + text
	if len(facts) > 0 {
		prompt += "\n\nRelevant facts:\n"
		for _, f := range facts {
			prompt += "- " + f.Record.Text + "\n"
		}
	}

	resp, err := r.router.Route(ctx, routing.Request{
		Messages: []routing.Message{
			{Role: "system", Content: "Answer the applicant's question using only the supplied facts; say so plainly if they are insufficient."},
			{Role: "user", Content: prompt},
		},
		Capability: "chat",
		Essential:  true,
	})
	if err != nil {
		return dispatch.Response{}, err
	}

	if _, err := r.mem.LogEvent(ctx, memory.Event{
		UserID: userID,
		CaseID: caseID,
		Text:   text,
		Tags:   []string{"ask"},
		Payload: map[string]any{
			"answer":   resp.Text,
			"provider": resp.Provider,
		},
	}); err != nil {
		return dispatch.Response{}, err
	}

	return dispatch.Response{Response: map[string]any{"answer": resp.Text, "facts": facts}}, nil
}

func (r *Research) Stats() map[string]any {
	return map[string]any{"calls": r.calls.Load()}
}
