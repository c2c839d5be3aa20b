// Package petition builds the document-generation graph (C9 topology) the
// Writer and Supervisor dispatch agents (C10) drive: one node per ordered
// document section, each of which marks its section in_progress, retrieves
// supporting facts from memory (C6), calls the model router (C15) to draft
// the section's HTML, and commits it completed, followed by a validation
// node that runs the Validator agent over the finished draft. Grounded on
// the node/edge/predicate shape in internal/workflow/graph, specialized
// the way the teacher specializes its generic engine per concrete agent
// workflow rather than leaving node bodies abstract.
package petition

import (
	"context"
	"fmt"
	"time"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/memory"
	"github.com/lawercase/petition-orchestrator/internal/routing"
	"github.com/lawercase/petition-orchestrator/internal/workflow"
	"github.com/lawercase/petition-orchestrator/internal/workflow/graph"
	"github.com/lawercase/petition-orchestrator/internal/workflow/store"
)

// SectionSpec names one section of a document type and the prompt used to
// draft it.
type SectionSpec struct {
	SectionID string
	Name      string
	Prompt    string
}

// Validator runs a closing quality pass over a completed draft. Satisfied
// by dispatch/agents.Validator; declared narrowly here so this package
// does not import the dispatch package (dispatch depends on workflow
// graphs it builds from this one, not the other way around).
type Validator interface {
	ValidateSections(ctx context.Context, state workflow.State) error
}

// Letter is the single-section topology generate_letter builds from.
func Letter(name string) []SectionSpec {
	return []SectionSpec{{
		SectionID: "letter_body",
		Name:      name,
		Prompt:    fmt.Sprintf("Draft the support letter body titled %q using the facts below.", name),
	}}
}

// EB1A is the ordered section topology generate_petition builds for the
// EB-1A extraordinary-ability document type.
func EB1A() []SectionSpec {
	return []SectionSpec{
		{SectionID: "introduction", Name: "Introduction", Prompt: "Draft the introduction summarizing the beneficiary's extraordinary ability claim."},
		{SectionID: "criteria_analysis", Name: "Criteria Analysis", Prompt: "Draft the analysis of which EB-1A regulatory criteria the beneficiary satisfies and why."},
		{SectionID: "conclusion", Name: "Conclusion", Prompt: "Draft the conclusion requesting approval and summarizing the case for extraordinary ability."},
	}
}

// Build compiles a graph of one node per spec in order, followed by a
// terminal validation node. Node order is the section order; Compile
// resumes mid-graph via state.CurrentNode, so a paused-then-resumed run
// re-enters at the section it had not yet completed.
func Build(name string, specs []SectionSpec, router *routing.Router, mem *memory.Manager, st store.Store, validator Validator) (*graph.Graph, error) {
	if len(specs) == 0 {
		return nil, apperr.New(apperr.InvalidState, "petition: at least one section is required")
	}
	g := graph.New(name)

	ids := make([]string, len(specs))
	for i, spec := range specs {
		ids[i] = spec.SectionID
		if err := g.Add(graph.Node{ID: spec.SectionID, Run: sectionNode(spec, router, mem, st)}); err != nil {
			return nil, err
		}
	}
	const validateNode = "validate"
	last := len(specs) - 1
	if err := g.Add(graph.Node{ID: validateNode, Run: validationNode(validator)}); err != nil {
		return nil, err
	}

	for i := 0; i < last; i++ {
		if err := g.Connect(ids[i], ids[i+1], nil); err != nil {
			return nil, err
		}
	}
	if err := g.Connect(ids[last], validateNode, nil); err != nil {
		return nil, err
	}
	if err := g.StartAt(ids[0]); err != nil {
		return nil, err
	}
	return g, nil
}

func sectionNode(spec SectionSpec, router *routing.Router, mem *memory.Manager, st store.Store) graph.NodeFunc {
	return func(ctx context.Context, state workflow.State) (graph.NodeResult, error) {
		sec, idx := findSection(state.Sections, spec.SectionID)
		if idx < 0 {
			return graph.NodeResult{}, apperr.New(apperr.InvalidState, fmt.Sprintf("petition: section %q not present on thread %q", spec.SectionID, state.ThreadID))
		}
		if sec.Status == workflow.SectionCompleted {
			// Resumed after this section already committed; nothing to do.
			return graph.NodeResult{State: state}, nil
		}

		inProgress := workflow.SectionInProgress
		if err := st.UpdateSection(ctx, state.ThreadID, spec.SectionID, workflow.SectionPatch{Status: &inProgress}); err != nil {
			return graph.NodeResult{}, err
		}

		var facts []memory.Scored
		if mem != nil {
			var err error
			facts, err = mem.Retrieve(ctx, spec.Name, memory.Filter{UserID: state.UserID, CaseID: state.CaseID}, 5)
			if err != nil {
				return graph.NodeResult{}, err
			}
		}

		resp, err := router.Route(ctx, routing.Request{
			Messages: []routing.Message{
				{Role: "system", Content: "You are drafting one section of an immigration petition. Respond with HTML suitable for direct embedding."},
				{Role: "user", Content: buildPrompt(spec, facts)},
			},
			Capability: "chat",
			Essential:  true,
		})
		if err != nil {
			errMsg := err.Error()
			errStatus := workflow.SectionError
			_ = st.UpdateSection(ctx, state.ThreadID, spec.SectionID, workflow.SectionPatch{Status: &errStatus, ErrorMessage: &errMsg})
			return graph.NodeResult{}, err
		}

		next := state.Clone()
		completed := workflow.SectionCompleted
		tokens := resp.TokensOut
		for i := range next.Sections {
			if next.Sections[i].SectionID == spec.SectionID {
				next.Sections[i] = workflow.SectionPatch{
					Status:      &completed,
					ContentHTML: &resp.Text,
					TokensUsed:  &tokens,
				}.Apply(next.Sections[i], time.Now())
			}
		}
		return graph.NodeResult{State: next}, nil
	}
}

func validationNode(validator Validator) graph.NodeFunc {
	return func(ctx context.Context, state workflow.State) (graph.NodeResult, error) {
		if validator != nil {
			if err := validator.ValidateSections(ctx, state); err != nil {
				return graph.NodeResult{}, err
			}
		}
		next := state.Clone()
		next.Status = workflow.StatusCompleted
		now := time.Now()
		next.CompletedAt = &now
		return graph.NodeResult{State: next}, nil
	}
}

func findSection(sections []workflow.Section, id string) (workflow.Section, int) {
	for i, s := range sections {
		if s.SectionID == id {
			return s, i
		}
	}
	return workflow.Section{}, -1
}

func buildPrompt(spec SectionSpec, facts []memory.Scored) string {
	prompt := spec.Prompt
	if len(facts) == 0 {
		return prompt
	}
	prompt += "\n\nRelevant facts:\n"
	for _, f := range facts {
		prompt += "- " + f.Record.Text + "\n"
	}
	return prompt
}
