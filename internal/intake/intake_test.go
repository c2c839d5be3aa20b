package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/audit"
	"github.com/lawercase/petition-orchestrator/internal/casestore"
	"github.com/lawercase/petition-orchestrator/internal/clock"
	"github.com/lawercase/petition-orchestrator/internal/intake"
)

func newMachine(t *testing.T) (*intake.Machine, casestore.Store, audit.Store, *clock.Fake) {
	t.Helper()
	c := clock.NewFake(time.Unix(0, 0))
	cases := casestore.NewInMemory(c)
	aud := audit.NewInMemory(c)
	m := intake.New(intake.NewInMemory(), cases, nil, aud, c, nil)
	return m, cases, aud, c
}

func TestIntake_HappyPath(t *testing.T) {
	t.Parallel()
	m, cases, _, _ := newMachine(t)

	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1", Status: "draft"})
	require.NoError(t, err)

	res, err := m.Start(context.Background(), "u1", "case1", "")
	require.NoError(t, err)
	require.Equal(t, "basic_info", res.CurrentBlock)
	require.Equal(t, "name", res.CurrentStep.ID)
	require.Equal(t, 0, res.Progress.CurrentStep)

	res, err = m.Answer(context.Background(), "u1", "case1", "Jane Doe")
	require.NoError(t, err)
	require.Equal(t, 1, res.Progress.CurrentStep)
	require.Equal(t, "email", res.CurrentStep.ID)
	require.Equal(t, "Jane Doe", res.Progress.Responses["name"])
}

func TestIntake_RequiredStepStaysOnEmptyAnswer(t *testing.T) {
	t.Parallel()
	m, cases, _, _ := newMachine(t)
	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "u1", "case1", "")
	require.NoError(t, err)

	res, err := m.Answer(context.Background(), "u1", "case1", "   ")
	require.NoError(t, err)
	require.Equal(t, 0, res.Progress.CurrentStep)
	require.Equal(t, "name", res.CurrentStep.ID)
}

func TestIntake_SkipOptionalStep(t *testing.T) {
	t.Parallel()
	m, cases, _, _ := newMachine(t)
	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "u1", "case1", "")
	require.NoError(t, err)
	_, err = m.Answer(context.Background(), "u1", "case1", "Jane Doe")
	require.NoError(t, err)
	_, err = m.Answer(context.Background(), "u1", "case1", "jane@example.com")
	require.NoError(t, err)

	res, err := m.Skip(context.Background(), "u1", "case1")
	require.NoError(t, err)
	require.Equal(t, "case_summary", res.Progress.CurrentBlock)
}

func TestIntake_SkipRequiredStepFails(t *testing.T) {
	t.Parallel()
	m, cases, _, _ := newMachine(t)
	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "u1", "case1", "")
	require.NoError(t, err)

	_, err = m.Skip(context.Background(), "u1", "case1")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))
}

func TestIntake_OrphanRecovery(t *testing.T) {
	t.Parallel()
	m, cases, aud, _ := newMachine(t)

	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1", CaseType: intake.CategoryEB1A})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "u1", "case1", intake.CategoryEB1A)
	require.NoError(t, err)

	require.NoError(t, cases.SoftDelete(context.Background(), "case1"))

	res, err := m.Status(context.Background(), "u1", "case1")
	require.NoError(t, err)
	require.False(t, apperr.Is(err, apperr.OrphanedIntake))
	require.Equal(t, "basic_info", res.CurrentBlock)

	exists, err := cases.Exists(context.Background(), "case1")
	require.NoError(t, err)
	require.True(t, exists)

	events, err := aud.List(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "intake.case_recovered", events[0].Action)
}

func TestIntake_CancelAndResume(t *testing.T) {
	t.Parallel()
	m, cases, _, _ := newMachine(t)
	_, err := cases.Create(context.Background(), casestore.Case{CaseID: "case1", UserID: "u1", Title: "T1"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "u1", "case1", "")
	require.NoError(t, err)

	res, err := m.Cancel(context.Background(), "u1", "case1")
	require.NoError(t, err)
	require.Equal(t, intake.StatusCancelled, res.Progress.Status)

	_, err = m.Answer(context.Background(), "u1", "case1", "x")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.InvalidState))

	res, err = m.Resume(context.Background(), "u1", "case1")
	require.NoError(t, err)
	require.Equal(t, intake.StatusActive, res.Progress.Status)
}
