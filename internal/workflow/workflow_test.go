package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/order-parser/internal/model"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, in model.ParseInput) (*model.Output, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Output), args.Error(1)
}

func newEnv(t *testing.T, r Runner) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(ParseDocumentWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivity(&Activities{Runner: r})
	return env
}

func canonicalOutput(status model.ParsingStatus) *model.Output {
	return &model.Output{
		ModelID:   "lar",
		Warnings:  []string{"Nenhum CNPJ encontrado"},
		Canonical: &model.Canonical{Parsing: model.ParsingMetadata{Status: status}},
	}
}

func TestParseDocumentWorkflow_Success(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, mock.MatchedBy(func(in model.ParseInput) bool {
		return in.DocumentID == "doc-1" && in.TriggeredBy == "workflow" && string(in.Raw) == "pedido"
	})).Return(canonicalOutput(model.StatusPartial), nil).Once()

	env := newEnv(t, r)
	env.ExecuteWorkflow(WorkflowName, ParseRequest{
		InputType:  model.InputText,
		Raw:        []byte("pedido"),
		DocumentID: "doc-1",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var res ParseResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, "lar", res.ModelID)
	assert.Equal(t, "partial", res.Status)
	assert.Equal(t, []string{"Nenhum CNPJ encontrado"}, res.Warnings)
	r.AssertExpectations(t)
}

func TestParseDocumentWorkflow_RetriesThenSucceeds(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("database is locked")).Twice()
	r.On("Run", mock.Anything, mock.Anything).Return(canonicalOutput(model.StatusSuccess), nil).Once()

	env := newEnv(t, r)
	env.ExecuteWorkflow(WorkflowName, ParseRequest{InputType: model.InputText, Raw: []byte("x"), DocumentID: "doc-2"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var res ParseResult
	require.NoError(t, env.GetWorkflowResult(&res))
	assert.Equal(t, "success", res.Status)
	r.AssertNumberOfCalls(t, "Run", 3)
}

func TestParseDocumentWorkflow_GivesUpAfterThreeAttempts(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, mock.Anything).Return(nil, errors.New("pipeline: no models registered"))

	env := newEnv(t, r)
	env.ExecuteWorkflow(WorkflowName, ParseRequest{InputType: model.InputText, Raw: []byte("x"), DocumentID: "doc-3"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models registered")
	r.AssertNumberOfCalls(t, "Run", maxAttempts)
}

func TestActivities_ParseDocument_LegacyOutput(t *testing.T) {
	r := &mockRunner{}
	r.On("Run", mock.Anything, mock.MatchedBy(func(in model.ParseInput) bool {
		return len(in.DocumentID) == 36
	})).Return(&model.Output{ModelID: "generic", Legacy: &model.Draft{}}, nil).Once()

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(&Activities{Runner: r})

	val, err := env.ExecuteActivity(ActivityName, ParseRequest{InputType: model.InputPDF, Raw: []byte("%PDF")})
	require.NoError(t, err)
	var res ParseResult
	require.NoError(t, val.Get(&res))
	assert.Equal(t, "partial", res.Status)
	assert.Equal(t, []string{}, res.Warnings)
	assert.Len(t, res.DocumentID, 36)
}

func TestStarter_Start(t *testing.T) {
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("parse-doc-9")
	run.On("GetRunID").Return("run-1")

	c := &mocks.Client{}
	req := ParseRequest{InputType: model.InputText, Raw: []byte("x"), DocumentID: "doc-9"}
	c.On("ExecuteWorkflow", mock.Anything, client.StartWorkflowOptions{
		ID:        "parse-doc-9",
		TaskQueue: "order-parser",
	}, WorkflowName, req).Return(run, nil).Once()

	wid, rid, err := NewStarter(c, "order-parser").Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "parse-doc-9", wid)
	assert.Equal(t, "run-1", rid)
	c.AssertExpectations(t)
}
