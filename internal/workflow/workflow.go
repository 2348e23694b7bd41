// Package workflow runs document parsing as a Temporal workflow so callers
// can submit a document and collect the result later.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/order-parser/internal/model"
)

// Names under which the workflow and activity are registered.
const (
	WorkflowName = "ParseDocumentWorkflow"
	ActivityName = "ParseDocument"

	maxAttempts = 3
)

// ParseRequest is the workflow input. Raw is carried in the workflow
// history, so it is bounded by the server's payload limit.
type ParseRequest struct {
	InputType     model.InputType `json:"input_type"`
	Raw           []byte          `json:"raw"`
	SourceName    string          `json:"source_name,omitempty"`
	ModelOverride string          `json:"model_override,omitempty"`
	DocumentID    string          `json:"document_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// ParseResult is what the workflow returns.
type ParseResult struct {
	DocumentID string   `json:"document_id"`
	ModelID    string   `json:"model_id"`
	Status     string   `json:"status"`
	Warnings   []string `json:"warnings"`
}

// Runner parses one document.
type Runner interface {
	Run(ctx context.Context, in model.ParseInput) (*model.Output, error)
}

// Activities wraps the pipeline runner as Temporal activities.
type Activities struct {
	Runner Runner
}

// ParseDocument runs the pipeline once. Temporal retries it on error.
func (a *Activities) ParseDocument(ctx context.Context, req ParseRequest) (ParseResult, error) {
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	info := activity.GetInfo(ctx)
	activity.GetLogger(ctx).Info("parsing document",
		"document_id", req.DocumentID,
		"attempt", info.Attempt,
	)

	out, err := a.Runner.Run(ctx, model.ParseInput{
		InputType:     req.InputType,
		Raw:           req.Raw,
		SourceName:    req.SourceName,
		ModelOverride: req.ModelOverride,
		DocumentID:    req.DocumentID,
		CorrelationID: req.CorrelationID,
		TriggeredBy:   "workflow",
	})
	if err != nil {
		return ParseResult{}, err
	}

	res := ParseResult{
		DocumentID: req.DocumentID,
		ModelID:    out.ModelID,
		Status:     model.LogStatusPartial,
		Warnings:   out.Warnings,
	}
	if s := out.Status(); s != "" {
		res.Status = string(s)
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res, nil
}

// ParseDocumentWorkflow executes the ParseDocument activity with up to
// three attempts.
func ParseDocumentWorkflow(ctx workflow.Context, req ParseRequest) (ParseResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    maxAttempts,
		},
	})

	var res ParseResult
	if err := workflow.ExecuteActivity(ctx, ActivityName, req).Get(ctx, &res); err != nil {
		workflow.GetLogger(ctx).Error("parse failed", "document_id", req.DocumentID, "error", err)
		return ParseResult{}, err
	}
	return res, nil
}
