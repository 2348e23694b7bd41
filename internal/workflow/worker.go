package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/order-parser/internal/config"
)

// Register adds the workflow and activities to a worker.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(ParseDocumentWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(acts)
}

// Dial connects to the Temporal frontend described by cfg.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    zapLogger{l: zap.L().Sugar()},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Starter submits parse workflows.
type Starter struct {
	client    client.Client
	taskQueue string
}

// NewStarter builds a Starter for the given task queue.
func NewStarter(c client.Client, taskQueue string) *Starter {
	return &Starter{client: c, taskQueue: taskQueue}
}

// Start submits req. The workflow id is derived from the document id,
// which is generated when empty.
func (s *Starter) Start(ctx context.Context, req ParseRequest) (workflowID, runID string, err error) {
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "parse-" + req.DocumentID,
		TaskQueue: s.taskQueue,
	}, WorkflowName, req)
	if err != nil {
		return "", "", eris.Wrap(err, "workflow: start parse")
	}
	return run.GetID(), run.GetRunID(), nil
}

// zapLogger adapts the global zap logger to Temporal's key/value logger.
type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, keyvals ...interface{}) { z.l.Debugw(msg, keyvals...) }
func (z zapLogger) Info(msg string, keyvals ...interface{})  { z.l.Infow(msg, keyvals...) }
func (z zapLogger) Warn(msg string, keyvals ...interface{})  { z.l.Warnw(msg, keyvals...) }
func (z zapLogger) Error(msg string, keyvals ...interface{}) { z.l.Errorw(msg, keyvals...) }
