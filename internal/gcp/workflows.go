package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/resilience"
)

// WorkflowTrigger starts the next stage by creating a Cloud Workflows
// execution whose argument is the handoff payload. The workflow calls the
// stage's HTTP function.
type WorkflowTrigger struct {
	client *executions.Client
	parent string
	exec   *resilience.Executor
}

// NewWorkflowTrigger shares client across triggers; the caller closes it.
func NewWorkflowTrigger(client *executions.Client, projectID, location, workflowID string, exec *resilience.Executor) *WorkflowTrigger {
	return &WorkflowTrigger{
		client: client,
		parent: WorkflowName(projectID, location, workflowID),
		exec:   exec,
	}
}

func WorkflowName(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

// Handoff returns as soon as the execution is created.
func (t *WorkflowTrigger) Handoff(ctx context.Context, h models.Handoff) error {
	req, err := executionRequest(t.parent, h)
	if err != nil {
		return err
	}
	create := func(ctx context.Context) error {
		_, err := t.client.CreateExecution(ctx, req)
		return err
	}
	if t.exec != nil {
		err = t.exec.Execute(ctx, "workflows.create_execution", create, resilience.GRPC)
	} else {
		err = create(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

func executionRequest(parent string, h models.Handoff) (*executionspb.CreateExecutionRequest, error) {
	payload, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return &executionspb.CreateExecutionRequest{
		Parent:    parent,
		Execution: &executionspb.Execution{Argument: string(payload)},
	}, nil
}
