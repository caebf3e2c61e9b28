package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

// Client starts resend workflows on behalf of operators.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := dial(host, namespace, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// ResendWorkflowID is the workflow ID used for an entry. Starting a resend
// for an entry whose resend is still running attaches to that run.
func ResendWorkflowID(entryID string) string {
	return "resend-" + entryID
}

// StartResend starts ResendDispatchWorkflow for the entry and returns the run.
func (c *Client) StartResend(ctx context.Context, entryID string) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        ResendWorkflowID(entryID),
		TaskQueue: c.taskQueue,
	}

	run, err := c.client.ExecuteWorkflow(ctx, opts, ResendDispatchWorkflow, ResendInput{EntryID: entryID})
	if err != nil {
		c.logger.Error("failed to start resend workflow",
			"entry_id", entryID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start resend workflow: %w", err)
	}

	c.logger.Info("resend workflow started",
		"entry_id", entryID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return run, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// dial connects to Temporal with the SDK's slog adapter.
func dial(host, namespace string, logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", host, err)
	}
	return c, nil
}
