package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hmlr/titlewatch/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig wires the resend worker to Temporal and to its dependencies.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Journal JournalStore
	Sender  BodySender
	Metrics *metrics.Metrics // Optional
	Logger  *slog.Logger
}

// Worker hosts ResendDispatchWorkflow and its activities.
type Worker struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
	logger    *slog.Logger
}

// NewWorker connects to Temporal and registers the resend workflow.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Journal == nil || config.Sender == nil {
		return nil, fmt.Errorf("resend worker needs a journal and a sender")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "resend_worker", "task_queue", config.TaskQueue)

	c, err := dial(config.TemporalHost, config.TemporalNamespace, logger)
	if err != nil {
		return nil, err
	}

	// Every activity may hit the SMS provider.
	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     4,
		MaxConcurrentWorkflowTaskExecutionSize: 4,
	})

	w.RegisterWorkflow(ResendDispatchWorkflow)

	acts := NewActivities(config.Journal, config.Sender, config.Metrics, logger)
	w.RegisterActivity(acts.LoadJournalEntry)
	w.RegisterActivity(acts.ResendSMS)
	w.RegisterActivity(acts.MarkResolved)

	return &Worker{
		client:    c,
		worker:    w,
		taskQueue: config.TaskQueue,
		logger:    logger,
	}, nil
}

// Run polls the task queue until ctx is cancelled, then drains in-flight
// activities and closes the connection.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()

	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start resend worker: %w", err)
	}
	w.logger.Info("resend worker polling")

	<-ctx.Done()

	w.logger.Info("stopping resend worker")
	w.worker.Stop()
	return nil
}
