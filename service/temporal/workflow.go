package temporal

import (
	"fmt"
	"time"

	"github.com/hmlr/titlewatch/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ResendInput identifies the journal entry to resend.
type ResendInput struct {
	EntryID string `json:"entry_id"`
}

// ResendResult summarises a resend.
type ResendResult struct {
	EntryID          string    `json:"entry_id"`
	Recipient        string    `json:"recipient"`
	Template         string    `json:"template"`
	ProviderID       string    `json:"provider_id,omitempty"`
	AlreadyDelivered bool      `json:"already_delivered"`
	CompletedAt      time.Time `json:"completed_at"`
}

// ResendDispatchWorkflow re-sends the body of a failed or unknown SMS
// journal entry and marks the entry resolved.
//
// The workflow performs these steps:
// 1. Load the journal entry (LoadJournalEntry activity)
// 2. Send the stored body to the stored recipient (ResendSMS activity)
// 3. Mark the entry resolved with the provider's message id (MarkResolved activity)
//
// Entries that were already delivered are left alone.
func ResendDispatchWorkflow(ctx workflow.Context, input ResendInput) (*ResendResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ResendDispatchWorkflow started", "entry_id", input.EntryID)

	result := &ResendResult{EntryID: input.EntryID}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: load the entry
	var entry *JournalEntry
	if err := workflow.ExecuteActivity(ctx, a.LoadJournalEntry, input.EntryID).Get(ctx, &entry); err != nil {
		return result, fmt.Errorf("failed to load journal entry: %w", err)
	}
	result.Recipient = entry.Recipient
	result.Template = entry.Template

	if entry.Kind != db.KindSMS {
		return result, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("entry %s is a %s entry; only SMS entries can be resent", entry.ID, entry.Kind),
			ErrTypeNotResendable, nil)
	}

	if entry.Outcome == db.OutcomeSent {
		logger.Info("entry already delivered, nothing to resend", "entry_id", entry.ID)
		result.AlreadyDelivered = true
		result.CompletedAt = workflow.Now(ctx)
		return result, nil
	}

	if entry.Body == "" || entry.Recipient == "" {
		return result, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("entry %s has no recipient or body to resend", entry.ID),
			ErrTypeNotResendable, nil)
	}

	// Step 2: send. Only transport failures come back retryable.
	var sent *ResendSMSResult
	err := workflow.ExecuteActivity(ctx, a.ResendSMS, ResendSMSInput{
		EntryID:   entry.ID,
		Recipient: entry.Recipient,
		Template:  entry.Template,
		Body:      entry.Body,
	}).Get(ctx, &sent)
	if err != nil {
		return result, fmt.Errorf("failed to resend SMS: %w", err)
	}
	result.ProviderID = sent.ProviderID

	// Step 3: resolve
	if err := workflow.ExecuteActivity(ctx, a.MarkResolved, MarkResolvedInput{
		EntryID:    entry.ID,
		ProviderID: sent.ProviderID,
	}).Get(ctx, nil); err != nil {
		return result, fmt.Errorf("SMS resent but failed to mark entry resolved: %w", err)
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("ResendDispatchWorkflow completed",
		"entry_id", entry.ID,
		"provider_id", sent.ProviderID,
	)
	return result, nil
}
