package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/metrics"
	"github.com/hmlr/titlewatch/service/sms"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Application error types that the workflow never retries.
const (
	ErrTypeEntryNotFound  = "EntryNotFound"
	ErrTypeNotResendable  = "NotResendable"
	ErrTypeSendRejected   = "SendRejected"
	ErrTypeOutcomeUnknown = "OutcomeUnknown"
	ErrTypeInvalidEntryID = "InvalidEntryID"
)

// JournalEntry is the part of a journal entry the workflow needs.
type JournalEntry struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	TransitionKey string `json:"transition_key"`
	Recipient     string `json:"recipient"`
	Template      string `json:"template"`
	Body          string `json:"body"`
	Outcome       string `json:"outcome"`
	Reason        string `json:"reason"`
}

// ResendSMSInput contains parameters for the ResendSMS activity.
type ResendSMSInput struct {
	EntryID   string `json:"entry_id"`
	Recipient string `json:"recipient"`
	Template  string `json:"template"`
	Body      string `json:"body"`
}

// ResendSMSResult contains the provider's confirmation.
type ResendSMSResult struct {
	ProviderID     string `json:"provider_id"`
	Segments       int    `json:"segments"`
	DeliveryStatus string `json:"delivery_status"`
}

// MarkResolvedInput contains parameters for the MarkResolved activity.
type MarkResolvedInput struct {
	EntryID    string `json:"entry_id"`
	ProviderID string `json:"provider_id"`
}

// JournalStore defines the journal operations needed by activities.
// This allows for easy mocking in tests.
type JournalStore interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Entry, error)
	MarkResolved(ctx context.Context, id uuid.UUID, providerID string) (*db.Entry, error)
}

// BodySender sends an already resolved SMS body.
type BodySender interface {
	SendBody(ctx context.Context, recipient, templateName, body string) sms.Result
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	journal JournalStore
	sender  BodySender
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(journal JournalStore, sender BodySender, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		journal: journal,
		sender:  sender,
		metrics: m,
		logger:  logger,
	}
}

// LoadJournalEntry reads the entry to resend.
func (a *Activities) LoadJournalEntry(ctx context.Context, entryID string) (*JournalEntry, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("LoadJournalEntry", d)
	})()

	id, err := parseEntryID(entryID)
	if err != nil {
		return nil, err
	}

	entry, err := a.journal.Get(ctx, id)
	if errors.Is(err, db.ErrEntryNotFound) {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("journal entry %s not found", entryID), ErrTypeEntryNotFound, err)
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to load journal entry", "entry_id", entryID, "error", err)
		return nil, fmt.Errorf("failed to load journal entry: %w", err)
	}

	return &JournalEntry{
		ID:            entry.ID.String(),
		Kind:          entry.Kind,
		TransitionKey: entry.TransitionKey,
		Recipient:     entry.Recipient,
		Template:      entry.Template,
		Body:          entry.Body,
		Outcome:       entry.Outcome,
		Reason:        entry.Reason,
	}, nil
}

// ResendSMS sends the stored body again. Only transport failures are
// retryable; a provider answer of any kind is final.
func (a *Activities) ResendSMS(ctx context.Context, input ResendSMSInput) (*ResendSMSResult, error) {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("ResendSMS", d)
	})()

	a.logger.InfoContext(ctx, "resending SMS",
		"entry_id", input.EntryID,
		"recipient", input.Recipient,
		"template", input.Template,
	)

	res := a.sender.SendBody(ctx, input.Recipient, input.Template, input.Body)
	switch {
	case res.Sent():
		return &ResendSMSResult{
			ProviderID:     res.ProviderID,
			Segments:       res.Segments,
			DeliveryStatus: res.DeliveryStatus,
		}, nil
	case res.Outcome == sms.OutcomeUnknown:
		return nil, temporalsdk.NewNonRetryableApplicationError(
			"unknown if SMS was sent", ErrTypeOutcomeUnknown, res.Err)
	case res.Reason == sms.ReasonTransport:
		return nil, fmt.Errorf("SMS provider unreachable: %w", res.Err)
	default:
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("SMS not sent: %s", res.Reason), ErrTypeSendRejected, res.Err)
	}
}

// MarkResolved records the successful resend in the journal.
func (a *Activities) MarkResolved(ctx context.Context, input MarkResolvedInput) error {
	defer metrics.Timer(time.Now(), func(d float64) {
		a.metrics.RecordActivityDuration("MarkResolved", d)
	})()

	id, err := parseEntryID(input.EntryID)
	if err != nil {
		return err
	}

	if _, err := a.journal.MarkResolved(ctx, id, input.ProviderID); err != nil {
		a.logger.ErrorContext(ctx, "failed to mark journal entry resolved", "entry_id", input.EntryID, "error", err)
		return fmt.Errorf("failed to mark entry resolved: %w", err)
	}

	a.logger.InfoContext(ctx, "journal entry resolved",
		"entry_id", input.EntryID,
		"provider_id", input.ProviderID,
	)
	return nil
}

func parseEntryID(entryID string) (uuid.UUID, error) {
	id, err := uuid.Parse(entryID)
	if err != nil {
		return uuid.Nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid entry id %q", entryID), ErrTypeInvalidEntryID, err)
	}
	return id, nil
}
