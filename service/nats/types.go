package nats

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hmlr/titlewatch/service/ledger"
)

const (
	// StreamName is the default JetStream stream carrying ledger vault updates.
	StreamName = "LEDGER"

	// SubjectPrefix prefixes every vault update subject; the state type follows it.
	SubjectPrefix = "ledger.vault."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ">"

	// IdentitySubject answers requests for the node's legal identities.
	IdentitySubject = "ledger.rpc.identity"

	// StreamRetention is how long updates are retained (7 days).
	StreamRetention = 7 * 24 * time.Hour
)

// ErrFeedClosed is returned by Next once the subscription has been stopped.
var ErrFeedClosed = errors.New("ledger feed closed")

// Feed delivers ledger update batches and answers identity lookups.
type Feed interface {
	// Subscribe opens a subscription to updates for the given state types.
	// Only updates published after the call are delivered.
	Subscribe(ctx context.Context, stateTypes []string) (Subscription, error)

	// Identity returns the local node's first legal identity.
	Identity(ctx context.Context) (ledger.Identity, error)
}

// Subscription yields update batches in feed order.
type Subscription interface {
	// Next blocks until the next batch arrives, ctx is done, or the
	// subscription is stopped. A *MalformedUpdateError is not terminal.
	Next(ctx context.Context) (*ledger.Update, error)

	// Stop releases the subscription.
	Stop()
}

// MalformedUpdateError reports a feed message that is not a valid update batch.
type MalformedUpdateError struct {
	Subject string
	Err     error
}

func (e *MalformedUpdateError) Error() string {
	return "malformed update on " + e.Subject + ": " + e.Err.Error()
}

func (e *MalformedUpdateError) Unwrap() error {
	return e.Err
}

// Subject returns the subject updates of the given state type are published on.
func Subject(stateType string) string {
	return SubjectPrefix + stateType
}

// StateTypeFromSubject is the inverse of Subject.
func StateTypeFromSubject(subject string) string {
	return strings.TrimPrefix(subject, SubjectPrefix)
}

// identityResponse is the reply to an IdentitySubject request.
type identityResponse struct {
	LegalIdentities []ledger.Identity `json:"legal_identities"`
	Error           string            `json:"error,omitempty"`
}
