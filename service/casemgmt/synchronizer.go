package casemgmt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/hmlr/titlewatch/service/metrics"
)

// Outcome classifies a synchronization.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Reasons reported in Result.Reason.
const (
	ReasonNotRetrievable    = "case not retrievable"
	ReasonNotOurInstruction = "not the instructed conveyancer"
	ReasonClientMismatch    = "client mismatch"
	ReasonMappingFailed     = "case record mapping failed"
	ReasonUpdateRejected    = "case update failed"
)

// Result is the outcome of one Sync.
type Result struct {
	Outcome       Outcome
	Reason        string
	CaseReference string
	Err           error
}

// CaseAPI is the part of Client the Synchronizer needs.
type CaseAPI interface {
	GetCase(ctx context.Context, reference string) (*CaseRecord, error)
	UpdateCase(ctx context.Context, reference string, update *CaseUpdate) error
}

// Synchronizer copies instruction details into the case-management system.
// The fetch and the update are not atomic: a concurrent edit between them
// is overwritten, since the API offers no conditional update.
type Synchronizer struct {
	api     CaseAPI
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(api CaseAPI, m *metrics.Metrics, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		api:     api,
		metrics: m,
		logger:  logger.With("component", "case_synchronizer"),
	}
}

// Sync fetches the instructed case, checks that this node is the instructed
// conveyancer for the case's client, and writes back the mapped fields with
// the title number.
func (s *Synchronizer) Sync(ctx context.Context, in ledger.InstructionTransition, local ledger.Identity) Result {
	res := Result{CaseReference: in.CaseReferenceNumber}

	record, err := s.api.GetCase(ctx, in.CaseReferenceNumber)
	if err != nil {
		var mapErr *MappingError
		if errors.As(err, &mapErr) {
			return s.finish(ctx, res, OutcomeFailed, ReasonMappingFailed, err)
		}
		return s.finish(ctx, res, OutcomeFailed, ReasonNotRetrievable, err)
	}

	if in.Conveyancer != local {
		return s.finish(ctx, res, OutcomeSkipped, ReasonNotOurInstruction,
			fmt.Errorf("instruction names %s, this node is %s", in.Conveyancer, local))
	}

	clientID, err := strconv.ParseInt(in.User, 10, 64)
	if err != nil {
		return s.finish(ctx, res, OutcomeSkipped, ReasonClientMismatch,
			fmt.Errorf("user %q is not a client id: %w", in.User, err))
	}
	if record.ClientID == nil {
		return s.finish(ctx, res, OutcomeFailed, ReasonMappingFailed, &MappingError{Field: "client_id"})
	}
	if *record.ClientID != clientID {
		return s.finish(ctx, res, OutcomeSkipped, ReasonClientMismatch,
			fmt.Errorf("instruction user %d, case client %d", clientID, *record.ClientID))
	}

	update, err := Project(record, in.TitleID)
	if err != nil {
		return s.finish(ctx, res, OutcomeFailed, ReasonMappingFailed, err)
	}

	if err := s.api.UpdateCase(ctx, in.CaseReferenceNumber, update); err != nil {
		return s.finish(ctx, res, OutcomeFailed, ReasonUpdateRejected, err)
	}

	return s.finish(ctx, res, OutcomeUpdated, "", nil)
}

func (s *Synchronizer) finish(ctx context.Context, res Result, outcome Outcome, reason string, err error) Result {
	res.Outcome = outcome
	res.Reason = reason
	res.Err = err

	s.metrics.RecordCaseSync(string(outcome), reason)

	switch outcome {
	case OutcomeUpdated:
		s.logger.InfoContext(ctx, "case updated with title number", "case_reference", res.CaseReference)
	case OutcomeSkipped:
		s.logger.InfoContext(ctx, "case sync skipped",
			"case_reference", res.CaseReference,
			"reason", reason,
			"detail", err,
		)
	default:
		s.logger.ErrorContext(ctx, "case sync failed",
			"case_reference", res.CaseReference,
			"reason", reason,
			"error", err,
		)
	}
	return res
}
