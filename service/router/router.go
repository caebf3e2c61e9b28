package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hmlr/titlewatch/service/casemgmt"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/hmlr/titlewatch/service/metrics"
	"github.com/hmlr/titlewatch/service/sms"
)

// Action is what the router decided to do with a transition.
type Action string

const (
	ActionNone                   Action = "none"
	ActionSignRequestSeller      Action = "sign_request_seller"
	ActionSignRequestBuyer       Action = "sign_request_buyer"
	ActionTitleTransferredSeller Action = "title_transferred_seller"
	ActionTitleTransferredBuyer  Action = "title_transferred_buyer"
	ActionCaseSync               Action = "case_sync"
	ActionSuppressed             Action = "suppressed"
)

// Side is the party this node acts for in an agreement.
type Side string

const (
	SideSeller Side = "seller"
	SideBuyer  Side = "buyer"
)

// Notifier sends the agreement notifications.
type Notifier interface {
	AgreementSignRequestSeller(ctx context.Context, phone, name, titleNumber string) sms.Result
	AgreementSignRequestBuyer(ctx context.Context, phone, name, titleNumber string) sms.Result
	TitleTransferred(ctx context.Context, phone, name, titleNumber string) sms.Result
}

// CaseSyncer applies instructions to the case-management system.
type CaseSyncer interface {
	Sync(ctx context.Context, in ledger.InstructionTransition, local ledger.Identity) casemgmt.Result
}

// Journal records outcomes and answers whether a notification already went out.
type Journal interface {
	Record(ctx context.Context, params db.RecordParams) (*db.Entry, error)
	HasDelivered(ctx context.Context, kind, transitionKey string) (bool, error)
}

// Router dispatches decoded transitions to the notifier or the case
// synchronizer, depending on the state type and this node's role.
type Router struct {
	notifier Notifier
	syncer   CaseSyncer
	journal  Journal
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewRouter creates a Router. A nil journal disables journaling and
// duplicate suppression.
func NewRouter(notifier Notifier, syncer CaseSyncer, journal Journal, m *metrics.Metrics, logger *slog.Logger) *Router {
	if journal == nil {
		journal = db.NopJournal{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		notifier: notifier,
		syncer:   syncer,
		journal:  journal,
		metrics:  m,
		logger:   logger.With("component", "router"),
	}
}

// Route handles one transition. It never fails: delivery problems are
// logged and journaled by the callee and by Route itself.
func (r *Router) Route(ctx context.Context, t ledger.Transition, local ledger.Identity) Action {
	var action Action
	switch t := t.(type) {
	case ledger.AgreementTransition:
		action = r.routeAgreement(ctx, t, local)
	case ledger.InstructionTransition:
		action = r.routeInstruction(ctx, t, local)
	default:
		r.logger.InfoContext(ctx, "no handler for state type", "state_type", t.StateType())
		action = ActionNone
	}

	r.metrics.RecordRouted(t.StateType(), string(action))
	return action
}

// AgreementHandler returns a handler that routes agreement transitions for
// local and ignores every other variant.
func (r *Router) AgreementHandler(local ledger.Identity) func(context.Context, ledger.Transition) {
	return func(ctx context.Context, t ledger.Transition) {
		if !IsAgreement(t) {
			r.logger.InfoContext(ctx, "no handler for state type", "state_type", t.StateType(), "handler", "agreements")
			return
		}
		r.Route(ctx, t, local)
	}
}

// InstructionHandler returns a handler that only syncs instructions.
func (r *Router) InstructionHandler(local ledger.Identity) func(context.Context, ledger.Transition) {
	return func(ctx context.Context, t ledger.Transition) {
		if !IsInstruction(t) {
			r.logger.InfoContext(ctx, "no handler for state type", "state_type", t.StateType(), "handler", "instructions")
			return
		}
		r.Route(ctx, t, local)
	}
}

// IsAgreement reports whether t is an AgreementTransition.
func IsAgreement(t ledger.Transition) bool {
	_, ok := t.(ledger.AgreementTransition)
	return ok
}

// IsInstruction reports whether t is an InstructionTransition.
func IsInstruction(t ledger.Transition) bool {
	_, ok := t.(ledger.InstructionTransition)
	return ok
}

// SideOf returns the side local acts for. The seller side wins when local
// is both conveyancers.
func SideOf(a ledger.AgreementTransition, local ledger.Identity) (Side, bool) {
	switch local {
	case a.SellerConveyancer:
		return SideSeller, true
	case a.BuyerConveyancer:
		return SideBuyer, true
	default:
		return "", false
	}
}

// TransitionKey identifies one notification for duplicate suppression.
func TransitionKey(a ledger.AgreementTransition, side Side) string {
	return fmt.Sprintf("%s/%s/%s", a.TitleID, a.Status, side)
}

func selectAction(side Side, status ledger.AgreementStatus) Action {
	switch {
	case side == SideSeller && status == ledger.StatusApproved:
		return ActionSignRequestSeller
	case side == SideSeller && status == ledger.StatusTransferred:
		return ActionTitleTransferredSeller
	case side == SideBuyer && status == ledger.StatusSigned:
		return ActionSignRequestBuyer
	case side == SideBuyer && status == ledger.StatusTransferred:
		return ActionTitleTransferredBuyer
	default:
		return ActionNone
	}
}

func (r *Router) routeAgreement(ctx context.Context, a ledger.AgreementTransition, local ledger.Identity) Action {
	logger := r.logger.With("title_id", a.TitleID, "status", a.Status.String())

	side, ok := SideOf(a, local)
	if !ok {
		logger.WarnContext(ctx, "neither the buyer's nor the seller's conveyancer",
			"local", local.String(),
			"seller_conveyancer", a.SellerConveyancer.String(),
			"buyer_conveyancer", a.BuyerConveyancer.String(),
		)
		return ActionNone
	}

	action := selectAction(side, a.Status)
	if action == ActionNone {
		logger.DebugContext(ctx, "no notification for status", "side", side)
		return ActionNone
	}

	key := TransitionKey(a, side)
	delivered, err := r.journal.HasDelivered(ctx, db.KindSMS, key)
	if err != nil {
		logger.WarnContext(ctx, "failed to check journal, sending anyway", "key", key, "error", err)
	}
	if delivered {
		logger.InfoContext(ctx, "notification already delivered", "key", key)
		return ActionSuppressed
	}

	party := a.Seller
	if side == SideBuyer {
		party = a.Buyer
	}
	name := party.FullName()

	var res sms.Result
	switch action {
	case ActionSignRequestSeller:
		res = r.notifier.AgreementSignRequestSeller(ctx, party.Phone, name, a.TitleID)
	case ActionSignRequestBuyer:
		res = r.notifier.AgreementSignRequestBuyer(ctx, party.Phone, name, a.TitleID)
	default:
		res = r.notifier.TitleTransferred(ctx, party.Phone, name, a.TitleID)
	}

	r.record(ctx, db.RecordParams{
		Kind:          db.KindSMS,
		TransitionKey: key,
		Recipient:     res.Recipient,
		Template:      res.Template,
		Body:          res.Body,
		Outcome:       string(res.Outcome),
		Reason:        res.Reason,
		ProviderID:    res.ProviderID,
		Detail:        errorText(res.Err),
	})
	return action
}

func (r *Router) routeInstruction(ctx context.Context, in ledger.InstructionTransition, local ledger.Identity) Action {
	res := r.syncer.Sync(ctx, in, local)

	r.record(ctx, db.RecordParams{
		Kind:          db.KindCaseSync,
		TransitionKey: in.TitleID + "/" + in.CaseReferenceNumber,
		Recipient:     in.CaseReferenceNumber,
		Outcome:       string(res.Outcome),
		Reason:        res.Reason,
		Detail:        errorText(res.Err),
	})
	return ActionCaseSync
}

func (r *Router) record(ctx context.Context, params db.RecordParams) {
	if params.Outcome == "" {
		return
	}
	if _, err := r.journal.Record(ctx, params); err != nil {
		r.logger.ErrorContext(ctx, "failed to journal outcome",
			"kind", params.Kind,
			"key", params.TransitionKey,
			"outcome", params.Outcome,
			"error", err,
		)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
