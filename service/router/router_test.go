package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hmlr/titlewatch/service/casemgmt"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/hmlr/titlewatch/service/retry"
	"github.com/hmlr/titlewatch/service/sms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) AgreementSignRequestSeller(ctx context.Context, phone, name, titleNumber string) sms.Result {
	return m.Called(ctx, phone, name, titleNumber).Get(0).(sms.Result)
}

func (m *MockNotifier) AgreementSignRequestBuyer(ctx context.Context, phone, name, titleNumber string) sms.Result {
	return m.Called(ctx, phone, name, titleNumber).Get(0).(sms.Result)
}

func (m *MockNotifier) TitleTransferred(ctx context.Context, phone, name, titleNumber string) sms.Result {
	return m.Called(ctx, phone, name, titleNumber).Get(0).(sms.Result)
}

type MockCaseSyncer struct {
	mock.Mock
}

func (m *MockCaseSyncer) Sync(ctx context.Context, in ledger.InstructionTransition, local ledger.Identity) casemgmt.Result {
	return m.Called(ctx, in, local).Get(0).(casemgmt.Result)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Record(ctx context.Context, params db.RecordParams) (*db.Entry, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Entry), args.Error(1)
}

func (m *MockJournal) HasDelivered(ctx context.Context, kind, transitionKey string) (bool, error) {
	args := m.Called(ctx, kind, transitionKey)
	return args.Bool(0), args.Error(1)
}

var (
	sellerConveyancer = ledger.Identity{Organisation: "Conveyancer1", Locality: "Plymouth", Country: "GB"}
	buyerConveyancer  = ledger.Identity{Organisation: "Conveyancer2", Locality: "Plymouth", Country: "GB"}
	bystander         = ledger.Identity{Organisation: "HMLR", Locality: "Plymouth", Country: "GB"}
)

func agreement(status ledger.AgreementStatus) ledger.AgreementTransition {
	return ledger.AgreementTransition{
		TitleID:           "ZQV888860",
		Seller:            ledger.Party{Phone: "+447911123456", Forename: "Lisa", Surname: "White"},
		Buyer:             ledger.Party{Phone: "+447911654321", Forename: "David", Surname: "Jones"},
		SellerConveyancer: sellerConveyancer,
		BuyerConveyancer:  buyerConveyancer,
		Status:            status,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRoute_Agreement(t *testing.T) {
	sent := sms.Result{Outcome: sms.OutcomeSent, ProviderID: "SM1"}

	tests := []struct {
		name   string
		status ledger.AgreementStatus
		local  ledger.Identity
		method string
		phone  string
		person string
		action Action
	}{
		{"seller approved", ledger.StatusApproved, sellerConveyancer, "AgreementSignRequestSeller", "+447911123456", "Lisa White", ActionSignRequestSeller},
		{"seller transferred", ledger.StatusTransferred, sellerConveyancer, "TitleTransferred", "+447911123456", "Lisa White", ActionTitleTransferredSeller},
		{"buyer signed", ledger.StatusSigned, buyerConveyancer, "AgreementSignRequestBuyer", "+447911654321", "David Jones", ActionSignRequestBuyer},
		{"buyer transferred", ledger.StatusTransferred, buyerConveyancer, "TitleTransferred", "+447911654321", "David Jones", ActionTitleTransferredBuyer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := new(MockNotifier)
			journal := new(MockJournal)
			a := agreement(tt.status)

			side, _ := SideOf(a, tt.local)
			key := TransitionKey(a, side)

			journal.On("HasDelivered", mock.Anything, db.KindSMS, key).Return(false, nil)
			notifier.On(tt.method, mock.Anything, tt.phone, tt.person, "ZQV888860").Return(sent)
			journal.On("Record", mock.Anything, mock.MatchedBy(func(p db.RecordParams) bool {
				return p.Kind == db.KindSMS && p.TransitionKey == key && p.Outcome == "sent" && p.ProviderID == "SM1"
			})).Return(&db.Entry{}, nil)

			r := NewRouter(notifier, nil, journal, nil, quietLogger())
			assert.Equal(t, tt.action, r.Route(context.Background(), a, tt.local))

			notifier.AssertExpectations(t)
			journal.AssertExpectations(t)
		})
	}
}

func TestRoute_AgreementNoAction(t *testing.T) {
	tests := []struct {
		name   string
		status ledger.AgreementStatus
		local  ledger.Identity
	}{
		{"seller created", ledger.StatusCreated, sellerConveyancer},
		{"seller signed", ledger.StatusSigned, sellerConveyancer},
		{"seller completed", ledger.StatusCompleted, sellerConveyancer},
		{"buyer approved", ledger.StatusApproved, buyerConveyancer},
		{"buyer completed", ledger.StatusCompleted, buyerConveyancer},
		{"unknown status", ledger.StatusUnknown, sellerConveyancer},
		{"neither conveyancer", ledger.StatusApproved, bystander},
		{"neither conveyancer transferred", ledger.StatusTransferred, bystander},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := new(MockNotifier)
			journal := new(MockJournal)

			r := NewRouter(notifier, nil, journal, nil, quietLogger())
			assert.Equal(t, ActionNone, r.Route(context.Background(), agreement(tt.status), tt.local))

			notifier.AssertNotCalled(t, "AgreementSignRequestSeller", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			notifier.AssertNotCalled(t, "AgreementSignRequestBuyer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			notifier.AssertNotCalled(t, "TitleTransferred", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			journal.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
		})
	}
}

func TestRoute_SellerWinsWhenBothSides(t *testing.T) {
	a := agreement(ledger.StatusTransferred)
	a.BuyerConveyancer = sellerConveyancer

	side, ok := SideOf(a, sellerConveyancer)
	require.True(t, ok)
	assert.Equal(t, SideSeller, side)
}

func TestRoute_SuppressesDeliveredNotification(t *testing.T) {
	notifier := new(MockNotifier)
	journal := new(MockJournal)
	journal.On("HasDelivered", mock.Anything, db.KindSMS, "ZQV888860/APPROVED/seller").Return(true, nil)

	r := NewRouter(notifier, nil, journal, nil, quietLogger())
	action := r.Route(context.Background(), agreement(ledger.StatusApproved), sellerConveyancer)

	assert.Equal(t, ActionSuppressed, action)
	notifier.AssertNotCalled(t, "AgreementSignRequestSeller", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRoute_JournalErrorsDoNotBlockSending(t *testing.T) {
	notifier := new(MockNotifier)
	journal := new(MockJournal)
	journal.On("HasDelivered", mock.Anything, mock.Anything, mock.Anything).Return(false, errors.New("db down"))
	journal.On("Record", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
	notifier.On("AgreementSignRequestSeller", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sms.Result{Outcome: sms.OutcomeFailed, Reason: sms.ReasonUnexpectedStatus})

	r := NewRouter(notifier, nil, journal, nil, quietLogger())
	action := r.Route(context.Background(), agreement(ledger.StatusApproved), sellerConveyancer)

	assert.Equal(t, ActionSignRequestSeller, action)
	notifier.AssertExpectations(t)
}

func TestRoute_Instruction(t *testing.T) {
	syncer := new(MockCaseSyncer)
	journal := new(MockJournal)

	in := ledger.InstructionTransition{
		TitleID:             "ZQV888860",
		CaseReferenceNumber: "ABC123",
		Conveyancer:         sellerConveyancer,
		User:                "42",
	}
	syncer.On("Sync", mock.Anything, in, sellerConveyancer).
		Return(casemgmt.Result{Outcome: casemgmt.OutcomeSkipped, Reason: casemgmt.ReasonClientMismatch, CaseReference: "ABC123"})
	journal.On("Record", mock.Anything, mock.MatchedBy(func(p db.RecordParams) bool {
		return p.Kind == db.KindCaseSync && p.Outcome == "skipped" && p.Reason == casemgmt.ReasonClientMismatch
	})).Return(&db.Entry{}, nil)

	r := NewRouter(nil, syncer, journal, nil, quietLogger())
	assert.Equal(t, ActionCaseSync, r.Route(context.Background(), in, sellerConveyancer))

	syncer.AssertExpectations(t)
	journal.AssertExpectations(t)
}

func TestRoute_UnknownStateType(t *testing.T) {
	notifier := new(MockNotifier)
	syncer := new(MockCaseSyncer)

	r := NewRouter(notifier, syncer, nil, nil, quietLogger())
	action := r.Route(context.Background(), ledger.UnknownTransition{Type: "RestrictionState"}, sellerConveyancer)

	assert.Equal(t, ActionNone, action)
	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything, mock.Anything)
}

func TestVariantHandlers(t *testing.T) {
	in := ledger.InstructionTransition{
		TitleID:             "ZQV888860",
		CaseReferenceNumber: "ABC123",
		Conveyancer:         sellerConveyancer,
		User:                "42",
	}

	t.Run("agreement handler ignores instructions", func(t *testing.T) {
		notifier := new(MockNotifier)
		syncer := new(MockCaseSyncer)
		r := NewRouter(notifier, syncer, db.NopJournal{}, nil, quietLogger())

		r.AgreementHandler(sellerConveyancer)(context.Background(), in)

		syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("agreement handler routes agreements", func(t *testing.T) {
		notifier := new(MockNotifier)
		notifier.On("TitleTransferred", mock.Anything, "+447911123456", "Lisa White", "ZQV888860").
			Return(sms.Result{Outcome: sms.OutcomeSent, ProviderID: "SM1"})
		r := NewRouter(notifier, nil, db.NopJournal{}, nil, quietLogger())

		r.AgreementHandler(sellerConveyancer)(context.Background(), agreement(ledger.StatusTransferred))

		notifier.AssertExpectations(t)
	})

	t.Run("instruction handler ignores agreements", func(t *testing.T) {
		notifier := new(MockNotifier)
		r := NewRouter(notifier, nil, db.NopJournal{}, nil, quietLogger())

		r.InstructionHandler(sellerConveyancer)(context.Background(), agreement(ledger.StatusApproved))

		notifier.AssertNotCalled(t, "AgreementSignRequestSeller", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("instruction handler syncs instructions", func(t *testing.T) {
		syncer := new(MockCaseSyncer)
		syncer.On("Sync", mock.Anything, in, sellerConveyancer).
			Return(casemgmt.Result{Outcome: casemgmt.OutcomeUpdated, CaseReference: "ABC123"})
		r := NewRouter(nil, syncer, db.NopJournal{}, nil, quietLogger())

		r.InstructionHandler(sellerConveyancer)(context.Background(), in)

		syncer.AssertExpectations(t)
	})

	assert.True(t, IsAgreement(agreement(ledger.StatusCreated)))
	assert.False(t, IsAgreement(in))
	assert.True(t, IsInstruction(in))
	assert.False(t, IsInstruction(ledger.UnknownTransition{Type: "RestrictionState"}))
}

// An APPROVED agreement observed by the seller's conveyancer produces one
// provider call to the seller with the resolved link and name.
func TestRoute_ApprovedAgreementEndToEnd(t *testing.T) {
	var calls int32
	var form map[string]string

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"To":   r.PostForm.Get("To"),
			"Body": r.PostForm.Get("Body"),
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"sid": "SM42", "num_segments": "1", "status": "queued"}`)
	}))
	defer provider.Close()

	dispatcher := sms.NewDispatcher(sms.DispatcherConfig{
		APIURL:     provider.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		FromNumber: "+441234567890",
		Retry:      retry.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Logger:     quietLogger(),
	})
	notifier := sms.NewNotifier(dispatcher, nil,
		"https://ui.example/sign/%titleNumber%",
		"https://ui.example/done/%titleNumber%",
	)

	r := NewRouter(notifier, nil, db.NopJournal{}, nil, quietLogger())
	action := r.Route(context.Background(), agreement(ledger.StatusApproved), sellerConveyancer)

	assert.Equal(t, ActionSignRequestSeller, action)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "+447911123456", form["To"])
	assert.Equal(t,
		"Good news Lisa White!\nYour sales and transfer agreements are ready to sign.\nContinue at https://ui.example/sign/ZQV888860",
		form["Body"],
	)
}
