package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/sms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock journal
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) Get(ctx context.Context, id uuid.UUID) (*db.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Entry), args.Error(1)
}

func (m *MockJournal) MarkResolved(ctx context.Context, id uuid.UUID, providerID string) (*db.Entry, error) {
	args := m.Called(ctx, id, providerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Entry), args.Error(1)
}

// Mock sender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendBody(ctx context.Context, recipient, templateName, body string) sms.Result {
	return m.Called(ctx, recipient, templateName, body).Get(0).(sms.Result)
}

func testActivities(journal JournalStore, sender BodySender) *Activities {
	return NewActivities(journal, sender, nil, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func applicationErrorType(t *testing.T, err error) string {
	t.Helper()
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected an application error, got %v", err)
	return appErr.Type()
}

func TestLoadJournalEntry(t *testing.T) {
	id := uuid.MustParse(testEntryID)

	t.Run("found", func(t *testing.T) {
		journal := new(MockJournal)
		journal.On("Get", mock.Anything, id).Return(&db.Entry{
			ID:        id,
			Kind:      db.KindSMS,
			Recipient: "+447911123456",
			Body:      "hello",
			Outcome:   "unknown",
		}, nil)

		entry, err := testActivities(journal, nil).LoadJournalEntry(context.Background(), testEntryID)
		require.NoError(t, err)
		assert.Equal(t, testEntryID, entry.ID)
		assert.Equal(t, "unknown", entry.Outcome)
		assert.Equal(t, "hello", entry.Body)
	})

	t.Run("not found is not retryable", func(t *testing.T) {
		journal := new(MockJournal)
		journal.On("Get", mock.Anything, id).Return(nil, db.ErrEntryNotFound)

		_, err := testActivities(journal, nil).LoadJournalEntry(context.Background(), testEntryID)
		assert.Equal(t, ErrTypeEntryNotFound, applicationErrorType(t, err))
	})

	t.Run("database error is retryable", func(t *testing.T) {
		journal := new(MockJournal)
		journal.On("Get", mock.Anything, id).Return(nil, errors.New("connection refused"))

		_, err := testActivities(journal, nil).LoadJournalEntry(context.Background(), testEntryID)
		require.Error(t, err)
		var appErr *temporalsdk.ApplicationError
		assert.False(t, errors.As(err, &appErr))
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := testActivities(new(MockJournal), nil).LoadJournalEntry(context.Background(), "not-a-uuid")
		assert.Equal(t, ErrTypeInvalidEntryID, applicationErrorType(t, err))
	})
}

func TestResendSMS(t *testing.T) {
	input := ResendSMSInput{
		EntryID:   testEntryID,
		Recipient: "+447911123456",
		Template:  "title_transferred",
		Body:      "Hi Lisa White",
	}

	tests := []struct {
		name    string
		result  sms.Result
		errType string
		retry   bool
	}{
		{
			name:   "sent",
			result: sms.Result{Outcome: sms.OutcomeSent, ProviderID: "SM1", Segments: 1, DeliveryStatus: "queued"},
		},
		{
			name:    "unknown outcome",
			result:  sms.Result{Outcome: sms.OutcomeUnknown, Err: errors.New("bad json")},
			errType: ErrTypeOutcomeUnknown,
		},
		{
			name:    "provider rejected",
			result:  sms.Result{Outcome: sms.OutcomeFailed, Reason: sms.ReasonProviderRejected},
			errType: ErrTypeSendRejected,
		},
		{
			name:    "reserved number",
			result:  sms.Result{Outcome: sms.OutcomeFailed, Reason: string(sms.ReasonReservedNumber)},
			errType: ErrTypeSendRejected,
		},
		{
			name:   "transport error",
			result: sms.Result{Outcome: sms.OutcomeFailed, Reason: sms.ReasonTransport, Err: errors.New("timeout")},
			retry:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := new(MockSender)
			sender.On("SendBody", mock.Anything, input.Recipient, input.Template, input.Body).Return(tt.result)

			res, err := testActivities(nil, sender).ResendSMS(context.Background(), input)

			switch {
			case tt.errType != "":
				assert.Equal(t, tt.errType, applicationErrorType(t, err))
			case tt.retry:
				require.Error(t, err)
				var appErr *temporalsdk.ApplicationError
				assert.False(t, errors.As(err, &appErr))
			default:
				require.NoError(t, err)
				assert.Equal(t, "SM1", res.ProviderID)
				assert.Equal(t, 1, res.Segments)
			}
			sender.AssertExpectations(t)
		})
	}
}

func TestMarkResolved(t *testing.T) {
	id := uuid.MustParse(testEntryID)

	journal := new(MockJournal)
	journal.On("MarkResolved", mock.Anything, id, "SM1").Return(&db.Entry{ID: id, Outcome: db.OutcomeSent}, nil)

	err := testActivities(journal, nil).MarkResolved(context.Background(), MarkResolvedInput{EntryID: testEntryID, ProviderID: "SM1"})
	require.NoError(t, err)
	journal.AssertExpectations(t)

	failing := new(MockJournal)
	failing.On("MarkResolved", mock.Anything, id, "SM1").Return(nil, errors.New("db down"))
	err = testActivities(failing, nil).MarkResolved(context.Background(), MarkResolvedInput{EntryID: testEntryID, ProviderID: "SM1"})
	assert.Error(t, err)
}
