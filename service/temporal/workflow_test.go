package temporal

import (
	"errors"
	"testing"

	"github.com/hmlr/titlewatch/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

const testEntryID = "5b0c3f7e-8d7a-4c57-9a41-0f1e2d3c4b5a"

func failedEntry() *JournalEntry {
	return &JournalEntry{
		ID:            testEntryID,
		Kind:          db.KindSMS,
		TransitionKey: "ZQV888860/APPROVED/seller",
		Recipient:     "+447911123456",
		Template:      "agreement_sign_request_seller",
		Body:          "Good news Lisa White!",
		Outcome:       "failed",
		Reason:        "unexpected status",
	}
}

func TestResendDispatchWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		entry          *JournalEntry
		sendErr        error
		expectSend     bool
		expectResolve  bool
		expectedError  bool
		validateResult func(*testing.T, *ResendResult)
	}{
		{
			name:          "failed entry is resent and resolved",
			entry:         failedEntry(),
			expectSend:    true,
			expectResolve: true,
			validateResult: func(t *testing.T, r *ResendResult) {
				assert.Equal(t, "SM999", r.ProviderID)
				assert.Equal(t, "+447911123456", r.Recipient)
				assert.False(t, r.AlreadyDelivered)
			},
		},
		{
			name: "delivered entry is left alone",
			entry: func() *JournalEntry {
				e := failedEntry()
				e.Outcome = db.OutcomeSent
				return e
			}(),
			validateResult: func(t *testing.T, r *ResendResult) {
				assert.True(t, r.AlreadyDelivered)
				assert.Empty(t, r.ProviderID)
			},
		},
		{
			name: "case sync entries cannot be resent",
			entry: func() *JournalEntry {
				e := failedEntry()
				e.Kind = db.KindCaseSync
				return e
			}(),
			expectedError: true,
		},
		{
			name: "entry without body",
			entry: func() *JournalEntry {
				e := failedEntry()
				e.Body = ""
				return e
			}(),
			expectedError: true,
		},
		{
			name:          "provider rejects resend",
			entry:         failedEntry(),
			sendErr:       temporalsdk.NewNonRetryableApplicationError("SMS not sent: provider rejected", ErrTypeSendRejected, nil),
			expectSend:    true,
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.LoadJournalEntry)
			env.RegisterActivity(activities.ResendSMS)
			env.RegisterActivity(activities.MarkResolved)

			env.OnActivity(activities.LoadJournalEntry, mock.Anything, testEntryID).Return(tt.entry, nil)

			sendCalls := 0
			if tt.sendErr != nil {
				env.OnActivity(activities.ResendSMS, mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) { sendCalls++ }).
					Return(nil, tt.sendErr)
			} else {
				env.OnActivity(activities.ResendSMS, mock.Anything, mock.MatchedBy(func(in ResendSMSInput) bool {
					return in.Recipient == tt.entry.Recipient && in.Body == tt.entry.Body
				})).
					Run(func(args mock.Arguments) { sendCalls++ }).
					Return(&ResendSMSResult{ProviderID: "SM999", Segments: 1, DeliveryStatus: "queued"}, nil)
			}

			resolveCalls := 0
			env.OnActivity(activities.MarkResolved, mock.Anything, MarkResolvedInput{EntryID: testEntryID, ProviderID: "SM999"}).
				Run(func(args mock.Arguments) { resolveCalls++ }).
				Return(nil)

			env.ExecuteWorkflow(ResendDispatchWorkflow, ResendInput{EntryID: testEntryID})
			require.True(t, env.IsWorkflowCompleted())

			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
			} else {
				require.NoError(t, env.GetWorkflowError())
				var result ResendResult
				require.NoError(t, env.GetWorkflowResult(&result))
				tt.validateResult(t, &result)
			}

			if tt.expectSend {
				assert.Equal(t, 1, sendCalls, "a rejected send must not be retried")
			} else {
				assert.Equal(t, 0, sendCalls)
			}
			if tt.expectResolve {
				assert.Equal(t, 1, resolveCalls)
			} else {
				assert.Equal(t, 0, resolveCalls)
			}
		})
	}
}

func TestResendDispatchWorkflow_LoadFails(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.LoadJournalEntry)
	env.RegisterActivity(activities.ResendSMS)
	env.RegisterActivity(activities.MarkResolved)

	env.OnActivity(activities.LoadJournalEntry, mock.Anything, mock.Anything).
		Return(nil, temporalsdk.NewNonRetryableApplicationError("not found", ErrTypeEntryNotFound, errors.New("no rows")))

	env.ExecuteWorkflow(ResendDispatchWorkflow, ResendInput{EntryID: testEntryID})

	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporalsdk.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeEntryNotFound, appErr.Type())
}

func TestResendDispatchWorkflow_TransportErrorsRetried(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.LoadJournalEntry)
	env.RegisterActivity(activities.ResendSMS)
	env.RegisterActivity(activities.MarkResolved)

	env.OnActivity(activities.LoadJournalEntry, mock.Anything, mock.Anything).Return(failedEntry(), nil)

	callCount := 0
	env.OnActivity(activities.ResendSMS, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 2 {
			panic("provider unreachable") // Temporal retries on panics
		}
	}).Return(&ResendSMSResult{ProviderID: "SM999"}, nil)
	env.OnActivity(activities.MarkResolved, mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(ResendDispatchWorkflow, ResendInput{EntryID: testEntryID})

	assert.NoError(t, env.GetWorkflowError())
	assert.Equal(t, 2, callCount)
}
