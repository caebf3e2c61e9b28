package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSValidate(t *testing.T) {
	tests := []struct {
		name       string
		number     string
		wantValid  bool
		wantReason string
	}{
		{name: "uk mobile", number: "+447911123456", wantValid: true},
		{name: "missing plus", number: "447911123456", wantReason: "invalid format"},
		{name: "media range", number: "+447700900123", wantReason: "reserved media number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runApp(t, "--json", "sms", "validate", tt.number)
			if tt.wantValid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}

			var result map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(out), &result))
			assert.Equal(t, tt.number, result["number"])
			assert.Equal(t, tt.wantValid, result["valid"])
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, result["reason"])
			} else {
				assert.NotContains(t, result, "reason")
			}
		})
	}
}

func TestSMSValidate_Text(t *testing.T) {
	out, err := runApp(t, "sms", "validate", "+447911123456")
	require.NoError(t, err)
	assert.Contains(t, out, "+447911123456 is valid")

	_, err = runApp(t, "sms", "validate")
	require.Error(t, err)
}

func TestSMSRender(t *testing.T) {
	out, err := runApp(t, "sms", "render", "title_transferred", "https://ui.example/done", "Lisa White")
	require.NoError(t, err)
	assert.Equal(t,
		"Hi Lisa White. It's completion day!\nYour transfer of ownership is complete.\nYou can view confirmation of this at https://ui.example/done\n",
		out)
}

func TestSMSRender_TrialAndLink(t *testing.T) {
	out, err := runApp(t, "--json", "sms", "render",
		"--trial",
		"--title", "ZQV888860",
		"--url", "https://ui.example/sign/%titleNumber%",
		"agreement_sign_request_seller", "Lisa White")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "agreement_sign_request_seller", result["template"])
	assert.Equal(t,
		"\nGood news Lisa White!\nYour sales and transfer agreements are ready to sign.\nContinue at https://ui.example/sign/ZQV888860",
		result["body"])
}

func TestSMSRender_MissingInfillLeftInPlace(t *testing.T) {
	out, err := runApp(t, "sms", "render", "yoti_sign_request", "https://ui.example/yoti")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Hi %1."))
}

func TestSMSRender_UnknownTemplate(t *testing.T) {
	_, err := runApp(t, "sms", "render", "no_such_template")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template")
}

func TestSMSTemplates(t *testing.T) {
	out, err := runApp(t, "sms", "templates")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, out, "agreement_sign_request_buyer")
	assert.Contains(t, out, "title_transferred")
}
