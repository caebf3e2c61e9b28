package sms

import (
	"fmt"
	"regexp"
	"strings"
)

// RejectionReason explains why a phone number was refused.
type RejectionReason string

const (
	ReasonInvalidFormat  RejectionReason = "invalid format"
	ReasonReservedNumber RejectionReason = "reserved media number"
)

// RejectedNumberError is returned by ValidatePhoneNumber.
type RejectedNumberError struct {
	Number string
	Reason RejectionReason
}

func (e *RejectedNumberError) Error() string {
	return fmt.Sprintf("phone number %q rejected: %s", e.Number, e.Reason)
}

var e164Pattern = regexp.MustCompile(`^\+\d{1,15}$`)

// mediaNumberPrefixes are Ofcom ranges reserved for TV, radio and drama.
var mediaNumberPrefixes = []string{
	"+441134960", "+441144960", "+441154960", "+441164960",
	"+441174960", "+441184960", "+441214960", "+441314960",
	"+441414960", "+441514960", "+441614960", "+442079460",
	"+441914980", "+442896496", "+442920180", "+441632960",
	"+447700900", "+448081570", "+449098790", "+443069990",
}

// ValidatePhoneNumber checks that number is E.164 and not a reserved media
// number. It returns a *RejectedNumberError on failure.
func ValidatePhoneNumber(number string) error {
	if !e164Pattern.MatchString(number) {
		return &RejectedNumberError{Number: number, Reason: ReasonInvalidFormat}
	}
	for _, prefix := range mediaNumberPrefixes {
		if strings.HasPrefix(number, prefix) {
			return &RejectedNumberError{Number: number, Reason: ReasonReservedNumber}
		}
	}
	return nil
}
