package metrics

import (
	"net/http"
	"time"
)

// InstrumentedTransport records request metrics for every outbound call made
// through it. Target should be a constant identifier such as "twilio" or
// "case_management".
type InstrumentedTransport struct {
	Base    http.RoundTripper
	Metrics *Metrics
	Target  string
}

// NewHTTPClient returns an http.Client with the given timeout whose requests
// are recorded under target.
func NewHTTPClient(m *Metrics, target string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &InstrumentedTransport{
			Base:    http.DefaultTransport,
			Metrics: m,
			Target:  target,
		},
	}
}

// RoundTrip implements http.RoundTripper.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	t.Metrics.RecordOutboundRequest(t.Target, req.Method, status, time.Since(start).Seconds())

	return resp, err
}

// Timer returns a func that reports the seconds elapsed since start.
//
//	defer Timer(time.Now(), func(seconds float64) {
//	    m.RecordActivityDuration("ResendSMS", seconds)
//	})()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
