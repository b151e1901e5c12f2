package checker

import (
	"context"
	"crypto/tls"
	"net/http/httptrace"
	"time"
)

// phaseTimings records the per-phase instants exposed by the HTTP engine for
// a single attempt. A zero instant means the phase was never observed.
type phaseTimings struct {
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	wroteRequest, firstByte   time.Time
}

// withTrace attaches an httptrace.ClientTrace to ctx that fills t.
func (t *phaseTimings) withTrace(ctx context.Context) context.Context {
	trace := &httptrace.ClientTrace{
		DNSStart:     func(httptrace.DNSStartInfo) { t.dnsStart = time.Now() },
		DNSDone:      func(httptrace.DNSDoneInfo) { t.dnsDone = time.Now() },
		ConnectStart: func(string, string) { t.connectStart = time.Now() },
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				t.connectDone = time.Now()
			}
		},
		TLSHandshakeStart: func() { t.tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				t.tlsDone = time.Now()
			}
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.wroteRequest = time.Now() },
		GotFirstResponseByte: func() { t.firstByte = time.Now() },
	}
	return httptrace.WithClientTrace(ctx, trace)
}

// millis returns the elapsed milliseconds between two instants, or nil when
// either instant is missing. Missing phases are reported absent, never zero.
func millis(from, to time.Time) *int64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil
	}
	ms := to.Sub(from).Milliseconds()
	return &ms
}

func (t *phaseTimings) dnsMs() *int64     { return millis(t.dnsStart, t.dnsDone) }
func (t *phaseTimings) connectMs() *int64 { return millis(t.connectStart, t.connectDone) }
func (t *phaseTimings) tlsMs() *int64     { return millis(t.tlsStart, t.tlsDone) }
func (t *phaseTimings) ttfbMs() *int64    { return millis(t.wroteRequest, t.firstByte) }
