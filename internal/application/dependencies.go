package application

import "context"

// SessionStatusCache remembers whether sessions are revoked so that access
// validation rarely reaches the session store.
type SessionStatusCache interface {
	Lookup(ctx context.Context, sessionID string) (revoked, found bool, err error)
	MarkActive(ctx context.Context, sessionID string) error
	MarkRevoked(ctx context.Context, sessionID string) error
}

// MetricsRecorder receives domain events for instrumentation.
type MetricsRecorder interface {
	SessionIssued()
	SessionRenewed()
	SessionRenewalFailed(reason string)
	SessionRevoked(reason string)
	SlotsGenerated(created int)
	SlotTransition(action, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SessionIssued()                {}
func (nopMetrics) SessionRenewed()               {}
func (nopMetrics) SessionRenewalFailed(string)   {}
func (nopMetrics) SessionRevoked(string)         {}
func (nopMetrics) SlotsGenerated(int)            {}
func (nopMetrics) SlotTransition(string, string) {}

func metricsOrNop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
