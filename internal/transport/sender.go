package transport

import "context"

// Status classifies a provider response. Throttled is kept distinct from
// Error so the metrics layer can separate provider-side rate rejections
// from unrelated delivery failures.
type Status int

const (
	StatusSent Status = iota
	StatusThrottled
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusThrottled:
		return "throttled"
	default:
		return "error"
	}
}

// Result is the outcome of one transport call.
type Result struct {
	Status     Status
	ProviderID string
	Err        error
}

// Sender delivers one OTP message to a recipient identifier over a single
// channel's provider.
type Sender interface {
	Send(ctx context.Context, identifier, message string) Result
}
