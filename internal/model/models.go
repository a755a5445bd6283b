package model

import (
	"fmt"
	"time"
)

// Channel is a delivery medium with its own independent rate limit.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// AllChannels returns every supported delivery channel.
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelWhatsApp}
}

func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelWhatsApp
}

func (c Channel) String() string {
	return string(c)
}

// ParseChannel maps the "type" query/body parameter to a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	return c, nil
}

// DispatchJob is the unit of work flowing through the job queue.
// Seq doubles as the generation stamp for the (channel, identifier) pair:
// a job whose Seq no longer matches the position tracker is stale and
// must be discarded instead of sent.
type DispatchJob struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	Identifier string    `json:"identifier"`
	Seq        int64     `json:"seq"`
	Attempt    int       `json:"attempt"`
	NotBefore  time.Time `json:"not_before"`
	Message    string    `json:"message"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Due reports whether the job may be processed now.
func (j DispatchJob) Due(now time.Time) bool {
	return !now.Before(j.NotBefore)
}

// Position is an identifier's rank among pending sends for its channel.
type Position struct {
	Position   int `json:"position"`
	TotalAhead int `json:"total_ahead"`
}

// Estimate is the projected wait for a hypothetical new entry on a channel.
// It assumes the channel drains at exactly its configured rate; bursts,
// retries and provider throttling are not accounted for.
type Estimate struct {
	Position         int    `json:"position"`
	EstimatedSeconds int    `json:"estimated_seconds"`
	EstimatedTime    string `json:"estimated_time"`
}

// MetricsBucket is one hour of dispatch outcomes for a channel.
type MetricsBucket struct {
	Hour        time.Time `json:"hour"`
	Sent        int64     `json:"sent"`
	Throttled   int64     `json:"throttled"`
	Failed      int64     `json:"failed"`
	SuccessRate float64   `json:"success_rate"`
}

// ChannelStatus is the aggregate queue view returned by GET /queue/status.
type ChannelStatus struct {
	Channel Channel `json:"channel"`
	Pending int64   `json:"pending"`
	Limit   int     `json:"limit_per_second"`
}

// Dispatch outcomes recorded in the audit log.
const (
	OutcomeSent      = "sent"
	OutcomeThrottled = "throttled"
	OutcomeFailed    = "failed"
	OutcomeStale     = "stale"
)

// DispatchEvent is one terminal outcome row for the audit log.
type DispatchEvent struct {
	JobID      string
	Channel    Channel
	Identifier string
	Outcome    string
	Attempts   int
	Error      string
	OccurredAt time.Time
}
