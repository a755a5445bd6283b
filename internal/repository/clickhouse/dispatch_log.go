package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-dispatch-service/internal/client"
	"otp-dispatch-service/internal/model"
	"otp-dispatch-service/internal/util"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS otp_dispatch_events (
    job_id      String,
    channel     LowCardinality(String),
    identifier  String,
    outcome     LowCardinality(String),
    attempts    UInt8,
    error       String,
    occurred_at DateTime64(3, 'UTC')
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(occurred_at)
ORDER BY (channel, occurred_at)
TTL toDateTime(occurred_at) + INTERVAL 90 DAY
`

const insertEvent = `
INSERT INTO otp_dispatch_events (job_id, channel, identifier, outcome, attempts, error, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const selectRecentFailures = `
SELECT job_id, channel, identifier, outcome, attempts, error, occurred_at
FROM otp_dispatch_events
WHERE outcome != 'sent'
ORDER BY occurred_at DESC
LIMIT ?
`

// DispatchLog is the append-only audit trail of terminal dispatch outcomes,
// queried by administrators. Writes are best effort; a ClickHouse outage
// never blocks or fails a dispatch.
type DispatchLog struct {
	client *client.ClickHouseClient
}

func NewDispatchLog(chClient *client.ClickHouseClient) *DispatchLog {
	return &DispatchLog{client: chClient}
}

// EnsureSchema creates the events table when missing.
func (l *DispatchLog) EnsureSchema(ctx context.Context) error {
	if err := l.client.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create dispatch events table: %w", err)
	}
	return nil
}

// Record appends one terminal outcome. Errors are logged, not returned;
// the audit log must never disturb the dispatch path.
func (l *DispatchLog) Record(ctx context.Context, ev model.DispatchEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := l.client.Exec(ctx, insertEvent,
		ev.JobID,
		string(ev.Channel),
		ev.Identifier,
		ev.Outcome,
		uint8(ev.Attempts),
		ev.Error,
		ev.OccurredAt.UTC(),
	)
	if err != nil {
		util.Warn("Failed to record dispatch event",
			zap.String("job_id", ev.JobID),
			zap.String("outcome", ev.Outcome),
			zap.Error(err))
	}
}

// RecentFailures lists the most recent non-sent outcomes for the admin view.
func (l *DispatchLog) RecentFailures(ctx context.Context, limit int) ([]model.DispatchEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := l.client.QueryRows(ctx, selectRecentFailures, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent failures: %w", err)
	}
	defer rows.Close()

	var events []model.DispatchEvent
	for rows.Next() {
		var (
			ev       model.DispatchEvent
			channel  string
			attempts uint8
		)
		if err := rows.Scan(&ev.JobID, &channel, &ev.Identifier, &ev.Outcome, &attempts, &ev.Error, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispatch event: %w", err)
		}
		ev.Channel = model.Channel(channel)
		ev.Attempts = int(attempts)
		events = append(events, ev)
	}
	return events, rows.Err()
}
