// Package observability records domain-level events: job transitions,
// quality rejections, publish outcomes. A failing observability store never
// blocks the pipeline; write errors are logged and dropped.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagefab/idgen"
)

// Schema creates the event table. Pass to dbopen.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS business_event_logs (
	event_id    TEXT PRIMARY KEY,
	event_type  TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '',
	success     INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_logs_entity ON business_event_logs (entity_type, entity_id);
`

// Event is a domain-level event to record.
type Event struct {
	EventType  string
	EntityType string // "job", "page", "indexing"
	EntityID   string
	Action     string
	Details    string // optional JSON diagnostics
	Success    bool
}

// EventLogger writes business events. A nil *EventLogger is valid and drops
// everything, so callers never need a nil check.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records an event. Non-blocking: errors are logged via slog but do
// not propagate.
func (l *EventLogger) LogEvent(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, entity_type, entity_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.EntityType, event.EntityID,
		event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// CountByEntity returns how many events exist for one entity, a cheap probe
// for dashboards and tests.
func (l *EventLogger) CountByEntity(ctx context.Context, entityType, entityID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM business_event_logs
		WHERE entity_type = ? AND entity_id = ?`, entityType, entityID).Scan(&n)
	return n, err
}

// Cleanup deletes events older than the given retention.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays*86400)
	_, err := db.ExecContext(ctx, `DELETE FROM business_event_logs WHERE created_at < ?`, cutoff)
	return err
}
