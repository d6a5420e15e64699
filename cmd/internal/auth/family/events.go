package family

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Security event types emitted by the core. Events are append-only audit
// records; they are never read back for authorization decisions.
const (
	EventFamilyCreated     = "FAMILY_CREATED"
	EventTokenRotated      = "TOKEN_ROTATED"
	EventFamilyRevoked     = "FAMILY_TOKENS_REVOKED"
	EventUserRevoked       = "USER_TOKENS_REVOKED"
	EventCriticalReuse     = "CRITICAL_TOKEN_REUSE"
	EventExpiredSwept      = "EXPIRED_TOKENS_SWEPT"
	EventRotationRateLimit = "ROTATION_RATE_LIMITED"
)

// Event is one security-event record.
// HashPrefix carries at most a truncated credential hash; full hashes and raw
// secrets must never reach the sink.
type Event struct {
	Type       string
	FamilyID   string
	UserID     string
	HashPrefix string
	Context    map[string]any
	At         time.Time
}

// EventSink receives security events. Sink failures are logged by the caller
// and never fail the primary operation.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// LogEventSink writes events to the structured log. It is the default sink
// and the fallback when no database is configured.
type LogEventSink struct {
	Log *slog.Logger
}

// Emit logs the event at warn level for reuse incidents, info otherwise.
func (s LogEventSink) Emit(_ context.Context, ev Event) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	attrs := []any{
		"type", ev.Type,
		"family_id", ev.FamilyID,
		"user_id", ev.UserID,
	}
	if ev.HashPrefix != "" {
		attrs = append(attrs, "hash_prefix", ev.HashPrefix)
	}
	for k, v := range ev.Context {
		attrs = append(attrs, k, v)
	}

	if ev.Type == EventCriticalReuse {
		log.Warn("family.security_event", attrs...)
	} else {
		log.Info("family.security_event", attrs...)
	}
	return nil
}

// PostgresEventSink appends events to bastion.security_events.
type PostgresEventSink struct {
	pool *pgxpool.Pool
}

// NewPostgresEventSink creates a Postgres-backed security-event sink.
func NewPostgresEventSink(pool *pgxpool.Pool) *PostgresEventSink {
	return &PostgresEventSink{pool: pool}
}

// Emit inserts one append-only event row.
func (s *PostgresEventSink) Emit(ctx context.Context, ev Event) error {
	if s == nil || s.pool == nil {
		return nil
	}

	evType := strings.TrimSpace(ev.Type)
	if evType == "" {
		return nil
	}

	var metaVal *string
	if len(ev.Context) > 0 {
		if b, err := json.Marshal(ev.Context); err == nil {
			v := string(b)
			metaVal = &v
		}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bastion.security_events (
			event_type, family_id, user_id, credential_hash_prefix, context, created_at
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`, evType, nullIfEmpty(ev.FamilyID), nullIfEmpty(ev.UserID), nullIfEmpty(ev.HashPrefix), metaVal, at)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
