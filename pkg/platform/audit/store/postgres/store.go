package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "warden/pkg/platform/audit"
	txcontext "warden/pkg/platform/tx"
)

// Store implements audit.Store on an append-only audit_events table. The
// seq column is the authoritative append order. Appends join a transaction
// carried in the context so callers can make an audit write part of a
// larger unit of work.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `id, correlation_id, timestamp, actor_id, actor_level, action, decision, category, detail`

// Append inserts event. Events with an id that already exists are ignored,
// which makes redelivery from sinks idempotent.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := parseOrNewID(event.ID)
	if err != nil {
		return err
	}
	detail, err := json.Marshal(orEmpty(event.Detail))
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	query := `
		INSERT INTO audit_events (
			id, correlation_id, timestamp, actor_id, actor_level,
			action, decision, category, detail
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		eventID,
		event.CorrelationID,
		event.Timestamp,
		event.ActorID,
		event.ActorLevel,
		event.Action,
		string(event.Decision),
		string(category),
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByCorrelation(ctx context.Context, correlationID string) ([]audit.Event, error) {
	return s.ListByCorrelations(ctx, []string{correlationID})
}

// ListByCorrelations returns events for any of ids in append order.
func (s *Store) ListByCorrelations(ctx context.Context, ids []string) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + `
		FROM audit_events
		WHERE correlation_id = ANY($1)
		ORDER BY seq ASC
	`
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT ` + selectColumns + ` FROM (
			SELECT seq, ` + selectColumns + `
			FROM audit_events
			ORDER BY seq DESC
			LIMIT $1
		) recent
		ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event    audit.Event
			eventID  uuid.UUID
			decision string
			category string
			detail   []byte
		)
		if err := rows.Scan(
			&eventID,
			&event.CorrelationID,
			&event.Timestamp,
			&event.ActorID,
			&event.ActorLevel,
			&event.Action,
			&decision,
			&category,
			&detail,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.ID = eventID.String()
		event.Decision = audit.Decision(decision)
		event.Category = audit.EventCategory(category)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
			if len(event.Detail) == 0 {
				event.Detail = nil
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func parseOrNewID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse audit event id: %w", err)
	}
	return id, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
