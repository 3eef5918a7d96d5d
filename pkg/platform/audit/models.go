package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores
// and sinks can route or retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers trust decisions that must be retained:
	// capability grants, delegation changes, blocked content.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denials and detections that feed alerting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine verdicts useful for debugging.
	CategoryOperations EventCategory = "operations"
)

// Decision is the verdict recorded by an event.
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionDeny  Decision = "DENY"
	DecisionFlag  Decision = "FLAG"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionDeny, DecisionFlag:
		return true
	}
	return false
}

// Event is one append-only audit record. Detail values must already be
// masked; the trail masks them again before persisting.
type Event struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlation_id"`
	Timestamp     time.Time         `json:"timestamp"`
	ActorID       string            `json:"actor_id"`
	ActorLevel    string            `json:"actor_level,omitempty"`
	Action        string            `json:"action"`
	Decision      Decision          `json:"decision"`
	Category      EventCategory     `json:"category"`
	Detail        map[string]string `json:"detail,omitempty"`
}

type AuditEvent string

const (
	// Call bus
	EventCapabilityIssued   AuditEvent = "capability_issued"
	EventCapabilityDenied   AuditEvent = "capability_denied"
	EventCapabilityAdmitted AuditEvent = "capability_admitted"
	EventCapabilityRejected AuditEvent = "capability_rejected"

	// Delegation grants
	EventDelegationIssued  AuditEvent = "delegation_issued"
	EventDelegationRevoked AuditEvent = "delegation_revoked"
	EventDelegationUsed    AuditEvent = "delegation_used"
	EventDelegationDenied  AuditEvent = "delegation_denied"

	// Content pipeline
	EventContentScanned     AuditEvent = "content_scanned"
	EventContentBlocked     AuditEvent = "content_blocked"
	EventAttachmentSkipped  AuditEvent = "attachment_skipped"
	EventResponseValidated  AuditEvent = "response_validated"
	EventResponseRedacted   AuditEvent = "response_redacted"
	EventBackendUnavailable AuditEvent = "backend_unavailable"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCapabilityIssued:  CategoryCompliance,
	EventDelegationIssued:  CategoryCompliance,
	EventDelegationRevoked: CategoryCompliance,
	EventDelegationUsed:    CategoryCompliance,
	EventContentBlocked:    CategoryCompliance,
	EventResponseRedacted:  CategoryCompliance,

	EventCapabilityDenied:   CategorySecurity,
	EventCapabilityRejected: CategorySecurity,
	EventDelegationDenied:   CategorySecurity,

	EventCapabilityAdmitted: CategoryOperations,
	EventContentScanned:     CategoryOperations,
	EventAttachmentSkipped:  CategoryOperations,
	EventResponseValidated:  CategoryOperations,
	EventBackendUnavailable: CategoryOperations,
}

// Category returns the category for e. Unknown events are operational.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists events in append order.
type Store interface {
	Append(ctx context.Context, event Event) error
	// ListByCorrelation returns events for id in append order.
	ListByCorrelation(ctx context.Context, correlationID string) ([]Event, error)
	// ListRecent returns up to limit of the most recently appended events,
	// oldest first.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink receives events after they are durably stored. Sinks are best effort.
type Sink interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}
