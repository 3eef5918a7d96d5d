//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	audit "warden/pkg/platform/audit"
	auditpostgres "warden/pkg/platform/audit/store/postgres"
	txcontext "warden/pkg/platform/tx"
	"warden/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpostgres.Store
}

func TestAuditStoreSuite(t *testing.T) {
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = auditpostgres.New(s.postgres.DB)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events"))
}

func (s *AuditStoreSuite) event(correlationID, action string) audit.Event {
	return audit.Event{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Truncate(time.Microsecond),
		ActorID:       "orchestrator",
		ActorLevel:    "SYSTEM",
		Action:        action,
		Decision:      audit.DecisionAllow,
		Detail:        map[string]string{"target": "finance"},
	}
}

func (s *AuditStoreSuite) TestAppendAndListInOrder() {
	ctx := context.Background()
	first := s.event("corr-1", string(audit.EventCapabilityIssued))
	second := s.event("corr-1", string(audit.EventCapabilityAdmitted))
	other := s.event("corr-2", string(audit.EventContentScanned))

	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, other))
	s.Require().NoError(s.store.Append(ctx, second))

	events, err := s.store.ListByCorrelation(ctx, "corr-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(first.ID, events[0].ID)
	s.Equal(second.ID, events[1].ID)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal("finance", events[0].Detail["target"])

	recent, err := s.store.ListRecent(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal(other.ID, recent[0].ID)
	s.Equal(second.ID, recent[1].ID)
}

func (s *AuditStoreSuite) TestDuplicateIDIsIgnored() {
	ctx := context.Background()
	event := s.event("corr-dup", string(audit.EventContentBlocked))

	s.Require().NoError(s.store.Append(ctx, event))
	s.Require().NoError(s.store.Append(ctx, event))

	events, err := s.store.ListByCorrelation(ctx, "corr-dup")
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *AuditStoreSuite) TestRowsCannotBeUpdated() {
	ctx := context.Background()
	event := s.event("corr-immutable", string(audit.EventResponseValidated))
	s.Require().NoError(s.store.Append(ctx, event))

	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE audit_events SET decision = 'DENY' WHERE id = $1`, event.ID)
	s.Error(err)

	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM audit_events WHERE id = $1`, event.ID)
	s.Error(err)
}

func (s *AuditStoreSuite) TestAppendJoinsRolledBackTransaction() {
	ctx := context.Background()
	event := s.event("corr-tx", string(audit.EventCapabilityAdmitted))
	boom := errors.New("boom")

	err := txcontext.Run(ctx, s.postgres.DB, func(ctx context.Context) error {
		if err := s.store.Append(ctx, event); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	events, err := s.store.ListByCorrelation(ctx, "corr-tx")
	s.Require().NoError(err)
	s.Empty(events)
}
