package delegation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"warden/internal/identity"
	"warden/pkg/platform/sentinel"
	txcontext "warden/pkg/platform/tx"
)

// PostgresStore persists grants in the delegation_grants table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const grantColumns = `id, caller, target, max_level, reason, issued_by, issued_at, expires_at, revoked_at, signature`

func (s *PostgresStore) Save(ctx context.Context, grant *Grant) error {
	id, err := uuid.Parse(grant.ID)
	if err != nil {
		return fmt.Errorf("parse grant id: %w", err)
	}
	query := `
		INSERT INTO delegation_grants (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx, query,
		id,
		string(grant.Caller),
		string(grant.Target),
		grant.MaxLevel.String(),
		grant.Reason,
		string(grant.IssuedBy),
		grant.IssuedAt,
		grant.ExpiresAt,
		grant.RevokedAt,
		grant.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("grant %s: %w", grant.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Grant, error) {
	gid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	row := txcontext.ExecutorFor(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM delegation_grants WHERE id = $1`, gid)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	return g, err
}

func (s *PostgresStore) Revoke(ctx context.Context, id string, at time.Time) error {
	gid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	exec := txcontext.ExecutorFor(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE delegation_grants SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, gid, at)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM delegation_grants WHERE id = $1)`, gid).Scan(&exists); err != nil {
		return fmt.Errorf("check grant: %w", err)
	}
	if !exists {
		return fmt.Errorf("grant %s: %w", id, sentinel.ErrNotFound)
	}
	return fmt.Errorf("grant %s already revoked: %w", id, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListActive(ctx context.Context, caller, target identity.AgentID, now time.Time) ([]*Grant, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM delegation_grants
		WHERE caller = $1 AND target = $2 AND revoked_at IS NULL AND expires_at > $3
		ORDER BY issued_at, id
	`, string(caller), string(target), now)
	if err != nil {
		return nil, fmt.Errorf("query active grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *PostgresStore) List(ctx context.Context) ([]*Grant, error) {
	rows, err := txcontext.ExecutorFor(ctx, s.db).QueryContext(ctx,
		`SELECT `+grantColumns+` FROM delegation_grants ORDER BY issued_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := txcontext.ExecutorFor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM delegation_grants WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired grants: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired grants: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*Grant, error) {
	var (
		g         Grant
		id        uuid.UUID
		caller    string
		target    string
		level     string
		issuedBy  string
		revokedAt sql.NullTime
	)
	if err := row.Scan(&id, &caller, &target, &level, &g.Reason, &issuedBy,
		&g.IssuedAt, &g.ExpiresAt, &revokedAt, &g.Signature); err != nil {
		return nil, err
	}
	parsed, err := identity.ParsePrivilegeLevel(level)
	if err != nil {
		return nil, fmt.Errorf("grant %s: %w", id, err)
	}
	g.ID = id.String()
	g.Caller = identity.AgentID(caller)
	g.Target = identity.AgentID(target)
	g.MaxLevel = parsed
	g.IssuedBy = identity.AgentID(issuedBy)
	if revokedAt.Valid {
		at := revokedAt.Time
		g.RevokedAt = &at
	}
	return &g, nil
}

func scanGrants(rows *sql.Rows) ([]*Grant, error) {
	var out []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return out, nil
}
