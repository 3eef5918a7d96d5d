package replay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"warden/pkg/platform/sentinel"
	txcontext "warden/pkg/platform/tx"
)

const defaultCleanupBatch = 1000

// Postgres records nonces in capability_nonces. Consume inserts the nonce
// and runs commit in one transaction carried through the context, so a
// store that joins it (the Postgres audit store does) commits or rolls back
// together with the nonce.
type Postgres struct {
	db    *sql.DB
	batch int
}

type PostgresOption func(*Postgres)

func WithCleanupBatch(n int) PostgresOption {
	return func(p *Postgres) {
		if n > 0 {
			p.batch = n
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, batch: defaultCleanupBatch}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Postgres) Seen(ctx context.Context, nonce string) (bool, error) {
	var seen bool
	err := txcontext.ExecutorFor(ctx, p.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM capability_nonces WHERE nonce = $1)`, nonce).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	return seen, nil
}

func (p *Postgres) Consume(ctx context.Context, nonce string, expiresAt time.Time, commit CommitFunc) error {
	if nonce == "" {
		return fmt.Errorf("nonce is required: %w", sentinel.ErrInvalidState)
	}
	return txcontext.Run(ctx, p.db, func(ctx context.Context) error {
		res, err := txcontext.ExecutorFor(ctx, p.db).ExecContext(ctx, `
			INSERT INTO capability_nonces (nonce, expires_at)
			VALUES ($1, $2)
			ON CONFLICT (nonce) DO NOTHING
		`, nonce, expiresAt)
		if err != nil {
			return fmt.Errorf("consume nonce: %w: %w", sentinel.ErrUnavailable, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume nonce: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("nonce %s: %w", nonce, sentinel.ErrAlreadyUsed)
		}
		if commit == nil {
			return nil
		}
		return commit(ctx)
	})
}

// Cleanup deletes nonces that expired before now, one batch at a time, and
// returns how many were removed.
func (p *Postgres) Cleanup(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		nonces, err := p.expiredBatch(ctx, now)
		if err != nil {
			return total, err
		}
		if len(nonces) == 0 {
			return total, nil
		}
		res, err := p.db.ExecContext(ctx,
			`DELETE FROM capability_nonces WHERE nonce = ANY($1)`, pq.Array(nonces))
		if err != nil {
			return total, fmt.Errorf("delete expired nonces: %w", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		if len(nonces) < p.batch {
			return total, nil
		}
	}
}

func (p *Postgres) expiredBatch(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT nonce FROM capability_nonces WHERE expires_at < $1 LIMIT $2`, now, p.batch)
	if err != nil {
		return nil, fmt.Errorf("query expired nonces: %w", err)
	}
	defer rows.Close()
	var nonces []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan nonce: %w", err)
		}
		nonces = append(nonces, n)
	}
	return nonces, rows.Err()
}
