package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore persists requests in a single table keyed by id with a
// (status, kind) index for the sweep. The conditional UPDATE on
// (id, version) is the CAS primitive the whole system leans on.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const requestCols = `id, kind, requester_id, provider_id, status, cancelled_by, rebroadcasts, offer_expires_at, terms, version, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *models.Request) error {
	terms, err := json.Marshal(r.Terms)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidTerms, err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO requests(`+requestCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.Kind, r.RequesterID, nullable(r.ProviderID), r.Status, nullable(r.CancelledBy),
		r.Rebroadcasts, r.OfferExpiresAt, terms, r.Version, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestCols+` FROM requests WHERE id=$1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mut Mutation) (*models.Request, error) {
	// RETURNING hands back exactly the row this UPDATE committed; a
	// follow-up SELECT could observe a later writer's state instead.
	row := p.db.QueryRowContext(ctx, `
		UPDATE requests SET
			status           = $1,
			provider_id      = COALESCE($2, provider_id),
			cancelled_by     = COALESCE($3, cancelled_by),
			offer_expires_at = COALESCE($4, offer_expires_at),
			rebroadcasts     = COALESCE($5, rebroadcasts),
			version          = version + 1,
			updated_at       = $6
		WHERE id = $7 AND version = $8
		RETURNING `+requestCols,
		mut.Status, mut.ProviderID, mut.CancelledBy, mut.OfferExpiresAt, mut.Rebroadcasts,
		time.Now(), id, expectedVersion)
	updated, err := scanRequest(row)
	if errors.Is(err, models.ErrNotFound) {
		// no row matched: distinguish a missing row from a lost race
		if _, err := p.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, models.ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *PostgresStore) ListDue(ctx context.Context, status models.Status, before time.Time, limit int) ([]*models.Request, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestCols+` FROM requests WHERE status=$1 AND offer_expires_at < $2 ORDER BY offer_expires_at LIMIT $3`,
		status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*models.Request, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+requestCols+` FROM requests WHERE requester_id=$1 ORDER BY created_at DESC LIMIT $2`,
		requesterID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.Request, error) {
	var r models.Request
	var providerID, cancelledBy sql.NullString
	var terms []byte
	err := row.Scan(&r.ID, &r.Kind, &r.RequesterID, &providerID, &r.Status, &cancelledBy,
		&r.Rebroadcasts, &r.OfferExpiresAt, &terms, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	r.ProviderID = providerID.String
	r.CancelledBy = cancelledBy.String
	if err := json.Unmarshal(terms, &r.Terms); err != nil {
		return nil, fmt.Errorf("%w: bad terms payload: %v", models.ErrStoreUnavailable, err)
	}
	return &r, nil
}

func scanRequests(rows *sql.Rows) ([]*models.Request, error) {
	out := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
