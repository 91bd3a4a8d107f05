package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage persists audit events into the security_audit_log table.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a Postgres-backed audit storage.
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	if pool == nil {
		panic("audit: pool cannot be nil")
	}
	return &PostgresStorage{pool: pool}
}

const insertEventSQL = `
INSERT INTO security_audit_log (id, organization_id, user_id, action, result, error, ip, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// Store inserts a single event row.
func (s *PostgresStorage) Store(ctx context.Context, event Event) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return errors.Join(ErrStorageFailure, err)
		}
	}

	_, err := s.pool.Exec(ctx, insertEventSQL,
		event.ID,
		nilIfEmpty(event.OrganizationID),
		nilIfEmpty(event.UserID),
		event.Action,
		string(event.Result),
		nilIfEmpty(event.Error),
		nilIfEmpty(event.IP),
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return errors.Join(ErrStorageFailure, err)
	}
	return nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
