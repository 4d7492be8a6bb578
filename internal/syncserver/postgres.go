package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

// PostgresStore persists records in a sync_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database, runs migrations, and returns the
// store.
func NewPostgresStore(ctx context.Context, databaseURL string, log logger.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := RunMigrations(pool, log); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) List(ctx context.Context, ownerID, collection string) ([]StoredRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, data, last_modified FROM sync_records
		 WHERE owner_id = $1 AND collection = $2 ORDER BY key`,
		ownerID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		rec := StoredRecord{OwnerID: ownerID}
		var data []byte
		var lastModified int64
		if err := rows.Scan(&rec.Key, &data, &lastModified); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Data = json.RawMessage(data)
		rec.LastModified = model.Timestamp(lastModified)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, ownerID, collection, key string) (*StoredRecord, error) {
	rec := StoredRecord{Key: key, OwnerID: ownerID}
	var data []byte
	var lastModified int64
	err := s.pool.QueryRow(ctx,
		`SELECT data, last_modified FROM sync_records
		 WHERE owner_id = $1 AND collection = $2 AND key = $3`,
		ownerID, collection, key).Scan(&data, &lastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}
	rec.Data = json.RawMessage(data)
	rec.LastModified = model.Timestamp(lastModified)
	return &rec, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, ownerID, collection string, record StoredRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_records (owner_id, collection, key, data, last_modified)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, collection, key)
		 DO UPDATE SET data = EXCLUDED.data, last_modified = EXCLUDED.last_modified`,
		ownerID, collection, record.Key, []byte(record.Data), int64(record.LastModified))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
