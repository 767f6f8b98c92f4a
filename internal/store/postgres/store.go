// Package postgres stores incident documents as JSONB rows in PostgreSQL.
// It is an alternative to Elasticsearch for deployments that already run a
// database.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Horgix/incidents-automation-app/internal/incidents"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // registers the postgres:// driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements incidents.SearchStore using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations to databaseURL.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if srcErr, dbErr := migrator.Close(); srcErr != nil || dbErr != nil {
			slog.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// EnsureIndex is a no-op: indexes are a column of the documents table,
// created by the migrations.
func (s *Store) EnsureIndex(_ context.Context, index string) error {
	if index == "" {
		return errors.New("index name is empty")
	}
	return nil
}

// IndexDocument creates or replaces the document with the given id.
func (s *Store) IndexDocument(ctx context.Context, index, id string, body []byte) error {
	query := `
		INSERT INTO incident_documents (index_name, id, body, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (index_name, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, index, id, body); err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

// RefreshIndex is a no-op: committed rows are immediately visible.
func (s *Store) RefreshIndex(_ context.Context, _ string) error {
	return nil
}

// Query returns the documents whose top level field equals the filter
// value, ordered by id.
func (s *Store) Query(ctx context.Context, index string, filter incidents.Filter) ([][]byte, error) {
	query := `
		SELECT body
		FROM incident_documents
		WHERE index_name = $1 AND body->>$2 = $3
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, index, filter.Field, filter.Value)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
