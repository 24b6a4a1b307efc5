// Package pgstore stores documents as JSONB rows in PostgreSQL and turns row
// updates into change events through LISTEN/NOTIFY.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// NotifyChannel is the LISTEN channel fed by the documents update trigger.
const NotifyChannel = "document_updated"

// maxInlinePayload keeps notifications under the 8000 byte NOTIFY limit.
// Larger changes are written to document_changes and referenced by seq.
const maxInlinePayload = 7000

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::jsonb,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS document_changes (
    seq BIGSERIAL PRIMARY KEY,
    collection TEXT NOT NULL,
    document_id TEXT NOT NULL,
    version BIGINT NOT NULL,
    before_data JSONB,
    after_data JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS document_changes_created_at ON document_changes (created_at);

CREATE OR REPLACE FUNCTION notify_document_updated() RETURNS trigger AS $$
DECLARE
    change_id TEXT := NEW.collection || '/' || NEW.id || '@' || NEW.version;
    payload TEXT;
    change_seq BIGINT;
BEGIN
    payload := json_build_object(
        'id', change_id,
        'collection', NEW.collection,
        'document_id', NEW.id,
        'version', NEW.version,
        'before', OLD.data,
        'after', NEW.data
    )::text;
    IF octet_length(payload) > {{MAX_INLINE}} THEN
        INSERT INTO document_changes (collection, document_id, version, before_data, after_data)
        VALUES (NEW.collection, NEW.id, NEW.version, OLD.data, NEW.data)
        RETURNING seq INTO change_seq;
        payload := json_build_object(
            'id', change_id,
            'collection', NEW.collection,
            'document_id', NEW.id,
            'version', NEW.version,
            'change', change_seq
        )::text;
    END IF;
    PERFORM pg_notify('document_updated', payload);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_updated ON documents;
CREATE TRIGGER documents_updated
    AFTER UPDATE ON documents
    FOR EACH ROW
    WHEN ({{WATCHED}}OLD.data IS DISTINCT FROM NEW.data)
    EXECUTE FUNCTION notify_document_updated();

DELETE FROM document_changes WHERE created_at < NOW() - INTERVAL '1 day';
`

// buildSchema renders the schema with the notify trigger limited to the
// watched collections. No collections means every collection is watched.
func buildSchema(watched []string) (string, error) {
	cond := ""
	if len(watched) > 0 {
		quoted := make([]string, 0, len(watched))
		for _, c := range watched {
			if !docstore.ValidField(c) {
				return "", fmt.Errorf("%w: bad collection %q", docstore.ErrInvalidQuery, c)
			}
			quoted = append(quoted, "'"+c+"'")
		}
		cond = "NEW.collection IN (" + strings.Join(quoted, ", ") + ") AND "
	}
	return strings.NewReplacer(
		"{{MAX_INLINE}}", strconv.Itoa(maxInlinePayload),
		"{{WATCHED}}", cond,
	).Replace(schemaSQL), nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements docstore.Store and docstore.Watcher on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	db     querier
	logger zerolog.Logger
}

func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, db: pool, logger: logger}
}

// EnsureSchema creates the documents tables and the notify trigger. Only
// updates of the watched collections that change the data are announced.
func (s *Store) EnsureSchema(ctx context.Context, watched ...string) error {
	sql, err := buildSchema(watched)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, sql); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	d, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT id, data, version FROM documents WHERE collection = $1 AND id = $2`, collection, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return d, nil
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("create %s: marshal: %w", collection, err)
	}
	id := uuid.NewString()
	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(data))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, docstore.ErrAlreadyExists
		}
		return nil, fmt.Errorf("create %s: %w", collection, err)
	}
	return s.Get(ctx, collection, id)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: marshal: %w", collection, id, err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET data = data || $3::jsonb, version = version + 1, updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		collection, id, string(data))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Increment adds delta inside a single UPDATE, so concurrent writers are
// serialized by the row lock instead of racing on a read.
func (s *Store) Increment(ctx context.Context, collection, id, field string, delta int64) error {
	if !docstore.ValidField(field) {
		return fmt.Errorf("%w: bad field %q", docstore.ErrInvalidQuery, field)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE documents
		SET data = jsonb_set(data, ARRAY[$3::text], to_jsonb(COALESCE((data->>($3::text))::bigint, 0) + $4::bigint)),
		    version = version + 1,
		    updated_at = NOW()
		WHERE collection = $1 AND id = $2`,
		collection, id, field, delta)
	if err != nil {
		return fmt.Errorf("increment %s/%s.%s: %w", collection, id, field, err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Claim(ctx context.Context, collection, id string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id) VALUES ($1, $2) ON CONFLICT (collection, id) DO NOTHING`,
		collection, id)
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", collection, id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanDocument(row pgx.Row) (*docstore.Document, error) {
	var (
		d    docstore.Document
		data []byte
	)
	if err := row.Scan(&d.ID, &data, &d.Version); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &d.Fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	if d.Fields == nil {
		d.Fields = map[string]interface{}{}
	}
	return &d, nil
}
