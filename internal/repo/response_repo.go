package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// schema — таблица архива ответов.
// (stream, stream_id) уникальны: повторная вставка той же записи игнорируется.
const schema = `
CREATE TABLE IF NOT EXISTS responses (
	stream      TEXT        NOT NULL,
	stream_id   TEXT        NOT NULL,
	ref         TEXT        NOT NULL,
	worker_type TEXT        NOT NULL,
	request_id  TEXT        NOT NULL DEFAULT '',
	code        INTEGER     NOT NULL,
	result      JSONB       NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (stream, stream_id)
);
CREATE INDEX IF NOT EXISTS responses_ref_idx ON responses (ref);
`

// ResponseRepo — архив записей response stream'ов.
type ResponseRepo struct {
	pool *pgxpool.Pool
}

// NewResponseRepo создаёт новый ResponseRepo.
func NewResponseRepo(pool *pgxpool.Pool) *ResponseRepo {
	return &ResponseRepo{pool: pool}
}

// EnsureSchema создаёт таблицу архива, если её нет.
func (r *ResponseRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Insert сохраняет запись. Возвращает false, если запись уже была в архиве.
func (r *ResponseRepo) Insert(ctx context.Context, e *domain.ResponseEntry) (bool, error) {
	if err := validateEntry(e); err != nil {
		return false, err
	}

	query := `
		INSERT INTO responses (stream, stream_id, ref, worker_type, request_id, code, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stream, stream_id) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query,
		e.Stream,
		e.ID,
		e.Ref,
		e.Type,
		e.RequestID,
		e.Code,
		e.Result,
		e.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert response %s %s: %w", e.Stream, e.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByRef возвращает все заархивированные ответы на ref в порядке создания.
func (r *ResponseRepo) ListByRef(ctx context.Context, ref string) ([]domain.ResponseEntry, error) {
	query := `
		SELECT stream, stream_id, ref, worker_type, request_id, code, result::text, created_at
		FROM responses
		WHERE ref = $1
		ORDER BY created_at, stream_id
	`
	rows, err := r.pool.Query(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("scan responses: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: ref %s", ErrNotFound, ref)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (domain.ResponseEntry, error) {
	var (
		e         domain.ResponseEntry
		createdAt time.Time
	)
	err := row.Scan(&e.Stream, &e.ID, &e.Ref, &e.Type, &e.RequestID, &e.Code, &e.Result, &createdAt)
	e.CreatedAt = createdAt.UTC()
	return e, err
}

func validateEntry(e *domain.ResponseEntry) error {
	switch {
	case e == nil:
		return fmt.Errorf("%w: nil", ErrInvalidEntry)
	case e.Stream == "" || e.ID == "":
		return fmt.Errorf("%w: missing stream or id", ErrInvalidEntry)
	case e.Ref == "":
		return fmt.Errorf("%w: %s %s without ref", ErrInvalidEntry, e.Stream, e.ID)
	case e.Result == "":
		return fmt.Errorf("%w: %s %s without result", ErrInvalidEntry, e.Stream, e.ID)
	}
	return nil
}
