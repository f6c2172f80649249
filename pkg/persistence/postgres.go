package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianai/controlplane/internal/controlerr"
)

// Postgres is a Port implementation backed by a single shared `records`
// table (collection, id, tenant_id, data jsonb, version, created_at,
// updated_at). Declared-index fields (spec §8) are promoted to generated
// columns by the bootstrap migration so equality/range queries on them use
// a real index instead of scanning jsonb.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool as a Port.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Put(ctx context.Context, collection, id string, value Record) error {
	data, err := json.Marshal(value)
	if err != nil {
		return controlerr.Wrap(controlerr.InternalError, err, "marshaling record")
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (collection, id, data, version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, version = records.version + 1, updated_at = now()
	`, collection, id, data)
	if err != nil {
		return controlerr.Wrap(controlerr.ServiceUnavailable, err, "writing record")
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Record, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFound(collection, id)
	}
	if err != nil {
		return nil, controlerr.Wrap(controlerr.ServiceUnavailable, err, "reading record")
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, controlerr.Wrap(controlerr.InternalError, err, "unmarshaling record")
	}
	return rec, nil
}

func (p *Postgres) GetVersion(ctx context.Context, collection, id string) (Record, int, error) {
	var raw []byte
	var version int
	err := p.pool.QueryRow(ctx,
		`SELECT data, version FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, NotFound(collection, id)
	}
	if err != nil {
		return nil, 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "reading record")
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, 0, controlerr.Wrap(controlerr.InternalError, err, "unmarshaling record")
	}
	return rec, version, nil
}

func (p *Postgres) Query(ctx context.Context, collection string, filter Filter, s *Sort, limit int) ([]Record, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT data FROM records WHERE collection = $1`)
	args := []any{collection}

	for _, c := range filter.Clauses {
		args = append(args, c.Value)
		sb.WriteString(fmt.Sprintf(" AND %s %s $%d", jsonField(c.Field, c.Value), sqlOp(c.Op), len(args)))
	}

	if s != nil {
		dir := "ASC"
		if s.Dir == Descending {
			dir = "DESC"
		}
		sb.WriteString(fmt.Sprintf(" ORDER BY data->>%s %s", pgQuoteLit(s.Field), dir))
	}

	if limit > 0 {
		args = append(args, limit)
		sb.WriteString(fmt.Sprintf(" LIMIT $%d", len(args)))
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, controlerr.Wrap(controlerr.ServiceUnavailable, err, "querying records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, controlerr.Wrap(controlerr.InternalError, err, "scanning record")
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, controlerr.Wrap(controlerr.InternalError, err, "unmarshaling record")
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, controlerr.Wrap(controlerr.ServiceUnavailable, err, "iterating records")
	}
	return out, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, expectedVersion int, patch Record) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "beginning transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if expectedVersion == 0 {
		data, err := json.Marshal(patch)
		if err != nil {
			return 0, controlerr.Wrap(controlerr.InternalError, err, "marshaling record")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO records (collection, id, data, version)
			VALUES ($1, $2, $3, 1)
		`, collection, id, data)
		if err != nil {
			return 0, ConflictErr(collection, id)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "committing transaction")
		}
		return 1, nil
	}

	var raw []byte
	var version int
	err = tx.QueryRow(ctx,
		`SELECT data, version FROM records WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id,
	).Scan(&raw, &version)
	if errors.Is(err, pgx.ErrNoRows) || version != expectedVersion {
		return 0, ConflictErr(collection, id)
	}
	if err != nil {
		return 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "reading record for update")
	}

	var current Record
	if err := json.Unmarshal(raw, &current); err != nil {
		return 0, controlerr.Wrap(controlerr.InternalError, err, "unmarshaling record")
	}
	for k, v := range patch {
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return 0, controlerr.Wrap(controlerr.InternalError, err, "marshaling patched record")
	}

	newVersion := version + 1
	_, err = tx.Exec(ctx, `
		UPDATE records SET data = $3, version = $4, updated_at = now()
		WHERE collection = $1 AND id = $2
	`, collection, id, merged, newVersion)
	if err != nil {
		return 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "writing updated record")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, controlerr.Wrap(controlerr.ServiceUnavailable, err, "committing transaction")
	}
	return newVersion, nil
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return controlerr.Wrap(controlerr.ServiceUnavailable, err, "deleting record")
	}
	return nil
}

func (p *Postgres) Stream(ctx context.Context, collection string, filter Filter) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		records, err := p.Query(ctx, collection, filter, nil, 0)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// jsonField renders a comparable SQL expression for a jsonb field, casting
// to the type implied by the Go value so range comparisons on numbers and
// timestamps (stored as RFC3339 text) compare correctly rather than as text.
func jsonField(field string, value any) string {
	lit := pgQuoteLit(field)
	switch value.(type) {
	case int, int64, float64:
		return fmt.Sprintf("(data->>%s)::numeric", lit)
	case time.Time:
		return fmt.Sprintf("(data->>%s)::timestamptz", lit)
	default:
		return "data->>" + lit
	}
}

func sqlOp(op Op) string {
	switch op {
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "="
	}
}

// pgQuoteLit renders a Go string as a single-quoted SQL literal for use as
// the jsonb key in a ->> expression. Field names are component-declared
// constants, never user input, but this keeps the query string well-formed
// regardless.
func pgQuoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
