package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"timeout/api/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection  text NOT NULL,
	id          text NOT NULL,
	version     bigint NOT NULL DEFAULT 1,
	data        jsonb NOT NULL,
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING gin (data);
`

// Postgres stores each document as a JSONB row with a version counter. A
// transaction reads versions up front and commits through a short pg
// transaction that locks the read set (FOR SHARE), re-checks versions and
// applies staged writes with version CAS.
type Postgres struct {
	pool        *pgxpool.Pool
	maxAttempts int
	retryBase   time.Duration
}

func NewPostgres(pool *pgxpool.Pool, cfg config.DocstoreConfig) *Postgres {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	retryBase := cfg.RetryBaseDelay
	if retryBase <= 0 {
		retryBase = 10 * time.Millisecond
	}
	return &Postgres{pool: pool, maxAttempts: maxAttempts, retryBase: retryBase}
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, collection, id string, out any) error {
	const query = `SELECT data FROM documents WHERE collection = $1 AND id = $2`

	var data []byte
	if err := s.pool.QueryRow(ctx, query, collection, id).Scan(&data); err != nil {
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return decodeDoc(data, out)
}

func (s *Postgres) List(ctx context.Context, collection string, q Query) ([][]byte, error) {
	sql, args, err := buildListQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func buildListQuery(collection string, q Query) (string, []any, error) {
	sql := `SELECT data FROM documents WHERE collection = $1`
	args := []any{collection}

	for _, field := range sortedKeys(q.Filter.Eq) {
		encoded, err := json.Marshal(q.Filter.Eq[field])
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %s: %w", field, err)
		}
		args = append(args, string(encoded))
		sql += fmt.Sprintf(` AND data->%s = $%d::jsonb`, quoteLiteral(field), len(args))
	}
	for _, field := range sortedKeys(q.Filter.In) {
		args = append(args, q.Filter.In[field])
		sql += fmt.Sprintf(` AND data->>%s = ANY($%d)`, quoteLiteral(field), len(args))
	}
	for _, field := range sortedKeys(q.Filter.Contains) {
		encoded, err := json.Marshal([]string{q.Filter.Contains[field]})
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %s: %w", field, err)
		}
		args = append(args, string(encoded))
		sql += fmt.Sprintf(` AND data->%s @> $%d::jsonb`, quoteLiteral(field), len(args))
	}

	if q.OrderByDesc != "" {
		// Ordering fields hold RFC3339 timestamps; comparing them as text
		// misorders sub-second ties because trailing fractional zeros are
		// trimmed at marshal time.
		sql += fmt.Sprintf(` ORDER BY (data->>%s)::timestamptz DESC`, quoteLiteral(q.OrderByDesc))
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	return sql, args, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteLiteral quotes a JSON field name for use as a jsonb path key. Field
// names come from code, never from request input.
func quoteLiteral(field string) string {
	return "'" + field + "'"
}

type docKey struct {
	collection string
	id         string
}

type readState struct {
	version int64
	found   bool
}

type stagedWrite struct {
	key  docKey
	data []byte
}

type pgTx struct {
	ctx    context.Context
	store  *Postgres
	reads  map[docKey]readState
	writes []stagedWrite
	order  map[docKey]int
}

func (t *pgTx) Get(collection, id string, out any) error {
	const query = `SELECT data, version FROM documents WHERE collection = $1 AND id = $2`

	key := docKey{collection, id}
	var data []byte
	var version int64
	err := t.store.pool.QueryRow(t.ctx, query, collection, id).Scan(&data, &version)
	if err == pgx.ErrNoRows {
		t.reads[key] = readState{found: false}
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("tx get %s/%s: %w", collection, id, err)
	}
	t.reads[key] = readState{version: version, found: true}
	return decodeDoc(data, out)
}

func (t *pgTx) Set(collection, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("tx set %s/%s: %w", collection, id, err)
	}
	key := docKey{collection, id}
	if idx, ok := t.order[key]; ok {
		t.writes[idx].data = data
		return nil
	}
	t.order[key] = len(t.writes)
	t.writes = append(t.writes, stagedWrite{key: key, data: data})
	return nil
}

func (s *Postgres) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		tx := &pgTx{
			ctx:   ctx,
			store: s,
			reads: make(map[docKey]readState),
			order: make(map[docKey]int),
		}
		if err := fn(tx); err != nil {
			return err
		}
		err := s.commit(ctx, tx)
		if err == nil {
			return nil
		}
		if err != ErrConflict {
			return err
		}
		select {
		case <-time.After(backoff(s.retryBase, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction attempts exhausted: %w", ErrConflict)
}

func (s *Postgres) commit(ctx context.Context, t *pgTx) error {
	if len(t.writes) == 0 {
		return nil
	}

	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer pgtx.Rollback(ctx)

	// Re-validate documents that were read but are not being written; the
	// FOR SHARE lock holds concurrent writers off until we commit.
	for key, state := range t.reads {
		if _, written := t.order[key]; written {
			continue
		}
		var version int64
		err := pgtx.QueryRow(ctx,
			`SELECT version FROM documents WHERE collection = $1 AND id = $2 FOR SHARE`,
			key.collection, key.id,
		).Scan(&version)
		switch {
		case err == pgx.ErrNoRows:
			if state.found {
				return ErrConflict
			}
		case err != nil:
			return fmt.Errorf("validate read %s/%s: %w", key.collection, key.id, err)
		case !state.found || version != state.version:
			return ErrConflict
		}
	}

	for _, w := range t.writes {
		state, read := t.reads[w.key]
		if read && state.found {
			tag, err := pgtx.Exec(ctx,
				`UPDATE documents SET data = $3, version = version + 1, updated_at = now()
				 WHERE collection = $1 AND id = $2 AND version = $4`,
				w.key.collection, w.key.id, w.data, state.version,
			)
			if err != nil {
				return fmt.Errorf("commit update %s/%s: %w", w.key.collection, w.key.id, err)
			}
			if tag.RowsAffected() == 0 {
				return ErrConflict
			}
			continue
		}

		tag, err := pgtx.Exec(ctx,
			`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			 ON CONFLICT (collection, id) DO NOTHING`,
			w.key.collection, w.key.id, w.data,
		)
		if err != nil {
			return fmt.Errorf("commit insert %s/%s: %w", w.key.collection, w.key.id, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base << attempt
	return d + time.Duration(rand.Int63n(int64(d)))
}
