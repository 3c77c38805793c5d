package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row, Rows, CommandTag and the query interfaces below narrow pgx down to
// what the backend uses so tests can fake the database.
type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

type CommandTag interface {
	RowsAffected() int64
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

type PgTx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type DB interface {
	Querier
	Begin(ctx context.Context) (PgTx, error)
	Ping(ctx context.Context) error
}

// PostgresBackend stores every collection in one JSONB table.
type PostgresBackend struct {
	db DB
}

func NewPostgresBackend(db DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Get(ctx context.Context, collection, id string) (*Document, error) {
	return pgGet(ctx, p.db, collection, id, false)
}

func (p *PostgresBackend) Set(ctx context.Context, collection, id string, data []byte) error {
	return pgSet(ctx, p.db, collection, id, data)
}

func (p *PostgresBackend) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return pgUpdate(ctx, p.db, collection, id, fields)
}

func (p *PostgresBackend) Delete(ctx context.Context, collection, id string) error {
	return pgDelete(ctx, p.db, collection, id)
}

func (p *PostgresBackend) Query(ctx context.Context, collection string, filters []Filter) ([]Document, error) {
	filter, err := filterJSON(filters)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx,
		`SELECT id, data FROM documents
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY id`,
		collection, string(filter),
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc := Document{Collection: collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	return docs, nil
}

func (p *PostgresBackend) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx BackendTx) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close is a no-op: the pool is owned by the database package.
func (p *PostgresBackend) Close() error {
	return nil
}

type postgresTx struct {
	tx PgTx
}

// Get locks the row until the transaction ends.
func (t *postgresTx) Get(ctx context.Context, collection, id string) (*Document, error) {
	return pgGet(ctx, t.tx, collection, id, true)
}

func (t *postgresTx) Set(ctx context.Context, collection, id string, data []byte) error {
	return pgSet(ctx, t.tx, collection, id, data)
}

func (t *postgresTx) Create(ctx context.Context, collection, id string, data []byte) error {
	return pgCreate(ctx, t.tx, collection, id, data)
}

func (t *postgresTx) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return pgUpdate(ctx, t.tx, collection, id, fields)
}

func (t *postgresTx) Delete(ctx context.Context, collection, id string) error {
	return pgDelete(ctx, t.tx, collection, id)
}

func pgGet(ctx context.Context, q Querier, collection, id string, forUpdate bool) (*Document, error) {
	sql := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	var data []byte
	err := q.QueryRow(ctx, sql, collection, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", collection, id, err)
	}
	return &Document{Collection: collection, ID: id, Data: json.RawMessage(data)}, nil
}

func pgSet(ctx context.Context, q Querier, collection, id string, data []byte) error {
	_, err := q.Exec(ctx,
		`INSERT INTO documents (collection, id, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id)
		 DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, string(data),
	)
	if err != nil {
		return fmt.Errorf("setting %s/%s: %w", collection, id, err)
	}
	return nil
}

// pgCreate inserts without overwriting. A concurrent insert of the same key
// blocks until the other transaction ends, then reports ErrAlreadyExists.
func pgCreate(ctx context.Context, q Querier, collection, id string, data []byte) error {
	result, err := q.Exec(ctx,
		`INSERT INTO documents (collection, id, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(data),
	)
	if err != nil {
		return fmt.Errorf("creating %s/%s: %w", collection, id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func pgUpdate(ctx context.Context, q Querier, collection, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding update: %w", err)
	}

	result, err := q.Exec(ctx,
		`UPDATE documents
		 SET data = data || $3::jsonb, updated_at = NOW()
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(patch),
	)
	if err != nil {
		return fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func pgDelete(ctx context.Context, q Querier, collection, id string) error {
	_, err := q.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// PoolAdapter exposes a pgxpool.Pool through DB.
type PoolAdapter struct {
	pool *pgxpool.Pool
}

func NewPoolAdapter(pool *pgxpool.Pool) *PoolAdapter {
	return &PoolAdapter{pool: pool}
}

func (a *PoolAdapter) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return a.pool.Exec(ctx, sql, args...)
}

func (a *PoolAdapter) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return a.pool.Query(ctx, sql, args...)
}

func (a *PoolAdapter) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return a.pool.QueryRow(ctx, sql, args...)
}

func (a *PoolAdapter) Begin(ctx context.Context) (PgTx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txAdapter{tx: tx}, nil
}

func (a *PoolAdapter) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

type txAdapter struct {
	tx pgx.Tx
}

func (t *txAdapter) Exec(ctx context.Context, sql string, args ...any) (CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t *txAdapter) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t *txAdapter) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *txAdapter) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *txAdapter) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
