package engine

import (
	"context"
	"time"

	"github.com/fsvxavier/odbcengine/bulk"
	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/executor"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/pool"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/stmtcache"
	"github.com/fsvxavier/odbcengine/streaming"
	"github.com/fsvxavier/odbcengine/txn"
	"github.com/fsvxavier/odbcengine/worker"
)

// Connection is a single checked-out connection from a Session's pool.
// Every native-facing operation is dispatched through the session's
// worker, so a blocking driver call never runs on the caller's goroutine,
// per spec.md §4.9.
type Connection struct {
	session *Session
	pool    *pool.Pool
	id      handleman.ID
	handle  odbcapi.Handle

	// defaultQueryTimeout and defaultResultCap are engineconfig.ConnectOptions'
	// per-connection defaults (spec.md §3), applied whenever a call doesn't
	// supply its own ctx deadline / executor.Options.ResultBufferCap.
	defaultQueryTimeout time.Duration
	defaultResultCap    int

	txn    *txn.Txn
	stream *streaming.Stream
}

// run dispatches fn on the session's worker under the worker's default
// request timeout.
func (c *Connection) run(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	return c.session.Worker.Submit(ctx, worker.Request{Op: op, Run: fn})
}

// withQueryTimeout applies the connection's default query timeout when ctx
// doesn't already carry its own deadline, per spec.md §3's
// DefaultQueryTimeout attribute.
func (c *Connection) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.defaultQueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.defaultQueryTimeout)
}

// withResultCap fills in opts.ResultBufferCap from the connection's default
// when the caller left it unset, per spec.md §3's ResultBufferCap attribute.
func (c *Connection) withResultCap(opts executor.Options) executor.Options {
	if opts.ResultBufferCap == 0 {
		opts.ResultBufferCap = c.defaultResultCap
	}
	return opts
}

// Select runs a single-shot SELECT and returns its framed result buffer
// (C6), per spec.md §4.6.
func (c *Connection) Select(ctx context.Context, sql string, opts executor.Options) ([]byte, error) {
	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()
	opts = c.withResultCap(opts)
	val, err := c.run(ctx, "select", func(ctx context.Context) (interface{}, error) {
		return executor.Select(ctx, c.session.api, c.handle, sql, opts)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Execute runs a parameterized INSERT/UPDATE/DELETE/DDL statement (C6),
// reusing a prepared statement from the session's shared cache (C5) when
// the same (connection, SQL text) pair has been seen before.
func (c *Connection) Execute(ctx context.Context, sql string, params []protocol.ParamValue, opts executor.Options) ([]byte, error) {
	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()
	opts = c.withResultCap(opts)
	val, err := c.run(ctx, "execute", func(ctx context.Context) (interface{}, error) {
		return executor.ExecuteCached(ctx, c.session.api, c.session.cache, c.id, c.handle, sql, params, opts)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// MultiResult runs a statement that may produce more than one result set
// (e.g. a stored procedure call), per spec.md §4.6.
func (c *Connection) MultiResult(ctx context.Context, sql string, params []protocol.ParamValue, opts executor.Options) ([]byte, error) {
	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()
	opts = c.withResultCap(opts)
	val, err := c.run(ctx, "multi_result", func(ctx context.Context) (interface{}, error) {
		return executor.MultiResult(ctx, c.session.api, c.handle, sql, params, opts)
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// StreamStart opens a cursor-driven stream (C7). Only one stream may be
// open per connection at a time; handleman.Registry.HasOpenStream is what
// enforces that.
func (c *Connection) StreamStart(ctx context.Context, sql string, mode streaming.Mode, fetchSize int) error {
	val, err := c.run(ctx, "stream_start", func(ctx context.Context) (interface{}, error) {
		return streaming.Start(ctx, c.session.api, c.session.reg, c.id, c.handle, sql, mode, fetchSize)
	})
	if err != nil {
		return err
	}
	c.stream = val.(*streaming.Stream)
	return nil
}

// StreamFetch returns the next chunk (at most maxChunkBytes) of the open
// stream, per spec.md §4.7. Fetch itself is not dispatched through the
// worker: it only drains an already-produced batch/buffer and never
// blocks on a native call.
func (c *Connection) StreamFetch(maxChunkBytes int) (data []byte, hasMore bool, err error) {
	if c.stream == nil {
		return nil, false, classify.New(classify.Validation, "engine: no open stream on this connection")
	}
	return c.stream.Fetch(maxChunkBytes)
}

// StreamClose closes the open stream (C7).
func (c *Connection) StreamClose(ctx context.Context) error {
	if c.stream == nil {
		return nil
	}
	s := c.stream
	c.stream = nil
	_, err := c.run(ctx, "stream_close", func(ctx context.Context) (interface{}, error) {
		return nil, s.Close()
	})
	return err
}

// BeginTxn starts a transaction at the given isolation level (C4).
func (c *Connection) BeginTxn(ctx context.Context, level txn.IsoLevel) error {
	if c.txn != nil {
		return classify.New(classify.Transaction, "engine: a transaction is already active on this connection")
	}
	val, err := c.run(ctx, "begin_txn", func(ctx context.Context) (interface{}, error) {
		return txn.Begin(c.session.api, c.session.reg, c.id, c.handle, level, c.session.log)
	})
	if err != nil {
		return err
	}
	c.txn = val.(*txn.Txn)
	return nil
}

func (c *Connection) requireTxn() (*txn.Txn, error) {
	if c.txn == nil {
		return nil, classify.New(classify.Transaction, "engine: no active transaction on this connection")
	}
	return c.txn, nil
}

// Commit commits the open transaction.
func (c *Connection) Commit(ctx context.Context) error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "commit", func(ctx context.Context) (interface{}, error) { return nil, t.Commit() })
	c.txn = nil
	return err
}

// Rollback rolls back the open transaction.
func (c *Connection) Rollback(ctx context.Context) error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "rollback", func(ctx context.Context) (interface{}, error) { return nil, t.Rollback() })
	c.txn = nil
	return err
}

// Savepoint creates a named savepoint within the open transaction.
func (c *Connection) Savepoint(ctx context.Context, name string) error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "savepoint", func(ctx context.Context) (interface{}, error) { return nil, t.Savepoint(name) })
	return err
}

// RollbackToSavepoint rolls back to a previously created savepoint.
func (c *Connection) RollbackToSavepoint(ctx context.Context, name string) error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "rollback_to_savepoint", func(ctx context.Context) (interface{}, error) { return nil, t.RollbackToSavepoint(name) })
	return err
}

// ReleaseSavepoint releases a previously created savepoint.
func (c *Connection) ReleaseSavepoint(ctx context.Context, name string) error {
	t, err := c.requireTxn()
	if err != nil {
		return err
	}
	_, err = c.run(ctx, "release_savepoint", func(ctx context.Context) (interface{}, error) { return nil, t.ReleaseSavepoint(name) })
	return err
}

// BulkInsertArray array-binds buf's rows in batchSize groups on this
// connection (C8).
func (c *Connection) BulkInsertArray(ctx context.Context, buf *bulk.Buffer, batchSize int) (int64, error) {
	val, err := c.run(ctx, "bulk_insert", func(ctx context.Context) (interface{}, error) {
		return bulk.ArrayInsert(ctx, c.session.api, c.handle, buf, batchSize)
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

// BulkInsertParallel splits buf across workers pool connections checked
// out from this connection's pool (C8).
func (c *Connection) BulkInsertParallel(ctx context.Context, buf *bulk.Buffer, workers, batchSize int) (int64, error) {
	val, err := c.run(ctx, "bulk_insert_parallel", func(ctx context.Context) (interface{}, error) {
		return bulk.ParallelInsert(ctx, c.session.api, c.pool, buf, workers, batchSize)
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

// CatalogTables returns the standard result buffer over
// INFORMATION_SCHEMA.TABLES, satisfying the catalog_tables entrypoint
// (spec.md §6).
func (c *Connection) CatalogTables(ctx context.Context, opts executor.Options) ([]byte, error) {
	const sql = `SELECT TABLE_CATALOG, TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES`
	return c.Select(ctx, sql, opts)
}

// CatalogColumns returns the standard result buffer over
// INFORMATION_SCHEMA.COLUMNS for the given table, satisfying the
// catalog_columns entrypoint (spec.md §6).
func (c *Connection) CatalogColumns(ctx context.Context, table string, opts executor.Options) ([]byte, error) {
	const sql = `SELECT TABLE_NAME, COLUMN_NAME, ORDINAL_POSITION, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_NAME = ?`
	return c.Execute(ctx, sql, []protocol.ParamValue{protocol.StringParam(table)}, opts)
}

// CatalogTypeInfo returns the standard result buffer over the distinct
// DATA_TYPE values of INFORMATION_SCHEMA.COLUMNS, satisfying the
// catalog_type_info entrypoint (spec.md §6). Only types used by at least
// one column are listed; no other catalog view is queried.
func (c *Connection) CatalogTypeInfo(ctx context.Context, opts executor.Options) ([]byte, error) {
	const sql = `SELECT DISTINCT DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS`
	return c.Select(ctx, sql, opts)
}

// Cancel corresponds to the cancel(stmtId) entrypoint (spec.md §4.9/§6).
// True per-statement cancellation is an explicit spec Non-goal: no
// statement in this engine is registered with an externally-addressable
// id (handleman.Registry.RegisterStmt has no caller), so there is nothing
// a stmtID could resolve to yet. This always returns
// classify.UnsupportedFeature, matching "Returns UnsupportedFeature in
// current revision" — the native odbcapi.NativeAPI.Cancel method exists
// for the day a background-execution-context path is added, but is
// deliberately not invoked here.
func (c *Connection) Cancel(stmtID handleman.ID) error {
	return classify.New(classify.UnsupportedFeature, "engine: statement cancellation is not supported in this revision; use a query timeout instead")
}

// Metrics returns the session's shared prepared-statement cache metrics
// (C5), satisfying the get_metrics entrypoint (spec.md §6) for the cache
// dimension. Worker and pool metrics are exported through the
// telemetry/metrics.Registry passed to engine.Open instead, per that
// entrypoint's "status" framing.
func (c *Connection) Metrics() stmtcache.Metrics {
	return c.session.cache.Metrics()
}

// Close releases the connection back to its pool. If a transaction is
// still open, it is rolled back first (txn.abandon's RAII-on-destroy
// behavior covers the handle-manager side; this covers the caller-visible
// Connection side).
func (c *Connection) Close(ctx context.Context) error {
	if c.txn != nil {
		_ = c.Rollback(ctx)
	}
	if c.stream != nil {
		_ = c.StreamClose(ctx)
	}
	c.pool.Release(c.id)
	return nil
}
