package executor

import (
	"context"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/stmtcache"
)

// ExecuteCached is Execute's statement-cache-aware counterpart (C5+C6):
// sql is looked up in cache by (connID, normalized text) and only
// actually allocated/prepared on a miss, binding and executing the same
// way Execute does on a hit. Per spec.md §4.5, eviction frees the native
// statement handle of whatever falls off the LRU.
func ExecuteCached(ctx context.Context, api odbcapi.NativeAPI, cache *stmtcache.Cache, connID handleman.ID, conn odbcapi.Handle, sql string, params []protocol.ParamValue, opts Options) ([]byte, error) {
	prepare := func(_ handleman.ID, normalizedSQL string) (stmtcache.Stmt, error) {
		stmt, err := api.AllocStmt(conn)
		if err != nil {
			return stmtcache.Stmt{}, classify.Wrap(classify.Query, "executor: failed to allocate statement", err)
		}
		if err := api.Prepare(stmt, normalizedSQL); err != nil {
			cause := diagnosticOrWrap(api, stmt, "executor: prepare failed", err)
			api.FreeStmt(stmt, true)
			return stmtcache.Stmt{}, cause
		}
		return stmtcache.Stmt{Handle: stmt, ParamOrder: stmtcache.ExtractNamedParams(normalizedSQL)}, nil
	}
	evict := func(st *stmtcache.Stmt) error {
		return api.FreeHandle(odbcapi.HandleTypeStmt, st.Handle)
	}

	st, err := cache.Get(connID, sql, prepare, evict)
	if err != nil {
		return nil, err
	}

	if err := bindParams(api, st.Handle, params); err != nil {
		return nil, err
	}
	if err := api.Execute(ctx, st.Handle); err != nil {
		return nil, diagnosticOrWrap(api, st.Handle, "executor: cached execute failed", err)
	}
	return buildResult(api, st.Handle, opts)
}
