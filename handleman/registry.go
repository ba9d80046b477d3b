// Package handleman is the engine's single handle registry (C2): it
// allocates monotonically increasing ids per handle kind, stores them in
// typed maps guarded by one mutex, and enforces the cascade-on-destroy
// rules that keep the id tree consistent. No other package is allowed to
// mutate these maps directly — everything goes through Registry so
// concurrent workers never observe a half-destroyed handle tree.
//
// Cascade-drop idiom is modeled on the teacher's pgx Pool (atomic closed
// flag plus mutex-guarded bookkeeping, Close() that refuses half-finished
// work) generalized from a single pool of connections to the full
// Env/Connection/Txn/Stmt/Stream/Pool ownership graph spec.md §3 describes.
package handleman

import (
	"fmt"
	"sync"
)

// ID is an opaque, process-local handle id. Zero is reserved as invalid.
type ID uint64

// Kind distinguishes the handle tables a caller can register into.
type Kind int

const (
	KindEnv Kind = iota
	KindConnection
	KindTxn
	KindStmt
	KindStream
	KindPool
)

func (k Kind) String() string {
	switch k {
	case KindEnv:
		return "env"
	case KindConnection:
		return "connection"
	case KindTxn:
		return "txn"
	case KindStmt:
		return "stmt"
	case KindStream:
		return "stream"
	case KindPool:
		return "pool"
	default:
		return "unknown"
	}
}

// Destroy releases whatever native resource a handle wraps. Registered by
// the caller at Register time; invoked at most once, during drop/cascade.
type Destroy func() error

type envRecord struct {
	destroy Destroy
	conns   map[ID]struct{}
}

type connRecord struct {
	destroy Destroy
	env     ID
	txns    map[ID]struct{}
	stmts   map[ID]struct{}
	streams map[ID]struct{}
}

type txnRecord struct {
	destroy Destroy // best-effort abandon-rollback; see AbandonActive
	conn    ID
}

type stmtRecord struct {
	destroy Destroy
	conn    ID
}

type streamRecord struct {
	destroy Destroy
	conn    ID
}

type poolRecord struct {
	members    map[ID]struct{}
	checkedOut map[ID]struct{}
}

// Registry is the sole owner of native handles. External callers hold only
// IDs, which carry no lifetime of their own.
type Registry struct {
	mu sync.Mutex

	nextID uint64

	envs    map[ID]*envRecord
	conns   map[ID]*connRecord
	txns    map[ID]*txnRecord
	stmts   map[ID]*stmtRecord
	streams map[ID]*streamRecord
	pools   map[ID]*poolRecord

	onCascadeWarning func(kind Kind, id ID, err error)
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		envs:    map[ID]*envRecord{},
		conns:   map[ID]*connRecord{},
		txns:    map[ID]*txnRecord{},
		stmts:   map[ID]*stmtRecord{},
		streams: map[ID]*streamRecord{},
		pools:   map[ID]*poolRecord{},
	}
}

// OnCascadeWarning installs a callback invoked whenever a cascade-triggered
// destroy fails (e.g. a best-effort rollback during Teardown). The
// callback must not call back into the Registry.
func (r *Registry) OnCascadeWarning(fn func(kind Kind, id ID, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCascadeWarning = fn
}

func (r *Registry) warn(kind Kind, id ID, err error) {
	if r.onCascadeWarning != nil {
		r.onCascadeWarning(kind, id, err)
	}
}

func (r *Registry) alloc() ID {
	r.nextID++
	return ID(r.nextID)
}

// RegisterEnv allocates the process-wide environment handle. spec.md §3
// requires at most one E exist at a time; callers are responsible for
// enforcing that (the engine facade holds the single env id).
func (r *Registry) RegisterEnv(destroy Destroy) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.alloc()
	r.envs[id] = &envRecord{destroy: destroy, conns: map[ID]struct{}{}}
	return id
}

// RegisterConnection allocates a connection id as a child of env.
func (r *Registry) RegisterConnection(env ID, destroy Destroy) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.envs[env]
	if !ok {
		return 0, fmt.Errorf("handleman: unknown env handle %d", env)
	}
	id := r.alloc()
	r.conns[id] = &connRecord{
		destroy: destroy,
		env:     env,
		txns:    map[ID]struct{}{},
		stmts:   map[ID]struct{}{},
		streams: map[ID]struct{}{},
	}
	e.conns[id] = struct{}{}
	return id, nil
}

// RegisterTxn allocates a transaction id as a child of conn. spec.md §3
// requires at most one Active T per C; enforcing "at most one" is the
// caller's job (the engine facade) since Registry only tracks existence, not
// transaction state.
func (r *Registry) RegisterTxn(conn ID, destroy Destroy) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[conn]
	if !ok {
		return 0, fmt.Errorf("handleman: unknown connection handle %d", conn)
	}
	id := r.alloc()
	r.txns[id] = &txnRecord{destroy: destroy, conn: conn}
	c.txns[id] = struct{}{}
	return id, nil
}

// RegisterStmt allocates a prepared-statement id as a child of conn.
func (r *Registry) RegisterStmt(conn ID, destroy Destroy) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[conn]
	if !ok {
		return 0, fmt.Errorf("handleman: unknown connection handle %d", conn)
	}
	id := r.alloc()
	r.stmts[id] = &stmtRecord{destroy: destroy, conn: conn}
	c.stmts[id] = struct{}{}
	return id, nil
}

// RegisterStream allocates a stream id as a child of conn. Per spec.md
// §4.7's close semantics, the caller (streaming package) must refuse to
// start a new stream while a prior one on the same connection is open;
// Registry exposes HasOpenStream to support that check.
func (r *Registry) RegisterStream(conn ID, destroy Destroy) (ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[conn]
	if !ok {
		return 0, fmt.Errorf("handleman: unknown connection handle %d", conn)
	}
	id := r.alloc()
	r.streams[id] = &streamRecord{destroy: destroy, conn: conn}
	c.streams[id] = struct{}{}
	return id, nil
}

// HasOpenStream reports whether conn currently owns any stream.
func (r *Registry) HasOpenStream(conn ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[conn]
	if !ok {
		return false
	}
	return len(c.streams) > 0
}

// RegisterPool allocates a pool id with no owned connections yet.
func (r *Registry) RegisterPool() ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.alloc()
	r.pools[id] = &poolRecord{members: map[ID]struct{}{}, checkedOut: map[ID]struct{}{}}
	return id
}

// AttachPoolConnection records conn as internally owned by pool.
func (r *Registry) AttachPoolConnection(pool, conn ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("handleman: unknown pool handle %d", pool)
	}
	if _, ok := r.conns[conn]; !ok {
		return fmt.Errorf("handleman: unknown connection handle %d", conn)
	}
	p.members[conn] = struct{}{}
	return nil
}

// DetachPoolConnection removes conn from pool's membership (used after
// dropping an individual pooled connection, e.g. a dead connection
// discarded during checkout).
func (r *Registry) DetachPoolConnection(pool, conn ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("handleman: unknown pool handle %d", pool)
	}
	delete(p.members, conn)
	delete(p.checkedOut, conn)
	return nil
}

// MarkCheckedOut records that conn is currently on loan from pool.
func (r *Registry) MarkCheckedOut(pool, conn ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("handleman: unknown pool handle %d", pool)
	}
	if _, ok := p.members[conn]; !ok {
		return fmt.Errorf("handleman: connection %d is not a member of pool %d", conn, pool)
	}
	p.checkedOut[conn] = struct{}{}
	return nil
}

// MarkReleased records that conn has been returned to pool.
func (r *Registry) MarkReleased(pool, conn ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pool]
	if !ok {
		return fmt.Errorf("handleman: unknown pool handle %d", pool)
	}
	delete(p.checkedOut, conn)
	return nil
}

// PoolCheckedOutCount reports how many of pool's member connections are
// currently on loan.
func (r *Registry) PoolCheckedOutCount(pool ID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[pool]
	if !ok {
		return 0, fmt.Errorf("handleman: unknown pool handle %d", pool)
	}
	return len(p.checkedOut), nil
}

// Drop destroys id and, for Connection and Pool kinds, cascades to owned
// children in the order spec.md §4.2 requires.
func (r *Registry) Drop(kind Kind, id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindEnv:
		return r.dropEnvLocked(id)
	case KindConnection:
		return r.dropConnectionLocked(id)
	case KindTxn:
		return r.dropTxnLocked(id)
	case KindStmt:
		return r.dropStmtLocked(id)
	case KindStream:
		return r.dropStreamLocked(id)
	case KindPool:
		return r.dropPoolLocked(id)
	default:
		return fmt.Errorf("handleman: unknown kind %v", kind)
	}
}

func (r *Registry) dropEnvLocked(id ID) error {
	e, ok := r.envs[id]
	if !ok {
		return fmt.Errorf("handleman: unknown env handle %d", id)
	}
	if len(e.conns) > 0 {
		return fmt.Errorf("handleman: cannot drop env %d: %d connections remain", id, len(e.conns))
	}
	var destroyErr error
	if e.destroy != nil {
		destroyErr = e.destroy()
	}
	delete(r.envs, id)
	return destroyErr
}

// dropConnectionLocked implements §4.2's cascade: drop all Rs, close all
// Ss, roll back all Ts, then close the native connection. The record is
// always removed, even when the native destroy call fails, so a failed
// disconnect never leaves a handle permanently unreachable; the destroy
// error is still returned so callers (and Teardown) can surface it.
func (r *Registry) dropConnectionLocked(id ID) error {
	c, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("handleman: unknown connection handle %d", id)
	}
	var cascadeErr error
	for streamID := range c.streams {
		if err := r.dropStreamLocked(streamID); err != nil && cascadeErr == nil {
			cascadeErr = fmt.Errorf("handleman: cascade drop stream %d: %w", streamID, err)
		}
	}
	for stmtID := range c.stmts {
		if err := r.dropStmtLocked(stmtID); err != nil && cascadeErr == nil {
			cascadeErr = fmt.Errorf("handleman: cascade drop stmt %d: %w", stmtID, err)
		}
	}
	for txnID := range c.txns {
		if err := r.dropTxnLocked(txnID); err != nil && cascadeErr == nil {
			cascadeErr = fmt.Errorf("handleman: cascade drop txn %d: %w", txnID, err)
		}
	}
	var destroyErr error
	if c.destroy != nil {
		destroyErr = c.destroy()
	}
	if e, ok := r.envs[c.env]; ok {
		delete(e.conns, id)
	}
	delete(r.conns, id)
	if cascadeErr != nil {
		return cascadeErr
	}
	return destroyErr
}

func (r *Registry) dropTxnLocked(id ID) error {
	t, ok := r.txns[id]
	if !ok {
		return fmt.Errorf("handleman: unknown txn handle %d", id)
	}
	var destroyErr error
	if t.destroy != nil {
		destroyErr = t.destroy()
	}
	if c, ok := r.conns[t.conn]; ok {
		delete(c.txns, id)
	}
	delete(r.txns, id)
	return destroyErr
}

func (r *Registry) dropStmtLocked(id ID) error {
	s, ok := r.stmts[id]
	if !ok {
		return fmt.Errorf("handleman: unknown stmt handle %d", id)
	}
	var destroyErr error
	if s.destroy != nil {
		destroyErr = s.destroy()
	}
	if c, ok := r.conns[s.conn]; ok {
		delete(c.stmts, id)
	}
	delete(r.stmts, id)
	return destroyErr
}

func (r *Registry) dropStreamLocked(id ID) error {
	s, ok := r.streams[id]
	if !ok {
		return fmt.Errorf("handleman: unknown stream handle %d", id)
	}
	var destroyErr error
	if s.destroy != nil {
		destroyErr = s.destroy()
	}
	if c, ok := r.conns[s.conn]; ok {
		delete(c.streams, id)
	}
	delete(r.streams, id)
	return destroyErr
}

// dropPoolLocked closes every internal connection, refusing if any are
// still checked out (spec.md §4.3 close invariant).
func (r *Registry) dropPoolLocked(id ID) error {
	p, ok := r.pools[id]
	if !ok {
		return fmt.Errorf("handleman: unknown pool handle %d", id)
	}
	if len(p.checkedOut) > 0 {
		return fmt.Errorf("handleman: cannot close pool %d: %d connections still checked out", id, len(p.checkedOut))
	}
	for connID := range p.members {
		if err := r.dropConnectionLocked(connID); err != nil {
			return fmt.Errorf("handleman: cascade drop pooled connection %d: %w", connID, err)
		}
	}
	delete(r.pools, id)
	return nil
}

// Lookup reports whether id is currently registered under kind, without
// returning the record (records are private to enforce Registry as the
// sole mutator).
func (r *Registry) Lookup(kind Kind, id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch kind {
	case KindEnv:
		_, ok := r.envs[id]
		return ok
	case KindConnection:
		_, ok := r.conns[id]
		return ok
	case KindTxn:
		_, ok := r.txns[id]
		return ok
	case KindStmt:
		_, ok := r.stmts[id]
		return ok
	case KindStream:
		_, ok := r.streams[id]
		return ok
	case KindPool:
		_, ok := r.pools[id]
		return ok
	default:
		return false
	}
}

// Teardown implements the cascade-with-warning policy: every remaining
// connection (and transitively, every txn/stmt/stream it owns) is
// cascade-dropped, with a warning reported via OnCascadeWarning per failed
// destroy, rather than refusing to tear down. Pools are torn down first so
// their member connections aren't double-dropped; any pool that refuses
// because of outstanding checkouts is forced by draining checkedOut first.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for poolID, p := range r.pools {
		p.checkedOut = map[ID]struct{}{} // force-release outstanding checkouts
		if err := r.dropPoolLocked(poolID); err != nil {
			r.warn(KindPool, poolID, err)
		}
	}
	for connID := range r.conns {
		if err := r.dropConnectionLocked(connID); err != nil {
			r.warn(KindConnection, connID, err)
		}
	}
	for envID := range r.envs {
		if err := r.dropEnvLocked(envID); err != nil {
			r.warn(KindEnv, envID, err)
		}
	}
}
