// Package txn implements the transaction engine (C4): begin/commit/rollback
// with isolation levels, named savepoints, and RAII-style abandon-rollback
// when a transaction handle is dropped while still active. The
// begin/commit/rollback state machine and isolation-level enum are
// modeled on the teacher's db/postgres/interfaces ITransaction and
// TxIsoLevel/TxOptions shapes, adapted from PostgreSQL's BEGIN/COMMIT/
// ROLLBACK statements to ODBC's autocommit and transaction-isolation
// connection attributes plus SQLEndTran on the connection handle.
package txn

import (
	"fmt"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
	"github.com/fsvxavier/odbcengine/telemetry/logger"
)

// IsoLevel mirrors spec.md §3's four isolation levels.
type IsoLevel int

const (
	ReadUncommitted IsoLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsoLevel) odbcAttr() uintptr {
	switch l {
	case ReadUncommitted:
		return uintptr(odbcapi.TxnIsolationReadUncommitted)
	case RepeatableRead:
		return uintptr(odbcapi.TxnIsolationRepeatableRead)
	case Serializable:
		return uintptr(odbcapi.TxnIsolationSerializable)
	default:
		return uintptr(odbcapi.TxnIsolationReadCommitted)
	}
}

// State is a transaction's lifecycle state.
type State int

const (
	Active State = iota
	Committed
	RolledBack
)

// Txn is a single transaction on one connection. At most one Txn may be
// Active per connection at a time; the caller (engine facade) is
// responsible for enforcing that before calling Begin.
type Txn struct {
	id         handleman.ID
	conn       odbcapi.Handle
	connID     handleman.ID
	api        odbcapi.NativeAPI
	reg        *handleman.Registry
	log        logger.Logger
	state      State
	savepoints map[string]struct{}
}

// Begin sets conn's transaction-isolation attribute to level, disables
// autocommit on conn, and registers a new Active transaction. The level is
// applied only through that ODBC connection attribute; no SET TRANSACTION
// ISOLATION LEVEL statement is issued.
func Begin(api odbcapi.NativeAPI, reg *handleman.Registry, connID handleman.ID, conn odbcapi.Handle, level IsoLevel, log logger.Logger) (*Txn, error) {
	if log == nil {
		log = logger.Noop()
	}
	if err := api.SetConnectAttr(conn, odbcapi.ConnAttrTxnIsolation, level.odbcAttr()); err != nil {
		return nil, classify.Wrap(classify.Transaction, "txn: failed to set isolation level", err)
	}
	if err := api.SetConnectAttr(conn, odbcapi.ConnAttrAutoCommit, odbcapi.AutoCommitOff); err != nil {
		return nil, classify.Wrap(classify.Transaction, "txn: failed to disable autocommit", err)
	}

	t := &Txn{
		conn:       conn,
		connID:     connID,
		api:        api,
		reg:        reg,
		log:        log,
		state:      Active,
		savepoints: map[string]struct{}{},
	}
	id, err := reg.RegisterTxn(connID, t.abandon)
	if err != nil {
		return nil, classify.Wrap(classify.Transaction, "txn: failed to register transaction handle", err)
	}
	t.id = id
	return t, nil
}

// ID is this transaction's handleman identifier.
func (t *Txn) ID() handleman.ID { return t.id }

// State reports the transaction's current lifecycle state.
func (t *Txn) State() State { return t.state }

func (t *Txn) requireActive(op string) error {
	if t.state != Active {
		return classify.New(classify.Transaction, fmt.Sprintf("txn: cannot %s a transaction in state %d (not Active)", op, t.state))
	}
	return nil
}

// Commit ends the transaction successfully and restores autocommit.
func (t *Txn) Commit() error {
	if err := t.requireActive("commit"); err != nil {
		return err
	}
	if err := t.api.EndTran(t.conn, odbcapi.CompletionCommit); err != nil {
		return classify.Wrap(classify.Transaction, "txn: commit failed", err)
	}
	t.state = Committed
	return t.restoreAutocommit()
}

// Rollback aborts the transaction and restores autocommit.
func (t *Txn) Rollback() error {
	if err := t.requireActive("rollback"); err != nil {
		return err
	}
	if err := t.api.EndTran(t.conn, odbcapi.CompletionRollback); err != nil {
		return classify.Wrap(classify.Transaction, "txn: rollback failed", err)
	}
	t.state = RolledBack
	return t.restoreAutocommit()
}

func (t *Txn) restoreAutocommit() error {
	if err := t.api.SetConnectAttr(t.conn, odbcapi.ConnAttrAutoCommit, odbcapi.AutoCommitOn); err != nil {
		return classify.Wrap(classify.Transaction, "txn: failed to restore autocommit", err)
	}
	return nil
}

// Savepoint issues SAVEPOINT <name>.
func (t *Txn) Savepoint(name string) error {
	if err := t.requireActive("create a savepoint in"); err != nil {
		return err
	}
	if err := t.api.ExecDirectOnConn(t.conn, "SAVEPOINT "+name); err != nil {
		return classify.Wrap(classify.Transaction, "txn: savepoint failed", err)
	}
	t.savepoints[name] = struct{}{}
	return nil
}

// RollbackToSavepoint issues ROLLBACK TO SAVEPOINT <name>; the transaction
// stays Active.
func (t *Txn) RollbackToSavepoint(name string) error {
	if err := t.requireActive("roll back to a savepoint in"); err != nil {
		return err
	}
	if _, ok := t.savepoints[name]; !ok {
		return classify.New(classify.Transaction, "txn: unknown savepoint "+name)
	}
	if err := t.api.ExecDirectOnConn(t.conn, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return classify.Wrap(classify.Transaction, "txn: rollback to savepoint failed", err)
	}
	return nil
}

// ReleaseSavepoint issues RELEASE SAVEPOINT <name>; the transaction stays
// Active and the marker is dropped.
func (t *Txn) ReleaseSavepoint(name string) error {
	if err := t.requireActive("release a savepoint in"); err != nil {
		return err
	}
	if _, ok := t.savepoints[name]; !ok {
		return classify.New(classify.Transaction, "txn: unknown savepoint "+name)
	}
	if err := t.api.ExecDirectOnConn(t.conn, "RELEASE SAVEPOINT "+name); err != nil {
		return classify.Wrap(classify.Transaction, "txn: release savepoint failed", err)
	}
	delete(t.savepoints, name)
	return nil
}

// abandon is the Destroy callback handleman invokes when this Txn's handle
// is dropped (directly, or via connection cascade) while still Active. It
// implements spec.md §4.4's RAII contract: best-effort rollback, failure
// logged but not propagated since no caller is waiting.
func (t *Txn) abandon() error {
	if t.state != Active {
		return nil
	}
	if err := t.api.EndTran(t.conn, odbcapi.CompletionRollback); err != nil {
		t.log.Warn("txn: abandon-rollback failed", logger.Err(err))
	}
	t.state = RolledBack
	if err := t.restoreAutocommit(); err != nil {
		t.log.Warn("txn: failed to restore autocommit after abandon", logger.Err(err))
	}
	return nil
}
