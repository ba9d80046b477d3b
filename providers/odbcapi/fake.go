package odbcapi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// FakeRow is one row of a FakeResultSet's data, addressed by column index.
type FakeRow struct {
	Values [][]byte
	Nulls  []bool
}

// FakeResultSet is the canned result a FakeQuery produces on SQLExecute or
// SQLExecDirect.
type FakeResultSet struct {
	Columns      []ColumnDesc
	Rows         []FakeRow
	AffectedRows int64
}

// FakeStatementResult is one item of a multi-result execution: either a
// result set (ResultSet != nil) or a bare affected-row count for a DML
// statement with no rows of its own.
type FakeStatementResult struct {
	ResultSet    *FakeResultSet
	AffectedRows int64
}

// FakeQuery maps a SQL string (exact match) to the behavior Fake should
// produce for it: either a result set, an error diagnostic, or (for
// multi-result executions) an ordered chain of FakeStatementResult items
// walked via MoreResults.
type FakeQuery struct {
	Result       *FakeResultSet
	Err          *Diagnostic
	MultiResults []FakeStatementResult
}

type fakeCursor struct {
	rs  *FakeResultSet
	pos int
	// boundCols maps column index -> (buf, cType) supplied to BindCol, used
	// to emulate bound-column fetch; GetData bypasses this and reads
	// directly from rs.
	boundCols map[int][]byte
}

type fakeStmt struct {
	conn      Handle
	query     string
	params    map[int][]byte
	cursor    *fakeCursor
	lastDiag  *Diagnostic
	arraySize int

	// results/resultIdx/currentAffected support multi-result executions:
	// results holds the full chain produced by the matched FakeQuery,
	// cursor/currentAffected describe whichever item resultIdx currently
	// points at, and MoreResults advances resultIdx.
	results         []FakeStatementResult
	resultIdx       int
	currentAffected int64
}

// Fake is an in-memory NativeAPI implementation for tests: no real ODBC
// driver is required. Register expected queries with On, then drive the
// engine against it exactly as it would drive a real driver.
type Fake struct {
	mu        sync.Mutex
	nextH     uint64
	envs      map[Handle]bool
	conns     map[Handle]bool
	stmts     map[Handle]*fakeStmt
	queries   map[string]FakeQuery
	connDead  map[Handle]bool
	txnState  map[Handle]CompletionType // last EndTran outcome, for assertions
	cancelled map[Handle]bool
}

// NewFake returns an empty Fake with no registered queries.
func NewFake() *Fake {
	return &Fake{
		envs:      map[Handle]bool{},
		conns:     map[Handle]bool{},
		stmts:     map[Handle]*fakeStmt{},
		queries:   map[string]FakeQuery{},
		connDead:  map[Handle]bool{},
		txnState:  map[Handle]CompletionType{},
		cancelled: map[Handle]bool{},
	}
}

// On registers the canned behavior for an exact SQL string.
func (f *Fake) On(sql string, q FakeQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries[sql] = q
}

// MarkConnectionDead flips the given connection's ConnAttrConnectionDead
// attribute, letting pool health-check tests exercise the probe path.
func (f *Fake) MarkConnectionDead(conn Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connDead[conn] = true
}

// WasCancelled reports whether Cancel was called on stmt.
func (f *Fake) WasCancelled(stmt Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[stmt]
}

func (f *Fake) alloc() Handle {
	f.nextH++
	return Handle(f.nextH)
}

func (f *Fake) AllocEnv() (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.alloc()
	f.envs[h] = true
	return h, nil
}

func (f *Fake) AllocConn(env Handle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.envs[env] {
		return 0, fmt.Errorf("odbcapi/fake: unknown env handle %d", env)
	}
	h := f.alloc()
	f.conns[h] = true
	return h, nil
}

func (f *Fake) Connect(conn Handle, dsn string, timeout int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[conn] {
		return fmt.Errorf("odbcapi/fake: unknown conn handle %d", conn)
	}
	return nil
}

func (f *Fake) Disconnect(conn Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, conn)
	return nil
}

func (f *Fake) FreeHandle(t HandleType, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch t {
	case HandleTypeEnv:
		delete(f.envs, h)
	case HandleTypeDBC:
		delete(f.conns, h)
	case HandleTypeStmt:
		delete(f.stmts, h)
	}
	return nil
}

func (f *Fake) SetConnectAttr(conn Handle, attr ConnAttr, value uintptr) error {
	return nil
}

func (f *Fake) GetConnectAttr(conn Handle, attr ConnAttr) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if attr == ConnAttrConnectionDead && f.connDead[conn] {
		return 1, nil
	}
	return 0, nil
}

func (f *Fake) AllocStmt(conn Handle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[conn] {
		return 0, fmt.Errorf("odbcapi/fake: unknown conn handle %d", conn)
	}
	h := f.alloc()
	f.stmts[h] = &fakeStmt{conn: conn, params: map[int][]byte{}}
	return h, nil
}

func (f *Fake) mustStmt(stmt Handle) (*fakeStmt, error) {
	s, ok := f.stmts[stmt]
	if !ok {
		return nil, fmt.Errorf("odbcapi/fake: unknown stmt handle %d", stmt)
	}
	return s, nil
}

func (f *Fake) Prepare(stmt Handle, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	s.query = query
	return nil
}

func (f *Fake) NumParams(stmt Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range s.query {
		if s.query[i] == '?' {
			n++
		}
	}
	return n, nil
}

func (f *Fake) BindParameter(stmt Handle, ordinal int, direction ParamDirection, cType CType, sqlType int16, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	s.params[ordinal] = value
	return nil
}

func (f *Fake) execute(stmt Handle, query string) error {
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	if query == "" {
		query = s.query
	}
	fq, ok := f.queries[query]
	if !ok {
		s.lastDiag = &Diagnostic{SQLState: "42000", NativeCode: 1, Message: "odbcapi/fake: no canned behavior for query: " + query}
		return fmt.Errorf("%s", s.lastDiag.Message)
	}
	if fq.Err != nil {
		s.lastDiag = fq.Err
		return fmt.Errorf("%s", fq.Err.Message)
	}
	switch {
	case fq.MultiResults != nil:
		s.results = fq.MultiResults
	case fq.Result != nil:
		s.results = []FakeStatementResult{{ResultSet: fq.Result, AffectedRows: fq.Result.AffectedRows}}
	default:
		s.results = nil
	}
	s.loadResult(0)
	return nil
}

// loadResult points the statement's cursor/currentAffected at results[idx],
// or clears both once idx runs past the end of the chain.
func (s *fakeStmt) loadResult(idx int) bool {
	if idx < 0 || idx >= len(s.results) {
		s.cursor = nil
		s.currentAffected = 0
		return false
	}
	item := s.results[idx]
	s.resultIdx = idx
	if item.ResultSet != nil {
		s.cursor = &fakeCursor{rs: item.ResultSet, pos: -1, boundCols: map[int][]byte{}}
		s.currentAffected = item.ResultSet.AffectedRows
	} else {
		s.cursor = nil
		s.currentAffected = item.AffectedRows
	}
	return true
}

// MoreResults advances to the next item in the chain produced by the last
// Execute/ExecDirect, per spec.md §4.6's multi-result execution.
func (f *Fake) MoreResults(stmt Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return false, err
	}
	return s.loadResult(s.resultIdx + 1), nil
}

func (f *Fake) Execute(ctx context.Context, stmt Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execute(stmt, "")
}

func (f *Fake) ExecDirect(ctx context.Context, stmt Handle, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	s.query = query
	return f.execute(stmt, query)
}

func (f *Fake) ExecDirectOnConn(conn Handle, sql string) error {
	f.mu.Lock()
	if !f.conns[conn] {
		f.mu.Unlock()
		return fmt.Errorf("odbcapi/fake: unknown conn handle %d", conn)
	}
	_, ok := f.queries[sql]
	f.mu.Unlock()
	if !ok {
		return nil // DDL-ish statements (SAVEPOINT etc.) with no registered behavior succeed silently
	}
	return nil
}

func (f *Fake) NumResultCols(stmt Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return 0, err
	}
	if s.cursor == nil {
		return 0, nil
	}
	return len(s.cursor.rs.Columns), nil
}

func (f *Fake) DescribeCol(stmt Handle, index int) (ColumnDesc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return ColumnDesc{}, err
	}
	if s.cursor == nil || index < 1 || index > len(s.cursor.rs.Columns) {
		return ColumnDesc{}, fmt.Errorf("odbcapi/fake: column index %d out of range", index)
	}
	return s.cursor.rs.Columns[index-1], nil
}

func (f *Fake) BindCol(stmt Handle, index int, cType CType, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	if s.cursor == nil {
		return fmt.Errorf("odbcapi/fake: BindCol with no active cursor")
	}
	s.cursor.boundCols[index] = buf
	return nil
}

func (f *Fake) Fetch(stmt Handle) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return false, err
	}
	if s.cursor == nil {
		return false, nil
	}
	s.cursor.pos++
	return s.cursor.pos < len(s.cursor.rs.Rows), nil
}

func (f *Fake) GetData(stmt Handle, index int, cType CType) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return nil, false, err
	}
	if s.cursor == nil || s.cursor.pos < 0 || s.cursor.pos >= len(s.cursor.rs.Rows) {
		return nil, false, fmt.Errorf("odbcapi/fake: GetData with no current row")
	}
	row := s.cursor.rs.Rows[s.cursor.pos]
	if index < 1 || index > len(row.Values) {
		return nil, false, fmt.Errorf("odbcapi/fake: column index %d out of range", index)
	}
	isNull := index-1 < len(row.Nulls) && row.Nulls[index-1]
	return row.Values[index-1], isNull, nil
}

func (f *Fake) RowCount(stmt Handle) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return 0, err
	}
	return s.currentAffected, nil
}

func (f *Fake) SetStmtAttr(stmt Handle, attr StmtAttr, value uintptr) error {
	return nil
}

func (f *Fake) FreeStmt(stmt Handle, resetParams bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	s.cursor = nil
	s.results = nil
	s.resultIdx = 0
	s.currentAffected = 0
	if resetParams {
		s.params = map[int][]byte{}
	}
	return nil
}

func (f *Fake) Cancel(stmt Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[stmt] = true
	return nil
}

func (f *Fake) EndTran(conn Handle, completion CompletionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.conns[conn] {
		return fmt.Errorf("odbcapi/fake: unknown conn handle %d", conn)
	}
	f.txnState[conn] = completion
	return nil
}

func (f *Fake) LastDiagnostic(t HandleType, h Handle) *Diagnostic {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t != HandleTypeStmt {
		return nil
	}
	s, ok := f.stmts[h]
	if !ok {
		return nil
	}
	return s.lastDiag
}

func (f *Fake) SetParamArraySize(stmt Handle, size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	s.arraySize = size
	return nil
}

func (f *Fake) BindArrayParameter(stmt Handle, ordinal int, cType CType, sqlType int16, rowData [][]byte, nullBitmap []bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.mustStmt(stmt)
	if err != nil {
		return err
	}
	if s.arraySize != 0 && s.arraySize != len(rowData) {
		return fmt.Errorf("odbcapi/fake: array parameter row count %d does not match bound array size %d", len(rowData), s.arraySize)
	}
	return nil
}

// handleCounter backs nextHandleID, a process-unique id source outside of
// a Fake instance; nothing in the module currently calls it.
var handleCounter uint64

func nextHandleID() uint64 { return atomic.AddUint64(&handleCounter, 1) }
