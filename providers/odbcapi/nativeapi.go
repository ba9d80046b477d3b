package odbcapi

import "context"

// Diagnostic is the raw (SQLSTATE, native code, message) triple returned by
// SQLGetDiagRec.
type Diagnostic struct {
	SQLState   string
	NativeCode int32
	Message    string
}

// ColumnDesc is what SQLDescribeCol reports for one result column.
type ColumnDesc struct {
	Name string
	Type int16 // SQL_* source type
}

// NativeAPI is the minimal surface the rest of the engine needs from the
// ODBC driver manager. Every handle-manager, pool, transaction, executor,
// and bulk-insert operation goes through this interface rather than
// calling purego directly, so tests run against fake.go's in-memory
// implementation without a real driver installed.
//
// Implementations must be safe for the single-threaded cooperative access
// pattern the worker (C9) imposes: NativeAPI itself does no locking.
type NativeAPI interface {
	AllocEnv() (Handle, error)
	AllocConn(env Handle) (Handle, error)
	Connect(conn Handle, dsn string, timeout int) error
	Disconnect(conn Handle) error
	FreeHandle(t HandleType, h Handle) error

	SetConnectAttr(conn Handle, attr ConnAttr, value uintptr) error
	GetConnectAttr(conn Handle, attr ConnAttr) (uintptr, error)

	AllocStmt(conn Handle) (Handle, error)
	Prepare(stmt Handle, query string) error
	NumParams(stmt Handle) (int, error)
	BindParameter(stmt Handle, ordinal int, direction ParamDirection, cType CType, sqlType int16, value []byte) error
	Execute(ctx context.Context, stmt Handle) error
	ExecDirect(ctx context.Context, stmt Handle, query string) error
	NumResultCols(stmt Handle) (int, error)
	DescribeCol(stmt Handle, index int) (ColumnDesc, error)
	BindCol(stmt Handle, index int, cType CType, buf []byte) error
	Fetch(stmt Handle) (hasRow bool, err error)
	GetData(stmt Handle, index int, cType CType) (data []byte, isNull bool, err error)
	RowCount(stmt Handle) (int64, error)
	// MoreResults advances to the next result set in a multi-result
	// execution (SQLMoreResults). Returns false once no further result is
	// available; NumResultCols/DescribeCol/Fetch/RowCount then describe
	// whatever result MoreResults last advanced to.
	MoreResults(stmt Handle) (bool, error)
	SetStmtAttr(stmt Handle, attr StmtAttr, value uintptr) error
	FreeStmt(stmt Handle, resetParams bool) error
	Cancel(stmt Handle) error

	EndTran(conn Handle, completion CompletionType) error
	ExecDirectOnConn(conn Handle, sql string) error // used for SAVEPOINT/RELEASE SAVEPOINT statements

	LastDiagnostic(t HandleType, h Handle) *Diagnostic

	// BindArrayParameter binds one column's worth of array-inserted values
	// (C8) plus its null-indicator array in a single call, mirroring
	// SQLBindParameter's row-wise array binding mode.
	BindArrayParameter(stmt Handle, ordinal int, cType CType, sqlType int16, rowData [][]byte, nullBitmap []bool) error
	SetParamArraySize(stmt Handle, size int) error
}
