// Package odbcapi is the engine's sole collaborator with the ODBC driver
// manager (the one external dependency spec.md treats as opaque). It
// declares the raw SQLHENV/SQLHDBC/SQLHSTMT handle types and ODBC constants,
// and exposes them to the rest of the engine through the NativeAPI
// interface so no other package needs to know whether it is talking to a
// real driver manager (via purego, see purego_api.go) or a test fake (see
// fake.go).
package odbcapi

// Handle is a raw ODBC handle (SQLHENV/SQLHDBC/SQLHSTMT/SQLHDESC); zero is
// the ODBC-defined invalid handle value.
type Handle uintptr

// HandleType selects which kind of handle SQLAllocHandle allocates.
type HandleType int16

const (
	HandleTypeEnv  HandleType = 1
	HandleTypeDBC  HandleType = 2
	HandleTypeStmt HandleType = 3
	HandleTypeDesc HandleType = 4
)

// Return is the SQLRETURN status code every ODBC call produces.
type Return int16

const (
	ReturnSuccess         Return = 0
	ReturnSuccessWithInfo Return = 1
	ReturnError           Return = -1
	ReturnInvalidHandle   Return = -2
	ReturnNoData          Return = 100
)

// IsSuccess reports whether r indicates the call completed (with or
// without an informational diagnostic).
func (r Return) IsSuccess() bool { return r == ReturnSuccess || r == ReturnSuccessWithInfo }

// ConnAttr identifies an SQLSetConnectAttr/SQLGetConnectAttr attribute.
type ConnAttr int32

const (
	ConnAttrAutoCommit    ConnAttr = 102
	ConnAttrTxnIsolation  ConnAttr = 108
	ConnAttrLoginTimeout  ConnAttr = 103
	ConnAttrConnectionDead ConnAttr = 1209
)

const (
	AutoCommitOff uintptr = 0
	AutoCommitOn  uintptr = 1
)

// StmtAttr identifies an SQLSetStmtAttr attribute.
type StmtAttr int32

const (
	StmtAttrQueryTimeout StmtAttr = 0
	StmtAttrCursorType   StmtAttr = 6
)

// TxnIsolation mirrors the SQL_TXN_* bitmask values SQLSetConnectAttr
// expects for ConnAttrTxnIsolation.
type TxnIsolation uintptr

const (
	TxnIsolationReadUncommitted TxnIsolation = 1
	TxnIsolationReadCommitted   TxnIsolation = 2
	TxnIsolationRepeatableRead  TxnIsolation = 4
	TxnIsolationSerializable    TxnIsolation = 8
)

// CompletionType selects commit vs rollback for SQLEndTran.
type CompletionType int16

const (
	CompletionCommit   CompletionType = 0
	CompletionRollback CompletionType = 1
)

// CType is the SQL_C_* C-buffer type used when binding parameters or
// retrieving column data, as distinct from the SQL_* source column type in
// protocol.ColumnType.
type CType int16

const (
	CTypeChar      CType = 1
	CTypeLong      CType = 4
	CTypeShort     CType = 5
	CTypeDouble    CType = 8
	CTypeBinary    CType = -2
	CTypeSBigInt   CType = -25
	CTypeTimestamp CType = 11
)

// ParamDirection mirrors SQL_PARAM_INPUT/OUTPUT/INPUT_OUTPUT.
type ParamDirection int16

const (
	ParamInput       ParamDirection = 1
	ParamInputOutput ParamDirection = 2
	ParamOutput      ParamDirection = 4
)
