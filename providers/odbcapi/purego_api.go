package odbcapi

import (
	"context"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// libraryPath resolves the platform's ODBC driver manager shared library,
// grounded on the same unixODBC/iODBC vs. Windows odbc32.dll split the
// pack's reference ODBC binding resolves against.
func libraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "odbc32.dll"
	case "darwin":
		return "libiodbc.dylib"
	default:
		return "libodbc.so.2"
	}
}

// purego exposes the handful of ODBC entry points the engine calls through
// github.com/ebitengine/purego, a cgo-free dynamic-library FFI binder. No
// database/sql driver is registered here: C6/C7/C8 need direct handle-level
// control (true cursor-batched fetch, array-bound parameter insertion)
// that database/sql's driver.Conn/driver.Stmt shapes don't expose.
type purego_ struct {
	lib uintptr

	sqlAllocHandle    func(int16, uintptr, *uintptr) int16
	sqlFreeHandle     func(int16, uintptr) int16
	sqlConnect        func(uintptr, *byte, int16, *byte, int16, *byte, int16) int16
	sqlDisconnect     func(uintptr) int16
	sqlSetConnectAttr func(uintptr, int32, uintptr, int32) int16
	sqlGetConnectAttr func(uintptr, int32, unsafe.Pointer, int32, *int32) int16
	sqlPrepare        func(uintptr, *byte, int32) int16
	sqlExecute        func(uintptr) int16
	sqlExecDirect     func(uintptr, *byte, int32) int16
	sqlNumParams      func(uintptr, *int16) int16
	sqlBindParameter  func(uintptr, uint16, int16, int16, int16, uint64, int16, unsafe.Pointer, int64, *int64) int16
	sqlNumResultCols  func(uintptr, *int16) int16
	sqlDescribeCol    func(uintptr, uint16, *byte, int16, *int16, *int16, *uint64, *int16, *int16) int16
	sqlBindCol        func(uintptr, uint16, int16, unsafe.Pointer, int64, *int64) int16
	sqlFetch          func(uintptr) int16
	sqlGetData        func(uintptr, uint16, int16, unsafe.Pointer, int64, *int64) int16
	sqlRowCount       func(uintptr, *int64) int16
	sqlSetStmtAttr    func(uintptr, int32, uintptr, int32) int16
	sqlFreeStmt       func(uintptr, int16) int16
	sqlCancel         func(uintptr) int16
	sqlEndTran        func(int16, uintptr, int16) int16
	sqlGetDiagRec     func(int16, uintptr, int16, *byte, *int32, *byte, int16, *int16) int16
	sqlMoreResults    func(uintptr) int16
}

// New opens the platform ODBC driver manager and resolves every entry point
// this engine needs, returning a NativeAPI backed by real ODBC calls.
func New() (NativeAPI, error) {
	lib, err := purego.Dlopen(libraryPath(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("odbcapi: failed to load driver manager: %w", err)
	}

	p := &purego_{lib: lib}
	reg := func(fptr interface{}, name string) {
		purego.RegisterLibFunc(fptr, lib, name)
	}
	reg(&p.sqlAllocHandle, "SQLAllocHandle")
	reg(&p.sqlFreeHandle, "SQLFreeHandle")
	reg(&p.sqlConnect, "SQLConnect")
	reg(&p.sqlDisconnect, "SQLDisconnect")
	reg(&p.sqlSetConnectAttr, "SQLSetConnectAttr")
	reg(&p.sqlGetConnectAttr, "SQLGetConnectAttr")
	reg(&p.sqlPrepare, "SQLPrepare")
	reg(&p.sqlExecute, "SQLExecute")
	reg(&p.sqlExecDirect, "SQLExecDirect")
	reg(&p.sqlNumParams, "SQLNumParams")
	reg(&p.sqlBindParameter, "SQLBindParameter")
	reg(&p.sqlNumResultCols, "SQLNumResultCols")
	reg(&p.sqlDescribeCol, "SQLDescribeCol")
	reg(&p.sqlBindCol, "SQLBindCol")
	reg(&p.sqlFetch, "SQLFetch")
	reg(&p.sqlGetData, "SQLGetData")
	reg(&p.sqlRowCount, "SQLRowCount")
	reg(&p.sqlSetStmtAttr, "SQLSetStmtAttr")
	reg(&p.sqlFreeStmt, "SQLFreeStmt")
	reg(&p.sqlCancel, "SQLCancel")
	reg(&p.sqlEndTran, "SQLEndTran")
	reg(&p.sqlGetDiagRec, "SQLGetDiagRec")
	reg(&p.sqlMoreResults, "SQLMoreResults")

	return p, nil
}

func cBytes(s string) *byte {
	b := append([]byte(s), 0)
	return &b[0]
}

func (p *purego_) AllocEnv() (Handle, error) {
	var h uintptr
	ret := Return(p.sqlAllocHandle(int16(HandleTypeEnv), 0, &h))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLAllocHandle(ENV) failed: %d", ret)
	}
	return Handle(h), nil
}

func (p *purego_) AllocConn(env Handle) (Handle, error) {
	var h uintptr
	ret := Return(p.sqlAllocHandle(int16(HandleTypeDBC), uintptr(env), &h))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLAllocHandle(DBC) failed: %d", ret)
	}
	return Handle(h), nil
}

func (p *purego_) Connect(conn Handle, dsn string, timeout int) error {
	if timeout > 0 {
		_ = p.SetConnectAttr(conn, ConnAttrLoginTimeout, uintptr(timeout))
	}
	b := cBytes(dsn)
	ret := Return(p.sqlConnect(uintptr(conn), b, int16(len(dsn)), nil, 0, nil, 0))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLConnect failed: %d", ret)
	}
	return nil
}

func (p *purego_) Disconnect(conn Handle) error {
	ret := Return(p.sqlDisconnect(uintptr(conn)))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLDisconnect failed: %d", ret)
	}
	return nil
}

func (p *purego_) FreeHandle(t HandleType, h Handle) error {
	ret := Return(p.sqlFreeHandle(int16(t), uintptr(h)))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLFreeHandle failed: %d", ret)
	}
	return nil
}

func (p *purego_) SetConnectAttr(conn Handle, attr ConnAttr, value uintptr) error {
	ret := Return(p.sqlSetConnectAttr(uintptr(conn), int32(attr), value, 0))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLSetConnectAttr(%d) failed: %d", attr, ret)
	}
	return nil
}

func (p *purego_) GetConnectAttr(conn Handle, attr ConnAttr) (uintptr, error) {
	var value int64
	var strLen int32
	ret := Return(p.sqlGetConnectAttr(uintptr(conn), int32(attr), unsafe.Pointer(&value), int32(unsafe.Sizeof(value)), &strLen))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLGetConnectAttr(%d) failed: %d", attr, ret)
	}
	return uintptr(value), nil
}

func (p *purego_) AllocStmt(conn Handle) (Handle, error) {
	var h uintptr
	ret := Return(p.sqlAllocHandle(int16(HandleTypeStmt), uintptr(conn), &h))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLAllocHandle(STMT) failed: %d", ret)
	}
	return Handle(h), nil
}

func (p *purego_) Prepare(stmt Handle, query string) error {
	ret := Return(p.sqlPrepare(uintptr(stmt), cBytes(query), int32(len(query))))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLPrepare failed: %d", ret)
	}
	return nil
}

func (p *purego_) NumParams(stmt Handle) (int, error) {
	var n int16
	ret := Return(p.sqlNumParams(uintptr(stmt), &n))
	if !ret.IsSuccess() {
		return -1, nil // some drivers don't support this; caller treats -1 as unknown
	}
	return int(n), nil
}

func (p *purego_) BindParameter(stmt Handle, ordinal int, direction ParamDirection, cType CType, sqlType int16, value []byte) error {
	var ptr unsafe.Pointer
	var ind int64 = int64(len(value))
	if value == nil {
		ind = -1 // SQL_NULL_DATA
	} else if len(value) > 0 {
		ptr = unsafe.Pointer(&value[0])
	}
	ret := Return(p.sqlBindParameter(uintptr(stmt), uint16(ordinal), int16(direction), int16(cType), sqlType, 0, 0, ptr, int64(len(value)), &ind))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLBindParameter(%d) failed: %d", ordinal, ret)
	}
	return nil
}

func (p *purego_) Execute(ctx context.Context, stmt Handle) error {
	done := make(chan struct{})
	if ctx.Done() != nil {
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				p.Cancel(stmt)
			case <-done:
			}
		}()
	}
	ret := Return(p.sqlExecute(uintptr(stmt)))
	if !ret.IsSuccess() && ret != ReturnNoData {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("odbcapi: SQLExecute failed: %d", ret)
	}
	return nil
}

func (p *purego_) ExecDirect(ctx context.Context, stmt Handle, query string) error {
	done := make(chan struct{})
	if ctx.Done() != nil {
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				p.Cancel(stmt)
			case <-done:
			}
		}()
	}
	ret := Return(p.sqlExecDirect(uintptr(stmt), cBytes(query), int32(len(query))))
	if !ret.IsSuccess() && ret != ReturnNoData {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("odbcapi: SQLExecDirect failed: %d", ret)
	}
	return nil
}

func (p *purego_) ExecDirectOnConn(conn Handle, sql string) error {
	stmt, err := p.AllocStmt(conn)
	if err != nil {
		return err
	}
	defer p.FreeHandle(HandleTypeStmt, stmt)
	return p.ExecDirect(context.Background(), stmt, sql)
}

func (p *purego_) NumResultCols(stmt Handle) (int, error) {
	var n int16
	ret := Return(p.sqlNumResultCols(uintptr(stmt), &n))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLNumResultCols failed: %d", ret)
	}
	return int(n), nil
}

func (p *purego_) DescribeCol(stmt Handle, index int) (ColumnDesc, error) {
	nameBuf := make([]byte, 256)
	var nameLen int16
	var sqlType int16
	var colSize uint64
	var decimalDigits int16
	var nullable int16

	ret := Return(p.sqlDescribeCol(uintptr(stmt), uint16(index), &nameBuf[0], int16(len(nameBuf)), &nameLen,
		&sqlType, &colSize, &decimalDigits, &nullable))
	if !ret.IsSuccess() {
		return ColumnDesc{}, fmt.Errorf("odbcapi: SQLDescribeCol(%d) failed: %d", index, ret)
	}
	return ColumnDesc{Name: string(nameBuf[:nameLen]), Type: sqlType}, nil
}

func (p *purego_) BindCol(stmt Handle, index int, cType CType, buf []byte) error {
	var ind int64
	var ptr unsafe.Pointer
	if len(buf) > 0 {
		ptr = unsafe.Pointer(&buf[0])
	}
	ret := Return(p.sqlBindCol(uintptr(stmt), uint16(index), int16(cType), ptr, int64(len(buf)), &ind))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLBindCol(%d) failed: %d", index, ret)
	}
	return nil
}

func (p *purego_) Fetch(stmt Handle) (bool, error) {
	ret := Return(p.sqlFetch(uintptr(stmt)))
	if ret == ReturnNoData {
		return false, nil
	}
	if !ret.IsSuccess() {
		return false, fmt.Errorf("odbcapi: SQLFetch failed: %d", ret)
	}
	return true, nil
}

func (p *purego_) GetData(stmt Handle, index int, cType CType) ([]byte, bool, error) {
	buf := make([]byte, 8192)
	var ind int64
	ret := Return(p.sqlGetData(uintptr(stmt), uint16(index), int16(cType), unsafe.Pointer(&buf[0]), int64(len(buf)), &ind))
	if !ret.IsSuccess() {
		return nil, false, fmt.Errorf("odbcapi: SQLGetData(%d) failed: %d", index, ret)
	}
	if ind == -1 { // SQL_NULL_DATA
		return nil, true, nil
	}
	if ind >= 0 && int(ind) < len(buf) {
		return buf[:ind], false, nil
	}
	return buf, false, nil
}

func (p *purego_) MoreResults(stmt Handle) (bool, error) {
	ret := Return(p.sqlMoreResults(uintptr(stmt)))
	if ret == ReturnNoData {
		return false, nil
	}
	if !ret.IsSuccess() {
		return false, fmt.Errorf("odbcapi: SQLMoreResults failed: %d", ret)
	}
	return true, nil
}

func (p *purego_) RowCount(stmt Handle) (int64, error) {
	var n int64
	ret := Return(p.sqlRowCount(uintptr(stmt), &n))
	if !ret.IsSuccess() {
		return 0, fmt.Errorf("odbcapi: SQLRowCount failed: %d", ret)
	}
	return n, nil
}

func (p *purego_) SetStmtAttr(stmt Handle, attr StmtAttr, value uintptr) error {
	ret := Return(p.sqlSetStmtAttr(uintptr(stmt), int32(attr), value, 0))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLSetStmtAttr(%d) failed: %d", attr, ret)
	}
	return nil
}

func (p *purego_) FreeStmt(stmt Handle, resetParams bool) error {
	option := int16(0) // SQL_CLOSE
	if resetParams {
		option = 3 // SQL_RESET_PARAMS
	}
	ret := Return(p.sqlFreeStmt(uintptr(stmt), option))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLFreeStmt failed: %d", ret)
	}
	return nil
}

func (p *purego_) Cancel(stmt Handle) error {
	ret := Return(p.sqlCancel(uintptr(stmt)))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLCancel failed: %d", ret)
	}
	return nil
}

func (p *purego_) EndTran(conn Handle, completion CompletionType) error {
	ret := Return(p.sqlEndTran(int16(HandleTypeDBC), uintptr(conn), int16(completion)))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: SQLEndTran failed: %d", ret)
	}
	return nil
}

func (p *purego_) LastDiagnostic(t HandleType, h Handle) *Diagnostic {
	sqlState := make([]byte, 6)
	msgBuf := make([]byte, 1024)
	var nativeCode int32
	var msgLen int16

	ret := Return(p.sqlGetDiagRec(int16(t), uintptr(h), 1, &sqlState[0], &nativeCode, &msgBuf[0], int16(len(msgBuf)), &msgLen))
	if !ret.IsSuccess() {
		return nil
	}
	return &Diagnostic{
		SQLState:   string(sqlState[:5]),
		NativeCode: nativeCode,
		Message:    string(msgBuf[:msgLen]),
	}
}

// BindArrayParameter and SetParamArraySize implement array-bound parameter
// binding for C8's array-bound insert path: SQLSetStmtAttr(SQL_ATTR_PARAMSET_SIZE)
// followed by one SQLBindParameter per column whose data buffer holds
// rowCount contiguous fixed-width slots plus a parallel indicator array
// encoding the null bitmap.
const stmtAttrParamsetSize StmtAttr = 22
const stmtAttrParamStatusPtr StmtAttr = 20
const stmtAttrParamsProcessedPtr StmtAttr = 21
const stmtAttrParamBindType StmtAttr = 18

func (p *purego_) SetParamArraySize(stmt Handle, size int) error {
	return p.SetStmtAttr(stmt, stmtAttrParamsetSize, uintptr(size))
}

func (p *purego_) BindArrayParameter(stmt Handle, ordinal int, cType CType, sqlType int16, rowData [][]byte, nullBitmap []bool) error {
	if len(rowData) == 0 {
		return nil
	}
	width := len(rowData[0])
	flat := make([]byte, width*len(rowData))
	indicators := make([]int64, len(rowData))
	for i, row := range rowData {
		copy(flat[i*width:(i+1)*width], row)
		if i < len(nullBitmap) && nullBitmap[i] {
			indicators[i] = -1 // SQL_NULL_DATA
		} else {
			indicators[i] = int64(width)
		}
	}
	var dataPtr unsafe.Pointer
	if len(flat) > 0 {
		dataPtr = unsafe.Pointer(&flat[0])
	}
	ret := Return(p.sqlBindParameter(uintptr(stmt), uint16(ordinal), int16(ParamInput), int16(cType), sqlType, 0, 0,
		dataPtr, int64(width), &indicators[0]))
	if !ret.IsSuccess() {
		return fmt.Errorf("odbcapi: array SQLBindParameter(%d) failed: %d", ordinal, ret)
	}
	return nil
}
