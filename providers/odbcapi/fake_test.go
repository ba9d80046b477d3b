package odbcapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupConn(t *testing.T, f *Fake) (Handle, Handle) {
	t.Helper()
	env, err := f.AllocEnv()
	require.NoError(t, err)
	conn, err := f.AllocConn(env)
	require.NoError(t, err)
	require.NoError(t, f.Connect(conn, "dsn=test", 0))
	return env, conn
}

func TestFakeExecDirectAndFetch(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)

	f.On("SELECT id, name FROM widgets", FakeQuery{Result: &FakeResultSet{
		Columns: []ColumnDesc{{Name: "id", Type: 4}, {Name: "name", Type: 12}},
		Rows: []FakeRow{
			{Values: [][]byte{[]byte("1"), []byte("alpha")}},
			{Values: [][]byte{[]byte("2"), nil}, Nulls: []bool{false, true}},
		},
	}})

	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)
	require.NoError(t, f.ExecDirect(context.Background(), stmt, "SELECT id, name FROM widgets"))

	n, err := f.NumResultCols(stmt)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	col, err := f.DescribeCol(stmt, 1)
	require.NoError(t, err)
	assert.Equal(t, "id", col.Name)

	has, err := f.Fetch(stmt)
	require.NoError(t, err)
	require.True(t, has)
	data, isNull, err := f.GetData(stmt, 1, CTypeLong)
	require.NoError(t, err)
	assert.False(t, isNull)
	assert.Equal(t, []byte("1"), data)

	has, err = f.Fetch(stmt)
	require.NoError(t, err)
	require.True(t, has)
	_, isNull, err = f.GetData(stmt, 2, CTypeChar)
	require.NoError(t, err)
	assert.True(t, isNull)

	has, err = f.Fetch(stmt)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestFakeExecuteUnregisteredQueryProducesDiagnostic(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)
	require.NoError(t, f.Prepare(stmt, "SELECT * FROM nope"))

	err = f.Execute(context.Background(), stmt)
	require.Error(t, err)

	diag := f.LastDiagnostic(HandleTypeStmt, stmt)
	require.NotNil(t, diag)
	assert.Equal(t, "42000", diag.SQLState)
}

func TestFakeRegisteredErrorDiagnostic(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	f.On("DELETE FROM widgets", FakeQuery{Err: &Diagnostic{SQLState: "40001", NativeCode: 42, Message: "serialization failure"}})

	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)
	err = f.ExecDirect(context.Background(), stmt, "DELETE FROM widgets")
	require.Error(t, err)
	diag := f.LastDiagnostic(HandleTypeStmt, stmt)
	require.NotNil(t, diag)
	assert.Equal(t, "40001", diag.SQLState)
	assert.EqualValues(t, 42, diag.NativeCode)
}

func TestFakeRowCountForAffectedRows(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	f.On("DELETE FROM widgets WHERE id = ?", FakeQuery{Result: &FakeResultSet{AffectedRows: 3}})

	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)
	require.NoError(t, f.Prepare(stmt, "DELETE FROM widgets WHERE id = ?"))
	require.NoError(t, f.BindParameter(stmt, 1, ParamInput, CTypeLong, 4, []byte("1")))
	require.NoError(t, f.Execute(context.Background(), stmt))

	n, err := f.RowCount(stmt)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestFakeCancelMarksCancelled(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)

	require.NoError(t, f.Cancel(stmt))
	assert.True(t, f.WasCancelled(stmt))
}

func TestFakeConnectionDeadProbe(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)

	v, err := f.GetConnectAttr(conn, ConnAttrConnectionDead)
	require.NoError(t, err)
	assert.EqualValues(t, 0, v)

	f.MarkConnectionDead(conn)
	v, err = f.GetConnectAttr(conn, ConnAttrConnectionDead)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}

func TestFakeEndTranRecordsOutcome(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	require.NoError(t, f.EndTran(conn, CompletionCommit))
	require.NoError(t, f.EndTran(conn, CompletionRollback))
}

func TestFakeArrayParameterSizeMismatch(t *testing.T) {
	f := NewFake()
	_, conn := setupConn(t, f)
	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)
	require.NoError(t, f.SetParamArraySize(stmt, 2))

	err = f.BindArrayParameter(stmt, 1, CTypeLong, 4, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, nil)
	require.Error(t, err)

	err = f.BindArrayParameter(stmt, 1, CTypeLong, 4, [][]byte{[]byte("1"), []byte("2")}, []bool{false, true})
	require.NoError(t, err)
}

func TestFakeFreeHandleRemovesTracking(t *testing.T) {
	f := NewFake()
	env, conn := setupConn(t, f)
	stmt, err := f.AllocStmt(conn)
	require.NoError(t, err)

	require.NoError(t, f.FreeHandle(HandleTypeStmt, stmt))
	_, err = f.NumResultCols(stmt)
	require.Error(t, err)

	require.NoError(t, f.Disconnect(conn))
	_, err = f.AllocStmt(conn)
	require.Error(t, err)

	require.NoError(t, f.FreeHandle(HandleTypeEnv, env))
}
