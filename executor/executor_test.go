package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/classify"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func setupConn(t *testing.T) (*odbcapi.Fake, odbcapi.Handle) {
	t.Helper()
	fake := odbcapi.NewFake()
	env, err := fake.AllocEnv()
	require.NoError(t, err)
	conn, err := fake.AllocConn(env)
	require.NoError(t, err)
	require.NoError(t, fake.Connect(conn, "dsn=test", 0))
	return fake, conn
}

func TestSelectDecodesRows(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("SELECT id, name FROM widgets", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "id", Type: int16(protocol.ColumnTypeInteger)}, {Name: "name", Type: int16(protocol.ColumnTypeVarchar)}},
		Rows: []odbcapi.FakeRow{
			{Values: [][]byte{[]byte("1"), []byte("alpha")}},
			{Values: [][]byte{[]byte("2"), nil}, Nulls: []bool{false, true}},
		},
	}})

	buf, err := Select(context.Background(), fake, conn, "SELECT id, name FROM widgets", Options{})
	require.NoError(t, err)

	rs, err := protocol.Decode(buf)
	require.NoError(t, err)
	require.Len(t, rs.Columns, 2)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "id", rs.Columns[0].Name)
	assert.Equal(t, []byte("alpha"), rs.Rows[0][1])
	assert.Nil(t, rs.Rows[1][1])
}

func TestSelectWithNoRowsReturnsEmptyNotError(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("SELECT * FROM empty_table", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "id", Type: int16(protocol.ColumnTypeInteger)}},
	}})

	buf, err := Select(context.Background(), fake, conn, "SELECT * FROM empty_table", Options{})
	require.NoError(t, err)

	rs, err := protocol.Decode(buf)
	require.NoError(t, err)
	assert.Len(t, rs.Columns, 1)
	assert.Empty(t, rs.Rows)
}

func TestDDLWithNoResultSetReturnsEmpty(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("CREATE TABLE widgets (id INT)", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{}})

	buf, err := Select(context.Background(), fake, conn, "CREATE TABLE widgets (id INT)", Options{})
	require.NoError(t, err)
	assert.Equal(t, protocol.Empty(), buf)
}

func TestSelectUnregisteredQueryReturnsQueryError(t *testing.T) {
	fake, conn := setupConn(t)
	_, err := Select(context.Background(), fake, conn, "SELECT * FROM nope", Options{})
	require.Error(t, err)
	assert.True(t, classify.As(err, classify.Query))
}

func TestSelectBufferTooSmallReportsRequiredSize(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("SELECT id FROM widgets", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "id", Type: int16(protocol.ColumnTypeInteger)}},
		Rows: []odbcapi.FakeRow{
			{Values: [][]byte{[]byte("1")}},
			{Values: [][]byte{[]byte("2")}},
		},
	}})

	_, err := Select(context.Background(), fake, conn, "SELECT id FROM widgets", Options{ResultBufferCap: 4})
	require.Error(t, err)
	assert.True(t, classify.As(err, classify.BufferTooSmall))
	ee, ok := err.(*classify.EngineError)
	require.True(t, ok)
	assert.Greater(t, ee.RequiredSize, 4)
}

func TestExecuteBindsParamsByOrdinal(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("UPDATE widgets SET name = ? WHERE id = ?", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{AffectedRows: 1}})

	params := []protocol.ParamValue{
		protocol.StringParam("beta"),
		protocol.Int32Param(2),
	}
	buf, err := Execute(context.Background(), fake, conn, "UPDATE widgets SET name = ? WHERE id = ?", params, Options{})
	require.NoError(t, err)
	assert.Equal(t, protocol.Empty(), buf)
}

func TestExecuteWithDecimalAndBinaryParams(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("INSERT INTO prices (amount, blob) VALUES (?, ?)", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{AffectedRows: 1}})

	params := []protocol.ParamValue{
		protocol.DecimalParam(decimal.NewFromFloat(19.99)),
		protocol.BinaryParam([]byte{0xDE, 0xAD}),
	}
	_, err := Execute(context.Background(), fake, conn, "INSERT INTO prices (amount, blob) VALUES (?, ?)", params, Options{})
	require.NoError(t, err)
}

func TestExecuteDriverDiagnosticClassifiedBySQLState(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("DELETE FROM widgets", odbcapi.FakeQuery{Err: &odbcapi.Diagnostic{SQLState: "40001", NativeCode: 7, Message: "serialization failure"}})

	_, err := Execute(context.Background(), fake, conn, "DELETE FROM widgets", nil, Options{})
	require.Error(t, err)
	assert.True(t, classify.As(err, classify.Transaction))
}

func TestMultiResultWalksEachItem(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("CALL multi_proc()", odbcapi.FakeQuery{MultiResults: []odbcapi.FakeStatementResult{
		{ResultSet: &odbcapi.FakeResultSet{
			Columns: []odbcapi.ColumnDesc{{Name: "id", Type: int16(protocol.ColumnTypeInteger)}},
			Rows:    []odbcapi.FakeRow{{Values: [][]byte{[]byte("1")}}},
		}},
		{AffectedRows: 5},
	}})

	buf, err := MultiResult(context.Background(), fake, conn, "CALL multi_proc()", nil, Options{})
	require.NoError(t, err)

	items, err := protocol.DecodeMultiResult(buf)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, protocol.ItemTagResultSet, items[0].Tag)
	assert.Equal(t, protocol.ItemTagAffectedCount, items[1].Tag)
	assert.EqualValues(t, 5, items[1].AffectedCount)

	rs, err := protocol.Decode(items[0].ResultSet)
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 1)
}

func TestMultiResultBufferTooSmall(t *testing.T) {
	fake, conn := setupConn(t)
	fake.On("CALL multi_proc()", odbcapi.FakeQuery{MultiResults: []odbcapi.FakeStatementResult{
		{AffectedRows: 1},
		{AffectedRows: 2},
	}})

	_, err := MultiResult(context.Background(), fake, conn, "CALL multi_proc()", nil, Options{ResultBufferCap: 1})
	require.Error(t, err)
	assert.True(t, classify.As(err, classify.BufferTooSmall))
}
