package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func setup(t *testing.T) (*handleman.Registry, *odbcapi.Fake, handleman.ID, odbcapi.Handle) {
	t.Helper()
	fake := odbcapi.NewFake()
	reg := handleman.New()
	env, err := fake.AllocEnv()
	require.NoError(t, err)
	conn, err := fake.AllocConn(env)
	require.NoError(t, err)
	require.NoError(t, fake.Connect(conn, "dsn=test", 0))

	envID := reg.RegisterEnv(nil)
	connID, err := reg.RegisterConnection(envID, func() error { return fake.Disconnect(conn) })
	require.NoError(t, err)
	return reg, fake, connID, conn
}

func widgetRows(n int) []odbcapi.FakeRow {
	rows := make([]odbcapi.FakeRow, n)
	for i := range rows {
		rows[i] = odbcapi.FakeRow{Values: [][]byte{[]byte("x")}}
	}
	return rows
}

func TestBufferModeFetchesEntireResultInChunks(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	fake.On("SELECT * FROM widgets", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "v", Type: int16(protocol.ColumnTypeChar)}},
		Rows:    widgetRows(5),
	}})

	s, err := Start(context.Background(), fake, reg, connID, conn, "SELECT * FROM widgets", BufferMode, 0)
	require.NoError(t, err)

	var reassembled Reassembler
	for {
		chunk, more, err := s.Fetch(8) // small chunk to force several rounds
		require.NoError(t, err)
		if len(chunk) > 0 {
			_, ferr := reassembled.Feed(chunk)
			require.NoError(t, ferr)
		}
		if !more {
			break
		}
	}
	require.NoError(t, s.Close())
	require.NoError(t, reassembled.Close())
}

func TestBatchedModeProducesMultipleFramedBatches(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	fake.On("SELECT * FROM widgets", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "v", Type: int16(protocol.ColumnTypeChar)}},
		Rows:    widgetRows(5),
	}})

	s, err := Start(context.Background(), fake, reg, connID, conn, "SELECT * FROM widgets", BatchedMode, 2)
	require.NoError(t, err)

	var reassembled Reassembler
	var frames [][]byte
	for {
		chunk, more, err := s.Fetch(1024)
		require.NoError(t, err)
		if len(chunk) > 0 {
			got, ferr := reassembled.Feed(chunk)
			require.NoError(t, ferr)
			frames = append(frames, got...)
		}
		if !more {
			break
		}
	}
	require.NoError(t, reassembled.Close())

	// fetchSize=2 over 5 rows -> batches of 2, 2, 1 = three framed buffers.
	require.Len(t, frames, 3)
	total := 0
	for _, f := range frames {
		rs, err := protocol.Decode(f)
		require.NoError(t, err)
		total += len(rs.Rows)
	}
	assert.Equal(t, 5, total)
	require.NoError(t, s.Close())
}

func TestStartRefusesSecondStreamOnSameConnection(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	fake.On("SELECT 1", odbcapi.FakeQuery{Result: &odbcapi.FakeResultSet{
		Columns: []odbcapi.ColumnDesc{{Name: "v", Type: int16(protocol.ColumnTypeChar)}},
	}})

	s, err := Start(context.Background(), fake, reg, connID, conn, "SELECT 1", BufferMode, 0)
	require.NoError(t, err)

	_, err = Start(context.Background(), fake, reg, connID, conn, "SELECT 1", BufferMode, 0)
	require.Error(t, err)

	require.NoError(t, s.Close())

	_, err = Start(context.Background(), fake, reg, connID, conn, "SELECT 1", BufferMode, 0)
	require.NoError(t, err)
}

func TestReassemblerDetectsLeftoverBytesAtClose(t *testing.T) {
	var r Reassembler
	_, err := r.Feed([]byte{1, 2, 3})
	require.NoError(t, err)
	err = r.Close()
	require.Error(t, err)
}
