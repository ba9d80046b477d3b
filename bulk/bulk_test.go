package bulk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/engineconfig"
	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/pool"
	"github.com/fsvxavier/odbcengine/protocol"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func widgetsBuffer(t *testing.T, n int) *Buffer {
	t.Helper()
	b, err := NewBuilder("widgets", widgetsSchema())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, b.AddRow([]Cell{
			{Value: []byte{byte(i), 0, 0, 0}},
			{Value: []byte("gizmo")},
		}))
	}
	return b.Build()
}

func TestArrayInsertGroupsIntoBatches(t *testing.T) {
	fake := odbcapi.NewFake()
	env, err := fake.AllocEnv()
	require.NoError(t, err)
	conn, err := fake.AllocConn(env)
	require.NoError(t, err)
	require.NoError(t, fake.Connect(conn, "dsn=test", 0))

	fake.On("INSERT INTO widgets (id, label) VALUES (?, ?)", odbcapi.FakeQuery{
		Result: &odbcapi.FakeResultSet{AffectedRows: 1},
	})

	buf := widgetsBuffer(t, 5)
	n, err := ArrayInsert(context.Background(), fake, conn, buf, 2)
	require.NoError(t, err)
	// 3 batches of size 2,2,1, each reporting AffectedRows=1 per the canned
	// result -> total reflects the driver's own per-batch accounting, not
	// row count.
	assert.Equal(t, int64(3), n)
}

func TestArrayInsertRejectsEmptySchema(t *testing.T) {
	_, err := ArrayInsert(context.Background(), odbcapi.NewFake(), odbcapi.Handle(1), &Buffer{}, 0)
	require.Error(t, err)
}

func TestArrayInsertSurfacesDriverDiagnostic(t *testing.T) {
	fake := odbcapi.NewFake()
	env, err := fake.AllocEnv()
	require.NoError(t, err)
	conn, err := fake.AllocConn(env)
	require.NoError(t, err)
	require.NoError(t, fake.Connect(conn, "dsn=test", 0))

	fake.On("INSERT INTO widgets (id, label) VALUES (?, ?)", odbcapi.FakeQuery{
		Err: &odbcapi.Diagnostic{SQLState: "23000", NativeCode: 1, Message: "constraint violation"},
	})

	buf := widgetsBuffer(t, 1)
	_, err = ArrayInsert(context.Background(), fake, conn, buf, 0)
	require.Error(t, err)
}

func setupParallelPool(t *testing.T, maxSize int32) (*odbcapi.Fake, *pool.Pool) {
	t.Helper()
	fake := odbcapi.NewFake()
	reg := handleman.New()
	envID := reg.RegisterEnv(nil)

	dial := func(ctx context.Context) (odbcapi.Handle, error) {
		e, err := fake.AllocEnv()
		if err != nil {
			return 0, err
		}
		h, err := fake.AllocConn(e)
		if err != nil {
			return 0, err
		}
		return h, fake.Connect(h, "dsn=test", 0)
	}

	cfg := pool.Config{PoolConfig: engineconfig.PoolConfig{MaxSize: maxSize}, Policy: pool.FailFast}
	p := pool.New(pool.Identity("db1:1433:app"), cfg, fake, reg, envID, dial, nil, nil)
	return fake, p
}

func TestParallelInsertAggregatesAcrossWorkers(t *testing.T) {
	fake, p := setupParallelPool(t, 4)
	defer p.Close()

	fake.On("INSERT INTO widgets (id, label) VALUES (?, ?)", odbcapi.FakeQuery{
		Result: &odbcapi.FakeResultSet{AffectedRows: 1},
	})

	buf := widgetsBuffer(t, 10)
	n, err := ParallelInsert(context.Background(), fake, p, buf, 4, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n) // 4 workers, each array-inserting its slice in one batch
}

func TestParallelInsertEmptyBufferIsNoop(t *testing.T) {
	_, p := setupParallelPool(t, 2)
	defer p.Close()

	buf := &Buffer{Table: "widgets", Columns: widgetsSchema()}
	n, err := ParallelInsert(context.Background(), odbcapi.NewFake(), p, buf, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestParallelInsertSurfacesFirstWorkerError(t *testing.T) {
	fake, p := setupParallelPool(t, 2)
	defer p.Close()
	// No query registered at all -> every worker's Execute fails.

	buf := widgetsBuffer(t, 4)
	_, err := ParallelInsert(context.Background(), fake, p, buf, 2, 1000)
	require.Error(t, err)
}

func TestWireTypeRejectsNullTag(t *testing.T) {
	_, _, err := wireType(protocol.ParamTagNull)
	require.Error(t, err)
}
