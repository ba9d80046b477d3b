package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func setup(t *testing.T) (*handleman.Registry, odbcapi.NativeAPI, handleman.ID, odbcapi.Handle) {
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

func TestBeginCommitRestoresAutocommit(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	txn, err := Begin(fake, reg, connID, conn, ReadCommitted, nil)
	require.NoError(t, err)
	assert.Equal(t, Active, txn.State())

	require.NoError(t, txn.Commit())
	assert.Equal(t, Committed, txn.State())
}

func TestCommitOnNonActiveFailsWithStateError(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	txn, err := Begin(fake, reg, connID, conn, ReadCommitted, nil)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	err = txn.Commit()
	require.Error(t, err)

	err = txn.Rollback()
	require.Error(t, err)
}

func TestSavepointLifecycle(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	txn, err := Begin(fake, reg, connID, conn, Serializable, nil)
	require.NoError(t, err)

	require.NoError(t, txn.Savepoint("sp1"))
	require.NoError(t, txn.RollbackToSavepoint("sp1"))
	assert.Equal(t, Active, txn.State())

	require.NoError(t, txn.ReleaseSavepoint("sp1"))
	err = txn.ReleaseSavepoint("sp1")
	require.Error(t, err)
}

func TestAbandonedActiveTxnRollsBackOnDrop(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	txn, err := Begin(fake, reg, connID, conn, ReadCommitted, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Drop(handleman.KindTxn, txn.ID()))
	assert.Equal(t, RolledBack, txn.State())
	_ = fake
}

func TestConnectionCascadeAbandonsActiveTxn(t *testing.T) {
	reg, fake, connID, conn := setup(t)
	txn, err := Begin(fake, reg, connID, conn, ReadCommitted, nil)
	require.NoError(t, err)

	require.NoError(t, reg.Drop(handleman.KindConnection, connID))
	assert.Equal(t, RolledBack, txn.State())
	assert.False(t, reg.Lookup(handleman.KindTxn, txn.ID()))
}
