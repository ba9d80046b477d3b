package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/engineconfig"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func openTestSession(t *testing.T) (*Session, *odbcapi.Fake) {
	t.Helper()
	fake := odbcapi.NewFake()
	s, err := Open(fake, nil, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

func TestOpenAllocatesEnvironmentAndStartsWorker(t *testing.T) {
	s, _ := openTestSession(t)
	require.NotNil(t, s.Worker)
}

func TestConnectRejectsEmptyConnectionString(t *testing.T) {
	s, _ := openTestSession(t)
	_, err := s.Connect(context.Background(), engineconfig.ConnectOptions{})
	require.Error(t, err)
}

func TestConnectOpensAPooledConnection(t *testing.T) {
	s, _ := openTestSession(t)
	conn, err := s.Connect(context.Background(), engineconfig.ConnectOptions{
		ConnectionString: "SERVER=db1;PORT=1433;UID=app;DATABASE=orders",
	})
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.NoError(t, conn.Close(context.Background()))
}

func TestConnectReusesPoolForSameIdentityDifferentDatabase(t *testing.T) {
	s, _ := openTestSession(t)
	c1, err := s.Connect(context.Background(), engineconfig.ConnectOptions{
		ConnectionString: "SERVER=db1;PORT=1433;UID=app;DATABASE=orders",
	})
	require.NoError(t, err)
	defer c1.Close(context.Background())

	c2, err := s.Connect(context.Background(), engineconfig.ConnectOptions{
		ConnectionString: "SERVER=db1;PORT=1433;UID=app;DATABASE=inventory",
	})
	require.NoError(t, err)
	defer c2.Close(context.Background())

	require.Same(t, c1.pool, c2.pool)
}

func TestCloseIsIdempotentAndTearsDownPools(t *testing.T) {
	s, _ := openTestSession(t)
	conn, err := s.Connect(context.Background(), engineconfig.ConnectOptions{
		ConnectionString: "SERVER=db1;PORT=1433;UID=app;DATABASE=orders",
	})
	require.NoError(t, err)
	require.NoError(t, conn.Close(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
