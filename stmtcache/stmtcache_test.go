package stmtcache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsvxavier/odbcengine/handleman"
	"github.com/fsvxavier/odbcengine/providers/odbcapi"
)

func TestNormalizeCollapsesWhitespaceAndAccents(t *testing.T) {
	a := Normalize("SELECT  *   FROM  widgets")
	b := Normalize("SELECT * FROM widgets")
	assert.Equal(t, a, b)

	assert.Equal(t, Normalize("café"), Normalize("café"))
}

func TestExtractNamedParamsInOrderDeduped(t *testing.T) {
	params := ExtractNamedParams("SELECT * FROM widgets WHERE id = :id AND owner = :owner OR id = :id")
	assert.Equal(t, []string{"id", "owner"}, params)
}

func TestCacheHitAndMiss(t *testing.T) {
	c := New(10, nil)
	var prepareCalls int
	prepare := func(conn handleman.ID, sql string) (Stmt, error) {
		prepareCalls++
		return Stmt{ID: handleman.ID(prepareCalls), Handle: odbcapi.Handle(prepareCalls)}, nil
	}

	s1, err := c.Get(handleman.ID(1), "SELECT 1", prepare, nil)
	require.NoError(t, err)
	s2, err := c.Get(handleman.ID(1), "SELECT   1", prepare, nil) // normalizes to the same key
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, prepareCalls)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(1), m.TotalPrepares)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2, nil)
	prepare := func(conn handleman.ID, sql string) (Stmt, error) {
		return Stmt{ID: handleman.ID(1), SQL: sql}, nil
	}
	var evicted []string
	evict := func(s *Stmt) error {
		evicted = append(evicted, s.SQL)
		return nil
	}

	_, err := c.Get(handleman.ID(1), "SELECT 1", prepare, evict)
	require.NoError(t, err)
	_, err = c.Get(handleman.ID(1), "SELECT 2", prepare, evict)
	require.NoError(t, err)
	// touch SELECT 1 so it's most-recently-used
	_, err = c.Get(handleman.ID(1), "SELECT 1", prepare, evict)
	require.NoError(t, err)

	_, err = c.Get(handleman.ID(1), "SELECT 3", prepare, evict)
	require.NoError(t, err)

	require.Len(t, evicted, 1)
	assert.Equal(t, "SELECT 2", evicted[0])
	assert.Equal(t, 2, c.Metrics().Size)
}

func TestCacheEvictionErrorPropagates(t *testing.T) {
	c := New(1, nil)
	prepare := func(conn handleman.ID, sql string) (Stmt, error) {
		return Stmt{SQL: sql}, nil
	}
	evict := func(s *Stmt) error { return fmt.Errorf("close failed") }

	_, err := c.Get(handleman.ID(1), "SELECT 1", prepare, evict)
	require.NoError(t, err)

	_, err = c.Get(handleman.ID(1), "SELECT 2", prepare, evict)
	require.Error(t, err)
}

func TestInvalidateRemovesConnectionEntries(t *testing.T) {
	c := New(10, nil)
	prepare := func(conn handleman.ID, sql string) (Stmt, error) {
		return Stmt{SQL: sql}, nil
	}

	_, err := c.Get(handleman.ID(1), "SELECT 1", prepare, nil)
	require.NoError(t, err)
	_, err = c.Get(handleman.ID(2), "SELECT 1", prepare, nil)
	require.NoError(t, err)

	c.Invalidate(handleman.ID(1))
	assert.Equal(t, 1, c.Metrics().Size)
}
