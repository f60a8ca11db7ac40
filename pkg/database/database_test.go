package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDBSeq int64

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	dsn := fmt.Sprintf("file:gateway%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := Open("sqlite", dsn, PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)

	g := NewGateway(db)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestOpenUnknownDriverFallsBackToSQLite(t *testing.T) {
	db, err := Open("", "file:fallback?mode=memory&cache=shared", DefaultPoolConfig())
	require.NoError(t, err)
	require.NotNil(t, db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.Close()
}

func TestGatewayExecuteAndQuery(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Execute(ctx, "CREATE TABLE beacons (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	rows, err := g.Execute(ctx, "INSERT INTO beacons (name) VALUES (?), (?)", "north", "south")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	var names []string
	require.NoError(t, g.Query(ctx, &names, "SELECT name FROM beacons ORDER BY id"))
	assert.Equal(t, []string{"north", "south"}, names)
}

func TestGatewayTransactionRollback(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Execute(ctx, "CREATE TABLE beacons (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = g.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO beacons (name) VALUES (?)", "ghost").Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, g.Query(ctx, &count, "SELECT COUNT(*) FROM beacons"))
	assert.Zero(t, count)

	// 成功路径提交
	require.NoError(t, g.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO beacons (name) VALUES (?)", "kept").Error
	}))
	require.NoError(t, g.Query(ctx, &count, "SELECT COUNT(*) FROM beacons"))
	assert.Equal(t, int64(1), count)
}

func TestGatewayHealthCheck(t *testing.T) {
	g := newTestGateway(t)
	assert.NoError(t, g.HealthCheck(context.Background()))
}
