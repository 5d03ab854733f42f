package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "gateway.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range []string{"sessions", "tenants"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", table).Scan(&name)
		require.NoError(t, err, "table %q missing", table)
	}
	assert.Equal(t, DriverSQLite, db.DriverName())
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()

	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Bootstrap(context.Background(), db))
	require.NoError(t, Bootstrap(context.Background(), db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: DriverSQLite})
	require.Error(t, err)
}

func TestSQLiteDSNAddsPragmas(t *testing.T) {
	dsn := sqliteDSN("/tmp/x.db")
	assert.True(t, strings.HasPrefix(dsn, "/tmp/x.db?"))
	assert.Contains(t, dsn, "busy_timeout")

	explicit := "/tmp/x.db?_pragma=busy_timeout(1)"
	assert.Equal(t, explicit, sqliteDSN(explicit))
}

func TestOpenInMemoryKeepsOneConnection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := Open(ctx, Options{Driver: DriverSQLite, DSN: ":memory:", MaxOpenConns: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	_, err = db.ExecContext(ctx, `INSERT INTO tenants (id, tenant_domain, created_at, updated_at) VALUES ('t1', 'shop-a.myshop.com', 'now', 'now')`)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.GetContext(ctx, &n, `SELECT COUNT(*) FROM tenants`))
	assert.Equal(t, 1, n)
}

func TestIsInMemory(t *testing.T) {
	for dsn, want := range map[string]bool{
		":memory:":                     true,
		"file::memory:?cache=shared":   true,
		"file:gate?mode=memory":        true,
		"./data/storegate.db":          false,
		"file:./data/gate.db?mode=rwc": false,
	} {
		assert.Equal(t, want, IsInMemory(dsn), dsn)
	}
}

func TestSameDatabase(t *testing.T) {
	primary := "postgres://gate@db.internal:5432/gate"

	require.NoError(t, SameDatabase(primary, "postgres://gate_tenants:pw@db.internal/gate?sslmode=disable"))

	err := SameDatabase(primary, "postgres://gate@db.internal:5432/other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/other")

	require.Error(t, SameDatabase(primary, "postgres://gate@replica.internal:5432/gate"))
	require.Error(t, SameDatabase(primary, "://not a dsn"))
}
