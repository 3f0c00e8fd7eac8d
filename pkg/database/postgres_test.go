package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hashicorp-forge/wopihost/pkg/models"
)

// TestConnect_Postgres migrates a Postgres container and exercises the lock
// table's conditional writes against it.
func TestConnect_Postgres(t *testing.T) {
	if testing.Short() || os.Getenv("INTEGRATION_TEST") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=1 to run")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("wopihost"),
		postgres.WithUsername("wopihost"),
		postgres.WithPassword("wopihost"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := Connect(Config{
		Driver:      DriverPostgres,
		DSN:         dsn,
		AutoMigrate: true,
	}, hclog.NewNullLogger())
	require.NoError(t, err)

	stats, err := GetPoolStats(db)
	require.NoError(t, err)
	assert.Equal(t, 25, stats.MaxOpenConnections)

	user := &models.User{Name: "alice", FriendlyName: "Alice"}
	require.NoError(t, user.Create(db))

	var got models.User
	require.NoError(t, got.GetByName(db, "alice"))
	assert.Equal(t, user.ID, got.ID)

	ok, err := models.InsertFileLock(db, "file-1", "A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = models.InsertFileLock(db, "file-1", "B")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = models.SwapFileLock(db, "file-1", "B", "C")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = models.SwapFileLock(db, "file-1", "A", "C")
	require.NoError(t, err)
	assert.True(t, ok)

	current, err := models.GetFileLock(db, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "C", current)

	ok, err = models.DeleteFileLock(db, "file-1", "C")
	require.NoError(t, err)
	assert.True(t, ok)

	current, err = models.GetFileLock(db, "file-1")
	require.NoError(t, err)
	assert.Empty(t, current)
}
