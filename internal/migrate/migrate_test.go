package migrate

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestUpDownStatusSQLite(t *testing.T) {
	ctx := context.Background()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	db, err := gdb.DB()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	results, err := Up(ctx, db, DialectSQLite)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM abonents`).Scan(&n))
	assert.Zero(t, n)

	statuses, err := Status(ctx, db, DialectSQLite)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	_, err = Down(ctx, db, DialectSQLite)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `SELECT count(*) FROM abonents`)
	assert.Error(t, err)
}

func TestUnsupportedDialect(t *testing.T) {
	_, err := Up(context.Background(), nil, "mysql")
	assert.Error(t, err)
}
