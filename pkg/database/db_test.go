package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_Sqlite(t *testing.T) {
	db, err := Connect(Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "n.db")})
	require.NoError(t, err)

	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
	assert.NoError(t, Close(db))
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(Options{Driver: "oracle"})
	assert.Error(t, err)
}
