package db

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidawidget.db")

	db, err := Open(path, logrus.New())
	require.NoError(t, err)
	defer db.Close()

	var version int
	require.NoError(t, db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, 2, version)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aidawidget.db")

	first, err := Open(path, logrus.New())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path, logrus.New())
	require.NoError(t, err)
	defer second.Close()
}
