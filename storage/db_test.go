package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a"), []byte("1")))
	value, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), value)

	ok, err := db.Has([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)

	batch := db.NewBatch()
	batch.Put([]byte("b"), []byte("2"))
	batch.Put([]byte("c"), []byte("3"))
	batch.Delete([]byte("a"))
	require.Equal(t, 3, batch.Len())

	ok, err = db.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok, "batch must not apply before Write")

	require.NoError(t, batch.Write())
	_, err = db.Get([]byte("a"))
	require.ErrorIs(t, err, ErrNotFound)
	value, err = db.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)

	require.NoError(t, db.Delete([]byte("b")))
	ok, err = db.Has([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	exerciseDatabase(t, db)
	require.NoError(t, db.Close())

	reopened, err := NewLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	value, err := reopened.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), value)
}
