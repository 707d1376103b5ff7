package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteFeaturesSearch(t *testing.T) {
	db, err := NewSQLiteStore()
	require.NoError(t, err)
	defer db.Close()
	f := db.Features()

	ids, err := f.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, ids, "empty index")

	require.NoError(t, f.Add("red", []float32{1, 0, 0}))
	require.NoError(t, f.Add("reddish", []float32{0.9, 0.1, 0}))
	require.NoError(t, f.Add("green", []float32{0, 1, 0}))

	ids, err = f.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "reddish"}, ids)

	// Replacing moves green next to red.
	require.NoError(t, f.Add("green", []float32{1, 0.01, 0}))
	ids, err = f.Search([]float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "green", "reddish"}, ids)

	n, err := f.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	dim, err := f.Dim()
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	ids, err = f.Search([]float32{1, 0, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSQLiteFeaturesRejectsBadInput(t *testing.T) {
	db, err := NewSQLiteStore()
	require.NoError(t, err)
	defer db.Close()
	f := db.Features()

	assert.ErrorIs(t, f.Add("", []float32{1}), ErrFeatureID)
	require.NoError(t, f.Add("a", []float32{1, 0}))
	assert.ErrorIs(t, f.Add("b", []float32{1, 0, 0}), ErrFeatureDimension)

	_, err = f.Search([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrFeatureDimension)
}

func TestSQLiteFeaturesPersist(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "annokitt.db")

	db, err := NewSQLiteStoreWithDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Features().Add("c1", []float32{0, 0, 1}))
	require.NoError(t, db.Features().Save())
	require.NoError(t, db.Close())

	db, err = NewSQLiteStoreWithDSN(dsn)
	require.NoError(t, err)
	defer db.Close()
	ids, err := db.Features().Search([]float32{0, 0.1, 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}
