package cookiestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testLogger() arbor.ILogger { return arbor.NewLogger() }

func TestPutThenGetRoundTrips(t *testing.T) {
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	cookies := []Cookie{
		{Name: "session", Value: "abc123", Domain: "example.com", Path: "/", Secure: true, HTTPOnly: true},
	}
	require.NoError(t, store.Put("w1", "example.com", cookies))

	rec, err := store.Get("w1")
	require.NoError(t, err)
	assert.Equal(t, "w1", rec.Worker)
	assert.Equal(t, "example.com", rec.Domain)
	require.Len(t, rec.Cookies, 1)
	assert.Equal(t, "abc123", rec.Cookies[0].Value)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestPutOverwritesExistingRecord(t *testing.T) {
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("w1", "example.com", []Cookie{{Name: "a", Value: "1"}}))
	require.NoError(t, store.Put("w1", "example.com", []Cookie{{Name: "b", Value: "2"}}))

	rec, err := store.Get("w1")
	require.NoError(t, err)
	require.Len(t, rec.Cookies, 1)
	assert.Equal(t, "b", rec.Cookies[0].Name)
}

func TestGetUnknownWorkerReturnsErrNotFound(t *testing.T) {
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListReturnsAllRecords(t *testing.T) {
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("w1", "one.example.com", []Cookie{{Name: "a", Value: "1"}}))
	require.NoError(t, store.Put("w2", "two.example.com", []Cookie{{Name: "b", Value: "2"}}))

	recs, err := store.List()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCloseReturnsNoError(t *testing.T) {
	store, err := Open(t.TempDir(), testLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
