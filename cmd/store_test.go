package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	rows := []Row{
		{Type: "header", Header: "source .venv/bin/activate"},
		{Type: "command", Command: "echo hi", Name: "job1"},
	}
	require.NoError(t, store.Write("my-queue", rows))

	got, err := store.Read("my-queue")
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestStoreAppend(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("q", nil))
	require.NoError(t, store.Append("q", Row{Type: "command", Command: "echo 1"}))
	require.NoError(t, store.Append("q", Row{
		Type: "command", Command: "echo 2", Name: "second", Depends: []string{"first"},
	}))

	rows, err := store.Read("q")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "echo 2", rows[1].Command)
	assert.Equal(t, []string{"first"}, rows[1].Depends)
}

func TestStoreList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Write("alpha", nil))
	require.NoError(t, store.Write("beta", nil))

	names, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, names)
}

func TestStoreReadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("nope")
	assert.Error(t, err)
}

func TestBuildQueueFromStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	rows := []Row{
		{Type: "header", Header: "echo header"},
		{Type: "command", Command: "echo a", Name: "a"},
		{Type: "command", Command: "echo b", Name: "b", Depends: []string{"a"}},
	}
	require.NoError(t, store.Write("built", rows))

	q, err := buildQueue("built", "serial", 1, dir, "")
	require.NoError(t, err)
	assert.Equal(t, 2, q.NumRealJobs())

	text, err := q.FinalizeText(queueEmitAll)
	require.NoError(t, err)
	assert.Contains(t, text, "echo header")
	assert.Contains(t, text, "echo a")
	assert.Contains(t, text, "echo b")
}
