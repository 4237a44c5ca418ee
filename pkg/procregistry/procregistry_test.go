package procregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterGetUnregister(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	_, found, err := reg.Get("xpub1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, reg.Register("xpub1", 4242))

	entry, found, err := reg.Get("xpub1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4242, entry.PID)
	assert.False(t, entry.StartedAt.IsZero())

	require.NoError(t, reg.Unregister("xpub1"))
	_, found, err = reg.Get("xpub1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListReturnsAllEntries(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.Register("xpub1", 100))
	require.NoError(t, reg.Register("xpub2", 200))

	entries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	pids := map[string]int{}
	for _, e := range entries {
		pids[e.XpubVanilla] = e.PID
	}
	assert.Equal(t, 100, pids["xpub1"])
	assert.Equal(t, 200, pids["xpub2"])
}

func TestRegisterOverwritesExistingEntry(t *testing.T) {
	reg, err := Open(t.TempDir())
	require.NoError(t, err)
	defer reg.Close()

	require.NoError(t, reg.Register("xpub1", 100))
	require.NoError(t, reg.Register("xpub1", 200))

	entry, found, err := reg.Get("xpub1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200, entry.PID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	reg, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, reg.Register("xpub1", 999))
	require.NoError(t, reg.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	entry, found, err := reopened.Get("xpub1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 999, entry.PID)
}
