package box

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(t.TempDir(), t.TempDir()+"/registry.json")
}

func TestInitRegistersInstance(t *testing.T) {
	e := newTestEngine(t)
	cfg := types.IsolateConfig{WorkDir: t.TempDir() + "/work"}

	err := e.Init("inst-1", cfg)
	require.NoError(t, err)

	summaries, err := e.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "inst-1", summaries[0].InstanceID)
}

func TestLoadInstanceUnknownIsRegistryError(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.loadInstance("nope")
	require.Error(t, err)
	require.True(t, errors.Is(err, &isoerr.Error{Kind: isoerr.Registry}))
}

func TestCleanupRemovesRegistryEntry(t *testing.T) {
	e := newTestEngine(t)
	cfg := types.IsolateConfig{WorkDir: t.TempDir() + "/work"}
	require.NoError(t, e.Init("inst-2", cfg))

	require.NoError(t, e.Cleanup(CleanupTarget{InstanceID: "inst-2"}))

	summaries, err := e.List()
	require.NoError(t, err)
	require.Empty(t, summaries)
}

func TestCleanupIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Cleanup(CleanupTarget{InstanceID: "never-existed"}))
}

func TestCleanupAllClearsEveryInstance(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Init("a", types.IsolateConfig{WorkDir: t.TempDir() + "/a"}))
	require.NoError(t, e.Init("b", types.IsolateConfig{WorkDir: t.TempDir() + "/b"}))

	require.NoError(t, e.Cleanup(CleanupTarget{All: true}))

	summaries, err := e.List()
	require.NoError(t, err)
	require.Empty(t, summaries)
}
