package rhi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfigPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rhi.yaml")
	writeConfig(t, path, "bypass: true\nmin_merge_bytes: 1024\n")

	fc, err := LoadConfig(path)
	require.NoError(t, err)

	v := defaultVars()
	v.Apply(fc)

	require.True(t, v.Bypass.Load())
	require.EqualValues(t, 1024, v.MinMergeBytes.Load())
	// Fields absent from the file keep their defaults.
	require.True(t, v.AsyncDispatch.Load())
	require.True(t, v.MergeSmallLists.Load())
	require.EqualValues(t, 2, v.MinListsForParallel.Load())
}

func TestLoadConfigExplicitZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rhi.yaml")
	writeConfig(t, path, "async_dispatch: false\nmerge_small_lists: false\n")

	fc, err := LoadConfig(path)
	require.NoError(t, err)

	v := defaultVars()
	v.Apply(fc)
	require.False(t, v.AsyncDispatch.Load())
	require.False(t, v.MergeSmallLists.Load())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "bypass: [not, a, bool]\n")
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestWatchConfigReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rhi.yaml")
	writeConfig(t, path, "min_merge_bytes: 100\n")

	v := defaultVars()
	stop, err := WatchConfig(path, v)
	require.NoError(t, err)
	defer stop()
	require.EqualValues(t, 100, v.MinMergeBytes.Load())

	writeConfig(t, path, "min_merge_bytes: 200\n")

	deadline := time.Now().Add(5 * time.Second)
	for v.MinMergeBytes.Load() != 200 {
		if time.Now().After(deadline) {
			t.Fatal("config change not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestApplyNil(t *testing.T) {
	v := defaultVars()
	v.Apply(nil)
	require.True(t, v.AsyncDispatch.Load())
}
