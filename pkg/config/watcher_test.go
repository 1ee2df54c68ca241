package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleWatcher_NotifiesOnRegoChange(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewBundleWatcher(dir, nil)
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	updates := watcher.Subscribe()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.rego"), []byte("package verdict\n"), 0o644))

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification for a rego write")
	}
}

func TestBundleWatcher_IgnoresNonRegoFiles(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewBundleWatcher(dir, nil)
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	updates := watcher.Subscribe()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	select {
	case <-updates:
		t.Fatal("non-rego writes must not notify subscribers")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestBundleWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	watcher, err := NewBundleWatcher(dir, nil)
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	updates := watcher.Subscribe()

	// An editor save burst lands as several rapid writes.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.rego"), []byte("package verdict\n"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a change notification")
	}

	select {
	case <-updates:
		t.Fatal("burst writes must coalesce into a single notification")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestBundleWatcher_MissingDir(t *testing.T) {
	_, err := NewBundleWatcher(filepath.Join(t.TempDir(), "absent"), nil)
	assert.Error(t, err)
}
