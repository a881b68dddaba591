package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWatcher_ConfigChange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "modules.yaml")
	probesPath := filepath.Join(dir, "probes.yaml")

	events := make(chan Event, 10)
	w, err := NewFileWatcher(configPath, probesPath, events)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to start.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(configPath, []byte("modules: {}\n"), 0644))

	select {
	case event := <-events:
		assert.Equal(t, EventConfigChanged, event.Type)
		assert.Equal(t, configPath, event.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a config-changed event")
	}
}

func TestFileWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "modules.yaml")

	events := make(chan Event, 10)
	w, err := NewFileWatcher(configPath, "", events)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x\n"), 0644))

	select {
	case event := <-events:
		t.Fatalf("unexpected event for unrelated file: %+v", event)
	case <-time.After(200 * time.Millisecond):
		// Expected
	}
}

func TestFileWatcher_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	probesPath := filepath.Join(dir, "probes.yaml")
	require.NoError(t, os.WriteFile(probesPath, []byte("old\n"), 0644))

	events := make(chan Event, 10)
	w, err := NewFileWatcher("", probesPath, events)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	// Write-then-rename, the way config management tools replace files.
	tmp := probesPath + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("new\n"), 0644))
	require.NoError(t, os.Rename(tmp, probesPath))

	select {
	case event := <-events:
		assert.Equal(t, EventProbesChanged, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a probes-changed event after rename")
	}
}
