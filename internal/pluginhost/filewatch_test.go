package pluginhost

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPlugin turns every downward event it receives into an Enqueue
// request carrying "<kind>:<path>", so tests can observe exactly which
// events FileWatcher dispatched without needing a real subscriber.
const recordingPlugin = `
import (
	"encoding/json"
	"fmt"
)

func Handle(eventJSON string) (string, error) {
	var e map[string]interface{}
	if err := json.Unmarshal([]byte(eventJSON), &e); err != nil {
		return "[]", nil
	}

	kind, _ := e["kind"].(string)
	path, _ := e["path"].(string)

	return fmt.Sprintf("[{\"kind\":\"Enqueue\",\"payload\":{\"urls\":[\"%s:%s\"]}}]", kind, path), nil
}
`

func waitForEnqueued(t *testing.T, handler *fakeHandler, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(handler.enqueued) >= n {
			return
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d enqueued entries, got %d: %v", n, len(handler.enqueued), handler.enqueued)
}

func newWatchedHost(t *testing.T) (*Host, *fakeHandler, *FileWatcher) {
	t.Helper()

	handler := &fakeHandler{}
	logger := zerolog.Nop()
	host := New(handler, &logger)

	p, err := Compile(&Manifest{
		Name:         "recorder",
		Events:       []string{string(EventFileCreated), string(EventFileUpdated), string(EventFileDeleted)},
		Capabilities: []string{string(RequestEnqueue)},
	}, recordingPlugin)
	require.NoError(t, err)

	host.Register(p)

	fw, err := NewFileWatcher(host, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { fw.Close() })

	return host, handler, fw
}

func TestFileWatcherEmitsCreatedThenUpdated(t *testing.T) {
	dir := t.TempDir()
	_, handler, fw := newWatchedHost(t)

	require.NoError(t, fw.Watch(dir, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fw.Run(ctx)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	waitForEnqueued(t, handler, 1)
	assert.Contains(t, handler.enqueued[0], "FileCreated:")

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	waitForEnqueued(t, handler, 2)
	assert.Contains(t, handler.enqueued[1], "FileUpdated:")
}

func TestFileWatcherDedupesUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	_, handler, fw := newWatchedHost(t)

	require.NoError(t, fw.Watch(dir, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fw.Run(ctx)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	waitForEnqueued(t, handler, 1)

	// Rewriting the exact same content should not produce a second event.
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, handler.enqueued, 1)
}

func TestFileWatcherEmitsDeleted(t *testing.T) {
	dir := t.TempDir()
	_, handler, fw := newWatchedHost(t)

	require.NoError(t, fw.Watch(dir, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go fw.Run(ctx)

	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	waitForEnqueued(t, handler, 1)

	require.NoError(t, os.Remove(path))
	waitForEnqueued(t, handler, 2)
	assert.Contains(t, handler.enqueued[1], "FileDeleted:")
}

func TestContentHashDiffersOnContentChange(t *testing.T) {
	a := contentHash([]byte("hello"))
	b := contentHash([]byte("hello world"))
	c := contentHash([]byte("hello"))

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
}
