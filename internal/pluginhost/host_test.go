package pluginhost

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandler records every call a plugin's requests triggered, so tests
// can assert on what the host actually dispatched.
type fakeHandler struct {
	enqueued  []string
	deleted   []string
	listDirFn func(path string) ([]string, error)
	queryFn   func(query string) ([]map[string]any, error)
}

func (f *fakeHandler) Enqueue(_ context.Context, urls []string) error {
	f.enqueued = append(f.enqueued, urls...)
	return nil
}

func (f *fakeHandler) DeleteDoc(_ context.Context, url string) error {
	f.deleted = append(f.deleted, url)
	return nil
}

func (f *fakeHandler) ListDir(_ context.Context, path string) ([]string, error) {
	if f.listDirFn != nil {
		return f.listDirFn(path)
	}

	return nil, nil
}

func (f *fakeHandler) SubscribeForDocuments(_ context.Context, _, _ string) error { return nil }
func (f *fakeHandler) SubscribeForUpdates(_ context.Context, _ string) error      { return nil }
func (f *fakeHandler) WatchDirectory(_ context.Context, _, _ string, _ bool) error {
	return nil
}

func (f *fakeHandler) SqliteQuery(_ context.Context, query string) ([]map[string]any, error) {
	if f.queryFn != nil {
		return f.queryFn(query)
	}

	return nil, nil
}

func (f *fakeHandler) SyncFile(_ context.Context, _, _ string) error { return nil }
func (f *fakeHandler) WalkAndEnqueue(_ context.Context, _ string, _ []string) error {
	return nil
}
func (f *fakeHandler) AddDocument(_ context.Context, _ []DocumentInput, _ []string) error {
	return nil
}
func (f *fakeHandler) ModifyTags(_ context.Context, _ string, _, _ []string) error { return nil }

func newTestHost(t *testing.T, handler RequestHandler) *Host {
	t.Helper()

	logger := zerolog.Nop()

	return New(handler, &logger)
}

func TestDispatchDeniesUngrantedCapability(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:   "no-enqueue",
		Events: []string{string(EventIntervalUpdate)},
		// Enqueue not in Capabilities.
	}, enqueuePlugin)
	require.NoError(t, err)

	host.Register(p)
	host.Dispatch(context.Background(), Event{Kind: EventIntervalUpdate})

	assert.Empty(t, handler.enqueued)
}

func TestDispatchAllowsGrantedCapability(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "enqueuer",
		Events:       []string{string(EventIntervalUpdate)},
		Capabilities: []string{string(RequestEnqueue)},
	}, enqueuePlugin)
	require.NoError(t, err)

	host.Register(p)
	host.Dispatch(context.Background(), Event{Kind: EventIntervalUpdate})

	assert.Equal(t, []string{"https://example.com/a"}, handler.enqueued)
}

func TestDispatchSkipsUnsubscribedEvent(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "file-only",
		Events:       []string{string(EventFileCreated)},
		Capabilities: []string{string(RequestEnqueue)},
	}, enqueuePlugin)
	require.NoError(t, err)

	host.Register(p)
	host.Dispatch(context.Background(), Event{Kind: EventIntervalUpdate})

	assert.Empty(t, handler.enqueued)
}

const listDirRoundTripPlugin = `
import (
	"encoding/json"
	"strings"
)

func Handle(eventJSON string) (string, error) {
	var e map[string]interface{}
	if err := json.Unmarshal([]byte(eventJSON), &e); err != nil {
		return "[]", nil
	}

	kind, _ := e["kind"].(string)

	if strings.Contains(kind, "listDirResult") {
		return "[]", nil
	}

	return ` + "`" + `[{"kind":"ListDir","payload":{"path":"."}}]` + "`" + `, nil
}
`

func TestDispatchListDirRoundTrip(t *testing.T) {
	called := false
	handler := &fakeHandler{
		listDirFn: func(path string) ([]string, error) {
			called = true
			return []string{"a.txt", "b.txt"}, nil
		},
	}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "lister",
		Events:       []string{string(EventIntervalUpdate)},
		Capabilities: []string{string(RequestListDir)},
	}, listDirRoundTripPlugin)
	require.NoError(t, err)

	host.Register(p)
	host.Dispatch(context.Background(), Event{Kind: EventIntervalUpdate})

	assert.True(t, called)
}

func TestDispatchIsolatesOnePluginFromAnother(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	broken, err := Compile(&Manifest{
		Name:         "broken",
		Events:       []string{string(EventIntervalUpdate)},
		Capabilities: []string{string(RequestEnqueue)},
	}, panickingPlugin)
	require.NoError(t, err)

	healthy, err := Compile(&Manifest{
		Name:         "healthy",
		Events:       []string{string(EventIntervalUpdate)},
		Capabilities: []string{string(RequestEnqueue)},
	}, enqueuePlugin)
	require.NoError(t, err)

	host.Register(broken)
	host.Register(healthy)

	host.Dispatch(context.Background(), Event{Kind: EventIntervalUpdate})

	assert.Equal(t, []string{"https://example.com/a"}, handler.enqueued)
}

// documentResponsePlugin re-enqueues every document id it's handed in a
// DocumentResponse event, so tests can observe what NotifyDocumentsWritten
// actually delivered.
const documentResponsePlugin = `
import (
	"encoding/json"
	"fmt"
	"strings"
)

func Handle(eventJSON string) (string, error) {
	var e map[string]interface{}
	if err := json.Unmarshal([]byte(eventJSON), &e); err != nil {
		return "[]", nil
	}

	ids, ok := e["document_ids"].([]interface{})
	if !ok || len(ids) == 0 {
		return "[]", nil
	}

	strs := make([]string, 0, len(ids))
	for _, id := range ids {
		s, _ := id.(string)
		strs = append(strs, s)
	}

	return fmt.Sprintf("[{\"kind\":\"Enqueue\",\"payload\":{\"urls\":[\"%s\"]}}]", strings.Join(strs, "\",\"")), nil
}
`

func TestNotifyDocumentsWrittenReachesUpdateSubscriber(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "watcher-plugin",
		Events:       []string{string(EventDocumentResponse)},
		Capabilities: []string{string(RequestEnqueue)},
	}, documentResponsePlugin)
	require.NoError(t, err)

	host.Register(p)
	host.SubscribeUpdates("watcher-plugin")

	host.NotifyDocumentsWritten(context.Background(), "doc-123")

	require.Len(t, handler.enqueued, 1)
	assert.Equal(t, "doc-123", handler.enqueued[0])
}

func TestNotifyDocumentsWrittenSkipsUnsubscribedPlugin(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "bystander",
		Events:       []string{string(EventDocumentResponse)},
		Capabilities: []string{string(RequestEnqueue)},
	}, documentResponsePlugin)
	require.NoError(t, err)

	host.Register(p)
	// No SubscribeUpdates/Subscribe call for this plugin.

	host.NotifyDocumentsWritten(context.Background(), "doc-123")

	assert.Empty(t, handler.enqueued)
}

func TestUnregisterClearsSubscriptions(t *testing.T) {
	handler := &fakeHandler{}
	host := newTestHost(t, handler)

	p, err := Compile(&Manifest{
		Name:         "watcher-plugin",
		Events:       []string{string(EventDocumentResponse)},
		Capabilities: []string{string(RequestEnqueue)},
	}, documentResponsePlugin)
	require.NoError(t, err)

	host.Register(p)
	host.SubscribeUpdates("watcher-plugin")
	host.Unregister("watcher-plugin")
	host.Register(p)

	host.NotifyDocumentsWritten(context.Background(), "doc-123")

	assert.Empty(t, handler.enqueued)
}

func TestPluginSubscribesAndAllows(t *testing.T) {
	p, err := Compile(&Manifest{
		Name:         "p",
		Events:       []string{string(EventFileCreated)},
		Capabilities: []string{string(RequestEnqueue)},
	}, "")
	require.NoError(t, err)

	assert.True(t, p.Subscribes(EventFileCreated))
	assert.False(t, p.Subscribes(EventFileDeleted))
	assert.True(t, p.Allows(RequestEnqueue))
	assert.False(t, p.Allows(RequestDeleteDoc))
}
