package rpcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/lensmodel"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/config"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

type fakeScheduler struct {
	paused    bool
	lenses    map[string]*lensmodel.Lens
	enqueued  []string
}

func (f *fakeScheduler) Enqueue(_ context.Context, rawURL, _ string, _ int) error {
	f.enqueued = append(f.enqueued, rawURL)
	return nil
}

func (f *fakeScheduler) RegisterLens(name string, lens *lensmodel.Lens) {
	if f.lenses == nil {
		f.lenses = make(map[string]*lensmodel.Lens)
	}

	f.lenses[name] = lens
}

func (f *fakeScheduler) UnregisterLens(name string) { delete(f.lenses, name) }
func (f *fakeScheduler) SetPaused(paused bool)      { f.paused = paused }
func (f *fakeScheduler) Paused() bool               { return f.paused }

func newTestHandler(t *testing.T) (*Handler, *fakeScheduler) {
	t.Helper()

	logger := zerolog.Nop()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "spyglass.db")

	s, err := store.New(ctx, dbPath, &logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate store: %v", err)
	}

	idx, err := searchindex.OpenInMemory()
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	writer := docwriter.New(s, idx, &logger)
	queryEngine := query.New(s, idx, nil, &logger)
	catalog := lensmodel.NewCatalog(t.TempDir(), &logger)

	sched := &fakeScheduler{}
	lensManager := lensmodel.NewManager(s, sched, &logger)

	cfg := &config.Config{DataDir: t.TempDir(), RPCPort: 7777}

	h := NewHandler(Deps{
		Config:      cfg,
		Store:       s,
		Scheduler:   sched,
		QueryEngine: queryEngine,
		Writer:      writer,
		Catalog:     catalog,
		LensManager: lensManager,
	}, &logger)

	return h, sched
}

func doRPC(t *testing.T, h *Handler, method string, params any) rpcResponse {
	t.Helper()

	body := map[string]any{"method": method}
	if params != nil {
		body["params"] = params
	}

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	req.RemoteAddr = "127.0.0.1:12345"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v (body=%s)", err, rec.Body.String())
	}

	return resp
}

func TestProtocolVersion(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "protocol_version", nil)
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	if resp.Result != protocolVersion {
		t.Fatalf("expected %q, got %v", protocolVersion, resp.Result)
	}
}

func TestAppStatusReflectsWrittenDocuments(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "add_raw_document", map[string]any{
		"url":     "https://example.com/a",
		"title":   "A",
		"content": "hello world",
	})
	if resp.Error != "" {
		t.Fatalf("add_raw_document: %s", resp.Error)
	}

	resp = doRPC(t, h, "app_status", nil)
	if resp.Error != "" {
		t.Fatalf("app_status: %s", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result shape: %#v", resp.Result)
	}

	if result["num_docs"].(float64) != 1 {
		t.Fatalf("expected 1 doc, got %v", result["num_docs"])
	}
}

func TestSearchDocsFindsWrittenDocument(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "add_raw_document", map[string]any{
		"url":     "https://example.com/a",
		"title":   "Apollo mission notes",
		"content": "details about the apollo program",
	})
	if resp.Error != "" {
		t.Fatalf("add_raw_document: %s", resp.Error)
	}

	resp = doRPC(t, h, "search_docs", map[string]any{"query": "apollo"})
	if resp.Error != "" {
		t.Fatalf("search_docs: %s", resp.Error)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	var parsed searchDocsResult
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal search result: %v", err)
	}

	if len(parsed.Results) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(parsed.Results))
	}
}

func TestIsDocumentIndexed(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "is_document_indexed", map[string]any{"url": "https://example.com/missing"})
	if resp.Error != "" {
		t.Fatalf("is_document_indexed: %s", resp.Error)
	}

	if resp.Result != false {
		t.Fatalf("expected false for unindexed url, got %v", resp.Result)
	}
}

func TestTogglePause(t *testing.T) {
	h, sched := newTestHandler(t)

	resp := doRPC(t, h, "toggle_pause", map[string]any{"is_paused": true})
	if resp.Error != "" {
		t.Fatalf("toggle_pause: %s", resp.Error)
	}

	if !sched.Paused() {
		t.Fatal("expected scheduler to be paused")
	}
}

func TestUserSettingsRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "update_user_settings", map[string]any{
		"global_shortcut":    "Cmd+Shift+Space",
		"autolaunch_enabled": true,
		"filesystem": map[string]any{
			"enabled":              true,
			"watched_paths":        []string{"/home/user/Documents"},
			"supported_extensions": []string{".md", ".txt"},
		},
	})
	if resp.Error != "" {
		t.Fatalf("update_user_settings: %s", resp.Error)
	}

	resp = doRPC(t, h, "user_settings", nil)
	if resp.Error != "" {
		t.Fatalf("user_settings: %s", resp.Error)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}

	var settings userSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatalf("unmarshal settings: %v", err)
	}

	if settings.GlobalShortcut != "Cmd+Shift+Space" {
		t.Fatalf("expected shortcut to round-trip, got %q", settings.GlobalShortcut)
	}

	if !settings.AutolaunchEnabled {
		t.Fatal("expected autolaunch to be enabled")
	}

	if len(settings.Filesystem.WatchedPaths) != 1 || settings.Filesystem.WatchedPaths[0] != "/home/user/Documents" {
		t.Fatalf("expected watched paths to round-trip, got %v", settings.Filesystem.WatchedPaths)
	}
}

func TestUnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := doRPC(t, h, "not_a_real_method", nil)
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown method")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	h, _ := newTestHandler(t)

	body, err := json.Marshal(map[string]any{"method": "protocol_version"})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	var lastStatus int

	for i := 0; i < rateLimitBurst+5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.RemoteAddr = "127.0.0.1:9999"

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		lastStatus = rec.Code
	}

	if lastStatus != http.StatusTooManyRequests {
		t.Fatalf("expected the burst to eventually be rate limited, last status was %d", lastStatus)
	}
}

func TestSubscribeEventsDeliversPublishedEvent(t *testing.T) {
	h, _ := newTestHandler(t)

	body, err := json.Marshal(map[string]any{"method": "subscribe_events", "params": map[string]any{}})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()

	done := make(chan struct{})

	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// Give handleSubscribeEvents a moment to register its subscriber before
	// publishing, since there's no synchronous ack for a subscribe.
	time.Sleep(50 * time.Millisecond)

	h.broadcaster.Publish(Event{EventType: EventLensInstalled, Payload: map[string]string{"name": "news"}})

	cancel()
	<-done

	scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
	if !scanner.Scan() {
		t.Fatal("expected at least one streamed event line")
	}

	var evt Event
	if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
		t.Fatalf("unmarshal streamed event: %v", err)
	}

	if evt.EventType != EventLensInstalled {
		t.Fatalf("expected LensInstalled event, got %v", evt.EventType)
	}
}
