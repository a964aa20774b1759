package pluginhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
)

// maxDispatchRounds bounds the request/response round trips a single
// Dispatch performs for one plugin against one event: a synchronous
// ListDir/SqliteQuery reply feeds back into Handle as a synthetic event,
// but a plugin that keeps asking forever is cut off rather than looping
// the host indefinitely.
const maxDispatchRounds = 4

// DocumentMatcher is an optional capability a RequestHandler can implement
// to support SubscribeForDocuments: given a plugin's saved query string and
// a newly written document id, report whether that document matches.
// Handler implements this via the query engine; a RequestHandler that
// doesn't implement it simply never receives document-query notifications
// (SubscribeForUpdates, which asks for every write, still works).
type DocumentMatcher interface {
	MatchesDocument(ctx context.Context, query, docID string) (bool, error)
}

// Host owns the registered plugins and drives the message-passing
// boundary: it delivers downward events, executes each plugin's Handle in
// the sandboxed Executor, and dispatches any upward requests the
// capability check allows.
type Host struct {
	executor *Executor
	handler  RequestHandler
	logger   *zerolog.Logger

	mu      sync.RWMutex
	plugins map[string]*Plugin

	subMu      sync.RWMutex
	docSubs    map[string]string // plugin name -> saved query (SubscribeForDocuments)
	updateSubs map[string]bool   // plugin name -> subscribed (SubscribeForUpdates)
}

// New constructs a Host. handler performs the upward requests plugins are
// permitted to issue.
func New(handler RequestHandler, logger *zerolog.Logger) *Host {
	return &Host{
		executor:   NewExecutor(),
		handler:    handler,
		logger:     logger,
		plugins:    make(map[string]*Plugin),
		docSubs:    make(map[string]string),
		updateSubs: make(map[string]bool),
	}
}

// Subscribe records plugin's saved SubscribeForDocuments query.
func (h *Host) Subscribe(plugin, query string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.docSubs[plugin] = query
}

// SubscribeUpdates records plugin as wanting a DocumentResponse event for
// every document write, regardless of content.
func (h *Host) SubscribeUpdates(plugin string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.updateSubs[plugin] = true
}

// NotifyDocumentsWritten delivers a DocumentResponse event for docID to
// every plugin subscribed via SubscribeForUpdates, and to every plugin
// whose SubscribeForDocuments query matches docID (if the configured
// RequestHandler implements DocumentMatcher).
func (h *Host) NotifyDocumentsWritten(ctx context.Context, docID string) {
	h.subMu.RLock()
	updateNames := make([]string, 0, len(h.updateSubs))
	for name := range h.updateSubs {
		updateNames = append(updateNames, name)
	}

	queryByName := make(map[string]string, len(h.docSubs))
	for name, q := range h.docSubs {
		queryByName[name] = q
	}
	h.subMu.RUnlock()

	matcher, canMatch := h.handler.(DocumentMatcher)

	for _, p := range h.Plugins() {
		if !p.Subscribes(EventDocumentResponse) {
			continue
		}

		notify := false

		for _, name := range updateNames {
			if name == p.Name {
				notify = true
				break
			}
		}

		if !notify && canMatch {
			if q, ok := queryByName[p.Name]; ok {
				matched, err := matcher.MatchesDocument(ctx, q, docID)
				if err != nil {
					h.logger.Warn().Err(err).Str("plugin", p.Name).Str("doc_id", docID).
						Msg("document subscription match failed")
				} else if matched {
					notify = true
				}
			}
		}

		if !notify {
			continue
		}

		h.dispatchOne(ctx, p, Event{Kind: EventDocumentResponse, DocumentIDs: []string{docID}})
	}
}

// Register adds a compiled plugin to the host, replacing any prior
// registration under the same name.
func (h *Host) Register(p *Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.plugins[p.Name] = p
}

// Unregister removes a plugin, e.g. on uninstall.
func (h *Host) Unregister(name string) {
	h.mu.Lock()
	delete(h.plugins, name)
	h.mu.Unlock()

	h.subMu.Lock()
	delete(h.docSubs, name)
	delete(h.updateSubs, name)
	h.subMu.Unlock()
}

// Plugins returns the currently registered plugins.
func (h *Host) Plugins() []*Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Plugin, 0, len(h.plugins))
	for _, p := range h.plugins {
		out = append(out, p)
	}

	return out
}

// Dispatch delivers event to every plugin subscribed to its kind. Each
// plugin is isolated: one plugin's failure or panic never affects another
// or the host itself.
func (h *Host) Dispatch(ctx context.Context, event Event) {
	for _, p := range h.Plugins() {
		if !p.Subscribes(event.Kind) {
			continue
		}

		h.dispatchOne(ctx, p, event)
	}
}

// dispatchOne runs one plugin's event handling loop, including any
// ListDir/SqliteQuery round trips, up to maxDispatchRounds.
func (h *Host) dispatchOne(ctx context.Context, p *Plugin, event Event) {
	current := event

	for round := 0; round < maxDispatchRounds; round++ {
		requests, err := h.executor.Handle(ctx, p.Code, current)
		if err != nil {
			h.logger.Warn().Err(err).Str("plugin", p.Name).Str("event", string(current.Kind)).
				Msg("plugin handler failed")

			return
		}

		if len(requests) == 0 {
			return
		}

		next, more := h.handleRequests(ctx, p, requests)
		if !more {
			return
		}

		current = next
	}

	h.logger.Warn().Str("plugin", p.Name).Msg("plugin exceeded max dispatch rounds, dropping remaining requests")
}

// handleRequests executes every request a plugin returned, subject to its
// declared capabilities. At most one synchronous request (ListDir or
// SqliteQuery) produces a follow-up event for the next round; the rest
// are fire-and-forget.
func (h *Host) handleRequests(ctx context.Context, p *Plugin, requests []Request) (Event, bool) {
	var (
		next    Event
		hasNext bool
	)

	for _, req := range requests {
		if !p.Allows(req.Kind) {
			h.logger.Warn().Str("plugin", p.Name).Str("request", string(req.Kind)).
				Msg("request denied: capability not granted")

			observability.PluginRequests.WithLabelValues(string(req.Kind), "denied").Inc()

			continue
		}

		result, isSync, err := h.execute(ctx, p, req)
		if err != nil {
			h.logger.Warn().Err(err).Str("plugin", p.Name).Str("request", string(req.Kind)).
				Msg("request failed")

			observability.PluginRequests.WithLabelValues(string(req.Kind), "error").Inc()

			continue
		}

		observability.PluginRequests.WithLabelValues(string(req.Kind), "ok").Inc()

		if isSync && !hasNext {
			next = result
			hasNext = true
		}
	}

	return next, hasNext
}

// execute performs a single capability-checked request and reports
// whether it produced a synchronous follow-up event.
func (h *Host) execute(ctx context.Context, p *Plugin, req Request) (Event, bool, error) {
	switch req.Kind {
	case RequestEnqueue:
		var payload EnqueuePayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.Enqueue(ctx, payload.URLs)

	case RequestDeleteDoc:
		var payload DeleteDocPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.DeleteDoc(ctx, payload.URL)

	case RequestListDir:
		var payload ListDirPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		entries, err := h.handler.ListDir(ctx, payload.Path)
		if err != nil {
			return Event{Kind: eventListDirResult, Error: err.Error()}, true, nil
		}

		return Event{Kind: eventListDirResult, Entries: entries}, true, nil

	case RequestSubscribeForDocuments:
		var payload SubscribeForDocumentsPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.SubscribeForDocuments(ctx, p.Name, payload.Query)

	case RequestSubscribeForUpdates:
		return Event{}, false, h.handler.SubscribeForUpdates(ctx, p.Name)

	case RequestWatchDirectory:
		var payload WatchDirectoryPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.WatchDirectory(ctx, p.Name, payload.Path, payload.Recurse)

	case RequestSqliteQuery:
		var payload SqliteQueryPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		rows, err := h.handler.SqliteQuery(ctx, payload.Query)
		if err != nil {
			return Event{Kind: eventSqliteQueryResult, Error: err.Error()}, true, nil
		}

		return Event{Kind: eventSqliteQueryResult, Rows: rows}, true, nil

	case RequestSyncFile:
		var payload SyncFilePayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.SyncFile(ctx, payload.Src, payload.Dst)

	case RequestWalkAndEnqueue:
		var payload WalkAndEnqueuePayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.WalkAndEnqueue(ctx, payload.Path, payload.Extensions)

	case RequestAddDocument:
		var payload AddDocumentPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.AddDocument(ctx, payload.Docs, payload.Tags)

	case RequestModifyTags:
		var payload ModifyTagsPayload
		if err := req.decode(&payload); err != nil {
			return Event{}, false, err
		}

		return Event{}, false, h.handler.ModifyTags(ctx, payload.Query, payload.Add, payload.Remove)

	default:
		return Event{}, false, fmt.Errorf("unknown request kind: %s", req.Kind)
	}
}
