package rpcserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/lensmodel"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/settings"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

func (h *Handler) handleProtocolVersion(_ *http.Request, _ json.RawMessage) (any, error) {
	return protocolVersion, nil
}

func (h *Handler) handleAppStatus(r *http.Request, _ json.RawMessage) (any, error) {
	ids, err := h.store.DocumentIDs(r.Context())
	if err != nil {
		return nil, fmt.Errorf("app status: %w", err)
	}

	return map[string]any{"num_docs": len(ids)}, nil
}

type searchDocsParams struct {
	Query  string   `json:"query"`
	Lenses []string `json:"lenses"`
}

type searchDocsResult struct {
	Results []query.Hit    `json:"results"`
	Meta    searchDocsMeta `json:"meta"`
}

type searchDocsMeta struct {
	Query      string `json:"query"`
	NumDocs    int    `json:"num_docs"`
	WallTimeMs int64  `json:"wall_time_ms"`
}

func (h *Handler) handleSearchDocs(r *http.Request, params json.RawMessage) (any, error) {
	var p searchDocsParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	start := time.Now()

	res, err := h.queryEngine.Search(r.Context(), query.Request{QueryString: p.Query, LensFilters: p.Lenses})
	if err != nil {
		return nil, fmt.Errorf("search docs: %w", err)
	}

	return searchDocsResult{
		Results: res.Hits,
		Meta: searchDocsMeta{
			Query:      p.Query,
			NumDocs:    int(res.Total),
			WallTimeMs: time.Since(start).Milliseconds(),
		},
	}, nil
}

type searchLensesParams struct {
	Query string `json:"query"`
}

func (h *Handler) handleSearchLenses(_ *http.Request, params json.RawMessage) (any, error) {
	var p searchLensesParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	return map[string]any{"results": h.catalog.Search(p.Query)}, nil
}

func (h *Handler) handleListInstalledLenses(r *http.Request, _ json.RawMessage) (any, error) {
	lenses, err := h.store.ListLenses(r.Context())
	if err != nil {
		return nil, fmt.Errorf("list installed lenses: %w", err)
	}

	return lenses, nil
}

type lensNameParams struct {
	Name string `json:"name"`
}

// handleInstallLens resolves name against the lens catalog, copies its
// manifest into the installed lenses directory, compiles it, registers
// it with the scheduler and hands it to the lifecycle manager for the
// retag-and-reseed pass, then broadcasts LensInstalled.
func (h *Handler) handleInstallLens(r *http.Request, params json.RawMessage) (any, error) {
	var p lensNameParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	entry, ok := h.catalog.Get(p.Name)
	if !ok {
		return nil, fmt.Errorf("install lens: %q not found in catalog", p.Name)
	}

	data, err := os.ReadFile(entry.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("install lens: read manifest: %w", err)
	}

	manifest, err := lensmodel.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("install lens: parse manifest: %w", err)
	}

	lens, err := lensmodel.Compile(manifest)
	if err != nil {
		return nil, fmt.Errorf("install lens: compile: %w", err)
	}

	installedPath := filepath.Join(h.cfg.LensesDir(), p.Name+".lens")
	if err := os.MkdirAll(h.cfg.LensesDir(), 0o755); err != nil {
		return nil, fmt.Errorf("install lens: create lenses dir: %w", err)
	}

	if err := os.WriteFile(installedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("install lens: write manifest: %w", err)
	}

	h.scheduler.RegisterLens(p.Name, lens)

	if err := h.lensManager.Install(r.Context(), installedPath, lens); err != nil {
		return nil, fmt.Errorf("install lens: %w", err)
	}

	h.broadcaster.Publish(Event{EventType: EventLensInstalled, Payload: map[string]string{"name": p.Name}})

	return nil, nil
}

func (h *Handler) handleUninstallLens(r *http.Request, params json.RawMessage) (any, error) {
	var p lensNameParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	rec, err := h.store.GetLens(r.Context(), p.Name)
	if err != nil {
		return nil, fmt.Errorf("uninstall lens: %w", err)
	}

	lens := &lensmodel.Lens{Manifest: &lensmodel.Manifest{Name: rec.Name}}

	if data, readErr := os.ReadFile(rec.ManifestPath); readErr == nil {
		if manifest, parseErr := lensmodel.ParseManifest(data); parseErr == nil {
			if compiled, compileErr := lensmodel.Compile(manifest); compileErr == nil {
				lens = compiled
			}
		}
	}

	if err := h.lensManager.Uninstall(r.Context(), lens); err != nil {
		return nil, fmt.Errorf("uninstall lens: %w", err)
	}

	h.scheduler.UnregisterLens(p.Name)

	if rec.ManifestPath != "" {
		_ = os.Remove(rec.ManifestPath)
	}

	h.broadcaster.Publish(Event{EventType: EventLensUninstalled, Payload: map[string]string{"name": p.Name}})

	return nil, nil
}

// supportedConnectorTypes is the static set of connector adapters this
// build knows the id/name of. Real OAuth authorization is out of scope
// (spec.md's "OAuth browser dance" non-goal); authorize_connection below
// only records that a connector has been granted, the way a production
// build would after the browser flow redirected back successfully.
var supportedConnectorTypes = []string{"gcal", "gdrive", "gmail", "github", "notion"}

func (h *Handler) handleListConnections(r *http.Request, _ json.RawMessage) (any, error) {
	conns, err := h.store.ListConnections(r.Context())
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	return map[string]any{
		"supported":        supportedConnectorTypes,
		"user_connections": conns,
	}, nil
}

type connectionIDParams struct {
	ID string `json:"id"`
}

// handleAuthorizeConnection records a connector as granted. It does not
// perform an OAuth flow (explicitly out of scope); it's bookkeeping for
// a connector whose browser-side authorization the desktop shell already
// completed.
func (h *Handler) handleAuthorizeConnection(r *http.Request, params json.RawMessage) (any, error) {
	var p connectionIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if err := h.store.UpsertConnection(r.Context(), &store.Connection{
		ID:        p.ID,
		APIID:     p.ID,
		GrantedAt: &now,
	}); err != nil {
		return nil, fmt.Errorf("authorize connection: %w", err)
	}

	return nil, nil
}

type connectionAccountParams struct {
	ID      string `json:"id"`
	Account string `json:"account"`
}

func (h *Handler) handleResyncConnection(r *http.Request, params json.RawMessage) (any, error) {
	var p connectionAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	conn, err := h.store.GetConnection(r.Context(), p.ID, p.Account)
	if err != nil {
		return nil, fmt.Errorf("resync connection: %w", err)
	}

	if err := h.store.SetSyncing(r.Context(), conn.ID, true); err != nil {
		return nil, fmt.Errorf("resync connection: %w", err)
	}

	// No real adapter sync is performed (the cloud-API adapter for a
	// Connection is out of scope here); the sync completes immediately
	// so the shell's UI state machine still gets its finish event.
	if err := h.store.SetSyncing(r.Context(), conn.ID, false); err != nil {
		return nil, fmt.Errorf("resync connection: %w", err)
	}

	h.broadcaster.Publish(Event{
		EventType: EventConnectionSyncFinished,
		Payload:   map[string]string{"id": p.ID, "account": p.Account},
	})

	return nil, nil
}

func (h *Handler) handleRevokeConnection(r *http.Request, params json.RawMessage) (any, error) {
	var p connectionAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	conn, err := h.store.GetConnection(r.Context(), p.ID, p.Account)
	if err != nil {
		return nil, fmt.Errorf("revoke connection: %w", err)
	}

	if err := h.store.DeleteConnection(r.Context(), conn.ID); err != nil {
		return nil, fmt.Errorf("revoke connection: %w", err)
	}

	return nil, nil
}

// documentPayload is add_raw_document/add_document_batch's per-document
// shape.
type documentPayload struct {
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

func (h *Handler) handleAddRawDocument(r *http.Request, params json.RawMessage) (any, error) {
	var p documentPayload
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if err := h.writeDocument(r, p); err != nil {
		return nil, err
	}

	return nil, nil
}

type addDocumentBatchParams struct {
	Docs []documentPayload `json:"docs"`
}

func (h *Handler) handleAddDocumentBatch(r *http.Request, params json.RawMessage) (any, error) {
	var p addDocumentBatchParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	for _, doc := range p.Docs {
		if err := h.writeDocument(r, doc); err != nil {
			return nil, err
		}
	}

	return nil, nil
}

func (h *Handler) writeDocument(r *http.Request, p documentPayload) error {
	tagPairs := make([][2]string, 0, len(p.Tags))

	for _, t := range p.Tags {
		label, value, ok := splitTagPair(t)
		if ok {
			tagPairs = append(tagPairs, [2]string{label, value})
		}
	}

	doc := &docwriter.LocalDocument{
		ID:      docID(p.URL),
		URL:     p.URL,
		Title:   p.Title,
		Content: p.Content,
		Tags:    tagPairs,
	}

	if err := h.writer.WriteLocalDocument(r.Context(), doc); err != nil {
		return fmt.Errorf("add document %s: %w", p.URL, err)
	}

	return nil
}

func splitTagPair(tag string) (label, value string, ok bool) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '=' {
			return tag[:i], tag[i+1:], true
		}
	}

	return "", "", false
}

type urlParams struct {
	URL string `json:"url"`
}

func (h *Handler) handleIsDocumentIndexed(r *http.Request, params json.RawMessage) (any, error) {
	var p urlParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	_, err := h.store.GetDocumentByURL(r.Context(), p.URL)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}

		return nil, fmt.Errorf("is document indexed: %w", err)
	}

	return true, nil
}

type documentIDParams struct {
	ID string `json:"id"`
}

func (h *Handler) handleDeleteDocument(r *http.Request, params json.RawMessage) (any, error) {
	var p documentIDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if err := h.writer.DeleteDocument(r.Context(), p.ID); err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}

	return nil, nil
}

func (h *Handler) handleDeleteDocumentByURL(r *http.Request, params json.RawMessage) (any, error) {
	var p urlParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	doc, err := h.store.GetDocumentByURL(r.Context(), p.URL)
	if err != nil {
		return nil, fmt.Errorf("delete document by url: %w", err)
	}

	if err := h.writer.DeleteDocument(r.Context(), doc.ID); err != nil {
		return nil, fmt.Errorf("delete document by url: %w", err)
	}

	return nil, nil
}

type recrawlDomainParams struct {
	Domain string `json:"domain"`
}

func (h *Handler) handleRecrawlDomain(r *http.Request, params json.RawMessage) (any, error) {
	var p recrawlDomainParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	n, err := h.store.RequeueDomain(r.Context(), p.Domain)
	if err != nil {
		return nil, fmt.Errorf("recrawl domain: %w", err)
	}

	h.logger.Info().Str("domain", p.Domain).Int64("requeued", n).Msg("recrawl domain requested")

	return nil, nil
}

// userSettings is the JSON shape of user_settings/update_user_settings,
// per spec.md §6's Settings list. DataDir and RPCPort are process
// configuration (internal/platform/config.Config), reported here for the
// shell's display but not writable through update_user_settings.
type userSettings struct {
	DataDir             string             `json:"data_dir"`
	RPCPort             int                `json:"rpc_port"`
	GlobalShortcut      string             `json:"global_shortcut"`
	AutolaunchEnabled   bool               `json:"autolaunch_enabled"`
	TelemetryEnabled    bool               `json:"telemetry_enabled"`
	InflightCrawlLimit  int                `json:"inflight_crawl_limit"`
	InflightDomainLimit int                `json:"inflight_domain_limit"`
	Filesystem          filesystemSettings `json:"filesystem"`
	Audio               audioSettings      `json:"audio"`
	Embedding           embeddingSettings  `json:"embedding"`
}

type filesystemSettings struct {
	Enabled             bool     `json:"enabled"`
	WatchedPaths        []string `json:"watched_paths"`
	SupportedExtensions []string `json:"supported_extensions"`
}

type audioSettings struct {
	Enabled bool `json:"enabled"`
}

type embeddingSettings struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) loadUserSettings(r *http.Request) (userSettings, error) {
	all, err := h.store.AllSettings(r.Context())
	if err != nil {
		return userSettings{}, fmt.Errorf("load settings: %w", err)
	}

	var watchedPaths, extensions []string

	_ = json.Unmarshal([]byte(all[settings.FilesystemWatchedPaths]), &watchedPaths)
	_ = json.Unmarshal([]byte(all[settings.FilesystemSupportedExtensions]), &extensions)

	return userSettings{
		DataDir:             h.cfg.DataDir,
		RPCPort:             h.cfg.RPCPort,
		GlobalShortcut:      all[settings.GlobalShortcut],
		AutolaunchEnabled:   all[settings.AutolaunchEnabled] == "true",
		TelemetryEnabled:    all[settings.TelemetryEnabled] == "true",
		InflightCrawlLimit:  atoiOrDefault(all[settings.InflightCrawlLimit], h.cfg.CrawlBatchSize),
		InflightDomainLimit: atoiOrDefault(all[settings.InflightDomainLimit], 1),
		Filesystem: filesystemSettings{
			Enabled:             all[settings.FilesystemEnabled] == "true",
			WatchedPaths:        watchedPaths,
			SupportedExtensions: extensions,
		},
		Audio:     audioSettings{Enabled: all[settings.AudioEnabled] == "true"},
		Embedding: embeddingSettings{Enabled: all[settings.EmbeddingEnabled] == "true"},
	}, nil
}

func atoiOrDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}

	return n
}

func (h *Handler) handleUserSettings(r *http.Request, _ json.RawMessage) (any, error) {
	return h.loadUserSettings(r)
}

func (h *Handler) handleUpdateUserSettings(r *http.Request, params json.RawMessage) (any, error) {
	var p userSettings
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	watchedPaths, _ := json.Marshal(p.Filesystem.WatchedPaths)
	extensions, _ := json.Marshal(p.Filesystem.SupportedExtensions)

	sets := map[string]string{
		settings.GlobalShortcut:                 p.GlobalShortcut,
		settings.AutolaunchEnabled:               strconv.FormatBool(p.AutolaunchEnabled),
		settings.TelemetryEnabled:                strconv.FormatBool(p.TelemetryEnabled),
		settings.InflightCrawlLimit:               strconv.Itoa(p.InflightCrawlLimit),
		settings.InflightDomainLimit:              strconv.Itoa(p.InflightDomainLimit),
		settings.FilesystemEnabled:                strconv.FormatBool(p.Filesystem.Enabled),
		settings.FilesystemWatchedPaths:           string(watchedPaths),
		settings.FilesystemSupportedExtensions:    string(extensions),
		settings.AudioEnabled:                     strconv.FormatBool(p.Audio.Enabled),
		settings.EmbeddingEnabled:                 strconv.FormatBool(p.Embedding.Enabled),
	}

	for key, value := range sets {
		if err := h.store.SetSetting(r.Context(), key, value); err != nil {
			return nil, fmt.Errorf("update user settings: %w", err)
		}
	}

	return h.loadUserSettings(r)
}

type togglePauseParams struct {
	IsPaused bool `json:"is_paused"`
}

func (h *Handler) handleTogglePause(_ *http.Request, params json.RawMessage) (any, error) {
	var p togglePauseParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	h.scheduler.SetPaused(p.IsPaused)

	return nil, nil
}

func docID(rawURL string) string {
	return urlnorm.DocID(rawURL)
}
