// Package rpcserver implements spec.md §6's localhost RPC surface: a
// single HTTP endpoint dispatching `{method, params}` requests to the 20
// named methods the desktop shell calls, plus a subscribe_events stream.
//
// Grounded on internal/research/handler.go's Handler shape (rate limiter
// map, ServeHTTP -> dispatch -> route idiom) with path-prefix routing
// replaced by method-name dispatch, since every request here lands on one
// path rather than a tree of research endpoints.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/spyglass-search/spyglass-sub001/internal/docwriter"
	"github.com/spyglass-search/spyglass-sub001/internal/lensmodel"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/config"
	"github.com/spyglass-search/spyglass-sub001/internal/query"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

const (
	contentTypeHeader = "Content-Type"
	contentTypeJSON   = "application/json; charset=utf-8"

	rateLimitRequests = 60
	rateLimitBurst    = 120
	rateLimitWindow   = time.Minute

	maxBodyBytes = 1 << 20

	protocolVersion = "1"
)

// Scheduler is the crawl-scheduler surface rpcserver needs: enough of
// internal/queue.Scheduler to enqueue seeds, register lenses, pause
// dispatch and kick off a domain recrawl.
type Scheduler interface {
	Enqueue(ctx context.Context, rawURL, lens string, depth int) error
	RegisterLens(name string, lens *lensmodel.Lens)
	UnregisterLens(name string)
	SetPaused(paused bool)
	Paused() bool
}

// Handler is the RPC dispatcher. One Handler instance backs the whole
// localhost endpoint.
type Handler struct {
	cfg         *config.Config
	store       *store.Store
	scheduler   Scheduler
	queryEngine *query.Engine
	writer      *docwriter.Writer
	catalog     *lensmodel.Catalog
	lensManager *lensmodel.Manager
	broadcaster *Broadcaster
	logger      *zerolog.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Deps bundles the components a Handler dispatches into.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Scheduler   Scheduler
	QueryEngine *query.Engine
	Writer      *docwriter.Writer
	Catalog     *lensmodel.Catalog
	LensManager *lensmodel.Manager
}

// NewHandler constructs a Handler.
func NewHandler(d Deps, logger *zerolog.Logger) *Handler {
	return &Handler{
		cfg:         d.Config,
		store:       d.Store,
		scheduler:   d.Scheduler,
		queryEngine: d.QueryEngine,
		writer:      d.Writer,
		catalog:     d.Catalog,
		lensManager: d.LensManager,
		broadcaster: NewBroadcaster(),
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// rpcRequest is the envelope every call arrives in.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is the envelope every call returns, unless the method is
// subscribe_events (which upgrades the connection to an event stream
// instead of returning a single response body).
type rpcResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// methodFunc implements one RPC method. params is the raw params value
// (possibly empty); the return value becomes result on success.
type methodFunc func(h *Handler, r *http.Request, params json.RawMessage) (any, error)

// methods is the table-driven dispatch, grounded on the teacher's
// extendedRoutes slice but keyed by method name instead of path prefix.
var methods = map[string]methodFunc{
	"protocol_version":       (*Handler).handleProtocolVersion,
	"app_status":             (*Handler).handleAppStatus,
	"search_docs":            (*Handler).handleSearchDocs,
	"search_lenses":          (*Handler).handleSearchLenses,
	"list_installed_lenses":  (*Handler).handleListInstalledLenses,
	"install_lens":           (*Handler).handleInstallLens,
	"uninstall_lens":         (*Handler).handleUninstallLens,
	"list_connections":       (*Handler).handleListConnections,
	"authorize_connection":   (*Handler).handleAuthorizeConnection,
	"resync_connection":      (*Handler).handleResyncConnection,
	"revoke_connection":      (*Handler).handleRevokeConnection,
	"add_raw_document":       (*Handler).handleAddRawDocument,
	"add_document_batch":     (*Handler).handleAddDocumentBatch,
	"is_document_indexed":    (*Handler).handleIsDocumentIndexed,
	"delete_document":        (*Handler).handleDeleteDocument,
	"delete_document_by_url": (*Handler).handleDeleteDocumentByURL,
	"recrawl_domain":         (*Handler).handleRecrawlDomain,
	"user_settings":          (*Handler).handleUserSettings,
	"update_user_settings":   (*Handler).handleUpdateUserSettings,
	"toggle_pause":           (*Handler).handleTogglePause,
}

// ServeHTTP is the single endpoint: it decodes the envelope, dispatches
// by method name, and writes back the result envelope.
//
// subscribe_events is handled before the generic envelope decode, since
// it upgrades the response into a long-lived event stream rather than
// returning one JSON object.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.allowRequest(clientIP(r)) {
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}

	if req.Method == "subscribe_events" {
		h.handleSubscribeEvents(w, r, req.Params)
		return
	}

	fn, ok := methods[req.Method]
	if !ok {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown method: %q", req.Method))
		return
	}

	result, err := fn(h, r, req.Params)
	if err != nil {
		h.logger.Warn().Err(err).Str("method", req.Method).Msg("rpc method failed")
		h.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	h.writeJSON(w, http.StatusOK, rpcResponse{Result: result})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(contentTypeHeader, contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error().Err(err).Msg("rpc: write json failed")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, rpcResponse{Error: message})
}

// allowRequest rate-limits by caller IP, grounded on
// internal/research/handler.go's per-IP limiter map (this surface is
// localhost-only, but a misbehaving shell client shouldn't be able to
// starve the scheduler of CPU with a dispatch storm).
func (h *Handler) allowRequest(ip string) bool {
	h.limitersMu.Lock()

	limiter, ok := h.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rateLimitWindow/rateLimitRequests), rateLimitBurst)
		h.limiters[ip] = limiter
	}

	h.limitersMu.Unlock()

	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}

	return r.RemoteAddr
}

func decodeParams(params json.RawMessage, dst any) error {
	if len(strings.TrimSpace(string(params))) == 0 {
		return nil
	}

	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}

	return nil
}

// bootstrapSeeder is the BootstrapSeed staging method of
// internal/queue.Scheduler. Declared here (rather than adding
// BootstrapSeed to the Scheduler interface) keeps the interface narrow
// for tests that don't need bootstrap staging. No handler calls it:
// handleInstallLens leaves seeding to lensmodel.Manager.Install.
type bootstrapSeeder interface {
	BootstrapSeed(ctx context.Context, rawURL, lens string) error
}
