package pluginhost

import (
	"context"
	"encoding/json"
	"fmt"
)

// RequestKind is one of the closed set of upward requests spec.md §4.8
// defines. A plugin's declared capabilities are a subset of these.
type RequestKind string

// Upward request kinds.
const (
	RequestEnqueue               RequestKind = "Enqueue"
	RequestDeleteDoc             RequestKind = "DeleteDoc"
	RequestListDir               RequestKind = "ListDir"
	RequestSubscribeForDocuments RequestKind = "SubscribeForDocuments"
	RequestSubscribeForUpdates   RequestKind = "SubscribeForUpdates"
	RequestWatchDirectory        RequestKind = "WatchDirectory"
	RequestSqliteQuery           RequestKind = "SqliteQuery"
	RequestSyncFile              RequestKind = "SyncFile"
	RequestWalkAndEnqueue        RequestKind = "WalkAndEnqueue"
	RequestAddDocument           RequestKind = "AddDocument"
	RequestModifyTags            RequestKind = "ModifyTags"
)

// Request is the envelope a plugin's Handle function returns: zero or
// more of these per invocation, each checked against the plugin's
// declared capabilities before the host acts on it.
type Request struct {
	Kind    RequestKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Payload shapes, one per RequestKind.
type (
	EnqueuePayload struct {
		URLs []string `json:"urls"`
	}
	DeleteDocPayload struct {
		URL string `json:"url"`
	}
	ListDirPayload struct {
		Path string `json:"path"`
	}
	SubscribeForDocumentsPayload struct {
		Query string `json:"query"`
	}
	WatchDirectoryPayload struct {
		Path    string `json:"path"`
		Recurse bool   `json:"recurse"`
	}
	SqliteQueryPayload struct {
		Query string `json:"query"`
	}
	SyncFilePayload struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	WalkAndEnqueuePayload struct {
		Path       string   `json:"path"`
		Extensions []string `json:"extensions"`
	}
	DocumentInput struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	AddDocumentPayload struct {
		Docs []DocumentInput `json:"docs"`
		Tags []string        `json:"tags"`
	}
	ModifyTagsPayload struct {
		Query  string   `json:"query"`
		Add    []string `json:"add"`
		Remove []string `json:"remove"`
	}
)

// RequestHandler performs the upward requests a plugin is permitted to
// issue. Implemented by the concrete handler cmd/spyglass wires up from
// the store, crawl scheduler, document writer and query engine.
type RequestHandler interface {
	Enqueue(ctx context.Context, urls []string) error
	DeleteDoc(ctx context.Context, url string) error
	ListDir(ctx context.Context, path string) ([]string, error)
	SubscribeForDocuments(ctx context.Context, plugin, query string) error
	SubscribeForUpdates(ctx context.Context, plugin string) error
	WatchDirectory(ctx context.Context, plugin, path string, recurse bool) error
	SqliteQuery(ctx context.Context, query string) ([]map[string]any, error)
	SyncFile(ctx context.Context, src, dst string) error
	WalkAndEnqueue(ctx context.Context, path string, extensions []string) error
	AddDocument(ctx context.Context, docs []DocumentInput, tags []string) error
	ModifyTags(ctx context.Context, query string, add, remove []string) error
}

// decode unmarshals a request's payload into dst, wrapping errors with the
// request kind for easier debugging of malformed plugin output.
func (r Request) decode(dst any) error {
	if err := json.Unmarshal(r.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", r.Kind, err)
	}

	return nil
}
