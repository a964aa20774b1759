package pluginhost

import "time"

// EventKind is one of the closed set of downward events spec.md §4.8
// defines: a plugin declares which it wants delivered.
type EventKind string

// Downward event kinds.
const (
	EventIntervalUpdate   EventKind = "IntervalUpdate"
	EventFileCreated      EventKind = "FileCreated"
	EventFileUpdated      EventKind = "FileUpdated"
	EventFileDeleted      EventKind = "FileDeleted"
	EventHTTPResponse     EventKind = "HttpResponse"
	EventDocumentResponse EventKind = "DocumentResponse"

	// eventListDirResult/eventSqliteQueryResult are not part of spec.md's
	// downward event set; they're synthetic events the host feeds back
	// into Handle within a single Dispatch round trip so a plugin can act
	// on the result of its own ListDir/SqliteQuery request without a
	// separate top-level event.
	eventListDirResult     EventKind = "listDirResult"
	eventSqliteQueryResult EventKind = "sqliteQueryResult"
)

// Event is the tagged-union envelope delivered to a plugin's Handle
// function, JSON-encoded across the interpreter boundary.
type Event struct {
	Kind EventKind `json:"kind"`

	// FileCreated/FileUpdated/FileDeleted
	Path string `json:"path,omitempty"`

	// IntervalUpdate
	Tick time.Time `json:"tick,omitempty"`

	// HttpResponse
	URL        string `json:"url,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       string `json:"body,omitempty"`

	// DocumentResponse
	DocumentIDs []string `json:"document_ids,omitempty"`

	// listDirResult
	Entries []string `json:"entries,omitempty"`

	// sqliteQueryResult
	Rows []map[string]any `json:"rows,omitempty"`

	// Error carries a failure from a request the plugin issued in the
	// previous round, so Handle can react instead of the host silently
	// dropping it.
	Error string `json:"error,omitempty"`
}
