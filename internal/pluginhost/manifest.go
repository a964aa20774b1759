// Package pluginhost sandboxes third-party plugins behind a message-passing
// boundary, per spec.md §4.8: plugins have no ambient capability, receive
// downward events, and issue upward requests that are checked against the
// plugin's declared capabilities before dispatch.
//
// Grounded on theRebelliousNerd-codenerd's internal/autopoiesis/yaegi_executor.go
// (stdlib-only yaegi sandbox, goroutine+context timeout, stdlib import
// allowlist) for the execution model, and internal/lensmodel's YAML manifest
// convention for how a plugin declares itself on disk.
package pluginhost

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WatchEntry is one directory a plugin asks the host to watch on its
// behalf (file-watching is implemented by the host; the plugin only
// receives change notifications, never a file handle).
type WatchEntry struct {
	Path    string `yaml:"path"`
	Recurse bool   `yaml:"recurse"`
}

// Manifest is the on-disk plugin manifest format (plugins/<name>/plugin.yaml).
type Manifest struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	Entry        string       `yaml:"entry"`
	Events       []string     `yaml:"events"`
	Capabilities []string     `yaml:"capabilities"`
	Watch        []WatchEntry `yaml:"watch,omitempty"`
}

// Plugin is a manifest compiled into ready-to-dispatch form: its
// interpreted source code, the set of downward events it wants delivered,
// and the set of upward requests it's permitted to issue.
type Plugin struct {
	Name         string
	Description  string
	Code         string
	Events       map[EventKind]bool
	Capabilities map[RequestKind]bool
	Watch        []WatchEntry
}

// LoadManifest parses a manifest file and reads its entry source relative
// to the manifest's directory.
func LoadManifest(manifestPath string) (*Plugin, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse plugin manifest: %w", err)
	}

	if m.Name == "" {
		return nil, fmt.Errorf("plugin manifest missing required field: name")
	}

	if m.Entry == "" {
		return nil, fmt.Errorf("plugin manifest %s missing required field: entry", m.Name)
	}

	entryPath := m.Entry
	if !filepath.IsAbs(entryPath) {
		entryPath = filepath.Join(filepath.Dir(manifestPath), entryPath)
	}

	code, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, fmt.Errorf("read plugin entry %s: %w", entryPath, err)
	}

	return Compile(&m, string(code))
}

// Compile turns a parsed Manifest plus its entry source into a dispatch-
// ready Plugin.
func Compile(m *Manifest, code string) (*Plugin, error) {
	p := &Plugin{
		Name:         m.Name,
		Description:  m.Description,
		Code:         code,
		Events:       make(map[EventKind]bool, len(m.Events)),
		Capabilities: make(map[RequestKind]bool, len(m.Capabilities)),
		Watch:        m.Watch,
	}

	for _, e := range m.Events {
		p.Events[EventKind(e)] = true
	}

	for _, c := range m.Capabilities {
		p.Capabilities[RequestKind(c)] = true
	}

	return p, nil
}

// Subscribes reports whether the plugin wants the given downward event.
func (p *Plugin) Subscribes(kind EventKind) bool {
	return p.Events[kind]
}

// Allows reports whether the plugin's declared capabilities permit the
// given upward request kind.
func (p *Plugin) Allows(kind RequestKind) bool {
	return p.Capabilities[kind]
}
