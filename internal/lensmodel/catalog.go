package lensmodel

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// CatalogEntry describes a lens the catalog knows about, whether or not
// it's currently installed. It carries just enough of Manifest for
// search_lenses to render a result without compiling the lens.
type CatalogEntry struct {
	Name        string   `json:"name"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Domains     []string `json:"domains"`

	// ManifestPath is the manifest file's path (the catalog directory
	// joined with its file name) that install_lens reads to produce the
	// installed copy.
	ManifestPath string `json:"-"`
}

// Catalog is the searchable registry of lens manifests bundled under a
// catalog directory (config.Config.LensCatalogDir), separate from the
// installed set in LensesDir: a lens can appear in search_lenses results
// long before a user ever installs it.
//
// Grounded on internal/ingest.Source's directory-walk shape, with the
// fsnotify watch loop dropped since the catalog only needs an on-demand
// scan, not live updates.
type Catalog struct {
	dir    string
	logger *zerolog.Logger
}

// NewCatalog constructs a Catalog rooted at dir.
func NewCatalog(dir string, logger *zerolog.Logger) *Catalog {
	return &Catalog{dir: dir, logger: logger}
}

// All scans the catalog directory and returns every manifest it can
// parse as a CatalogEntry. Files that fail to parse are skipped and
// logged rather than failing the whole scan.
func (c *Catalog) All() []CatalogEntry {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("dir", c.dir).Msg("lens catalog: read dir failed")
		}

		return nil
	}

	out := make([]CatalogEntry, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lens") {
			continue
		}

		path := filepath.Join(c.dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("lens catalog: read manifest failed")
			continue
		}

		m, err := ParseManifest(data)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Msg("lens catalog: parse manifest failed")
			continue
		}

		out = append(out, CatalogEntry{
			Name:         m.Name,
			Author:       m.Author,
			Description:  m.Description,
			Version:      m.Version,
			Domains:      m.Domains,
			ManifestPath: path,
		})
	}

	return out
}

// Get returns the catalog entry named name, or false if no such lens is
// in the catalog.
func (c *Catalog) Get(name string) (CatalogEntry, bool) {
	for _, entry := range c.All() {
		if entry.Name == name {
			return entry, true
		}
	}

	return CatalogEntry{}, false
}

// Search returns every catalog entry whose name, description, or any
// declared domain contains query as a case-insensitive substring. An
// empty query returns the full catalog.
func (c *Catalog) Search(query string) []CatalogEntry {
	all := c.All()

	if query == "" {
		return all
	}

	q := strings.ToLower(query)

	out := make([]CatalogEntry, 0, len(all))

	for _, entry := range all {
		if strings.Contains(strings.ToLower(entry.Name), q) ||
			strings.Contains(strings.ToLower(entry.Description), q) ||
			matchesAnyDomain(entry.Domains, q) {
			out = append(out, entry)
		}
	}

	return out
}

func matchesAnyDomain(domains []string, q string) bool {
	for _, d := range domains {
		if strings.Contains(strings.ToLower(d), q) {
			return true
		}
	}

	return false
}
