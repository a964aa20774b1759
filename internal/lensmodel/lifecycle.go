package lensmodel

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

// Enqueuer admits a new seed URL into the crawl queue. internal/queue.Scheduler
// satisfies this; declared locally (rather than imported) because Scheduler
// already imports lensmodel to resolve a CrawlTask's lens.
type Enqueuer interface {
	Enqueue(ctx context.Context, rawURL, lens string, depth int) error
}

// Manager drives a lens's install/update/uninstall lifecycle per spec.md
// §4.9: "on install/update/uninstall, a background job re-tags existing
// documents matching the lens's filters and enqueues new seeds."
//
// Grounded on internal/queue.Scheduler's claim/process/complete shape, run
// here as a single background goroutine per lifecycle event rather than a
// recurring tick, since a lens change is a discrete event, not a poll loop.
type Manager struct {
	store    *store.Store
	enqueuer Enqueuer
	logger   *zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(s *store.Store, enqueuer Enqueuer, logger *zerolog.Logger) *Manager {
	return &Manager{store: s, enqueuer: enqueuer, logger: logger}
}

// Install records a newly installed lens and starts its background
// retag-and-reseed job.
func (m *Manager) Install(ctx context.Context, manifestPath string, lens *Lens) error {
	rec := &store.LensRecord{
		Name:         lens.Manifest.Name,
		ManifestPath: manifestPath,
		Author:       lens.Manifest.Author,
		Description:  lens.Manifest.Description,
		Version:      lens.Manifest.Version,
		Enabled:      true,
	}

	if err := m.store.InstallLens(ctx, rec); err != nil {
		return fmt.Errorf("install lens: %w", err)
	}

	go m.retagAndReseed(context.WithoutCancel(ctx), lens)

	return nil
}

// Update re-records an already-installed lens (after its manifest
// changed) and re-runs the same retag-and-reseed job, since the lens's filters or
// tag set may have changed.
func (m *Manager) Update(ctx context.Context, manifestPath string, lens *Lens) error {
	return m.Install(ctx, manifestPath, lens)
}

// Uninstall removes the lens record. Per spec.md §4.9 the job on
// uninstall is also a retag pass (stripping the lens's tags from
// documents it previously tagged), not a reseed.
func (m *Manager) Uninstall(ctx context.Context, lens *Lens) error {
	if err := m.store.UninstallLens(ctx, lens.Manifest.Name); err != nil {
		return fmt.Errorf("uninstall lens: %w", err)
	}

	go m.untag(context.WithoutCancel(ctx), lens)

	return nil
}

// retagAndReseed walks every existing document, attaching the lens's tag
// set to any whose URL the lens now matches, then enqueues the lens's
// declared domains/urls as fresh crawl seeds.
func (m *Manager) retagAndReseed(ctx context.Context, lens *Lens) {
	m.retag(ctx, lens, true)

	for _, seed := range lens.Manifest.URLs {
		if err := m.enqueuer.Enqueue(ctx, seed, lens.Manifest.Name, 0); err != nil {
			m.logger.Warn().Err(err).Str("lens", lens.Manifest.Name).Str("url", seed).
				Msg("lens lifecycle: failed to enqueue seed url")
		}
	}

	for _, domain := range lens.Manifest.Domains {
		if err := m.enqueuer.Enqueue(ctx, domain, lens.Manifest.Name, 0); err != nil {
			m.logger.Warn().Err(err).Str("lens", lens.Manifest.Name).Str("domain", domain).
				Msg("lens lifecycle: failed to enqueue seed domain")
		}
	}
}

// untag removes the lens's tag set from every document carrying it.
func (m *Manager) untag(ctx context.Context, lens *Lens) {
	m.retag(ctx, lens, false)
}

// retag applies (attach) the lens's tag set to documents it matches, or
// detaches it from every document carrying the (Lens, name) tag, per the
// attach flag.
func (m *Manager) retag(ctx context.Context, lens *Lens, attach bool) {
	ids, err := m.store.DocumentIDs(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("lens", lens.Manifest.Name).Msg("lens lifecycle: list documents failed")
		return
	}

	tagSet := lens.TagSet()

	for _, id := range ids {
		doc, err := m.store.GetDocument(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("lens", lens.Manifest.Name).Str("doc_id", id).
				Msg("lens lifecycle: load document failed")

			continue
		}

		if attach && !lens.Matches(doc.URL, 0) {
			continue
		}

		for _, pair := range tagSet {
			var opErr error

			if attach {
				opErr = m.store.AttachTag(ctx, id, pair[0], pair[1])
			} else {
				opErr = m.store.DetachTag(ctx, id, pair[0], pair[1])
			}

			if opErr != nil {
				m.logger.Warn().Err(opErr).Str("lens", lens.Manifest.Name).Str("doc_id", id).
					Str("label", pair[0]).Str("value", pair[1]).
					Msg("lens lifecycle: tag update failed")
			}
		}
	}

	m.logger.Info().Str("lens", lens.Manifest.Name).Int("documents", len(ids)).Bool("attach", attach).
		Msg("lens lifecycle: retag pass complete")
}
