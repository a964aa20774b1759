// Package docwriter implements the queue.Writer upsert contract: derive a
// stable doc id, upsert the store row and its tag set, write the lexical
// index entry, and enqueue an embedding job, per spec.md §4.4.
//
// Grounded on internal/crawler/crawler.go's updateWithContent (field map
// built once, single update call) and internal/core/solr/client.go's
// AtomicUpdate/ConditionalUpdate pair, reworked onto the store+bleve pair
// this engine uses in place of the teacher's hosted Solr.
package docwriter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
	"github.com/spyglass-search/spyglass-sub001/internal/queue"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
	"github.com/spyglass-search/spyglass-sub001/internal/urlnorm"
)

// Writer implements queue.Writer.
type Writer struct {
	store  *store.Store
	index  *searchindex.Index
	logger *zerolog.Logger

	// onWrite, if set, is called with a document's id after it's
	// successfully written. It exists so a subscriber (the plugin host's
	// SubscribeForDocuments/SubscribeForUpdates push notifications) can
	// react to new documents without docwriter importing anything about
	// plugins itself.
	onWrite func(docID string)
}

// New constructs a Writer.
func New(s *store.Store, idx *searchindex.Index, logger *zerolog.Logger) *Writer {
	return &Writer{store: s, index: idx, logger: logger}
}

// SetDocumentNotifier registers fn to be called after every successful
// document write, with the written document's id.
func (w *Writer) SetDocumentNotifier(fn func(docID string)) {
	w.onWrite = fn
}

func (w *Writer) notifyWritten(docID string) {
	if w.onWrite != nil {
		w.onWrite(docID)
	}
}

// WriteWebDocument upserts a crawled document, satisfying queue.Writer.
//
// The store transaction and the index write are not a single ACID unit
// (spec.md §4.4's atomicity note): a crash between them is recovered at
// startup by Writer.Reconcile, not by this method.
func (w *Writer) WriteWebDocument(ctx context.Context, task *store.CrawlTask, result *queue.FetchResult) error {
	docID := urlnorm.DocID(task.URLCanonical)

	openURL := task.URL
	if result.OpenURL != "" {
		openURL = result.OpenURL
	}

	doc := &store.Document{
		ID:           docID,
		Source:       "web",
		URL:          task.URL,
		URLCanonical: task.URLCanonical,
		Title:        result.Title,
		Content:      result.Content,
		Description:  result.Description,
		Domain:       task.Domain,
		OpenURL:      openURL,
	}

	if !result.PublishedAt.IsZero() {
		published := result.PublishedAt
		doc.PublishedAt = &published
	}

	if err := w.store.UpsertDocument(ctx, doc); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	tagIDs, err := w.applyTags(ctx, docID, task)
	if err != nil {
		return fmt.Errorf("apply tags: %w", err)
	}

	if err := w.indexDocument(doc, tagIDs); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}

	observability.DocumentsIndexed.WithLabelValues("web").Inc()

	if err := w.store.EnqueueEmbedding(ctx, docID); err != nil {
		return fmt.Errorf("enqueue embedding job: %w", err)
	}

	w.notifyWritten(docID)

	return nil
}

// applyTags ensures the (source, domain, lens) tag set for a web document
// and returns the resolved tag ids for the index write.
func (w *Writer) applyTags(ctx context.Context, docID string, task *store.CrawlTask) ([]uint64, error) {
	pairs := [][2]string{
		{"source", "web"},
		{"domain", task.Domain},
	}

	if task.Lens != "" {
		pairs = append(pairs, [2]string{"lens", task.Lens})
	}

	ids := make([]uint64, 0, len(pairs))

	for _, p := range pairs {
		id, err := w.store.EnsureTag(ctx, p[0], p[1])
		if err != nil {
			return nil, err
		}

		if err := w.store.AttachTag(ctx, docID, p[0], p[1]); err != nil {
			return nil, err
		}

		ids = append(ids, uint64(id))
	}

	return ids, nil
}

func (w *Writer) indexDocument(doc *store.Document, tagIDs []uint64) error {
	idxDoc := &searchindex.Document{
		ID:           doc.ID,
		Domain:       doc.Domain,
		URL:          doc.URL,
		Title:        doc.Title,
		Description:  doc.Description,
		Content:      doc.Content,
		Tags:         tagIDs,
		LastModified: time.Now().UTC(),
	}

	if doc.PublishedAt != nil {
		idxDoc.Published = *doc.PublishedAt
	}

	return w.index.Upsert(idxDoc)
}

// LocalDocument is a plugin- or filesystem-sourced document: no CrawlTask
// or lens is available the way a web crawl provides one, so the caller
// supplies the id/url/tags directly.
type LocalDocument struct {
	ID      string
	URL     string
	Title   string
	Content string
	Domain  string
	Tags    [][2]string
}

// WriteLocalDocument upserts a document that did not come from the crawl
// queue (a plugin's AddDocument/WalkAndEnqueue request, or watched-folder
// ingestion), following the same upsert-tags-then-index shape as
// WriteWebDocument.
func (w *Writer) WriteLocalDocument(ctx context.Context, doc *LocalDocument) error {
	storeDoc := &store.Document{
		ID:           doc.ID,
		Source:       "plugin",
		URL:          doc.URL,
		URLCanonical: doc.URL,
		Title:        doc.Title,
		Content:      doc.Content,
		Domain:       doc.Domain,
		OpenURL:      doc.URL,
	}

	if err := w.store.UpsertDocument(ctx, storeDoc); err != nil {
		return fmt.Errorf("upsert local document: %w", err)
	}

	tagIDs := make([]uint64, 0, len(doc.Tags)+1)

	sourceTagID, err := w.store.EnsureTag(ctx, "source", "plugin")
	if err != nil {
		return fmt.Errorf("ensure source tag: %w", err)
	}

	if err := w.store.AttachTag(ctx, doc.ID, "source", "plugin"); err != nil {
		return fmt.Errorf("attach source tag: %w", err)
	}

	tagIDs = append(tagIDs, uint64(sourceTagID))

	for _, pair := range doc.Tags {
		id, err := w.store.EnsureTag(ctx, pair[0], pair[1])
		if err != nil {
			return fmt.Errorf("ensure tag %s=%s: %w", pair[0], pair[1], err)
		}

		if err := w.store.AttachTag(ctx, doc.ID, pair[0], pair[1]); err != nil {
			return fmt.Errorf("attach tag %s=%s: %w", pair[0], pair[1], err)
		}

		tagIDs = append(tagIDs, uint64(id))
	}

	if err := w.indexDocument(storeDoc, tagIDs); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}

	observability.DocumentsIndexed.WithLabelValues("plugin").Inc()

	if err := w.store.EnqueueEmbedding(ctx, doc.ID); err != nil {
		return fmt.Errorf("enqueue embedding job: %w", err)
	}

	w.notifyWritten(doc.ID)

	return nil
}

// DeleteDocument removes a document from both the store and the index.
// The store row is deleted first, so a crash between the two deletes
// leaves an index entry with no store row, which Reconcile's orphan pass
// removes, rather than a store row with no index entry, which its
// missing-entry pass would re-index.
func (w *Writer) DeleteDocument(ctx context.Context, docID string) error {
	if err := w.store.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if err := w.index.Delete(docID); err != nil {
		return fmt.Errorf("delete index entry: %w", err)
	}

	return nil
}

// favoriteTagLabel/favoriteTagValue is the reserved tag the query engine
// filters/boosts on (searchindex.WithFavoriteTag), since the lexical
// index's tags field only carries tag ids, not the store's dedicated
// favorited column.
const (
	favoriteTagLabel = "favorited"
	favoriteTagValue = "true"
)

// SetFavorited updates a document's favorited flag and keeps the index's
// tag set in sync, so query-time favorite filtering/boosting (which reads
// a reserved tag id out of the lexical index) reflects the change.
func (w *Writer) SetFavorited(ctx context.Context, docID string, favorited bool) error {
	if err := w.store.SetFavorited(ctx, docID, favorited); err != nil {
		return fmt.Errorf("set favorited: %w", err)
	}

	if favorited {
		if err := w.store.AttachTag(ctx, docID, favoriteTagLabel, favoriteTagValue); err != nil {
			return fmt.Errorf("attach favorited tag: %w", err)
		}
	} else if err := w.store.DetachTag(ctx, docID, favoriteTagLabel, favoriteTagValue); err != nil {
		return fmt.Errorf("detach favorited tag: %w", err)
	}

	doc, err := w.store.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("reload document: %w", err)
	}

	tags, err := w.store.TagsForDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("reload tags: %w", err)
	}

	tagIDs := make([]uint64, 0, len(tags))
	for _, t := range tags {
		tagIDs = append(tagIDs, uint64(t.ID))
	}

	if err := w.indexDocument(doc, tagIDs); err != nil {
		return fmt.Errorf("reindex favorited document: %w", err)
	}

	return nil
}

// Reconcile implements both directions of spec.md §4.4's recovery rule: a
// store row without a matching index entry is re-indexed, and an index
// entry without a matching store row is deleted. Run once at startup
// before the scheduler and embedding worker begin ticking.
func (w *Writer) Reconcile(ctx context.Context) error {
	if err := w.reconcileMissingIndexEntries(ctx); err != nil {
		return err
	}

	return w.reconcileOrphanedIndexEntries(ctx)
}

// reconcileMissingIndexEntries re-indexes every store row that has no
// matching index entry, e.g. a crash between UpsertDocument's store write
// and its index write.
func (w *Writer) reconcileMissingIndexEntries(ctx context.Context) error {
	ids, err := w.store.DocumentIDs(ctx)
	if err != nil {
		return fmt.Errorf("list document ids: %w", err)
	}

	for _, id := range ids {
		present, err := w.index.Contains(id)
		if err != nil {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: index lookup failed")
			continue
		}

		if present {
			continue
		}

		doc, err := w.store.GetDocument(ctx, id)
		if err != nil {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: store lookup failed")
			continue
		}

		tags, err := w.store.TagsForDocument(ctx, id)
		if err != nil {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: tag lookup failed")
			continue
		}

		tagIDs := make([]uint64, 0, len(tags))
		for _, t := range tags {
			tagIDs = append(tagIDs, uint64(t.ID))
		}

		if err := w.indexDocument(doc, tagIDs); err != nil {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: reindex failed")
			continue
		}

		w.logger.Info().Str("doc_id", id).Msg("reconciled missing index entry")
	}

	return nil
}

// reconcileOrphanedIndexEntries walks every id currently in the index and
// deletes any with no matching store row, e.g. an index write that
// succeeded right before an un-journaled crash during UpsertDocument, or
// manual index-directory tampering.
func (w *Writer) reconcileOrphanedIndexEntries(ctx context.Context) error {
	ids, err := w.index.AllDocIDs()
	if err != nil {
		return fmt.Errorf("list index doc ids: %w", err)
	}

	for _, id := range ids {
		_, err := w.store.GetDocument(ctx, id)
		if err == nil {
			continue
		}

		if !errors.Is(err, store.ErrNotFound) {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: store lookup failed")
			continue
		}

		if err := w.index.Delete(id); err != nil {
			w.logger.Warn().Err(err).Str("doc_id", id).Msg("reconcile: orphan delete failed")
			continue
		}

		w.logger.Info().Str("doc_id", id).Msg("reconciled orphaned index entry")
	}

	return nil
}
