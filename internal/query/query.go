// Package query is the hybrid lexical+vector query engine of spec.md §4.6:
// it resolves lens-name filters to tag ids, scans the query string for
// literal lens mentions, delegates term/phrase/boost scoring to
// internal/searchindex, then optionally re-ranks with a vector nearest-
// neighbour pass over internal/embedding + internal/store.
//
// Grounded on internal/core/solr/client.go's Search/SearchOption shape,
// already carried into searchindex.Search; this package is the thin
// orchestration layer spec.md's "Query Engine" component sits at, the way
// internal/crawler/crawler.go sits above internal/core/solr.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spyglass-search/spyglass-sub001/internal/embedding"
	"github.com/spyglass-search/spyglass-sub001/internal/platform/observability"
	"github.com/spyglass-search/spyglass-sub001/internal/searchindex"
	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

const (
	defaultNumResults  = 20
	vectorCandidates   = 25
	lexicalWeight      = 0.7
	semanticWeight     = 0.3
	favoriteTagLabel   = "favorited"
	favoriteTagValue   = "true"
	lensTagLabel       = "lens"
)

// Request is the query engine's input contract, per spec.md §4.6.
type Request struct {
	QueryString  string
	LensFilters  []string
	NumResults   int
	FavoriteOnly bool
}

// Hit is one ranked result, enriched with the document's canonical open
// URL (searchindex.Hit doesn't carry it; it isn't part of the lexical
// index schema).
type Hit struct {
	DocID       string   `json:"doc_id"`
	URL         string   `json:"url"`
	OpenURL     string   `json:"open_url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Domain      string   `json:"domain"`
	Tags        []uint64 `json:"tags"`
	Score       float64  `json:"score"`
}

// Result is the outcome of Engine.Search.
type Result struct {
	Hits  []Hit
	Total uint64
}

// Engine answers search requests against the lexical index, optionally
// re-ranked with vector similarity.
type Engine struct {
	store    *store.Store
	index    *searchindex.Index
	registry *embedding.Registry
	logger   *zerolog.Logger
}

// New constructs an Engine. registry may be nil, in which case Search
// never attempts a vector re-rank.
func New(s *store.Store, idx *searchindex.Index, registry *embedding.Registry, logger *zerolog.Logger) *Engine {
	return &Engine{store: s, index: idx, registry: registry, logger: logger}
}

// Search executes req per spec.md §4.6's five-step query contract, plus
// the optional vector re-rank.
func (e *Engine) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	reranked := false

	defer func() {
		observability.SearchQueryDuration.WithLabelValues(fmt.Sprint(reranked)).Observe(time.Since(start).Seconds())
	}()

	size := req.NumResults
	if size <= 0 {
		size = defaultNumResults
	}

	lensTagIDs, resolvedAll, err := e.resolveLensFilters(ctx, req.LensFilters)
	if err != nil {
		return nil, fmt.Errorf("resolve lens filters: %w", err)
	}

	if !resolvedAll {
		// A requested lens filter doesn't exist as a tag yet: per the
		// must-filter semantics, nothing can match it.
		return &Result{}, nil
	}

	literalTagBoosts, err := e.literalLensMentions(ctx, req.QueryString)
	if err != nil {
		return nil, fmt.Errorf("resolve literal lens mentions: %w", err)
	}

	opts := []searchindex.SearchOption{
		searchindex.WithSize(size),
	}

	if len(lensTagIDs) > 0 {
		opts = append(opts, searchindex.WithLensTags(lensTagIDs...))
	}

	if len(literalTagBoosts) > 0 {
		opts = append(opts, searchindex.WithTagBoosts(literalTagBoosts...))
	}

	if favID, found, err := e.store.FindTag(ctx, favoriteTagLabel, favoriteTagValue); err != nil {
		return nil, fmt.Errorf("find favorite tag: %w", err)
	} else if found {
		opts = append(opts, searchindex.WithFavoriteTag(uint64(favID), req.FavoriteOnly))
	}

	lexical, err := e.index.Search(req.QueryString, opts...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(lexical.Hits))
	for _, h := range lexical.Hits {
		hits = append(hits, e.enrich(ctx, h))
	}

	if e.registry != nil && e.registry.ProviderCount() > 0 && strings.TrimSpace(req.QueryString) != "" {
		reranked = true

		hits, err = e.vectorRerank(ctx, req, lensTagIDs, hits)
		if err != nil {
			e.logger.Warn().Err(err).Msg("vector re-rank failed, returning lexical results")
		}
	}

	sortHits(hits)

	return &Result{Hits: hits, Total: lexical.Total}, nil
}

// resolveLensFilters maps lens names to tag ids. resolvedAll is false if
// any named lens has no corresponding tag, meaning the must-filter can
// never match.
func (e *Engine) resolveLensFilters(ctx context.Context, names []string) (ids []uint64, resolvedAll bool, err error) {
	ids = make([]uint64, 0, len(names))

	for _, name := range names {
		id, found, err := e.store.FindTag(ctx, lensTagLabel, name)
		if err != nil {
			return nil, false, err
		}

		if !found {
			return nil, false, nil
		}

		ids = append(ids, uint64(id))
	}

	return ids, true, nil
}

// literalLensMentions scans the query string for bare words matching an
// installed lens name, per spec.md §4.6 step 2, and resolves each to a
// tag-boost id.
func (e *Engine) literalLensMentions(ctx context.Context, queryString string) ([]uint64, error) {
	lenses, err := e.store.ListLenses(ctx)
	if err != nil {
		return nil, err
	}

	if len(lenses) == 0 {
		return nil, nil
	}

	byName := make(map[string]string, len(lenses))
	for _, l := range lenses {
		byName[strings.ToLower(l.Name)] = l.Name
	}

	var boosts []uint64

	seen := make(map[string]bool)

	for _, word := range strings.Fields(queryString) {
		name, ok := byName[strings.ToLower(word)]
		if !ok || seen[name] {
			continue
		}

		seen[name] = true

		id, found, err := e.store.FindTag(ctx, lensTagLabel, name)
		if err != nil {
			return nil, err
		}

		if found {
			boosts = append(boosts, uint64(id))
		}
	}

	return boosts, nil
}

// enrich fetches the document's canonical OpenURL to complete the hit
// contract of spec.md §4.6 step 5.
func (e *Engine) enrich(ctx context.Context, h searchindex.Hit) Hit {
	out := Hit{
		DocID:       h.DocID,
		URL:         h.URL,
		OpenURL:     h.URL,
		Title:       h.Title,
		Description: h.Description,
		Domain:      h.Domain,
		Tags:        h.Tags,
		Score:       h.Score,
	}

	doc, err := e.store.GetDocument(ctx, h.DocID)
	if err == nil && doc.OpenURL != "" {
		out.OpenURL = doc.OpenURL
	}

	return out
}

// Explain reports whether a single document would match req's query and,
// if so, the lexical scoring breakdown behind its score. Used by the
// debug CLI's explain-query command; it never attempts a vector re-rank,
// since the breakdown that matters for debugging is the lexical one.
func (e *Engine) Explain(ctx context.Context, req Request, docID string) (*searchindex.ExplainResult, error) {
	lensTagIDs, resolvedAll, err := e.resolveLensFilters(ctx, req.LensFilters)
	if err != nil {
		return nil, fmt.Errorf("resolve lens filters: %w", err)
	}

	if !resolvedAll {
		return &searchindex.ExplainResult{DocID: docID, Matched: false}, nil
	}

	opts := []searchindex.SearchOption{}
	if len(lensTagIDs) > 0 {
		opts = append(opts, searchindex.WithLensTags(lensTagIDs...))
	}

	return e.index.Explain(req.QueryString, docID, opts...)
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
}
