package query

import (
	"context"
	"fmt"

	"github.com/spyglass-search/spyglass-sub001/internal/store"
)

// vectorRerank blends a vector nearest-neighbour pass into the lexical
// hit set, per spec.md §4.6's optional re-rank: fetch up to
// vectorCandidates nearest (doc, segment) rows, keep the lowest-distance
// segment per document, restrict to the lens filter already applied to
// the lexical pass, and merge by weighted score (lexical 0.7, semantic
// 0.3). Only documents already present in the lexical result set are
// re-scored; the vector pass narrows ranking within that set rather than
// introducing new candidates the lexical query didn't surface.
func (e *Engine) vectorRerank(ctx context.Context, req Request, lensTagIDs []uint64, hits []Hit) ([]Hit, error) {
	queryEmbedding, err := e.registry.GetEmbedding(ctx, req.QueryString)
	if err != nil {
		return hits, fmt.Errorf("embed query: %w", err)
	}

	matches, err := e.store.SearchVectors(ctx, queryEmbedding, vectorCandidates)
	if err != nil {
		return hits, fmt.Errorf("search vectors: %w", err)
	}

	if len(lensTagIDs) > 0 {
		matches, err = e.filterMatchesByLens(ctx, matches, lensTagIDs)
		if err != nil {
			return hits, err
		}
	}

	bestDistance := bestDistancePerDocument(matches)
	if len(bestDistance) == 0 {
		return hits, nil
	}

	lexMin, lexMax := scoreRange(hits)
	distMin, distMax := distanceRange(bestDistance)

	for i := range hits {
		dist, ok := bestDistance[hits[i].DocID]
		if !ok {
			continue
		}

		normLex := normalize(hits[i].Score, lexMin, lexMax)
		normSem := 1 - normalize(dist, distMin, distMax) // lower distance is better

		hits[i].Score = lexicalWeight*normLex + semanticWeight*normSem
	}

	return hits, nil
}

// filterMatchesByLens drops vector matches whose document doesn't carry
// every required lens tag.
func (e *Engine) filterMatchesByLens(ctx context.Context, matches []store.VectorMatch, lensTagIDs []uint64) ([]store.VectorMatch, error) {
	allowed := make(map[string]bool)

	for _, tagID := range lensTagIDs {
		ids, err := e.store.DocumentIDsByTagID(ctx, tagID)
		if err != nil {
			return nil, err
		}

		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}

		if len(allowed) == 0 {
			for id := range set {
				allowed[id] = true
			}

			continue
		}

		for id := range allowed {
			if !set[id] {
				delete(allowed, id)
			}
		}
	}

	filtered := make([]store.VectorMatch, 0, len(matches))

	for _, m := range matches {
		if allowed[m.DocumentID] {
			filtered = append(filtered, m)
		}
	}

	return filtered, nil
}

func bestDistancePerDocument(matches []store.VectorMatch) map[string]float64 {
	best := make(map[string]float64, len(matches))

	for _, m := range matches {
		if existing, ok := best[m.DocumentID]; !ok || m.Distance < existing {
			best[m.DocumentID] = m.Distance
		}
	}

	return best
}

func scoreRange(hits []Hit) (min, max float64) {
	if len(hits) == 0 {
		return 0, 0
	}

	min, max = hits[0].Score, hits[0].Score

	for _, h := range hits[1:] {
		if h.Score < min {
			min = h.Score
		}

		if h.Score > max {
			max = h.Score
		}
	}

	return min, max
}

func distanceRange(byDoc map[string]float64) (min, max float64) {
	first := true

	for _, d := range byDoc {
		if first {
			min, max = d, d
			first = false

			continue
		}

		if d < min {
			min = d
		}

		if d > max {
			max = d
		}
	}

	return min, max
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 1
	}

	return (v - min) / (max - min)
}
