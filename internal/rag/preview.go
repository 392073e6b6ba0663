package rag

import (
	"context"
	"log/slog"

	"github.com/inkwell-ai/inkwell/internal/store"
)

// Debug exposes every retrieval stage for the preview endpoint.
type Debug struct {
	Query            string
	VectorResults    []ScoredChunk
	KeywordResults   []ScoredChunk
	MergedCandidates []ScoredChunk
	FinalSelected    []ScoredChunk
	ContextString    string
}

// Preview runs the channels once more for inspection and the full pipeline
// for the final selection. The debug channel lists are intentionally
// looser than the final stage: the vector list has no filters at all and
// the keyword list drops the type filter but keeps the causal bound, so a
// future-chapter chunk can show up in the vector list yet never in the
// selection.
func (s *Service) Preview(ctx context.Context, projectID, query string, chapterNo *int, topK int) (*Debug, error) {
	var chapterMax *int
	if chapterNo != nil {
		bound := *chapterNo - 1
		chapterMax = &bound
	}

	var vecHits []store.VectorHit
	if qvec, err := s.embedder.EmbedQuery(ctx, query); err == nil {
		hits, err := s.vector.Search(ctx, projectID, qvec, s.topKV, store.VectorFilter{})
		if err == nil {
			vecHits = hits
		} else {
			slog.Warn("preview_vector_failed", "error", err.Error())
		}
	}

	kwHits, err := s.keyword.Search(ctx, store.KeywordQuery{
		ProjectID:  projectID,
		Text:       query,
		ChapterMax: chapterMax,
		Limit:      s.topKKW,
	})
	if err != nil {
		slog.Warn("preview_keyword_failed", "error", err.Error())
		kwHits = nil
	}

	final, err := s.Retrieve(ctx, projectID, query, Filters{
		Types:     AllTypes,
		ChapterNo: chapterNo,
		TopKV:     s.topKV,
		TopKKW:    s.topKKW,
	}, topK)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		ids = append(ids, h.ChunkID)
	}
	for _, h := range kwHits {
		ids = append(ids, h.ChunkID)
	}
	rows, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	debug := &Debug{
		Query:         query,
		FinalSelected: final,
		ContextString: BuildContext(final),
	}

	seen := make(map[string]bool)
	for _, h := range vecHits {
		row, ok := rows[h.ChunkID]
		if !ok {
			continue
		}
		sc := ScoredChunk{Chunk: row, Score: h.Score, Channel: "vector"}
		debug.VectorResults = append(debug.VectorResults, sc)
		if !seen[h.ChunkID] {
			seen[h.ChunkID] = true
			debug.MergedCandidates = append(debug.MergedCandidates, sc)
		}
	}
	for _, h := range kwHits {
		row, ok := rows[h.ChunkID]
		if !ok {
			continue
		}
		sc := ScoredChunk{Chunk: row, Score: h.Score, Channel: "keyword"}
		debug.KeywordResults = append(debug.KeywordResults, sc)
		if !seen[h.ChunkID] {
			seen[h.ChunkID] = true
			debug.MergedCandidates = append(debug.MergedCandidates, sc)
		}
	}
	return debug, nil
}
