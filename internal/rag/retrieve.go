package rag

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/store"
	"github.com/inkwell-ai/inkwell/internal/telemetry"
)

// causalReject is the score assigned to chapter chunks past the causal
// bound; anything at or below the selection floor is never picked.
const (
	causalReject   = -1e9
	selectionFloor = -1e8
)

var typeWeights = map[string]float64{
	store.TypeStyleGuide:     1.8,
	store.TypeWorld:          1.5,
	store.TypeOutline:        1.6,
	store.TypeCharacters:     1.7,
	store.TypeChapterSummary: 1.4,
	store.TypeFacts:          1.5,
	store.TypeForeshadowing:  1.3,
	store.TypeChapter:        1.0,
}

var typeQuotas = map[string]int{
	store.TypeStyleGuide:     1,
	store.TypeWorld:          2,
	store.TypeOutline:        2,
	store.TypeCharacters:     3,
	store.TypeChapterSummary: 3,
	store.TypeFacts:          3,
	store.TypeForeshadowing:  2,
	store.TypeChapter:        4,
}

const defaultQuota = 2

// Filters narrow a retrieval call. ChapterOnlyBefore defaults to true when
// unset: retrieving for chapter N only admits chapter chunks before N.
type Filters struct {
	Types             []string
	ChapterNo         *int
	ChapterOnlyBefore *bool
	TopKV             int
	TopKKW            int
}

func (f Filters) causalBound() *int {
	if f.ChapterNo == nil {
		return nil
	}
	if f.ChapterOnlyBefore != nil && !*f.ChapterOnlyBefore {
		return nil
	}
	bound := *f.ChapterNo - 1
	return &bound
}

type candidate struct {
	chunk   *store.Chunk
	score   float64
	channel string
}

// Retrieve runs the full pipeline: dense and sparse channels fanned out in
// parallel, max-score merge, rerank, rule lift, causal override, and
// quota-bounded selection. Channel failures are isolated; both channels
// failing yields an empty result, not an error.
func (s *Service) Retrieve(ctx context.Context, projectID, query string, f Filters, topK int) ([]ScoredChunk, error) {
	start := time.Now()
	chapterMax := f.causalBound()

	topKV := f.TopKV
	if topKV <= 0 {
		topKV = max(6, topK)
	}
	topKKW := f.TopKKW
	if topKKW <= 0 {
		topKKW = max(6, topK)
	}

	vecHits, kwHits := s.fanOut(ctx, projectID, query, f.Types, chapterMax, topKV, topKKW)

	candidates, err := s.merge(ctx, vecHits, kwHits)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		s.recordRetrieval(projectID, query, len(vecHits), len(kwHits), 0, start)
		return []ScoredChunk{}, nil
	}

	// Rerank; on failure the merged channel scores stand in.
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.chunk.Text
	}
	rrScores, rrErr := s.reranker.Rerank(ctx, query, texts)
	if rrErr != nil || len(rrScores) != len(candidates) {
		if rrErr != nil {
			slog.Warn("rerank_failed", "error", rrErr.Error())
		}
		rrScores = make([]float64, len(candidates))
		for i, c := range candidates {
			rrScores[i] = c.score
		}
	}

	// Rule lift only for the rule-based reranker; a real cross-encoder's
	// scores are used as-is to avoid double counting.
	ruleLift := s.reranker.Kind() == rerank.KindRule

	type scoredCandidate struct {
		score float64
		c     *candidate
	}
	scored := make([]scoredCandidate, 0, len(candidates))
	for i, c := range candidates {
		base := rrScores[i]
		if ruleLift {
			base = ruleScore(query, c.chunk, c.score, f.ChapterNo)
		}
		if chapterMax != nil && c.chunk.Type == store.TypeChapter &&
			c.chunk.ChapterNo != nil && *c.chunk.ChapterNo > *chapterMax {
			base = causalReject
		}
		scored = append(scored, scoredCandidate{score: base, c: c})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	selected := make([]ScoredChunk, 0, topK)
	used := make(map[string]int)
	for _, sc := range scored {
		if len(selected) >= topK {
			break
		}
		if sc.score <= selectionFloor {
			continue
		}
		typ := sc.c.chunk.Type
		quota, ok := typeQuotas[typ]
		if !ok {
			quota = defaultQuota
		}
		if used[typ] >= quota {
			continue
		}
		used[typ]++
		selected = append(selected, ScoredChunk{
			Chunk:   sc.c.chunk,
			Score:   sc.score,
			Channel: "rerank",
		})
	}
	s.recordRetrieval(projectID, query, len(vecHits), len(kwHits), len(selected), start)
	return selected, nil
}

func (s *Service) recordRetrieval(projectID, query string, vecHits, kwHits, selected int, start time.Time) {
	s.metrics.Record(telemetry.RetrievalEvent{
		ProjectID:   projectID,
		Query:       query,
		VectorHits:  vecHits,
		KeywordHits: kwHits,
		Selected:    selected,
		Latency:     time.Since(start),
	})
}

// fanOut runs the dense and sparse channels in parallel. Each failure is
// swallowed into an empty channel result; the merge is the barrier.
func (s *Service) fanOut(ctx context.Context, projectID, query string, types []string, chapterMax *int, topKV, topKKW int) ([]store.VectorHit, []store.KeywordHit) {
	var vecHits []store.VectorHit
	var kwHits []store.KeywordHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		qvec, err := s.embedder.EmbedQuery(gctx, query)
		if err != nil {
			slog.Warn("vector_channel_failed", "stage", "embed", "error", err.Error())
			return nil
		}
		hits, err := s.vector.Search(gctx, projectID, qvec, topKV, store.VectorFilter{Types: types})
		if err != nil {
			slog.Warn("vector_channel_failed", "stage", "search", "error", err.Error())
			return nil
		}
		vecHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.keyword.Search(gctx, store.KeywordQuery{
			ProjectID:  projectID,
			Text:       query,
			Types:      types,
			ChapterMax: chapterMax,
			Limit:      topKKW,
		})
		if err != nil {
			slog.Warn("keyword_channel_failed", "error", err.Error())
			return nil
		}
		kwHits = hits
		return nil
	})
	_ = g.Wait()
	return vecHits, kwHits
}

// merge deduplicates by chunk ID in insertion order (vector first). On
// collision the maximum score wins and the channel becomes
// "vector+keyword". Hits whose chunk rows are gone are dropped.
func (s *Service) merge(ctx context.Context, vecHits []store.VectorHit, kwHits []store.KeywordHit) ([]*candidate, error) {
	ids := make([]string, 0, len(vecHits)+len(kwHits))
	for _, h := range vecHits {
		ids = append(ids, h.ChunkID)
	}
	for _, h := range kwHits {
		ids = append(ids, h.ChunkID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	var ordered []*candidate
	byID := make(map[string]*candidate)
	add := func(id string, score float64, channel string) {
		if existing, ok := byID[id]; ok {
			if score > existing.score {
				existing.score = score
			}
			existing.channel = "vector+keyword"
			return
		}
		row, ok := rows[id]
		if !ok {
			return
		}
		c := &candidate{chunk: row, score: score, channel: channel}
		byID[id] = c
		ordered = append(ordered, c)
	}
	for _, h := range vecHits {
		add(h.ChunkID, h.Score, "vector")
	}
	for _, h := range kwHits {
		add(h.ChunkID, h.Score, "keyword")
	}
	return ordered, nil
}

// ruleScore applies the mock-reranker lift to the merged channel score:
// type weight, capped term-hit bonus, chapter recency, and a damp for very
// long chunks.
func ruleScore(query string, c *store.Chunk, base float64, targetChapter *int) float64 {
	score := base

	weight, ok := typeWeights[c.Type]
	if !ok {
		weight = 1.0
	}
	score *= weight

	hits := rerank.CountHits(query, c.Text)
	score += math.Min(3.0, float64(hits)*0.5)

	if targetChapter != nil && c.ChapterNo != nil {
		gap := *targetChapter - *c.ChapterNo
		if gap < 0 {
			gap = 0
		}
		score += 1.5 / (1.0 + float64(gap))
	}

	if len([]rune(c.Text)) > 1600 {
		score *= 0.85
	}
	return score
}
