// Package rag implements the hybrid retrieval engine: lock-step indexing
// into the primary table, keyword index, and vector index, dual-channel
// retrieval with reranking and quota selection, and the context builder
// that feeds chapter expansion.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/chunk"
	"github.com/inkwell-ai/inkwell/internal/embed"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/store"
	"github.com/inkwell-ai/inkwell/internal/telemetry"
)

// AllTypes lists every chunk type the retriever knows about, in the order
// used for full-filter retrieval.
var AllTypes = []string{
	store.TypeStyleGuide,
	store.TypeWorld,
	store.TypeOutline,
	store.TypeCharacters,
	store.TypeChapterSummary,
	store.TypeFacts,
	store.TypeForeshadowing,
	store.TypeChapter,
}

// ScoredChunk is a retrieval result: the chunk plus its channel and score
// at the current pipeline stage.
type ScoredChunk struct {
	Chunk   *store.Chunk
	Score   float64
	Channel string
}

// Service owns the three index structures and the retrieval pipeline.
// The primary table is authoritative; vector writes are best-effort and
// degrade with a recorded note instead of failing the operation.
type Service struct {
	store    *store.SQLiteStore
	keyword  store.KeywordIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	reranker rerank.Reranker

	chunkOpts chunk.Options
	topKV     int
	topKKW    int
	metrics   *telemetry.RetrievalMetrics

	mu    sync.Mutex
	notes []string
}

// Option configures a Service.
type Option func(*Service)

// WithChunkOptions overrides the chunker parameters.
func WithChunkOptions(opts chunk.Options) Option {
	return func(s *Service) { s.chunkOpts = opts }
}

// WithChannelDepths sets the per-channel candidate depths used by preview
// and as defaults for retrieval.
func WithChannelDepths(topKV, topKKW int) Option {
	return func(s *Service) {
		if topKV > 0 {
			s.topKV = topKV
		}
		if topKKW > 0 {
			s.topKKW = topKKW
		}
	}
}

// WithNotes seeds fallback notes recorded before the service existed,
// typically from the embedder and reranker factories.
func WithNotes(notes []string) Option {
	return func(s *Service) { s.notes = append(s.notes, notes...) }
}

// New assembles the retrieval service.
func New(st *store.SQLiteStore, kw store.KeywordIndex, vec store.VectorIndex, emb embed.Embedder, rr rerank.Reranker, opts ...Option) *Service {
	s := &Service{
		store:     st,
		keyword:   kw,
		vector:    vec,
		embedder:  emb,
		reranker:  rr,
		chunkOpts: chunk.DefaultOptions(),
		topKV:     10,
		topKKW:    10,
		metrics:   telemetry.NewRetrievalMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) addNote(note string) {
	s.mu.Lock()
	s.notes = append(s.notes, note)
	s.mu.Unlock()
	slog.Warn("rag_degraded", "note", note)
}

// DrainNotes returns accumulated degraded-mode notes and clears them.
// Callers surface them in the agent event log.
func (s *Service) DrainNotes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.notes
	s.notes = nil
	return notes
}

// IndexRequest describes one document to (re)index.
type IndexRequest struct {
	ProjectID  string
	Type       string
	Text       string
	SourceID   string
	ChapterNo  *int
	Characters string
	Locations  string
	POV        string
}

// Index chunks the text, embeds with the cache, and replaces any prior
// chunks of the same (project, type, source_id) with the new set. The swap
// in the primary table is a single transaction, joined by the keyword rows
// when the backend shares the database. Returns the number of chunks
// indexed. Empty input indexes nothing and is not an error.
func (s *Service) Index(ctx context.Context, req IndexRequest) (int, error) {
	pieces := chunk.Split(req.Text, s.chunkOpts)
	if len(pieces) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	chunks := make([]*store.Chunk, len(pieces))
	ids := make([]string, len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		id := uuid.NewString()
		ids[i] = id
		texts[i] = p.Text
		meta := map[string]string{
			"project_id": req.ProjectID,
			"type":       req.Type,
			"chunk_id":   id,
			"source_id":  req.SourceID,
			"characters": req.Characters,
			"locations":  req.Locations,
			"pov":        req.POV,
			"created_at": now.Format(time.RFC3339Nano),
		}
		if req.ChapterNo != nil {
			meta["chapter_no"] = fmt.Sprintf("%d", *req.ChapterNo)
		}
		chunks[i] = &store.Chunk{
			ID:         id,
			ProjectID:  req.ProjectID,
			Type:       req.Type,
			SourceID:   req.SourceID,
			ChapterNo:  req.ChapterNo,
			Characters: req.Characters,
			Locations:  req.Locations,
			POV:        req.POV,
			Text:       p.Text,
			Snippet:    p.Snippet,
			Metadata:   meta,
			CreatedAt:  now,
		}
	}

	// Embedding failure means the vector channel is unavailable for this
	// batch; primary + keyword remain authoritative.
	vectors, embedErr := s.embedder.EmbedTexts(ctx, texts)
	if embedErr != nil {
		s.addNote(fmt.Sprintf("embedding failed for %s/%s; vector channel skipped: %v",
			req.ProjectID, req.Type, embedErr))
	}

	// Replace the prior (project, type, source_id) set. A keyword backend
	// sharing the primary database swaps both tables in one transaction;
	// otherwise the primary swap is atomic on its own and the keyword
	// mirror degrades with a note, like the vector index.
	var oldIDs []string
	if sr, ok := s.keyword.(store.SourceReplacer); ok {
		replaced, err := sr.ReplaceSource(ctx, req.ProjectID, req.Type, req.SourceID, chunks)
		if err != nil {
			return 0, err
		}
		oldIDs = replaced
	} else {
		replaced, err := s.store.ReplaceChunksBySource(ctx, req.ProjectID, req.Type, req.SourceID, chunks)
		if err != nil {
			return 0, err
		}
		oldIDs = replaced
		if len(oldIDs) > 0 {
			if err := s.keyword.Delete(ctx, oldIDs); err != nil {
				s.addNote(fmt.Sprintf("keyword delete failed for %s/%s: %v", req.ProjectID, req.Type, err))
			}
		}
		if err := s.keyword.Index(ctx, chunks); err != nil {
			s.addNote(fmt.Sprintf("keyword index unavailable for %s/%s; vector-only retrieval for this batch: %v",
				req.ProjectID, req.Type, err))
		}
	}
	if len(oldIDs) > 0 {
		if err := s.vector.Delete(ctx, req.ProjectID, oldIDs); err != nil {
			s.addNote(fmt.Sprintf("vector delete failed for %s/%s: %v", req.ProjectID, req.Type, err))
		}
	}

	if embedErr == nil {
		metas := make([]store.VectorMeta, len(chunks))
		for i, c := range chunks {
			metas[i] = store.VectorMeta{Type: c.Type, ChapterNo: c.ChapterNo}
		}
		if err := s.vector.Upsert(ctx, req.ProjectID, ids, vectors, metas); err != nil {
			s.addNote(fmt.Sprintf("vector index unavailable for %s/%s; keyword-only retrieval for this batch: %v",
				req.ProjectID, req.Type, err))
		}
	}

	slog.Info("rag_indexed", "project_id", req.ProjectID, "type", req.Type,
		"source_id", req.SourceID, "chunks", len(chunks))
	return len(chunks), nil
}

// DeleteBySource removes the (project, type, source_id) chunk set from all
// three structures.
func (s *Service) DeleteBySource(ctx context.Context, projectID, typ, sourceID string) error {
	ids, err := s.store.DeleteChunksBySource(ctx, projectID, typ, sourceID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.keyword.Delete(ctx, ids); err != nil {
		return err
	}
	if err := s.vector.Delete(ctx, projectID, ids); err != nil {
		s.addNote(fmt.Sprintf("vector delete failed for %s/%s: %v", projectID, typ, err))
	}
	return nil
}

// Stats reports per-type chunk counts and last update times from the
// primary table.
func (s *Service) Stats(ctx context.Context, projectID string) (map[string]store.TypeStats, error) {
	return s.store.StatsByType(ctx, projectID)
}

// Metrics returns a snapshot of the retrieval telemetry collected since
// the service started.
func (s *Service) Metrics() telemetry.Snapshot {
	return s.metrics.Snapshot()
}

// Save persists the vector index.
func (s *Service) Save() error {
	return s.vector.Save()
}
