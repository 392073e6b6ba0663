// Package store provides the persistence layer: the SQLite primary table
// (source of truth), the keyword index, and the per-project vector index.
// The three structures are kept in lock-step by the rag service.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Chunk types recognised by the retrieval pipeline.
const (
	TypeStyleGuide     = "style_guide"
	TypeWorld          = "world"
	TypeOutline        = "outline"
	TypeCharacters     = "characters"
	TypeChapter        = "chapter"
	TypeChapterSummary = "chapter_summary"
	TypeFacts          = "facts"
	TypeForeshadowing  = "foreshadowing"
)

// Project holds narrative metadata plus derived artifacts. Created once,
// mutated by orchestrator calls, never deleted by the core.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Genre          string    `json:"genre"`
	Setting        string    `json:"setting"`
	Style          string    `json:"style"`
	Keywords       string    `json:"keywords"`
	Audience       string    `json:"audience"`
	TargetChapters int       `json:"target_chapters"`
	OutlineText    string    `json:"outline"`
	CharactersJSON string    `json:"characters_json"`
	CharactersText string    `json:"characters_text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CharacterNames reads the principal cast out of CharactersJSON.
// Best-effort: malformed or absent JSON yields an empty list.
func (p *Project) CharacterNames() []string {
	if p == nil || p.CharactersJSON == "" {
		return nil
	}
	var sheet struct {
		Characters []struct {
			Name string `json:"name"`
		} `json:"characters"`
	}
	if err := json.Unmarshal([]byte(p.CharactersJSON), &sheet); err != nil {
		return nil
	}
	var names []string
	for _, c := range sheet.Characters {
		if c.Name != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

// SourceDocument is an append-only artifact record. Supersession is
// expressed by source_id equality at the chunk layer, not by row updates.
type SourceDocument struct {
	ID        string
	ProjectID string
	Type      string
	ChapterNo *int
	Title     string
	Text      string
	CreatedAt time.Time
}

// Chapter is the canonical chapter text, unique on (project_id, chapter_no)
// and updated in place.
type Chapter struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	ChapterNo int       `json:"chapter_no"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChapterMemory is a derived per-chapter artifact: summary, facts, or
// foreshadowing, as extracted after a chapter write.
type ChapterMemory struct {
	ID        string
	ProjectID string
	ChapterNo int
	Kind      string
	Text      string
	CreatedAt time.Time
}

// Event is one entry of a project's append-only agent event log.
type Event struct {
	Agent         string    `json:"agent"`
	Action        string    `json:"action"`
	Summary       string    `json:"summary"`
	OutputPreview string    `json:"output_preview,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Chunk is the central retrieval entity. Facet columns mirror the metadata
// map so the keyword index can filter without JSON decoding.
type Chunk struct {
	ID         string
	ProjectID  string
	Type       string
	SourceID   string
	ChapterNo  *int
	Characters string
	Locations  string
	POV        string
	Text       string
	Snippet    string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// TypeStats summarises one chunk type within a project.
type TypeStats struct {
	Chunks        int       `json:"chunks"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// KeywordQuery is a sparse-channel search request. ChapterMax, when set,
// bounds chunks of type "chapter" only; other types pass regardless.
type KeywordQuery struct {
	ProjectID  string
	Text       string
	Types      []string
	ChapterMax *int
	Limit      int
}

// KeywordHit is a sparse-channel result with the channel score already
// applied (1/(1+rank) for full-text rank, occurrence sum for the substring
// fallback).
type KeywordHit struct {
	ChunkID string
	Score   float64
}

// KeywordIndex is the sparse retrieval channel. Index replaces existing
// entries for the same chunk IDs.
type KeywordIndex interface {
	Index(ctx context.Context, chunks []*Chunk) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, q KeywordQuery) ([]KeywordHit, error)
	Close() error
}

// SourceReplacer is an optional KeywordIndex extension for backends that
// share the primary database. ReplaceSource swaps both the primary rows and
// the keyword rows for a (project, type, source_id) set in one transaction:
// on failure neither table changes. Returns the replaced chunk IDs so the
// caller can mirror the swap into the vector index.
type SourceReplacer interface {
	ReplaceSource(ctx context.Context, projectID, typ, sourceID string, chunks []*Chunk) ([]string, error)
}

// VectorMeta is the per-entry metadata the vector index keeps for
// post-search filtering.
type VectorMeta struct {
	Type      string
	ChapterNo *int
}

// VectorFilter restricts a vector search. Empty Types means no restriction.
type VectorFilter struct {
	Types []string
}

// VectorHit is a dense-channel result. Score is 1/(1+distance).
type VectorHit struct {
	ChunkID  string
	Distance float32
	Score    float64
}

// VectorIndex is the dense retrieval channel, namespaced per project.
// Writes are best-effort from the caller's perspective: a failed vector
// write degrades retrieval, it does not invalidate the primary table.
type VectorIndex interface {
	Upsert(ctx context.Context, projectID string, ids []string, vectors [][]float32, metas []VectorMeta) error
	Delete(ctx context.Context, projectID string, ids []string) error
	Search(ctx context.Context, projectID string, query []float32, k int, filter VectorFilter) ([]VectorHit, error)
	Count(projectID string) int
	Save() error
	Close() error
}
