package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// BleveKeywordIndex is the alternative sparse channel backed by a Bleve
// index, selected with keyword_backend=bleve. Facet predicates run as
// post-filters over stored fields; only text participates in matching.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

type bleveChunkDoc struct {
	ProjectID string `json:"project_id"`
	Type      string `json:"type"`
	ChapterNo *int   `json:"chapter_no,omitempty"`
	Text      string `json:"text"`
}

// NewBleveKeywordIndex opens or creates a Bleve index at path. Empty path
// builds an in-memory index for tests.
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	m, err := bleveChunkMapping()
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "build bleve mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, ierrors.StorageError("create bleve directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "open bleve index", err)
	}
	return &BleveKeywordIndex{index: idx, path: path}, nil
}

func bleveChunkMapping() (*mapping.IndexMappingImpl, error) {
	textField := bleve.NewTextFieldMapping()
	textField.Store = false

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true

	numField := bleve.NewNumericFieldMapping()
	numField.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("project_id", keywordField)
	doc.AddFieldMappingsAt("type", keywordField)
	doc.AddFieldMappingsAt("chapter_no", numField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m, nil
}

// Index adds chunks in one batch. Bleve replaces documents by ID, so
// re-indexing the same chunk is an update.
func (b *BleveKeywordIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, c := range chunks {
		doc := bleveChunkDoc{
			ProjectID: c.ProjectID,
			Type:      c.Type,
			ChapterNo: c.ChapterNo,
			Text:      c.Text,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return ierrors.StorageError(fmt.Sprintf("batch chunk %s", c.ID), err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return ierrors.StorageError("execute bleve batch", err)
	}
	return nil
}

// Delete removes entries by chunk ID.
func (b *BleveKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return ierrors.StorageError("delete from bleve", err)
	}
	return nil
}

// Search matches q.Text against the text field, scoped to the project by a
// conjunct term query, then post-filters type and the causal bound from
// stored fields. Scores follow result rank: 1/(1+position).
func (b *BleveKeywordIndex) Search(ctx context.Context, q KeywordQuery) ([]KeywordHit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	match := bleve.NewMatchQuery(q.Text)
	match.SetField("text")
	project := bleve.NewTermQuery(q.ProjectID)
	project.SetField("project_id")
	query := bleve.NewConjunctionQuery(match, project)

	req := bleve.NewSearchRequest(query)
	// Over-fetch so post-filtering can still fill the limit.
	req.Size = limit * 4
	req.Fields = []string{"type", "chapter_no"}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ierrors.StorageError("bleve search", err)
	}

	allowed := map[string]bool{}
	for _, t := range q.Types {
		allowed[t] = true
	}

	hits := make([]KeywordHit, 0, limit)
	for _, hit := range res.Hits {
		typ, _ := hit.Fields["type"].(string)
		if len(allowed) > 0 && !allowed[typ] {
			continue
		}
		if q.ChapterMax != nil && typ == TypeChapter {
			no, ok := hit.Fields["chapter_no"].(float64)
			if !ok || int(no) > *q.ChapterMax {
				continue
			}
		}
		hits = append(hits, KeywordHit{
			ChunkID: hit.ID,
			Score:   1.0 / (1.0 + float64(len(hits))),
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Close closes the underlying index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)
