package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/hnsw"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// HNSWIndex is the dense retrieval channel: one HNSW graph per project
// namespace, with per-entry metadata kept alongside for type filtering.
// Deletions are lazy (mappings dropped, graph node orphaned) to avoid
// graph-repair issues in coder/hnsw when removing the last node.
type HNSWIndex struct {
	mu         sync.RWMutex
	dir        string
	dimensions int
	projects   map[string]*projectGraph
	closed     bool
}

type projectGraph struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	meta    map[string]VectorMeta
	nextKey uint64
}

// hnswProjectMeta is the gob-persisted sidecar for one project graph.
type hnswProjectMeta struct {
	IDMap      map[string]uint64
	Meta       map[string]VectorMeta
	NextKey    uint64
	Dimensions int
}

// NewHNSWIndex creates a vector index persisting under dir (empty dir keeps
// everything in memory) with the given embedding dimension.
func NewHNSWIndex(dir string, dimensions int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, ierrors.ValidationError(fmt.Sprintf("invalid vector dimensions %d", dimensions), nil)
	}
	idx := &HNSWIndex{
		dir:        dir,
		dimensions: dimensions,
		projects:   make(map[string]*projectGraph),
	}
	if dir != "" {
		if err := idx.loadAll(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Dimensions returns the configured embedding dimension.
func (x *HNSWIndex) Dimensions() int {
	return x.dimensions
}

func newProjectGraph() *projectGraph {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return &projectGraph{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		meta:   make(map[string]VectorMeta),
	}
}

func (x *HNSWIndex) namespace(projectID string) *projectGraph {
	pg, ok := x.projects[projectID]
	if !ok {
		pg = newProjectGraph()
		x.projects[projectID] = pg
	}
	return pg
}

// Upsert inserts or replaces vectors within the project namespace.
// Vectors are unit-normalized before insertion.
func (x *HNSWIndex) Upsert(ctx context.Context, projectID string, ids []string, vectors [][]float32, metas []VectorMeta) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(metas) {
		return ierrors.ValidationError(
			fmt.Sprintf("ids/vectors/metas length mismatch: %d/%d/%d", len(ids), len(vectors), len(metas)), nil)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != x.dimensions {
			return ierrors.New(ierrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", x.dimensions, len(v)), nil)
		}
	}

	pg := x.namespace(projectID)
	for i, id := range ids {
		if existing, ok := pg.idMap[id]; ok {
			// Lazy replace: orphan the old graph node.
			delete(pg.keyMap, existing)
			delete(pg.idMap, id)
		}

		key := pg.nextKey
		pg.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		unitNormalize(vec)

		pg.graph.Add(hnsw.MakeNode(key, vec))
		pg.idMap[id] = key
		pg.keyMap[key] = id
		pg.meta[id] = metas[i]
	}
	return nil
}

// Delete removes vectors by ID from the project namespace (lazy).
func (x *HNSWIndex) Delete(ctx context.Context, projectID string, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}

	pg, ok := x.projects[projectID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		if key, exists := pg.idMap[id]; exists {
			delete(pg.keyMap, key)
			delete(pg.idMap, id)
			delete(pg.meta, id)
		}
	}
	return nil
}

// Search returns up to k nearest neighbours in the project namespace,
// filtered by type when the filter is non-empty. Score is 1/(1+distance).
func (x *HNSWIndex) Search(ctx context.Context, projectID string, query []float32, k int, filter VectorFilter) ([]VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}
	if len(query) != x.dimensions {
		return nil, ierrors.New(ierrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("expected %d dimensions, got %d", x.dimensions, len(query)), nil)
	}

	pg, ok := x.projects[projectID]
	if !ok || pg.graph.Len() == 0 {
		return []VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	unitNormalize(q)

	allowed := map[string]bool{}
	for _, t := range filter.Types {
		allowed[t] = true
	}

	// Over-fetch to compensate for orphaned nodes and type filtering.
	fetch := k * 4
	if orphans := pg.graph.Len() - len(pg.idMap); orphans > 0 {
		fetch += orphans
	}

	nodes := pg.graph.Search(q, fetch)
	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, live := pg.keyMap[node.Key]
		if !live {
			continue
		}
		if len(allowed) > 0 && !allowed[pg.meta[id].Type] {
			continue
		}
		dist := pg.graph.Distance(q, node.Value)
		hits = append(hits, VectorHit{
			ChunkID:  id,
			Distance: dist,
			Score:    1.0 / (1.0 + float64(dist)),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Meta returns the stored metadata for an entry.
func (x *HNSWIndex) Meta(projectID, id string) (VectorMeta, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pg, ok := x.projects[projectID]
	if !ok {
		return VectorMeta{}, false
	}
	m, ok := pg.meta[id]
	return m, ok
}

// Count returns the number of live vectors in the project namespace.
func (x *HNSWIndex) Count(projectID string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pg, ok := x.projects[projectID]
	if !ok {
		return 0
	}
	return len(pg.idMap)
}

// Save persists every project namespace: graph export plus a gob metadata
// sidecar, each written to a temp file and renamed.
func (x *HNSWIndex) Save() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "vector index is closed", nil)
	}
	if x.dir == "" {
		return nil
	}

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return ierrors.StorageError("create vector directory", err)
	}
	for projectID, pg := range x.projects {
		if err := x.saveProject(projectID, pg); err != nil {
			return err
		}
	}
	return nil
}

func (x *HNSWIndex) saveProject(projectID string, pg *projectGraph) error {
	base := filepath.Join(x.dir, projectID+".hnsw")

	tmp := base + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return ierrors.StorageError("create vector file", err)
	}
	if err := pg.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return ierrors.StorageError("export vector graph", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ierrors.StorageError("close vector file", err)
	}
	if err := os.Rename(tmp, base); err != nil {
		os.Remove(tmp)
		return ierrors.StorageError("rename vector file", err)
	}

	metaTmp := base + ".meta.tmp"
	mf, err := os.Create(metaTmp)
	if err != nil {
		return ierrors.StorageError("create vector metadata file", err)
	}
	meta := hnswProjectMeta{
		IDMap:      pg.idMap,
		Meta:       pg.meta,
		NextKey:    pg.nextKey,
		Dimensions: x.dimensions,
	}
	if err := gob.NewEncoder(mf).Encode(meta); err != nil {
		mf.Close()
		os.Remove(metaTmp)
		return ierrors.StorageError("encode vector metadata", err)
	}
	if err := mf.Close(); err != nil {
		os.Remove(metaTmp)
		return ierrors.StorageError("close vector metadata file", err)
	}
	if err := os.Rename(metaTmp, base+".meta"); err != nil {
		os.Remove(metaTmp)
		return ierrors.StorageError("rename vector metadata file", err)
	}
	return nil
}

func (x *HNSWIndex) loadAll() error {
	entries, err := os.ReadDir(x.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ierrors.StorageError("read vector directory", err)
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".hnsw") {
			continue
		}
		projectID := strings.TrimSuffix(name, ".hnsw")
		if err := x.loadProject(projectID); err != nil {
			// A single unreadable namespace should not block startup; the
			// primary table can rebuild it.
			slog.Warn("vector_namespace_load_failed", "project_id", projectID, "error", err.Error())
		}
	}
	return nil
}

func (x *HNSWIndex) loadProject(projectID string) error {
	base := filepath.Join(x.dir, projectID+".hnsw")

	mf, err := os.Open(base + ".meta")
	if err != nil {
		return fmt.Errorf("open metadata: %w", err)
	}
	var meta hnswProjectMeta
	decodeErr := gob.NewDecoder(mf).Decode(&meta)
	mf.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode metadata: %w", decodeErr)
	}
	if meta.Dimensions != x.dimensions {
		return fmt.Errorf("dimension changed from %d to %d, namespace needs reindex", meta.Dimensions, x.dimensions)
	}

	pg := newProjectGraph()
	pg.idMap = meta.IDMap
	pg.meta = meta.Meta
	pg.nextKey = meta.NextKey
	for id, key := range pg.idMap {
		pg.keyMap[key] = id
	}

	f, err := os.Open(base)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()
	// coder/hnsw Import requires an io.ByteReader.
	if err := pg.graph.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	x.projects[projectID] = pg
	return nil
}

// Close releases all namespaces. Callers wanting persistence call Save
// first.
func (x *HNSWIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	x.projects = nil
	return nil
}

var _ VectorIndex = (*HNSWIndex)(nil)

func unitNormalize(v []float32) {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
