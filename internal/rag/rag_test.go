package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/embed"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/store"
)

type testRig struct {
	store   *store.SQLiteStore
	keyword store.KeywordIndex
	vector  *failableVector
	svc     *Service
}

// failableVector wraps the real HNSW index so tests can force degraded
// mode on demand.
type failableVector struct {
	store.VectorIndex
	fail bool
}

func (f *failableVector) Upsert(ctx context.Context, projectID string, ids []string, vectors [][]float32, metas []store.VectorMeta) error {
	if f.fail {
		return errors.New("vector backend down")
	}
	return f.VectorIndex.Upsert(ctx, projectID, ids, vectors, metas)
}

func (f *failableVector) Search(ctx context.Context, projectID string, query []float32, k int, filter store.VectorFilter) ([]store.VectorHit, error) {
	if f.fail {
		return nil, errors.New("vector backend down")
	}
	return f.VectorIndex.Search(ctx, projectID, query, k, filter)
}

func newRig(t *testing.T) *testRig {
	t.Helper()

	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	kw, err := store.NewSQLiteKeywordIndex(st)
	require.NoError(t, err)

	mock := embed.NewMockEmbedder()
	hnsw, err := store.NewHNSWIndex("", mock.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hnsw.Close() })
	vec := &failableVector{VectorIndex: hnsw}

	cached := embed.NewCachedEmbedder(mock, st, 64, 16)
	svc := New(st, kw, vec, cached, rerank.NewMockReranker())
	return &testRig{store: st, keyword: kw, vector: vec, svc: svc}
}

func (r *testRig) mustIndex(t *testing.T, req IndexRequest) int {
	t.Helper()
	n, err := r.svc.Index(context.Background(), req)
	require.NoError(t, err)
	return n
}

func intPtr(n int) *int { return &n }

func TestIndexEmptyInput(t *testing.T) {
	rig := newRig(t)

	n, err := rig.svc.Index(context.Background(), IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, Text: "   \n\n  ", SourceID: "s1",
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexLockStep(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	n := rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "The lighthouse keeps the harbor safe.\n\nIn winter the harbor freezes solid.",
	})
	require.Equal(t, 1, n, "short paragraphs pack into one chunk")

	stats, err := rig.svc.Stats(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, n, stats[store.TypeWorld].Chunks)
	assert.Equal(t, n, rig.vector.VectorIndex.Count("P1"))

	hits, err := rig.keyword.Search(ctx, store.KeywordQuery{ProjectID: "P1", Text: "lighthouse", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, hits, n)
}

func TestIndexReplacementLaw(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeOutline, SourceID: "s1",
		Text: "old beats about the harbor storm",
	})
	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeOutline, SourceID: "s1",
		Text: "new beats about the lantern festival",
	})

	// Old content is gone from keyword retrieval entirely.
	hits, err := rig.keyword.Search(ctx, store.KeywordQuery{ProjectID: "P1", Text: "storm", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := rig.svc.Stats(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[store.TypeOutline].Chunks)
	assert.Equal(t, 1, rig.vector.VectorIndex.Count("P1"))

	selected, err := rig.svc.Retrieve(ctx, "P1", "lantern festival", Filters{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, selected)
	assert.Contains(t, selected[0].Chunk.Text, "lantern")
}

func TestIndexReplacementAtomicOnFailure(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "the old kingdom endures",
	})

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err := rig.svc.Index(canceled, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "the new empire rises",
	})
	require.Error(t, err)

	// A failed replacement leaves the primary and keyword tables on the
	// old batch together, never half-swapped.
	stats, err := rig.svc.Stats(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[store.TypeWorld].Chunks)

	hits, err := rig.keyword.Search(ctx, store.KeywordQuery{ProjectID: "P1", Text: "kingdom", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = rig.keyword.Search(ctx, store.KeywordQuery{ProjectID: "P1", Text: "empire", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)

	rig.svc.DrainNotes()
}

// failableKeyword hides the SQLite backend's shared-transaction path so the
// best-effort mirror branch is exercised, with an optional induced failure.
type failableKeyword struct {
	store.KeywordIndex
	fail bool
}

func (f *failableKeyword) Index(ctx context.Context, chunks []*store.Chunk) error {
	if f.fail {
		return errors.New("keyword backend down")
	}
	return f.KeywordIndex.Index(ctx, chunks)
}

func TestIndexDegradedKeywordRecordsNote(t *testing.T) {
	st, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sqliteKW, err := store.NewSQLiteKeywordIndex(st)
	require.NoError(t, err)
	kw := &failableKeyword{KeywordIndex: sqliteKW}

	mock := embed.NewMockEmbedder()
	hnsw, err := store.NewHNSWIndex("", mock.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = hnsw.Close() })

	svc := New(st, kw, hnsw, embed.NewCachedEmbedder(mock, st, 64, 16), rerank.NewMockReranker())
	ctx := context.Background()

	_, err = svc.Index(ctx, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "the old kingdom endures",
	})
	require.NoError(t, err)

	kw.fail = true
	n, err := svc.Index(ctx, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "the new empire rises",
	})
	require.NoError(t, err, "keyword mirror failure degrades, it does not fail the operation")
	assert.Equal(t, 1, n)

	// The primary swap still happened and the vector channel serves the
	// new text.
	stats, err := svc.Stats(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats[store.TypeWorld].Chunks)

	selected, err := svc.Retrieve(ctx, "P1", "the new empire rises", Filters{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, selected)
	assert.Contains(t, selected[0].Chunk.Text, "empire")

	notes := svc.DrainNotes()
	require.NotEmpty(t, notes)
	assert.Contains(t, strings.Join(notes, "\n"), "keyword index unavailable")
}

func TestDeleteBySource(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeFacts, SourceID: "s1", Text: "the gate is sealed",
	})
	require.NoError(t, rig.svc.DeleteBySource(ctx, "P1", store.TypeFacts, "s1"))

	stats, err := rig.svc.Stats(ctx, "P1")
	require.NoError(t, err)
	assert.Zero(t, stats[store.TypeFacts].Chunks)
	assert.Zero(t, rig.vector.VectorIndex.Count("P1"))
}

func TestRetrieveEmptyIndexEmptyQuery(t *testing.T) {
	rig := newRig(t)

	selected, err := rig.svc.Retrieve(context.Background(), "P1", "", Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestRetrieveCausalFilter(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		rig.mustIndex(t, IndexRequest{
			ProjectID: "P1", Type: store.TypeChapter, SourceID: fmt.Sprintf("ch-%d", n),
			ChapterNo: intPtr(n), Text: "lorem",
		})
	}

	selected, err := rig.svc.Retrieve(ctx, "P1", "lorem", Filters{ChapterNo: intPtr(3)}, 10)
	require.NoError(t, err)
	for _, c := range selected {
		require.NotNil(t, c.Chunk.ChapterNo)
		assert.Less(t, *c.Chunk.ChapterNo, 3, "no chapter at or past the target may appear")
	}
	assert.LessOrEqual(t, len(selected), 2)
}

func TestRetrieveQuotaEnforcement(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rig.mustIndex(t, IndexRequest{
			ProjectID: "P1", Type: store.TypeCharacters, SourceID: fmt.Sprintf("c-%d", i),
			Text: fmt.Sprintf("Mira the keeper, note %d", i),
		})
	}

	selected, err := rig.svc.Retrieve(ctx, "P1", "Mira keeper", Filters{}, 10)
	require.NoError(t, err)
	assert.Len(t, selected, 3, "characters quota is 3")
	for _, c := range selected {
		assert.Equal(t, store.TypeCharacters, c.Chunk.Type)
		assert.Equal(t, "rerank", c.Channel)
	}
}

func TestRetrieveTopKBoundAndOrdering(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	types := []string{store.TypeWorld, store.TypeFacts, store.TypeOutline, store.TypeCharacters}
	for i, typ := range types {
		for j := 0; j < 2; j++ {
			rig.mustIndex(t, IndexRequest{
				ProjectID: "P1", Type: typ, SourceID: fmt.Sprintf("%s-%d", typ, j),
				Text: fmt.Sprintf("harbor lore %d-%d", i, j),
			})
		}
	}

	selected, err := rig.svc.Retrieve(ctx, "P1", "harbor lore", Filters{}, 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(selected), 4)
	for i := 1; i < len(selected); i++ {
		assert.GreaterOrEqual(t, selected[i-1].Score, selected[i].Score,
			"selected scores must be non-increasing")
	}
}

func TestRetrieveDualChannelDedup(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1",
		Text: "the lighthouse beam sweeps the harbor",
	})

	// The lone chunk wins both channels; it must appear exactly once.
	selected, err := rig.svc.Retrieve(ctx, "P1", "lighthouse harbor", Filters{}, 5)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "rerank", selected[0].Channel)

	debug, err := rig.svc.Preview(ctx, "P1", "lighthouse harbor", nil, 5)
	require.NoError(t, err)
	require.Len(t, debug.VectorResults, 1)
	require.Len(t, debug.KeywordResults, 1)
	require.Len(t, debug.MergedCandidates, 1)
}

func TestMergeMaxScoreWins(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1", Text: "harbor"})
	stats, err := rig.svc.Stats(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, 1, stats[store.TypeWorld].Chunks)

	hits, err := rig.keyword.Search(ctx, store.KeywordQuery{ProjectID: "P1", Text: "harbor", Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	id := hits[0].ChunkID

	merged, err := rig.svc.merge(ctx,
		[]store.VectorHit{{ChunkID: id, Score: 0.4}},
		[]store.KeywordHit{{ChunkID: id, Score: 0.9}})
	require.NoError(t, err)
	require.Len(t, merged, 1, "dup collapses to one candidate")
	assert.Equal(t, 0.9, merged[0].score, "max of the two channel scores")
	assert.Equal(t, "vector+keyword", merged[0].channel)
}

func TestRetrieveTypeFilter(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1", Text: "harbor walls"})
	rig.mustIndex(t, IndexRequest{ProjectID: "P1", Type: store.TypeFacts, SourceID: "s2", Text: "harbor debt"})

	selected, err := rig.svc.Retrieve(ctx, "P1", "harbor", Filters{Types: []string{store.TypeFacts}}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, selected)
	for _, c := range selected {
		assert.Equal(t, store.TypeFacts, c.Chunk.Type)
	}
}

func TestRetrieveKeywordOnlyWhenVectorDown(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1", Text: "the sealed gate"})

	rig.vector.fail = true
	selected, err := rig.svc.Retrieve(ctx, "P1", "sealed gate", Filters{}, 5)
	require.NoError(t, err, "a failed channel never fails retrieval")
	require.NotEmpty(t, selected, "keyword channel still serves")
}

func TestIndexDegradedVectorRecordsNote(t *testing.T) {
	rig := newRig(t)
	rig.vector.fail = true

	n, err := rig.svc.Index(context.Background(), IndexRequest{
		ProjectID: "P1", Type: store.TypeWorld, SourceID: "s1", Text: "the sealed gate",
	})
	require.NoError(t, err, "vector failure is degraded mode, not an error")
	assert.Equal(t, 1, n)

	notes := rig.svc.DrainNotes()
	require.NotEmpty(t, notes)
	assert.Contains(t, strings.Join(notes, " "), "vector index unavailable")
	assert.Empty(t, rig.svc.DrainNotes(), "drain clears")
}

func TestRuleScoreLift(t *testing.T) {
	chunkOf := func(typ string, chapterNo *int, text string) *store.Chunk {
		return &store.Chunk{Type: typ, ChapterNo: chapterNo, Text: text}
	}

	// Type weight multiplies the base score.
	sg := ruleScore("query", chunkOf(store.TypeStyleGuide, nil, "no hits here"), 1.0, nil)
	ch := ruleScore("query", chunkOf(store.TypeChapter, nil, "no hits here"), 1.0, nil)
	assert.InDelta(t, 1.8, sg, 1e-9)
	assert.InDelta(t, 1.0, ch, 1e-9)

	// Hit bonus caps at 3.0.
	many := strings.Repeat("lighthouse ", 10)
	lifted := ruleScore("lighthouse", chunkOf(store.TypeChapter, nil, many), 0, nil)
	assert.InDelta(t, 3.0, lifted, 1e-9)

	// Recency: closer chapters get a bigger boost.
	near := ruleScore("q", chunkOf(store.TypeChapter, intPtr(4), "x"), 0, intPtr(5))
	far := ruleScore("q", chunkOf(store.TypeChapter, intPtr(1), "x"), 0, intPtr(5))
	assert.InDelta(t, 1.5/2.0, near, 1e-9)
	assert.InDelta(t, 1.5/5.0, far, 1e-9)

	// Long-text damp.
	long := strings.Repeat("a", 1601)
	assert.InDelta(t, 0.85, ruleScore("q", chunkOf(store.TypeChapter, nil, long), 1.0, nil), 1e-9)
}

func TestBuildContextSections(t *testing.T) {
	sel := []ScoredChunk{
		{Chunk: &store.Chunk{ID: "c1", Type: store.TypeStyleGuide, Text: "Taboos: no modern slang"}, Score: 3.2},
		{Chunk: &store.Chunk{ID: "c2", Type: store.TypeFacts, Text: "the gate is sealed"}, Score: 2.1},
		{Chunk: &store.Chunk{ID: "c3", Type: store.TypeForeshadowing, Text: "a red sail on the horizon"}, Score: 1.9},
		{Chunk: &store.Chunk{ID: "c4", Type: store.TypeChapter, Text: "Mira climbed the stairs."}, Score: 1.0},
	}

	out := BuildContext(sel)
	require.Contains(t, out, "## style_guide (rules/taboos)")
	require.Contains(t, out, "## facts & foreshadowing (hot)")
	require.Contains(t, out, "## relevant chapter raw snippets")
	assert.NotContains(t, out, "## outline", "empty sections are omitted")
	assert.Contains(t, out, "- (style_guide#c1 score=3.200) Taboos: no modern slang")

	// Section order is fixed.
	assert.Less(t, strings.Index(out, "style_guide (rules/taboos)"), strings.Index(out, "facts & foreshadowing"))
	assert.Less(t, strings.Index(out, "facts & foreshadowing"), strings.Index(out, "chapter raw snippets"))
}

func TestBuildContextCaps(t *testing.T) {
	var sel []ScoredChunk
	for i := 0; i < 4; i++ {
		sel = append(sel, ScoredChunk{
			Chunk: &store.Chunk{ID: fmt.Sprintf("s%d", i), Type: store.TypeStyleGuide, Text: "rule"},
			Score: 1,
		})
	}
	out := BuildContext(sel)
	assert.Equal(t, 1, strings.Count(out, "- (style_guide#"), "style_guide section caps at one item")
}

func TestAppendInstruction(t *testing.T) {
	assert.Equal(t, "ctx", AppendInstruction("ctx", "  "))
	assert.Equal(t, "## user instruction\ngo", AppendInstruction("", "go"))
	assert.Equal(t, "ctx\n\n## user instruction\ngo", AppendInstruction("ctx", "go"))
}

func TestPreviewFilterAsymmetry(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeChapter, SourceID: "ch-4",
		ChapterNo: intPtr(4), Text: "lorem future chapter",
	})
	rig.mustIndex(t, IndexRequest{
		ProjectID: "P1", Type: store.TypeChapter, SourceID: "ch-1",
		ChapterNo: intPtr(1), Text: "lorem early chapter",
	})

	debug, err := rig.svc.Preview(ctx, "P1", "lorem", intPtr(2), 10)
	require.NoError(t, err)

	// The unfiltered vector debug list may show the future chapter.
	var vectorIDs []string
	for _, c := range debug.VectorResults {
		vectorIDs = append(vectorIDs, c.Chunk.SourceID)
	}
	assert.Contains(t, vectorIDs, "ch-4")

	// The keyword debug list applies the causal bound.
	for _, c := range debug.KeywordResults {
		assert.Equal(t, "ch-1", c.Chunk.SourceID)
	}

	// The final selection never contains chapters at or past the target.
	for _, c := range debug.FinalSelected {
		require.NotNil(t, c.Chunk.ChapterNo)
		assert.Less(t, *c.Chunk.ChapterNo, 2)
	}
	assert.Equal(t, BuildContext(debug.FinalSelected), debug.ContextString)
}

func TestStatsEmptyProject(t *testing.T) {
	rig := newRig(t)

	stats, err := rig.svc.Stats(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, stats)
}
