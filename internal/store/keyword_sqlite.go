package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// SQLiteKeywordIndex is the FTS5 sparse channel. It shares the primary
// store's database so index maintenance stays on the same file, and falls
// back to substring scoring over rag_chunks when FTS5 rejects the query.
type SQLiteKeywordIndex struct {
	mu      sync.RWMutex
	db      *sql.DB
	primary *SQLiteStore
	closed  bool
}

// NewSQLiteKeywordIndex creates the FTS5 table on the primary store's
// database if it does not exist yet.
func NewSQLiteKeywordIndex(primary *SQLiteStore) (*SQLiteKeywordIndex, error) {
	db := primary.DB()
	// chunk_id and the facet columns are UNINDEXED: only text participates
	// in full-text matching, facets are plain predicate columns.
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS rag_chunks_fts USING fts5(
			chunk_id UNINDEXED,
			project_id UNINDEXED,
			type UNINDEXED,
			chapter_no UNINDEXED,
			text,
			tokenize = 'unicode61'
		)`)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "create fts5 table", err)
	}
	return &SQLiteKeywordIndex{db: db, primary: primary}, nil
}

// Index adds chunks to the full-text table, replacing any existing entries
// with the same chunk IDs. FTS5 virtual tables don't support REPLACE, so
// this is delete-then-insert inside one transaction.
func (k *SQLiteKeywordIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.StorageError("begin fts tx", err)
	}
	defer tx.Rollback()

	del, err := tx.PrepareContext(ctx, "DELETE FROM rag_chunks_fts WHERE chunk_id = ?")
	if err != nil {
		return ierrors.StorageError("prepare fts delete", err)
	}
	defer del.Close()

	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_chunks_fts (chunk_id, project_id, type, chapter_no, text)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return ierrors.StorageError("prepare fts insert", err)
	}
	defer ins.Close()

	for _, c := range chunks {
		if _, err := del.ExecContext(ctx, c.ID); err != nil {
			return ierrors.StorageError("delete fts row", err)
		}
		if _, err := ins.ExecContext(ctx, c.ID, c.ProjectID, c.Type, nullableInt(c.ChapterNo), c.Text); err != nil {
			return ierrors.StorageError("insert fts row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ierrors.StorageError("commit fts rows", err)
	}
	return nil
}

// ReplaceSource swaps the primary rows and the FTS rows for a
// (project, type, source_id) set in a single transaction on the shared
// database. Either both tables see the new chunks or neither does.
func (k *SQLiteKeywordIndex) ReplaceSource(ctx context.Context, projectID, typ, sourceID string, chunks []*Chunk) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	return k.primary.replaceChunksBySource(ctx, projectID, typ, sourceID, chunks,
		func(tx *sql.Tx, oldIDs []string) error {
			if len(oldIDs) > 0 {
				placeholders, args := inClause(oldIDs)
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM rag_chunks_fts WHERE chunk_id IN ("+placeholders+")", args...); err != nil {
					return ierrors.StorageError("delete fts rows", err)
				}
			}
			ins, err := tx.PrepareContext(ctx, `
				INSERT INTO rag_chunks_fts (chunk_id, project_id, type, chapter_no, text)
				VALUES (?, ?, ?, ?, ?)`)
			if err != nil {
				return ierrors.StorageError("prepare fts insert", err)
			}
			defer ins.Close()
			for _, c := range chunks {
				if _, err := ins.ExecContext(ctx, c.ID, c.ProjectID, c.Type, nullableInt(c.ChapterNo), c.Text); err != nil {
					return ierrors.StorageError("insert fts row", err)
				}
			}
			return nil
		})
}

// Delete removes entries by chunk ID.
func (k *SQLiteKeywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}

	placeholders, args := inClause(ids)
	if _, err := k.db.ExecContext(ctx,
		"DELETE FROM rag_chunks_fts WHERE chunk_id IN ("+placeholders+")", args...); err != nil {
		return ierrors.StorageError("delete fts rows", err)
	}
	return nil
}

// Search runs a MATCH query ordered by bm25 rank. A query FTS5 cannot parse
// (quotes, stray operators, CJK-heavy input on some builds) falls back to
// substring scoring over the primary table rather than failing retrieval.
func (k *SQLiteKeywordIndex) Search(ctx context.Context, q KeywordQuery) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "keyword index is closed", nil)
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	where := "project_id = ? AND rag_chunks_fts MATCH ?"
	args := []any{q.ProjectID, q.Text}
	if len(q.Types) > 0 {
		placeholders, typeArgs := inClause(q.Types)
		where += " AND type IN (" + placeholders + ")"
		args = append(args, typeArgs...)
	}
	if q.ChapterMax != nil {
		where += " AND (type != 'chapter' OR chapter_no <= ?)"
		args = append(args, *q.ChapterMax)
	}
	args = append(args, limit)

	rows, err := k.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(rag_chunks_fts) AS rank
		FROM rag_chunks_fts
		WHERE `+where+`
		ORDER BY rank ASC
		LIMIT ?`, args...)
	if err != nil {
		if isFTSQueryError(err) {
			return k.substringSearch(ctx, q, limit)
		}
		return nil, ierrors.StorageError("fts search", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var id string
		var rank sql.NullFloat64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, ierrors.StorageError("scan fts hit", err)
		}
		r := 1.0
		if rank.Valid {
			r = rank.Float64
		}
		hits = append(hits, KeywordHit{ChunkID: id, Score: 1.0 / (1.0 + r)})
	}
	if err := rows.Err(); err != nil {
		if isFTSQueryError(err) {
			return k.substringSearch(ctx, q, limit)
		}
		return nil, ierrors.StorageError("iterate fts hits", err)
	}
	return hits, nil
}

// substringSearch scores candidates by summed occurrences of query tokens
// (≥ 2 chars after whitespace/comma split, capped at 8).
func (k *SQLiteKeywordIndex) substringSearch(ctx context.Context, q KeywordQuery, limit int) ([]KeywordHit, error) {
	tokens := FallbackTokens(q.Text)
	if len(tokens) == 0 {
		return nil, nil
	}

	candidates, err := k.primary.ChunksForSubstringSearch(ctx, q)
	if err != nil {
		return nil, err
	}

	var hits []KeywordHit
	for _, c := range candidates {
		total := 0
		for _, tok := range tokens {
			total += strings.Count(c.Text, tok)
		}
		if total > 0 {
			hits = append(hits, KeywordHit{ChunkID: c.ID, Score: float64(total)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Close marks the index closed. The shared database handle is owned by the
// primary store.
func (k *SQLiteKeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

// FallbackTokens extracts substring-search tokens from a query: commas
// normalized to spaces, whitespace split, tokens of at least 2 runes,
// capped at 8.
func FallbackTokens(query string) []string {
	normalized := strings.NewReplacer("，", " ", ",", " ").Replace(query)
	var tokens []string
	for _, tok := range strings.Fields(normalized) {
		if len([]rune(tok)) >= 2 {
			tokens = append(tokens, tok)
			if len(tokens) == 8 {
				break
			}
		}
	}
	return tokens
}

func isFTSQueryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5:") || strings.Contains(msg, "syntax error") ||
		strings.Contains(msg, "malformed MATCH") || strings.Contains(msg, "no such column")
}

var (
	_ KeywordIndex   = (*SQLiteKeywordIndex)(nil)
	_ SourceReplacer = (*SQLiteKeywordIndex)(nil)
)
