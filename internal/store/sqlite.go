package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// SQLiteStore is the primary store: projects, chapters, source documents,
// chapter memories, chunks, the embedding cache, and the agent event log.
// It is the source of truth; keyword and vector indexes are rebuilt from it
// on repair.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenSQLite opens (or creates) the primary store. Pass ":memory:" for an
// in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ierrors.StorageError("create database directory", err)
		}
		if err := validateSQLiteIntegrity(path); err != nil {
			slog.Warn("sqlite_corrupted", "path", path, "error", err.Error())
			removeSQLiteFiles(path)
			slog.Info("sqlite_cleared", "path", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, "open sqlite database", err)
	}

	// modernc.org/sqlite ignores DSN pragma parameters, so set them
	// explicitly. Single connection keeps FTS writes serialized.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-65536",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, ierrors.New(ierrors.ErrCodeStoreUnavailable, fmt.Sprintf("apply %s", p), err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// validateSQLiteIntegrity runs a quick integrity check on an existing
// database file. A failure means the file should be cleared and rebuilt.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open for integrity check: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check returned %q", result)
	}
	return nil
}

func removeSQLiteFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("sqlite_remove_failed", "path", p, "error", err.Error())
		}
	}
}

func (s *SQLiteStore) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			genre TEXT NOT NULL DEFAULT '',
			setting TEXT NOT NULL DEFAULT '',
			style TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '',
			audience TEXT NOT NULL DEFAULT '',
			target_chapters INTEGER NOT NULL DEFAULT 0,
			outline_text TEXT NOT NULL DEFAULT '',
			characters_json TEXT NOT NULL DEFAULT '',
			characters_text TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_documents (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			type TEXT NOT NULL,
			chapter_no INTEGER,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_documents_project
			ON source_documents(project_id, type)`,
		`CREATE TABLE IF NOT EXISTS chapters (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			chapter_no INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(project_id, chapter_no)
		)`,
		`CREATE TABLE IF NOT EXISTS chapter_memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			chapter_no INTEGER NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chapter_memories_project
			ON chapter_memories(project_id, chapter_no)`,
		`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			type TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			chapter_no INTEGER,
			characters TEXT NOT NULL DEFAULT '',
			locations TEXT NOT NULL DEFAULT '',
			pov TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			snippet TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rag_chunks_source
			ON rag_chunks(project_id, type, source_id)`,
		`CREATE TABLE IF NOT EXISTS embeddings_cache (
			cache_key TEXT PRIMARY KEY,
			model_name TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			action TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			output_preview TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_events_project
			ON agent_events(project_id, id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return ierrors.StorageError("apply schema", err)
		}
	}
	return nil
}

// DB exposes the underlying handle so the FTS keyword index can share the
// same database file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path ("" for in-memory).
func (s *SQLiteStore) Path() string {
	if s.path == ":memory:" {
		return ""
	}
	return s.path
}

func (s *SQLiteStore) guard() error {
	if s.closed {
		return ierrors.New(ierrors.ErrCodeStoreUnavailable, "store is closed", nil)
	}
	return nil
}

// ---- projects ----

// CreateProject persists a new project. Missing ID and timestamps are
// filled in.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects
			(id, name, genre, setting, style, keywords, audience, target_chapters,
			 outline_text, characters_json, characters_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Genre, p.Setting, p.Style, p.Keywords, p.Audience, p.TargetChapters,
		p.OutlineText, p.CharactersJSON, p.CharactersText,
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ierrors.StorageError("insert project", err)
	}
	return nil
}

// GetProject loads a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, genre, setting, style, keywords, audience, target_chapters,
		       outline_text, characters_json, characters_text, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	var p Project
	var created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.Genre, &p.Setting, &p.Style, &p.Keywords, &p.Audience,
		&p.TargetChapters, &p.OutlineText, &p.CharactersJSON, &p.CharactersText, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ierrors.NotFoundError(ierrors.ErrCodeProjectNotFound, "project", id)
	}
	if err != nil {
		return nil, ierrors.StorageError("load project", err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, genre, setting, style, keywords, audience, target_chapters,
		       outline_text, characters_json, characters_text, created_at, updated_at
		FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, ierrors.StorageError("list projects", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var p Project
		var created, updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Genre, &p.Setting, &p.Style, &p.Keywords, &p.Audience,
			&p.TargetChapters, &p.OutlineText, &p.CharactersJSON, &p.CharactersText, &created, &updated); err != nil {
			return nil, ierrors.StorageError("scan project", err)
		}
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpdateOutline replaces the project's outline artifact.
func (s *SQLiteStore) UpdateOutline(ctx context.Context, projectID, outline string) error {
	return s.updateProjectColumns(ctx, projectID, map[string]string{"outline_text": outline})
}

// UpdateCharacters replaces the project's character artifacts.
func (s *SQLiteStore) UpdateCharacters(ctx context.Context, projectID, charactersJSON, charactersText string) error {
	return s.updateProjectColumns(ctx, projectID, map[string]string{
		"characters_json": charactersJSON,
		"characters_text": charactersText,
	})
}

func (s *SQLiteStore) updateProjectColumns(ctx context.Context, projectID string, cols map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for col, val := range cols {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), projectID)

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return ierrors.StorageError("update project", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierrors.NotFoundError(ierrors.ErrCodeProjectNotFound, "project", projectID)
	}
	return nil
}

// ---- agent event log ----

// AppendEvents appends entries to the project's event log.
func (s *SQLiteStore) AppendEvents(ctx context.Context, projectID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.StorageError("begin event tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agent_events (project_id, agent, action, summary, output_preview, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ierrors.StorageError("prepare event insert", err)
	}
	defer stmt.Close()

	for _, e := range events {
		ts := e.CreatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, projectID, e.Agent, e.Action, e.Summary,
			e.OutputPreview, ts.Format(time.RFC3339Nano)); err != nil {
			return ierrors.StorageError("insert event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ierrors.StorageError("commit events", err)
	}
	return nil
}

// ListEvents returns the most recent limit entries, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, projectID string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, action, summary, output_preview, created_at FROM (
			SELECT id, agent, action, summary, output_preview, created_at
			FROM agent_events WHERE project_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, projectID, limit)
	if err != nil {
		return nil, ierrors.StorageError("list events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.Agent, &e.Action, &e.Summary, &e.OutputPreview, &created); err != nil {
			return nil, ierrors.StorageError("scan event", err)
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- source documents ----

// SaveSourceDocument appends an artifact record. Rows are never updated;
// re-issuing a document creates a new row.
func (s *SQLiteStore) SaveSourceDocument(ctx context.Context, d *SourceDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_documents (id, project_id, type, chapter_no, title, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Type, nullableInt(d.ChapterNo), d.Title, d.Text,
		d.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ierrors.StorageError("insert source document", err)
	}
	return nil
}

// ---- chapters ----

// UpsertChapter creates or replaces the chapter text for
// (project_id, chapter_no).
func (s *SQLiteStore) UpsertChapter(ctx context.Context, projectID string, chapterNo int, text string) (*Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, project_id, chapter_no, text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, chapter_no) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at`,
		id, projectID, chapterNo, text,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, ierrors.StorageError("upsert chapter", err)
	}
	return s.getChapterLocked(ctx, projectID, chapterNo)
}

// GetChapter loads a chapter by number.
func (s *SQLiteStore) GetChapter(ctx context.Context, projectID string, chapterNo int) (*Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.getChapterLocked(ctx, projectID, chapterNo)
}

func (s *SQLiteStore) getChapterLocked(ctx context.Context, projectID string, chapterNo int) (*Chapter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, chapter_no, text, created_at, updated_at
		FROM chapters WHERE project_id = ? AND chapter_no = ?`, projectID, chapterNo)

	var c Chapter
	var created, updated string
	err := row.Scan(&c.ID, &c.ProjectID, &c.ChapterNo, &c.Text, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ierrors.NotFoundError(ierrors.ErrCodeChapterNotFound, "chapter",
			fmt.Sprintf("%s/%d", projectID, chapterNo))
	}
	if err != nil {
		return nil, ierrors.StorageError("load chapter", err)
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// ListChapters returns a project's chapters in chapter order.
func (s *SQLiteStore) ListChapters(ctx context.Context, projectID string) ([]*Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, chapter_no, text, created_at, updated_at
		FROM chapters WHERE project_id = ? ORDER BY chapter_no ASC`, projectID)
	if err != nil {
		return nil, ierrors.StorageError("list chapters", err)
	}
	defer rows.Close()

	var out []*Chapter
	for rows.Next() {
		var c Chapter
		var created, updated string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.ChapterNo, &c.Text, &created, &updated); err != nil {
			return nil, ierrors.StorageError("scan chapter", err)
		}
		c.CreatedAt = parseTime(created)
		c.UpdatedAt = parseTime(updated)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ---- chapter memories ----

// SaveChapterMemory appends a derived memory record.
func (s *SQLiteStore) SaveChapterMemory(ctx context.Context, m *ChapterMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_memories (id, project_id, chapter_no, kind, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.ChapterNo, m.Kind, m.Text, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return ierrors.StorageError("insert chapter memory", err)
	}
	return nil
}

// ---- chunks ----

// InsertChunks writes chunk rows in one transaction.
func (s *SQLiteStore) InsertChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ierrors.StorageError("begin chunk tx", err)
	}
	defer tx.Rollback()

	if err := insertChunksTx(ctx, tx, chunks); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ierrors.StorageError("commit chunks", err)
	}
	return nil
}

func insertChunksTx(ctx context.Context, tx *sql.Tx, chunks []*Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_chunks
			(id, project_id, type, source_id, chapter_no, characters, locations, pov,
			 text, snippet, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ierrors.StorageError("prepare chunk insert", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		metaJSON, err := json.Marshal(c.Metadata)
		if err != nil {
			return ierrors.StorageError("encode chunk metadata", err)
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.ProjectID, c.Type, c.SourceID, nullableInt(c.ChapterNo),
			c.Characters, c.Locations, c.POV, c.Text, c.Snippet,
			string(metaJSON), c.CreatedAt.Format(time.RFC3339Nano)); err != nil {
			return ierrors.StorageError("insert chunk", err)
		}
	}
	return nil
}

func sourceChunkIDsTx(ctx context.Context, tx *sql.Tx, projectID, typ, sourceID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT id FROM rag_chunks WHERE project_id = ? AND type = ? AND source_id = ?",
		projectID, typ, sourceID)
	if err != nil {
		return nil, ierrors.StorageError("select chunks by source", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ierrors.StorageError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, ierrors.StorageError("iterate chunk ids", err)
	}
	return ids, nil
}

// ReplaceChunksBySource swaps the chunk set for (project_id, type, source_id)
// in one transaction: the old rows are deleted and the new rows inserted, or
// neither happens. An empty sourceID skips the delete. Returns the replaced
// IDs so callers can mirror the swap into the keyword and vector indexes.
func (s *SQLiteStore) ReplaceChunksBySource(ctx context.Context, projectID, typ, sourceID string, chunks []*Chunk) ([]string, error) {
	return s.replaceChunksBySource(ctx, projectID, typ, sourceID, chunks, nil)
}

// replaceChunksBySource runs the primary-table swap and, when extra is
// non-nil, invokes it inside the same transaction so a shared-database
// keyword backend can swap its rows atomically with the primary rows.
func (s *SQLiteStore) replaceChunksBySource(ctx context.Context, projectID, typ, sourceID string, chunks []*Chunk, extra func(tx *sql.Tx, oldIDs []string) error) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ierrors.StorageError("begin chunk replace tx", err)
	}
	defer tx.Rollback()

	var oldIDs []string
	if sourceID != "" {
		oldIDs, err = sourceChunkIDsTx(ctx, tx, projectID, typ, sourceID)
		if err != nil {
			return nil, err
		}
		if len(oldIDs) > 0 {
			placeholders, args := inClause(oldIDs)
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM rag_chunks WHERE id IN ("+placeholders+")", args...); err != nil {
				return nil, ierrors.StorageError("delete chunks by source", err)
			}
		}
	}

	if err := insertChunksTx(ctx, tx, chunks); err != nil {
		return nil, err
	}
	if extra != nil {
		if err := extra(tx, oldIDs); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, ierrors.StorageError("commit chunk replace", err)
	}
	return oldIDs, nil
}

// DeleteChunksBySource removes all chunks for (project_id, type, source_id)
// and returns the deleted IDs so callers can mirror the deletion into the
// keyword and vector indexes.
func (s *SQLiteStore) DeleteChunksBySource(ctx context.Context, projectID, typ, sourceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM rag_chunks WHERE project_id = ? AND type = ? AND source_id = ?",
		projectID, typ, sourceID)
	if err != nil {
		return nil, ierrors.StorageError("select chunks by source", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, ierrors.StorageError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ierrors.StorageError("iterate chunk ids", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, args := inClause(ids)
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM rag_chunks WHERE id IN ("+placeholders+")", args...); err != nil {
		return nil, ierrors.StorageError("delete chunks by source", err)
	}
	return ids, nil
}

// GetChunks hydrates chunks by ID. Missing IDs are silently skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	if len(ids) == 0 {
		return map[string]*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, source_id, chapter_no, characters, locations, pov,
		       text, snippet, metadata_json, created_at
		FROM rag_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, ierrors.StorageError("load chunks", err)
	}
	defer rows.Close()

	out := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// ChunksForSubstringSearch loads candidate rows for the keyword fallback,
// applying the same predicates the full-text query would.
func (s *SQLiteStore) ChunksForSubstringSearch(ctx context.Context, q KeywordQuery) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	where := "project_id = ?"
	args := []any{q.ProjectID}
	if len(q.Types) > 0 {
		placeholders, typeArgs := inClause(q.Types)
		where += " AND type IN (" + placeholders + ")"
		args = append(args, typeArgs...)
	}
	if q.ChapterMax != nil {
		where += " AND (type != 'chapter' OR chapter_no <= ?)"
		args = append(args, *q.ChapterMax)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, source_id, chapter_no, characters, locations, pov,
		       text, snippet, metadata_json, created_at
		FROM rag_chunks WHERE `+where, args...)
	if err != nil {
		return nil, ierrors.StorageError("load fallback candidates", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StatsByType reports chunk counts and last update time per type.
func (s *SQLiteStore) StatsByType(ctx context.Context, projectID string) (map[string]TypeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*), MAX(created_at)
		FROM rag_chunks WHERE project_id = ? GROUP BY type`, projectID)
	if err != nil {
		return nil, ierrors.StorageError("chunk stats", err)
	}
	defer rows.Close()

	out := make(map[string]TypeStats)
	for rows.Next() {
		var typ, last string
		var count int
		if err := rows.Scan(&typ, &count, &last); err != nil {
			return nil, ierrors.StorageError("scan chunk stats", err)
		}
		out[typ] = TypeStats{Chunks: count, LastUpdatedAt: parseTime(last)}
	}
	return out, rows.Err()
}

// ---- embedding cache ----

// GetEmbedding looks up a cached vector by cache key.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(); err != nil {
		return nil, false, err
	}

	var vectorJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT vector_json FROM embeddings_cache WHERE cache_key = ?", key).Scan(&vectorJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ierrors.StorageError("load cached embedding", err)
	}

	var vec []float32
	if err := json.Unmarshal([]byte(vectorJSON), &vec); err != nil {
		return nil, false, ierrors.StorageError("decode cached embedding", err)
	}
	return vec, true, nil
}

// PutEmbedding upserts a cached vector so a racing writer cannot duplicate.
func (s *SQLiteStore) PutEmbedding(ctx context.Context, key, modelName string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return ierrors.StorageError("encode embedding", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embeddings_cache (cache_key, model_name, vector_json, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			model_name = excluded.model_name,
			vector_json = excluded.vector_json,
			created_at = excluded.created_at`,
		key, modelName, string(vectorJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return ierrors.StorageError("store embedding", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != ":memory:" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Warn("wal_checkpoint_failed", "error", err.Error())
		}
	}
	return s.db.Close()
}

// ---- helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var chapterNo sql.NullInt64
	var metaJSON, created string
	if err := row.Scan(&c.ID, &c.ProjectID, &c.Type, &c.SourceID, &chapterNo,
		&c.Characters, &c.Locations, &c.POV, &c.Text, &c.Snippet, &metaJSON, &created); err != nil {
		return nil, ierrors.StorageError("scan chunk", err)
	}
	if chapterNo.Valid {
		n := int(chapterNo.Int64)
		c.ChapterNo = &n
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			c.Metadata = map[string]string{}
		}
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func inClause[T any](vals []T) (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return placeholders, args
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
