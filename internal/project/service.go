// Package project orchestrates the narrative pipeline over the store, the
// retrieval service, and the agents: project creation with seeded memory,
// outline and character generation, and the retrieve-write-extract-review
// chapter expansion loop.
package project

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/agent"
	inkerrors "github.com/inkwell-ai/inkwell/internal/errors"
	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/rag"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// contextUsedLimit caps the context echoed back in expansion results.
const contextUsedLimit = 4000

// Service wires the agents to the store and retrieval engine.
type Service struct {
	store     *store.SQLiteStore
	rag       *rag.Service
	outline   *agent.OutlineAgent
	chars     *agent.CharacterAgent
	writer    *agent.WriterAgent
	extractor *agent.Extractor
	critic    *agent.Critic

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New assembles the orchestrator. criticLLM selects the model-backed critic;
// autoRevise lets the critic's rewrite replace the chapter.
func New(st *store.SQLiteStore, ragSvc *rag.Service, client llm.Client, criticLLM, autoRevise bool) *Service {
	return &Service{
		store:     st,
		rag:       ragSvc,
		outline:   agent.NewOutlineAgent(client),
		chars:     agent.NewCharacterAgent(client),
		writer:    agent.NewWriterAgent(client),
		extractor: agent.NewExtractor(client),
		critic:    agent.NewCritic(client, criticLLM, autoRevise),
		locks:     make(map[string]*sync.Mutex),
	}
}

// chapterLock serializes expansion per (project, chapter).
func (s *Service) chapterLock(projectID string, chapterNo int) *sync.Mutex {
	key := fmt.Sprintf("%s#%d", projectID, chapterNo)
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// CreateInput is the project creation request.
type CreateInput struct {
	Name           string
	Genre          string
	Setting        string
	Style          string
	Keywords       string
	Audience       string
	TargetChapters int
}

// Create stores the project and seeds style_guide and world memory so the
// very first retrieval has rules to stand on.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Project, []store.Event, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, nil, inkerrors.ValidationError("project name must not be empty", nil)
	}
	if in.TargetChapters <= 0 {
		in.TargetChapters = 12
	}

	p := &store.Project{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(in.Name),
		Genre:          in.Genre,
		Setting:        in.Setting,
		Style:          in.Style,
		Keywords:       in.Keywords,
		Audience:       in.Audience,
		TargetChapters: in.TargetChapters,
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, nil, err
	}

	var events []store.Event
	events = append(events, s.drainFallbacks()...)

	styleText := fmt.Sprintf(`Writing rules (style_guide):
- Overall style: %s
- Narrative requirements: keep characters consistent, keep the timeline moving forward, make planted foreshadowing recoverable.
- Taboos: sudden new hard setting rules, unmotivated character reversals
`, p.Style)
	ev, err := s.indexDocument(ctx, p.ID, store.TypeStyleGuide, "style_guide", styleText, nil, "")
	if err != nil {
		return nil, nil, err
	}
	events = append(events, ev...)

	if strings.TrimSpace(p.Setting) != "" {
		ev, err := s.indexDocument(ctx, p.ID, store.TypeWorld, "world", p.Setting, nil, "")
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev...)
	}

	if err := s.store.AppendEvents(ctx, p.ID, events); err != nil {
		return nil, nil, err
	}
	return p, events, nil
}

// indexDocument records a source document and indexes its text, returning
// the index event plus any fallback notes raised along the way.
func (s *Service) indexDocument(ctx context.Context, projectID, typ, title, text string, chapterNo *int, characters string) ([]store.Event, error) {
	doc := &store.SourceDocument{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      typ,
		ChapterNo: chapterNo,
		Title:     title,
		Text:      text,
	}
	if err := s.store.SaveSourceDocument(ctx, doc); err != nil {
		return nil, err
	}
	if _, err := s.rag.Index(ctx, rag.IndexRequest{
		ProjectID:  projectID,
		Type:       typ,
		Text:       text,
		SourceID:   doc.ID,
		ChapterNo:  chapterNo,
		Characters: characters,
	}); err != nil {
		return nil, err
	}

	events := []store.Event{{
		Agent:         "RAG",
		Action:        "index",
		Summary:       fmt.Sprintf("%s indexed", typ),
		OutputPreview: truncateRunes(text, 240),
	}}
	events = append(events, s.drainFallbacks()...)
	return events, nil
}

func (s *Service) drainFallbacks() []store.Event {
	notes := s.rag.DrainNotes()
	events := make([]store.Event, 0, len(notes))
	for _, note := range notes {
		events = append(events, store.Event{Agent: "RAG", Action: "fallback", Summary: note})
	}
	return events
}

// GenerateOutline runs the outline agent and indexes the result.
func (s *Service) GenerateOutline(ctx context.Context, projectID, theme string, totalWords int) (*store.Project, []store.Event, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	outline, events, err := s.outline.Run(ctx, p, theme, totalWords)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.UpdateOutline(ctx, p.ID, outline); err != nil {
		return nil, nil, err
	}
	p.OutlineText = outline

	ev, err := s.indexDocument(ctx, p.ID, store.TypeOutline, "outline", outline, nil, "")
	if err != nil {
		return nil, nil, err
	}
	events = append(events, ev...)

	if err := s.store.AppendEvents(ctx, p.ID, events); err != nil {
		return nil, nil, err
	}
	return p, events, nil
}

// GenerateCharacters runs the character agent. Requires an outline.
func (s *Service) GenerateCharacters(ctx context.Context, projectID, constraints string) (*store.Project, []store.Event, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(p.OutlineText) == "" {
		return nil, nil, inkerrors.PreconditionError(inkerrors.ErrCodeOutlineRequired,
			"generate the outline before the characters")
	}

	charactersJSON, charactersText, events, err := s.chars.Run(ctx, p, p.OutlineText, constraints)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.UpdateCharacters(ctx, p.ID, charactersJSON, charactersText); err != nil {
		return nil, nil, err
	}
	p.CharactersJSON = charactersJSON
	p.CharactersText = charactersText

	combined := fmt.Sprintf("Character sheet JSON:\n%s\n\nCharacter summary:\n%s", charactersJSON, charactersText)
	ev, err := s.indexDocument(ctx, p.ID, store.TypeCharacters, "characters", combined, nil,
		strings.Join(p.CharacterNames(), ","))
	if err != nil {
		return nil, nil, err
	}
	events = append(events, ev...)

	if err := s.store.AppendEvents(ctx, p.ID, events); err != nil {
		return nil, nil, err
	}
	return p, events, nil
}

// RetrievedSource summarises one retrieved chunk in an expansion result.
type RetrievedSource struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Score     float64 `json:"score"`
	Channel   string  `json:"channel"`
	ChapterNo *int    `json:"chapter_no"`
	SourceID  string  `json:"source_id"`
	Snippet   string  `json:"snippet"`
}

// ExpandResult is the chapter expansion payload.
type ExpandResult struct {
	ChapterNumber int               `json:"chapter_number"`
	Text          string            `json:"text"`
	ContextUsed   string            `json:"context_used"`
	Sources       []RetrievedSource `json:"retrieved_context_sources"`
	CriticIssues  []agent.Issue     `json:"critic_issues"`
	Revised       bool              `json:"revised"`
}

// ExpandChapter runs retrieve, write, writeback extraction, and the
// consistency review for one chapter. Serialized per (project, chapter).
func (s *Service) ExpandChapter(ctx context.Context, projectID string, chapterNo int, instruction string, targetWords int) (*ExpandResult, []store.Event, error) {
	lock := s.chapterLock(projectID, chapterNo)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(p.OutlineText) == "" {
		return nil, nil, inkerrors.PreconditionError(inkerrors.ErrCodeOutlineRequired,
			"generate the outline before expanding chapters")
	}
	if strings.TrimSpace(p.CharactersJSON) == "" {
		return nil, nil, inkerrors.PreconditionError(inkerrors.ErrCodeEmptyProject,
			"generate the characters before expanding chapters")
	}
	names := strings.Join(p.CharacterNames(), ",")

	// Retrieve first, then write.
	query := strings.TrimSpace(fmt.Sprintf("Chapter %d expansion: %s", chapterNo, instruction))
	retrieved, err := s.rag.Retrieve(ctx, p.ID, query, rag.Filters{
		Types:     rag.AllTypes,
		ChapterNo: &chapterNo,
	}, 18)
	if err != nil {
		return nil, nil, err
	}
	fallbacks := s.drainFallbacks()

	contextStr := rag.BuildContext(retrieved)
	contextWithInstruction := rag.AppendInstruction(contextStr, instruction)
	writerContext := "[Strictly follow the retrieved context below]\n\n" + contextWithInstruction

	text, writerEvents, err := s.writer.Run(ctx, chapterNo, writerContext, targetWords, p.Style)
	if err != nil {
		return nil, nil, err
	}

	chapter, err := s.store.UpsertChapter(ctx, p.ID, chapterNo, text)
	if err != nil {
		return nil, nil, err
	}
	if err := s.indexChapter(ctx, p.ID, chapter, names); err != nil {
		return nil, nil, err
	}

	events := append([]store.Event{}, writerEvents...)
	events = append(events, fallbacks...)
	events = append(events, store.Event{
		Agent:         "RAG",
		Action:        "retrieve",
		Summary:       fmt.Sprintf("retrieved %d context chunks before expansion", len(retrieved)),
		OutputPreview: truncateRunes(contextStr, 400),
	})
	events = append(events, store.Event{
		Agent:         "RAG",
		Action:        "index",
		Summary:       fmt.Sprintf("chapter #%d indexed", chapterNo),
		OutputPreview: truncateRunes(chapter.Text, 240),
	})

	// Writeback extraction feeds the next chapter's retrieval. A failure
	// here degrades memory, it does not lose the chapter.
	memEvents, err := s.writeback(ctx, p, chapter, names)
	if err != nil {
		events = append(events, store.Event{
			Agent:   "WritebackExtractor",
			Action:  "fallback",
			Summary: fmt.Sprintf("chapter %d extraction failed, memories skipped: %v", chapterNo, err),
		})
	} else {
		events = append(events, memEvents...)
	}
	events = append(events, s.drainFallbacks()...)

	// Review against the key constraint types from the same retrieval.
	var constraints []agent.Constraint
	for _, sc := range retrieved {
		switch sc.Chunk.Type {
		case store.TypeCharacters, store.TypeWorld, store.TypeFacts, store.TypeOutline:
			constraints = append(constraints, agent.Constraint{Type: sc.Chunk.Type, Text: sc.Chunk.Text})
		}
	}
	review, criticEvents, err := s.critic.Review(ctx, p, chapterNo, chapter.Text, constraints, contextWithInstruction)
	if err != nil {
		return nil, nil, err
	}
	events = append(events, criticEvents...)

	revised := false
	finalText := chapter.Text
	if review.RevisedText != "" {
		revised = true
		finalText = review.RevisedText
		chapter, err = s.store.UpsertChapter(ctx, p.ID, chapterNo, finalText)
		if err != nil {
			return nil, nil, err
		}
		if err := s.indexChapter(ctx, p.ID, chapter, names); err != nil {
			return nil, nil, err
		}
		events = append(events, store.Event{
			Agent:         "ConsistencyCriticAgent",
			Action:        "auto_revise",
			Summary:       fmt.Sprintf("chapter %d replaced by critic revision", chapterNo),
			OutputPreview: truncateRunes(finalText, 240),
		})
		events = append(events, s.drainFallbacks()...)
	}

	if err := s.store.AppendEvents(ctx, p.ID, events); err != nil {
		return nil, nil, err
	}

	sources := make([]RetrievedSource, 0, len(retrieved))
	for _, sc := range retrieved {
		sources = append(sources, RetrievedSource{
			ID:        sc.Chunk.ID,
			Type:      sc.Chunk.Type,
			Score:     sc.Score,
			Channel:   sc.Channel,
			ChapterNo: sc.Chunk.ChapterNo,
			SourceID:  sc.Chunk.SourceID,
			Snippet:   sc.Chunk.Snippet,
		})
	}

	contextUsed := contextWithInstruction
	if len([]rune(contextUsed)) > contextUsedLimit {
		contextUsed = truncateRunes(contextUsed, contextUsedLimit) + "…"
	}

	result := &ExpandResult{
		ChapterNumber: chapterNo,
		Text:          finalText,
		ContextUsed:   contextUsed,
		Sources:       sources,
		CriticIssues:  review.Issues,
		Revised:       revised,
	}
	return result, events, nil
}

func (s *Service) indexChapter(ctx context.Context, projectID string, chapter *store.Chapter, names string) error {
	_, err := s.rag.Index(ctx, rag.IndexRequest{
		ProjectID:  projectID,
		Type:       store.TypeChapter,
		Text:       chapter.Text,
		SourceID:   chapter.ID,
		ChapterNo:  &chapter.ChapterNo,
		Characters: names,
	})
	return err
}

// writeback extracts and indexes the three chapter memories.
func (s *Service) writeback(ctx context.Context, p *store.Project, chapter *store.Chapter, names string) ([]store.Event, error) {
	extracted, events, err := s.extractor.Extract(ctx, p, chapter.ChapterNo, chapter.Text)
	if err != nil {
		return nil, err
	}

	memories := []struct {
		kind string
		text string
	}{
		{store.TypeChapterSummary, extracted.Summary},
		{store.TypeFacts, extracted.FactsJSON},
		{store.TypeForeshadowing, extracted.ForeshadowingJSON},
	}
	for _, m := range memories {
		mem := &store.ChapterMemory{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			ChapterNo: chapter.ChapterNo,
			Kind:      m.kind,
			Text:      m.text,
		}
		if err := s.store.SaveChapterMemory(ctx, mem); err != nil {
			return nil, err
		}
		if _, err := s.rag.Index(ctx, rag.IndexRequest{
			ProjectID:  p.ID,
			Type:       m.kind,
			Text:       m.text,
			SourceID:   mem.ID,
			ChapterNo:  &chapter.ChapterNo,
			Characters: names,
		}); err != nil {
			return nil, err
		}
		events = append(events, store.Event{
			Agent:         "RAG",
			Action:        "index",
			Summary:       fmt.Sprintf("%s indexed (chapter %d)", m.kind, chapter.ChapterNo),
			OutputPreview: truncateRunes(m.text, 240),
		})
	}
	return events, nil
}

// Snapshot is the full project view: metadata, chapters, and the event tail.
type Snapshot struct {
	Project  *store.Project   `json:"project"`
	Chapters []*store.Chapter `json:"chapters"`
	Events   []store.Event    `json:"agent_events"`
}

// Get returns the project snapshot with the most recent eventLimit events.
func (s *Service) Get(ctx context.Context, projectID string, eventLimit int) (*Snapshot, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, projectID, eventLimit)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Project: p, Chapters: chapters, Events: events}, nil
}

// Project returns the bare project row.
func (s *Service) Project(ctx context.Context, projectID string) (*store.Project, error) {
	return s.store.GetProject(ctx, projectID)
}

// List returns all projects.
func (s *Service) List(ctx context.Context) ([]*store.Project, error) {
	return s.store.ListProjects(ctx)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
