package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	inkerrors "github.com/inkwell-ai/inkwell/internal/errors"
	"github.com/inkwell-ai/inkwell/internal/project"
	"github.com/inkwell-ai/inkwell/internal/rag"
)

const eventTailLimit = 50

type createProjectRequest struct {
	Name           string `json:"name"`
	Genre          string `json:"genre"`
	Setting        string `json:"setting"`
	Style          string `json:"style"`
	Keywords       string `json:"keywords"`
	Audience       string `json:"audience"`
	TargetChapters int    `json:"target_chapters"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	p, events, err := s.projects.Create(r.Context(), project.CreateInput{
		Name:           req.Name,
		Genre:          req.Genre,
		Setting:        req.Setting,
		Style:          req.Style,
		Keywords:       req.Keywords,
		Audience:       req.Audience,
		TargetChapters: req.TargetChapters,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, p, events)
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.projects.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, list, nil)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	snap, err := s.projects.Get(r.Context(), chi.URLParam(r, "projectID"), eventTailLimit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, snap, snap.Events)
}

type outlineRequest struct {
	Theme      string `json:"theme"`
	TotalWords int    `json:"total_words"`
}

func (s *Server) generateOutline(w http.ResponseWriter, r *http.Request) {
	var req outlineRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.TotalWords < 1000 || req.TotalWords > 2000000 {
		writeErr(w, inkerrors.ValidationError(
			fmt.Sprintf("total_words must be in [1000, 2000000], got %d", req.TotalWords), nil))
		return
	}

	p, events, err := s.projects.GenerateOutline(r.Context(), chi.URLParam(r, "projectID"), req.Theme, req.TotalWords)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, p, events)
}

type charactersRequest struct {
	Constraints string `json:"constraints"`
}

func (s *Server) generateCharacters(w http.ResponseWriter, r *http.Request) {
	var req charactersRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	p, events, err := s.projects.GenerateCharacters(r.Context(), chi.URLParam(r, "projectID"), req.Constraints)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, p, events)
}

type expandRequest struct {
	Instruction string `json:"instruction"`
	TargetWords int    `json:"target_words"`
}

func (s *Server) expandChapter(w http.ResponseWriter, r *http.Request) {
	chapterNo, err := strconv.Atoi(chi.URLParam(r, "chapterNo"))
	if err != nil || chapterNo < 1 || chapterNo > 200 {
		writeErr(w, inkerrors.New(inkerrors.ErrCodeInvalidChapter,
			"chapter number must be in [1, 200]", nil))
		return
	}

	var req expandRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.TargetWords < 200 || req.TargetWords > 20000 {
		writeErr(w, inkerrors.ValidationError(
			fmt.Sprintf("target_words must be in [200, 20000], got %d", req.TargetWords), nil))
		return
	}

	result, events, err := s.projects.ExpandChapter(r.Context(), chi.URLParam(r, "projectID"),
		chapterNo, req.Instruction, req.TargetWords)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, result, events)
}

func (s *Server) ragStats(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.projects.Project(r.Context(), projectID); err != nil {
		writeErr(w, err)
		return
	}

	stats, err := s.rag.Stats(r.Context(), projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeData(w, http.StatusOK, stats, nil)
}

func (s *Server) ragMetrics(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.rag.Metrics(), nil)
}

type previewResponse struct {
	Query              string                               `json:"query"`
	VectorResults      []project.RetrievedSource            `json:"vector_results"`
	KeywordResults     []project.RetrievedSource            `json:"keyword_results"`
	MergedCandidates   []project.RetrievedSource            `json:"merged_candidates"`
	FinalSelected      []project.RetrievedSource            `json:"final_selected"`
	FinalSelectedByTyp map[string][]project.RetrievedSource `json:"final_selected_grouped"`
	ContextString      string                               `json:"context_string"`
}

func (s *Server) ragPreview(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.projects.Project(r.Context(), projectID); err != nil {
		writeErr(w, err)
		return
	}

	var chapterNo *int
	if v := r.URL.Query().Get("chapter"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, inkerrors.New(inkerrors.ErrCodeInvalidChapter,
				"chapter must be a positive integer", nil))
			return
		}
		chapterNo = &n
	}

	topK := 18
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeErr(w, inkerrors.ValidationError("top_k must be a positive integer", nil))
			return
		}
		topK = n
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		if chapterNo != nil {
			query = fmt.Sprintf("Chapter %d", *chapterNo)
		} else {
			query = "writing consistency retrieval"
		}
	}

	debug, err := s.rag.Preview(r.Context(), projectID, query, chapterNo, topK)
	if err != nil {
		writeErr(w, err)
		return
	}

	// Groups preserve selection order, not per-type score order.
	grouped := make(map[string][]project.RetrievedSource)
	for _, sc := range debug.FinalSelected {
		grouped[sc.Chunk.Type] = append(grouped[sc.Chunk.Type], summarizeChunk(sc))
	}

	writeData(w, http.StatusOK, &previewResponse{
		Query:              debug.Query,
		VectorResults:      summarize(debug.VectorResults),
		KeywordResults:     summarize(debug.KeywordResults),
		MergedCandidates:   summarize(debug.MergedCandidates),
		FinalSelected:      summarize(debug.FinalSelected),
		FinalSelectedByTyp: grouped,
		ContextString:      rag.AppendInstruction(debug.ContextString, query),
	}, nil)
}

func summarize(chunks []rag.ScoredChunk) []project.RetrievedSource {
	out := make([]project.RetrievedSource, 0, len(chunks))
	for _, sc := range chunks {
		out = append(out, summarizeChunk(sc))
	}
	return out
}

func summarizeChunk(sc rag.ScoredChunk) project.RetrievedSource {
	return project.RetrievedSource{
		ID:        sc.Chunk.ID,
		Type:      sc.Chunk.Type,
		Score:     sc.Score,
		Channel:   sc.Channel,
		ChapterNo: sc.Chunk.ChapterNo,
		SourceID:  sc.Chunk.SourceID,
		Snippet:   sc.Chunk.Snippet,
	}
}
