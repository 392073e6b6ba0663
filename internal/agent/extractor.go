package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// summaryFallbackChars is how much of the raw completion stands in for the
// summary when the model output is unusable.
const summaryFallbackChars = 600

// Extraction is the writeback payload: three uniformly chunkable strings
// (the lists are serialized JSON).
type Extraction struct {
	Summary           string
	FactsJSON         string
	ForeshadowingJSON string
}

// Extractor distills a written chapter into summary, facts, and
// foreshadowing memory.
type Extractor struct {
	llm llm.Client
}

// NewExtractor creates the writeback extractor.
func NewExtractor(client llm.Client) *Extractor {
	return &Extractor{llm: client}
}

const extractorSystem = "You are an editorial assistant. Without rewriting the prose, produce for " +
	"the chapter: a summary (300-600 words), extracted facts, and extracted " +
	"foreshadowing. Output strict JSON."

// Extract never fails outright on bad model output: the summary falls
// back to the leading raw completion and the lists fall back to empty.
func (a *Extractor) Extract(ctx context.Context, p *store.Project, chapterNo int, chapterText string) (Extraction, []store.Event, error) {
	prompt := fmt.Sprintf(`Project background:
- Genre: %s
- Setting: %s
- Style: %s

Distill chapter %d:
Text:
%s

Output strict JSON:
{
  "chapter_summary": "...(300-600 words)",
  "facts": [
    {"category":"character_state|relationship|location|world_rule|inventory|goal","subject":"...","change":"...","evidence":"..."}
  ],
  "foreshadowing": [
    {"hook":"...","clue":"...","expected_payoff":"...","range":"e.g. chapters 3-5"}
  ]
}
`, p.Genre, p.Setting, p.Style, chapterNo, chapterText)

	raw, err := a.llm.Complete(ctx, extractorSystem, prompt)
	if err != nil {
		return Extraction{}, nil, err
	}

	data, _ := llm.ParseJSONObject(raw)

	summary, _ := data["chapter_summary"].(string)
	if summary == "" {
		summary = preview(raw, summaryFallbackChars)
	}

	out := Extraction{
		Summary:           summary,
		FactsJSON:         listJSON(data["facts"]),
		ForeshadowingJSON: listJSON(data["foreshadowing"]),
	}
	events := []store.Event{{
		Agent:         "WritebackExtractor",
		Action:        "extract",
		Summary:       fmt.Sprintf("chapter %d distilled into summary/facts/foreshadowing", chapterNo),
		OutputPreview: preview(out.Summary, 280),
	}}
	return out, events, nil
}

func listJSON(v any) string {
	list, ok := v.([]any)
	if !ok {
		list = []any{}
	}
	encoded, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}
