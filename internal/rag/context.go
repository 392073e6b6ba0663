package rag

import (
	"fmt"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/store"
)

type contextSection struct {
	title string
	types []string
	max   int
}

// Sections in fixed order. World chunks inform retrieval scoring but are
// not rendered; facts and foreshadowing share one section.
var contextSections = []contextSection{
	{"style_guide (rules/taboos)", []string{store.TypeStyleGuide}, 1},
	{"outline (beats / goal)", []string{store.TypeOutline}, 2},
	{"characters (principal notes)", []string{store.TypeCharacters}, 3},
	{"facts & foreshadowing (hot)", []string{store.TypeFacts, store.TypeForeshadowing}, 6},
	{"relevant chapter summaries", []string{store.TypeChapterSummary}, 3},
	{"relevant chapter raw snippets", []string{store.TypeChapter}, 4},
}

// BuildContext renders selected chunks as the fixed-order labelled
// document handed to the writer. Empty sections are omitted. The user
// instruction, when any, is appended by the caller as its own section.
func BuildContext(selected []ScoredChunk) string {
	grouped := make(map[string][]ScoredChunk)
	for _, c := range selected {
		grouped[c.Chunk.Type] = append(grouped[c.Chunk.Type], c)
	}

	var parts []string
	for _, sec := range contextSections {
		var items []ScoredChunk
		for _, typ := range sec.types {
			items = append(items, grouped[typ]...)
		}
		if len(items) == 0 {
			continue
		}
		if len(items) > sec.max {
			items = items[:sec.max]
		}

		lines := make([]string, len(items))
		for i, c := range items {
			lines[i] = fmt.Sprintf("- (%s#%s score=%.3f) %s",
				c.Chunk.Type, c.Chunk.ID, c.Score, strings.TrimSpace(c.Chunk.Text))
		}
		parts = append(parts, "## "+sec.title+"\n"+strings.Join(lines, "\n\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// AppendInstruction attaches the user instruction to a rendered context as
// its own trailing section.
func AppendInstruction(contextString, instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return contextString
	}
	if contextString == "" {
		return "## user instruction\n" + instruction
	}
	return contextString + "\n\n## user instruction\n" + instruction
}
