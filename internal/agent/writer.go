package agent

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// WriterAgent expands one chapter from the assembled retrieval context.
type WriterAgent struct {
	llm llm.Client
}

// NewWriterAgent creates the writer agent.
func NewWriterAgent(client llm.Client) *WriterAgent {
	return &WriterAgent{llm: client}
}

const writerSystem = "You are the novelist. You follow the outline and character sheet strictly, " +
	"keep voice and motivation consistent, and mind planted foreshadowing. " +
	"Output prose only, no analysis."

// Run writes the chapter text.
func (a *WriterAgent) Run(ctx context.Context, chapterNo int, contextText string, targetWords int, style string) (string, []store.Event, error) {
	prompt := fmt.Sprintf(`Write chapter %d, around %d words.

- Writing style: %s

Use the following context strictly (rules / outline / characters / facts / foreshadowing / related excerpts / user instruction):
%s

Requirements:
1) Optional chapter title, then the prose.
2) Character behavior and motivation must match the character sheet.
3) Do not invent hard setting rules or key items without cause.
4) Echo earlier chapters and plant hooks for later ones.
`, chapterNo, targetWords, style, contextText)

	text, err := a.llm.Complete(ctx, writerSystem, prompt)
	if err != nil {
		return "", nil, err
	}

	events := []store.Event{event("WriterAgent", "expand_chapter",
		fmt.Sprintf("chapter %d drafted", chapterNo), text)}
	return text, events, nil
}
