package agent

import (
	"context"
	"fmt"

	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// OutlineAgent turns project metadata and a theme into a chapter outline.
type OutlineAgent struct {
	llm llm.Client
}

// NewOutlineAgent creates the outline agent.
func NewOutlineAgent(client llm.Client) *OutlineAgent {
	return &OutlineAgent{llm: client}
}

const outlineSystem = "You are a fiction development editor. You break a premise into a " +
	"clear volume/chapter outline where chapters drive each other causally, " +
	"planting and paying off foreshadowing. Output readable outline text."

// Run generates the outline text.
func (a *OutlineAgent) Run(ctx context.Context, p *store.Project, theme string, totalWords int) (string, []store.Event, error) {
	prompt := fmt.Sprintf(`Generate a novel outline (volume/chapter structure, at least %d chapters, 3-6 sentence synopsis per chapter) from:

- Genre: %s
- World/setting: %s
- Style: %s
- Keywords: %s
- Audience: %s
- Theme: %s
- Target total words: %d
`, p.TargetChapters, p.Genre, p.Setting, p.Style, p.Keywords, p.Audience, theme, totalWords)

	outline, err := a.llm.Complete(ctx, outlineSystem, prompt)
	if err != nil {
		return "", nil, err
	}

	events := []store.Event{event("OutlineAgent", "generate_outline",
		fmt.Sprintf("outline generated (target chapters=%d)", p.TargetChapters), outline)}
	return outline, events, nil
}
