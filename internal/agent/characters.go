package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// CharacterAgent produces a character sheet: strict JSON for storage plus
// a readable summary.
type CharacterAgent struct {
	llm llm.Client
}

// NewCharacterAgent creates the character agent.
func NewCharacterAgent(client llm.Client) *CharacterAgent {
	return &CharacterAgent{llm: client}
}

const charactersSystem = "You are a fiction character designer and consistency reviewer. " +
	"Output two parts: 1) a character sheet as strict JSON; 2) a readable text summary."

// Run generates characters from the outline. Returns the JSON artifact
// (best-effort extracted, wrapped as {"raw": ...} when unparseable) and
// the full raw text.
func (a *CharacterAgent) Run(ctx context.Context, p *store.Project, outline, constraints string) (charactersJSON, charactersText string, events []store.Event, err error) {
	prompt := fmt.Sprintf(`Design the characters for this story, including a relationship web and per-character arcs. Finish with a consistency check (potential contradictions and fixes).

- Genre: %s
- World/setting: %s
- Style: %s
- Keywords: %s
- Audience: %s
- Outline: %s
- Extra constraints: %s

Output strict JSON first, with fields like:
{
  "characters": [{"name": "...", "role": "...", "motivation": "...", "arc": "...", "traits": ["..."], "relationships": [{"with": "...", "type": "...", "note": "..."}]}],
  "consistency_checks": [{"risk": "...", "suggestion": "..."}],
  "world_rules": ["..."]
}
Then a readable summary paragraph.
`, p.Genre, p.Setting, p.Style, p.Keywords, p.Audience, outline, constraints)

	raw, err := a.llm.Complete(ctx, charactersSystem, prompt)
	if err != nil {
		return "", "", nil, err
	}

	charactersJSON = rawWrapper(raw)
	if obj, ok := llm.ParseJSONObject(raw); ok {
		if encoded, err := json.Marshal(obj); err == nil {
			charactersJSON = string(encoded)
		}
	}

	events = []store.Event{event("CharacterAgent", "generate_characters",
		"character sheet and consistency check generated", raw)}
	return charactersJSON, raw, events, nil
}

func rawWrapper(raw string) string {
	encoded, err := json.Marshal(map[string]string{"raw": raw})
	if err != nil {
		return `{"raw":""}`
	}
	return string(encoded)
}
