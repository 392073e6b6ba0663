package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/llm"
	"github.com/inkwell-ai/inkwell/internal/store"
)

// Issue is one consistency finding against the draft.
type Issue struct {
	Type     string `json:"issue_type"`
	Severity string `json:"severity"`
	Conflict string `json:"conflict"`
	Evidence string `json:"evidence_snippet"`
}

// Edit is a suggested change that the critic does not apply itself.
type Edit struct {
	Edit   string `json:"edit"`
	Reason string `json:"reason"`
}

// Review is the critic verdict. RevisedText is empty unless auto-revise
// is on and the model proposed a rewrite.
type Review struct {
	Issues         []Issue `json:"issues"`
	SuggestedEdits []Edit  `json:"suggested_edits"`
	RevisedText    string  `json:"revised_text,omitempty"`
}

// Critic reviews a chapter draft against retrieved constraints. In rule
// mode it runs deterministic checks with no model call; in llm mode it
// asks for a strict-JSON verdict.
type Critic struct {
	llm        llm.Client
	useLLM     bool
	autoRevise bool
}

// NewCritic creates the consistency critic. useLLM selects the model-backed
// review; otherwise the rule checks run.
func NewCritic(client llm.Client, useLLM, autoRevise bool) *Critic {
	return &Critic{llm: client, useLLM: useLLM, autoRevise: autoRevise}
}

const criticSystem = "You are a consistency critic for serialized fiction. You output strict JSON " +
	"only, no extra commentary. You review without rewriting unless a revised_text " +
	"field is requested."

// Review runs the configured review mode over the draft.
func (a *Critic) Review(ctx context.Context, p *store.Project, chapterNo int, draftText string, constraints []Constraint, contextUsed string) (Review, []store.Event, error) {
	var (
		rv  Review
		err error
	)
	if a.useLLM {
		rv, err = a.llmReview(ctx, chapterNo, draftText, constraints)
		if err != nil {
			return Review{}, nil, err
		}
	} else {
		rv = a.ruleReview(p, draftText, contextUsed)
	}

	events := []store.Event{event("ConsistencyCriticAgent", "review_chapter",
		fmt.Sprintf("chapter %d reviewed: %d issue(s)", chapterNo, len(rv.Issues)),
		issueDigest(rv.Issues))}
	return rv, events, nil
}

func (a *Critic) llmReview(ctx context.Context, chapterNo int, draftText string, constraints []Constraint) (Review, error) {
	if len(constraints) > 10 {
		constraints = constraints[:10]
	}
	lines := make([]string, 0, len(constraints))
	for _, c := range constraints {
		lines = append(lines, fmt.Sprintf("[%s] %s", c.Type, c.Text))
	}

	revisedField := ""
	if a.autoRevise {
		revisedField = `,
  "revised_text": "..."`
	}
	prompt := fmt.Sprintf(`Review the chapter %d draft against the key constraints below. Check:
1) Character motivation, personality, and relationships stay self-consistent.
2) Hard world rules are not broken or introduced without cause.
3) The timeline does not regress or conflict.
4) Foreshadowing does not contradict planted hooks or miss a payoff window.

Key constraints (retrieved):
%s

Draft:
%s

Output strict JSON:
{
  "issues": [{"issue_type":"character|world|timeline|foreshadowing|style","severity":"low|medium|high","conflict":"...","evidence_snippet":"..."}],
  "suggested_edits": [{"edit":"...","reason":"..."}]%s
}
`, chapterNo, strings.Join(lines, "\n\n"), draftText, revisedField)

	raw, err := a.llm.Complete(ctx, criticSystem, prompt)
	if err != nil {
		return Review{}, err
	}

	var rv Review
	data, _ := llm.ParseJSONObject(raw)
	if list, ok := data["issues"].([]any); ok {
		for _, it := range list {
			if m, ok := it.(map[string]any); ok {
				rv.Issues = append(rv.Issues, Issue{
					Type:     asString(m["issue_type"]),
					Severity: asString(m["severity"]),
					Conflict: asString(m["conflict"]),
					Evidence: asString(m["evidence_snippet"]),
				})
			}
		}
	}
	if list, ok := data["suggested_edits"].([]any); ok {
		for _, it := range list {
			if m, ok := it.(map[string]any); ok {
				rv.SuggestedEdits = append(rv.SuggestedEdits, Edit{
					Edit:   asString(m["edit"]),
					Reason: asString(m["reason"]),
				})
			}
		}
	}
	if a.autoRevise {
		rv.RevisedText = asString(data["revised_text"])
	}
	return rv, nil
}

// tabooSplit separates banned words listed after a taboo marker.
var tabooSplit = regexp.MustCompile(`[,，、\s]+`)

func (a *Critic) ruleReview(p *store.Project, draftText, contextUsed string) Review {
	rv := Review{}

	if names := p.CharacterNames(); len(names) > 0 {
		present := false
		for _, n := range names {
			if strings.Contains(draftText, n) {
				present = true
				break
			}
		}
		if !present {
			rv.Issues = append(rv.Issues, Issue{
				Type:     "character",
				Severity: "medium",
				Conflict: "no known principal character name appears in this chapter; the cast may have drifted or an unestablished character was introduced",
				Evidence: preview(draftText, 160),
			})
		}
	}

	// A context line marked as taboo declares banned words after the colon.
	for _, w := range tabooWords(contextUsed) {
		if strings.Contains(draftText, w) {
			rv.Issues = append(rv.Issues, Issue{
				Type:     "style",
				Severity: "low",
				Conflict: fmt.Sprintf("draft hits a taboo word: %s", w),
				Evidence: w,
			})
		}
	}

	if strings.Contains(draftText, "return to") && strings.Contains(draftText, "yesterday") {
		rv.Issues = append(rv.Issues, Issue{
			Type:     "timeline",
			Severity: "low",
			Conflict: `possible timeline regression ("return to" plus "yesterday"); confirm it is a flashback and make that explicit in the text`,
			Evidence: "return to ... yesterday ...",
		})
	}

	return rv
}

func tabooWords(contextUsed string) []string {
	var banned []string
	for _, line := range strings.Split(contextUsed, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "taboo") && !strings.Contains(lower, "forbidden") {
			continue
		}
		tail := ""
		if i := strings.Index(line, "："); i >= 0 {
			tail = line[i+len("："):]
		} else if i := strings.Index(line, ":"); i >= 0 {
			tail = line[i+1:]
		} else {
			continue
		}
		for _, w := range tabooSplit.Split(tail, -1) {
			w = strings.TrimSpace(w)
			if len([]rune(w)) >= 2 {
				banned = append(banned, w)
			}
		}
	}
	if len(banned) > 20 {
		banned = banned[:20]
	}
	return banned
}

func issueDigest(issues []Issue) string {
	if len(issues) == 0 {
		return "no issues"
	}
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, fmt.Sprintf("[%s/%s] %s", is.Type, is.Severity, is.Conflict))
	}
	return strings.Join(parts, "; ")
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
