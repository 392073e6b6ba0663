package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/store"
)

// scriptedClient returns a fixed completion and records the last prompt.
type scriptedClient struct {
	reply      string
	err        error
	lastSystem string
	lastPrompt string
}

func (c *scriptedClient) Complete(_ context.Context, system, prompt string) (string, error) {
	c.lastSystem = system
	c.lastPrompt = prompt
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *scriptedClient) ModelName() string { return "scripted" }

func testProject() *store.Project {
	return &store.Project{
		ID:             "p1",
		Name:           "The Lighthouse",
		Genre:          "mystery",
		Setting:        "a fog-bound island town",
		Style:          "spare, close third person",
		Keywords:       "lighthouse, smuggling",
		Audience:       "adult",
		TargetChapters: 12,
	}
}

func TestOutlineAgentRun(t *testing.T) {
	client := &scriptedClient{reply: "Volume 1\nChapter 1: the keeper vanishes."}
	outline, events, err := NewOutlineAgent(client).Run(context.Background(), testProject(), "a keeper who never existed", 120000)
	require.NoError(t, err)

	assert.Equal(t, client.reply, outline)
	assert.Contains(t, client.lastPrompt, "at least 12 chapters")
	assert.Contains(t, client.lastPrompt, "a keeper who never existed")
	assert.Contains(t, client.lastPrompt, "120000")

	require.Len(t, events, 1)
	assert.Equal(t, "OutlineAgent", events[0].Agent)
	assert.Equal(t, "generate_outline", events[0].Action)
	assert.Contains(t, events[0].OutputPreview, "Volume 1")
}

func TestOutlineAgentPropagatesError(t *testing.T) {
	client := &scriptedClient{err: errors.New("backend down")}
	_, _, err := NewOutlineAgent(client).Run(context.Background(), testProject(), "theme", 1000)
	require.Error(t, err)
}

func TestCharacterAgentExtractsJSON(t *testing.T) {
	client := &scriptedClient{reply: `Here is the sheet:
{"characters":[{"name":"Mara","role":"keeper's daughter"}],"world_rules":["the light never goes out"]}
Mara anchors the story.`}
	charactersJSON, charactersText, events, err := NewCharacterAgent(client).Run(context.Background(), testProject(), "outline text", "")
	require.NoError(t, err)

	assert.Contains(t, charactersJSON, `"Mara"`)
	assert.NotContains(t, charactersJSON, `"raw"`)
	assert.Equal(t, client.reply, charactersText)
	require.Len(t, events, 1)
	assert.Equal(t, "CharacterAgent", events[0].Agent)
}

func TestCharacterAgentWrapsUnparseableOutput(t *testing.T) {
	client := &scriptedClient{reply: "no json here at all"}
	charactersJSON, _, _, err := NewCharacterAgent(client).Run(context.Background(), testProject(), "outline", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":"no json here at all"}`, charactersJSON)
}

func TestWriterAgentRun(t *testing.T) {
	client := &scriptedClient{reply: "Chapter 3\n\nThe fog came in before the tide."}
	text, events, err := NewWriterAgent(client).Run(context.Background(), 3, "## style_guide\n- keep it spare", 2000, "spare")
	require.NoError(t, err)

	assert.Equal(t, client.reply, text)
	assert.Contains(t, client.lastPrompt, "chapter 3")
	assert.Contains(t, client.lastPrompt, "## style_guide")
	require.Len(t, events, 1)
	assert.Equal(t, "expand_chapter", events[0].Action)
}

func TestExtractorParsesStrictJSON(t *testing.T) {
	client := &scriptedClient{reply: `{"chapter_summary":"Mara finds the logbook.","facts":[{"category":"inventory","subject":"Mara","change":"holds the logbook","evidence":"she took it"}],"foreshadowing":[{"hook":"torn page","clue":"ink smear","expected_payoff":"reveals the smuggler","range":"chapters 5-7"}]}`}
	out, events, err := NewExtractor(client).Extract(context.Background(), testProject(), 3, "chapter text")
	require.NoError(t, err)

	assert.Equal(t, "Mara finds the logbook.", out.Summary)
	assert.Contains(t, out.FactsJSON, "logbook")
	assert.Contains(t, out.ForeshadowingJSON, "torn page")
	require.Len(t, events, 1)
	assert.Equal(t, "WritebackExtractor", events[0].Agent)
	assert.Equal(t, "extract", events[0].Action)
}

func TestExtractorFallbacks(t *testing.T) {
	raw := "The keeper's ledger went missing. " + strings.Repeat("fog rolled in. ", 50)
	client := &scriptedClient{reply: raw}
	out, _, err := NewExtractor(client).Extract(context.Background(), testProject(), 1, "chapter text")
	require.NoError(t, err)

	assert.Equal(t, string([]rune(raw)[:600]), out.Summary,
		"fallback summary comes from the completion, not the chapter text")
	assert.Equal(t, "[]", out.FactsJSON)
	assert.Equal(t, "[]", out.ForeshadowingJSON)
}

func TestCriticRuleModeCharacterPresence(t *testing.T) {
	p := testProject()
	p.CharactersJSON = `{"characters":[{"name":"Mara"},{"name":"Holt"}]}`
	critic := NewCritic(&scriptedClient{}, false, false)

	rv, events, err := critic.Review(context.Background(), p, 2, "Nobody familiar walks the pier tonight.", nil, "")
	require.NoError(t, err)
	require.Len(t, rv.Issues, 1)
	assert.Equal(t, "character", rv.Issues[0].Type)
	assert.Equal(t, "medium", rv.Issues[0].Severity)
	assert.Equal(t, "Nobody familiar walks the pier tonight.", rv.Issues[0].Evidence)
	require.Len(t, events, 1)
	assert.Equal(t, "ConsistencyCriticAgent", events[0].Agent)

	rv, _, err = critic.Review(context.Background(), p, 2, "Mara walks the pier.", nil, "")
	require.NoError(t, err)
	assert.Empty(t, rv.Issues)
}

func TestCriticRuleModeTabooWords(t *testing.T) {
	p := testProject()
	p.CharactersJSON = `{"characters":[{"name":"Mara"}]}`
	contextUsed := "## style_guide\n- Taboo: zombies, dragons\n"
	critic := NewCritic(&scriptedClient{}, false, false)

	rv, _, err := critic.Review(context.Background(), p, 1, "Mara swore the dragons were only fog.", nil, contextUsed)
	require.NoError(t, err)
	require.Len(t, rv.Issues, 1)
	assert.Equal(t, "style", rv.Issues[0].Type)
	assert.Equal(t, "dragons", rv.Issues[0].Evidence)
}

func TestCriticRuleModeTimelineHint(t *testing.T) {
	p := testProject()
	critic := NewCritic(&scriptedClient{}, false, false)

	rv, _, err := critic.Review(context.Background(), p, 4, "She would return to the pier, as she had yesterday.", nil, "")
	require.NoError(t, err)
	require.Len(t, rv.Issues, 1)
	assert.Equal(t, "timeline", rv.Issues[0].Type)
	assert.Equal(t, "low", rv.Issues[0].Severity)
}

func TestCriticLLMModeParsesVerdict(t *testing.T) {
	client := &scriptedClient{reply: `{"issues":[{"issue_type":"world","severity":"high","conflict":"the light went out","evidence_snippet":"dark tower"}],"suggested_edits":[{"edit":"keep the light lit","reason":"hard rule"}],"revised_text":"fixed draft"}`}
	critic := NewCritic(client, true, true)

	rv, _, err := critic.Review(context.Background(), testProject(), 5, "draft", []Constraint{{Type: "world", Text: "the light never goes out"}}, "")
	require.NoError(t, err)
	require.Len(t, rv.Issues, 1)
	assert.Equal(t, "world", rv.Issues[0].Type)
	require.Len(t, rv.SuggestedEdits, 1)
	assert.Equal(t, "fixed draft", rv.RevisedText)
	assert.Contains(t, client.lastPrompt, "[world] the light never goes out")
	assert.Contains(t, client.lastPrompt, `"revised_text"`)
}

func TestCriticLLMModeIgnoresRevisedTextWhenNotRequested(t *testing.T) {
	client := &scriptedClient{reply: `{"issues":[],"suggested_edits":[],"revised_text":"unsolicited rewrite"}`}
	critic := NewCritic(client, true, false)

	rv, _, err := critic.Review(context.Background(), testProject(), 5, "draft", nil, "")
	require.NoError(t, err)
	assert.Empty(t, rv.RevisedText)
	assert.NotContains(t, client.lastPrompt, `"revised_text"`)
}

func TestTabooWordsParsing(t *testing.T) {
	got := tabooWords("- Forbidden words： ghosts，pirates\nnormal line\n- taboo: x, spaceships")
	assert.Equal(t, []string{"ghosts", "pirates", "spaceships"}, got)

	assert.Empty(t, tabooWords("taboo with no colon"))
}
