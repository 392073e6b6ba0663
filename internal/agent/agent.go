// Package agent holds the LLM-backed narrative agents: outline planning,
// character design, chapter writing, post-write extraction, and the
// consistency critic. Every agent works against the completion port so
// the whole pipeline runs offline on the mock client.
package agent

import (
	"github.com/inkwell-ai/inkwell/internal/store"
)

// previewLimit bounds the output_preview stored in the event log.
const previewLimit = 500

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func event(agent, action, summary, output string) store.Event {
	return store.Event{
		Agent:         agent,
		Action:        action,
		Summary:       summary,
		OutputPreview: preview(output, previewLimit),
	}
}

// Constraint is a retrieved context item handed to the critic.
type Constraint struct {
	Type string
	Text string
}
