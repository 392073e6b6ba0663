// Package chunk splits narrative text into overlapping, paragraph-bounded
// segments suitable for indexing and retrieval.
package chunk

import (
	"strings"
)

// Default chunking parameters, tuned for long-form narrative prose.
const (
	DefaultMaxChars     = 1400
	DefaultOverlapRatio = 0.2
	DefaultSnippetChars = 240
)

// Options configures the chunker.
type Options struct {
	// MaxChars is the maximum chunk length in characters (runes).
	MaxChars int
	// OverlapRatio is the fraction of MaxChars re-used as tail overlap
	// between adjacent chunks. Zero disables overlap.
	OverlapRatio float64
	// SnippetChars is the snippet prefix length stored per chunk.
	SnippetChars int
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{
		MaxChars:     DefaultMaxChars,
		OverlapRatio: DefaultOverlapRatio,
		SnippetChars: DefaultSnippetChars,
	}
}

// Piece is one chunk of the input: the full text plus a short snippet.
type Piece struct {
	Text    string
	Snippet string
}

// splitParagraphs normalises line endings and splits on blank-line
// paragraph boundaries, dropping empty paragraphs.
func splitParagraphs(text string) []string {
	cleaned := strings.ReplaceAll(text, "\r\n", "\n")
	cleaned = strings.ReplaceAll(cleaned, "\r", "\n")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}

	parts := strings.Split(cleaned, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Split chunks text into paragraph-bounded pieces of at most MaxChars
// characters. Paragraphs are greedy-packed counting a 2-char join;
// a single oversized paragraph is hard-cut at MaxChars and the remainder
// carries over. When overlap is enabled, tail paragraphs of each emitted
// chunk are re-inserted so adjacent chunks share context.
//
// The output is deterministic in the input and options. Empty input
// produces an empty slice.
func Split(text string, opts Options) []Piece {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.SnippetChars <= 0 {
		opts.SnippetChars = DefaultSnippetChars
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []string
	i := 0
	for i < len(paragraphs) {
		var buf []string
		total := 0
		for i < len(paragraphs) {
			join := 0
			if len(buf) > 0 {
				join = 2
			}
			plen := runeLen(paragraphs[i])
			if total+plen+join > opts.MaxChars {
				break
			}
			buf = append(buf, paragraphs[i])
			total += plen + 2
			i++
		}

		if len(buf) == 0 {
			// Single huge paragraph, hard cut at MaxChars.
			p := []rune(paragraphs[i])
			buf = []string{string(p[:opts.MaxChars])}
			rest := string(p[opts.MaxChars:])
			if strings.TrimSpace(rest) == "" {
				i++
			} else {
				paragraphs[i] = rest
			}
		}

		chunkText := strings.TrimSpace(strings.Join(buf, "\n\n"))
		chunks = append(chunks, chunkText)

		// Overlap by re-inserting tail paragraphs of the emitted chunk.
		if i < len(paragraphs) && opts.OverlapRatio > 0 {
			overlapTarget := int(float64(opts.MaxChars) * opts.OverlapRatio)
			var tail []string
			tailLen := 0
			for j := len(buf) - 1; j >= 0; j-- {
				if tailLen >= overlapTarget {
					break
				}
				tail = append([]string{buf[j]}, tail...)
				tailLen += runeLen(buf[j]) + 2
			}
			// The carried tail must leave room for the next paragraph in
			// the same chunk; otherwise the tail refills the buffer on its
			// own and the loop re-emits it forever.
			budget := opts.MaxChars - runeLen(paragraphs[i]) - 2
			for len(tail) > 0 && tailLen > budget {
				tailLen -= runeLen(tail[0]) + 2
				tail = tail[1:]
			}
			if len(tail) > 0 {
				joined := strings.Join(tail, "\n\n")
				paragraphs = append(paragraphs[:i], append([]string{joined}, paragraphs[i:]...)...)
			}
		}
	}

	pieces := make([]Piece, 0, len(chunks))
	for _, c := range chunks {
		pieces = append(pieces, Piece{Text: c, Snippet: Snippet(c, opts.SnippetChars)})
	}
	return pieces
}

// Snippet returns a leading substring of at most n characters,
// with an ellipsis suffix when truncated.
func Snippet(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "…"
}

func runeLen(s string) int {
	return len([]rune(s))
}
