// Package assemble renders ranked chunks into one bounded payload.
//
// DESIGN: Greedy first-fit selection: walk the ranked list, accumulate token
// counts, stop before the running total would exceed the effective budget.
// When compression is enabled and the very first candidate alone exceeds the
// budget, that single chunk is truncated at a line boundary instead of
// emitting an empty payload. Truncation never occurs after the first
// successfully included chunk.
//
// Rendering (markdown vs plain) is format-only: the chunk list and token
// accounting are computed once, independent of format.
package assemble

import (
	"fmt"
	"strings"

	"github.com/issuepilot/context-engine/internal/contextagg"
	"github.com/issuepilot/context-engine/internal/tokens"
)

// Options control selection and rendering.
type Options struct {
	// Compress permits truncating the first chunk when nothing fits whole.
	Compress bool

	// Format selects the output rendering. Defaults to markdown.
	Format contextagg.OutputFormat

	// KeepEmbeddings retains embedding vectors on the returned chunks.
	KeepEmbeddings bool
}

// Assemble selects ranked chunks under effectiveBudget and renders them.
// The returned token count never exceeds effectiveBudget as measured by the
// supplied counter.
func Assemble(ranked []contextagg.ContextChunk, effectiveBudget int, counter tokens.Counter, opts Options) contextagg.AssembledContext {
	format := opts.Format
	if format == "" {
		format = contextagg.FormatMarkdown
	}

	selected := make([]contextagg.ContextChunk, 0, len(ranked))
	total := 0

	for _, c := range ranked {
		n := c.TokenCount
		if n == 0 {
			n = counter.Count(c.Content)
		}

		if total+n > effectiveBudget {
			if len(selected) == 0 && opts.Compress {
				if cut, cutTokens, ok := truncateToFit(c, effectiveBudget, counter); ok {
					selected = append(selected, cut)
					total += cutTokens
				}
			}
			// Greedy first-fit: the first chunk that does not fit ends
			// selection. Later smaller chunks are not back-filled, keeping
			// output order identical to rank order.
			break
		}

		c.TokenCount = n
		selected = append(selected, c)
		total += n
	}

	if !opts.KeepEmbeddings {
		for i := range selected {
			selected[i].Embedding = nil
		}
	}

	return contextagg.AssembledContext{
		Text:       render(selected, format),
		Chunks:     selected,
		TokenCount: total,
		Format:     format,
	}
}

// truncateToFit cuts a chunk down to the budget at a line boundary,
// preserving leading structure. Returns ok=false when not even the first
// line fits.
func truncateToFit(c contextagg.ContextChunk, budget int, counter tokens.Counter) (contextagg.ContextChunk, int, bool) {
	lines := strings.Split(c.Content, "\n")
	kept := ""
	keptTokens := 0

	for i := range lines {
		candidate := strings.Join(lines[:i+1], "\n")
		n := counter.Count(candidate)
		if n > budget {
			break
		}
		kept = candidate
		keptTokens = n
	}

	if kept == "" {
		return c, 0, false
	}
	c.Content = kept
	c.TokenCount = keptTokens
	return c, keptTokens, true
}

// =============================================================================
// RENDERING
// =============================================================================

func render(chunks []contextagg.ContextChunk, format contextagg.OutputFormat) string {
	if len(chunks) == 0 {
		return ""
	}
	if format == contextagg.FormatPlain {
		return renderPlain(chunks)
	}
	return renderMarkdown(chunks)
}

// renderMarkdown emits one fenced block per chunk with source, relevance and
// location metadata.
func renderMarkdown(chunks []contextagg.ContextChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s (relevance %.2f)\n", c.Source, c.Relevance)
		if loc := formatLocation(c.Provenance); loc != "" {
			fmt.Fprintf(&b, "_%s_\n", loc)
		}
		b.WriteString("```\n")
		b.WriteString(c.Content)
		if !strings.HasSuffix(c.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```")
	}
	return b.String()
}

// renderPlain concatenates chunk contents separated by a provenance line.
func renderPlain(chunks []contextagg.ContextChunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		if loc := formatLocation(c.Provenance); loc != "" {
			fmt.Fprintf(&b, "[%s: %s]\n", c.Source, loc)
		} else {
			fmt.Fprintf(&b, "[%s]\n", c.Source)
		}
		b.WriteString(c.Content)
	}
	return b.String()
}

func formatLocation(p contextagg.ChunkProvenance) string {
	switch {
	case p.FilePath != "" && p.StartLine > 0:
		return fmt.Sprintf("%s:%d-%d", p.FilePath, p.StartLine, p.EndLine)
	case p.FilePath != "":
		return p.FilePath
	case p.URL != "":
		return p.URL
	case p.Symbol != "":
		return p.Symbol
	default:
		return ""
	}
}
