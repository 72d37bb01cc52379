package retrieval

import (
	"fmt"
	"strings"

	"github.com/hoshi0/hoshi/internal/drive"
	"github.com/hoshi0/hoshi/internal/fileindex"
)

// block is one titled text block of assembled context. Every block becomes
// exactly one citation on the answer.
type block struct {
	title   string
	body    string
	snippet string
	uri     string
	kind    SourceKind
}

// assembleBlocks renders search results into titled context blocks,
// repository hits first, then index groundings.
func assembleBlocks(repoFiles []drive.File, grounding *fileindex.Grounding) []block {
	var blocks []block

	for _, f := range repoFiles {
		body := fmt.Sprintf("Document %q in the company repository (%s)", f.Name, f.MimeType)
		if !f.ModifiedTime.IsZero() {
			body += ", last modified " + f.ModifiedTime.Format("2006-01-02")
		}
		blocks = append(blocks, block{
			title:   f.Name,
			body:    body,
			snippet: body,
			uri:     "drive://" + f.ID,
			kind:    SourceRepository,
		})
	}

	if grounding != nil {
		for _, attr := range grounding.Attributions {
			blocks = append(blocks, block{
				title:   attributionTitle(attr),
				body:    attr.Snippet,
				snippet: attr.Snippet,
				uri:     attr.URI,
				kind:    SourceIndex,
			})
		}
		// Free text with no attribution list still grounds the answer.
		if len(grounding.Attributions) == 0 && strings.TrimSpace(grounding.Text) != "" {
			blocks = append(blocks, block{
				title:   "Knowledge index",
				body:    grounding.Text,
				snippet: firstLine(grounding.Text),
				kind:    SourceIndex,
			})
		}
	}

	return blocks
}

// attributionTitle prefers the human-readable document name over any
// internal resource identifier.
func attributionTitle(attr fileindex.Attribution) string {
	if attr.Title != "" && !strings.HasPrefix(attr.Title, "files/") {
		return attr.Title
	}
	if attr.URI != "" {
		return attr.URI
	}
	if attr.Title != "" {
		return attr.Title
	}
	return "Indexed document"
}

// renderContext concatenates blocks into the context section of the system
// instruction.
func renderContext(blocks []block) string {
	if len(blocks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Context documents:\n")
	for _, blk := range blocks {
		b.WriteString("\n## ")
		b.WriteString(blk.title)
		b.WriteString("\n")
		b.WriteString(blk.body)
		b.WriteString("\n")
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
