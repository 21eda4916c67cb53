package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/michaelbrown/codepad/internal/language"
)

// ExportMarkdown renders a snippet as a markdown document with fenced code
// blocks.
func ExportMarkdown(s *Snippet) string {
	var b strings.Builder

	title := s.Title
	if title == "" {
		title = "Untitled snippet"
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", title))
	b.WriteString(fmt.Sprintf("- **Snippet:** %s\n", s.ID))
	b.WriteString(fmt.Sprintf("- **Language:** %s\n", s.Language))
	b.WriteString(fmt.Sprintf("- **Created:** %s\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("- **Updated:** %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n---\n\n")

	if s.Language == language.LocalRender {
		writeFence(&b, "HTML", "html", s.Parts.HTML)
		writeFence(&b, "CSS", "css", s.Parts.CSS)
		writeFence(&b, "JavaScript", "javascript", s.Parts.JS)
	} else {
		writeFence(&b, "Source", s.Language, s.Source)
	}
	if s.Stdin != "" {
		writeFence(&b, "Input", "", s.Stdin)
	}

	return b.String()
}

func writeFence(b *strings.Builder, heading, lang, body string) {
	b.WriteString(fmt.Sprintf("## %s\n\n```%s\n%s", heading, lang, body))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
}

// ExportJSON renders a snippet as formatted JSON.
func ExportJSON(s *Snippet) ([]byte, error) {
	export := struct {
		Snippet *Snippet `json:"snippet"`
	}{
		Snippet: s,
	}
	return json.MarshalIndent(export, "", "  ")
}
