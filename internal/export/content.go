package export

import (
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
)

// articleHeading matches the start of a statute unit: "Art. 12", "§ 3", "Rozdział 2".
var articleHeading = regexp.MustCompile(`^(Art\.\s*\d+[a-z]*|§\s*\d+[a-z]*|Rozdział\s+[0-9IVXLC]+|DZIAŁ\s+[0-9IVXLC]+)\b`)

// ContentToHTML converts plain snapshot text to escaped HTML. Article and
// chapter headings become h3 elements; other lines become paragraphs.
func ContentToHTML(content string) template.HTML {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			b.WriteString(`<div class="blank"></div>`)
		case articleHeading.MatchString(trimmed):
			fmt.Fprintf(&b, `<h3 class="article">%s</h3>`, html.EscapeString(trimmed))
		default:
			fmt.Fprintf(&b, `<p class="line">%s</p>`, html.EscapeString(trimmed))
		}
		b.WriteByte('\n')
	}
	return template.HTML(b.String())
}

// RenderMarkdown produces a Markdown document with a metadata header and the
// snapshot text. Headings get a level-3 marker; other lines are kept verbatim.
func RenderMarkdown(snap Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", snap.DocumentTitle)
	if snap.ShortTitle != "" {
		fmt.Fprintf(&b, "_%s_\n\n", snap.ShortTitle)
	}
	fmt.Fprintf(&b, "- Wersja: %s\n", snap.VersionLabel)
	if snap.Kind != "" {
		fmt.Fprintf(&b, "- Rodzaj: %s\n", snap.Kind)
	}
	if snap.Author != "" {
		fmt.Fprintf(&b, "- Autor: %s\n", snap.Author)
	}
	if !snap.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Data: %s\n", snap.CreatedAt.Format("2006-01-02"))
	}
	if snap.CommitMessage != "" {
		fmt.Fprintf(&b, "- Opis: %s\n", snap.CommitMessage)
	}
	b.WriteString("\n---\n\n")

	for _, line := range strings.Split(strings.TrimSuffix(snap.Content, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if articleHeading.MatchString(trimmed) {
			fmt.Fprintf(&b, "### %s\n", trimmed)
			continue
		}
		b.WriteString(line)
		b.WriteString("  \n")
	}
	return b.String()
}
