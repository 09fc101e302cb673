package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var snapshotTemplate = template.Must(template.New("snapshot.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/snapshot.html"))

// TemplateData holds data for snapshot template rendering
type TemplateData struct {
	Title         string
	ShortTitle    string
	Kind          string
	VersionLabel  string
	CommitMessage string
	Author        string
	CreatedAt     time.Time
	ContentHTML   template.HTML
}

// RenderSnapshotHTML renders the printable HTML page for a snapshot.
func RenderSnapshotHTML(snap Snapshot) (string, error) {
	data := TemplateData{
		Title:         snap.DocumentTitle,
		ShortTitle:    snap.ShortTitle,
		Kind:          snap.Kind,
		VersionLabel:  snap.VersionLabel,
		CommitMessage: snap.CommitMessage,
		Author:        snap.Author,
		CreatedAt:     snap.CreatedAt,
		ContentHTML:   ContentToHTML(snap.Content),
	}
	var buf bytes.Buffer
	if err := snapshotTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
