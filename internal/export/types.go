// Package export renders snapshots to PDF and Markdown and archives the
// output in object storage.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "md"
)

// ParseFormat accepts the query-string spellings of a format.
func ParseFormat(raw string) (Format, error) {
	switch raw {
	case "", "pdf":
		return FormatPDF, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Snapshot is the data rendered into an export.
type Snapshot struct {
	SnapshotID    string
	DocumentID    string
	DocumentTitle string
	ShortTitle    string
	Kind          string
	VersionLabel  string
	CommitMessage string
	Author        string
	CreatedAt     time.Time
	Content       string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ArchiveURL is a presigned download link; empty when archiving is off or failed.
	ArchiveURL string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
