package export

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog"
)

// Archiver stores rendered exports and hands back a download URL.
type Archiver interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides snapshot export functionality
type Service struct {
	archive   Archiver
	renderPDF pdfRenderer
	log       zerolog.Logger
}

// NewService creates an export service. archive may be nil.
func NewService(archive Archiver, log zerolog.Logger) *Service {
	return &Service{archive: archive, renderPDF: printToPDF, log: log}
}

// Export renders the snapshot in the requested format and archives the output.
// Archive failures are logged; the rendered bytes are still returned.
func (s *Service) Export(ctx context.Context, snap Snapshot, format Format) (*Result, error) {
	var result *Result
	switch format {
	case FormatPDF:
		html, err := RenderSnapshotHTML(snap)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{
			Data:     data,
			Filename: exportFilename(snap, "pdf"),
			MimeType: "application/pdf",
		}
	case FormatMarkdown:
		result = &Result{
			Data:     []byte(RenderMarkdown(snap)),
			Filename: exportFilename(snap, "md"),
			MimeType: "text/markdown; charset=utf-8",
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if s.archive != nil {
		key := path.Join("exports", snap.DocumentID, result.Filename)
		url, err := s.archive.Store(ctx, key, result.Data, result.MimeType)
		if err != nil {
			s.log.Warn().Err(err).Str("snapshot_id", snap.SnapshotID).Str("key", key).Msg("archive export")
		} else {
			result.ArchiveURL = url
		}
	}
	return result, nil
}

func exportFilename(snap Snapshot, ext string) string {
	title := snap.ShortTitle
	if title == "" {
		title = snap.DocumentTitle
	}
	return fmt.Sprintf("%s-%s.%s", sanitizeFilename(title), snap.VersionLabel, ext)
}
