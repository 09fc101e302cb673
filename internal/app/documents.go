package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"lexhub/api/internal/diff"
	"lexhub/api/internal/export"
	"lexhub/api/internal/gitrepo"
	"lexhub/api/internal/rbac"
	"lexhub/api/internal/review"
	"lexhub/api/internal/store"
	"lexhub/api/internal/util"
)

var versionLabelPattern = regexp.MustCompile(`^v[0-9]+\.[0-9]+\.[0-9]+$`)

var allowedDocumentKinds = map[string]struct{}{
	"statute":      {},
	"regulation":   {},
	"constitution": {},
}

var allowedDocumentStatuses = map[string]struct{}{
	"active":   {},
	"draft":    {},
	"archived": {},
}

const (
	initialVersionLabel   = "v1.0.0"
	initialCommitMessage  = "Initial version"
	defaultHistoryEntries = 50
)

type CreateDocumentInput struct {
	Title             string                   `json:"title"`
	ShortTitle        string                   `json:"shortTitle"`
	Kind              string                   `json:"kind"`
	Status            string                   `json:"status"`
	PublishDate       string                   `json:"publishDate"`
	LegislativeStages []store.LegislativeStage `json:"legislativeStages"`
	InitialContent    string                   `json:"initialContent"`
}

// DocumentPatch carries optional metadata updates; nil fields are left alone.
type DocumentPatch struct {
	Title             *string                   `json:"title"`
	ShortTitle        *string                   `json:"shortTitle"`
	Kind              *string                   `json:"kind"`
	Status            *string                   `json:"status"`
	PublishDate       *string                   `json:"publishDate"`
	LegislativeStages *[]store.LegislativeStage `json:"legislativeStages"`
}

type CommitInput struct {
	VersionLabel string `json:"versionLabel"`
	Content      string `json:"content"`
	Message      string `json:"message"`
	// ExpectedParentID guards against committing over a snapshot the caller
	// has not seen. "" means the document must not have a snapshot yet.
	ExpectedParentID *string `json:"expectedParentId"`
}

type CreatedDocument struct {
	Document DocumentView  `json:"document"`
	Snapshot *SnapshotView `json:"snapshot,omitempty"`
}

func (s *Service) ListDocuments(ctx context.Context, session Session, includeArchived bool) ([]DocumentView, error) {
	documents, err := s.store.ListDocuments(ctx, includeArchived && isAdmin(session))
	if err != nil {
		return nil, err
	}
	items := make([]DocumentView, 0, len(documents))
	for _, doc := range documents {
		items = append(items, toDocumentView(doc))
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return toDocumentView(doc), nil
}

func (s *Service) loadDocument(ctx context.Context, documentID string) (store.Document, error) {
	if !util.IsUUID(documentID) {
		return store.Document{}, notFound("Document")
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, notFound("Document")
		}
		return store.Document{}, err
	}
	return doc, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input CreateDocumentInput) (CreatedDocument, error) {
	if err := s.require(session, rbac.ActionAdmin); err != nil {
		return CreatedDocument{}, err
	}
	doc := store.Document{
		Title:      strings.TrimSpace(input.Title),
		ShortTitle: strings.TrimSpace(input.ShortTitle),
		Kind:       strings.TrimSpace(input.Kind),
		Status:     strings.TrimSpace(input.Status),
		Stages:     input.LegislativeStages,
		CreatedBy:  &session.UserID,
	}
	if doc.Kind == "" {
		doc.Kind = "statute"
	}
	if doc.Status == "" {
		doc.Status = "active"
	}
	publishDate, err := parsePublishDate(input.PublishDate)
	if err != nil {
		return CreatedDocument{}, err
	}
	doc.PublishDate = publishDate
	if err := validateDocument(doc); err != nil {
		return CreatedDocument{}, err
	}

	var initial *store.CommitParams
	if strings.TrimSpace(input.InitialContent) != "" {
		initial = &store.CommitParams{
			AuthorID:     session.UserID,
			VersionLabel: initialVersionLabel,
			Content:      input.InitialContent,
			Message:      initialCommitMessage,
		}
	}

	created, snap, err := s.store.InsertDocument(ctx, doc, initial)
	if err != nil {
		return CreatedDocument{}, err
	}
	s.log.Info().Str("document_id", created.ID).Bool("with_snapshot", snap != nil).Msg("document created")

	s.indexDocument(created)
	result := CreatedDocument{Document: toDocumentView(created)}
	if snap != nil {
		snap.AuthorName = session.UserName
		s.mirrorSnapshot(*snap)
		view := toSnapshotView(*snap)
		result.Snapshot = &view
	}
	return result, nil
}

// UpdateDocumentMetadata edits descriptive fields. Archiving is a status change.
func (s *Service) UpdateDocumentMetadata(ctx context.Context, session Session, documentID string, patch DocumentPatch) (DocumentView, error) {
	if err := s.require(session, rbac.ActionAdmin); err != nil {
		return DocumentView{}, err
	}
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}

	if patch.Title != nil {
		doc.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.ShortTitle != nil {
		doc.ShortTitle = strings.TrimSpace(*patch.ShortTitle)
	}
	if patch.Kind != nil {
		doc.Kind = strings.TrimSpace(*patch.Kind)
	}
	if patch.Status != nil {
		doc.Status = strings.TrimSpace(*patch.Status)
	}
	if patch.PublishDate != nil {
		publishDate, err := parsePublishDate(*patch.PublishDate)
		if err != nil {
			return DocumentView{}, err
		}
		doc.PublishDate = publishDate
	}
	if patch.LegislativeStages != nil {
		doc.Stages = *patch.LegislativeStages
	}
	if err := validateDocument(doc); err != nil {
		return DocumentView{}, err
	}

	updated, err := s.store.UpdateDocument(ctx, doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DocumentView{}, notFound("Document")
		}
		return DocumentView{}, err
	}
	s.indexDocument(updated)
	return toDocumentView(updated), nil
}

func parsePublishDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, validationError("publishDate", "publishDate must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func validateDocument(doc store.Document) error {
	if doc.Title == "" {
		return validationError("title", "Title is required")
	}
	if _, ok := allowedDocumentKinds[doc.Kind]; !ok {
		return validationError("kind", "kind must be statute, regulation or constitution")
	}
	if _, ok := allowedDocumentStatuses[doc.Status]; !ok {
		return validationError("status", "status must be active, draft or archived")
	}
	for _, stage := range doc.Stages {
		if strings.TrimSpace(stage.Name) == "" {
			return validationError("legislativeStages", "Every legislative stage needs a name")
		}
	}
	return nil
}

// CommitSnapshot appends a new version to the document's lineage. The store
// captures the parent and advances the current pointer atomically; a stale
// expectedParentId or a concurrent commit yields Conflict.
func (s *Service) CommitSnapshot(ctx context.Context, session Session, documentID string, input CommitInput) (SnapshotView, error) {
	if err := s.require(session, rbac.ActionCommit); err != nil {
		return SnapshotView{}, err
	}
	label := strings.TrimSpace(input.VersionLabel)
	if !versionLabelPattern.MatchString(label) {
		return SnapshotView{}, validationError("versionLabel", "versionLabel must look like v1.2.3")
	}
	if strings.TrimSpace(input.Content) == "" {
		return SnapshotView{}, validationError("content", "Content is required")
	}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		message = "Version " + label
	}
	if input.ExpectedParentID != nil && *input.ExpectedParentID != "" && !util.IsUUID(*input.ExpectedParentID) {
		return SnapshotView{}, validationError("expectedParentId", "expectedParentId is not a snapshot id")
	}

	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return SnapshotView{}, err
	}
	if doc.Status == "archived" {
		return SnapshotView{}, validationError("documentId", "Archived documents cannot receive new versions")
	}

	snap, err := s.store.CommitSnapshot(ctx, store.CommitParams{
		DocumentID:     doc.ID,
		AuthorID:       session.UserID,
		VersionLabel:   label,
		Content:        input.Content,
		Message:        message,
		ExpectedParent: input.ExpectedParentID,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStaleParent):
			return SnapshotView{}, conflict("Document was updated by another commit; reload and retry", err)
		case errors.Is(err, store.ErrConflict):
			return SnapshotView{}, conflict("Version label "+label+" already exists for this document", err)
		case errors.Is(err, sql.ErrNoRows):
			return SnapshotView{}, notFound("Document")
		}
		return SnapshotView{}, err
	}
	snap.AuthorName = session.UserName
	s.log.Info().Str("document_id", doc.ID).Str("snapshot_id", snap.ID).Str("label", label).Msg("snapshot committed")

	s.mirrorSnapshot(snap)
	return toSnapshotView(snap), nil
}

func (s *Service) mirrorSnapshot(snap store.Snapshot) {
	if s.git == nil {
		return
	}
	entry := gitrepo.Entry{
		SnapshotID:   snap.ID,
		DocumentID:   snap.DocumentID,
		VersionLabel: snap.VersionLabel,
		Message:      snap.CommitMessage,
		Author:       snap.AuthorName,
		Content:      snap.Content,
	}
	if snap.ParentSnapshotID != nil {
		entry.ParentID = *snap.ParentSnapshotID
	}
	s.goBackground("mirror_snapshot", func(context.Context) error {
		_, err := s.git.MirrorSnapshot(entry)
		return err
	})
}

// GetLineage returns the chain from the current snapshot back to the root.
func (s *Service) GetLineage(ctx context.Context, documentID string) ([]SnapshotView, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	lineage, err := store.WalkLineage(doc.CurrentSnapshotID, snaps)
	if err != nil {
		return nil, err
	}
	return toSnapshotViews(lineage), nil
}

func (s *Service) ListSnapshots(ctx context.Context, documentID string) ([]SnapshotView, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.ListSnapshots(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return toSnapshotViews(snaps), nil
}

func (s *Service) loadSnapshot(ctx context.Context, snapshotID string) (store.Snapshot, error) {
	if !util.IsUUID(snapshotID) {
		return store.Snapshot{}, notFound("Snapshot")
	}
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Snapshot{}, notFound("Snapshot")
		}
		return store.Snapshot{}, err
	}
	return snap, nil
}

func (s *Service) GetSnapshot(ctx context.Context, snapshotID string) (SnapshotView, error) {
	snap, err := s.loadSnapshot(ctx, snapshotID)
	if err != nil {
		return SnapshotView{}, err
	}
	return toSnapshotView(snap), nil
}

func (s *Service) GetSnapshotContent(ctx context.Context, snapshotID string) (string, error) {
	snap, err := s.loadSnapshot(ctx, snapshotID)
	if err != nil {
		return "", err
	}
	return snap.Content, nil
}

// Compare diffs two snapshots line by line. They may belong to different
// documents.
func (s *Service) Compare(ctx context.Context, fromID, toID string) (CompareResult, error) {
	from, to, err := s.loadPair(ctx, fromID, toID)
	if err != nil {
		return CompareResult{}, err
	}
	records := diff.Compute(from.Content, to.Content)
	return CompareResult{
		From:    toSnapshotView(from),
		To:      toSnapshotView(to),
		Records: records,
		Stats:   diff.Summarize(records),
	}, nil
}

func (s *Service) loadPair(ctx context.Context, fromID, toID string) (store.Snapshot, store.Snapshot, error) {
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return store.Snapshot{}, store.Snapshot{}, validationError("", "from and to snapshot ids are required")
	}
	from, err := s.loadSnapshot(ctx, fromID)
	if err != nil {
		return store.Snapshot{}, store.Snapshot{}, err
	}
	to, err := s.loadSnapshot(ctx, toID)
	if err != nil {
		return store.Snapshot{}, store.Snapshot{}, err
	}
	return from, to, nil
}

// CompareSummary asks the reviewer for a plain-language summary of what
// changed between two snapshots. The answer is not cached.
func (s *Service) CompareSummary(ctx context.Context, session Session, fromID, toID string) (string, error) {
	if !session.Authenticated() {
		return "", unauthorized()
	}
	from, to, err := s.loadPair(ctx, fromID, toID)
	if err != nil {
		return "", err
	}
	if from.Content == to.Content {
		return "", validationError("", "Snapshots have identical content")
	}

	reviewCtx, cancel := context.WithTimeout(ctx, s.cfg.ReviewTimeout)
	defer cancel()
	started := time.Now()
	summary, err := s.reviewer.Summarize(reviewCtx, from.Content, to.Content)
	if err != nil {
		cause := reviewFailure(reviewCtx, err)
		s.metrics.RecordReviewCall("summary", reviewOutcome(cause), time.Since(started))
		s.log.Warn().Err(err).Str("from", from.ID).Str("to", to.ID).Msg("compare summary failed")
		return "", externalServiceError(cause)
	}
	s.metrics.RecordReviewCall("summary", "ok", time.Since(started))
	return summary, nil
}

// reviewFailure normalizes a reviewer error so that a call cut off by our own
// deadline is reported as a timeout whatever the client wrapped it in.
func reviewFailure(reviewCtx context.Context, err error) error {
	if errors.Is(reviewCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(context.DeadlineExceeded, err)
	}
	return err
}

func reviewOutcome(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, review.ErrMalformed):
		return "malformed"
	case errors.Is(err, review.ErrNotConfigured):
		return "disabled"
	default:
		return "error"
	}
}

func (s *Service) ExportSnapshot(ctx context.Context, snapshotID, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(rawFormat)))
	if err != nil {
		return nil, validationError("format", "format must be pdf or md")
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	snap, err := s.loadSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	doc, err := s.loadDocument(ctx, snap.DocumentID)
	if err != nil {
		return nil, err
	}

	result, err := s.exporter.Export(ctx, export.Snapshot{
		SnapshotID:    snap.ID,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		ShortTitle:    doc.ShortTitle,
		Kind:          doc.Kind,
		VersionLabel:  snap.VersionLabel,
		CommitMessage: snap.CommitMessage,
		Author:        snap.AuthorName,
		CreatedAt:     snap.CreatedAt,
		Content:       snap.Content,
	}, format)
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is unavailable on this server", nil)
		}
		return nil, err
	}
	return result, nil
}

// DocumentHistory lists the git mirror commits of a document, newest first.
func (s *Service) DocumentHistory(ctx context.Context, documentID string, limit int) ([]gitrepo.CommitInfo, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if s.git == nil {
		return []gitrepo.CommitInfo{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryEntries
	}
	return s.git.History(doc.ID, limit)
}

// DocumentContentAt reads a document's text from the git mirror at a version
// label or commit hash.
func (s *Service) DocumentContentAt(ctx context.Context, documentID, revision string) (string, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	revision = strings.TrimSpace(revision)
	if s.git == nil || revision == "" {
		return "", notFound("Revision")
	}
	content, err := s.git.ContentAt(doc.ID, revision)
	if err != nil {
		s.log.Debug().Err(err).Str("document_id", doc.ID).Str("revision", revision).Msg("mirror revision lookup failed")
		return "", notFound("Revision")
	}
	return content, nil
}
