package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"lexhub/api/internal/config"
	"lexhub/api/internal/gitrepo"
	"lexhub/api/internal/logger"
	"lexhub/api/internal/notify"
	"lexhub/api/internal/review"
	"lexhub/api/internal/session"
	"lexhub/api/internal/store"
)

const (
	docID      = "0b6c3c52-6d1f-4c39-9a37-7d0c8e2d1a01"
	snapAID    = "5f7d0a4e-12b3-4c56-8d9e-0f1a2b3c4d01"
	snapBID    = "5f7d0a4e-12b3-4c56-8d9e-0f1a2b3c4d02"
	snapCID    = "5f7d0a4e-12b3-4c56-8d9e-0f1a2b3c4d03"
	proposalID = "9a1e6f2c-3b4d-4e5f-8a7b-6c5d4e3f2a01"
	commentID  = "c0ffee00-1111-4222-8333-444455556666"
	authorID   = "11111111-1111-4111-8111-111111111111"
	expertID   = "22222222-2222-4222-8222-222222222222"
	adminID    = "33333333-3333-4333-8333-333333333333"
	citizenID  = "44444444-4444-4444-8444-444444444444"
)

var (
	authorSession  = Session{UserID: authorID, UserName: "Anna", Role: "expert"}
	expertSession  = Session{UserID: expertID, UserName: "Ewa", Role: "expert"}
	adminSession   = Session{UserID: adminID, UserName: "Adam", Role: "admin"}
	citizenSession = Session{UserID: citizenID, UserName: "Celina", Role: "citizen"}
)

type fakeStore struct {
	pingFn                func(context.Context) error
	createUserFn          func(context.Context, store.User) (store.User, error)
	getUserByEmailFn      func(context.Context, string) (store.User, error)
	getUserByIDFn         func(context.Context, string) (store.User, error)
	setUserFlagsFn        func(context.Context, string, bool, bool) (store.User, error)
	promoteAdminByEmailFn func(context.Context, string) (bool, error)
	listDocumentsFn       func(context.Context, bool) ([]store.Document, error)
	getDocumentFn         func(context.Context, string) (store.Document, error)
	insertDocumentFn      func(context.Context, store.Document, *store.CommitParams) (store.Document, *store.Snapshot, error)
	updateDocumentFn      func(context.Context, store.Document) (store.Document, error)
	commitSnapshotFn      func(context.Context, store.CommitParams) (store.Snapshot, error)
	getSnapshotFn         func(context.Context, string) (store.Snapshot, error)
	listSnapshotsFn       func(context.Context, string) ([]store.Snapshot, error)
	insertProposalFn      func(context.Context, store.Proposal) (store.Proposal, error)
	getProposalFn         func(context.Context, string) (store.Proposal, error)
	listProposalsFn       func(context.Context, store.ProposalFilter) ([]store.Proposal, int, error)
	updateProposalFn      func(context.Context, store.Proposal) (store.Proposal, error)
	transitionProposalFn  func(context.Context, string, string, string, string) (store.Proposal, error)
	listChangesFn         func(context.Context, string, bool) ([]store.ProposedChange, error)
	addChangeFn           func(context.Context, store.ProposedChange) (store.ProposedChange, error)
	insertCommentFn       func(context.Context, store.Comment) (store.Comment, error)
	getCommentFn          func(context.Context, string) (store.Comment, error)
	updateCommentFn       func(context.Context, string, string) (store.Comment, error)
	deleteCommentFn       func(context.Context, string) error
	listCommentsFn        func(context.Context, string) ([]store.Comment, error)
	castVoteFn            func(context.Context, string, string, string) (store.VoteOutcome, error)
	voteCountsFn          func(context.Context, string) (store.VoteCounts, error)
	userVoteFn            func(context.Context, string, string) (string, error)
	upsertReviewFn        func(context.Context, store.Review, int) (store.Review, error)
	getReviewFn           func(context.Context, string) (store.Review, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = citizenID
	return user, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) SetUserFlags(ctx context.Context, id string, isExpert, isAdmin bool) (store.User, error) {
	if f.setUserFlagsFn != nil {
		return f.setUserFlagsFn(ctx, id, isExpert, isAdmin)
	}
	return store.User{ID: id, IsExpert: isExpert, IsAdmin: isAdmin}, nil
}
func (f *fakeStore) PromoteAdminByEmail(ctx context.Context, email string) (bool, error) {
	if f.promoteAdminByEmailFn != nil {
		return f.promoteAdminByEmailFn(ctx, email)
	}
	return false, nil
}
func (f *fakeStore) ListDocuments(ctx context.Context, includeArchived bool) ([]store.Document, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx, includeArchived)
	}
	return nil, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) InsertDocument(ctx context.Context, doc store.Document, initial *store.CommitParams) (store.Document, *store.Snapshot, error) {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, doc, initial)
	}
	doc.ID = docID
	return doc, nil, nil
}
func (f *fakeStore) UpdateDocument(ctx context.Context, doc store.Document) (store.Document, error) {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, doc)
	}
	return doc, nil
}
func (f *fakeStore) CommitSnapshot(ctx context.Context, params store.CommitParams) (store.Snapshot, error) {
	if f.commitSnapshotFn != nil {
		return f.commitSnapshotFn(ctx, params)
	}
	return store.Snapshot{}, errors.New("commit not stubbed")
}
func (f *fakeStore) GetSnapshot(ctx context.Context, id string) (store.Snapshot, error) {
	if f.getSnapshotFn != nil {
		return f.getSnapshotFn(ctx, id)
	}
	return store.Snapshot{}, sql.ErrNoRows
}
func (f *fakeStore) ListSnapshots(ctx context.Context, id string) ([]store.Snapshot, error) {
	if f.listSnapshotsFn != nil {
		return f.listSnapshotsFn(ctx, id)
	}
	return nil, nil
}
func (f *fakeStore) InsertProposal(ctx context.Context, p store.Proposal) (store.Proposal, error) {
	if f.insertProposalFn != nil {
		return f.insertProposalFn(ctx, p)
	}
	p.ID = proposalID
	return p, nil
}
func (f *fakeStore) GetProposal(ctx context.Context, id string) (store.Proposal, error) {
	if f.getProposalFn != nil {
		return f.getProposalFn(ctx, id)
	}
	return store.Proposal{}, sql.ErrNoRows
}
func (f *fakeStore) ListProposals(ctx context.Context, filter store.ProposalFilter) ([]store.Proposal, int, error) {
	if f.listProposalsFn != nil {
		return f.listProposalsFn(ctx, filter)
	}
	return nil, 0, nil
}
func (f *fakeStore) UpdateProposal(ctx context.Context, p store.Proposal) (store.Proposal, error) {
	if f.updateProposalFn != nil {
		return f.updateProposalFn(ctx, p)
	}
	return p, nil
}
func (f *fakeStore) TransitionProposal(ctx context.Context, id, from, to, actor string) (store.Proposal, error) {
	if f.transitionProposalFn != nil {
		return f.transitionProposalFn(ctx, id, from, to, actor)
	}
	return store.Proposal{ID: id, Status: to}, nil
}
func (f *fakeStore) ListChanges(ctx context.Context, id string, newestFirst bool) ([]store.ProposedChange, error) {
	if f.listChangesFn != nil {
		return f.listChangesFn(ctx, id, newestFirst)
	}
	return nil, nil
}
func (f *fakeStore) AddChange(ctx context.Context, change store.ProposedChange) (store.ProposedChange, error) {
	if f.addChangeFn != nil {
		return f.addChangeFn(ctx, change)
	}
	return change, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	c.ID = commentID
	return c, nil
}
func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateComment(ctx context.Context, id, content string) (store.Comment, error) {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, id, content)
	}
	return store.Comment{ID: id, Content: content}, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) ListComments(ctx context.Context, id string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, id)
	}
	return nil, nil
}
func (f *fakeStore) CastVote(ctx context.Context, id, userID, kind string) (store.VoteOutcome, error) {
	if f.castVoteFn != nil {
		return f.castVoteFn(ctx, id, userID, kind)
	}
	return store.VoteOutcome{Result: store.VoteAdded, Kind: kind}, nil
}
func (f *fakeStore) VoteCounts(ctx context.Context, id string) (store.VoteCounts, error) {
	if f.voteCountsFn != nil {
		return f.voteCountsFn(ctx, id)
	}
	return store.VoteCounts{}, nil
}
func (f *fakeStore) UserVote(ctx context.Context, id, userID string) (string, error) {
	if f.userVoteFn != nil {
		return f.userVoteFn(ctx, id, userID)
	}
	return "", nil
}
func (f *fakeStore) UpsertReview(ctx context.Context, r store.Review, changeCount int) (store.Review, error) {
	if f.upsertReviewFn != nil {
		return f.upsertReviewFn(ctx, r, changeCount)
	}
	return r, nil
}
func (f *fakeStore) GetReview(ctx context.Context, id string) (store.Review, error) {
	if f.getReviewFn != nil {
		return f.getReviewFn(ctx, id)
	}
	return store.Review{}, sql.ErrNoRows
}

type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]string
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]string{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = userID
	return nil
}
func (f *fakeSessions) ConsumeRefreshSession(_ context.Context, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[hash]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	delete(f.refresh, hash)
	return userID, nil
}
func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}
func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}
func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeReviewer struct {
	reviewFn    func(context.Context, string) (review.Verdict, error)
	summarizeFn func(context.Context, string, string) (string, error)
	calls       int
	lastText    string
}

func (f *fakeReviewer) Review(ctx context.Context, text string) (review.Verdict, error) {
	f.calls++
	f.lastText = text
	if f.reviewFn != nil {
		return f.reviewFn(ctx, text)
	}
	return review.Verdict{Message: "OK", Approved: true}, nil
}

func (f *fakeReviewer) Summarize(ctx context.Context, from, to string) (string, error) {
	f.calls++
	if f.summarizeFn != nil {
		return f.summarizeFn(ctx, from, to)
	}
	return "summary", nil
}

type fakeMirror struct {
	mu      sync.Mutex
	entries []gitrepo.Entry
}

func (f *fakeMirror) MirrorSnapshot(e gitrepo.Entry) (gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return gitrepo.CommitInfo{Hash: "abc", Message: e.VersionLabel}, nil
}

func (f *fakeMirror) History(documentID string, limit int) ([]gitrepo.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gitrepo.CommitInfo, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0; i-- {
		out = append(out, gitrepo.CommitInfo{Message: f.entries[i].VersionLabel})
	}
	return out, nil
}

func (f *fakeMirror) ContentAt(_, revision string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.VersionLabel == revision {
			return e.Content, nil
		}
	}
	return "", errors.New("reference not found")
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.StatusChange
}

func (f *fakeNotifier) IsConfigured() bool { return true }

func (f *fakeNotifier) SendStatusChange(ev notify.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:     "test-secret",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			ReviewTimeout: time.Second,
		},
		store:    fs,
		sessions: newFakeSessions(),
		reviewer: &fakeReviewer{},
		log:      logger.Nop(),
	}
}

func activeDocument() store.Document {
	return store.Document{ID: docID, Title: "Kodeks pracy", Kind: "statute", Status: "active"}
}

func proposalWith(status, visibility string) store.Proposal {
	return store.Proposal{
		ID:         proposalID,
		DocumentID: docID,
		AuthorID:   authorID,
		Title:      "Zmiana art. 5",
		Status:     status,
		Visibility: visibility,
	}
}

func assertDomainError(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", status)
	}
	got, _, _, _ := mapError(err)
	if got != status {
		t.Fatalf("expected status %d, got %d (%v)", status, got, err)
	}
}

// --- version store ---

func TestCommitSnapshotValidation(t *testing.T) {
	committed := false
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
		commitSnapshotFn: func(context.Context, store.CommitParams) (store.Snapshot, error) {
			committed = true
			return store.Snapshot{}, nil
		},
	}
	svc := newTestService(fs)

	cases := []struct {
		name    string
		session Session
		input   CommitInput
		status  int
	}{
		{name: "anonymous", session: Session{}, input: CommitInput{VersionLabel: "v1.0.0", Content: "x"}, status: http.StatusUnauthorized},
		{name: "citizen", session: citizenSession, input: CommitInput{VersionLabel: "v1.0.0", Content: "x"}, status: http.StatusForbidden},
		{name: "bad label", session: expertSession, input: CommitInput{VersionLabel: "1.0", Content: "x"}, status: http.StatusUnprocessableEntity},
		{name: "label with suffix", session: expertSession, input: CommitInput{VersionLabel: "v1.0.0-rc1", Content: "x"}, status: http.StatusUnprocessableEntity},
		{name: "blank content", session: expertSession, input: CommitInput{VersionLabel: "v1.0.0", Content: " \n"}, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CommitSnapshot(context.Background(), tc.session, docID, tc.input)
			assertDomainError(t, err, tc.status)
		})
	}
	if committed {
		t.Fatal("store must not be called for rejected commits")
	}
}

func TestCommitSnapshotRejectsArchivedDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			doc := activeDocument()
			doc.Status = "archived"
			return doc, nil
		},
	}
	_, err := newTestService(fs).CommitSnapshot(context.Background(), adminSession, docID, CommitInput{VersionLabel: "v2.0.0", Content: "x"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestCommitSnapshotConflicts(t *testing.T) {
	for name, storeErr := range map[string]error{
		"stale parent":    store.ErrStaleParent,
		"duplicate label": errors.Join(store.ErrConflict, errors.New("snapshots_document_label_key")),
	} {
		t.Run(name, func(t *testing.T) {
			fs := &fakeStore{
				getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
				commitSnapshotFn: func(context.Context, store.CommitParams) (store.Snapshot, error) {
					return store.Snapshot{}, storeErr
				},
			}
			_, err := newTestService(fs).CommitSnapshot(context.Background(), expertSession, docID, CommitInput{VersionLabel: "v1.1.0", Content: "x"})
			assertDomainError(t, err, http.StatusConflict)
		})
	}
}

func TestCommitSnapshotPassesExpectedParentAndMirrors(t *testing.T) {
	var got store.CommitParams
	parent := snapAID
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
		commitSnapshotFn: func(_ context.Context, params store.CommitParams) (store.Snapshot, error) {
			got = params
			return store.Snapshot{
				ID:               snapBID,
				DocumentID:       params.DocumentID,
				VersionLabel:     params.VersionLabel,
				Content:          params.Content,
				CommitMessage:    params.Message,
				ParentSnapshotID: &parent,
			}, nil
		},
	}
	mirror := &fakeMirror{}
	svc := newTestService(fs)
	svc.git = mirror

	view, err := svc.CommitSnapshot(context.Background(), expertSession, docID, CommitInput{
		VersionLabel:     " v1.1.0 ",
		Content:          "Art. 1. Nowa treść.",
		ExpectedParentID: &parent,
	})
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	svc.Wait()

	if got.ExpectedParent == nil || *got.ExpectedParent != snapAID || got.AuthorID != expertID {
		t.Fatalf("unexpected commit params %+v", got)
	}
	if got.VersionLabel != "v1.1.0" || got.Message != "Version v1.1.0" {
		t.Fatalf("expected trimmed label and default message, got %q / %q", got.VersionLabel, got.Message)
	}
	if view.ParentSnapshotID == nil || *view.ParentSnapshotID != snapAID || view.AuthorName != "Ewa" {
		t.Fatalf("unexpected view %+v", view)
	}
	if len(mirror.entries) != 1 || mirror.entries[0].ParentID != snapAID || mirror.entries[0].Content != "Art. 1. Nowa treść." {
		t.Fatalf("expected one mirrored entry, got %+v", mirror.entries)
	}
}

func TestCreateDocumentWithInitialSnapshot(t *testing.T) {
	var initial *store.CommitParams
	fs := &fakeStore{
		insertDocumentFn: func(_ context.Context, doc store.Document, params *store.CommitParams) (store.Document, *store.Snapshot, error) {
			initial = params
			doc.ID = docID
			snap := store.Snapshot{ID: snapAID, DocumentID: docID, VersionLabel: params.VersionLabel, CommitMessage: params.Message, Content: params.Content}
			doc.CurrentSnapshotID = &snap.ID
			return doc, &snap, nil
		},
	}
	svc := newTestService(fs)

	created, err := svc.CreateDocument(context.Background(), adminSession, CreateDocumentInput{
		Title:          "Kodeks pracy",
		PublishDate:    "1974-06-26",
		InitialContent: "Art. 1.",
	})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	if initial == nil || initial.VersionLabel != "v1.0.0" || initial.Message != "Initial version" {
		t.Fatalf("unexpected initial commit %+v", initial)
	}
	if created.Snapshot == nil || created.Document.CurrentSnapshotID == nil || *created.Document.CurrentSnapshotID != snapAID {
		t.Fatalf("expected initial snapshot to be current, got %+v", created)
	}
	if created.Document.Kind != "statute" || created.Document.Status != "active" {
		t.Fatalf("expected defaults, got %+v", created.Document)
	}
	if created.Document.PublishDate == nil || *created.Document.PublishDate != "1974-06-26" {
		t.Fatalf("unexpected publish date %v", created.Document.PublishDate)
	}
}

func TestCreateDocumentRequiresAdminAndValidInput(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.CreateDocument(ctx, expertSession, CreateDocumentInput{Title: "X"})
	assertDomainError(t, err, http.StatusForbidden)

	_, err = svc.CreateDocument(ctx, adminSession, CreateDocumentInput{Title: "  "})
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	_, err = svc.CreateDocument(ctx, adminSession, CreateDocumentInput{Title: "X", Kind: "decree"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	_, err = svc.CreateDocument(ctx, adminSession, CreateDocumentInput{Title: "X", PublishDate: "26.06.1974"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestUpdateDocumentMetadataArchives(t *testing.T) {
	var saved store.Document
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
		updateDocumentFn: func(_ context.Context, doc store.Document) (store.Document, error) {
			saved = doc
			return doc, nil
		},
	}
	archived := "archived"
	view, err := newTestService(fs).UpdateDocumentMetadata(context.Background(), adminSession, docID, DocumentPatch{Status: &archived})
	if err != nil {
		t.Fatalf("UpdateDocumentMetadata() error = %v", err)
	}
	if saved.Status != "archived" || view.Status != "archived" || saved.Title != "Kodeks pracy" {
		t.Fatalf("unexpected saved document %+v", saved)
	}
}

func TestGetLineageWalksFromCurrent(t *testing.T) {
	a, b := snapAID, snapBID
	head := snapCID
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			doc := activeDocument()
			doc.CurrentSnapshotID = &head
			return doc, nil
		},
		listSnapshotsFn: func(context.Context, string) ([]store.Snapshot, error) {
			return []store.Snapshot{
				{ID: snapAID, VersionLabel: "v1.0.0"},
				{ID: snapCID, VersionLabel: "v1.2.0", ParentSnapshotID: &b},
				{ID: snapBID, VersionLabel: "v1.1.0", ParentSnapshotID: &a},
			}, nil
		},
	}
	lineage, err := newTestService(fs).GetLineage(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetLineage() error = %v", err)
	}
	var labels []string
	for _, snap := range lineage {
		labels = append(labels, snap.VersionLabel)
	}
	if strings.Join(labels, ",") != "v1.2.0,v1.1.0,v1.0.0" {
		t.Fatalf("unexpected lineage order %v", labels)
	}
}

func TestGetLineageEmptyDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
	}
	lineage, err := newTestService(fs).GetLineage(context.Background(), docID)
	if err != nil || lineage == nil || len(lineage) != 0 {
		t.Fatalf("expected empty lineage, got %v %v", lineage, err)
	}
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.GetDocument(ctx, "not-a-uuid")
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.GetDocument(ctx, docID)
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.GetSnapshotContent(ctx, snapAID)
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.GetProposal(ctx, Session{}, proposalID)
	assertDomainError(t, err, http.StatusNotFound)
}

func TestCompareReturnsRecordsAndStats(t *testing.T) {
	contents := map[string]string{
		snapAID: "Art. 1.\nArt. 2.\n",
		snapBID: "Art. 1.\nArt. 2a.\nArt. 3.\n",
	}
	fs := &fakeStore{
		getSnapshotFn: func(_ context.Context, id string) (store.Snapshot, error) {
			content, ok := contents[id]
			if !ok {
				return store.Snapshot{}, sql.ErrNoRows
			}
			return store.Snapshot{ID: id, Content: content}, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.Compare(context.Background(), snapAID, snapBID)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if result.Stats.Added != 2 || result.Stats.Removed != 1 || result.Stats.Unchanged != 1 || result.Stats.Total != 4 {
		t.Fatalf("unexpected stats %+v", result.Stats)
	}
	for i, record := range result.Records {
		if record.SequenceNumber != i+1 {
			t.Fatalf("record %d has sequence %d", i, record.SequenceNumber)
		}
	}

	_, err = svc.Compare(context.Background(), snapAID, "")
	assertDomainError(t, err, http.StatusUnprocessableEntity)
	_, err = svc.Compare(context.Background(), snapAID, snapCID)
	assertDomainError(t, err, http.StatusNotFound)
}

func TestCompareSummaryTimeout(t *testing.T) {
	fs := &fakeStore{
		getSnapshotFn: func(_ context.Context, id string) (store.Snapshot, error) {
			return store.Snapshot{ID: id, Content: id}, nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.ReviewTimeout = 10 * time.Millisecond
	svc.reviewer = &fakeReviewer{summarizeFn: func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", review.ErrUnavailable
	}}

	_, err := svc.CompareSummary(context.Background(), citizenSession, snapAID, snapBID)
	assertDomainError(t, err, http.StatusGatewayTimeout)

	_, err = svc.CompareSummary(context.Background(), Session{}, snapAID, snapBID)
	assertDomainError(t, err, http.StatusUnauthorized)
}

func TestDocumentHistoryWithoutMirror(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
	}
	commits, err := newTestService(fs).DocumentHistory(context.Background(), docID, 0)
	if err != nil || commits == nil || len(commits) != 0 {
		t.Fatalf("expected empty history, got %v %v", commits, err)
	}
}

func TestDocumentContentAtReadsMirror(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
	}
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.DocumentContentAt(ctx, docID, "v1.0.0")
	assertDomainError(t, err, http.StatusNotFound)

	mirror := &fakeMirror{entries: []gitrepo.Entry{{DocumentID: docID, VersionLabel: "v1.0.0", Content: "Art. 1."}}}
	svc.git = mirror
	content, err := svc.DocumentContentAt(ctx, docID, "v1.0.0")
	if err != nil || content != "Art. 1." {
		t.Fatalf("DocumentContentAt() = %q, %v", content, err)
	}
	_, err = svc.DocumentContentAt(ctx, docID, "v9.9.9")
	assertDomainError(t, err, http.StatusNotFound)
}

// --- sessions ---

func TestSessionRoundTripAndRefreshRotation(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			if id != expertID {
				return store.User{}, sql.ErrNoRows
			}
			return store.User{ID: expertID, DisplayName: "Ewa", IsExpert: true}, nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	issued, err := svc.issueSession(ctx, store.User{ID: expertID, DisplayName: "Ewa", IsExpert: true})
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	if issued.Role != "expert" {
		t.Fatalf("expected expert role, got %q", issued.Role)
	}

	parsed, err := svc.SessionFromToken(ctx, issued.Token)
	if err != nil || parsed.UserID != expertID || parsed.JTI != issued.JTI {
		t.Fatalf("SessionFromToken() = %+v, %v", parsed, err)
	}

	rotated, err := svc.Refresh(ctx, issued.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if rotated.RefreshToken == issued.RefreshToken {
		t.Fatal("refresh token must rotate")
	}
	_, err = svc.Refresh(ctx, issued.RefreshToken)
	assertDomainError(t, err, http.StatusUnauthorized)

	if err := svc.Logout(ctx, parsed, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	_, err = svc.SessionFromToken(ctx, issued.Token)
	assertDomainError(t, err, http.StatusUnauthorized)
}

func TestSetUserFlags(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()

	_, err := svc.SetUserFlags(ctx, expertSession, citizenID, true, false)
	assertDomainError(t, err, http.StatusForbidden)

	_, err = svc.SetUserFlags(ctx, adminSession, adminID, false, false)
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	user, err := svc.SetUserFlags(ctx, adminSession, citizenID, true, false)
	if err != nil || user.Role != "expert" {
		t.Fatalf("SetUserFlags() = %+v, %v", user, err)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	var promoted string
	fs := &fakeStore{
		promoteAdminByEmailFn: func(_ context.Context, email string) (bool, error) {
			promoted = email
			return true, nil
		},
	}
	svc := newTestService(fs)
	if err := svc.BootstrapAdmin(context.Background()); err != nil || promoted != "" {
		t.Fatalf("expected no-op without configured email, got %q %v", promoted, err)
	}
	svc.cfg.BootstrapAdminEmail = "admin@example.pl"
	if err := svc.BootstrapAdmin(context.Background()); err != nil || promoted != "admin@example.pl" {
		t.Fatalf("expected promotion, got %q %v", promoted, err)
	}
}
