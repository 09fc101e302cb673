package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"lexhub/api/internal/review"
	"lexhub/api/internal/store"
)

func storeWithProposal(p store.Proposal) *fakeStore {
	return &fakeStore{
		getProposalFn: func(_ context.Context, id string) (store.Proposal, error) {
			if id != p.ID {
				return store.Proposal{}, sql.ErrNoRows
			}
			return p, nil
		},
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
	}
}

func TestCreateProposal(t *testing.T) {
	var inserted store.Proposal
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return activeDocument(), nil },
		insertProposalFn: func(_ context.Context, p store.Proposal) (store.Proposal, error) {
			inserted = p
			p.ID = proposalID
			return p, nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	view, err := svc.CreateProposal(ctx, expertSession, CreateProposalInput{DocumentID: docID, Title: " Zmiana art. 5 ", Draft: true})
	if err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	if inserted.Status != StatusDraft || inserted.Visibility != VisibilityPublic || inserted.Title != "Zmiana art. 5" || inserted.AuthorID != expertID {
		t.Fatalf("unexpected inserted proposal %+v", inserted)
	}
	if view.AuthorName != "Ewa" {
		t.Fatalf("expected author name from session, got %q", view.AuthorName)
	}

	if _, err := svc.CreateProposal(ctx, expertSession, CreateProposalInput{DocumentID: docID, Title: "X"}); err != nil || inserted.Status != StatusOpen {
		t.Fatalf("expected open proposal by default, got %q %v", inserted.Status, err)
	}

	_, err = svc.CreateProposal(ctx, citizenSession, CreateProposalInput{DocumentID: docID, Title: "X"})
	assertDomainError(t, err, http.StatusForbidden)
	_, err = svc.CreateProposal(ctx, expertSession, CreateProposalInput{DocumentID: docID, Title: " "})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
	_, err = svc.CreateProposal(ctx, expertSession, CreateProposalInput{DocumentID: docID, Title: "X", Visibility: "secret"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestCreateProposalRejectsArchivedDocument(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			doc := activeDocument()
			doc.Status = "archived"
			return doc, nil
		},
	}
	_, err := newTestService(fs).CreateProposal(context.Background(), adminSession, CreateProposalInput{DocumentID: docID, Title: "X"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		session  Session
		status   int
	}{
		{from: StatusDraft, to: StatusOpen, session: authorSession, status: http.StatusOK},
		{from: StatusDraft, to: StatusOpen, session: adminSession, status: http.StatusOK},
		{from: StatusDraft, to: StatusClosed, session: authorSession, status: http.StatusOK},
		{from: StatusOpen, to: StatusClosed, session: authorSession, status: http.StatusOK},
		{from: StatusOpen, to: StatusMerged, session: adminSession, status: http.StatusOK},
		{from: StatusDraft, to: StatusOpen, session: expertSession, status: http.StatusForbidden},
		{from: StatusOpen, to: StatusMerged, session: authorSession, status: http.StatusForbidden},
		{from: StatusDraft, to: StatusMerged, session: adminSession, status: http.StatusUnprocessableEntity},
		{from: StatusOpen, to: StatusDraft, session: adminSession, status: http.StatusUnprocessableEntity},
		{from: StatusOpen, to: StatusOpen, session: adminSession, status: http.StatusUnprocessableEntity},
		{from: StatusMerged, to: StatusClosed, session: adminSession, status: http.StatusUnprocessableEntity},
		{from: StatusMerged, to: StatusOpen, session: adminSession, status: http.StatusUnprocessableEntity},
		{from: StatusClosed, to: StatusOpen, session: authorSession, status: http.StatusUnprocessableEntity},
		{from: StatusOpen, to: "approved", session: adminSession, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s as %s", tc.from, tc.to, tc.session.UserName), func(t *testing.T) {
			fs := storeWithProposal(proposalWith(tc.from, VisibilityPublic))
			var applied bool
			fs.transitionProposalFn = func(_ context.Context, id, from, to, actor string) (store.Proposal, error) {
				applied = true
				if from != tc.from || to != tc.to || actor != tc.session.UserID {
					t.Fatalf("unexpected store transition %s->%s by %s", from, to, actor)
				}
				p := proposalWith(to, VisibilityPublic)
				return p, nil
			}
			view, err := newTestService(fs).TransitionProposal(context.Background(), tc.session, proposalID, tc.to)
			if tc.status == http.StatusOK {
				if err != nil {
					t.Fatalf("TransitionProposal() error = %v", err)
				}
				if view.Status != tc.to || !applied {
					t.Fatalf("expected status %s, got %s", tc.to, view.Status)
				}
				return
			}
			assertDomainError(t, err, tc.status)
			if applied {
				t.Fatal("rejected transition must not reach the store")
			}
		})
	}
}

func TestTransitionLostRaceIsConflict(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.transitionProposalFn = func(context.Context, string, string, string, string) (store.Proposal, error) {
		return store.Proposal{}, store.ErrStatusChanged
	}
	_, err := newTestService(fs).TransitionProposal(context.Background(), adminSession, proposalID, StatusMerged)
	assertDomainError(t, err, http.StatusConflict)
}

func TestTransitionNotifiesAuthor(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.getUserByIDFn = func(_ context.Context, id string) (store.User, error) {
		return store.User{ID: id, Email: "anna@example.pl", DisplayName: "Anna"}, nil
	}
	mailer := &fakeNotifier{}
	svc := newTestService(fs)
	svc.mailer = mailer

	if _, err := svc.TransitionProposal(context.Background(), adminSession, proposalID, StatusMerged); err != nil {
		t.Fatalf("TransitionProposal() error = %v", err)
	}
	svc.Wait()
	if len(mailer.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(mailer.events))
	}
	ev := mailer.events[0]
	if ev.RecipientEmail != "anna@example.pl" || ev.FromStatus != StatusOpen || ev.ToStatus != StatusMerged || ev.DocumentTitle != "Kodeks pracy" {
		t.Fatalf("unexpected notification %+v", ev)
	}

	// Authors closing their own proposal are not notified.
	if _, err := svc.TransitionProposal(context.Background(), authorSession, proposalID, StatusClosed); err != nil {
		t.Fatalf("TransitionProposal() error = %v", err)
	}
	svc.Wait()
	if len(mailer.events) != 1 {
		t.Fatalf("expected no extra notification, got %d", len(mailer.events))
	}
}

func TestPrivateProposalVisibility(t *testing.T) {
	svc := newTestService(storeWithProposal(proposalWith(StatusOpen, VisibilityPrivate)))
	ctx := context.Background()

	_, err := svc.GetProposal(ctx, Session{}, proposalID)
	assertDomainError(t, err, http.StatusUnauthorized)

	_, err = svc.GetProposal(ctx, citizenSession, proposalID)
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.GetProposal(ctx, expertSession, proposalID)
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.ListComments(ctx, expertSession, proposalID)
	assertDomainError(t, err, http.StatusNotFound)
	_, err = svc.CastVote(ctx, citizenSession, proposalID, "like")
	assertDomainError(t, err, http.StatusNotFound)

	for _, session := range []Session{authorSession, adminSession} {
		if _, err := svc.GetProposal(ctx, session, proposalID); err != nil {
			t.Fatalf("%s should see the proposal: %v", session.UserName, err)
		}
	}
}

func TestGetProposalIncludesVotes(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.voteCountsFn = func(context.Context, string) (store.VoteCounts, error) {
		return store.VoteCounts{Likes: 3, Dislikes: 1}, nil
	}
	fs.userVoteFn = func(_ context.Context, _, userID string) (string, error) {
		if userID == citizenID {
			return "like", nil
		}
		return "", nil
	}
	svc := newTestService(fs)

	detail, err := svc.GetProposal(context.Background(), citizenSession, proposalID)
	if err != nil {
		t.Fatalf("GetProposal() error = %v", err)
	}
	if detail.Likes != 3 || detail.Dislikes != 1 || detail.UserVote != "like" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	anonymous, err := svc.GetProposal(context.Background(), Session{}, proposalID)
	if err != nil || anonymous.UserVote != "" {
		t.Fatalf("anonymous detail = %+v, %v", anonymous, err)
	}
}

func TestListProposalsFilter(t *testing.T) {
	var got store.ProposalFilter
	fs := &fakeStore{
		listProposalsFn: func(_ context.Context, filter store.ProposalFilter) ([]store.Proposal, int, error) {
			got = filter
			return []store.Proposal{proposalWith(StatusOpen, VisibilityPublic)}, 7, nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()

	page, err := svc.ListProposals(ctx, expertSession, ListProposalsInput{DocumentID: docID, Status: "OPEN", Limit: 500, Offset: -3})
	if err != nil {
		t.Fatalf("ListProposals() error = %v", err)
	}
	if got.ViewerID != expertID || got.IncludePrivate || got.Status != StatusOpen || got.Limit != 20 || got.Offset != 0 {
		t.Fatalf("unexpected filter %+v", got)
	}
	if page.Total != 7 || len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, err := svc.ListProposals(ctx, adminSession, ListProposalsInput{}); err != nil || !got.IncludePrivate {
		t.Fatalf("admin should include private proposals, filter=%+v err=%v", got, err)
	}

	_, err = svc.ListProposals(ctx, Session{}, ListProposalsInput{Status: "pending"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestUpdateProposal(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	svc := newTestService(fs)
	ctx := context.Background()
	private := "private"

	view, err := svc.UpdateProposal(ctx, authorSession, proposalID, ProposalPatch{Visibility: &private})
	if err != nil || view.Visibility != VisibilityPrivate {
		t.Fatalf("UpdateProposal() = %+v, %v", view, err)
	}

	_, err = svc.UpdateProposal(ctx, expertSession, proposalID, ProposalPatch{Visibility: &private})
	assertDomainError(t, err, http.StatusForbidden)

	blank := " "
	_, err = svc.UpdateProposal(ctx, adminSession, proposalID, ProposalPatch{Title: &blank})
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	merged := newTestService(storeWithProposal(proposalWith(StatusMerged, VisibilityPublic)))
	_, err = merged.UpdateProposal(ctx, adminSession, proposalID, ProposalPatch{Visibility: &private})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestAddChangeRejectsTerminalProposals(t *testing.T) {
	for _, status := range []string{StatusMerged, StatusClosed} {
		t.Run(status, func(t *testing.T) {
			fs := storeWithProposal(proposalWith(status, VisibilityPublic))
			called := false
			fs.addChangeFn = func(context.Context, store.ProposedChange) (store.ProposedChange, error) {
				called = true
				return store.ProposedChange{}, nil
			}
			_, err := newTestService(fs).AddChange(context.Background(), authorSession, proposalID, ChangeInput{NewContent: "Art. 5."})
			assertDomainError(t, err, http.StatusUnprocessableEntity)
			if called {
				t.Fatal("store must not be called for terminal proposals")
			}
		})
	}
}

func TestAddChangeRaceWithMergeIsValidation(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.addChangeFn = func(context.Context, store.ProposedChange) (store.ProposedChange, error) {
		return store.ProposedChange{}, store.ErrProposalTerminal
	}
	_, err := newTestService(fs).AddChange(context.Background(), authorSession, proposalID, ChangeInput{NewContent: "x"})
	assertDomainError(t, err, http.StatusUnprocessableEntity)
}

func TestAddChangePermissions(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusDraft, VisibilityPublic))
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.AddChange(ctx, Session{}, proposalID, ChangeInput{NewContent: "x"})
	assertDomainError(t, err, http.StatusUnauthorized)
	_, err = svc.AddChange(ctx, expertSession, proposalID, ChangeInput{NewContent: "x"})
	assertDomainError(t, err, http.StatusForbidden)
	_, err = svc.AddChange(ctx, authorSession, proposalID, ChangeInput{NewContent: "  "})
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	old := "Art. 5. Stara treść."
	change, err := svc.AddChange(ctx, adminSession, proposalID, ChangeInput{OldContent: &old, NewContent: "Art. 5. Nowa treść.", Summary: " poprawka "})
	if err != nil {
		t.Fatalf("AddChange() error = %v", err)
	}
	if change.Summary != "poprawka" || change.OldContent == nil || *change.OldContent != old {
		t.Fatalf("unexpected change %+v", change)
	}
}

func TestComments(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.getCommentFn = func(_ context.Context, id string) (store.Comment, error) {
		return store.Comment{ID: id, ProposalID: proposalID, AuthorID: citizenID, Content: "Popieram"}, nil
	}
	var deleted string
	fs.deleteCommentFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.AddComment(ctx, Session{}, proposalID, "hej")
	assertDomainError(t, err, http.StatusUnauthorized)
	_, err = svc.AddComment(ctx, citizenSession, proposalID, "   ")
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	comment, err := svc.AddComment(ctx, citizenSession, proposalID, " Popieram ")
	if err != nil || comment.Content != "Popieram" || comment.AuthorID != citizenID {
		t.Fatalf("AddComment() = %+v, %v", comment, err)
	}

	_, err = svc.UpdateComment(ctx, expertSession, commentID, "zmiana")
	assertDomainError(t, err, http.StatusForbidden)
	if _, err := svc.UpdateComment(ctx, citizenSession, commentID, "Popieram w pełni"); err != nil {
		t.Fatalf("UpdateComment() error = %v", err)
	}
	if err := svc.DeleteComment(ctx, adminSession, commentID); err != nil || deleted != commentID {
		t.Fatalf("DeleteComment() deleted=%q err=%v", deleted, err)
	}
}

func TestCommentOnHiddenProposalIsNotFound(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPrivate))
	fs.getCommentFn = func(_ context.Context, id string) (store.Comment, error) {
		return store.Comment{ID: id, ProposalID: proposalID, AuthorID: citizenID}, nil
	}
	_, err := newTestService(fs).UpdateComment(context.Background(), citizenSession, commentID, "x")
	assertDomainError(t, err, http.StatusNotFound)
}

func TestCastVote(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.castVoteFn = func(_ context.Context, _, userID, kind string) (store.VoteOutcome, error) {
		return store.VoteOutcome{Result: store.VoteUpdated, Kind: kind, PreviousKind: "like", Likes: 0, Dislikes: 1}, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	vote, err := svc.CastVote(ctx, citizenSession, proposalID, " Dislike ")
	if err != nil {
		t.Fatalf("CastVote() error = %v", err)
	}
	if vote.Result != "updated" || vote.Kind != "dislike" || vote.PreviousKind != "like" || vote.Dislikes != 1 {
		t.Fatalf("unexpected vote %+v", vote)
	}

	_, err = svc.CastVote(ctx, Session{}, proposalID, "like")
	assertDomainError(t, err, http.StatusUnauthorized)
	_, err = svc.CastVote(ctx, citizenSession, proposalID, "love")
	assertDomainError(t, err, http.StatusUnprocessableEntity)

	fs.castVoteFn = func(context.Context, string, string, string) (store.VoteOutcome, error) {
		return store.VoteOutcome{}, fmt.Errorf("%w: concurrent vote", store.ErrConflict)
	}
	_, err = svc.CastVote(ctx, citizenSession, proposalID, "like")
	assertDomainError(t, err, http.StatusConflict)
}

// --- review cache ---

func feedbackStore(changes []store.ProposedChange) (*fakeStore, *int) {
	upserts := 0
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	fs.listChangesFn = func(_ context.Context, _ string, newestFirst bool) ([]store.ProposedChange, error) {
		if !newestFirst {
			return nil, errors.New("feedback must read changes newest first")
		}
		return changes, nil
	}
	fs.upsertReviewFn = func(_ context.Context, r store.Review, changeCount int) (store.Review, error) {
		upserts++
		if changeCount != len(changes) {
			return store.Review{}, fmt.Errorf("unexpected change count %d", changeCount)
		}
		r.ID = "review-1"
		return r, nil
	}
	return fs, &upserts
}

func TestGenerateFeedbackJoinsChangesAndCaches(t *testing.T) {
	fs, upserts := feedbackStore([]store.ProposedChange{
		{NewContent: "Art. 2. Druga."},
		{NewContent: "Art. 1. Pierwsza."},
	})
	reviewer := &fakeReviewer{reviewFn: func(context.Context, string) (review.Verdict, error) {
		return review.Verdict{Message: "Tekst poprawny.", Approved: true}, nil
	}}
	svc := newTestService(fs)
	svc.reviewer = reviewer

	feedback, err := svc.GenerateFeedback(context.Background(), expertSession, proposalID)
	if err != nil {
		t.Fatalf("GenerateFeedback() error = %v", err)
	}
	if reviewer.lastText != "Art. 2. Druga.\n\n---\n\nArt. 1. Pierwsza." {
		t.Fatalf("unexpected reviewer input %q", reviewer.lastText)
	}
	if !feedback.Approved || feedback.Message != "Tekst poprawny." || *upserts != 1 {
		t.Fatalf("unexpected feedback %+v upserts=%d", feedback, *upserts)
	}
}

func TestGenerateFeedbackFailuresLeaveCacheUntouched(t *testing.T) {
	cases := []struct {
		name     string
		reviewFn func(context.Context, string) (review.Verdict, error)
		status   int
	}{
		{
			name: "timeout",
			reviewFn: func(ctx context.Context, _ string) (review.Verdict, error) {
				<-ctx.Done()
				return review.Verdict{}, fmt.Errorf("%w: %v", review.ErrUnavailable, ctx.Err())
			},
			status: http.StatusGatewayTimeout,
		},
		{
			name: "malformed",
			reviewFn: func(context.Context, string) (review.Verdict, error) {
				return review.ParseVerdict("I think it is fine")
			},
			status: http.StatusBadGateway,
		},
		{
			name: "unavailable",
			reviewFn: func(context.Context, string) (review.Verdict, error) {
				return review.Verdict{}, review.ErrUnavailable
			},
			status: http.StatusBadGateway,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs, upserts := feedbackStore([]store.ProposedChange{{NewContent: "Art. 1."}})
			svc := newTestService(fs)
			svc.cfg.ReviewTimeout = 20 * time.Millisecond
			svc.reviewer = &fakeReviewer{reviewFn: tc.reviewFn}

			_, err := svc.GenerateFeedback(context.Background(), expertSession, proposalID)
			assertDomainError(t, err, tc.status)
			_, _, _, details := mapError(err)
			if d, ok := details.(map[string]any); !ok || d["retryable"] != true {
				t.Fatalf("expected retryable details, got %v", details)
			}
			if *upserts != 0 {
				t.Fatal("cache must not be written when the reviewer fails")
			}
		})
	}
}

func TestGenerateFeedbackValidation(t *testing.T) {
	fs, _ := feedbackStore(nil)
	svc := newTestService(fs)
	reviewer := &fakeReviewer{}
	svc.reviewer = reviewer
	ctx := context.Background()

	_, err := svc.GenerateFeedback(ctx, citizenSession, proposalID)
	assertDomainError(t, err, http.StatusForbidden)
	_, err = svc.GenerateFeedback(ctx, expertSession, proposalID)
	assertDomainError(t, err, http.StatusUnprocessableEntity)
	if reviewer.calls != 0 {
		t.Fatal("reviewer must not be called without changes")
	}
}

func TestGenerateFeedbackStaleChangeSet(t *testing.T) {
	fs, _ := feedbackStore([]store.ProposedChange{{NewContent: "Art. 1."}})
	fs.upsertReviewFn = func(context.Context, store.Review, int) (store.Review, error) {
		return store.Review{}, store.ErrStaleReview
	}
	_, err := newTestService(fs).GenerateFeedback(context.Background(), adminSession, proposalID)
	assertDomainError(t, err, http.StatusConflict)
}

func TestGetFeedback(t *testing.T) {
	fs := storeWithProposal(proposalWith(StatusOpen, VisibilityPublic))
	svc := newTestService(fs)
	reviewer := &fakeReviewer{}
	svc.reviewer = reviewer

	_, err := svc.GetFeedback(context.Background(), Session{}, proposalID)
	assertDomainError(t, err, http.StatusNotFound)

	fs.getReviewFn = func(_ context.Context, id string) (store.Review, error) {
		return store.Review{ProposalID: id, Message: "OK", Approved: true}, nil
	}
	feedback, err := svc.GetFeedback(context.Background(), Session{}, proposalID)
	if err != nil || !feedback.Approved {
		t.Fatalf("GetFeedback() = %+v, %v", feedback, err)
	}
	if reviewer.calls != 0 {
		t.Fatal("GetFeedback must never call the reviewer")
	}
}
