package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexhub/api/internal/notify"
	"lexhub/api/internal/rbac"
	"lexhub/api/internal/store"
	"lexhub/api/internal/util"
)

const (
	StatusDraft  = "draft"
	StatusOpen   = "open"
	StatusMerged = "merged"
	StatusClosed = "closed"

	VisibilityPublic  = "public"
	VisibilityPrivate = "private"

	feedbackSeparator = "\n\n---\n\n"
)

var allowedProposalStatuses = map[string]struct{}{
	StatusDraft:  {},
	StatusOpen:   {},
	StatusMerged: {},
	StatusClosed: {},
}

type transitionRule struct {
	adminOnly bool
}

// proposalTransitions is the full forward-only table. merged and closed are
// terminal; anything missing here is rejected.
var proposalTransitions = map[string]map[string]transitionRule{
	StatusDraft: {
		StatusOpen:   {},
		StatusClosed: {},
	},
	StatusOpen: {
		StatusMerged: {adminOnly: true},
		StatusClosed: {},
	},
}

func isTerminal(status string) bool {
	return status == StatusMerged || status == StatusClosed
}

type CreateProposalInput struct {
	DocumentID  string `json:"documentId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Draft       bool   `json:"draft"`
}

type ProposalPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Visibility  *string `json:"visibility"`
}

type ListProposalsInput struct {
	DocumentID string
	Status     string
	AuthorID   string
	Limit      int
	Offset     int
}

type ChangeInput struct {
	OldContent *string `json:"oldContent"`
	NewContent string  `json:"newContent"`
	Summary    string  `json:"summary"`
}

func canSeeProposal(session Session, p store.Proposal) bool {
	if p.Visibility != VisibilityPrivate {
		return true
	}
	if !session.Authenticated() {
		return false
	}
	return p.AuthorID == session.UserID || rbac.SeesPrivate(rbac.Normalize(session.Role))
}

func canManageProposal(session Session, p store.Proposal) bool {
	return session.Authenticated() && (p.AuthorID == session.UserID || isAdmin(session))
}

// loadVisibleProposal hides private proposals: anonymous callers are asked to
// authenticate, everybody else gets NotFound so existence does not leak.
func (s *Service) loadVisibleProposal(ctx context.Context, session Session, proposalID string) (store.Proposal, error) {
	if !util.IsUUID(proposalID) {
		return store.Proposal{}, notFound("Proposal")
	}
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Proposal{}, notFound("Proposal")
		}
		return store.Proposal{}, err
	}
	if !canSeeProposal(session, p) {
		if !session.Authenticated() {
			return store.Proposal{}, unauthorized()
		}
		return store.Proposal{}, notFound("Proposal")
	}
	return p, nil
}

func normalizeVisibility(raw string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "":
		return VisibilityPublic, nil
	case VisibilityPublic, VisibilityPrivate:
		return v, nil
	default:
		return "", validationError("visibility", "visibility must be public or private")
	}
}

func (s *Service) CreateProposal(ctx context.Context, session Session, input CreateProposalInput) (ProposalView, error) {
	if err := s.require(session, rbac.ActionPropose); err != nil {
		return ProposalView{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return ProposalView{}, validationError("title", "Title is required")
	}
	visibility, err := normalizeVisibility(input.Visibility)
	if err != nil {
		return ProposalView{}, err
	}
	doc, err := s.loadDocument(ctx, strings.TrimSpace(input.DocumentID))
	if err != nil {
		return ProposalView{}, err
	}
	if doc.Status == "archived" {
		return ProposalView{}, validationError("documentId", "Archived documents do not accept proposals")
	}

	status := StatusOpen
	if input.Draft {
		status = StatusDraft
	}
	created, err := s.store.InsertProposal(ctx, store.Proposal{
		DocumentID:  doc.ID,
		AuthorID:    session.UserID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Visibility:  visibility,
		Status:      status,
	})
	if err != nil {
		return ProposalView{}, err
	}
	if created.AuthorName == "" {
		created.AuthorName = session.UserName
	}
	s.log.Info().Str("proposal_id", created.ID).Str("document_id", doc.ID).Str("status", status).Msg("proposal created")
	s.indexProposal(created)
	return toProposalView(created), nil
}

func (s *Service) UpdateProposal(ctx context.Context, session Session, proposalID string, patch ProposalPatch) (ProposalView, error) {
	if !session.Authenticated() {
		return ProposalView{}, unauthorized()
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	if !canManageProposal(session, p) {
		return ProposalView{}, forbidden("Only the author or an administrator can edit this proposal")
	}
	if isTerminal(p.Status) {
		return ProposalView{}, validationError("status", "Merged or closed proposals cannot be edited")
	}

	if patch.Title != nil {
		p.Title = strings.TrimSpace(*patch.Title)
		if p.Title == "" {
			return ProposalView{}, validationError("title", "Title is required")
		}
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Visibility != nil {
		visibility, err := normalizeVisibility(*patch.Visibility)
		if err != nil {
			return ProposalView{}, err
		}
		p.Visibility = visibility
	}

	updated, err := s.store.UpdateProposal(ctx, p)
	if err != nil {
		return ProposalView{}, err
	}
	s.indexProposal(updated)
	return toProposalView(updated), nil
}

// TransitionProposal applies one edge of the status table. The store update
// is conditional on the status read here, so of two concurrent transitions
// only one applies and the other gets Conflict.
func (s *Service) TransitionProposal(ctx context.Context, session Session, proposalID, target string) (ProposalView, error) {
	if !session.Authenticated() {
		return ProposalView{}, unauthorized()
	}
	target = strings.ToLower(strings.TrimSpace(target))
	if _, ok := allowedProposalStatuses[target]; !ok {
		return ProposalView{}, validationError("status", "status must be one of draft, open, merged, closed")
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ProposalView{}, err
	}

	rule, ok := proposalTransitions[p.Status][target]
	if !ok {
		return ProposalView{}, validationError("status", fmt.Sprintf("Cannot move a proposal from %s to %s", p.Status, target))
	}
	if rule.adminOnly {
		if !s.Can(session.Role, rbac.ActionMerge) {
			return ProposalView{}, forbidden("Only administrators can merge proposals")
		}
	} else if !canManageProposal(session, p) {
		return ProposalView{}, forbidden("Only the author or an administrator can change this proposal's status")
	}

	updated, err := s.store.TransitionProposal(ctx, p.ID, p.Status, target, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			return ProposalView{}, conflict("Proposal status changed concurrently; reload and retry", err)
		}
		return ProposalView{}, err
	}
	s.metrics.RecordTransition(p.Status, target)
	s.log.Info().
		Str("proposal_id", p.ID).
		Str("from", p.Status).
		Str("to", target).
		Str("actor", session.UserID).
		Msg("proposal transitioned")

	s.indexProposal(updated)
	s.notifyStatusChange(session, p, updated)
	return toProposalView(updated), nil
}

// notifyStatusChange mails the author when somebody else moved their proposal.
func (s *Service) notifyStatusChange(session Session, before, after store.Proposal) {
	if s.mailer == nil || !s.mailer.IsConfigured() || before.AuthorID == session.UserID {
		return
	}
	s.goBackground("notify_status_change", func(ctx context.Context) error {
		author, err := s.store.GetUserByID(ctx, before.AuthorID)
		if err != nil {
			return fmt.Errorf("load proposal author: %w", err)
		}
		var documentTitle string
		if doc, err := s.store.GetDocument(ctx, before.DocumentID); err == nil {
			documentTitle = doc.Title
		}
		return s.mailer.SendStatusChange(notify.StatusChange{
			RecipientEmail: author.Email,
			RecipientName:  author.DisplayName,
			ProposalID:     after.ID,
			ProposalTitle:  after.Title,
			DocumentTitle:  documentTitle,
			FromStatus:     before.Status,
			ToStatus:       after.Status,
			ActorName:      session.UserName,
		})
	})
}

func (s *Service) GetProposal(ctx context.Context, session Session, proposalID string) (ProposalDetail, error) {
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ProposalDetail{}, err
	}
	counts, err := s.store.VoteCounts(ctx, p.ID)
	if err != nil {
		return ProposalDetail{}, err
	}
	detail := ProposalDetail{
		ProposalView: toProposalView(p),
		Likes:        counts.Likes,
		Dislikes:     counts.Dislikes,
	}
	if session.Authenticated() {
		detail.UserVote, err = s.store.UserVote(ctx, p.ID, session.UserID)
		if err != nil {
			return ProposalDetail{}, err
		}
	}
	return detail, nil
}

func (s *Service) ListProposals(ctx context.Context, session Session, input ListProposalsInput) (ProposalPage, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status != "" {
		if _, ok := allowedProposalStatuses[status]; !ok {
			return ProposalPage{}, validationError("status", "status must be one of draft, open, merged, closed")
		}
	}
	if input.DocumentID != "" && !util.IsUUID(input.DocumentID) {
		return ProposalPage{}, validationError("documentId", "documentId is not a document id")
	}
	if input.AuthorID != "" && !util.IsUUID(input.AuthorID) {
		return ProposalPage{}, validationError("authorId", "authorId is not a user id")
	}
	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.store.ListProposals(ctx, store.ProposalFilter{
		DocumentID:     input.DocumentID,
		Status:         status,
		AuthorID:       input.AuthorID,
		ViewerID:       session.UserID,
		IncludePrivate: rbac.SeesPrivate(rbac.Normalize(session.Role)),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		return ProposalPage{}, err
	}
	page := ProposalPage{Items: make([]ProposalView, 0, len(items)), Total: total, Limit: limit, Offset: offset}
	for _, p := range items {
		page.Items = append(page.Items, toProposalView(p))
	}
	return page, nil
}

// --- changes ---

func (s *Service) AddChange(ctx context.Context, session Session, proposalID string, input ChangeInput) (ChangeView, error) {
	if !session.Authenticated() {
		return ChangeView{}, unauthorized()
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ChangeView{}, err
	}
	if !canManageProposal(session, p) {
		return ChangeView{}, forbidden("Only the author or an administrator can add changes")
	}
	if isTerminal(p.Status) {
		return ChangeView{}, validationError("status", "Merged or closed proposals do not accept changes")
	}
	if strings.TrimSpace(input.NewContent) == "" {
		return ChangeView{}, validationError("newContent", "newContent is required")
	}

	change, err := s.store.AddChange(ctx, store.ProposedChange{
		ProposalID: p.ID,
		OldContent: input.OldContent,
		NewContent: input.NewContent,
		Summary:    strings.TrimSpace(input.Summary),
	})
	if err != nil {
		if errors.Is(err, store.ErrProposalTerminal) {
			return ChangeView{}, validationError("status", "Merged or closed proposals do not accept changes")
		}
		return ChangeView{}, err
	}
	return toChangeView(change), nil
}

func (s *Service) ListChanges(ctx context.Context, session Session, proposalID string) ([]ChangeView, error) {
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return nil, err
	}
	changes, err := s.store.ListChanges(ctx, p.ID, false)
	if err != nil {
		return nil, err
	}
	views := make([]ChangeView, 0, len(changes))
	for _, change := range changes {
		views = append(views, toChangeView(change))
	}
	return views, nil
}

// --- comments ---

func (s *Service) AddComment(ctx context.Context, session Session, proposalID, content string) (CommentView, error) {
	if err := s.require(session, rbac.ActionComment); err != nil {
		return CommentView{}, err
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return CommentView{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, validationError("content", "Comment cannot be empty")
	}
	comment, err := s.store.InsertComment(ctx, store.Comment{
		ProposalID: p.ID,
		AuthorID:   session.UserID,
		Content:    content,
	})
	if err != nil {
		return CommentView{}, err
	}
	if comment.AuthorName == "" {
		comment.AuthorName = session.UserName
	}
	return toCommentView(comment), nil
}

func (s *Service) ListComments(ctx context.Context, session Session, proposalID string) ([]CommentView, error) {
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		views = append(views, toCommentView(comment))
	}
	return views, nil
}

// loadOwnComment returns a comment the caller may edit: its author or an admin.
func (s *Service) loadOwnComment(ctx context.Context, session Session, commentID string) (store.Comment, error) {
	if !session.Authenticated() {
		return store.Comment{}, unauthorized()
	}
	if !util.IsUUID(commentID) {
		return store.Comment{}, notFound("Comment")
	}
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Comment{}, notFound("Comment")
		}
		return store.Comment{}, err
	}
	if _, err := s.loadVisibleProposal(ctx, session, comment.ProposalID); err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Code == CodeNotFound {
			return store.Comment{}, notFound("Comment")
		}
		return store.Comment{}, err
	}
	if comment.AuthorID != session.UserID && !isAdmin(session) {
		return store.Comment{}, forbidden("Only the author or an administrator can modify this comment")
	}
	return comment, nil
}

func (s *Service) UpdateComment(ctx context.Context, session Session, commentID, content string) (CommentView, error) {
	comment, err := s.loadOwnComment(ctx, session, commentID)
	if err != nil {
		return CommentView{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return CommentView{}, validationError("content", "Comment cannot be empty")
	}
	updated, err := s.store.UpdateComment(ctx, comment.ID, content)
	if err != nil {
		return CommentView{}, err
	}
	return toCommentView(updated), nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	comment, err := s.loadOwnComment(ctx, session, commentID)
	if err != nil {
		return err
	}
	return s.store.DeleteComment(ctx, comment.ID)
}

// --- votes ---

// CastVote toggles the caller's vote: a first vote is added, repeating the
// same kind removes it and the other kind replaces it.
func (s *Service) CastVote(ctx context.Context, session Session, proposalID, kind string) (VoteView, error) {
	if err := s.require(session, rbac.ActionVote); err != nil {
		return VoteView{}, err
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != "like" && kind != "dislike" {
		return VoteView{}, validationError("kind", "kind must be like or dislike")
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return VoteView{}, err
	}

	outcome, err := s.store.CastVote(ctx, p.ID, session.UserID, kind)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return VoteView{}, conflict("Vote changed concurrently; retry", err)
		}
		return VoteView{}, err
	}
	s.metrics.RecordVote(kind, string(outcome.Result))
	return VoteView{
		Result:       string(outcome.Result),
		Kind:         outcome.Kind,
		PreviousKind: outcome.PreviousKind,
		Likes:        outcome.Likes,
		Dislikes:     outcome.Dislikes,
	}, nil
}

// --- review cache ---

// GenerateFeedback sends the proposal's changes to the reviewer and caches
// the verdict. The call runs outside any transaction under the configured
// timeout; on failure the cached row is left as it was.
func (s *Service) GenerateFeedback(ctx context.Context, session Session, proposalID string) (ReviewView, error) {
	if err := s.require(session, rbac.ActionReview); err != nil {
		return ReviewView{}, err
	}
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ReviewView{}, err
	}
	changes, err := s.store.ListChanges(ctx, p.ID, true)
	if err != nil {
		return ReviewView{}, err
	}
	if len(changes) == 0 {
		return ReviewView{}, validationError("changes", "Proposal has no changes to review")
	}
	texts := make([]string, 0, len(changes))
	for _, change := range changes {
		texts = append(texts, change.NewContent)
	}

	reviewCtx, cancel := context.WithTimeout(ctx, s.cfg.ReviewTimeout)
	defer cancel()
	started := time.Now()
	verdict, err := s.reviewer.Review(reviewCtx, strings.Join(texts, feedbackSeparator))
	if err != nil {
		cause := reviewFailure(reviewCtx, err)
		s.metrics.RecordReviewCall("feedback", reviewOutcome(cause), time.Since(started))
		s.log.Warn().Err(err).Str("proposal_id", p.ID).Msg("feedback generation failed")
		return ReviewView{}, externalServiceError(cause)
	}
	s.metrics.RecordReviewCall("feedback", "ok", time.Since(started))

	cached, err := s.store.UpsertReview(ctx, store.Review{
		ProposalID: p.ID,
		Message:    verdict.Message,
		Approved:   verdict.Approved,
	}, len(changes))
	if err != nil {
		if errors.Is(err, store.ErrStaleReview) {
			return ReviewView{}, conflict("Proposal changes were modified during review; generate again", err)
		}
		return ReviewView{}, err
	}
	s.log.Info().Str("proposal_id", p.ID).Bool("approved", cached.Approved).Msg("feedback cached")
	return toReviewView(cached), nil
}

// GetFeedback returns the cached verdict; it never calls the reviewer.
func (s *Service) GetFeedback(ctx context.Context, session Session, proposalID string) (ReviewView, error) {
	p, err := s.loadVisibleProposal(ctx, session, proposalID)
	if err != nil {
		return ReviewView{}, err
	}
	cached, err := s.store.GetReview(ctx, p.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReviewView{}, notFound("Feedback")
		}
		return ReviewView{}, err
	}
	return toReviewView(cached), nil
}
