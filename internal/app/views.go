package app

import (
	"time"

	"lexhub/api/internal/diff"
	"lexhub/api/internal/rbac"
	"lexhub/api/internal/store"
)

const dateLayout = "2006-01-02"

type UserView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	IsExpert    bool   `json:"isExpert"`
	IsAdmin     bool   `json:"isAdmin"`
}

func toUserView(user store.User) UserView {
	return UserView{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        string(rbac.FromFlags(user.IsExpert, user.IsAdmin)),
		IsExpert:    user.IsExpert,
		IsAdmin:     user.IsAdmin,
	}
}

type DocumentView struct {
	ID                string                   `json:"id"`
	Title             string                   `json:"title"`
	ShortTitle        string                   `json:"shortTitle"`
	Kind              string                   `json:"kind"`
	Status            string                   `json:"status"`
	PublishDate       *string                  `json:"publishDate"`
	LegislativeStages []store.LegislativeStage `json:"legislativeStages"`
	CurrentSnapshotID *string                  `json:"currentSnapshotId"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

func toDocumentView(doc store.Document) DocumentView {
	view := DocumentView{
		ID:                doc.ID,
		Title:             doc.Title,
		ShortTitle:        doc.ShortTitle,
		Kind:              doc.Kind,
		Status:            doc.Status,
		LegislativeStages: doc.Stages,
		CurrentSnapshotID: doc.CurrentSnapshotID,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if view.LegislativeStages == nil {
		view.LegislativeStages = []store.LegislativeStage{}
	}
	if doc.PublishDate != nil {
		date := doc.PublishDate.Format(dateLayout)
		view.PublishDate = &date
	}
	return view
}

type SnapshotView struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"documentId"`
	AuthorID         *string   `json:"authorId"`
	AuthorName       string    `json:"authorName"`
	VersionLabel     string    `json:"versionLabel"`
	CommitMessage    string    `json:"commitMessage"`
	ParentSnapshotID *string   `json:"parentSnapshotId"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toSnapshotView(snap store.Snapshot) SnapshotView {
	return SnapshotView{
		ID:               snap.ID,
		DocumentID:       snap.DocumentID,
		AuthorID:         snap.AuthorID,
		AuthorName:       snap.AuthorName,
		VersionLabel:     snap.VersionLabel,
		CommitMessage:    snap.CommitMessage,
		ParentSnapshotID: snap.ParentSnapshotID,
		CreatedAt:        snap.CreatedAt,
	}
}

func toSnapshotViews(snaps []store.Snapshot) []SnapshotView {
	views := make([]SnapshotView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, toSnapshotView(snap))
	}
	return views
}

type CompareResult struct {
	From    SnapshotView  `json:"from"`
	To      SnapshotView  `json:"to"`
	Records []diff.Record `json:"records"`
	Stats   diff.Stats    `json:"stats"`
}

type ProposalView struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"documentId"`
	AuthorID    string     `json:"authorId"`
	AuthorName  string     `json:"authorName"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Visibility  string     `json:"visibility"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	MergedAt    *time.Time `json:"mergedAt"`
	MergedBy    *string    `json:"mergedBy"`
}

func toProposalView(p store.Proposal) ProposalView {
	return ProposalView{
		ID:          p.ID,
		DocumentID:  p.DocumentID,
		AuthorID:    p.AuthorID,
		AuthorName:  p.AuthorName,
		Title:       p.Title,
		Description: p.Description,
		Visibility:  p.Visibility,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		MergedAt:    p.MergedAt,
		MergedBy:    p.MergedBy,
	}
}

// ProposalDetail is the single-proposal view with vote counts and the
// caller's own vote ("" when they have not voted or are anonymous).
type ProposalDetail struct {
	ProposalView
	Likes    int    `json:"likes"`
	Dislikes int    `json:"dislikes"`
	UserVote string `json:"userVote"`
}

type ProposalPage struct {
	Items  []ProposalView `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type ChangeView struct {
	ID         string    `json:"id"`
	ProposalID string    `json:"proposalId"`
	OldContent *string   `json:"oldContent"`
	NewContent string    `json:"newContent"`
	Summary    string    `json:"summary"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toChangeView(c store.ProposedChange) ChangeView {
	return ChangeView{
		ID:         c.ID,
		ProposalID: c.ProposalID,
		OldContent: c.OldContent,
		NewContent: c.NewContent,
		Summary:    c.Summary,
		CreatedAt:  c.CreatedAt,
	}
}

type CommentView struct {
	ID         string    `json:"id"`
	ProposalID string    `json:"proposalId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toCommentView(c store.Comment) CommentView {
	return CommentView{
		ID:         c.ID,
		ProposalID: c.ProposalID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Content:    c.Content,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

type VoteView struct {
	Result       string `json:"result"`
	Kind         string `json:"kind"`
	PreviousKind string `json:"previousKind,omitempty"`
	Likes        int    `json:"likes"`
	Dislikes     int    `json:"dislikes"`
}

type ReviewView struct {
	ProposalID string    `json:"proposalId"`
	Message    string    `json:"message"`
	Approved   bool      `json:"approved"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toReviewView(r store.Review) ReviewView {
	return ReviewView{
		ProposalID: r.ProposalID,
		Message:    r.Message,
		Approved:   r.Approved,
		CreatedAt:  r.CreatedAt,
	}
}
