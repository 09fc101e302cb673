package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	IsExpert     bool
	IsAdmin      bool
	CreatedAt    time.Time
}

// LegislativeStage is display metadata only; nothing in the workflow reads it.
type LegislativeStage struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Date   string `json:"date,omitempty"`
}

type Document struct {
	ID                string
	Title             string
	ShortTitle        string
	Kind              string
	Status            string
	PublishDate       *time.Time
	Stages            []LegislativeStage
	CurrentSnapshotID *string
	CreatedBy         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Snapshot struct {
	ID               string
	DocumentID       string
	AuthorID         *string
	AuthorName       string
	VersionLabel     string
	Content          string
	CommitMessage    string
	ParentSnapshotID *string
	CreatedAt        time.Time
}

// CommitParams describes one snapshot commit. When ExpectedParent is set the
// commit only succeeds if the document still points at that snapshot
// ("" means the document must have no snapshot yet).
type CommitParams struct {
	DocumentID     string
	AuthorID       string
	VersionLabel   string
	Content        string
	Message        string
	ExpectedParent *string
}

type Proposal struct {
	ID          string
	DocumentID  string
	AuthorID    string
	AuthorName  string
	Title       string
	Description string
	Visibility  string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MergedAt    *time.Time
	MergedBy    *string
}

// ProposalFilter narrows ListProposals. ViewerID/IncludePrivate decide which
// private proposals are returned; everything else is an exact match filter.
type ProposalFilter struct {
	DocumentID     string
	Status         string
	AuthorID       string
	ViewerID       string
	IncludePrivate bool
	Limit          int
	Offset         int
}

type ProposedChange struct {
	ID         string
	ProposalID string
	OldContent *string
	NewContent string
	Summary    string
	CreatedAt  time.Time
}

type Comment struct {
	ID         string
	ProposalID string
	AuthorID   string
	AuthorName string
	Content    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type VoteResult string

const (
	VoteAdded   VoteResult = "added"
	VoteRemoved VoteResult = "removed"
	VoteUpdated VoteResult = "updated"
)

// VoteOutcome is the result of one toggle plus the counts after it.
type VoteOutcome struct {
	Result       VoteResult
	Kind         string
	PreviousKind string
	Likes        int
	Dislikes     int
}

type VoteCounts struct {
	Likes    int
	Dislikes int
}

type Review struct {
	ID         string
	ProposalID string
	Message    string
	Approved   bool
	CreatedAt  time.Time
}
