package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultProposal ResultType = "proposal"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	Status     string     `json:"status,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
	AuthorID   string     `json:"-"`
}

// Query describes a search request. ViewerID and IncludePrivate apply the
// same proposal visibility rule as proposal listing.
type Query struct {
	Text           string
	FilterType     ResultType // empty = all types
	DocumentID     string
	Limit          int
	Offset         int
	ViewerID       string
	IncludePrivate bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Mode    string   `json:"mode"`
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ShortTitle string `json:"shortTitle"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
}

// ProposalRecord is the data we index for a proposal.
type ProposalRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DocumentID  string `json:"documentId"`
	AuthorID    string `json:"authorId"`
	Status      string `json:"status"`
	Visibility  string `json:"visibility"`
}

// visible reports whether a proposal hit may be shown to the querying viewer.
func (q Query) visible(r Result) bool {
	if r.Type != ResultProposal || r.Visibility == "public" || q.IncludePrivate {
		return true
	}
	return q.ViewerID != "" && r.AuthorID == q.ViewerID
}
