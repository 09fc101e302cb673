package search

import (
	"context"

	"github.com/rs/zerolog"
)

type searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

type indexer interface {
	searcher
	IndexDocument(doc DocumentRecord) error
	IndexProposal(p ProposalRecord) error
	IndexDocuments(documents []DocumentRecord) error
	IndexProposals(proposals []ProposalRecord) error
}

type recordLoader interface {
	searcher
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, []ProposalRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili indexer
	pgfts recordLoader
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, log zerolog.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Mode names the backend that would answer a query right now.
func (s *Service) Mode() string {
	switch {
	case s.meiliReady():
		return "meilisearch"
	case s.pgfts != nil:
		return "postgres"
	default:
		return "disabled"
	}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Backend failures degrade to an empty result rather than an error.
func (s *Service) Search(q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: filterVisible(results, q), Total: total, Query: q.Text, Mode: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text, Mode: "disabled"}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("postgres full-text search failed")
		return Response{Results: []Result{}, Query: q.Text, Mode: "postgres"}
	}
	return Response{Results: filterVisible(results, q), Total: total, Query: q.Text, Mode: "postgres"}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			s.log.Warn().Err(err).Str("document_id", doc.ID).Msg("index document")
		}
	}()
}

// IndexProposal indexes a proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexProposal(p ProposalRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexProposal(p); err != nil {
			s.log.Warn().Err(err).Str("proposal_id", p.ID).Msg("index proposal")
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(documents []DocumentRecord, proposals []ProposalRecord) {
	if !s.meiliReady() {
		return
	}
	if err := s.meili.IndexDocuments(documents); err != nil {
		s.log.Warn().Err(err).Msg("reindex documents")
	}
	if err := s.meili.IndexProposals(proposals); err != nil {
		s.log.Warn().Err(err).Msg("reindex proposals")
	}
}

// ReindexAllFromPG reloads every searchable row from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	documents, proposals, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	s.ReindexAll(documents, proposals)
	s.log.Info().Int("documents", len(documents)).Int("proposals", len(proposals)).Msg("search index rebuilt")
}

func filterVisible(results []Result, q Query) []Result {
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if q.visible(result) {
			filtered = append(filtered, result)
		}
	}
	return filtered
}
