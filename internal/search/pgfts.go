package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches with PostgreSQL full-text search; used when Meilisearch is
// missing or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Postgres being down takes the whole API down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over documents and proposals ranked by ts_rank,
// with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if (q.FilterType == "" || q.FilterType == ResultDocument) && q.DocumentID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id::text AS id, d.title,
				ts_headline('simple', coalesce(d.short_title, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id::text AS document_id, d.status,
				''::text AS visibility, ''::text AS author_id,
				ts_rank(d.search_vector, %s) AS rank
			FROM documents d
			WHERE d.search_vector @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultProposal {
		where := "p.search_vector @@ " + tsQuery
		if q.DocumentID != "" {
			where += fmt.Sprintf(" AND p.document_id = $%d::uuid", argN)
			args = append(args, q.DocumentID)
			argN++
		}
		if !q.IncludePrivate {
			if q.ViewerID != "" {
				where += fmt.Sprintf(" AND (p.visibility = 'public' OR p.author_id = $%d::uuid)", argN)
				args = append(args, q.ViewerID)
				argN++
			} else {
				where += " AND p.visibility = 'public'"
			}
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'proposal'::text AS type, p.id::text AS id, p.title,
				ts_headline('simple', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.document_id::text AS document_id, p.status,
				p.visibility, p.author_id::text AS author_id,
				ts_rank(p.search_vector, %s) AS rank
			FROM proposals p
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, status, visibility, author_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Status, &r.Visibility, &r.AuthorID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []ProposalRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, short_title, kind, status
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.ShortTitle, &d.Kind, &d.Status); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	proposalRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, title, description, document_id::text, author_id::text, status, visibility
		FROM proposals
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposals: %w", err)
	}
	defer proposalRows.Close()

	proposals := make([]ProposalRecord, 0)
	for proposalRows.Next() {
		var pr ProposalRecord
		if err := proposalRows.Scan(&pr.ID, &pr.Title, &pr.Description, &pr.DocumentID, &pr.AuthorID, &pr.Status, &pr.Visibility); err != nil {
			return nil, nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, pr)
	}
	if err := proposalRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate proposals: %w", err)
	}

	return documents, proposals, nil
}
