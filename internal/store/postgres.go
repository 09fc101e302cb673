package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lexhub/api/internal/logger"
	"lexhub/api/internal/metrics"
)

type PostgresStore struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, log: logger.Nop()}
}

// WithObserver attaches logging and metrics to transactional operations.
func (s *PostgresStore) WithObserver(l zerolog.Logger, m *metrics.Metrics) *PostgresStore {
	s.log = logger.Component(l, "store")
	s.metrics = m
	return s
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) observe(operation string, started time.Time, err *error) {
	duration := time.Since(started)
	logger.LogDBOperation(s.log, operation, duration, *err)
	s.metrics.RecordDBOperation(operation, *err, duration)
}

// withTx runs fn in a transaction, rolling back on error or panic.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	value := ns.String
	return &value
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	value := nt.Time
	return &value
}

// --- users ---

const userColumns = `id, email, display_name, password_hash, is_expert, is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.IsExpert, &user.IsAdmin, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash, is_expert, is_admin)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		user.Email, user.DisplayName, user.PasswordHash, user.IsExpert, user.IsAdmin)
	created, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", translate(err))
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) SetUserFlags(ctx context.Context, userID string, isExpert, isAdmin bool) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users SET is_expert=$2, is_admin=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, userID, isExpert, isAdmin)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// PromoteAdminByEmail sets is_admin for the bootstrap account if it exists.
func (s *PostgresStore) PromoteAdminByEmail(ctx context.Context, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin=TRUE, updated_at=NOW() WHERE LOWER(email)=LOWER($1) AND NOT is_admin`, email)
	if err != nil {
		return false, fmt.Errorf("promote admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("promote admin rows: %w", err)
	}
	return n > 0, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- documents ---

const documentColumns = `id, title, short_title, kind, status, publish_date, legislative_stages, current_snapshot_id, created_by, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var (
		item      Document
		publish   sql.NullTime
		stagesRaw []byte
		current   sql.NullString
		createdBy sql.NullString
	)
	if err := row.Scan(&item.ID, &item.Title, &item.ShortTitle, &item.Kind, &item.Status, &publish, &stagesRaw, &current, &createdBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Document{}, err
	}
	item.PublishDate = nullTime(publish)
	item.CurrentSnapshotID = nullString(current)
	item.CreatedBy = nullString(createdBy)
	item.Stages = []LegislativeStage{}
	if len(stagesRaw) > 0 {
		if err := json.Unmarshal(stagesRaw, &item.Stages); err != nil {
			return Document{}, fmt.Errorf("decode legislative stages: %w", err)
		}
	}
	return item, nil
}

func encodeStages(stages []LegislativeStage) (string, error) {
	if stages == nil {
		stages = []LegislativeStage{}
	}
	raw, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("encode legislative stages: %w", err)
	}
	return string(raw), nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, includeArchived bool) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE $1 OR status <> 'archived'
		ORDER BY updated_at DESC
	`, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID))
}

// InsertDocument creates the document and, when initial is non-nil, its
// first snapshot in the same transaction.
func (s *PostgresStore) InsertDocument(ctx context.Context, item Document, initial *CommitParams) (doc Document, snap *Snapshot, err error) {
	defer s.observe("insert_document", time.Now(), &err)

	stages, err := encodeStages(item.Stages)
	if err != nil {
		return Document{}, nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		created, err := scanDocument(tx.QueryRowContext(ctx, `
			INSERT INTO documents (title, short_title, kind, status, publish_date, legislative_stages, created_by)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, NULLIF($7, '')::uuid)
			RETURNING `+documentColumns,
			item.Title, item.ShortTitle, item.Kind, item.Status, item.PublishDate, stages, derefString(item.CreatedBy)))
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		doc = created
		if initial == nil {
			return nil
		}
		params := *initial
		params.DocumentID = created.ID
		first, err := commitInTx(ctx, tx, params)
		if err != nil {
			return err
		}
		doc.CurrentSnapshotID = &first.ID
		snap = &first
		return nil
	})
	if err != nil {
		return Document{}, nil, err
	}
	return doc, snap, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) (Document, error) {
	stages, err := encodeStages(item.Stages)
	if err != nil {
		return Document{}, err
	}
	updated, err := scanDocument(s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET title=$2, short_title=$3, kind=$4, status=$5, publish_date=$6, legislative_stages=$7::jsonb, updated_at=NOW()
		WHERE id=$1
		RETURNING `+documentColumns,
		item.ID, item.Title, item.ShortTitle, item.Kind, item.Status, item.PublishDate, stages))
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	return updated, nil
}

// --- snapshots ---

func scanSnapshot(row interface{ Scan(...any) error }, withContent bool) (Snapshot, error) {
	var (
		item   Snapshot
		author sql.NullString
		name   sql.NullString
		parent sql.NullString
	)
	dest := []any{&item.ID, &item.DocumentID, &author, &name, &item.VersionLabel, &item.CommitMessage, &parent, &item.CreatedAt}
	if withContent {
		dest = append(dest, &item.Content)
	}
	if err := row.Scan(dest...); err != nil {
		return Snapshot{}, err
	}
	item.AuthorID = nullString(author)
	item.AuthorName = name.String
	item.ParentSnapshotID = nullString(parent)
	return item, nil
}

const snapshotSelect = `
	SELECT s.id, s.document_id, s.author_id, u.display_name, s.version_label, s.commit_message, s.parent_snapshot_id, s.created_at`

// CommitSnapshot appends a snapshot and advances the document pointer in one
// transaction. The document row is locked for the duration, and the pointer
// update is a compare-and-swap against the parent captured under that lock.
func (s *PostgresStore) CommitSnapshot(ctx context.Context, params CommitParams) (snap Snapshot, err error) {
	defer s.observe("commit_snapshot", time.Now(), &err)
	defer func() {
		status := "ok"
		switch {
		case errors.Is(err, ErrStaleParent):
			status = "stale"
		case errors.Is(err, ErrConflict):
			status = "conflict"
		case err != nil:
			status = "error"
		}
		s.metrics.RecordSnapshotCommit(status)
	}()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var commitErr error
		snap, commitErr = commitInTx(ctx, tx, params)
		return commitErr
	})
	return snap, err
}

func commitInTx(ctx context.Context, tx *sql.Tx, params CommitParams) (Snapshot, error) {
	var current sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT current_snapshot_id FROM documents WHERE id=$1 FOR UPDATE`, params.DocumentID).Scan(&current)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lock document: %w", err)
	}
	if params.ExpectedParent != nil && *params.ExpectedParent != current.String {
		return Snapshot{}, ErrStaleParent
	}

	var snap Snapshot
	err = tx.QueryRowContext(ctx, `
		INSERT INTO snapshots (document_id, author_id, version_label, content, commit_message, parent_snapshot_id)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6::uuid)
		RETURNING id, created_at
	`, params.DocumentID, params.AuthorID, params.VersionLabel, params.Content, params.Message, nullableParam(current)).Scan(&snap.ID, &snap.CreatedAt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", translate(err))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET current_snapshot_id=$2, updated_at=NOW()
		WHERE id=$1 AND current_snapshot_id IS NOT DISTINCT FROM $3::uuid
	`, params.DocumentID, snap.ID, nullableParam(current))
	if err != nil {
		return Snapshot{}, fmt.Errorf("advance current snapshot: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Snapshot{}, fmt.Errorf("advance current snapshot rows: %w", err)
	} else if n == 0 {
		return Snapshot{}, ErrStaleParent
	}

	snap.DocumentID = params.DocumentID
	if params.AuthorID != "" {
		author := params.AuthorID
		snap.AuthorID = &author
	}
	snap.VersionLabel = params.VersionLabel
	snap.Content = params.Content
	snap.CommitMessage = params.Message
	snap.ParentSnapshotID = nullString(current)
	return snap, nil
}

func nullableParam(ns sql.NullString) any {
	if !ns.Valid {
		return nil
	}
	return ns.String
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, snapshotID string) (Snapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx, snapshotSelect+`, s.content
		FROM snapshots s
		LEFT JOIN users u ON u.id = s.author_id
		WHERE s.id=$1
	`, snapshotID), true)
}

// ListSnapshots returns every snapshot of a document without content, newest first.
func (s *PostgresStore) ListSnapshots(ctx context.Context, documentID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotSelect+`
		FROM snapshots s
		LEFT JOIN users u ON u.id = s.author_id
		WHERE s.document_id=$1
		ORDER BY s.created_at DESC, s.id DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	items := make([]Snapshot, 0)
	for rows.Next() {
		item, err := scanSnapshot(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return items, nil
}

// --- proposals ---

const proposalSelect = `
	SELECT p.id, p.document_id, p.author_id, COALESCE(u.display_name, ''), p.title, p.description, p.visibility, p.status,
		p.created_at, p.updated_at, p.merged_at, p.merged_by`

func scanProposal(row interface{ Scan(...any) error }) (Proposal, error) {
	var (
		item     Proposal
		mergedAt sql.NullTime
		mergedBy sql.NullString
	)
	if err := row.Scan(&item.ID, &item.DocumentID, &item.AuthorID, &item.AuthorName, &item.Title, &item.Description, &item.Visibility, &item.Status,
		&item.CreatedAt, &item.UpdatedAt, &mergedAt, &mergedBy); err != nil {
		return Proposal{}, err
	}
	item.MergedAt = nullTime(mergedAt)
	item.MergedBy = nullString(mergedBy)
	return item, nil
}

func (s *PostgresStore) InsertProposal(ctx context.Context, item Proposal) (Proposal, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO proposals (document_id, author_id, title, description, visibility, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.DocumentID, item.AuthorID, item.Title, item.Description, item.Visibility, item.Status).Scan(&id)
	if err != nil {
		return Proposal{}, fmt.Errorf("insert proposal: %w", translate(err))
	}
	return s.GetProposal(ctx, id)
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	return scanProposal(s.db.QueryRowContext(ctx, proposalSelect+`
		FROM proposals p
		LEFT JOIN users u ON u.id = p.author_id
		WHERE p.id=$1
	`, proposalID))
}

// proposalFilterWhere applies the visibility rule in SQL so private proposals
// never count towards pagination for viewers who may not see them.
const proposalFilterWhere = `
	WHERE ($1 = '' OR p.document_id::text = $1)
		AND ($2 = '' OR p.status = $2)
		AND ($3 = '' OR p.author_id::text = $3)
		AND (p.visibility = 'public' OR $4 OR ($5 <> '' AND p.author_id::text = $5))`

// ListProposals returns one page of proposals and the number matching the
// filter overall, which stays accurate when offset runs past the last row.
func (s *PostgresStore) ListProposals(ctx context.Context, filter ProposalFilter) ([]Proposal, int, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args := []any{filter.DocumentID, filter.Status, filter.AuthorID, filter.IncludePrivate, filter.ViewerID}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals p`+proposalFilterWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count proposals: %w", err)
	}
	items := make([]Proposal, 0)
	if total == 0 || offset >= total {
		return items, total, nil
	}

	rows, err := s.db.QueryContext(ctx, proposalSelect+`
		FROM proposals p
		LEFT JOIN users u ON u.id = p.author_id`+proposalFilterWhere+`
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $6 OFFSET $7
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, item Proposal) (Proposal, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET title=$2, description=$3, visibility=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Visibility)
	if err != nil {
		return Proposal{}, fmt.Errorf("update proposal: %w", err)
	}
	if err := expectRow(res); err != nil {
		return Proposal{}, err
	}
	return s.GetProposal(ctx, item.ID)
}

// TransitionProposal moves a proposal from one status to another. The update
// is conditional on the current status so concurrent transitions cannot both
// apply.
func (s *PostgresStore) TransitionProposal(ctx context.Context, proposalID, from, to, actorID string) (item Proposal, err error) {
	defer s.observe("transition_proposal", time.Now(), &err)

	res, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status=$3,
			updated_at=NOW(),
			merged_at=CASE WHEN $3 = 'merged' THEN NOW() ELSE merged_at END,
			merged_by=CASE WHEN $3 = 'merged' THEN $4::uuid ELSE merged_by END
		WHERE id=$1 AND status=$2
	`, proposalID, from, to, actorID)
	if err != nil {
		return Proposal{}, fmt.Errorf("transition proposal: %w", err)
	}
	if err := expectRow(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Proposal{}, ErrStatusChanged
		}
		return Proposal{}, err
	}
	return s.GetProposal(ctx, proposalID)
}

// --- changes ---

func (s *PostgresStore) ListChanges(ctx context.Context, proposalID string, newestFirst bool) ([]ProposedChange, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposal_id, old_content, new_content, summary, created_at
		FROM proposal_changes
		WHERE proposal_id=$1
		ORDER BY created_at `+order+`, id `+order, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	items := make([]ProposedChange, 0)
	for rows.Next() {
		var (
			item ProposedChange
			old  sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.ProposalID, &old, &item.NewContent, &item.Summary, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		item.OldContent = nullString(old)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return items, nil
}

// AddChange appends a change and drops the cached review in one transaction.
// The proposal row is locked so a concurrent merge or close is observed.
func (s *PostgresStore) AddChange(ctx context.Context, item ProposedChange) (change ProposedChange, err error) {
	defer s.observe("add_change", time.Now(), &err)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id=$1 FOR UPDATE`, item.ProposalID).Scan(&status); err != nil {
			return fmt.Errorf("lock proposal: %w", err)
		}
		if status == "merged" || status == "closed" {
			return ErrProposalTerminal
		}

		change = item
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO proposal_changes (proposal_id, old_content, new_content, summary)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, item.ProposalID, item.OldContent, item.NewContent, item.Summary).Scan(&change.ID, &change.CreatedAt); err != nil {
			return fmt.Errorf("insert change: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM proposal_reviews WHERE proposal_id=$1`, item.ProposalID); err != nil {
			return fmt.Errorf("invalidate review: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE proposals SET updated_at=NOW() WHERE id=$1`, item.ProposalID); err != nil {
			return fmt.Errorf("touch proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return ProposedChange{}, err
	}
	return change, nil
}

// --- comments ---

const commentSelect = `
	SELECT c.id, c.proposal_id, c.author_id, COALESCE(u.display_name, ''), c.content, c.created_at, c.updated_at
	FROM proposal_comments c
	LEFT JOIN users u ON u.id = c.author_id`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	err := row.Scan(&item.ID, &item.ProposalID, &item.AuthorID, &item.AuthorName, &item.Content, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO proposal_comments (proposal_id, author_id, content)
		VALUES ($1, $2, $3)
		RETURNING id
	`, item.ProposalID, item.AuthorID, item.Content).Scan(&id)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", translate(err))
	}
	return s.GetComment(ctx, id)
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, commentSelect+` WHERE c.id=$1`, commentID))
}

func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, content string) (Comment, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE proposal_comments SET content=$2, updated_at=NOW() WHERE id=$1`, commentID, content)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if err := expectRow(res); err != nil {
		return Comment{}, err
	}
	return s.GetComment(ctx, commentID)
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proposal_comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return expectRow(res)
}

func (s *PostgresStore) ListComments(ctx context.Context, proposalID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelect+`
		WHERE c.proposal_id=$1
		ORDER BY c.created_at ASC, c.id ASC
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// --- votes ---

// CastVote toggles a user's vote on a proposal in one transaction:
// no vote inserts, the same kind deletes, a different kind updates in place.
// The (proposal_id, user_id) unique key serializes concurrent first votes; the
// loser of that race re-reads the winner's row under lock and toggles it.
func (s *PostgresStore) CastVote(ctx context.Context, proposalID, userID, kind string) (outcome VoteOutcome, err error) {
	defer s.observe("cast_vote", time.Now(), &err)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		outcome = VoteOutcome{Kind: kind}
		for attempt := 0; attempt < 2; attempt++ {
			var existing string
			err := tx.QueryRowContext(ctx, `
				SELECT vote_type FROM proposal_votes
				WHERE proposal_id=$1 AND user_id=$2
				FOR UPDATE
			`, proposalID, userID).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				res, err := tx.ExecContext(ctx, `
					INSERT INTO proposal_votes (proposal_id, user_id, vote_type)
					VALUES ($1, $2, $3)
					ON CONFLICT (proposal_id, user_id) DO NOTHING
				`, proposalID, userID, kind)
				if err != nil {
					return fmt.Errorf("insert vote: %w", err)
				}
				if n, _ := res.RowsAffected(); n == 0 {
					continue
				}
				outcome.Result = VoteAdded
			case err != nil:
				return fmt.Errorf("lookup vote: %w", err)
			case existing == kind:
				if _, err := tx.ExecContext(ctx, `DELETE FROM proposal_votes WHERE proposal_id=$1 AND user_id=$2`, proposalID, userID); err != nil {
					return fmt.Errorf("delete vote: %w", err)
				}
				outcome.Result = VoteRemoved
				outcome.PreviousKind = existing
			default:
				if _, err := tx.ExecContext(ctx, `
					UPDATE proposal_votes SET vote_type=$3, created_at=NOW()
					WHERE proposal_id=$1 AND user_id=$2
				`, proposalID, userID, kind); err != nil {
					return fmt.Errorf("update vote: %w", err)
				}
				outcome.Result = VoteUpdated
				outcome.PreviousKind = existing
			}
			counts, err := voteCounts(ctx, tx, proposalID)
			if err != nil {
				return err
			}
			outcome.Likes, outcome.Dislikes = counts.Likes, counts.Dislikes
			return nil
		}
		return fmt.Errorf("%w: concurrent vote", ErrConflict)
	})
	return outcome, err
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func voteCounts(ctx context.Context, q queryRower, proposalID string) (VoteCounts, error) {
	var counts VoteCounts
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE vote_type='like'), COUNT(*) FILTER (WHERE vote_type='dislike')
		FROM proposal_votes
		WHERE proposal_id=$1
	`, proposalID).Scan(&counts.Likes, &counts.Dislikes)
	if err != nil {
		return VoteCounts{}, fmt.Errorf("count votes: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) VoteCounts(ctx context.Context, proposalID string) (VoteCounts, error) {
	return voteCounts(ctx, s.db, proposalID)
}

// UserVote returns the caller's vote kind or "" when they have not voted.
func (s *PostgresStore) UserVote(ctx context.Context, proposalID, userID string) (string, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, `SELECT vote_type FROM proposal_votes WHERE proposal_id=$1 AND user_id=$2`, proposalID, userID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup vote: %w", err)
	}
	return kind, nil
}

// --- reviews ---

// UpsertReview replaces the cached review for a proposal. changeCount is the
// number of changes the review was computed from. The proposal row is locked
// the same way AddChange locks it, so the count check and the write cannot
// interleave with a new change.
func (s *PostgresStore) UpsertReview(ctx context.Context, item Review, changeCount int) (review Review, err error) {
	defer s.observe("upsert_review", time.Now(), &err)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT 1 FROM proposals WHERE id=$1 FOR UPDATE`, item.ProposalID); err != nil {
			return fmt.Errorf("lock proposal: %w", err)
		}

		var current int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_changes WHERE proposal_id=$1`, item.ProposalID).Scan(&current); err != nil {
			return fmt.Errorf("count changes: %w", err)
		}
		if current != changeCount {
			return ErrStaleReview
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO proposal_reviews (proposal_id, message, approved)
			VALUES ($1, $2, $3)
			ON CONFLICT (proposal_id) DO UPDATE
			SET message=EXCLUDED.message, approved=EXCLUDED.approved, created_at=NOW()
			RETURNING id, proposal_id, message, approved, created_at
		`, item.ProposalID, item.Message, item.Approved).Scan(&review.ID, &review.ProposalID, &review.Message, &review.Approved, &review.CreatedAt); err != nil {
			return fmt.Errorf("upsert review: %w", err)
		}
		return nil
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

func (s *PostgresStore) GetReview(ctx context.Context, proposalID string) (Review, error) {
	var review Review
	err := s.db.QueryRowContext(ctx, `
		SELECT id, proposal_id, message, approved, created_at
		FROM proposal_reviews
		WHERE proposal_id=$1
	`, proposalID).Scan(&review.ID, &review.ProposalID, &review.Message, &review.Approved, &review.CreatedAt)
	if err != nil {
		return Review{}, err
	}
	return review, nil
}
