package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lexhub/api/internal/auth"
	"lexhub/api/internal/authpw"
	"lexhub/api/internal/config"
	"lexhub/api/internal/export"
	"lexhub/api/internal/gitrepo"
	"lexhub/api/internal/metrics"
	"lexhub/api/internal/notify"
	"lexhub/api/internal/rbac"
	"lexhub/api/internal/review"
	"lexhub/api/internal/search"
	"lexhub/api/internal/session"
	"lexhub/api/internal/store"
	"lexhub/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Authenticated() bool {
	return s.UserID != ""
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserPassword(context.Context, string, string) error
	SetUserFlags(context.Context, string, bool, bool) (store.User, error)
	PromoteAdminByEmail(context.Context, string) (bool, error)

	ListDocuments(context.Context, bool) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document, *store.CommitParams) (store.Document, *store.Snapshot, error)
	UpdateDocument(context.Context, store.Document) (store.Document, error)

	CommitSnapshot(context.Context, store.CommitParams) (store.Snapshot, error)
	GetSnapshot(context.Context, string) (store.Snapshot, error)
	ListSnapshots(context.Context, string) ([]store.Snapshot, error)

	InsertProposal(context.Context, store.Proposal) (store.Proposal, error)
	GetProposal(context.Context, string) (store.Proposal, error)
	ListProposals(context.Context, store.ProposalFilter) ([]store.Proposal, int, error)
	UpdateProposal(context.Context, store.Proposal) (store.Proposal, error)
	TransitionProposal(context.Context, string, string, string, string) (store.Proposal, error)

	ListChanges(context.Context, string, bool) ([]store.ProposedChange, error)
	AddChange(context.Context, store.ProposedChange) (store.ProposedChange, error)

	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	UpdateComment(context.Context, string, string) (store.Comment, error)
	DeleteComment(context.Context, string) error
	ListComments(context.Context, string) ([]store.Comment, error)

	CastVote(context.Context, string, string, string) (store.VoteOutcome, error)
	VoteCounts(context.Context, string) (store.VoteCounts, error)
	UserVote(context.Context, string, string) (string, error)

	UpsertReview(context.Context, store.Review, int) (store.Review, error)
	GetReview(context.Context, string) (store.Review, error)
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	ConsumeRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type gitMirror interface {
	MirrorSnapshot(gitrepo.Entry) (gitrepo.CommitInfo, error)
	History(string, int) ([]gitrepo.CommitInfo, error)
	ContentAt(string, string) (string, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	Mode() string
	IndexDocument(search.DocumentRecord)
	IndexProposal(search.ProposalRecord)
}

type exporter interface {
	Export(context.Context, export.Snapshot, export.Format) (*export.Result, error)
}

type notifier interface {
	IsConfigured() bool
	SendStatusChange(notify.StatusChange) error
}

// Deps are the collaborators wired by main. Everything except Store and
// Sessions is optional.
type Deps struct {
	Store    *store.PostgresStore
	Sessions *session.RedisStore
	Git      *gitrepo.Service
	Search   *search.Service
	Exporter *export.Service
	Mailer   *notify.Mailer
	Reviewer review.Reviewer
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	git       gitMirror
	search    searchIndex
	exporter  exporter
	mailer    notifier
	reviewer  review.Reviewer
	passwords *authpw.Service
	log       zerolog.Logger
	metrics   *metrics.Metrics

	background sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Sessions,
		reviewer: deps.Reviewer,
		log:      deps.Log,
		metrics:  deps.Metrics,
	}
	// Typed nils would make the optional collaborators look configured.
	if deps.Git != nil {
		s.git = deps.Git
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	if deps.Mailer != nil {
		s.mailer = deps.Mailer
	}
	if s.reviewer == nil {
		s.reviewer = review.Disabled{}
	}
	if deps.Store != nil {
		s.passwords = authpw.NewService(deps.Store)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchMode reports which backend answers search queries.
func (s *Service) SearchMode() string {
	if s.search == nil {
		return "disabled"
	}
	return s.search.Mode()
}

// Wait blocks until background side effects (mirroring, indexing, mail) finish.
func (s *Service) Wait() {
	s.background.Wait()
}

// goBackground runs a best-effort side effect after a commit. Failures are
// logged and never reach the caller.
func (s *Service) goBackground(name string, fn func(ctx context.Context) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Warn().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// require checks that the caller may perform action. Reads are open to
// anonymous callers; everything else needs a session first.
func (s *Service) require(session Session, action rbac.Action) error {
	if action == rbac.ActionRead {
		return nil
	}
	if !session.Authenticated() {
		return unauthorized()
	}
	if !s.Can(session.Role, action) {
		return forbidden("")
	}
	return nil
}

func isAdmin(session Session) bool {
	return rbac.Normalize(session.Role) == rbac.RoleAdmin
}

// --- authentication ---

func (s *Service) Register(ctx context.Context, email, password, displayName string) (Session, error) {
	if s.passwords == nil {
		return Session{}, errors.New("password authentication not configured")
	}
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return s.issueSession(ctx, user)
}

func (s *Service) LoginWithPassword(ctx context.Context, email, password string) (Session, error) {
	if s.passwords == nil {
		return Session{}, errors.New("password authentication not configured")
	}
	user, err := s.passwords.Login(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) ChangePassword(ctx context.Context, session Session, current, next string) error {
	if !session.Authenticated() {
		return unauthorized()
	}
	if s.passwords == nil {
		return errors.New("password authentication not configured")
	}
	return s.passwords.ChangePassword(ctx, session.UserID, current, next)
}

// Refresh rotates a refresh token: the old one is consumed atomically, so a
// replayed token fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, unauthorized()
	}
	userID, err := s.sessions.ConsumeRefreshSession(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("consume refresh session: %w", err)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	role := string(rbac.FromFlags(user.IsExpert, user.IsAdmin))
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, role, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
	}, nil
}

// SessionFromToken validates an access token. The role is re-derived from the
// user row so flag changes apply without re-login.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      string(rbac.FromFlags(user.IsExpert, user.IsAdmin)),
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.log.Warn().Err(err).Msg("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.log.Warn().Err(err).Msg("revoke refresh session")
		}
	}
	return nil
}

// --- users ---

func (s *Service) SetUserFlags(ctx context.Context, session Session, userID string, isExpert, isAdmin bool) (UserView, error) {
	if err := s.require(session, rbac.ActionAdmin); err != nil {
		return UserView{}, err
	}
	if !util.IsUUID(userID) {
		return UserView{}, notFound("User")
	}
	if userID == session.UserID && !isAdmin {
		return UserView{}, validationError("isAdmin", "Administrators cannot remove their own admin flag")
	}
	user, err := s.store.SetUserFlags(ctx, userID, isExpert, isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserView{}, notFound("User")
		}
		return UserView{}, err
	}
	s.log.Info().Str("user_id", userID).Bool("expert", isExpert).Bool("admin", isAdmin).Str("by", session.UserID).Msg("user flags changed")
	return toUserView(user), nil
}

// BootstrapAdmin promotes the configured account, if it exists.
func (s *Service) BootstrapAdmin(ctx context.Context) error {
	email := s.cfg.BootstrapAdminEmail
	if email == "" {
		return nil
	}
	promoted, err := s.store.PromoteAdminByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("promote bootstrap admin: %w", err)
	}
	if promoted {
		s.log.Info().Str("email", email).Msg("bootstrap admin promoted")
	} else {
		s.log.Warn().Str("email", email).Msg("bootstrap admin account not found")
	}
	return nil
}

// --- search ---

func (s *Service) Search(ctx context.Context, session Session, text, resultType, documentID string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q", "Search query is required")
	}
	switch search.ResultType(resultType) {
	case "", search.ResultDocument, search.ResultProposal:
	default:
		return search.Response{}, validationError("type", "type must be document or proposal")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text, Mode: "disabled"}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterType:     search.ResultType(resultType),
		DocumentID:     documentID,
		Limit:          limit,
		Offset:         offset,
		ViewerID:       session.UserID,
		IncludePrivate: rbac.SeesPrivate(rbac.Normalize(session.Role)),
	}), nil
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:         doc.ID,
		Title:      doc.Title,
		ShortTitle: doc.ShortTitle,
		Kind:       doc.Kind,
		Status:     doc.Status,
	})
}

func (s *Service) indexProposal(p store.Proposal) {
	if s.search == nil {
		return
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		DocumentID:  p.DocumentID,
		AuthorID:    p.AuthorID,
		Status:      p.Status,
		Visibility:  p.Visibility,
	})
}
