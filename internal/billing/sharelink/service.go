package sharelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/billing-core/internal/billing/documents"
	"github.com/odyssey-erp/billing-core/internal/billing/shared"
)

// Documents is the subset of the document service used by share links.
type Documents interface {
	Get(ctx context.Context, kind shared.Kind, ownerID, id string) (documents.Document, error)
	SignQuote(ctx context.Context, ownerID, id, signature string) (documents.Document, error)
}

// Config tunes the service.
type Config struct {
	BaseURL  string
	CacheTTL time.Duration
	Language language.Tag
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Service issues, resolves and revokes share tokens.
type Service struct {
	repo   Repository
	docs   Documents
	redis  *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewService wires the service. redisClient may be nil to disable resolve caching.
func NewService(repo Repository, docs Documents, redisClient *redis.Client, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, docs: docs, redis: redisClient, cfg: cfg, logger: logger}
}

// NewToken returns 32 lowercase hex characters drawn from a CSPRNG.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("sharelink: generate token: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// GetOrCreate returns the document's token, minting one on first use.
func (s *Service) GetOrCreate(ctx context.Context, kind shared.Kind, documentID, ownerID string) (Token, error) {
	if _, err := s.docs.Get(ctx, kind, ownerID, documentID); err != nil {
		return Token{}, err
	}
	value, err := NewToken()
	if err != nil {
		return Token{}, err
	}
	return s.repo.Upsert(ctx, Token{
		Token:      value,
		Kind:       kind,
		DocumentID: documentID,
		OwnerID:    ownerID,
		IssuedAt:   s.cfg.Clock().UTC(),
	})
}

// IssueLink returns the token together with its public URL.
func (s *Service) IssueLink(ctx context.Context, kind shared.Kind, documentID, ownerID string) (Link, error) {
	token, err := s.GetOrCreate(ctx, kind, documentID, ownerID)
	if err != nil {
		return Link{}, err
	}
	return Link{Token: token.Token, URL: s.URL(kind, token.Token)}, nil
}

// URL builds the public address for a token.
func (s *Service) URL(kind shared.Kind, token string) string {
	return fmt.Sprintf("%s/%s/%s", s.cfg.BaseURL, kind.Slug(), token)
}

// Resolve maps a token to its document.
func (s *Service) Resolve(ctx context.Context, token string) (Ref, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Ref{}, shared.ErrTokenNotFound
	}
	if ref, ok := s.cached(ctx, token); ok {
		return ref, nil
	}
	stored, err := s.repo.Find(ctx, token)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{Kind: stored.Kind, DocumentID: stored.DocumentID, OwnerID: stored.OwnerID}
	s.store(ctx, token, ref)
	return ref, nil
}

// Revoke deletes the document's token so later resolves fail.
func (s *Service) Revoke(ctx context.Context, kind shared.Kind, documentID, ownerID string) error {
	token, err := s.repo.Delete(ctx, ownerID, kind, documentID)
	if err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(token)).Err(); err != nil {
			s.logger.Warn("sharelink cache evict", slog.Any("error", err))
		}
	}
	return nil
}

// PublicDocument renders the recipient view for a token of the given kind.
func (s *Service) PublicDocument(ctx context.Context, kind shared.Kind, token string) (PublicView, error) {
	doc, err := s.load(ctx, kind, token)
	if err != nil {
		return PublicView{}, err
	}
	return newPublicView(doc, s.cfg.Language), nil
}

// SignQuote signs the quote behind token on behalf of the recipient.
func (s *Service) SignQuote(ctx context.Context, token, signature string) (PublicView, error) {
	ref, err := s.resolveKind(ctx, shared.KindQuote, token)
	if err != nil {
		return PublicView{}, err
	}
	doc, err := s.docs.SignQuote(ctx, ref.OwnerID, ref.DocumentID, signature)
	if err != nil {
		return PublicView{}, err
	}
	return newPublicView(doc, s.cfg.Language), nil
}

func (s *Service) load(ctx context.Context, kind shared.Kind, token string) (documents.Document, error) {
	ref, err := s.resolveKind(ctx, kind, token)
	if err != nil {
		return documents.Document{}, err
	}
	doc, err := s.docs.Get(ctx, ref.Kind, ref.OwnerID, ref.DocumentID)
	if errors.Is(err, shared.ErrNotFound) {
		return documents.Document{}, shared.ErrTokenNotFound
	}
	return doc, err
}

func (s *Service) resolveKind(ctx context.Context, kind shared.Kind, token string) (Ref, error) {
	ref, err := s.Resolve(ctx, token)
	if err != nil {
		return Ref{}, err
	}
	if ref.Kind != kind {
		return Ref{}, shared.ErrTokenNotFound
	}
	return ref, nil
}

func cacheKey(token string) string {
	return "sharelink:" + token
}

func (s *Service) cached(ctx context.Context, token string) (Ref, bool) {
	if s.redis == nil {
		return Ref{}, false
	}
	raw, err := s.redis.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("sharelink cache read", slog.Any("error", err))
		}
		return Ref{}, false
	}
	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return Ref{}, false
	}
	return ref, true
}

func (s *Service) store(ctx context.Context, token string, ref Ref) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(ref)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(token), payload, s.cfg.CacheTTL).Err(); err != nil {
		s.logger.Warn("sharelink cache write", slog.Any("error", err))
	}
}
