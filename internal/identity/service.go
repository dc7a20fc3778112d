package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

// RepositoryPort defines data access methods for principals.
type RepositoryPort interface {
	Create(ctx context.Context, p *Principal) error
	FindByEmail(ctx context.Context, email string) (*Principal, error)
	Resolve(ctx context.Context, ref shared.Ref) (*Principal, error)
}

// Service wraps registration and credential verification. Bearer tokens are
// opaque uuids stored in redis with a TTL; token format is not part of any
// contract.
type Service struct {
	repo     RepositoryPort
	redis    *redis.Client
	tokenTTL time.Duration
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, redisClient *redis.Client, tokenTTL time.Duration) *Service {
	return &Service{repo: repo, redis: redisClient, tokenTTL: tokenTTL}
}

func tokenKey(token string) string { return "token:" + token }

// Register creates a principal and issues a bearer token.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Principal, string, error) {
	if input.Name == "" || input.Email == "" {
		return nil, "", fmt.Errorf("%w: name and email required", httpx.ErrValidation)
	}
	if len(input.Passcode) < 4 {
		return nil, "", fmt.Errorf("%w: passcode must be at least 4 characters", httpx.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Passcode), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	p := &Principal{
		ID:           uuid.NewString(),
		Code:         shared.NewCode(),
		Name:         input.Name,
		Email:        input.Email,
		PasscodeHash: string(hash),
		Active:       true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, "", err
	}
	token, err := s.issueToken(ctx, p.ID)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Login verifies credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, passcode string) (*Principal, string, error) {
	p, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	}
	if !p.Active {
		return nil, "", fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasscodeHash), []byte(passcode)); err != nil {
		return nil, "", fmt.Errorf("%w: invalid credentials", httpx.ErrUnauthorized)
	}
	token, err := s.issueToken(ctx, p.ID)
	if err != nil {
		return nil, "", err
	}
	return p, token, nil
}

// Verify resolves an opaque credential to a principal id.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing credential", httpx.ErrUnauthorized)
	}
	id, err := s.redis.Get(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("%w: invalid credential", httpx.ErrUnauthorized)
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// Lookup resolves an identifier (durable id or public code) to a principal.
func (s *Service) Lookup(ctx context.Context, identifier string) (*Principal, error) {
	return s.repo.Resolve(ctx, shared.ParseRef(identifier))
}

func (s *Service) issueToken(ctx context.Context, principalID string) (string, error) {
	token := uuid.NewString()
	if err := s.redis.Set(ctx, tokenKey(token), principalID, s.tokenTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}
