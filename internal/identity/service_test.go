package identity

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pactform/pactform/internal/platform/httpx"
	"github.com/pactform/pactform/internal/shared"
)

type memoryPrincipalRepo struct {
	byID    map[string]*Principal
	byEmail map[string]*Principal
}

func newMemoryPrincipalRepo() *memoryPrincipalRepo {
	return &memoryPrincipalRepo{
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]*Principal),
	}
}

func (m *memoryPrincipalRepo) Create(_ context.Context, p *Principal) error {
	if _, ok := m.byEmail[p.Email]; ok {
		return fmt.Errorf("%w: email already registered", httpx.ErrConflict)
	}
	p.CreatedAt = time.Now().UTC()
	cp := *p
	m.byID[p.ID] = &cp
	m.byEmail[p.Email] = &cp
	return nil
}

func (m *memoryPrincipalRepo) FindByEmail(_ context.Context, email string) (*Principal, error) {
	p, ok := m.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("%w: principal not found", httpx.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *memoryPrincipalRepo) Resolve(_ context.Context, ref shared.Ref) (*Principal, error) {
	if ref.Kind == shared.RefByID {
		if p, ok := m.byID[ref.ID.String()]; ok {
			cp := *p
			return &cp, nil
		}
		return nil, fmt.Errorf("%w: principal not found", httpx.ErrNotFound)
	}
	for _, p := range m.byID {
		if p.Code == ref.Code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: principal not found", httpx.ErrNotFound)
}

func newTestIdentityService(t *testing.T) (*Service, *memoryPrincipalRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := newMemoryPrincipalRepo()
	return NewService(repo, client, time.Hour), repo, mr
}

func TestRegisterIssuesVerifiableToken(t *testing.T) {
	svc, repo, _ := newTestIdentityService(t)
	ctx := context.Background()

	p, token, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.Len(t, p.Code, 8)
	require.True(t, p.Active)
	require.NotEqual(t, "s3cret", p.PasscodeHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(p.PasscodeHash), []byte("s3cret")))
	require.Contains(t, repo.byEmail, "mira@example.com")

	id, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, p.ID, id)
}

func TestRegisterRejectsShortPasscode(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)

	_, _, err := svc.Register(context.Background(), RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "abc"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestLoginWithWrongPasscodeIsUnauthorized(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "mira@example.com", "wrong")
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	_, _, err = svc.Login(ctx, "nobody@example.com", "s3cret")
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestLoginIssuesFreshToken(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)
	ctx := context.Background()

	p, registerToken, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)

	_, loginToken, err := svc.Login(ctx, "mira@example.com", "s3cret")
	require.NoError(t, err)
	require.NotEqual(t, registerToken, loginToken)

	id, err := svc.Verify(ctx, loginToken)
	require.NoError(t, err)
	require.Equal(t, p.ID, id)
}

func TestVerifyRejectsUnknownToken(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)

	_, err := svc.Verify(context.Background(), "never-issued")
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	_, err = svc.Verify(context.Background(), "")
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestVerifyHonorsTokenExpiry(t *testing.T) {
	svc, _, mr := newTestIdentityService(t)
	ctx := context.Background()

	_, token, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, err = svc.Verify(ctx, token)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
}

func TestLookupResolvesIDAndCode(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)
	ctx := context.Background()

	p, _, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)

	byID, err := svc.Lookup(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, byID.ID)

	byCode, err := svc.Lookup(ctx, p.Code)
	require.NoError(t, err)
	require.Equal(t, p.ID, byCode.ID)

	_, err = svc.Lookup(ctx, "NOSUCH00")
	require.True(t, errors.Is(err, httpx.ErrNotFound))
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	svc, _, _ := newTestIdentityService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, RegisterInput{Name: "Mira", Email: "mira@example.com", Passcode: "s3cret"})
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, RegisterInput{Name: "Other", Email: "mira@example.com", Passcode: "s3cret"})
	require.ErrorIs(t, err, httpx.ErrConflict)
}
