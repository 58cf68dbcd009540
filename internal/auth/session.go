package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

// MaxTokenLifetimeMinutes bounds the lifetime a caller may request (30 days).
const MaxTokenLifetimeMinutes = 43200

// IdentityStore is the persistence surface the session layer depends on.
type IdentityStore interface {
	GetByTokenDigest(ctx context.Context, digest string, now time.Time) (*domain.Identity, time.Time, error)
	GetByNameOrEmail(ctx context.Context, nameOrEmail string) (*domain.Identity, error)
	AppendToken(ctx context.Context, identityID, digest string, expire, loginAt time.Time) error
	TokenDigests(ctx context.Context, identityID string) ([]string, error)
	TouchLastAccess(ctx context.Context, identityID string, at time.Time) error
}

// SessionCache holds recently resolved identities keyed by token digest.
type SessionCache interface {
	Get(ctx context.Context, digest string) (*domain.Identity, time.Time, bool, error)
	Set(ctx context.Context, digest string, identity *domain.Identity, expire time.Time) error
	Delete(ctx context.Context, digests ...string) error
}

// SessionResolver maps bearer tokens to identities and issues new tokens.
type SessionResolver struct {
	store        IdentityStore
	cache        SessionCache
	logger       *zap.Logger
	touchTimeout time.Duration
	now          func() time.Time

	pending sync.WaitGroup
}

// NewSessionResolver builds a resolver. cache may be nil.
func NewSessionResolver(store IdentityStore, cache SessionCache, logger *zap.Logger, touchTimeout time.Duration) *SessionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if touchTimeout <= 0 {
		touchTimeout = 5 * time.Second
	}
	return &SessionResolver{
		store:        store,
		cache:        cache,
		logger:       logger,
		touchTimeout: touchTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the identity owning token if the token has not expired.
func (r *SessionResolver) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return r.ResolveDigest(ctx, TokenDigest(token))
}

// ResolveDigest is Resolve for callers that only hold the token digest.
func (r *SessionResolver) ResolveDigest(ctx context.Context, digest string) (*domain.Identity, error) {
	now := r.now()

	if identity, ok := r.cached(ctx, digest, now); ok {
		r.touch(identity.ID, now)
		return identity, nil
	}

	identity, expire, err := r.store.GetByTokenDigest(ctx, digest, now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewUnauthorized("invalid or expired token")
		}
		return nil, errorutil.NewPersistenceError("resolve session", err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, digest, identity, expire); err != nil {
			r.logger.Warn("session cache write failed", zap.Error(err))
		}
	}
	r.touch(identity.ID, now)
	return identity, nil
}

func (r *SessionResolver) cached(ctx context.Context, digest string, now time.Time) (*domain.Identity, bool) {
	if r.cache == nil {
		return nil, false
	}
	identity, expire, ok, err := r.cache.Get(ctx, digest)
	if err != nil {
		r.logger.Warn("session cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok || now.After(expire) {
		return nil, false
	}
	return identity, true
}

// touch records last access in the background. Failures are logged only.
func (r *SessionResolver) touch(identityID string, at time.Time) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.touchTimeout)
		defer cancel()
		if err := r.store.TouchLastAccess(ctx, identityID, at); err != nil {
			r.logger.Warn("record last access failed",
				zap.String("identity_id", identityID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background last-access writes have finished.
func (r *SessionResolver) Wait() {
	r.pending.Wait()
}

// Issue verifies the password of the identity named by nameOrEmail and
// appends a new token to it. A zero lifetime never expires.
func (r *SessionResolver) Issue(ctx context.Context, nameOrEmail, password string, lifetimeMinutes int) (domain.AccessToken, *domain.Identity, error) {
	if lifetimeMinutes < 0 || lifetimeMinutes > MaxTokenLifetimeMinutes {
		return domain.AccessToken{}, nil, errorutil.NewValidationError(
			fmt.Sprintf("lifetime must be between 0 and %d minutes", MaxTokenLifetimeMinutes),
			map[string]any{"lifetime": lifetimeMinutes},
		)
	}

	identity, err := r.store.GetByNameOrEmail(ctx, nameOrEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AccessToken{}, nil, errorutil.NewInvalidCredential("invalid credentials")
		}
		return domain.AccessToken{}, nil, errorutil.NewPersistenceError("load identity", err)
	}
	if err := ComparePassword(identity.PasswordHash, password); err != nil {
		return domain.AccessToken{}, nil, errorutil.NewInvalidCredential("invalid credentials")
	}

	token, err := GenerateToken()
	if err != nil {
		return domain.AccessToken{}, nil, errorutil.NewInternalError(err)
	}

	now := r.now()
	expire := domain.NeverExpires
	if lifetimeMinutes > 0 {
		expire = now.Add(time.Duration(lifetimeMinutes) * time.Minute)
	}

	if err := r.store.AppendToken(ctx, identity.ID, TokenDigest(token), expire, now); err != nil {
		return domain.AccessToken{}, nil, errorutil.NewPersistenceError("store access token", err)
	}

	r.logger.Info("access token issued",
		zap.String("identity_id", identity.ID),
		zap.Bool("never_expires", lifetimeMinutes == 0),
	)
	identity.LastLogin = now
	return domain.AccessToken{Token: token, Expire: expire}, identity, nil
}

// Invalidate evicts every cached session of the identity, so the next
// request observes changed roles.
func (r *SessionResolver) Invalidate(ctx context.Context, identityID string) error {
	if r.cache == nil {
		return nil
	}
	digests, err := r.store.TokenDigests(ctx, identityID)
	if err != nil {
		return err
	}
	if len(digests) == 0 {
		return nil
	}
	return r.cache.Delete(ctx, digests...)
}
