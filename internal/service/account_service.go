package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/spec-kit/channel-service/internal/auth"
	"github.com/spec-kit/channel-service/internal/config"
	"github.com/spec-kit/channel-service/internal/domain"
	"github.com/spec-kit/channel-service/internal/repository"
	"github.com/spec-kit/channel-service/pkg/util/errorutil"
)

const uniqueViolation = "23505"

// AccountService coordinates registration, login and role grants.
type AccountService struct {
	identities repository.IdentityRepository
	sessions   SessionManager
	bcryptCost int
	logger     *zap.Logger
}

// AccountDependencies encapsulates collaborators for the account service.
type AccountDependencies struct {
	IdentityRepo repository.IdentityRepository
	Sessions     SessionManager
}

// RegisterInput carries a registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// NewAccountService builds the service.
func NewAccountService(cfg config.Config, deps AccountDependencies, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		identities: deps.IdentityRepo,
		sessions:   deps.Sessions,
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// Register creates an identity with no granted roles.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.Identity, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)
	if err := validateRegistration(name, email, input.Password); err != nil {
		return nil, err
	}

	exists, err := s.identities.ExistsByNameOrEmail(ctx, name, email)
	if err != nil {
		return nil, errorutil.NewPersistenceError("check identity uniqueness", err)
	}
	if exists {
		return nil, errorutil.NewConflict("name or email already registered", nil)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, errorutil.NewInternalError(err)
	}

	now := time.Now().UTC()
	identity := &domain.Identity{
		ID:           uuid.NewString(),
		Name:         name,
		EmailAddress: email,
		PasswordHash: hash,
		Roles:        []domain.Role{},
		CreatedAt:    now,
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, errorutil.NewConflict("name or email already registered", nil)
		}
		return nil, errorutil.NewPersistenceError("create identity", err)
	}

	s.logger.Info("identity registered", zap.String("identity_id", identity.ID))
	return identity, nil
}

// IssueToken verifies credentials and issues an access token.
func (s *AccountService) IssueToken(ctx context.Context, nameOrEmail, password string, lifetimeMinutes int) (domain.AccessToken, *domain.Identity, error) {
	return s.sessions.Issue(ctx, strings.TrimSpace(nameOrEmail), password, lifetimeMinutes)
}

// GrantRole adds role to the identity named by target (id or name). The
// caller must be an administrator holding at least the granted role.
func (s *AccountService) GrantRole(ctx context.Context, caller *domain.Identity, target string, role domain.Role) (*domain.Identity, error) {
	if err := auth.Require(caller, auth.HasRole(domain.RoleAdmin)); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, errorutil.NewValidationError("unknown role", map[string]any{"role": string(role)})
	}
	if err := auth.Require(caller, auth.HasRole(role)); err != nil {
		return nil, err
	}

	identity, err := s.BootstrapRole(ctx, target, role)
	if err != nil {
		return nil, err
	}
	s.logger.Info("role granted",
		zap.String("granted_by", caller.ID),
		zap.String("identity_id", identity.ID),
		zap.String("role", role.String()),
	)
	return identity, nil
}

// BootstrapRole adds role without an authorization check. It exists for the
// operator CLI, which creates the first Root identity.
func (s *AccountService) BootstrapRole(ctx context.Context, target string, role domain.Role) (*domain.Identity, error) {
	if !role.Valid() {
		return nil, errorutil.NewValidationError("unknown role", map[string]any{"role": string(role)})
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errorutil.NewValidationError("target identity is required", nil)
	}

	identity, err := s.identities.AddRole(ctx, target, role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewNotFound("identity", map[string]any{"identity": target})
		}
		return nil, errorutil.NewPersistenceError("grant role", err)
	}

	if err := s.sessions.Invalidate(ctx, identity.ID); err != nil {
		s.logger.Warn("session invalidation failed", zap.String("identity_id", identity.ID), zap.Error(err))
	}
	return identity, nil
}

func validateRegistration(name, email, password string) error {
	details := map[string]any{}
	if n := utf8.RuneCountInString(name); n < 4 || n > 64 {
		details["name"] = "must be between 4 and 64 characters"
	}
	if len(email) > 64 || !validEmail(email) {
		details["email"] = "must be a valid address of at most 64 characters"
	}
	if n := utf8.RuneCountInString(password); n < 4 || n > 128 {
		details["password"] = "must be between 4 and 128 characters"
	}
	if len(details) > 0 {
		return errorutil.NewValidationError("invalid registration", details)
	}
	return nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
