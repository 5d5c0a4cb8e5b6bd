package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/services/user/internal/auth"
	"github.com/utafrali/storefront/services/user/internal/domain"
	"github.com/utafrali/storefront/services/user/internal/event"
	"github.com/utafrali/storefront/services/user/internal/repository"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// ProfileCache caches the public user projection served by Verify.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*domain.Profile, error)
	Set(ctx context.Context, profile domain.Profile) error
	Invalidate(ctx context.Context, userID string) error
}

// UserService implements account and session lifecycle operations.
type UserService struct {
	users        repository.UserRepository
	credentials  *auth.RefreshStore
	tokens       *auth.JWTManager
	producer     *event.Producer
	cache        ProfileCache
	logger       *slog.Logger
	now          func() time.Time
	passwordCost int
}

// Option customizes a UserService.
type Option func(*UserService)

// WithProfileCache enables the profile cache used by Verify.
func WithProfileCache(cache ProfileCache) Option {
	return func(s *UserService) { s.cache = cache }
}

// WithClock sets the clock used for credential expiry.
func WithClock(now func() time.Time) Option {
	return func(s *UserService) { s.now = now }
}

// WithPasswordCost sets the bcrypt cost for password hashes.
func WithPasswordCost(cost int) Option {
	return func(s *UserService) { s.passwordCost = cost }
}

// NewUserService creates a new user service.
func NewUserService(
	users repository.UserRepository,
	credentials *auth.RefreshStore,
	tokens *auth.JWTManager,
	producer *event.Producer,
	logger *slog.Logger,
	opts ...Option,
) *UserService {
	s := &UserService{
		users:        users,
		credentials:  credentials,
		tokens:       tokens,
		producer:     producer,
		logger:       logger,
		now:          time.Now,
		passwordCost: bcryptCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// Register creates a customer account and starts a session for it.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*domain.Session, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.FirstName == "" {
		return nil, apperrors.InvalidInput("first name is required")
	}
	if input.LastName == "" {
		return nil, apperrors.InvalidInput("last name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         domain.RoleCustomer,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	session, err := s.startSession(ctx, user, event.ReasonRegister)
	if err != nil {
		return nil, err
	}

	if err := s.producer.UserRegistered(ctx, user); err != nil {
		s.logPublishFailure(ctx, event.TypeUserRegistered, user.ID, err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return session, nil
}

// Login authenticates a user with email and password and starts a session.
func (s *UserService) Login(ctx context.Context, input LoginInput) (*domain.Session, error) {
	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid email or password")
		}
		return nil, fmt.Errorf("get user for login: %w", err)
	}

	if !user.IsActive {
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, apperrors.Unauthorized("invalid email or password")
	}

	session, err := s.startSession(ctx, user, event.ReasonLogin)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return session, nil
}

// Refresh exchanges a refresh secret for a new session. The presented
// credential is consumed: a second use of the same secret fails.
func (s *UserService) Refresh(ctx context.Context, secret string) (*domain.Session, error) {
	if secret == "" {
		return nil, apperrors.Unauthorized("refresh credential is required")
	}

	cred, err := s.credentials.Lookup(ctx, secret)
	if err != nil {
		return nil, s.credentialFailure(ctx, "lookup", err)
	}

	if cred.Expired(s.now()) {
		if err := s.credentials.Revoke(ctx, cred.Identifier); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete expired refresh credential",
				slog.String("user_id", cred.OwnerID),
				slog.String("error", err.Error()),
			)
		} else if err := s.producer.SessionRevoked(ctx, cred.OwnerID, event.ReasonExpired, 1); err != nil {
			s.logPublishFailure(ctx, event.TypeSessionRevoked, cred.OwnerID, err)
		}
		return nil, apperrors.Unauthorized("refresh credential has expired")
	}

	user, err := s.users.GetByID(ctx, cred.OwnerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("invalid refresh credential")
		}
		return nil, fmt.Errorf("get user for token refresh: %w", err)
	}

	if !user.IsActive {
		n, err := s.credentials.RevokeAll(ctx, user.ID)
		if err != nil {
			return nil, s.credentialFailure(ctx, "revoke", err)
		}
		if err := s.producer.SessionRevoked(ctx, user.ID, event.ReasonDeactivated, n); err != nil {
			s.logPublishFailure(ctx, event.TypeSessionRevoked, user.ID, err)
		}
		return nil, apperrors.Unauthorized("account is deactivated")
	}

	newSecret, err := auth.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	expiresAt := s.now().Add(s.tokens.RefreshExpiry())

	next, err := s.credentials.Rotate(ctx, cred, newSecret, expiresAt)
	if err != nil {
		return nil, s.credentialFailure(ctx, "rotate", err)
	}

	session, err := s.session(user, newSecret, next.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.producer.SessionRotated(ctx, user.ID, next.Identifier); err != nil {
		s.logPublishFailure(ctx, event.TypeSessionRotated, user.ID, err)
	}

	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", user.ID),
	)

	return session, nil
}

// Logout deletes the credential carrying secret. Unknown, revoked or empty
// secrets are not an error.
func (s *UserService) Logout(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}

	cred, err := s.credentials.Lookup(ctx, secret)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownCredential) {
			return nil
		}
		return s.credentialFailure(ctx, "lookup", err)
	}

	if err := s.credentials.Revoke(ctx, cred.Identifier); err != nil {
		return s.credentialFailure(ctx, "revoke", err)
	}

	if err := s.producer.SessionRevoked(ctx, cred.OwnerID, event.ReasonLogout, 1); err != nil {
		s.logPublishFailure(ctx, event.TypeSessionRevoked, cred.OwnerID, err)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", cred.OwnerID),
	)

	return nil
}

// Verify reports whether accessToken is a live credential for an active
// user and returns that user's profile. An invalid token is not an error.
func (s *UserService) Verify(ctx context.Context, accessToken string) (*domain.Profile, bool, error) {
	if accessToken == "" {
		return nil, false, nil
	}

	claims, err := s.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		return nil, false, nil
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, claims.UserID)
		if err != nil {
			s.logger.WarnContext(ctx, "profile cache read failed",
				slog.String("user_id", claims.UserID),
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			return cached, true, nil
		}
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get user for verify: %w", err)
	}
	if !user.IsActive {
		return nil, false, nil
	}

	profile := user.Profile()
	if s.cache != nil {
		if err := s.cache.Set(ctx, profile); err != nil {
			s.logger.WarnContext(ctx, "profile cache write failed",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &profile, true, nil
}

// ChangePassword replaces the password of userID and ends every session the
// user holds.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.passwordCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	n, err := s.credentials.RevokeAll(ctx, user.ID)
	if err != nil {
		return s.credentialFailure(ctx, "revoke", err)
	}

	if err := s.producer.PasswordChanged(ctx, user.ID); err != nil {
		s.logPublishFailure(ctx, event.TypePasswordChanged, user.ID, err)
	}
	if err := s.producer.SessionRevoked(ctx, user.ID, event.ReasonPasswordChange, n); err != nil {
		s.logPublishFailure(ctx, event.TypeSessionRevoked, user.ID, err)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
		slog.Int64("sessions_revoked", n),
	)

	return nil
}

// RevokeSessions signs the user out everywhere by deleting every refresh
// credential they hold. Access tokens already issued stay valid until they
// expire.
func (s *UserService) RevokeSessions(ctx context.Context, userID string) (int64, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return 0, fmt.Errorf("get user for session revoke: %w", err)
	}

	n, err := s.credentials.RevokeAll(ctx, userID)
	if err != nil {
		return 0, s.credentialFailure(ctx, "revoke", err)
	}

	if err := s.producer.SessionRevoked(ctx, userID, event.ReasonAdminRevoke, n); err != nil {
		s.logPublishFailure(ctx, event.TypeSessionRevoked, userID, err)
	}

	s.logger.InfoContext(ctx, "sessions revoked",
		slog.String("user_id", userID),
		slog.Int64("sessions_revoked", n),
	)

	return n, nil
}

// GetProfile retrieves a user by their ID.
func (s *UserService) GetProfile(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return user, nil
}

// DeleteAccount removes userID. Its refresh credentials go with it.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "profile cache invalidate failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.producer.UserDeleted(ctx, userID); err != nil {
		s.logPublishFailure(ctx, event.TypeUserDeleted, userID, err)
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", userID),
	)

	return nil
}

// startSession issues a fresh refresh credential for user.
func (s *UserService) startSession(ctx context.Context, user *domain.User, reason string) (*domain.Session, error) {
	secret, err := auth.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	cred, err := s.credentials.Issue(ctx, user.ID, secret, s.now().Add(s.tokens.RefreshExpiry()))
	if err != nil {
		return nil, s.credentialFailure(ctx, "issue", err)
	}

	session, err := s.session(user, secret, cred.ExpiresAt)
	if err != nil {
		return nil, err
	}

	if err := s.producer.SessionIssued(ctx, user.ID, cred.Identifier, reason); err != nil {
		s.logPublishFailure(ctx, event.TypeSessionIssued, user.ID, err)
	}

	return session, nil
}

func (s *UserService) session(user *domain.User, secret string, refreshExpiresAt time.Time) (*domain.Session, error) {
	accessToken, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	return &domain.Session{
		User: user,
		Tokens: domain.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: secret,
			TokenType:    auth.TokenType,
			ExpiresIn:    int64(s.tokens.AccessExpiry().Seconds()),
		},
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// credentialFailure maps refresh store errors to responses. Validation
// errors mean this service called the store wrongly, so they are logged and
// surface as internal errors.
func (s *UserService) credentialFailure(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, auth.ErrUnknownCredential):
		return apperrors.Unauthorized("invalid refresh credential")
	case errors.Is(err, auth.ErrValidation):
		s.logger.ErrorContext(ctx, "refresh credential validation failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return apperrors.Internal(err)
	default:
		return fmt.Errorf("%s refresh credential: %w", op, err)
	}
}

func (s *UserService) logPublishFailure(ctx context.Context, eventType, userID string, err error) {
	s.logger.ErrorContext(ctx, "failed to publish event",
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}
