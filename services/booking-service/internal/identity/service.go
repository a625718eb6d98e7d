package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/repository"
)

type Store interface {
	repository.Users
	repository.RefreshTokens
	repository.Providers
}

type Service struct {
	store      Store
	signer     *auth.Signer
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store Store, signer *auth.Signer, refreshTTL time.Duration, logger *slog.Logger) *Service {
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &Service{
		store:      store,
		signer:     signer,
		refreshTTL: refreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Session is the result of a successful login, registration or refresh.
type Session struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    time.Time  `json:"expires_at"`
	User         model.User `json:"user"`
}

type RegisterInput struct {
	Email          string
	Password       string
	DisplayName    string
	Phone          string
	Role           model.Role
	BusinessName   string
	Specialization string
	City           string
	Address        string
	Description    string
}

// Register creates a customer or provider account. Provider accounts get their
// business profile in the same write.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	if in.Role == "" {
		in.Role = model.RoleCustomer
	}
	if in.Role != model.RoleCustomer && in.Role != model.RoleProvider {
		return Session{}, apperr.Field("role", "oneof")
	}
	in.BusinessName = strings.TrimSpace(in.BusinessName)
	if in.Role == model.RoleProvider && in.BusinessName == "" {
		return Session{}, apperr.Field("business_name", "required")
	}

	hash, err := hashPassword(in.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Session{}, apperr.Field("password", "password")
	}
	if err != nil {
		return Session{}, apperr.Internal("hash password", err)
	}
	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         in.Role,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Phone:        strings.TrimSpace(in.Phone),
		Active:       true,
		CreatedAt:    now,
	}

	if in.Role == model.RoleProvider {
		err = s.store.CreateProviderUser(ctx, user, model.Provider{
			ID:             uuid.NewString(),
			UserID:         user.ID,
			BusinessName:   in.BusinessName,
			Specialization: strings.TrimSpace(in.Specialization),
			City:           strings.TrimSpace(in.City),
			Address:        strings.TrimSpace(in.Address),
			Description:    strings.TrimSpace(in.Description),
			Active:         true,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	} else {
		err = s.store.CreateUser(ctx, user)
	}
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return Session{}, apperr.Conflict("email already registered")
		}
		return Session{}, apperr.Internal("create user", err)
	}
	s.logger.Info("user registered", "user_id", user.ID, "role", user.Role)
	return s.newSession(ctx, user)
}

// EnsureAdmin creates the bootstrap admin account when no user holds email.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	err = s.store.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		DisplayName:  "Administrator",
		Active:       true,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	s.logger.Info("bootstrap admin ensured", "email", email)
	return nil
}

// Authenticate verifies credentials and opens a session.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.Unauthenticated("invalid credentials")
		}
		return Session{}, apperr.Internal("lookup user", err)
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, apperr.Unauthenticated("invalid credentials")
	}
	if !user.Active {
		return Session{}, apperr.Unauthenticated("account is deactivated")
	}
	return s.newSession(ctx, user)
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair issued.
func (s *Service) Refresh(ctx context.Context, rawToken string) (Session, error) {
	record, err := s.store.GetRefreshTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.Unauthenticated("invalid refresh token")
		}
		return Session{}, apperr.Internal("lookup refresh token", err)
	}
	now := s.now()
	if record.RevokedAt != nil || !record.ExpiresAt.After(now) {
		return Session{}, apperr.Unauthenticated("refresh token expired")
	}
	user, err := s.store.GetUser(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.Unauthenticated("invalid refresh token")
		}
		return Session{}, apperr.Internal("lookup user", err)
	}
	if !user.Active {
		return Session{}, apperr.Unauthenticated("account is deactivated")
	}
	if err := s.store.RevokeRefreshToken(ctx, record.ID, now.UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.Unauthenticated("refresh token already used")
		}
		return Session{}, apperr.Internal("rotate refresh token", err)
	}
	return s.newSession(ctx, user)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	record, err := s.store.GetRefreshTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperr.Internal("lookup refresh token", err)
	}
	if record.RevokedAt != nil {
		return nil
	}
	if err := s.store.RevokeRefreshToken(ctx, record.ID, s.now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperr.Internal("revoke refresh token", err)
	}
	return nil
}

// Resolve turns a bearer token into a principal. The token must verify and
// its user must still be active.
func (s *Service) Resolve(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, apperr.Unauthenticated("invalid token")
	}
	user, err := s.store.GetUser(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Unauthenticated("invalid token")
		}
		return nil, apperr.Internal("lookup user", err)
	}
	if !user.Active {
		return nil, apperr.Unauthenticated("account is deactivated")
	}
	p := &Principal{UserID: user.ID, Role: user.Role}
	if user.Role == model.RoleProvider {
		provider, err := s.store.GetProviderByUser(ctx, user.ID)
		switch {
		case err == nil:
			p.ProviderID = provider.ID
		case !errors.Is(err, repository.ErrNotFound):
			return nil, apperr.Internal("lookup provider", err)
		}
	}
	return p, nil
}

// IssueToken signs an access token for user.
func (s *Service) IssueToken(user model.User) (string, time.Time, error) {
	return s.signer.Sign(user.ID, string(user.Role))
}

func (s *Service) Me(ctx context.Context, p *Principal) (model.User, error) {
	if p == nil {
		return model.User{}, apperr.Unauthenticated("authentication required")
	}
	user, err := s.store.GetUser(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound("user not found")
		}
		return model.User{}, apperr.Internal("lookup user", err)
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, p *Principal, f repository.UserFilter) ([]model.User, error) {
	if err := Authorize(p, ListUsers, Resource{}); err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers(ctx, f)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return users, nil
}

// Deactivate blocks a user from authenticating and booking. History is kept.
func (s *Service) Deactivate(ctx context.Context, p *Principal, userID string) (model.User, error) {
	if err := Authorize(p, DeactivateUser, Resource{}); err != nil {
		return model.User{}, err
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound("user not found")
		}
		return model.User{}, apperr.Internal("deactivate user", err)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return model.User{}, apperr.Internal("lookup user", err)
	}
	s.logger.Info("user deactivated", "user_id", userID, "by", p.UserID)
	return user, nil
}

func (s *Service) newSession(ctx context.Context, user model.User) (Session, error) {
	access, exp, err := s.IssueToken(user)
	if err != nil {
		return Session{}, apperr.Internal("issue token", err)
	}
	raw, err := newRefreshToken()
	if err != nil {
		return Session{}, apperr.Internal("issue refresh token", err)
	}
	if err := s.store.CreateRefreshToken(ctx, model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Hash:      hashToken(raw),
		ExpiresAt: s.now().Add(s.refreshTTL).UTC(),
	}); err != nil {
		return Session{}, apperr.Internal("store refresh token", err)
	}
	return Session{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresAt:    exp,
		User:         user,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
