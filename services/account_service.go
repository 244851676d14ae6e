package services

import (
	"context"
	stderrors "errors"

	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/internal/audit"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/pilab-dev/shadow-idp/store"
	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier checks a password against a stored hash.
type PasswordVerifier interface {
	Verify(hashedPassword, password string) error
}

// AccountService is the store-backed UserDirectory.
type AccountService struct {
	store    *store.Store
	verifier PasswordVerifier
	logger   log.Logger
}

var _ domain.UserDirectory = (*AccountService)(nil)

func NewAccountService(st *store.Store, verifier PasswordVerifier, logger log.Logger) *AccountService {
	return &AccountService{
		store:    st,
		verifier: verifier,
		logger:   logger.With(map[string]interface{}{"component": "account_service"}),
	}
}

// Authenticate returns the active user matching the credentials, or nil.
// A hash that cannot be checked is reported as an error.
func (s *AccountService) Authenticate(ctx context.Context, tenantID, username, password string) (*domain.User, error) {
	uow := s.store.Begin()
	defer uow.Rollback()

	matches := uow.Users.Find(func(u *domain.User) bool {
		return u.TenantID == tenantID && u.Username == username
	})
	if len(matches) == 0 || !matches[0].Active {
		s.fail(ctx, username, "unknown or inactive user")
		return nil, nil
	}
	user := matches[0]

	if err := s.verifier.Verify(user.PasswordHash, password); err != nil {
		if stderrors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.fail(ctx, username, "password mismatch")
			return nil, nil
		}
		s.logger.Error(ctx, "Password verification failed", err, map[string]interface{}{"user_id": user.ID})
		return nil, err
	}

	metrics.LoginSuccessTotal.Inc()
	audit.Log("account_service", audit.ActionLoginSucceeded, user.ID, "", "", "", true, nil)
	return user, nil
}

func (s *AccountService) fail(ctx context.Context, username, reason string) {
	metrics.LoginFailureTotal.Inc()
	audit.Log("account_service", audit.ActionLoginFailed, username, "", "", reason, false, nil)
	s.logger.Info(ctx, "Login failed", map[string]interface{}{"reason": reason})
}

// GetUser returns the active user with userID, or nil.
func (s *AccountService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	uow := s.store.Begin()
	defer uow.Rollback()

	user, err := uow.Users.GetByID(userID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, nil
	}
	return user, nil
}
