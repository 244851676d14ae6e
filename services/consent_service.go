package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/store"
)

// ConsentService keeps at most one grant per subject and client.
type ConsentService struct {
	store *store.Store
	clock domain.Clock
}

func NewConsentService(st *store.Store, clock domain.Clock) *ConsentService {
	return &ConsentService{store: st, clock: clock}
}

// Grant records scopes for the pair, replacing any earlier grant. ttl <= 0
// means the grant does not expire.
func (s *ConsentService) Grant(ctx context.Context, subjectID, clientID string, scopes []string, ttl time.Duration) (*domain.ConsentGrant, error) {
	now := s.clock.Now()
	grant := &domain.ConsentGrant{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		ClientID:  clientID,
		Scopes:    scopes,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		grant.ExpiresAt = &exp
	}

	uow := s.store.Begin()
	defer uow.Rollback()

	for _, old := range s.grants(uow, subjectID, clientID) {
		if err := uow.Consents.Remove(old.ID); err != nil {
			return nil, err
		}
	}
	if err := uow.Consents.Add(grant); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return grant, nil
}

// ActiveGrant returns the unexpired grant for the pair, or nil.
func (s *ConsentService) ActiveGrant(ctx context.Context, subjectID, clientID string) (*domain.ConsentGrant, error) {
	uow := s.store.Begin()
	defer uow.Rollback()

	now := s.clock.Now()
	for _, g := range s.grants(uow, subjectID, clientID) {
		if g.IsActive(now) {
			return g, nil
		}
	}
	return nil, nil
}

// Revoke removes the grant for the pair.
func (s *ConsentService) Revoke(ctx context.Context, subjectID, clientID string) error {
	uow := s.store.Begin()
	defer uow.Rollback()

	for _, g := range s.grants(uow, subjectID, clientID) {
		if err := uow.Consents.Remove(g.ID); err != nil {
			return err
		}
	}
	return uow.Commit()
}

func (s *ConsentService) grants(uow *store.UnitOfWork, subjectID, clientID string) []*domain.ConsentGrant {
	return uow.Consents.Find(func(g *domain.ConsentGrant) bool {
		return g.SubjectID == subjectID && g.ClientID == clientID
	})
}
