package services

import (
	"context"
	stderrors "errors"

	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/store"
)

// ClientService resolves clients and tenants from the store.
type ClientService struct {
	store *store.Store
}

var _ domain.ClientRegistry = (*ClientService)(nil)

func NewClientService(st *store.Store) *ClientService {
	return &ClientService{store: st}
}

// GetClient returns the client, or nil when it is unknown, disabled, or
// owned by an inactive tenant.
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	uow := s.store.Begin()
	defer uow.Rollback()

	client, err := uow.Clients.GetByID(clientID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !client.Enabled {
		return nil, nil
	}

	if client.TenantID != "" {
		tenant, err := uow.Tenants.GetByID(client.TenantID)
		if err == nil && !tenant.Active {
			return nil, nil
		}
		if err != nil && !stderrors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return client, nil
}

// GetTenant returns the tenant, or nil when it is unknown.
func (s *ClientService) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	if tenantID == "" {
		return nil, nil
	}
	uow := s.store.Begin()
	defer uow.Rollback()

	tenant, err := uow.Tenants.GetByID(tenantID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return tenant, err
}
