package store

import (
	"fmt"

	"github.com/pilab-dev/shadow-idp/domain"
)

// PasswordHasher hashes secrets for provisioning.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Fixtures is a batch of out-of-band provisioned records.
type Fixtures struct {
	Tenants []domain.Tenant
	Clients []domain.Client
	Users   []domain.User
}

// Seed validates the fixtures and commits them in a single unit of work.
// Usernames must be unique within a tenant, including against users that
// are already stored.
func Seed(s *Store, f Fixtures) error {
	uow := s.Begin()
	defer uow.Rollback()

	for i := range f.Tenants {
		if err := f.Tenants[i].Validate(); err != nil {
			return fmt.Errorf("tenant %q: %w", f.Tenants[i].ID, err)
		}
		if err := uow.Tenants.Add(&f.Tenants[i]); err != nil {
			return err
		}
	}

	for i := range f.Clients {
		if err := f.Clients[i].Validate(); err != nil {
			return fmt.Errorf("client %q: %w", f.Clients[i].ID, err)
		}
		if err := uow.Clients.Add(&f.Clients[i]); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for i := range f.Users {
		u := &f.Users[i]
		name := u.TenantID + "\x00" + u.Username
		existing := uow.Users.Find(func(x *domain.User) bool {
			return x.TenantID == u.TenantID && x.Username == u.Username
		})
		if seen[name] || len(existing) > 0 {
			return fmt.Errorf("user %q in tenant %q: %w", u.Username, u.TenantID, ErrDuplicateKey)
		}
		seen[name] = true
		if err := uow.Users.Add(u); err != nil {
			return err
		}
	}

	return uow.Commit()
}

// DemoFixtures returns the development tenant, client and user.
func DemoFixtures(hasher PasswordHasher, issuer string) (Fixtures, error) {
	secretHash, err := hasher.Hash("secret")
	if err != nil {
		return Fixtures{}, fmt.Errorf("hash client secret: %w", err)
	}
	passwordHash, err := hasher.Hash("password")
	if err != nil {
		return Fixtures{}, fmt.Errorf("hash user password: %w", err)
	}

	return Fixtures{
		Tenants: []domain.Tenant{{
			ID:             "default",
			Name:           "Default Tenant",
			Issuer:         issuer,
			Active:         true,
			EnableAuthCode: true,
			RequirePKCE:    true,
		}},
		Clients: []domain.Client{{
			ID:                  "demo-client",
			SecretHash:          secretHash,
			Name:                "Demo SPA",
			TenantID:            "default",
			Enabled:             true,
			RedirectURIs:        []string{"http://localhost:4200/signin-callback"},
			AllowedScopes:       []string{"openid", "profile", "email"},
			AllowedGrantTypes:   []string{domain.GrantTypeAuthorizationCode},
			RequirePKCE:         true,
			RequireConsent:      true,
			AccessTokenLifetime: domain.DefaultAccessTokenLifetime,
		}},
		Users: []domain.User{{
			ID:           "u1",
			Username:     "alice",
			PasswordHash: passwordHash,
			TenantID:     "default",
			Active:       true,
			Claims: map[string]string{
				"name":  "Alice Doe",
				"email": "alice@example.com",
				"role":  "admin",
			},
		}},
	}, nil
}

// SeedDemoData provisions DemoFixtures into s.
func SeedDemoData(s *Store, hasher PasswordHasher, issuer string) error {
	f, err := DemoFixtures(hasher, issuer)
	if err != nil {
		return err
	}
	return Seed(s, f)
}
