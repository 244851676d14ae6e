// Package store is the in-memory transactional store behind the flows.
//
// One reader/writer lock guards every table. Reads take it shared and see
// the last committed state. Writes are buffered in a UnitOfWork and applied
// under the exclusive lock on Commit.
package store

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/pilab-dev/shadow-idp/domain"
)

var (
	ErrNotFound           = errors.New("entity not found")
	ErrDuplicateKey       = errors.New("duplicate key")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnitClosed         = errors.New("unit of work already completed")
	ErrEmptyKey           = errors.New("entity key is empty")
)

// Store holds every table. Create one with New and share the pointer.
type Store struct {
	mu sync.RWMutex

	tenants  *table[domain.Tenant]
	clients  *table[domain.Client]
	users    *table[domain.User]
	codes    *table[domain.AuthCode]
	tokens   *table[domain.Token]
	consents *table[domain.ConsentGrant]
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tenants: newTable("tenant", func(t *domain.Tenant) string { return t.ID }, nil),
		clients: newTable("client", func(c *domain.Client) string { return c.ID }, func(c domain.Client) domain.Client {
			c.RedirectURIs = slices.Clone(c.RedirectURIs)
			c.AllowedScopes = slices.Clone(c.AllowedScopes)
			c.AllowedGrantTypes = slices.Clone(c.AllowedGrantTypes)
			return c
		}),
		users: newTable("user", func(u *domain.User) string { return u.ID }, func(u domain.User) domain.User {
			u.Claims = maps.Clone(u.Claims)
			return u
		}),
		codes:  newTable("authorization code", func(c *domain.AuthCode) string { return c.Code }, nil),
		tokens: newTable("token", func(t *domain.Token) string { return t.ID }, nil),
		consents: newTable("consent grant", func(g *domain.ConsentGrant) string { return g.ID }, func(g domain.ConsentGrant) domain.ConsentGrant {
			g.Scopes = slices.Clone(g.Scopes)
			if g.ExpiresAt != nil {
				exp := *g.ExpiresAt
				g.ExpiresAt = &exp
			}
			return g
		}),
	}
}

// Begin starts a unit of work. Its repositories read committed state and
// buffer writes until Commit.
func (s *Store) Begin() *UnitOfWork {
	u := &UnitOfWork{store: s}
	u.Tenants = newRepository(u, s.tenants)
	u.Clients = newRepository(u, s.clients)
	u.Users = newRepository(u, s.users)
	u.AuthCodes = newRepository(u, s.codes)
	u.Tokens = newRepository(u, s.tokens)
	u.Consents = newRepository(u, s.consents)
	return u
}

// table is only touched while Store.mu is held.
type table[T any] struct {
	name  string
	key   func(*T) string
	clone func(T) T
	rows  map[string]T
}

func newTable[T any](name string, key func(*T) string, clone func(T) T) *table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &table[T]{
		name:  name,
		key:   key,
		clone: clone,
		rows:  make(map[string]T),
	}
}

func (t *table[T]) has(key string) bool {
	_, ok := t.rows[key]
	return ok
}
