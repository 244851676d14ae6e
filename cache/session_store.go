package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/shadow-idp/internal/crypto"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session binds a browser cookie to an authenticated user.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore keeps login sessions in memory. Keys are hashed session ids.
type SessionStore struct {
	cache  *ttlcache.Cache[string, *Session]
	random crypto.RandomSource
	ttl    time.Duration
}

// NewSessionStore creates a store whose sessions live for ttl. Call Close to
// stop the expiry loop.
func NewSessionStore(ttl time.Duration, random crypto.RandomSource) *SessionStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, *Session](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Session](),
	)
	go c.Start()

	return &SessionStore{cache: c, random: random, ttl: ttl}
}

// Create starts a session for userID.
func (s *SessionStore) Create(_ context.Context, userID string) (*Session, error) {
	id, err := crypto.RandomToken(s.random, 32)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session := &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.cache.Set(HashToken(id), session, ttlcache.DefaultTTL)
	return session, nil
}

// Get returns the live session with id.
func (s *SessionStore) Get(_ context.Context, id string) (*Session, error) {
	item := s.cache.Get(HashToken(id))
	if item == nil || item.IsExpired() {
		return nil, ErrSessionNotFound
	}
	return item.Value(), nil
}

// Delete ends a session.
func (s *SessionStore) Delete(_ context.Context, id string) {
	s.cache.Delete(HashToken(id))
}

// Close stops the expiry loop.
func (s *SessionStore) Close() {
	s.cache.Stop()
}
