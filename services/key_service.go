package services

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/pilab-dev/shadow-idp/domain"
	"github.com/pilab-dev/shadow-idp/internal/crypto"
	"github.com/pilab-dev/shadow-idp/internal/metrics"
	"github.com/pilab-dev/shadow-idp/log"
)

// ErrInvalidKeyID is returned when signing with a key that is unknown or
// whose grace period ran out.
var ErrInvalidKeyID = errors.New("invalid key ID")

// KeyGenerator produces new signing keys.
type KeyGenerator func() (*rsa.PrivateKey, error)

// KeyService owns the RS256 signing keys. Retired keys stay verifiable and
// usable for signing until their grace period ends.
type KeyService struct {
	mu           sync.RWMutex
	current      *rsa.PrivateKey
	currentKeyID string

	retired  *ttlcache.Cache[string, *rsa.PrivateKey]
	generate KeyGenerator
	rotation time.Duration
	grace    time.Duration
	logger   log.Logger
}

// KeyServiceOption customizes a KeyService.
type KeyServiceOption func(*KeyService)

// WithKeyGenerator replaces the RSA key generator.
func WithKeyGenerator(gen KeyGenerator) KeyServiceOption {
	return func(s *KeyService) { s.generate = gen }
}

// NewKeyService creates the service with a fresh active key. rotation <= 0
// disables scheduled rotation; grace is how long a retired key is kept, and
// grace <= 0 drops retired keys immediately.
func NewKeyService(rotation, grace time.Duration, logger log.Logger, opts ...KeyServiceOption) (*KeyService, error) {
	s := &KeyService{
		retired: ttlcache.New(
			ttlcache.WithTTL[string, *rsa.PrivateKey](grace),
			ttlcache.WithDisableTouchOnHit[string, *rsa.PrivateKey](),
		),
		generate: crypto.GenerateRSAKey,
		rotation: rotation,
		grace:    grace,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.RotateKeys(); err != nil {
		return nil, err
	}
	return s, nil
}

// CurrentKeyID returns the id of the active signing key.
func (s *KeyService) CurrentKeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentKeyID
}

// Sign produces an RS256 signature over payload with the key keyID.
func (s *KeyService) Sign(keyID string, payload []byte) ([]byte, error) {
	key := s.key(keyID)
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyID, keyID)
	}
	sig, err := jwt.SigningMethodRS256.Sign(string(payload), key)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	return sig, nil
}

// PublicKey returns the public half of keyID, or nil.
func (s *KeyService) PublicKey(keyID string) *rsa.PublicKey {
	if key := s.key(keyID); key != nil {
		return &key.PublicKey
	}
	return nil
}

func (s *KeyService) key(keyID string) *rsa.PrivateKey {
	s.mu.RLock()
	if keyID == s.currentKeyID {
		defer s.mu.RUnlock()
		return s.current
	}
	s.mu.RUnlock()

	item := s.retired.Get(keyID)
	if item == nil || item.IsExpired() {
		return nil
	}
	return item.Value()
}

// PublicKeySet returns the active key followed by the retired keys still in
// their grace period.
func (s *KeyService) PublicKeySet() domain.JSONWebKeySet {
	s.mu.RLock()
	set := domain.JSONWebKeySet{Keys: []domain.JSONWebKey{toJWK(s.currentKeyID, &s.current.PublicKey)}}
	currentID := s.currentKeyID
	s.mu.RUnlock()

	for kid, item := range s.retired.Items() {
		if kid == currentID || item.IsExpired() {
			continue
		}
		set.Keys = append(set.Keys, toJWK(kid, &item.Value().PublicKey))
	}
	return set
}

// RotateKeys generates a new active key and retires the previous one.
func (s *KeyService) RotateKeys() error {
	key, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	kid := uuid.NewString()

	s.mu.Lock()
	if s.current != nil && s.grace > 0 {
		s.retired.Set(s.currentKeyID, s.current, ttlcache.DefaultTTL)
	}
	s.current = key
	s.currentKeyID = kid
	s.mu.Unlock()

	metrics.KeyRotationsTotal.Inc()
	s.logger.Info(context.Background(), "Signing key rotated", map[string]interface{}{"kid": kid})
	return nil
}

// Start rotates keys on the configured interval and evicts expired retired
// keys. It blocks until ctx is done.
func (s *KeyService) Start(ctx context.Context) {
	go s.retired.Start()
	defer s.retired.Stop()

	if s.rotation <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.rotation)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RotateKeys(); err != nil {
				s.logger.Error(ctx, "Signing key rotation failed", err)
			}
		}
	}
}

func toJWK(kid string, pub *rsa.PublicKey) domain.JSONWebKey {
	return domain.JSONWebKey{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
