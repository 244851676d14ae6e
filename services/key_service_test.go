package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshKeys(t *testing.T) KeyGenerator {
	t.Helper()
	return func() (*rsa.PrivateKey, error) { return rsa.GenerateKey(rand.Reader, 2048) }
}

func TestKeyService_SignVerifies(t *testing.T) {
	svc, err := NewKeyService(0, time.Hour, log.NewNop(), WithKeyGenerator(staticKey))
	require.NoError(t, err)

	kid := svc.CurrentKeyID()
	require.NotEmpty(t, kid)

	payload := "header.payload"
	sig, err := svc.Sign(kid, []byte(payload))
	require.NoError(t, err)

	assert.NoError(t, jwt.SigningMethodRS256.Verify(payload, sig, svc.PublicKey(kid)))
	assert.Error(t, jwt.SigningMethodRS256.Verify("header.tampered", sig, svc.PublicKey(kid)))

	_, err = svc.Sign("nope", []byte(payload))
	assert.ErrorIs(t, err, ErrInvalidKeyID)
	assert.Nil(t, svc.PublicKey("nope"))
}

func TestKeyService_PublicKeySet(t *testing.T) {
	svc, err := NewKeyService(0, time.Hour, log.NewNop(), WithKeyGenerator(staticKey))
	require.NoError(t, err)

	set := svc.PublicKeySet()
	require.Len(t, set.Keys, 1)

	k := set.Keys[0]
	assert.Equal(t, svc.CurrentKeyID(), k.Kid)
	assert.Equal(t, "RSA", k.Kty)
	assert.Equal(t, "RS256", k.Alg)
	assert.Equal(t, "sig", k.Use)
	assert.Equal(t, "AQAB", k.E)
	assert.NotContains(t, k.N, "=")
}

func TestKeyService_RotationKeepsRetiredKeys(t *testing.T) {
	svc, err := NewKeyService(0, time.Hour, log.NewNop(), WithKeyGenerator(freshKeys(t)))
	require.NoError(t, err)

	oldKid := svc.CurrentKeyID()
	sig, err := svc.Sign(oldKid, []byte("a.b"))
	require.NoError(t, err)

	require.NoError(t, svc.RotateKeys())
	newKid := svc.CurrentKeyID()
	assert.NotEqual(t, oldKid, newKid)

	set := svc.PublicKeySet()
	require.Len(t, set.Keys, 2)
	assert.Equal(t, newKid, set.Keys[0].Kid)
	assert.Equal(t, oldKid, set.Keys[1].Kid)

	assert.NoError(t, jwt.SigningMethodRS256.Verify("a.b", sig, svc.PublicKey(oldKid)))

	// A header written just before rotation can still be signed.
	_, err = svc.Sign(oldKid, []byte("c.d"))
	assert.NoError(t, err)
}

func TestKeyService_NoGraceDropsRetiredKeys(t *testing.T) {
	svc, err := NewKeyService(0, 0, log.NewNop(), WithKeyGenerator(freshKeys(t)))
	require.NoError(t, err)

	oldKid := svc.CurrentKeyID()
	require.NoError(t, svc.RotateKeys())

	assert.Len(t, svc.PublicKeySet().Keys, 1)
	_, err = svc.Sign(oldKid, []byte("a.b"))
	assert.ErrorIs(t, err, ErrInvalidKeyID)
}

func TestKeyService_GraceExpires(t *testing.T) {
	svc, err := NewKeyService(0, 30*time.Millisecond, log.NewNop(), WithKeyGenerator(freshKeys(t)))
	require.NoError(t, err)

	oldKid := svc.CurrentKeyID()
	require.NoError(t, svc.RotateKeys())
	require.NotNil(t, svc.PublicKey(oldKid))

	assert.Eventually(t, func() bool {
		return svc.PublicKey(oldKid) == nil && len(svc.PublicKeySet().Keys) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestKeyService_GeneratorFailure(t *testing.T) {
	_, err := NewKeyService(0, time.Hour, log.NewNop(), WithKeyGenerator(func() (*rsa.PrivateKey, error) {
		return nil, errors.New("no entropy")
	}))
	assert.Error(t, err)
}

func TestKeyService_StartRotatesUntilCancelled(t *testing.T) {
	svc, err := NewKeyService(10*time.Millisecond, time.Hour, log.NewNop(), WithKeyGenerator(staticKey))
	require.NoError(t, err)
	first := svc.CurrentKeyID()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return svc.CurrentKeyID() != first }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
