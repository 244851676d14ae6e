package services

import (
	"context"
	"testing"
	"time"

	oautherrors "github.com/pilab-dev/shadow-idp/errors"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeJanitor_PurgeExpired(t *testing.T) {
	h := newHarness(t)
	janitor := NewCodeJanitor(h.store, h.clock, 10*time.Minute, log.NewNop())
	ctx := context.Background()

	redeemed := h.issueCode(t)
	require.True(t, h.token.Token(ctx, validTokenRequest(redeemed)).Success())
	h.issueCode(t)

	n, err := janitor.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past expiry but inside retention: replay still triggers revocation.
	h.clock.Advance(5 * time.Minute)
	n, err = janitor.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, oautherrors.InvalidGrant, h.token.Token(ctx, validTokenRequest(redeemed)).Err.Code)
	for _, tk := range h.store.Begin().Tokens.GetAll() {
		assert.True(t, tk.Revoked)
	}

	h.clock.Advance(10 * time.Minute)
	n, err = janitor.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.store.Begin().AuthCodes.GetAll())
	assert.Len(t, h.store.Begin().Tokens.GetAll(), 2, "tokens outlive their code")
}

func TestCodeJanitor_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.issueCode(t)
	h.clock.Advance(time.Hour)
	janitor := NewCodeJanitor(h.store, h.clock, 0, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		janitor.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(h.store.Begin().AuthCodes.GetAll()) == 0 },
		time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
