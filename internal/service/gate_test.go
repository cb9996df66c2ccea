package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSocketGate_Admit(t *testing.T) {
	env := newTestEnv(t)
	gate := NewSocketGate(env.manager)
	ctx := context.Background()
	s := env.login(t, "42")

	userID, err := gate.Admit(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)

	_, err = gate.Admit(ctx, "")
	require.ErrorIs(t, err, ErrSocketRejected)
	_, err = gate.Admit(ctx, "garbage")
	require.ErrorIs(t, err, ErrSocketRejected)
}

func TestSocketGate_RotationAcceptedTokenDropped(t *testing.T) {
	env := newTestEnv(t)
	gate := NewSocketGate(env.manager)
	s := env.login(t, "42")
	env.clock.Advance(2 * time.Hour)

	userID, err := gate.Admit(context.Background(), s.Token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)

	// The session was rotated, so the handshake token is now stale.
	requireRejected(t, env.authenticate(t, s.Token), ReasonMaterialMismatch)
}

func TestSocketGate_RejectsDisabledAndExpired(t *testing.T) {
	env := newTestEnv(t)
	gate := NewSocketGate(env.manager)
	a := env.login(t, "42")
	b := env.login(t, "7")

	env.principals.setDisabled("42", true)
	_, err := gate.Admit(context.Background(), a.Token)
	require.ErrorIs(t, err, ErrSocketRejected)

	env.clock.Advance(5 * time.Hour)
	_, err = gate.Admit(context.Background(), b.Token)
	require.ErrorIs(t, err, ErrSocketRejected)
}

func TestSocketGate_InfrastructureErrorRejects(t *testing.T) {
	store := &MockSessionStore{}
	codec, box := newTestCrypto(t)
	m, err := NewSessionManager(store, &MockPrincipalLookup{}, codec, box, testPolicy)
	require.NoError(t, err)
	tok, err := codec.Sign("33333333-3333-3333-3333-333333333333", "n")
	require.NoError(t, err)
	store.On("FindByID", mock.Anything, mock.Anything).Return(nil, errors.New("down"))

	_, err = NewSocketGate(m).Admit(context.Background(), tok)
	require.ErrorIs(t, err, ErrSocketRejected)
}
