package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/model"
)

func fixedSigner(secret string, at time.Time) *Signer {
	s := NewSigner(secret)
	s.Now = func() time.Time { return at }
	return s
}

func TestAuthClaimsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", now)

	claims, err := s.NewAuthClaims("mum", time.Hour)
	require.NoError(t, err)
	token, err := s.GenerateJWT(claims)
	require.NoError(t, err)

	got, err := s.DecodeAuthJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "mum", got.UserID)
	assert.Equal(t, "mum", got.Subject)
	assert.NotEmpty(t, got.ID)

	_, err = fixedSigner("other", now).DecodeAuthJWT(token)
	assert.ErrorIs(t, err, ErrNonValidToken, "wrong secret")

	_, err = fixedSigner("secret", now.Add(2*time.Hour)).DecodeAuthJWT(token)
	assert.ErrorIs(t, err, ErrNonValidToken, "expired")
}

func TestDecodeRejectsOtherAlgorithms(t *testing.T) {
	s := NewSigner("secret")
	claims, err := s.NewAuthClaims("mum", time.Hour)
	require.NoError(t, err)

	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, claims).SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.DecodeAuthJWT(token)
	assert.ErrorIs(t, err, ErrNonValidToken)

	token, err = jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.DecodeAuthJWT(token)
	assert.ErrorIs(t, err, ErrNonValidToken)
}

func TestPairingClaimsNeverOutliveThePairing(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := fixedSigner("secret", now)
	child := uuid.New()

	p := model.PendingPairing{ChildID: child, Code: "123456", CreatedAt: now, ExpiresAt: now.Add(2 * time.Minute)}
	claims, err := s.NewPairingClaims(p, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, p.ExpiresAt, claims.ExpiresAt.Time)

	token, err := s.GenerateJWT(claims)
	require.NoError(t, err)
	got, err := s.DecodePairingJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "123456", got.Code)
	assert.Equal(t, child.String(), got.ChildID)

	// An auth token is not a pairing token.
	auth, err := s.NewAuthClaims("mum", time.Hour)
	require.NoError(t, err)
	authToken, err := s.GenerateJWT(auth)
	require.NoError(t, err)
	_, err = s.DecodePairingJWT(authToken)
	assert.ErrorIs(t, err, ErrNonValidToken)
}

func TestInvalidTTL(t *testing.T) {
	_, err := NewSigner("x").NewAuthClaims("mum", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestEmptySecretIsEphemeral(t *testing.T) {
	a, b := NewSigner(""), NewSigner("")
	claims, err := a.NewAuthClaims("mum", time.Hour)
	require.NoError(t, err)
	token, err := a.GenerateJWT(claims)
	require.NoError(t, err)

	_, err = a.DecodeAuthJWT(token)
	assert.NoError(t, err)
	_, err = b.DecodeAuthJWT(token)
	assert.Error(t, err)
}
