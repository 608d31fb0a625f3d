// Package jwt signs and decodes the short-lived HS256 tokens used by the
// dashboard session and the pairing QR code.
package jwt

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"family-safety-control/internal/model"
)

var (
	ErrNonValidToken    = errors.New("token did not pass validation")
	ErrInvalidClaimType = errors.New("invalid claim type")
	ErrInvalidTTL       = errors.New("invalid token TTL")
)

var tokenSignatureAlg = jwtlib.SigningMethodHS256

// Signer issues and verifies tokens with one shared secret.
type Signer struct {
	secret []byte
	// Now is the clock used for issue and expiry stamps.
	Now func() time.Time
}

// NewSigner returns a signer for secret. An empty secret gets a random
// per-process key, so tokens do not survive a restart.
func NewSigner(secret string) *Signer {
	key := []byte(secret)
	if len(key) == 0 {
		slog.Warn("No secret configured, using an ephemeral signing key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("failed to generate signing key: " + err.Error())
		}
	}
	return &Signer{secret: key, Now: time.Now}
}

// Claim for dashboard sessions
type AuthClaims struct {
	UserID string `json:"user_id"`
	jwtlib.RegisteredClaims
}

func (s *Signer) NewAuthClaims(userID string, ttl time.Duration) (AuthClaims, error) {
	reg, err := s.registeredClaim(ttl)
	if err != nil {
		return AuthClaims{}, err
	}
	reg.Subject = userID
	return AuthClaims{UserID: userID, RegisteredClaims: reg}, nil
}

func (s *Signer) DecodeAuthJWT(tokenString string) (*AuthClaims, error) {
	claims, err := decodeJWT(s, tokenString, &AuthClaims{})
	if err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrNonValidToken
	}
	return claims, nil
}

// PairingClaims is carried by the pairing QR code. The agent submits the
// whole token instead of typing the code.
type PairingClaims struct {
	Code    string `json:"code"`
	ChildID string `json:"child_id"`
	jwtlib.RegisteredClaims
}

// NewPairingClaims binds p into a claim that never outlives the pairing
// itself.
func (s *Signer) NewPairingClaims(p model.PendingPairing, ttl time.Duration) (PairingClaims, error) {
	reg, err := s.registeredClaim(ttl)
	if err != nil {
		return PairingClaims{}, err
	}
	if p.ExpiresAt.Before(reg.ExpiresAt.Time) {
		reg.ExpiresAt = jwtlib.NewNumericDate(p.ExpiresAt.UTC())
	}
	return PairingClaims{
		Code:             p.Code,
		ChildID:          p.ChildID.String(),
		RegisteredClaims: reg,
	}, nil
}

func (s *Signer) DecodePairingJWT(tokenString string) (*PairingClaims, error) {
	claims, err := decodeJWT(s, tokenString, &PairingClaims{})
	if err != nil {
		return nil, err
	}
	if claims.Code == "" {
		return nil, ErrNonValidToken
	}
	return claims, nil
}

func (s *Signer) registeredClaim(ttl time.Duration) (jwtlib.RegisteredClaims, error) {
	if ttl <= 0 {
		return jwtlib.RegisteredClaims{}, ErrInvalidTTL
	}
	now := s.Now().UTC()
	return jwtlib.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}, nil
}

// Generic JWT token generation function
func (s *Signer) GenerateJWT(claims jwtlib.Claims) (string, error) {
	token := jwtlib.NewWithClaims(tokenSignatureAlg, claims)
	return token.SignedString(s.secret)
}

func decodeJWT[T jwtlib.Claims](s *Signer, tokenString string, claimsType T) (T, error) {
	var zero T

	parsedToken, err := jwtlib.ParseWithClaims(tokenString, claimsType, func(token *jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	}, jwtlib.WithValidMethods([]string{tokenSignatureAlg.Alg()}), jwtlib.WithTimeFunc(s.Now))

	if err != nil {
		return zero, errors.Join(ErrNonValidToken, err)
	} else if parsedToken == nil || !parsedToken.Valid {
		return zero, ErrNonValidToken
	} else if claims, ok := parsedToken.Claims.(T); ok {
		return claims, nil
	}

	return zero, ErrInvalidClaimType
}
