// Package tokens generates device credentials and pairing codes and hashes
// them for storage. Raw tokens only ever leave this process once, in the
// pairing response.
package tokens

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// Number of random bytes. 32 → 256-bit
const TOKEN_SIZE = 32

const (
	MinCodeDigits = 6
	MaxCodeDigits = 9
)

// NewToken returns a high-entropy URL-safe token.
func NewToken() (string, error) {
	b := make([]byte, TOKEN_SIZE)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// PairingCode returns a zero-padded numeric code of the given length.
func PairingCode(digits int) (string, error) {
	if digits < MinCodeDigits || digits > MaxCodeDigits {
		return "", fmt.Errorf("pairing code length %d out of range", digits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// Hasher computes keyed BLAKE2b-256 digests. The key is derived from the
// server secret so a leaked snapshot alone cannot be used to test guesses.
type Hasher struct {
	key []byte
}

func NewHasher(secret string) *Hasher {
	sum := blake2b.Sum256([]byte("device-token:" + secret))
	return &Hasher{key: sum[:]}
}

// Hash returns the hex digest stored in place of token.
func (h *Hasher) Hash(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Only fails for keys longer than 64 bytes.
		panic(fmt.Sprintf("blake2b key: %v", err))
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a presented token against a stored hash in constant time.
func (h *Hasher) Matches(storedHash, token string) bool {
	if storedHash == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(h.Hash(token))) == 1
}

// Unusable returns a hash value for which no token is known. It is used to
// invalidate a credential without deleting the record that holds it.
func (h *Hasher) Unusable() (string, error) {
	secret, err := NewToken()
	if err != nil {
		return "", err
	}
	return h.Hash(secret), nil
}

// Digest is an unkeyed BLAKE2b-256 hex digest of data.
func Digest(data ...[]byte) string {
	d, _ := blake2b.New256(nil)
	for _, b := range data {
		d.Write(b)
	}
	return hex.EncodeToString(d.Sum(nil))
}
