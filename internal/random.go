package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const secretSize = 32

// NewCode draws one uniform integer in [0, 10^digits) and renders it
// zero-padded, so leading-zero codes are as likely as any other.
func NewCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

func NewTokenSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// FingerprintString returns a stable hex digest of s, used to key caches by
// token plaintext without storing the plaintext itself.
func FingerprintString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// EncodeToken renders the transportable plaintext "id|secret" with the
// secret in unpadded base64url.
func EncodeToken(tokenID string, secret [secretSize]byte) string {
	return tokenID + "|" + base64.RawURLEncoding.EncodeToString(secret[:])
}

// DecodeToken splits a plaintext produced by [EncodeToken] back into the
// token id and secret.
func DecodeToken(token string) (string, [secretSize]byte, error) {
	var secret [secretSize]byte

	tokenID, encoded, ok := strings.Cut(token, "|")
	if !ok || tokenID == "" {
		return "", secret, errors.New("invalid token format")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != secretSize {
		return "", secret, errors.New("invalid token secret size")
	}

	copy(secret[:], raw)
	return tokenID, secret, nil
}
