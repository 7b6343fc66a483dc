package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	purposeConfirm = "confirm_email"
	purposeReset   = "reset_password"

	ConfirmTokenTTL = 24 * time.Hour
	ResetTokenTTL   = time.Hour
)

var ErrInvalidToken = errors.New("invalid or expired link")

type linkClaims struct {
	Purpose string `json:"purpose"`
	Email   string `json:"email"`
	// Fingerprint binds a reset link to the password it replaces.
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// tokenSigner issues and verifies the HS256 tokens carried by confirmation
// and password reset links.
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func newTokenSigner(secret string) *tokenSigner {
	return &tokenSigner{secret: []byte(secret), now: time.Now}
}

func (s *tokenSigner) issue(purpose, accountID, email, fingerprint string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := linkClaims{
		Purpose:     purpose,
		Email:       email,
		Fingerprint: fingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *tokenSigner) parse(raw, purpose string) (*linkClaims, error) {
	var claims linkClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func passwordFingerprint(hash *string) string {
	if hash == nil {
		return ""
	}
	sum := sha256.Sum256([]byte(*hash))
	return hex.EncodeToString(sum[:8])
}
