// Package security authenticates callers of the scheduled refresh trigger.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const triggerAudience = "refresh-trigger"

var (
	// ErrInvalidToken is returned when a token is malformed, expired or signed with another secret.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoSecret is returned when the trigger secret is not configured.
	ErrNoSecret = errors.New("trigger secret not configured")
)

// TriggerClaims holds the JWT claims of a trigger token.
type TriggerClaims struct {
	jwt.RegisteredClaims
}

// TriggerAuth issues and validates HS256 trigger tokens and accepts the raw shared secret.
type TriggerAuth struct {
	secret []byte
	issuer string
	ttl    time.Duration
	nowF   func() time.Time
}

// NewTriggerAuth returns a TriggerAuth for secret. Tokens carry issuer and are valid for ttl.
func NewTriggerAuth(secret, issuer string, ttl time.Duration) *TriggerAuth {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TriggerAuth{secret: []byte(secret), issuer: issuer, ttl: ttl, nowF: time.Now}
}

// Enabled reports whether a secret is configured.
func (a *TriggerAuth) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Issue signs a trigger token for subject (the scheduler's name).
func (a *TriggerAuth) Issue(subject string) (token string, expiresAt time.Time, err error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrNoSecret
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := a.nowF().UTC()
	expiresAt = now.Add(a.ttl)
	claims := TriggerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    a.issuer,
			Audience:  jwt.ClaimStrings{triggerAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	return token, expiresAt, err
}

// Validate parses and validates a trigger token (signature, exp, iss, aud) and returns its subject.
func (a *TriggerAuth) Validate(tokenString string) (subject string, err error) {
	if !a.Enabled() {
		return "", ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &TriggerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(triggerAudience),
		jwt.WithTimeFunc(a.nowF),
	)
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*TriggerClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Authenticate accepts either a signed trigger token or the raw shared secret.
func (a *TriggerAuth) Authenticate(credential string) (subject string, err error) {
	if !a.Enabled() {
		return "", ErrNoSecret
	}
	if credential == "" {
		return "", ErrInvalidToken
	}
	if SecretEqual(credential, string(a.secret)) {
		return "shared-secret", nil
	}
	return a.Validate(credential)
}

// SecretEqual compares two secrets in constant time. Both sides are hashed first
// so the comparison does not leak their lengths.
func SecretEqual(provided, expected string) bool {
	p := sha256.Sum256([]byte(provided))
	e := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(p[:], e[:]) == 1
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
