package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute

	issuerName   = "gymgate"
	audienceName = "gymgate-api"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenManagerConfig configures the API token manager.
type TokenManagerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenManager issues and validates the HS256 bearer tokens that protect
// the staff-facing API surface.
type TokenManager struct {
	config TokenManagerConfig
	clock  func() time.Time
}

// NewTokenManager constructs a TokenManager with sane defaults.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{
		config: TokenManagerConfig{
			SigningSecret: cfg.SigningSecret,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// Issue produces a signed token and its expiry (seconds) for the user.
func (m *TokenManager) Issue(userID string) (string, int64, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if userID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := m.clock().UTC()
	expiresAt := now.Add(m.config.TokenTTL).UTC()

	registered := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    issuerName,
		Audience:  []string{audienceName},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(m.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Validate ensures the token is well formed and returns the subject.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	if len(m.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return m.config.SigningSecret, nil
		},
		jwt.WithAudience(audienceName),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
