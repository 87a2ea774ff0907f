// Package auth issues and validates the proxy's own API keys. A key is an
// HS256 JWT wrapped in base64url behind a "tg-" prefix; the middleware only
// ever compares the stored key string, so validation here exists for the CLI
// to inspect keys and reject foreign ones.
package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIKeyPrefix marks keys issued by this install.
const APIKeyPrefix = "tg-"

// Claims carried inside a generated key.
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// JWTManager signs and validates keys with the per-install secret.
type JWTManager struct {
	secretKey []byte
}

// NewJWTManager creates a manager bound to secretKey.
func NewJWTManager(secretKey string) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey)}
}

// GenerateToken signs a bare JWT for clientID. Keys do not expire; access is
// revoked by rotating the stored proxy key, not by waiting out a deadline.
func (j *JWTManager) GenerateToken(clientID string) (string, error) {
	claims := &Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// GenerateAPIKey signs a JWT for clientID and wraps it as
// tg-<base64url(jwt)> with padding trimmed.
func (j *JWTManager) GenerateAPIKey(clientID string) (string, error) {
	token, err := j.GenerateToken(clientID)
	if err != nil {
		return "", err
	}
	encoded := strings.TrimRight(base64.URLEncoding.EncodeToString([]byte(token)), "=")
	return APIKeyPrefix + encoded, nil
}

// ValidateAPIKey unwraps a tg- key and verifies its signature, returning the
// embedded claims. A leading "Bearer " is tolerated.
func (j *JWTManager) ValidateAPIKey(key string) (*Claims, error) {
	key = strings.TrimPrefix(key, "Bearer ")

	if !strings.HasPrefix(key, APIKeyPrefix) {
		return nil, fmt.Errorf("invalid API key format: must start with %q", APIKeyPrefix)
	}
	encoded := key[len(APIKeyPrefix):]

	// Restore the padding stripped at generation time.
	if n := len(encoded) % 4; n != 0 {
		encoded += strings.Repeat("=", 4-n)
	}
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode API key: %w", err)
	}

	return j.ValidateToken(string(raw))
}

// ValidateToken verifies a bare JWT and returns its claims.
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// IsAPIKeyFormat reports whether the string looks like a key from this
// install, with or without a "Bearer " prefix.
func IsAPIKeyFormat(key string) bool {
	return strings.HasPrefix(strings.TrimPrefix(key, "Bearer "), APIKeyPrefix)
}
