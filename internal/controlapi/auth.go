package controlapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// tokenClaims is the JWT claim set minted for meshctl. There is a single
// principal (the local operator holding the control token file), so this
// carries no per-client identity beyond the device the daemon runs on.
type tokenClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// tokenAuth mints and validates HS256 bearer tokens for the control API.
type tokenAuth struct {
	secretKey []byte
}

func newTokenAuth(secretKey []byte) *tokenAuth {
	return &tokenAuth{secretKey: secretKey}
}

// GenerateToken mints a token scoped to deviceID, valid for ttl.
func (a *tokenAuth) GenerateToken(deviceID string, ttl time.Duration) (string, time.Time, error) {
	if deviceID == "" {
		return "", time.Time{}, errors.New("controlapi: deviceID cannot be empty")
	}

	issuedAt := time.Now()
	claims := &tokenClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("controlapi: sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// ValidateToken parses and verifies tokenString, accepting an optional
// "Bearer " prefix.
func (a *tokenAuth) ValidateToken(tokenString string) (*tokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("controlapi: token cannot be empty")
	}
	if rest, ok := strings.CutPrefix(tokenString, bearerPrefix); ok {
		tokenString = rest
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, a.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("controlapi: invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("controlapi: token is not valid")
	}
	return claims, nil
}

// keyFunc requires HMAC signing before handing back the secret.
func (a *tokenAuth) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("controlapi: unexpected signing method: %v", t.Header["alg"])
	}
	return a.secretKey, nil
}
