package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const syncAudience = "edupulse-sync"

var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by the bearer access tokens the identity service issues.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func GenerateToken(userID string, expiration time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if len(claims.Audience) > 0 {
		// sync tokens are not access tokens
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SyncClaims back the opaque sync token. The watermark is kept in
// nanoseconds because registered dates are truncated to seconds.
type SyncClaims struct {
	UserID        string `json:"uid"`
	DeviceID      string `json:"did"`
	HighWatermark int64  `json:"hwm"`
	jwt.RegisteredClaims
}

func (c *SyncClaims) Watermark() time.Time {
	if c.HighWatermark == 0 {
		return time.Time{}
	}
	return time.Unix(0, c.HighWatermark).UTC()
}

func GenerateSyncToken(userID, deviceID, tokenID string, watermark time.Time, ttl time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := &SyncClaims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Audience:  jwt.ClaimStrings{syncAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if !watermark.IsZero() {
		claims.HighWatermark = watermark.UnixNano()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign sync token: %w", err)
	}
	return signed, nil
}

func ParseSyncToken(tokenString, secret string) (*SyncClaims, error) {
	claims := &SyncClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(secret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(syncAudience),
		jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" || claims.UserID == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}
