// Package auth issues admin session tokens and holds the private keys that
// sessions unlocked.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims names the identity a token was issued to and the keyring slot
// holding its unlocked key.
type Claims struct {
	jwt.RegisteredClaims
	IdentityID int64  `json:"iid"`
	SessionID  string `json:"sid"`
}

func GenerateToken(identityID int64, sessionID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		IdentityID: identityID,
		SessionID:  sessionID,
	})

	return token.SignedString(secretKey)
}

func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
