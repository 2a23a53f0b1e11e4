package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the client key a token was exchanged for. The raw key is
// never embedded.
type Claims struct {
	KeyID string `json:"kid"`
	jwt.RegisteredClaims
}

func GenerateToken(keyID, secret string, now time.Time) (string, time.Time, error) {
	expires := now.Add(TokenTTL)
	claims := &Claims{
		KeyID: keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func ValidateToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.KeyID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
