package authservice

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrNotAccessToken = errors.New("access token required")

type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

func SignAccessToken(secret []byte, userID, username, role string, ttl time.Duration) (string, time.Time, error) {
	return sign(secret, userID, username, role, TypeAccess, ttl)
}

func SignRefreshToken(secret []byte, userID, username, role string, ttl time.Duration) (string, time.Time, error) {
	return sign(secret, userID, username, role, TypeRefresh, ttl)
}

func sign(secret []byte, userID, username, role, typ string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

// ParseToken verifies an HS256 token of any type and returns its claims.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// ParseAccessToken is ParseToken that also rejects refresh tokens.
func ParseAccessToken(secret []byte, tokenString string) (*Claims, error) {
	claims, err := ParseToken(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" && claims.Type != TypeAccess {
		return nil, ErrNotAccessToken
	}
	return claims, nil
}
