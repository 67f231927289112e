package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const dialogAudience = "railwatch-dialog"

// DialogClaims bind a bearer token to one verification session.
type DialogClaims struct {
	SessionID string `json:"sid"`
	GateID    string `json:"gate_id"`
	jwt.RegisteredClaims
}

func NewDialogToken(sessionID, gateID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DialogClaims{
		SessionID: sessionID,
		GateID:    gateID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{dialogAudience},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseDialogToken(tokenString, secret string) (*DialogClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &DialogClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithAudience(dialogAudience), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*DialogClaims); ok && tok.Valid && claims.SessionID != "" {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
