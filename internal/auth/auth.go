package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var secret []byte

// Init stores the shared HMAC secret used to verify bearer tokens issued by
// the auth service.
func Init(s string) {
	secret = []byte(s)
}

// VerifyToken extracts and validates the bearer token from the request and
// returns the authenticated user id (the token subject).
func VerifyToken(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return uuid.Nil, fmt.Errorf("missing authorization header")
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid authorization header format")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("token has no subject")
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id: %w", err)
	}

	return userID, nil
}
