package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerifyToken_ValidToken(t *testing.T) {
	Init("test-secret")
	userID := uuid.New()

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", userID.String()))

	got, err := VerifyToken(r)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestVerifyToken_MissingHeader(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/", nil)
	_, err := VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyToken_NotBearer(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err := VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", uuid.NewString()))
	_, err := VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyToken_ExpiredToken(t *testing.T) {
	Init("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	_, err = VerifyToken(r)
	assert.Error(t, err)
}

func TestVerifyToken_SubjectMustBeUUID(t *testing.T) {
	Init("test-secret")

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "not-a-uuid"))
	_, err := VerifyToken(r)
	assert.Error(t, err)
}
