package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-at-least-32-bytes-long!!"

func sign(t *testing.T, key string, method jwt.SigningMethod, c jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-123",
		"email": "voter@example.ca",
		"role":  "authenticated",
		"aud":   "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerify(t *testing.T) {
	a := New(secret, "", "authenticated")

	id, err := a.Verify(sign(t, secret, jwt.SigningMethodHS256, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "user-123", Email: "voter@example.ca", Role: "authenticated"}, id)
}

func TestVerifyRejects(t *testing.T) {
	a := New(secret, "", "authenticated")

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	noExp := validClaims()
	delete(noExp, "exp")

	noSub := validClaims()
	delete(noSub, "sub")

	wrongAud := validClaims()
	wrongAud["aud"] = "anon"

	tests := map[string]string{
		"wrong signature": sign(t, "another-secret-entirely-32-bytes!!", jwt.SigningMethodHS256, validClaims()),
		"expired":         sign(t, secret, jwt.SigningMethodHS256, expired),
		"no expiry":       sign(t, secret, jwt.SigningMethodHS256, noExp),
		"no subject":      sign(t, secret, jwt.SigningMethodHS256, noSub),
		"wrong audience":  sign(t, secret, jwt.SigningMethodHS256, wrongAud),
		"wrong algorithm": sign(t, secret, jwt.SigningMethodHS512, validClaims()),
		"garbage":         "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestFromRequest(t *testing.T) {
	a := New(secret, "", "")

	r := httptest.NewRequest("GET", "/api/quota", nil)
	_, err := a.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = a.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Bearer "+sign(t, secret, jwt.SigningMethodHS256, validClaims()))
	id, err := a.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-123", id.UserID)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), &Identity{UserID: "u"})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u", id.UserID)
}

func TestIssue(t *testing.T) {
	tok, err := Issue(secret, "civicpulse", "authenticated", "operator-1", time.Minute)
	require.NoError(t, err)

	id, err := New(secret, "civicpulse", "authenticated").Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "operator-1", Role: "operator"}, id)

	_, err = New("another-secret-that-is-long-enough!!", "", "").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Issue("", "", "", "u", time.Minute)
	assert.Error(t, err)
}
