package auth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func mint(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "ecovision",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Alice",
		Email: "alice@example.com",
	}
}

func TestJWTVerifier_Valid(t *testing.T) {
	v := NewJWTVerifier(testSecret, "ecovision")
	token := mint(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("user-1"))

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "Alice", id.Name)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.False(t, id.Admin)
	assert.False(t, id.ExpiresAt.IsZero())
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier(testSecret, "ecovision")

	expired := validClaims("user-1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims("user-1")
	wrongIssuer.Issuer = "someone-else"

	cases := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": mint(t, jwt.SigningMethodHS256, []byte("other"), validClaims("user-1")),
		"expired":      mint(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong issuer": mint(t, jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer),
		"no subject":   mint(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims("")),
		"wrong alg":    mint(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims("user-1")),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestJWTVerifier_AnyIssuer(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	claims := validClaims("user-1")
	claims.Issuer = "whoever"

	_, err := v.Verify(context.Background(), mint(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	assert.NoError(t, err)
}

type countingVerifier struct {
	calls int32
	id    *Identity
	err   error
}

func (c *countingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.id, c.err
}

func TestCachedVerifier(t *testing.T) {
	inner := &countingVerifier{id: &Identity{UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}}
	v := NewCachedVerifier(inner, 8, time.Minute)

	for i := 0; i < 3; i++ {
		id, err := v.Verify(context.Background(), "token-a")
		require.NoError(t, err)
		assert.Equal(t, "user-1", id.UserID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))

	_, err := v.Verify(context.Background(), "token-b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 2, v.Len())
}

func TestCachedVerifier_DoesNotCacheFailures(t *testing.T) {
	inner := &countingVerifier{err: ErrUnauthorized}
	v := NewCachedVerifier(inner, 8, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), "bad")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
	assert.Equal(t, 0, v.Len())
}

func TestCachedVerifier_ExpiredIdentityReverified(t *testing.T) {
	inner := &countingVerifier{id: &Identity{UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}}
	v := NewCachedVerifier(inner, 8, time.Minute)

	_, err := v.Verify(context.Background(), "token")
	require.NoError(t, err)

	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = v.Verify(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&inner.calls))
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, Authorize(&Identity{UserID: "u1"}, "u1"))
	assert.NoError(t, Authorize(&Identity{UserID: "admin", Admin: true}, "u1"))
	assert.ErrorIs(t, Authorize(&Identity{UserID: "u2"}, "u1"), ErrAuthMismatch)
	assert.ErrorIs(t, Authorize(nil, "u1"), ErrUnauthorized)
}

func TestExtractBearer(t *testing.T) {
	token, err := ExtractBearer("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	token, err = ExtractBearer("bearer  xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc", "abc"} {
		_, err := ExtractBearer(header)
		assert.ErrorIs(t, err, ErrUnauthorized, "header %q", header)
	}
}
