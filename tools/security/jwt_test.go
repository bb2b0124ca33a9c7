package security

import (
	"testing"
	"time"

	"moodchat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, Claims{Subject: "u1", Email: "a@x.com", Name: "Ann", SessionID: "s1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, 5*time.Second)

	c, err := Verify(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "a@x.com", c.Email)
	assert.Equal(t, "Ann", c.Name)
	assert.Equal(t, "s1", c.SessionID)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _, err := Generate(DefaultOptions([]byte("one")), Claims{Subject: "u1"})
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("two")), tok)
	assert.True(t, errs.ErrTokenInvalid.Is(err))
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	claims := jwtlib.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions(secret), tok)
	assert.True(t, errs.ErrTokenExpired.Is(err))
}

func TestGenerateRequiresSubject(t *testing.T) {
	_, _, err := Generate(DefaultOptions([]byte("s")), Claims{})
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}
