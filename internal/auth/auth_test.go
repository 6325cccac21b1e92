package auth

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tuneroom/internal/room"
)

func TestIssueAndVerify(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s, err := NewSigner("secret", time.Hour, mock)
	require.NoError(t, err)

	a := room.Actor{UserID: "u1", DisplayName: "Ann", AvatarURL: "https://a/x.png", Admin: true}
	tok, err := s.Issue(a)
	require.NoError(t, err)

	got, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	mock.Add(2 * time.Hour)
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a, _ := NewSigner("one", 0, nil)
	b, _ := NewSigner("two", 0, nil)
	tok, err := a.Issue(room.Actor{UserID: "u1"})
	require.NoError(t, err)

	_, err = b.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = b.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	s, _ := NewSigner("secret", 0, nil)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignerNeedsSecret(t *testing.T) {
	_, err := NewSigner("", 0, nil)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	tok, err = BearerToken("bearer  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = BearerToken("Bearer")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPeekActorSkipsSignature(t *testing.T) {
	s, err := NewSigner("server-secret", time.Hour, nil)
	require.NoError(t, err)
	tok, err := s.Issue(room.Actor{UserID: "u2", DisplayName: "Bo"})
	require.NoError(t, err)

	a, err := PeekActor(tok)
	require.NoError(t, err)
	assert.Equal(t, "u2", a.UserID)
	assert.Equal(t, "Bo", a.DisplayName)

	_, err = PeekActor("nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
