package services

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/CrowderSoup/crm-board/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestMagicLinkIsSingleUse(t *testing.T) {
	s := NewAuthService("secret", config.SMTPConfig{})

	link, err := s.GenerateMagicLink("ada@example.com", "http://localhost:3001")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link, "http://localhost:3001/api/auth/magic-link?token="))

	token := tokenFromLink(t, link)
	email, err := s.VerifyMagicLinkToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	_, err = s.VerifyMagicLinkToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMagicLinkExpires(t *testing.T) {
	s := NewAuthService("secret", config.SMTPConfig{})
	now := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	link, err := s.GenerateMagicLink("ada@example.com", "http://localhost:3001")
	require.NoError(t, err)

	now = now.Add(magicLinkTTL + time.Second)
	_, err = s.VerifyMagicLinkToken(tokenFromLink(t, link))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTRoundTrip(t *testing.T) {
	s := NewAuthService("secret", config.SMTPConfig{})
	id := Identity{UserID: "u1", Email: "ada@example.com", Name: "Ada"}

	token, err := s.CreateJWT(id)
	require.NoError(t, err)

	got, err := s.VerifyJWT(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestJWTRejections(t *testing.T) {
	s := NewAuthService("secret", config.SMTPConfig{})
	token, err := s.CreateJWT(Identity{UserID: "u1", Email: "ada@example.com"})
	require.NoError(t, err)

	other := NewAuthService("other-secret", config.SMTPConfig{})
	_, err = other.VerifyJWT(token)
	assert.Error(t, err)

	later := NewAuthService("secret", config.SMTPConfig{})
	later.now = func() time.Time { return time.Now().Add(sessionTTL + time.Hour) }
	_, err = later.VerifyJWT(token)
	assert.Error(t, err)

	_, err = s.VerifyJWT("not-a-token")
	assert.Error(t, err)

	anonymous, err := s.CreateJWT(Identity{Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = s.VerifyJWT(anonymous)
	assert.ErrorContains(t, err, "sub claim missing")
}
