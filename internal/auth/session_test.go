package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sequence/internal/apperr"
)

func TestCreateAndVerify(t *testing.T) {
	a, err := Generate(time.Hour)
	require.NoError(t, err)

	tok, err := a.CreateJWT("alice", false)
	require.NoError(t, err)
	id, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{UID: "alice"}, id)

	adminTok, err := a.CreateJWT("root", true)
	require.NoError(t, err)
	id, err = a.Verify(adminTok)
	require.NoError(t, err)
	assert.True(t, id.Admin)
}

func TestVerifyRejects(t *testing.T) {
	a, _ := Generate(0)
	other, _ := Generate(0)
	tok, _ := other.CreateJWT("mallory", false)

	_, err := a.Verify(tok)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = a.Verify("")
	assert.Equal(t, apperr.CodeAuthRequired, apperr.CodeOf(err))

	_, err = a.Verify("not-a-jwt")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestExpiredToken(t *testing.T) {
	a, _ := Generate(-time.Minute)
	tok, err := a.CreateJWT("alice", false)
	require.NoError(t, err)
	_, err = a.Verify(tok)
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

func TestParseTokenExpireTime(t *testing.T) {
	d, err := ParseTokenExpireTime("never")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = ParseTokenExpireTime("72h")
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, d)

	_, err = ParseTokenExpireTime("soon")
	assert.Error(t, err)
}

func TestLoadFromPath(t *testing.T) {
	a, _ := Generate(0)
	dir := t.TempDir()
	priv := filepath.Join(dir, "id_ed25519")
	pub := filepath.Join(dir, "id_ed25519.pub")
	require.NoError(t, os.WriteFile(priv, a.privateKey, 0o600))
	require.NoError(t, os.WriteFile(pub, a.publicKey, 0o600))

	loaded, err := LoadFromPath(priv, pub, 0)
	require.NoError(t, err)
	tok, err := loaded.CreateJWT("bob", false)
	require.NoError(t, err)
	id, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.UID)

	verifyOnly, err := LoadFromPath("", pub, 0)
	require.NoError(t, err)
	_, err = verifyOnly.CreateJWT("bob", false)
	assert.Error(t, err)
}
