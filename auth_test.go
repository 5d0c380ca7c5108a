package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tamsinhale/drivesync/internal/tokenfile"
)

func TestAuthSetToken_SavesTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	cmd := newAuthSetTokenCmd()
	cmd.SetArgs([]string{
		"--refresh-token", "refresh-abc",
		"--access-token", "access-abc",
		"--token-file", path,
		"--expires-in", "1h",
	})

	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)

	tok, _, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "refresh-abc", tok.RefreshToken)
	assert.Equal(t, "access-abc", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, 5*time.Second)
}

func TestAuthSetToken_RequiresRefreshToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	cmd := newAuthSetTokenCmd()
	cmd.SetArgs([]string{"--token-file", path})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	assert.Error(t, cmd.Execute())
}

func TestAuthStatus_NoTokenSaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")

	cmd := newAuthStatusCmd()
	cmd.SetArgs([]string{"--token-file", path})

	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "no token saved")
}

func TestAuthLogout_RemovesTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{RefreshToken: "refresh-xyz"}, nil))

	cmd := newAuthLogoutCmd()
	cmd.SetArgs([]string{"--token-file", path})

	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	tok, meta, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.Nil(t, meta)
}
