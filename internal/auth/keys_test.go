package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

func writeKeyFiles(t *testing.T, pkcs8 bool) (string, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var privDER []byte
	var privType string
	if pkcs8 {
		privDER, err = x509.MarshalPKCS8PrivateKey(priv)
		require.NoError(t, err)
		privType = "PRIVATE KEY"
	} else {
		privDER = x509.MarshalPKCS1PrivateKey(priv)
		privType = "RSA PRIVATE KEY"
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath,
		pem.EncodeToMemory(&pem.Block{Type: privType, Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath,
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o644))
	return privPath, pubPath
}

func TestLoadKeyPairPKCS8(t *testing.T) {
	privPath, pubPath := writeKeyFiles(t, true)
	keys, err := LoadKeyPair(privPath, pubPath, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "key-1", keys.ID)
	assert.NotNil(t, keys.Private)
	assert.Contains(t, keys.PublicPEM, "BEGIN PUBLIC KEY")
}

func TestLoadKeyPairPKCS1(t *testing.T) {
	privPath, pubPath := writeKeyFiles(t, false)
	_, err := LoadKeyPair(privPath, pubPath, "key-1")
	require.NoError(t, err)
}

func TestLoadKeyPairMissingFile(t *testing.T) {
	_, pubPath := writeKeyFiles(t, true)
	_, err := LoadKeyPair(filepath.Join(t.TempDir(), "absent.pem"), pubPath, "key-1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}

func TestLoadKeyPairGarbagePEM(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, []byte("not pem at all"), 0o600))
	_, pubPath := writeKeyFiles(t, true)

	_, err := LoadKeyPair(privPath, pubPath, "key-1")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfiguration))
}
