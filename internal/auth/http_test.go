package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
)

func testHandler(t *testing.T, allowHTTP bool) (*Handler, *KeyPair) {
	t.Helper()
	keys := testKeyPair(t)
	pools := pool.NewManager(zap.NewNop()).WithOpener(
		(&openRecorder{}).open,
		func(_ context.Context, _ string) ([]byte, error) { return []byte("ca"), nil })
	store := NewStore(10, nil, zap.NewNop())
	static := &config.SourceSpec{Host: "ibmi.example.com", IgnoreUnauthorized: true}
	svc := NewService(keys, store, pools, static, time.Hour, allowHTTP, zap.NewNop())
	return NewHandler(svc, zap.NewNop()), keys
}

func TestHandlerPublicKey(t *testing.T) {
	h, keys := testHandler(t, false)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/public-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, testKeyID, body["keyId"])
	assert.Equal(t, keys.PublicPEM, body["publicKeyPEM"])
	assert.Equal(t, keys.PublicPEM, body["publicKey"], "both field spellings are served")
	assert.True(t, strings.HasPrefix(body["publicKeyPEM"], "-----BEGIN PUBLIC KEY-----"))
}

func TestHandlerHandshakeRefusesPlainHTTP(t *testing.T) {
	h, keys := testHandler(t, false)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerHandshakeBehindTLSProxy(t *testing.T) {
	h, keys := testHandler(t, false)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	envelope := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var grant TokenGrant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grant))
	assert.NotEmpty(t, grant.AccessToken)
	assert.Equal(t, "Bearer", grant.TokenType)
}

func TestHandlerHandshakeAllowHTTP(t *testing.T) {
	h, keys := testHandler(t, true)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	envelope := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHandlerHandshakeBadCredentials(t *testing.T) {
	h, keys := testHandler(t, true)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	envelope := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	envelope.AuthTag = "AAAAAAAAAAAAAAAAAAAAAA=="
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "AUTHENTICATION_ERROR", body["errorCode"])
	assert.Contains(t, body["error"], "credential decryption failed")
}

func TestHandlerHandshakeMalformedBody(t *testing.T) {
	h, _ := testHandler(t, true)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerLogout(t *testing.T) {
	h, keys := testHandler(t, true)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	envelope := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	var grant TokenGrant
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&grant))
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+grant.AccessToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = h.service.Authenticate(grant.AccessToken)
	require.Error(t, err)
}

func TestHandlerLogoutWithoutToken(t *testing.T) {
	h, _ := testHandler(t, true)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", BearerToken(req))

	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", BearerToken(req))

	req.Header.Set("Authorization", "bearer lower")
	assert.Equal(t, "lower", BearerToken(req))

	req.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	assert.Equal(t, "", BearerToken(req))
}
