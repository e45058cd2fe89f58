package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/config"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/gateway"
	"github.com/ibmi-mcp/ibmi-mcp-go/internal/pool"
)

const testKeyID = "test-key-1"

func testKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &KeyPair{ID: testKeyID, Private: priv, PublicPEM: string(pubPEM)}
}

// encryptCredentials builds the envelope exactly the way a client does: a
// fresh AES-256 session key wrapped with RSA-OAEP, the credential JSON sealed
// with AES-GCM, tag carried separately.
func encryptCredentials(t *testing.T, pub *rsa.PublicKey, creds *Credentials) *HandshakeRequest {
	t.Helper()

	plain, err := json.Marshal(creds)
	require.NoError(t, err)

	sessionKey := make([]byte, 32)
	_, err = rand.Read(sessionKey)
	require.NoError(t, err)

	block, err := aes.NewCipher(sessionKey)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	iv := make([]byte, gcm.NonceSize())
	_, err = rand.Read(iv)
	require.NoError(t, err)

	sealed := gcm.Seal(nil, iv, plain, nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	require.NoError(t, err)

	return &HandshakeRequest{
		KeyID:               testKeyID,
		EncryptedSessionKey: base64.StdEncoding.EncodeToString(wrapped),
		IV:                  base64.StdEncoding.EncodeToString(iv),
		AuthTag:             base64.StdEncoding.EncodeToString(tag),
		Ciphertext:          base64.StdEncoding.EncodeToString(ciphertext),
	}
}

type recordingPool struct{}

func (recordingPool) Execute(_ context.Context, _ string, _ []interface{}, _ int) (*gateway.Result, pool.GatewayQuery, error) {
	return &gateway.Result{Success: true, IsDone: true}, nopQuery{}, nil
}
func (recordingPool) Close() {}

type nopQuery struct{}

func (nopQuery) FetchMore(_ context.Context, _ int) (*gateway.Result, error) {
	return &gateway.Result{Success: true, IsDone: true}, nil
}
func (nopQuery) Close(_ context.Context) error { return nil }
func (nopQuery) Done() bool                    { return true }

type openRecorder struct {
	opened []gateway.ConnectionConfig
	err    error
}

func (o *openRecorder) open(_ context.Context, cfg gateway.ConnectionConfig, _, _ int) (pool.GatewayPool, error) {
	o.opened = append(o.opened, cfg)
	if o.err != nil {
		return nil, o.err
	}
	return recordingPool{}, nil
}

func testService(t *testing.T, keys *KeyPair, opener *openRecorder, maxSessions int) (*Service, *Store) {
	t.Helper()
	pools := pool.NewManager(zap.NewNop()).WithOpener(opener.open,
		func(_ context.Context, _ string) ([]byte, error) { return []byte("ca"), nil })
	store := NewStore(maxSessions, nil, zap.NewNop())
	static := &config.SourceSpec{Host: "ibmi.example.com", Port: 8076, IgnoreUnauthorized: true}
	svc := NewService(keys, store, pools, static, time.Hour, false, zap.NewNop())
	return svc, store
}

func TestHandshakeRoundTrip(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{}
	svc, store := testService(t, keys, opener, 10)

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{
		User:     "alice",
		Password: "pw",
	})
	grant, err := svc.Handshake(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, grant.AccessToken)
	assert.Equal(t, "Bearer", grant.TokenType)
	assert.Equal(t, 3600, grant.ExpiresIn)

	// The credentials were proven against the gateway with the static
	// source filling in host and port.
	require.Len(t, opener.opened, 1)
	assert.Equal(t, "ibmi.example.com", opener.opened[0].Host)
	assert.Equal(t, 8076, opener.opened[0].Port)
	assert.Equal(t, "alice", opener.opened[0].User)

	rec, err := svc.Authenticate(grant.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, pool.TokenKey(rec.SessionID), rec.PoolKey)
	assert.NotContains(t, rec.PoolKey, grant.AccessToken, "tokens must not leak into pool keys")
	assert.Equal(t, 1, store.Count())
}

func TestHandshakeClientSuppliedHost(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{}
	svc, _ := testService(t, keys, opener, 10)

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{
		Host:     "other.example.com",
		Port:     9471,
		User:     "bob",
		Password: "pw",
	})
	_, err := svc.Handshake(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, opener.opened, 1)
	assert.Equal(t, "other.example.com", opener.opened[0].Host)
	assert.Equal(t, 9471, opener.opened[0].Port)
}

func TestHandshakeUnknownKeyID(t *testing.T) {
	keys := testKeyPair(t)
	svc, _ := testService(t, keys, &openRecorder{}, 10)

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	req.KeyID = "rotated-away"
	_, err := svc.Handshake(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindAuthentication))
}

func TestHandshakeTamperedEnvelopeIsOpaque(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{}
	svc, _ := testService(t, keys, opener, 10)

	base := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})

	tamper := func(mutate func(*HandshakeRequest)) error {
		req := *base
		mutate(&req)
		_, err := svc.Handshake(context.Background(), &req)
		return err
	}

	cases := []func(*HandshakeRequest){
		func(r *HandshakeRequest) { r.AuthTag = base64.StdEncoding.EncodeToString(make([]byte, 16)) },
		func(r *HandshakeRequest) { r.Ciphertext = "!!!not-base64!!!" },
		func(r *HandshakeRequest) {
			r.EncryptedSessionKey = base64.StdEncoding.EncodeToString(make([]byte, 256))
		},
	}
	for i, mutate := range cases {
		err := tamper(mutate)
		require.Error(t, err, "case %d", i)
		// Every failure mode collapses to the same message.
		assert.Contains(t, err.Error(), "credential decryption failed", "case %d", i)
	}
	assert.Empty(t, opener.opened, "tampered envelopes must never reach the gateway")
}

func TestHandshakeDatabaseRejection(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{err: errs.New(errs.KindDatabase, "password incorrect for alice")}
	svc, store := testService(t, keys, opener, 10)

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "alice", Password: "bad"})
	_, err := svc.Handshake(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "authentication failed", err.Error())
	assert.NotContains(t, err.Error(), "alice")
	assert.Equal(t, 0, store.Count())
}

func TestHandshakeSessionLimit(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{}
	svc, _ := testService(t, keys, opener, 1)

	first := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	_, err := svc.Handshake(context.Background(), first)
	require.NoError(t, err)

	second := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	_, err = svc.Handshake(context.Background(), second)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindResourceExhausted))
}

func TestAuthenticateUnknownToken(t *testing.T) {
	keys := testKeyPair(t)
	svc, _ := testService(t, keys, &openRecorder{}, 10)

	_, err := svc.Authenticate("no-such-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid or expired token")
}

func TestLogoutIsIdempotent(t *testing.T) {
	keys := testKeyPair(t)
	opener := &openRecorder{}
	svc, store := testService(t, keys, opener, 10)

	req := encryptCredentials(t, &keys.Private.PublicKey, &Credentials{User: "u", Password: "p"})
	grant, err := svc.Handshake(context.Background(), req)
	require.NoError(t, err)

	svc.Logout(grant.AccessToken)
	assert.Equal(t, 0, store.Count())
	svc.Logout(grant.AccessToken)

	_, err = svc.Authenticate(grant.AccessToken)
	require.Error(t, err)
}
