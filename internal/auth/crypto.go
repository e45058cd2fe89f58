package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// sessionKeySize is the AES-256 key length unwrapped from the RSA envelope.
const sessionKeySize = 32

// tokenSize is the length of minted bearer tokens in bytes.
const tokenSize = 32

// HandshakeRequest is the encrypted credential envelope posted by clients.
// All binary fields are base64.
type HandshakeRequest struct {
	KeyID               string `json:"keyId"`
	EncryptedSessionKey string `json:"encryptedSessionKey"`
	IV                  string `json:"iv"`
	AuthTag             string `json:"authTag"`
	Ciphertext          string `json:"ciphertext"`
}

// Credentials is the decrypted handshake payload. Host and port are
// optional; the server's static source fills them in when absent.
type Credentials struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// errOpaque is the single failure every decryption problem maps to. One
// message for all causes keeps the endpoint from acting as an oracle.
func errOpaque(err error) error {
	return errs.Wrap(errs.KindAuthentication, "credential decryption failed", err)
}

// decryptCredentials unwraps the AES session key with RSA-OAEP and opens the
// AES-GCM envelope. Credential material never appears in returned errors.
func decryptCredentials(priv *rsa.PrivateKey, req *HandshakeRequest) (*Credentials, error) {
	wrapped, err := base64.StdEncoding.DecodeString(req.EncryptedSessionKey)
	if err != nil {
		return nil, errOpaque(err)
	}
	iv, err := base64.StdEncoding.DecodeString(req.IV)
	if err != nil {
		return nil, errOpaque(err)
	}
	tag, err := base64.StdEncoding.DecodeString(req.AuthTag)
	if err != nil {
		return nil, errOpaque(err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.Ciphertext)
	if err != nil {
		return nil, errOpaque(err)
	}

	sessionKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, errOpaque(err)
	}
	if len(sessionKey) != sessionKeySize {
		return nil, errs.New(errs.KindAuthentication, "credential decryption failed")
	}

	block, err := aes.NewCipher(sessionKey)
	if err != nil {
		return nil, errOpaque(err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return nil, errOpaque(err)
	}

	// GCM wants ciphertext||tag as one buffer.
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errOpaque(err)
	}

	creds := &Credentials{}
	if err := json.Unmarshal(plain, creds); err != nil {
		return nil, errOpaque(err)
	}
	if creds.User == "" || creds.Password == "" {
		return nil, errs.New(errs.KindAuthentication, "credential decryption failed")
	}
	return creds, nil
}

// newToken mints an opaque 256-bit bearer token.
func newToken() (string, error) {
	buf := make([]byte, tokenSize)
	if _, err := rand.Read(buf); err != nil {
		return "", errs.Wrap(errs.KindInternal, "token generation failed", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
