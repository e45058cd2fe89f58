// Package auth implements the encrypted credential handshake, the opaque
// bearer-token session store and the HTTP surface both are served from.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

// KeyPair is the RSA key material for one handshake key id. The public half
// is kept as the original PEM so clients receive it byte for byte.
type KeyPair struct {
	ID        string
	Private   *rsa.PrivateKey
	PublicPEM string
}

// LoadKeyPair reads and parses the PEM files configured for the handshake.
func LoadKeyPair(privateKeyPath, publicKeyPath, keyID string) (*KeyPair, error) {
	privPEM, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("failed to read private key %s", privateKeyPath), err)
	}
	priv, err := parsePrivateKey(privPEM)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("invalid private key %s", privateKeyPath), err)
	}

	pubPEM, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration,
			fmt.Sprintf("failed to read public key %s", publicKeyPath), err)
	}
	if block, _ := pem.Decode(pubPEM); block == nil {
		return nil, errs.Newf(errs.KindConfiguration,
			"public key %s is not valid PEM", publicKeyPath)
	}

	return &KeyPair{ID: keyID, Private: priv, PublicPEM: string(pubPEM)}, nil
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("not valid PEM")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA key")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
