package gateway

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/ibmi-mcp/ibmi-mcp-go/internal/errs"
)

const certFetchTimeout = 10 * time.Second

// FetchRootCertificate connects to the gateway with verification disabled
// and returns the last certificate of the presented chain, PEM-encoded.
// That certificate then verifies the real WebSocket handshake, which keeps
// sources trusting exactly the endpoint they name without a CA bundle.
func FetchRootCertificate(ctx context.Context, endpoint string) ([]byte, error) {
	dialer := &net.Dialer{Timeout: certFetchTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, errs.Wrap(errs.KindDatabase,
			fmt.Sprintf("failed to reach %s for certificate retrieval", endpoint), err)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // retrieval only
	defer tlsConn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	} else {
		_ = tlsConn.SetDeadline(time.Now().Add(certFetchTimeout))
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errs.Wrap(errs.KindDatabase,
			fmt.Sprintf("TLS handshake with %s failed during certificate retrieval", endpoint), err)
	}

	chain := tlsConn.ConnectionState().PeerCertificates
	if len(chain) == 0 {
		return nil, errs.Newf(errs.KindDatabase, "%s presented no certificates", endpoint)
	}

	root := chain[len(chain)-1]
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw}), nil
}
