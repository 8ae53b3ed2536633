package ipc

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// ConsoleIdentity holds the console's own X.509 SVID, sourced from a
// local SPIRE agent, and issues server-side mTLS configs for the
// command channel. Grounded on the teacher's
// internal/identity.SPIFFEVerifier: same X509Source-over-workloadapi
// connection idiom, narrowed to the console's single identity instead
// of per-agent verification.
type ConsoleIdentity struct {
	source *workloadapi.X509Source
	id     spiffeid.ID
}

// NewConsoleIdentity connects to the SPIRE agent at socketPath and
// fetches the console's own SVID. A 3 second timeout keeps a missing
// agent from blocking console startup indefinitely — callers decide
// whether to fall back to a non-mTLS listener or fail hard.
func NewConsoleIdentity(socketPath string) (*ConsoleIdentity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to connect to SPIRE at %s: %w", socketPath, err)
	}

	svid, err := source.GetX509SVID()
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("identity: failed to fetch console SVID: %w", err)
	}

	slog.Info("ipc: console identity established", "spiffe_id", svid.ID.String())
	return &ConsoleIdentity{source: source, id: svid.ID}, nil
}

// ID returns the console's own SPIFFE ID.
func (c *ConsoleIdentity) ID() spiffeid.ID { return c.id }

// ServerTLSConfig returns a *tls.Config requiring every connecting
// client to present an SVID whose trust domain matches the console's
// own, rejecting any other caller at the handshake.
func (c *ConsoleIdentity) ServerTLSConfig() *tls.Config {
	authorizer := tlsconfig.AuthorizeMemberOf(c.id.TrustDomain())
	return tlsconfig.MTLSServerConfig(c.source, c.source, authorizer)
}

// Close releases the underlying workload API connection.
func (c *ConsoleIdentity) Close() error {
	return c.source.Close()
}
