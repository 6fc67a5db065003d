package s2sconfig

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdialback"
)

// TransportType is the kind of session a domain is reached through.
type TransportType int

const (
	TransportS2S TransportType = iota
	TransportComponent
	TransportInternal
)

func (t TransportType) String() string {
	switch t {
	case TransportComponent:
		return "component"
	case TransportInternal:
		return "internal"
	}
	return "s2s"
}

func (t TransportType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TransportType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "s2s":
		*t = TransportS2S
	case "component":
		*t = TransportComponent
	case "internal":
		*t = TransportInternal
	default:
		return errors.Errorf("unknown transport %q", string(text))
	}
	return nil
}

// Policy holds the flags of a domain as read from the configuration.
type Policy struct {
	Forward      bool
	RequireTLS   bool
	Block        bool
	AuthPKIX     bool
	AuthDialback bool
	// AuthSecret is the dialback secret, nil when none is configured.
	AuthSecret *string
}

// Domain is the federation policy for one domain. For a domain served
// here it also carries the certificate presented to peers. It is not
// modified once the registry holding it has been published, so it can be
// shared between sessions without locking.
type Domain struct {
	domain    string
	transport TransportType
	policy    Policy

	tlsConfig *tls.Config
	roots     *x509.CertPool
	tlsFiles  tlsFiles
}

type tlsFiles struct {
	chain  string
	key    string
	caFile string
}

func NewDomain(domain string, transport TransportType, policy Policy) *Domain {
	if policy.AuthSecret != nil {
		secret := *policy.AuthSecret
		policy.AuthSecret = &secret
	}
	return &Domain{
		domain:    domain,
		transport: transport,
		policy:    policy,
	}
}

func (d *Domain) Domain() string               { return d.domain }
func (d *Domain) TransportType() TransportType { return d.transport }
func (d *Domain) Forward() bool                { return d.policy.Forward }
func (d *Domain) RequireTLS() bool             { return d.policy.RequireTLS }
func (d *Domain) Block() bool                  { return d.policy.Block }
func (d *Domain) AuthPKIX() bool               { return d.policy.AuthPKIX }
func (d *Domain) AuthDialback() bool           { return d.policy.AuthDialback }

// AuthSecret returns the dialback secret, if any.
func (d *Domain) AuthSecret() (string, bool) {
	if d.policy.AuthSecret == nil {
		return "", false
	}
	return *d.policy.AuthSecret, true
}

// StartTLS returns the stream feature advertised to peers of this domain.
func (d *Domain) StartTLS() *xmppcore.TLSStartTLS {
	return xmppcore.NewTLSStartTLS(d.policy.RequireTLS)
}

// LoadRoots replaces the trust anchors used to verify peers under this
// policy with the certificates of a PEM file. Without it the system pool
// is used.
func (d *Domain) LoadRoots(caFile string) error {
	pemData, err := os.ReadFile(caFile)
	if err != nil {
		return &ConfigError{Domain: d.domain, Err: errors.Wrap(err, "unable to read ca file")}
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return &ConfigError{Domain: d.domain, Err: errors.Errorf("no certificates in %s", caFile)}
	}
	d.roots = pool
	d.tlsFiles.caFile = caFile
	return nil
}

// X509 loads the certificate chain and private key the domain presents to
// its peers. Sessions get their TLS context from TLSConfig.
func (d *Domain) X509(chainFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(chainFile, keyFile)
	if err != nil {
		return &ConfigError{Domain: d.domain, Err: errors.Wrap(err, "unable to load certificate")}
	}
	d.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.RequestClientCert,
	}
	d.tlsFiles.chain = chainFile
	d.tlsFiles.key = keyFile
	return nil
}

// HasCertificate tells whether X509 loaded a certificate for the domain.
func (d *Domain) HasCertificate() bool { return d.tlsConfig != nil }

// TLSConfig returns the TLS context of a session between the domain and
// the peer remote, whose policy is peer. It can be used on either side of
// the handshake. The installed VerifyConnection checks the peer
// certificate for the name remote under peer's policy. It is nil when the
// domain has no certificate.
func (d *Domain) TLSConfig(remote string, peer *Domain) *tls.Config {
	if d.tlsConfig == nil {
		return nil
	}
	cfg := d.tlsConfig.Clone()
	cfg.ServerName = remote
	// The chain is verified by VerifyConnection, against the peer's roots.
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return peer.VerifyConnection(remote, cs)
	}
	return cfg
}

// VerifyConnection is the handshake check for a peer claiming to be
// remote, with d being remote's policy. A failed PKIX check only ends the
// handshake when the policy has no other way to authenticate.
func (d *Domain) VerifyConnection(remote string, cs tls.ConnectionState) error {
	if d.PKIXTrusted(remote, cs) || d.policy.AuthDialback {
		return nil
	}
	return errors.Errorf("%s: certificate not trusted and dialback not allowed", remote)
}

// VerifyContext is one step of chain verification: the certificate at
// Depth, where 0 is the peer's own certificate, presented by a peer
// claiming to be Remote.
type VerifyContext struct {
	Remote string
	Depth  int
	Cert   *x509.Certificate
}

// VerifyCallback decides whether a certificate is acceptable under the
// domain's policy, given the outcome of chain verification. The leaf must
// be issued to the name the peer claims. It has no side effects.
func (d *Domain) VerifyCallback(preverifyOK bool, vc *VerifyContext) bool {
	if !d.policy.AuthPKIX || !preverifyOK {
		return false
	}
	if vc.Depth == 0 {
		return vc.Remote != "" && vc.Cert != nil && vc.Cert.VerifyHostname(vc.Remote) == nil
	}
	return true
}

// PKIXTrusted verifies the peer chain of a connection against the domain's
// roots and runs VerifyCallback for every certificate of it, with remote
// as the identity the peer claims.
func (d *Domain) PKIXTrusted(remote string, cs tls.ConnectionState) bool {
	if len(cs.PeerCertificates) == 0 {
		return false
	}
	leaf := cs.PeerCertificates[0]
	intermediates := x509.NewCertPool()
	for _, cert := range cs.PeerCertificates[1:] {
		intermediates.AddCert(cert)
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         d.roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	preverifyOK := err == nil
	chain := cs.PeerCertificates
	if preverifyOK && len(chains) > 0 {
		chain = chains[0]
	}
	for depth, cert := range chain {
		if !d.VerifyCallback(preverifyOK, &VerifyContext{Remote: remote, Depth: depth, Cert: cert}) {
			return false
		}
	}
	return true
}

// Trust is the authentication state of a remote domain on a session.
type Trust int

const (
	Untrusted Trust = iota
	TrustedPKIX
	TrustedDialback
)

func (t Trust) String() string {
	switch t {
	case TrustedPKIX:
		return "pkix"
	case TrustedDialback:
		return "dialback"
	}
	return "untrusted"
}

// Decide combines the domain's policy with what a session with the peer
// remote observed. d is the policy applied to remote, possibly the default
// one. cs is nil when the session is not encrypted; outcome is nil when no
// dialback took place.
func (d *Domain) Decide(remote string, cs *tls.ConnectionState, outcome *xmppdialback.Type) Trust {
	if d.policy.Block {
		return Untrusted
	}
	if cs == nil && d.policy.RequireTLS {
		return Untrusted
	}
	if cs != nil && d.PKIXTrusted(remote, *cs) {
		return TrustedPKIX
	}
	if d.policy.AuthDialback && outcome != nil && *outcome == xmppdialback.TypeValid {
		return TrustedDialback
	}
	return Untrusted
}
