package xmpps2s

import (
	"crypto/tls"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/exavolt/xmpp-s2s/pkg/s2sconfig"
	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdialback"
)

// Gate applies domain policy at the stream level: admission of a peer,
// its authentication, and the dialback exchanges.
type Gate struct {
	registry Registry
}

func NewGate(registry Registry) *Gate {
	return &Gate{registry: registry}
}

// Admit is called once the remote domain of a stream is known. Streams
// with a domain that has no policy, or a blocked one, get a stream error
// to send before closing. On success the starttls feature to offer is
// returned along with the policy.
func (g *Gate) Admit(remote string) (*s2sconfig.Domain, *xmppcore.TLSStartTLS, error) {
	domain, err := g.registry.Domain(remote)
	if err != nil {
		if errors.Is(err, s2sconfig.ErrDomainNotConfigured) {
			log.WithFields(logrus.Fields{"remote": remote}).Info("Refusing stream from unknown domain")
			return nil, nil, xmppcore.NewStreamError(xmppcore.StreamErrorConditionHostUnknown, "")
		}
		return nil, nil, err
	}
	if domain.Block() {
		log.WithFields(logrus.Fields{"remote": remote, "policy": domain.Domain()}).
			Info("Refusing stream from blocked domain")
		return nil, nil, xmppcore.NewStreamError(xmppcore.StreamErrorConditionPolicyViolation, "")
	}
	return domain, domain.StartTLS(), nil
}

// Authorize turns what the stream observed into a trust decision. cs is
// nil on an unencrypted stream, outcome is nil when no dialback happened.
// Untrusted peers get a not-authorized stream error.
func (g *Gate) Authorize(remote string, cs *tls.ConnectionState, outcome *xmppdialback.Type) (s2sconfig.Trust, error) {
	domain, _, err := g.Admit(remote)
	if err != nil {
		return s2sconfig.Untrusted, err
	}
	trust := domain.Decide(remote, cs, outcome)
	log.WithFields(logrus.Fields{"remote": remote, "policy": domain.Domain(), "trust": trust.String()}).
		Debug("Authorization")
	if trust == s2sconfig.Untrusted {
		return trust, xmppcore.NewStreamError(xmppcore.StreamErrorConditionNotAuthorized, "")
	}
	return trust, nil
}

// TLSConfig returns the TLS context of a stream between local, a domain
// served here with a certificate, and remote. The peer certificate is
// checked for remote's name under remote's policy.
func (g *Gate) TLSConfig(local, remote string) (*tls.Config, error) {
	own, ok := g.registry.Lookup(local)
	if !ok || !own.HasCertificate() {
		return nil, errors.Errorf("no certificate for %s", local)
	}
	peer, _, err := g.Admit(remote)
	if err != nil {
		return nil, err
	}
	return own.TLSConfig(remote, peer), nil
}

// ResultKey builds the db:result an originating server sends on a new
// stream, with the key derived from the local domain's secret.
func (g *Gate) ResultKey(local, remote xmppcore.JID, streamID string) (*xmppdialback.Result, error) {
	secret, err := g.secret(local.Domain)
	if err != nil {
		return nil, err
	}
	key := xmppdialback.GenerateKey(secret, remote.Domain, local.Domain, streamID)
	return xmppdialback.NewResultKey(remote, local, key), nil
}

// AnswerVerify is the authoritative server's side: it checks the key of a
// db:verify addressed to one of its domains. Requests for domains without
// a secret are answered with an item-not-found error, requests carrying an
// outcome instead of a key with a bad-request one.
func (g *Gate) AnswerVerify(req *xmppdialback.Verify) (*xmppdialback.Verify, error) {
	if req.To() == nil || req.From() == nil {
		return nil, xmppcore.NewStanzaException(xmppcore.StanzaErrorConditionBadRequest,
			"dialback element without addresses")
	}
	if req.TypeStr() != nil {
		log.WithFields(logrus.Fields{"domain": req.To().Domain, "from": req.From().Domain}).
			Info("Dialback verify request without a key")
		return xmppdialback.NewVerifyError(*req.From(), *req.To(), req.StreamID(),
			xmppcore.StanzaErrorConditionBadRequest), nil
	}
	if err := req.Freeze(); err != nil {
		return nil, err
	}
	secret, err := g.secret(req.To().Domain)
	if err != nil {
		log.WithFields(logrus.Fields{"domain": req.To().Domain}).WithError(err).
			Info("Unable to verify dialback key")
		return xmppdialback.NewVerifyError(*req.From(), *req.To(), req.StreamID(),
			xmppcore.StanzaErrorConditionItemNotFound), nil
	}
	return req.Answer(secret)
}

func (g *Gate) secret(domainName string) (string, error) {
	domain, err := g.registry.Domain(domainName)
	if err != nil {
		return "", err
	}
	// A fallback policy's secret belongs to another domain.
	if domain.Domain() != domainName {
		return "", s2sconfig.ErrDomainNotConfigured
	}
	secret, ok := domain.AuthSecret()
	if !ok || !domain.AuthDialback() {
		return "", errors.Errorf("no dialback secret for %s", domainName)
	}
	return secret, nil
}
