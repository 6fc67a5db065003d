package xmppim

import (
	"encoding/xml"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
)

var ServerPresenceName = xml.Name{Space: xmppcore.JabberServerNS, Local: "presence"}

// RFC 6121  4.7.1
const (
	PresenceTypeError        = "error"
	PresenceTypeProbe        = "probe"
	PresenceTypeSubscribe    = "subscribe"
	PresenceTypeSubscribed   = "subscribed"
	PresenceTypeUnavailable  = "unavailable"
	PresenceTypeUnsubscribe  = "unsubscribe"
	PresenceTypeUnsubscribed = "unsubscribed"
)

// Presence carries no typed state; the type attribute is only exposed raw.
type Presence struct {
	xmppcore.Stanza
}

func NewPresence(from, to xmppcore.JID, typeStr string, id string) *Presence {
	var t *string
	if typeStr != "" {
		t = &typeStr
	}
	return &Presence{Stanza: *xmppcore.NewStanza(ServerPresenceName, &from, &to, t, id)}
}

func ParsePresence(node xmppcore.Node) (*Presence, error) {
	st, err := xmppcore.NewStanzaFromNode(node.Name(), node)
	return &Presence{Stanza: *st}, err
}

// RawType returns the type attribute, empty when absent (available).
func (p *Presence) RawType() string {
	if p.TypeStr() == nil {
		return ""
	}
	return *p.TypeStr()
}

func (p *Presence) CreateBounce(cond xmppcore.StanzaErrorCondition) (*Presence, error) {
	st, err := p.Stanza.CreateBounce(cond)
	if err != nil {
		return nil, err
	}
	return &Presence{Stanza: *st}, nil
}

func (p *Presence) CreateBounceFromError(err error) (*Presence, error) {
	st, err := p.Stanza.CreateBounceFromError(err)
	if err != nil {
		return nil, err
	}
	return &Presence{Stanza: *st}, nil
}

func (p *Presence) CreateForward() (*Presence, error) {
	st, err := p.Stanza.CreateForward()
	if err != nil {
		return nil, err
	}
	return &Presence{Stanza: *st}, nil
}
