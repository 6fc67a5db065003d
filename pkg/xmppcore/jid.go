package xmppcore

import (
	"encoding/xml"

	"github.com/pkg/errors"
	"mellium.im/xmpp/jid"
)

var ErrEmptyJID = errors.New("empty jid")

type JID struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJID parses and normalizes an XMPP address.
//
// RFC 7622  3
func ParseJID(s string) (JID, error) {
	if s == "" {
		return JID{}, ErrEmptyJID
	}
	parsed, err := jid.Parse(s)
	if err != nil {
		return JID{}, errors.Wrapf(err, "invalid jid %q", s)
	}
	return JID{
		Local:    parsed.Localpart(),
		Domain:   parsed.Domainpart(),
		Resource: parsed.Resourcepart(),
	}, nil
}

// Bare returns the "bare JID" string.
//
// RFC 6120  1.4:
// The term "bare JID" refers to an XMPP address of the form
// <localpart@domainpart> (for an account at a server) or of the form
// <domainpart> (for a server).
func (j JID) Bare() string {
	if j.Local != "" {
		return j.Local + "@" + j.Domain
	}
	return j.Domain
}

// Full returns the "full JID" string.
//
// RFC 6120  1.4
// The term "full JID" refers to an XMPP address of the form
// <localpart@domainpart/resourcepart> (for a particular authorized client
// or device associated with an account) or of the form
// <domainpart/resourcepart> (for a particular resource or script associated
// with a server).
func (j JID) Full() string {
	return j.Bare() + "/" + j.Resource
}

// String returns the full JID when there's a resource and the bare JID
// otherwise. This is the form put on the wire.
func (j JID) String() string {
	if j.Resource == "" {
		return j.Bare()
	}
	return j.Full()
}

func (j JID) Equals(other JID) bool {
	return j.Local == other.Local &&
		j.Domain == other.Domain &&
		j.Resource == other.Resource
}

func (j JID) IsEmpty() bool {
	return j.Local == "" && j.Domain == "" && j.Resource == ""
}

func (j JID) IsBare() bool {
	return j.Domain != "" && j.Resource == ""
}

func (j JID) IsFull() bool {
	return j.Domain != "" && j.Resource != ""
}

func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: j.String()}, nil
}

func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := ParseJID(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
