// Package xmpps2s ties the wire model to the federation policy: it turns
// parsed nodes into typed elements and decides what happens to them.
package xmpps2s

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
	"github.com/exavolt/xmpp-s2s/pkg/xmppdialback"
	"github.com/exavolt/xmpp-s2s/pkg/xmppim"
)

var log = logrus.WithFields(logrus.Fields{"pkg": "xmpps2s"})

// ErrUnknownElement is returned by Decode for elements that are neither
// stanzas nor dialback elements.
var ErrUnknownElement = errors.New("unknown element")

// Decode classifies node by its qualified name.
//
// When the node is recognized but has malformed addresses, both the
// element and a *xmppcore.StanzaException are returned, so that the caller
// can bounce it with Router.Reject.
func Decode(node xmppcore.Node) (xmppcore.Element, error) {
	switch node.Name() {
	case xmppim.ServerMessageName:
		msg, err := xmppim.ParseMessage(node)
		return msg, err
	case xmppim.ServerPresenceName:
		p, err := xmppim.ParsePresence(node)
		return p, err
	case xmppcore.ServerIQName:
		iq, err := xmppcore.ParseIQ(node)
		return iq, err
	case xmppdialback.ResultName:
		res, err := xmppdialback.ParseResult(node)
		return res, err
	case xmppdialback.VerifyName:
		ver, err := xmppdialback.ParseVerify(node)
		return ver, err
	}
	name := node.Name()
	return nil, errors.Wrapf(ErrUnknownElement, "{%s}%s", name.Space, name.Local)
}
