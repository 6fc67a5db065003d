// Package xmppcore contains the XMPP Core (RFC 6120) building blocks used
// by the server-to-server federation code: addresses, the stanza wire
// model and the stanza/stream error taxonomies.
package xmppcore

const (
	StreamsNS      = "urn:ietf:params:xml:ns:xmpp-streams"
	JabberServerNS = "jabber:server"

	// XMLNS is the namespace bound to the reserved "xml" prefix. The
	// decoder reports xml:lang with this space.
	XMLNS = "http://www.w3.org/XML/1998/namespace"
)
