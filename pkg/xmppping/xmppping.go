// Package xmppping is XMPP Ping (XEP-0199), which servers also use to
// check the liveness of each other.
package xmppping

import (
	"encoding/xml"
)

const NS = "urn:xmpp:ping"

var Name = xml.Name{Space: NS, Local: "ping"}
