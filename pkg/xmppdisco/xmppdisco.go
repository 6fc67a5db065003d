package xmppdisco

import (
	"encoding/xml"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
)

// XEP-0030: Service Discovery

const (
	InfoNS  = "http://jabber.org/protocol/disco#info"
	ItemsNS = "http://jabber.org/protocol/disco#items"
)

var (
	InfoQueryName  = xml.Name{Space: InfoNS, Local: "query"}
	ItemsQueryName = xml.Name{Space: ItemsNS, Local: "query"}
)

type InfoIQResult struct {
	XMLName  xml.Name   `xml:"http://jabber.org/protocol/disco#info query"`
	Node     string     `xml:"node,attr,omitempty"`
	Identity []Identity `xml:"identity,omitempty"`
	Feature  []Feature  `xml:"feature,omitempty"`
}

type ItemsIQResult struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/disco#items query"`
	Node    string   `xml:"node,attr,omitempty"`
	Item    []Item   `xml:"item,omitempty"`
}

// https://xmpp.org/registrar/disco-categories.html
const (
	IdentityCategoryServer = "server"
	IdentityTypeIM         = "im"
)

type Identity struct {
	Category string `xml:"category,attr"`
	Name     string `xml:"name,attr,omitempty"`
	Type     string `xml:"type,attr"`
}

type Feature struct {
	Var string `xml:"var,attr"`
}

type Item struct {
	JID  xmppcore.JID `xml:"jid,attr"`
	Name string       `xml:"name,attr,omitempty"`
	Node string       `xml:"node,attr,omitempty"`
}

// Features builds the feature list from namespaces.
func Features(vars ...string) []Feature {
	features := make([]Feature, 0, len(vars))
	for _, v := range vars {
		features = append(features, Feature{Var: v})
	}
	return features
}
