package xmppcore

import (
	"encoding/xml"
)

// RFC 6120  5  STARTTLS Negotiation

type TLSStartTLS struct {
	XMLName  xml.Name  `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
	Required *struct{} `xml:"required,omitempty"`
}

// NewTLSStartTLS builds the STARTTLS stream feature, flagged as mandatory
// when required is set.
//
// RFC 6120  5.3.1
func NewTLSStartTLS(required bool) *TLSStartTLS {
	feature := &TLSStartTLS{}
	if required {
		feature.Required = &struct{}{}
	}
	return feature
}

func (f *TLSStartTLS) IsRequired() bool { return f.Required != nil }
