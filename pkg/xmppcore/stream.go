package xmppcore

import (
	"encoding/xml"
)

// RFC 6120  4.9  Stream Errors

// RFC 6120  4.9.2
type StreamError struct {
	XMLName   xml.Name `xml:"http://etherx.jabber.org/streams error"`
	Condition StreamErrorCondition
	Text      string `xml:"urn:ietf:params:xml:ns:xmpp-streams text,omitempty"`
}

func (se *StreamError) Error() string {
	if se.Text != "" {
		return "stream error " + se.Condition.XMLName.Local + ": " + se.Text
	}
	return "stream error " + se.Condition.XMLName.Local
}

// RFC 6120  4.9.3  Defined Stream Error Conditions

// Per latest revision of RFC 6120, stream error conditions are empty elements.
type StreamErrorCondition struct {
	XMLName xml.Name
}

var (
	StreamErrorConditionBadFormat           = streamErrorCondition("bad-format")
	StreamErrorConditionHostUnknown         = streamErrorCondition("host-unknown")
	StreamErrorConditionInternalServerError = streamErrorCondition("internal-server-error")
	StreamErrorConditionInvalidFrom         = streamErrorCondition("invalid-from")
	StreamErrorConditionNotAuthorized       = streamErrorCondition("not-authorized")
	StreamErrorConditionPolicyViolation     = streamErrorCondition("policy-violation")
	StreamErrorConditionUnsupportedStanza   = streamErrorCondition("unsupported-stanza-type")
)

func streamErrorCondition(local string) StreamErrorCondition {
	return StreamErrorCondition{XMLName: xml.Name{Space: StreamsNS, Local: local}}
}

func NewStreamError(cond StreamErrorCondition, text string) *StreamError {
	return &StreamError{Condition: cond, Text: text}
}
