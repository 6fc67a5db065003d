package xmppcore

import (
	"bytes"
	"encoding/xml"

	"github.com/pkg/errors"
)

const StanzasNS = "urn:ietf:params:xml:ns:xmpp-stanzas"

// RFC 6120  8.3.2
const (
	StanzaErrorTypeAuth     = "auth"
	StanzaErrorTypeCancel   = "cancel"
	StanzaErrorTypeContinue = "continue"
	StanzaErrorTypeModify   = "modify"
	StanzaErrorTypeWait     = "wait"
)

// RFC 6120  8.3.2
//
// XMLName is left un-tagged; it is set to the namespace of the stanza the
// error is attached to.
type StanzaError struct {
	XMLName     xml.Name
	By          string `xml:"by,attr,omitempty"`
	Type        string `xml:"type,attr"`
	Condition   StanzaErrorCondition
	Text        string `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text,omitempty"`
	AppSpecific []byte `xml:",innerxml"`
}

type StanzaErrorCondition struct {
	XMLName xml.Name
}

// RFC 6120  8.3.3
var (
	StanzaErrorConditionBadRequest            = stanzaErrorCondition("bad-request")
	StanzaErrorConditionConflict              = stanzaErrorCondition("conflict")
	StanzaErrorConditionFeatureNotImplemented = stanzaErrorCondition("feature-not-implemented")
	StanzaErrorConditionForbidden             = stanzaErrorCondition("forbidden")
	StanzaErrorConditionGone                  = stanzaErrorCondition("gone")
	StanzaErrorConditionInternalServerError   = stanzaErrorCondition("internal-server-error")
	StanzaErrorConditionItemNotFound          = stanzaErrorCondition("item-not-found")
	StanzaErrorConditionJIDMalformed          = stanzaErrorCondition("jid-malformed")
	StanzaErrorConditionNotAcceptable         = stanzaErrorCondition("not-acceptable")
	StanzaErrorConditionNotAllowed            = stanzaErrorCondition("not-allowed")
	StanzaErrorConditionNotAuthorized         = stanzaErrorCondition("not-authorized")
	StanzaErrorConditionPolicyViolation       = stanzaErrorCondition("policy-violation")
	StanzaErrorConditionRecipientUnavailable  = stanzaErrorCondition("recipient-unavailable")
	StanzaErrorConditionRedirect              = stanzaErrorCondition("redirect")
	StanzaErrorConditionRegistrationRequired  = stanzaErrorCondition("registration-required")
	StanzaErrorConditionRemoteServerNotFound  = stanzaErrorCondition("remote-server-not-found")
	StanzaErrorConditionRemoteServerTimeout   = stanzaErrorCondition("remote-server-timeout")
	StanzaErrorConditionResourceConstraint    = stanzaErrorCondition("resource-constraint")
	StanzaErrorConditionServiceUnavailable    = stanzaErrorCondition("service-unavailable")
	StanzaErrorConditionSubscriptionRequired  = stanzaErrorCondition("subscription-required")
	StanzaErrorConditionUndefinedCondition    = stanzaErrorCondition("undefined-condition")
	StanzaErrorConditionUnexpectedRequest     = stanzaErrorCondition("unexpected-request")
)

// StanzaErrorConditions lists every defined condition, in RFC order.
var StanzaErrorConditions = []StanzaErrorCondition{
	StanzaErrorConditionBadRequest,
	StanzaErrorConditionConflict,
	StanzaErrorConditionFeatureNotImplemented,
	StanzaErrorConditionForbidden,
	StanzaErrorConditionGone,
	StanzaErrorConditionInternalServerError,
	StanzaErrorConditionItemNotFound,
	StanzaErrorConditionJIDMalformed,
	StanzaErrorConditionNotAcceptable,
	StanzaErrorConditionNotAllowed,
	StanzaErrorConditionNotAuthorized,
	StanzaErrorConditionPolicyViolation,
	StanzaErrorConditionRecipientUnavailable,
	StanzaErrorConditionRedirect,
	StanzaErrorConditionRegistrationRequired,
	StanzaErrorConditionRemoteServerNotFound,
	StanzaErrorConditionRemoteServerTimeout,
	StanzaErrorConditionResourceConstraint,
	StanzaErrorConditionServiceUnavailable,
	StanzaErrorConditionSubscriptionRequired,
	StanzaErrorConditionUndefinedCondition,
	StanzaErrorConditionUnexpectedRequest,
}

func stanzaErrorCondition(local string) StanzaErrorCondition {
	return StanzaErrorCondition{XMLName: xml.Name{Space: StanzasNS, Local: local}}
}

// ParseStanzaErrorCondition looks up a defined condition by its element
// name.
func ParseStanzaErrorCondition(local string) (StanzaErrorCondition, bool) {
	for _, cond := range StanzaErrorConditions {
		if cond.XMLName.Local == local {
			return cond, true
		}
	}
	return StanzaErrorCondition{}, false
}

func (cond StanzaErrorCondition) String() string { return cond.XMLName.Local }

// DefaultType returns the error type RFC 6120 suggests for the condition.
func (cond StanzaErrorCondition) DefaultType() string {
	switch cond {
	case StanzaErrorConditionForbidden,
		StanzaErrorConditionNotAuthorized,
		StanzaErrorConditionRegistrationRequired,
		StanzaErrorConditionSubscriptionRequired:
		return StanzaErrorTypeAuth
	case StanzaErrorConditionBadRequest,
		StanzaErrorConditionJIDMalformed,
		StanzaErrorConditionNotAcceptable,
		StanzaErrorConditionPolicyViolation,
		StanzaErrorConditionRedirect:
		return StanzaErrorTypeModify
	case StanzaErrorConditionRecipientUnavailable,
		StanzaErrorConditionRemoteServerTimeout,
		StanzaErrorConditionResourceConstraint,
		StanzaErrorConditionUnexpectedRequest:
		return StanzaErrorTypeWait
	}
	return StanzaErrorTypeCancel
}

// StanzaException is a protocol-level failure that is reported back to
// the sender as an error stanza.
type StanzaException struct {
	Condition StanzaErrorCondition
	// Type overrides the condition's default error type when set.
	Type string
	Text string
	// AppSpecific is raw, already serialized, application-specific
	// condition content.
	AppSpecific []byte
}

func NewStanzaException(cond StanzaErrorCondition, text string) *StanzaException {
	return &StanzaException{Condition: cond, Text: text}
}

func (ex *StanzaException) Error() string {
	if ex.Text != "" {
		return "stanza error " + ex.Condition.String() + ": " + ex.Text
	}
	return "stanza error " + ex.Condition.String()
}

func (ex *StanzaException) stanzaError(space string) *StanzaError {
	errType := ex.Type
	if errType == "" {
		errType = ex.Condition.DefaultType()
	}
	return &StanzaError{
		XMLName:     xml.Name{Space: space, Local: "error"},
		Type:        errType,
		Condition:   ex.Condition,
		Text:        ex.Text,
		AppSpecific: ex.AppSpecific,
	}
}

// RenderError serializes the error element for a stanza in the given
// namespace.
func RenderError(space string, ex *StanzaException) ([]byte, error) {
	buf, err := xml.Marshal(ex.stanzaError(space))
	if err != nil {
		return nil, errors.Wrap(err, "unable to marshal stanza error")
	}
	return buf, nil
}

// parseStanzaError looks for the top-level error child in payload and
// returns the defined condition it carries.
func parseStanzaError(payload []byte) (*StanzaException, bool) {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	depth := 0
	var ex *StanzaException
	for {
		token, err := decoder.Token()
		if err != nil {
			// io.EOF or a truncated payload
			return ex, ex != nil && ex.Condition.XMLName.Local != ""
		}
		switch elem := token.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1 && elem.Name.Local == "error":
				ex = &StanzaException{}
				for _, attr := range elem.Attr {
					if attr.Name.Local == "type" {
						ex.Type = attr.Value
					}
				}
			case depth == 2 && ex != nil && elem.Name.Space == StanzasNS:
				if elem.Name.Local == "text" {
					var text string
					if err := decoder.DecodeElement(&text, &elem); err == nil {
						ex.Text = text
					}
					depth--
					continue
				}
				if cond, ok := ParseStanzaErrorCondition(elem.Name.Local); ok {
					ex.Condition = cond
				}
			}
		case xml.EndElement:
			depth--
			if depth == 0 && ex != nil {
				return ex, ex.Condition.XMLName.Local != ""
			}
		}
	}
}
