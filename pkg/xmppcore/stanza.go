package xmppcore

import (
	"encoding/xml"

	"github.com/pkg/errors"
)

var (
	ErrPayloadReleased = errors.New("stanza payload released before freeze")
	ErrBounceOfError   = errors.New("refusing to bounce an error stanza")
)

// StanzaTypeError is the type attribute value of error stanzas, shared by
// all stanza kinds.
const StanzaTypeError = "error"

var (
	attrFrom = xml.Name{Local: "from"}
	attrTo   = xml.Name{Local: "to"}
	attrType = xml.Name{Local: "type"}
	attrID   = xml.Name{Local: "id"}
	attrLang = xml.Name{Space: XMLNS, Local: "lang"}
)

// Element is implemented by every stanza kind: *IQ, and the message,
// presence and dialback types of the sibling packages. All of them embed
// Stanza.
type Element interface {
	Base() *Stanza
	sealed()
}

// payload holds the stanza's child content. Exactly one source is
// authoritative: the borrowed node until Freeze, the owned copy after.
type payload struct {
	node  Node
	owned []byte
}

func (p *payload) frozen() bool { return p.node == nil }

// Stanza is the common part of message, iq, presence and the dialback
// elements.
type Stanza struct {
	name    xml.Name
	from    *JID
	to      *JID
	typeStr *string
	id      string
	lang    string
	payload payload
	err     *StanzaException
}

// NewStanza builds an outbound stanza. Any of from, to and typeStr may be
// nil. The payload starts empty and owned.
func NewStanza(name xml.Name, from, to *JID, typeStr *string, id string) *Stanza {
	return &Stanza{
		name:    name,
		from:    copyJID(from),
		to:      copyJID(to),
		typeStr: copyString(typeStr),
		id:      id,
	}
}

// NewStanzaFromNode builds a stanza borrowing node's content. The node must
// stay alive until the stanza is frozen or discarded.
//
// A malformed from or to leaves that address absent and is reported as a
// *StanzaException with the jid-malformed condition; the returned stanza
// is still usable, typically to bounce it.
func NewStanzaFromNode(name xml.Name, node Node) (*Stanza, error) {
	st := &Stanza{
		name:    name,
		payload: payload{node: node},
	}
	var firstErr error
	if v, ok := node.Attr(attrFrom); ok {
		from, err := ParseJID(v)
		if err != nil {
			firstErr = NewStanzaException(StanzaErrorConditionJIDMalformed, "invalid from")
		} else {
			st.from = &from
		}
	}
	if v, ok := node.Attr(attrTo); ok {
		to, err := ParseJID(v)
		if err != nil {
			if firstErr == nil {
				firstErr = NewStanzaException(StanzaErrorConditionJIDMalformed, "invalid to")
			}
		} else {
			st.to = &to
		}
	}
	if v, ok := node.Attr(attrType); ok {
		st.typeStr = &v
	}
	st.id, _ = node.Attr(attrID)
	st.lang, _ = node.Attr(attrLang)
	return st, firstErr
}

func (st *Stanza) Base() *Stanza { return st }
func (st *Stanza) sealed()       {}

func (st *Stanza) Name() xml.Name { return st.name }

// From returns the sender, or nil when the stanza carries none.
func (st *Stanza) From() *JID { return st.from }

// To returns the recipient, or nil when the stanza carries none.
func (st *Stanza) To() *JID { return st.to }

// TypeStr returns the raw type attribute, or nil when absent.
func (st *Stanza) TypeStr() *string { return st.typeStr }

func (st *Stanza) ID() string   { return st.id }
func (st *Stanza) Lang() string { return st.lang }

func (st *Stanza) SetLang(lang string) { st.lang = lang }

// Node returns the borrowed source node, or nil once the stanza is frozen
// or when it was built programmatically.
func (st *Stanza) Node() Node { return st.payload.node }

// IsError tells whether the stanza is of type "error".
func (st *Stanza) IsError() bool {
	return st.typeStr != nil && *st.typeStr == StanzaTypeError
}

// Payload returns the serialized child content. For a borrowed stanza the
// returned slice is a view into the source document.
func (st *Stanza) Payload() ([]byte, error) {
	if st.payload.frozen() {
		return st.payload.owned, nil
	}
	if st.payload.node.Released() {
		return nil, ErrPayloadReleased
	}
	return st.payload.node.InnerXML(), nil
}

// SetPayload replaces the child content with an owned copy of raw, which
// must be well-formed XML content.
func (st *Stanza) SetPayload(raw []byte) {
	st.payload = payload{owned: append([]byte(nil), raw...)}
}

// Frozen tells whether the payload is owned by the stanza.
func (st *Stanza) Frozen() bool { return st.payload.frozen() }

// Freeze detaches the stanza from the document it was parsed from. It must
// be called before that document is released, and before the stanza is
// kept past the processing step which received it. Freezing an already
// frozen stanza does nothing.
func (st *Stanza) Freeze() error {
	if st.payload.frozen() {
		return nil
	}
	if st.payload.node.Released() {
		return ErrPayloadReleased
	}
	st.payload = payload{owned: append([]byte(nil), st.payload.node.InnerXML()...)}
	return nil
}

// AttachError makes Render emit an error element after the payload.
func (st *Stanza) AttachError(ex *StanzaException) {
	st.err = ex
}

// ErrorCondition returns the stanza error carried by an error stanza,
// either attached or found in the payload.
func (st *Stanza) ErrorCondition() (*StanzaException, bool) {
	if st.err != nil {
		return st.err, true
	}
	if !st.IsError() {
		return nil, false
	}
	raw, err := st.Payload()
	if err != nil {
		return nil, false
	}
	return parseStanzaError(raw)
}

// Render builds the wire form of the stanza and appends it to doc.
// Absent addresses, type, id and language are omitted.
func (st *Stanza) Render(doc *Document) (*Element, error) {
	raw, err := st.Payload()
	if err != nil {
		return nil, err
	}
	elem := &Element{XMLName: st.name}
	if st.from != nil {
		elem.SetAttr(attrFrom, st.from.String())
	}
	if st.to != nil {
		elem.SetAttr(attrTo, st.to.String())
	}
	if st.typeStr != nil {
		elem.SetAttr(attrType, *st.typeStr)
	}
	if st.id != "" {
		elem.SetAttr(attrID, st.id)
	}
	if st.lang != "" {
		elem.SetAttr(attrLang, st.lang)
	}
	inner := make([]byte, 0, len(raw))
	inner = append(inner, raw...)
	if st.err != nil {
		errXML, err := RenderError(st.name.Space, st.err)
		if err != nil {
			return nil, err
		}
		inner = append(inner, errXML...)
	}
	elem.Inner = inner
	doc.Append(elem)
	return elem, nil
}

// CreateBounce builds the error reply to this stanza: addresses swapped,
// same id, the original payload followed by one error element. The
// receiver is not modified.
//
// RFC 6120  8.3.1: an error stanza is never answered with another one.
func (st *Stanza) CreateBounce(cond StanzaErrorCondition) (*Stanza, error) {
	return st.bounce(&StanzaException{Condition: cond})
}

// CreateBounceFromError is CreateBounce for an error returned by stanza
// processing. The condition, text and application-specific content of a
// *StanzaException in err's chain are used; any other error is reported as
// undefined-condition without its message.
func (st *Stanza) CreateBounceFromError(err error) (*Stanza, error) {
	var ex *StanzaException
	if !errors.As(err, &ex) {
		ex = &StanzaException{Condition: StanzaErrorConditionUndefinedCondition}
	}
	return st.bounce(ex)
}

func (st *Stanza) bounce(ex *StanzaException) (*Stanza, error) {
	if st.IsError() {
		return nil, ErrBounceOfError
	}
	raw, err := st.Payload()
	if err != nil {
		return nil, err
	}
	errType := StanzaTypeError
	bounced := NewStanza(st.name, st.to, st.from, &errType, st.id)
	bounced.lang = st.lang
	bounced.SetPayload(raw)
	bounced.err = ex
	return bounced, nil
}

// CreateForward builds an owned copy of the stanza suitable for relaying
// to another server. It no longer refers to the source document and
// carries no attached error.
func (st *Stanza) CreateForward() (*Stanza, error) {
	raw, err := st.Payload()
	if err != nil {
		return nil, err
	}
	fwd := NewStanza(st.name, st.from, st.to, st.typeStr, st.id)
	fwd.lang = st.lang
	fwd.SetPayload(raw)
	return fwd, nil
}

func copyJID(j *JID) *JID {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
