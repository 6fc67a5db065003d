package xmppcore

import (
	"encoding/xml"
)

var ServerIQName = xml.Name{Space: JabberServerNS, Local: "iq"}

type IQType int

// Standard IQ types
//
// RFC 6120  8.2.3
const (
	IQTypeUnknown IQType = iota
	IQTypeGet
	IQTypeSet
	IQTypeResult
	IQTypeError
)

// String is the wire form of the type. Unknown renders as "error".
func (t IQType) String() string {
	switch t {
	case IQTypeGet:
		return "get"
	case IQTypeSet:
		return "set"
	case IQTypeResult:
		return "result"
	}
	return "error"
}

// ParseIQType classifies a type attribute value.
func ParseIQType(s string) (IQType, bool) {
	if s == "" {
		return IQTypeUnknown, false
	}
	switch s[0] {
	case 'g':
		if s == "get" {
			return IQTypeGet, true
		}
	case 's':
		if s == "set" {
			return IQTypeSet, true
		}
	case 'r':
		if s == "result" {
			return IQTypeResult, true
		}
	case 'e':
		if s == "error" {
			return IQTypeError, true
		}
	}
	return IQTypeUnknown, false
}

// Memo holds a value computed on first use. It is not safe for concurrent
// use, like the stanza owning it.
type Memo[T any] struct {
	value T
	done  bool
}

func (m *Memo[T]) Get(compute func() T) T {
	if !m.done {
		m.value = compute()
		m.done = true
	}
	return m.value
}

type IQ struct {
	Stanza
	iqType Memo[IQType]
}

func NewIQ(from, to JID, t IQType, id string) *IQ {
	if id == "" {
		id = MustGenerateID()
	}
	typeStr := t.String()
	return &IQ{Stanza: *NewStanza(ServerIQName, &from, &to, &typeStr, id)}
}

func ParseIQ(node Node) (*IQ, error) {
	st, err := NewStanzaFromNode(node.Name(), node)
	return &IQ{Stanza: *st}, err
}

// Type returns the classified type attribute. A missing or unrecognized
// value yields IQTypeUnknown, which RFC 6120 treats as bad-request.
func (iq *IQ) Type() IQType {
	return iq.iqType.Get(func() IQType {
		if iq.typeStr == nil {
			return IQTypeUnknown
		}
		t, _ := ParseIQType(*iq.typeStr)
		return t
	})
}

func (iq *IQ) CreateBounce(cond StanzaErrorCondition) (*IQ, error) {
	st, err := iq.Stanza.CreateBounce(cond)
	if err != nil {
		return nil, err
	}
	return &IQ{Stanza: *st}, nil
}

func (iq *IQ) CreateBounceFromError(err error) (*IQ, error) {
	st, err := iq.Stanza.CreateBounceFromError(err)
	if err != nil {
		return nil, err
	}
	return &IQ{Stanza: *st}, nil
}

func (iq *IQ) CreateForward() (*IQ, error) {
	st, err := iq.Stanza.CreateForward()
	if err != nil {
		return nil, err
	}
	return &IQ{Stanza: *st}, nil
}
