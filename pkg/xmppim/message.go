package xmppim

import (
	"encoding/xml"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
)

var ServerMessageName = xml.Name{Space: xmppcore.JabberServerNS, Local: "message"}

type MessageType int

// RFC 6121  5.2.2
//
// MessageTypeUnknown is what an unrecognized type attribute classifies as.
// It is deliberately not folded into MessageTypeNormal.
const (
	MessageTypeUnknown MessageType = iota
	MessageTypeNormal
	MessageTypeChat
	MessageTypeHeadline
	MessageTypeGroupChat
	MessageTypeError
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeNormal:
		return "normal"
	case MessageTypeChat:
		return "chat"
	case MessageTypeHeadline:
		return "headline"
	case MessageTypeGroupChat:
		return "groupchat"
	case MessageTypeError:
		return "error"
	}
	return "unknown"
}

// ParseMessageType classifies a type attribute value by its first byte,
// then confirms with a full comparison.
func ParseMessageType(s string) MessageType {
	if s == "" {
		return MessageTypeUnknown
	}
	switch s[0] {
	case 'n':
		if s == "normal" {
			return MessageTypeNormal
		}
	case 'c':
		if s == "chat" {
			return MessageTypeChat
		}
	case 'h':
		if s == "headline" {
			return MessageTypeHeadline
		}
	case 'g':
		if s == "groupchat" {
			return MessageTypeGroupChat
		}
	case 'e':
		if s == "error" {
			return MessageTypeError
		}
	}
	return MessageTypeUnknown
}

type Message struct {
	xmppcore.Stanza
	msgType xmppcore.Memo[MessageType]
}

// NewMessage builds an outbound message. MessageTypeNormal is rendered
// without a type attribute.
func NewMessage(from, to xmppcore.JID, t MessageType, id string) *Message {
	var typeStr *string
	if t != MessageTypeNormal {
		s := t.String()
		typeStr = &s
	}
	if id == "" {
		id = xmppcore.MustGenerateID()
	}
	return &Message{Stanza: *xmppcore.NewStanza(ServerMessageName, &from, &to, typeStr, id)}
}

func ParseMessage(node xmppcore.Node) (*Message, error) {
	st, err := xmppcore.NewStanzaFromNode(node.Name(), node)
	return &Message{Stanza: *st}, err
}

// Type classifies the message on first use. A missing type attribute means
// normal.
func (m *Message) Type() MessageType {
	return m.msgType.Get(func() MessageType {
		if m.TypeStr() == nil {
			return MessageTypeNormal
		}
		return ParseMessageType(*m.TypeStr())
	})
}

func (m *Message) CreateBounce(cond xmppcore.StanzaErrorCondition) (*Message, error) {
	st, err := m.Stanza.CreateBounce(cond)
	if err != nil {
		return nil, err
	}
	return &Message{Stanza: *st}, nil
}

func (m *Message) CreateBounceFromError(err error) (*Message, error) {
	st, err := m.Stanza.CreateBounceFromError(err)
	if err != nil {
		return nil, err
	}
	return &Message{Stanza: *st}, nil
}

func (m *Message) CreateForward() (*Message, error) {
	st, err := m.Stanza.CreateForward()
	if err != nil {
		return nil, err
	}
	return &Message{Stanza: *st}, nil
}
