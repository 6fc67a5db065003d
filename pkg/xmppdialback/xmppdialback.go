// Package xmppdialback implements the wire elements of Server Dialback
// (XEP-0220) and the recommended key generation (XEP-0185).
//
// Dialback elements are not stanzas, but they are so close syntactically
// that they reuse xmppcore.Stanza for addressing, rendering and freezing.
package xmppdialback

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/exavolt/xmpp-s2s/pkg/xmppcore"
)

const NS = "jabber:server:dialback"

// FeaturesNS is the stream feature and disco feature announcing support
// for dialback.
const FeaturesNS = "urn:xmpp:features:dialback"

var (
	ResultName = xml.Name{Space: NS, Local: "result"}
	VerifyName = xml.Name{Space: NS, Local: "verify"}
)

// ErrKeyNotPresent is returned when asking a typed (outcome or error)
// element for its key. It indicates a bug in the caller.
var ErrKeyNotPresent = errors.New("keys not present in typed dialback element")

type Type int

const (
	TypeValid Type = iota
	TypeInvalid
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeValid:
		return "valid"
	case TypeInvalid:
		return "invalid"
	}
	return "error"
}

func ParseType(s string) (Type, bool) {
	switch s {
	case "valid":
		return TypeValid, true
	case "invalid":
		return TypeInvalid, true
	case "error":
		return TypeError, true
	}
	return TypeError, false
}

// DB is the part shared by Verify and Result. Exactly one of key, outcome
// or error is carried, depending on the constructor.
type DB struct {
	xmppcore.Stanza
}

func newKeyDB(name xml.Name, to, from xmppcore.JID, streamID, key string) DB {
	db := DB{Stanza: *xmppcore.NewStanza(name, &from, &to, nil, streamID)}
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(key))
	db.SetPayload(buf.Bytes())
	return db
}

func newTypedDB(name xml.Name, to, from xmppcore.JID, streamID string, t Type) DB {
	typeStr := t.String()
	return DB{Stanza: *xmppcore.NewStanza(name, &from, &to, &typeStr, streamID)}
}

func newErrorDB(name xml.Name, to, from xmppcore.JID, streamID string, cond xmppcore.StanzaErrorCondition) DB {
	db := newTypedDB(name, to, from, streamID, TypeError)
	db.AttachError(&xmppcore.StanzaException{Condition: cond})
	return db
}

// StreamID is the id of the stream being verified. Empty for Result.
func (db *DB) StreamID() string { return db.ID() }

// Type returns the outcome of a response element. ok is false for a key
// bearing request.
func (db *DB) Type() (t Type, ok bool) {
	if db.TypeStr() == nil {
		return TypeError, false
	}
	return ParseType(*db.TypeStr())
}

// Key returns the dialback key carried in the element body. The element is
// frozen as the key lives in the payload.
func (db *DB) Key() (string, error) {
	if db.TypeStr() != nil {
		return "", ErrKeyNotPresent
	}
	if err := db.Freeze(); err != nil {
		return "", err
	}
	raw, err := db.Payload()
	if err != nil {
		return "", err
	}
	return charData(raw)
}

func charData(raw []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	var sb strings.Builder
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", errors.Wrap(err, "malformed dialback key")
		}
		if cd, ok := token.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
}

// Verify is <db:verify/>, exchanged on the verification connection with
// the authoritative server. It names the stream it verifies.
type Verify struct {
	DB
}

func NewVerifyKey(to, from xmppcore.JID, streamID, key string) *Verify {
	return &Verify{DB: newKeyDB(VerifyName, to, from, streamID, key)}
}

func NewVerifyOutcome(to, from xmppcore.JID, streamID string, t Type) *Verify {
	return &Verify{DB: newTypedDB(VerifyName, to, from, streamID, t)}
}

func NewVerifyError(to, from xmppcore.JID, streamID string, cond xmppcore.StanzaErrorCondition) *Verify {
	return &Verify{DB: newErrorDB(VerifyName, to, from, streamID, cond)}
}

func ParseVerify(node xmppcore.Node) (*Verify, error) {
	st, err := xmppcore.NewStanzaFromNode(node.Name(), node)
	return &Verify{DB: DB{Stanza: *st}}, err
}

// Answer is what the authoritative server sends back for a key bearing
// verify request: valid when the key matches the one derived from secret,
// invalid otherwise. The reply travels back, so the addresses are
// swapped.
func (v *Verify) Answer(secret string) (*Verify, error) {
	to, from, err := addresses(&v.DB)
	if err != nil {
		return nil, err
	}
	key, err := v.Key()
	if err != nil {
		return nil, err
	}
	// The request comes from the receiving server and is addressed to
	// the originating one.
	outcome := TypeInvalid
	if VerifyKey(key, secret, from.Domain, to.Domain, v.StreamID()) {
		outcome = TypeValid
	}
	return NewVerifyOutcome(*from, *to, v.StreamID(), outcome), nil
}

// Result is <db:result/>, exchanged on the stream being authorized. The
// stream is implied, so no stream id is carried.
type Result struct {
	DB
}

// StreamID is always empty for Result.
func (r *Result) StreamID() string { return "" }

func NewResultKey(to, from xmppcore.JID, key string) *Result {
	return &Result{DB: newKeyDB(ResultName, to, from, "", key)}
}

func NewResultOutcome(to, from xmppcore.JID, t Type) *Result {
	return &Result{DB: newTypedDB(ResultName, to, from, "", t)}
}

func NewResultError(to, from xmppcore.JID, cond xmppcore.StanzaErrorCondition) *Result {
	return &Result{DB: newErrorDB(ResultName, to, from, "", cond)}
}

func ParseResult(node xmppcore.Node) (*Result, error) {
	st, err := xmppcore.NewStanzaFromNode(node.Name(), node)
	return &Result{DB: DB{Stanza: *st}}, err
}

// Reply builds the receiving server's outcome for a key bearing result.
func (r *Result) Reply(t Type) (*Result, error) {
	to, from, err := addresses(&r.DB)
	if err != nil {
		return nil, err
	}
	return NewResultOutcome(*from, *to, t), nil
}

func addresses(db *DB) (to, from *xmppcore.JID, err error) {
	if db.To() == nil || db.From() == nil {
		return nil, nil, xmppcore.NewStanzaException(xmppcore.StanzaErrorConditionBadRequest,
			"dialback element without addresses")
	}
	return db.To(), db.From(), nil
}
