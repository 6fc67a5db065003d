package xmppcore

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/pkg/errors"
)

// Node is a parsed element as handed over by the stream reader. The data a
// Node exposes is only valid while the Document it belongs to is alive.
type Node interface {
	Name() xml.Name
	Attr(name xml.Name) (string, bool)
	// InnerXML returns the serialized child content. The returned slice is
	// a view into the document and must not be retained.
	InnerXML() []byte
	Released() bool
}

// Element is the concrete Node used both for parsed input and for render
// output.
type Element struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`

	doc *Document
}

func (e *Element) Name() xml.Name { return e.XMLName }

func (e *Element) Attr(name xml.Name) (string, bool) {
	for _, attr := range e.Attrs {
		if attr.Name == name {
			return attr.Value, true
		}
	}
	return "", false
}

func (e *Element) InnerXML() []byte {
	if e.Released() {
		return nil
	}
	return e.Inner
}

func (e *Element) Released() bool {
	return e.doc != nil && e.doc.released
}

// SetAttr appends an attribute. Used while rendering.
func (e *Element) SetAttr(name xml.Name, value string) {
	e.Attrs = append(e.Attrs, xml.Attr{Name: name, Value: value})
}

// Document owns a sequence of top-level elements. It plays the part of the
// parse tree on input and of the output document on render.
type Document struct {
	elements []*Element
	released bool
}

func NewDocument() *Document {
	return &Document{}
}

func (doc *Document) Append(elem *Element) {
	elem.doc = doc
	doc.elements = append(doc.elements, elem)
}

func (doc *Document) Elements() []*Element {
	return doc.elements
}

// Release ends the lifetime of the document. Borrowed views into it
// become empty; stanzas that need the data must be frozen first.
func (doc *Document) Release() {
	for _, elem := range doc.elements {
		for i := range elem.Inner {
			elem.Inner[i] = 0
		}
		elem.Inner = nil
	}
	doc.elements = nil
	doc.released = true
}

// WriteTo serializes all the elements of the document in order.
func (doc *Document) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, elem := range doc.elements {
		buf, err := xml.Marshal(elem)
		if err != nil {
			return written, errors.Wrapf(err, "unable to marshal %s", elem.XMLName.Local)
		}
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Bytes is a convenience around WriteTo.
func (doc *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type rawElement struct {
	Inner []byte `xml:",innerxml"`
}

// ReadElement decodes the element started by startElem and attaches it to
// doc. Namespace declarations are not kept as attributes; the element's
// namespace is carried by its name.
func ReadElement(decoder *xml.Decoder, startElem *xml.StartElement, doc *Document) (*Element, error) {
	//NOTE:SEC: decoding the whole element might not the best practice
	// because it could be cause DoS. The stream layer is expected to
	// limit the decoder's input.
	var raw rawElement
	if err := decoder.DecodeElement(&raw, startElem); err != nil {
		return nil, errors.Wrapf(err, "unable to decode %s", startElem.Name.Local)
	}
	elem := &Element{
		XMLName: startElem.Name,
		Inner:   raw.Inner,
	}
	for _, attr := range startElem.Attr {
		if attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns") {
			continue
		}
		elem.Attrs = append(elem.Attrs, attr)
	}
	doc.Append(elem)
	return elem, nil
}

// ParseDocument reads every top-level element from r into a new document.
func ParseDocument(r io.Reader) (*Document, error) {
	decoder := xml.NewDecoder(r)
	doc := NewDocument()
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return doc, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to read token")
		}
		startElem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if _, err := ReadElement(decoder, &startElem, doc); err != nil {
			return nil, err
		}
	}
}
