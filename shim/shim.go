// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package shim implements Stanza Headers and Internet Metadata (XEP-0131),
// used by XEP-0060 to signal collection-node re-publication.
package shim // import "codeberg.org/xmppo/pubsub/shim"

import (
	"encoding/xml"

	"mellium.im/xmlstream"
)

// NS is the Stanza Headers and Internet Metadata namespace.
const NS = "http://jabber.org/protocol/shim"

// Header is a single name/value pair carried inside a <headers/> element.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered collection of stanza headers.
type Headers []Header

// Get returns the value of the first header named name, and whether one was
// found.
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if hdr.Name == name {
			return hdr.Value, true
		}
	}
	return "", false
}

// TokenReader implements xmlstream.Marshaler. It returns nil-equivalent
// (an empty stream) when there are no headers, so callers can unconditionally
// splice it into a larger token stream.
func (h Headers) TokenReader() xml.TokenReader {
	if len(h) == 0 {
		return xmlstream.ReaderFunc(func() (xml.Token, error) { return nil, nil })
	}
	readers := make([]xml.TokenReader, len(h))
	for i, hdr := range h {
		readers[i] = xmlstream.Wrap(
			xmlstream.Token(xml.CharData(hdr.Value)),
			xml.StartElement{
				Name: xml.Name{Local: "header"},
				Attr: []xml.Attr{{Name: xml.Name{Local: "name"}, Value: hdr.Name}},
			},
		)
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(readers...),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "headers"}},
	)
}

// WriteXML implements xmlstream.WriterTo.
func (h Headers) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, h.TokenReader())
}

// wireHeaders is the decode shape for a <headers/> element.
type wireHeaders struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/shim headers"`
	Header  []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:",chardata"`
	} `xml:"header"`
}

// Extract decodes the <headers/> element that start opens from d. An empty
// <headers/> yields an empty Headers; a start element that is not a SHIM
// <headers/> yields an error.
func Extract(d *xml.Decoder, start *xml.StartElement) (Headers, error) {
	var w wireHeaders
	if err := d.DecodeElement(&w, start); err != nil {
		return nil, err
	}
	out := make(Headers, len(w.Header))
	for i, h := range w.Header {
		out[i] = Header{Name: h.Name, Value: h.Value}
	}
	return out, nil
}
