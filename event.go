// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"codeberg.org/xmppo/pubsub/shim"
	"mellium.im/xmpp/jid"
)

// eventCommon holds the fields shared by every PubSubEvent variant.
type eventCommon struct {
	Sender         *jid.JID
	Recipient      *jid.JID
	NodeIdentifier string
	Headers        shim.Headers
}

// From returns the JID the event message was sent from.
func (e eventCommon) From() *jid.JID { return e.Sender }

// To returns the JID the event message was sent to.
func (e eventCommon) To() *jid.JID { return e.Recipient }

// Node is the identifier of the node the event concerns.
func (e eventCommon) Node() string { return e.NodeIdentifier }

// PublicationEntry is one entry in an ItemsEvent's Entries sequence. Exactly
// one of Item or RetractID is set: it is an <item/> child when Item is
// non-nil, and a <retract/> child's id attribute otherwise.
type PublicationEntry struct {
	Item      *Item
	RetractID string
}

// ItemsEvent reports items published to, or retracted from, a node.
type ItemsEvent struct {
	eventCommon
	// Entries is every <item/> and <retract/> child, in wire order.
	Entries []PublicationEntry
}

// DeleteEvent reports that a node was deleted, optionally redirecting
// subscribers to another node.
type DeleteEvent struct {
	eventCommon
	RedirectURI string
}

// PurgeEvent reports that all of a node's items were purged.
type PurgeEvent struct {
	eventCommon
}

// wirePubEntry is the decode shape of a single <item/> or <retract/> child
// of <items/>. Using ",any" instead of separate "item"/"retract" tagged
// slices is what preserves their relative wire order: tag-matched slices are
// populated independently of each other and lose cross-slice ordering.
type wirePubEntry struct {
	XMLName  xml.Name
	ID       string `xml:"id,attr"`
	InnerXML []byte `xml:",innerxml"`
}

// wireEvent is the decode shape of the <event/> element carried by a pubsub
// notification message.
type wireEvent struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/pubsub#event event"`
	Items   *struct {
		Node    string         `xml:"node,attr"`
		Entries []wirePubEntry `xml:",any"`
	} `xml:"items"`
	Delete *struct {
		Node     string `xml:"node,attr"`
		Redirect *struct {
			URI string `xml:"uri,attr"`
		} `xml:"redirect"`
	} `xml:"delete"`
	Purge *struct {
		Node string `xml:"node,attr"`
	} `xml:"purge"`
}

// decodeEvent parses a pubsub-event message body (already positioned at its
// <event/> start element) into one of the three event variants. It returns
// (nil, nil) when the message carries no action this package recognizes, so
// the caller can silently drop it per the client dispatch rules.
func decodeEvent(d *xml.Decoder, start xml.StartElement, sender, recipient *jid.JID, headers shim.Headers) (interface{}, error) {
	var w wireEvent
	if err := d.DecodeElement(&w, &start); err != nil {
		return nil, err
	}
	common := eventCommon{Sender: sender, Recipient: recipient, Headers: headers}

	switch {
	case w.Items != nil:
		common.NodeIdentifier = w.Items.Node
		ev := ItemsEvent{eventCommon: common}
		for _, entry := range w.Items.Entries {
			switch entry.XMLName.Local {
			case "item":
				it := Item{ID: entry.ID, Payload: entry.InnerXML}
				ev.Entries = append(ev.Entries, PublicationEntry{Item: &it})
			case "retract":
				ev.Entries = append(ev.Entries, PublicationEntry{RetractID: entry.ID})
			}
		}
		return ev, nil
	case w.Delete != nil:
		common.NodeIdentifier = w.Delete.Node
		ev := DeleteEvent{eventCommon: common}
		if w.Delete.Redirect != nil {
			ev.RedirectURI = w.Delete.Redirect.URI
		}
		return ev, nil
	case w.Purge != nil:
		common.NodeIdentifier = w.Purge.Node
		return PurgeEvent{eventCommon: common}, nil
	}
	return nil, nil
}
