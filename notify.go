// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"

	"codeberg.org/xmppo/pubsub/shim"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// Notification is one recipient's view of a publish or retract event: the
// items (or retracted ids) to report, and the list of subscriptions that led
// to the recipient being notified. A subscriber that has more than one
// subscription to the node, or a subscription to a collection node ancestor,
// is still sent only a single message; createNotification adds the extra
// SHIM Collection headers that message needs.
type Notification struct {
	Subscriber    jid.JID
	Subscriptions []Subscription
	Items         []Item
	Retracted     []string
}

// createNotification builds the <event/> payload for a single recipient of a
// publish or retract event on node. Every subscription in n.Subscriptions
// whose node differs from node contributes a SHIM Collection header naming
// that node, per XEP-0060 §9.3.
func createNotification(node string, n Notification) xml.TokenReader {
	var headers shim.Headers
	for _, sub := range n.Subscriptions {
		if sub.NodeIdentifier != node {
			headers = append(headers, shim.Header{Name: "Collection", Value: sub.NodeIdentifier})
		}
	}

	var itemReaders []xml.TokenReader
	for _, it := range n.Items {
		itemReaders = append(itemReaders, it.TokenReader())
	}
	for _, id := range n.Retracted {
		itemReaders = append(itemReaders, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "retract"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: id}},
		}))
	}

	itemsEl := xmlstream.Wrap(
		xmlstream.MultiReader(itemReaders...),
		xml.StartElement{
			Name: xml.Name{Local: "items"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: node}},
		},
	)
	eventEl := xmlstream.Wrap(itemsEl, xml.StartElement{Name: xml.Name{Space: NSEvent, Local: "event"}})

	payload := eventEl
	if len(headers) > 0 {
		payload = xmlstream.MultiReader(eventEl, headers.TokenReader())
	}
	return payload
}

// createDeleteNotification builds the <event/> payload reporting that node
// was deleted, optionally redirecting subscribers to redirectURI.
func createDeleteNotification(node, redirectURI string) xml.TokenReader {
	var children []xml.TokenReader
	if redirectURI != "" {
		children = append(children, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Local: "redirect"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "uri"}, Value: redirectURI}},
		}))
	}
	deleteEl := xmlstream.Wrap(
		xmlstream.MultiReader(children...),
		xml.StartElement{
			Name: xml.Name{Local: "delete"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: node}},
		},
	)
	return xmlstream.Wrap(deleteEl, xml.StartElement{Name: xml.Name{Space: NSEvent, Local: "event"}})
}

// createPurgeNotification builds the <event/> payload reporting that every
// item on node was purged.
func createPurgeNotification(node string) xml.TokenReader {
	purgeEl := xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: "purge"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: node}},
	})
	return xmlstream.Wrap(purgeEl, xml.StartElement{Name: xml.Name{Space: NSEvent, Local: "event"}})
}

// Notifier delivers pubsub event notifications over an XMPP session.
type Notifier struct {
	Session *xmpp.Session
}

// NotifyPublish sends one notification message per entry in notifications,
// reporting a publish (or retract) on node.
func (n *Notifier) NotifyPublish(ctx context.Context, service jid.JID, node string, notifications []Notification) error {
	for _, note := range notifications {
		r, err := n.Session.SendMessageElement(ctx, createNotification(node, note), stanza.Message{
			To:   &note.Subscriber,
			From: &service,
			Type: stanza.NormalMessage,
		})
		if err != nil {
			return err
		}
		r.Close()
	}
	return nil
}

// NotifyDelete sends one delete notification per subscriber. When
// redirectURI is non-empty it is carried as a <redirect/> inside every
// message.
func (n *Notifier) NotifyDelete(ctx context.Context, service jid.JID, node string, subscribers []jid.JID, redirectURI string) error {
	for _, sub := range subscribers {
		r, err := n.Session.SendMessageElement(ctx, createDeleteNotification(node, redirectURI), stanza.Message{
			To:   &sub,
			From: &service,
			Type: stanza.NormalMessage,
		})
		if err != nil {
			return err
		}
		r.Close()
	}
	return nil
}

// NotifyPurge sends one purge notification per subscriber.
func (n *Notifier) NotifyPurge(ctx context.Context, service jid.JID, node string, subscribers []jid.JID) error {
	for _, sub := range subscribers {
		r, err := n.Session.SendMessageElement(ctx, createPurgeNotification(node), stanza.Message{
			To:   &sub,
			From: &service,
			Type: stanza.NormalMessage,
		})
		if err != nil {
			return err
		}
		r.Close()
	}
	return nil
}
