// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package pubsub implements the XEP-0060 Publish-Subscribe request/event
// protocol layer.
//
// It provides a Service that decodes inbound pubsub IQs, dispatches them to a
// pluggable Backend, and fans out event notifications, and a Client that
// builds outbound pubsub requests and dispatches inbound event messages to
// callbacks. Both sit atop an existing *xmpp.Session; neither manages the
// underlying XML stream, persistent storage, or access control.
package pubsub // import "codeberg.org/xmppo/pubsub"

// Namespaces used by this package.
const (
	NS         = `http://jabber.org/protocol/pubsub`
	NSEvent    = NS + `#event`
	NSErrors   = NS + `#errors`
	NSOwner    = NS + `#owner`
	NSConfig   = NS + `#node_config`
	NSMeta     = NS + `#meta-data`
	NSOptions  = NS + `#subscribe_options`
	NSPaging   = NS + `#rsm`
	nsStanza   = `urn:ietf:params:xml:ns:xmpp-stanzas`
	nsDiscoItm = `http://jabber.org/protocol/disco#items`
	nsXML      = `http://www.w3.org/XML/1998/namespace`
)
