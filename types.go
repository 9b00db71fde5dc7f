// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
)

// SubType is the state of a subscription to a node.
type SubType int

// Subscription states defined by XEP-0060 §4.2.
const (
	SubNone SubType = iota
	SubPending
	SubSubscribed
	SubUnconfigured
)

var subTypeName = [...]string{"none", "pending", "subscribed", "unconfigured"}

// String returns the wire-format value of the subscription state.
func (t SubType) String() string {
	if t < 0 || int(t) >= len(subTypeName) {
		return subTypeName[0]
	}
	return subTypeName[t]
}

// parseSubType parses the wire value of a subscription attribute: "pending",
// "unconfigured" and "none" map to their states, and any other value
// defaults to SubSubscribed (the client treats unrecognized values as a
// successful subscription).
func parseSubType(s string) SubType {
	switch s {
	case "pending":
		return SubPending
	case "unconfigured":
		return SubUnconfigured
	case "none":
		return SubNone
	default:
		return SubSubscribed
	}
}

// Affiliation is a subscriber's role at a node. It is treated as an opaque
// string by this package; only the backend and the wire format give it
// meaning.
type Affiliation string

// Affiliation values defined by XEP-0060 §4.1.
const (
	AffiliationOwner       Affiliation = "owner"
	AffiliationPublisher   Affiliation = "publisher"
	AffiliationPublishOnly Affiliation = "publish-only"
	AffiliationMember      Affiliation = "member"
	AffiliationOutcast     Affiliation = "outcast"
	AffiliationNone        Affiliation = "none"
)

// Subscription records a single entity's subscription to a node.
type Subscription struct {
	// NodeIdentifier is empty for the root node.
	NodeIdentifier string
	Subscriber     *jid.JID
	State          SubType
	// SubID distinguishes between multiple subscriptions by the same JID to
	// the same node.
	SubID string
	// Options holds the subscribe-options values in effect, if any.
	Options map[string][]string
}

// NodeAffiliation pairs a node identifier with the affiliation a subscriber
// holds there, as returned by Backend.Affiliations.
type NodeAffiliation struct {
	NodeIdentifier string
	Affiliation    Affiliation
}

// Item is a single published item: an opaque payload, identified by an
// optional id. The payload is forwarded between backend and wire without
// being parsed into a structured type (XEP-0060 items are application
// defined XML and this package has no business interpreting them).
type Item struct {
	ID string
	// Payload is the raw inner XML of the item element, or nil for an empty
	// item. It is captured and replayed verbatim.
	Payload []byte
}

// TokenReader implements xmlstream.Marshaler.
func (i Item) TokenReader() xml.TokenReader {
	var attr []xml.Attr
	if i.ID != "" {
		attr = []xml.Attr{{Name: xml.Name{Local: "id"}, Value: i.ID}}
	}
	return xmlstream.Wrap(
		payloadReader(i.Payload),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "item"}, Attr: attr},
	)
}

// WriteXML implements xmlstream.WriterTo.
func (i Item) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, i.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (i Item) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	_, err := i.WriteXML(e)
	return err
}

// payloadReader turns captured innerxml bytes back into a token stream, or
// returns nil for an empty payload.
func payloadReader(raw []byte) xml.TokenReader {
	if len(raw) == 0 {
		return nil
	}
	return xml.NewDecoder(bytes.NewReader(raw))
}

// rawItem is the wire shape used to decode an <item/> element while keeping
// its payload opaque.
type rawItem struct {
	ID       string `xml:"id,attr"`
	InnerXML []byte `xml:",innerxml"`
}

func (r rawItem) toItem() Item {
	return Item{ID: r.ID, Payload: r.InnerXML}
}

// Feature is a XEP-0060 disco feature var, advertised under the pubsub
// namespace (e.g. "http://jabber.org/protocol/pubsub#create-nodes").
type Feature string

// Feature vars for the capabilities named in XEP-0060 §10.
const (
	FeatureAccessAuthorize             Feature = "access-authorize"
	FeatureAccessOpen                  Feature = "access-open"
	FeatureAccessPresence               Feature = "access-presence"
	FeatureAccessRoster                 Feature = "access-roster"
	FeatureAccessWhitelist               Feature = "access-whitelist"
	FeatureAutoCreate                    Feature = "auto-create"
	FeatureAutoSubscribe                 Feature = "auto-subscribe"
	FeatureCollections                   Feature = "collections"
	FeatureConfigNode                    Feature = "config-node"
	FeatureCreateAndConfigure            Feature = "create-and-configure"
	FeatureCreateNodes                   Feature = "create-nodes"
	FeatureDeleteItems                   Feature = "delete-items"
	FeatureDeleteNodes                   Feature = "delete-nodes"
	FeatureFilteredNotifications         Feature = "filtered-notifications"
	FeatureGetPending                    Feature = "get-pending"
	FeatureInstantNodes                  Feature = "instant-nodes"
	FeatureItemIDs                       Feature = "item-ids"
	FeatureLastPublished                 Feature = "last-published"
	FeatureLeasedSubscription           Feature = "leased-subscription"
	FeatureManageSubscriptions          Feature = "manage-subscriptions"
	FeatureMemberAffiliation             Feature = "member-affiliation"
	FeatureMetaData                      Feature = "meta-data"
	FeatureModifyAffiliations           Feature = "modify-affiliations"
	FeatureMultiCollection               Feature = "multi-collection"
	FeatureMultiSubscribe                Feature = "multi-subscribe"
	FeatureOutcastAffiliation            Feature = "outcast-affiliation"
	FeaturePersistentItems               Feature = "persistent-items"
	FeaturePresenceNotifications         Feature = "presence-notifications"
	FeaturePresenceSubscribe             Feature = "presence-subscribe"
	FeaturePublish                       Feature = "publish"
	FeaturePublishOptions                Feature = "publish-options"
	FeaturePublishOnlyAffiliation        Feature = "publish-only-affiliation"
	FeaturePublisherAffiliation          Feature = "publisher-affiliation"
	FeaturePurgeNodes                    Feature = "purge-nodes"
	FeatureRetractItems                  Feature = "retract-items"
	FeatureRetrieveAffiliations          Feature = "retrieve-affiliations"
	FeatureRetrieveDefault               Feature = "retrieve-default"
	FeatureRetrieveItems                 Feature = "retrieve-items"
	FeatureRetrieveSubscriptions         Feature = "retrieve-subscriptions"
	FeatureSubscribe                     Feature = "subscribe"
	FeatureSubscriptionOptions           Feature = "subscription-options"
	FeatureSubscriptionNotifications     Feature = "subscription-notifications"
)

// ConfigField describes one field in a backend's node-configuration schema,
// used both to render a configuration form (default/configureGet) and to
// type-check a submitted one (configureSet).
type ConfigField struct {
	Var     string
	Type    string // one of the jabber:x:data field types, e.g. "boolean", "text-single", "list-single"
	Label   string
	Default []string
	Options []string // valid values for list-single/list-multi fields
}

// ConfigSchema is an ordered set of configuration fields a backend exposes
// for a node type.
type ConfigSchema []ConfigField

// Lookup returns the field named v, if any.
func (s ConfigSchema) Lookup(v string) (ConfigField, bool) {
	for _, f := range s {
		if f.Var == v {
			return f, true
		}
	}
	return ConfigField{}, false
}
