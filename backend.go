// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"

	"mellium.im/xmpp/jid"
)

// NodeInfo describes a single node as reported by a backend's NodeInfo
// method, used by the discovery adapter.
type NodeInfo struct {
	NodeType string // "leaf" or "collection"
	Meta     map[string][]string
}

// Backend is the storage and policy collaborator a Service dispatches to.
// Every method corresponds to one XEP-0060 capability; UnimplementedBackend
// provides defaults that refuse every capability with Unsupported, so a
// concrete backend only needs to implement the subset of methods it
// actually supports.
type Backend interface {
	// Publish stores item under node on behalf of requestor and returns the
	// (possibly backend-assigned) item id.
	Publish(ctx context.Context, requestor, service jid.JID, node string, item Item) (string, error)

	// Subscribe adds subscriber to node.
	Subscribe(ctx context.Context, requestor, service jid.JID, node string, subscriber jid.JID) (Subscription, error)

	// Unsubscribe removes subscriber from node.
	Unsubscribe(ctx context.Context, requestor, service jid.JID, node string, subscriber jid.JID) error

	// Subscriptions lists requestor's subscriptions across all nodes.
	Subscriptions(ctx context.Context, requestor, service jid.JID) ([]Subscription, error)

	// Affiliations lists requestor's affiliations across all nodes.
	Affiliations(ctx context.Context, requestor, service jid.JID) ([]NodeAffiliation, error)

	// CreateNode creates a node, optionally seeded with cfg, and returns the
	// assigned node identifier (which may differ from requested when
	// requested is empty or the backend renames it).
	CreateNode(ctx context.Context, requestor, service jid.JID, requested string, cfg map[string][]string) (assigned string, err error)

	// DefaultConfig returns the configuration schema new nodes of nodeType
	// are created with.
	DefaultConfig(ctx context.Context, requestor, service jid.JID, nodeType string) (ConfigSchema, error)

	// NodeConfig returns the current configuration schema and values for
	// node.
	NodeConfig(ctx context.Context, requestor, service jid.JID, node string) (ConfigSchema, error)

	// SetNodeConfig applies values to node. The service has already
	// dropped unknown field names and type-checked the remaining values
	// against the schema returned by NodeConfig (boolean and list-single
	// /list-multi fields); an empty values map is never passed, since the
	// service short-circuits that case.
	SetNodeConfig(ctx context.Context, requestor, service jid.JID, node string, values map[string][]string) error

	// Items returns up to maxItems items from node, most recent first,
	// optionally filtered to ids. maxItems of 0 means no limit.
	Items(ctx context.Context, requestor, service jid.JID, node string, maxItems uint64, ids []string) ([]Item, error)

	// RetractItems removes the listed item ids from node.
	RetractItems(ctx context.Context, requestor, service jid.JID, node string, ids []string) error

	// PurgeNode removes all items from node without deleting the node.
	PurgeNode(ctx context.Context, requestor, service jid.JID, node string) error

	// DeleteNode deletes node entirely.
	DeleteNode(ctx context.Context, requestor, service jid.JID, node string) error

	// SetOptions applies subscribe-options values for subscriber at node.
	SetOptions(ctx context.Context, requestor, service jid.JID, node string, subscriber jid.JID, values map[string][]string) error

	// Options returns the current subscribe-options schema and values for
	// subscriber at node.
	Options(ctx context.Context, requestor, service jid.JID, node string, subscriber jid.JID) (ConfigSchema, error)

	// ModifyAffiliations changes one or more subscribers' affiliations at
	// node.
	ModifyAffiliations(ctx context.Context, requestor, service jid.JID, node string, changes map[jid.JID]Affiliation) error

	// ManageSubscriptions changes one or more subscribers' subscription
	// state at node (used by owners to approve pending subscriptions, for
	// example).
	ManageSubscriptions(ctx context.Context, requestor, service jid.JID, node string, changes map[jid.JID]SubType) error

	// NodeInfo returns disco-relevant metadata for node, or ok=false if the
	// backend has no opinion (the discovery adapter then omits the node
	// identity entirely).
	NodeInfo(ctx context.Context, requestor, service jid.JID, node string) (info NodeInfo, ok bool)

	// Nodes enumerates top-level node identifiers for the discovery
	// adapter's item listing.
	Nodes(ctx context.Context, requestor, service jid.JID) ([]string, error)
}

// The feature* constants name the XEP-0060 capability string each
// UnimplementedBackend method refuses with.
const (
	featurePublish             = "publish"
	featureSubscribe           = "subscribe"
	featureRetrieveSubs        = "retrieve-subscriptions"
	featureRetrieveAffs        = "retrieve-affiliations"
	featureCreateNodes         = "create-nodes"
	featureRetrieveDefault     = "retrieve-default"
	featureConfigNode          = "config-node"
	featureRetrieveItems       = "retrieve-items"
	featureRetractItems        = "retract-items"
	featurePurgeNodes          = "purge-nodes"
	featureDeleteNodes         = "delete-nodes"
	featureSubscriptionOptions = "subscription-options"
	featureModifyAffiliations  = "modify-affiliations"
	featureManageSubscriptions = "manage-subscriptions"
)

// UnimplementedBackend is embeddable in a concrete Backend implementation so
// that only the capabilities actually supported need overriding; every
// method here fails with Unsupported naming the refused feature, mirroring
// how XEP-0060's reference implementation treats an unconfigured service.
type UnimplementedBackend struct{}

var _ Backend = UnimplementedBackend{}

func (UnimplementedBackend) Publish(context.Context, jid.JID, jid.JID, string, Item) (string, error) {
	return "", Unsupported(featurePublish)
}

func (UnimplementedBackend) Subscribe(context.Context, jid.JID, jid.JID, string, jid.JID) (Subscription, error) {
	return Subscription{}, Unsupported(featureSubscribe)
}

func (UnimplementedBackend) Unsubscribe(context.Context, jid.JID, jid.JID, string, jid.JID) error {
	return Unsupported(featureSubscribe)
}

func (UnimplementedBackend) Subscriptions(context.Context, jid.JID, jid.JID) ([]Subscription, error) {
	return nil, Unsupported(featureRetrieveSubs)
}

func (UnimplementedBackend) Affiliations(context.Context, jid.JID, jid.JID) ([]NodeAffiliation, error) {
	return nil, Unsupported(featureRetrieveAffs)
}

func (UnimplementedBackend) CreateNode(context.Context, jid.JID, jid.JID, string, map[string][]string) (string, error) {
	return "", Unsupported(featureCreateNodes)
}

func (UnimplementedBackend) DefaultConfig(context.Context, jid.JID, jid.JID, string) (ConfigSchema, error) {
	return nil, Unsupported(featureRetrieveDefault)
}

func (UnimplementedBackend) NodeConfig(context.Context, jid.JID, jid.JID, string) (ConfigSchema, error) {
	return nil, Unsupported(featureConfigNode)
}

func (UnimplementedBackend) SetNodeConfig(context.Context, jid.JID, jid.JID, string, map[string][]string) error {
	return Unsupported(featureConfigNode)
}

func (UnimplementedBackend) Items(context.Context, jid.JID, jid.JID, string, uint64, []string) ([]Item, error) {
	return nil, Unsupported(featureRetrieveItems)
}

func (UnimplementedBackend) RetractItems(context.Context, jid.JID, jid.JID, string, []string) error {
	return Unsupported(featureRetractItems)
}

func (UnimplementedBackend) PurgeNode(context.Context, jid.JID, jid.JID, string) error {
	return Unsupported(featurePurgeNodes)
}

func (UnimplementedBackend) DeleteNode(context.Context, jid.JID, jid.JID, string) error {
	return Unsupported(featureDeleteNodes)
}

func (UnimplementedBackend) SetOptions(context.Context, jid.JID, jid.JID, string, jid.JID, map[string][]string) error {
	return Unsupported(featureSubscriptionOptions)
}

func (UnimplementedBackend) Options(context.Context, jid.JID, jid.JID, string, jid.JID) (ConfigSchema, error) {
	return nil, Unsupported(featureSubscriptionOptions)
}

func (UnimplementedBackend) ModifyAffiliations(context.Context, jid.JID, jid.JID, string, map[jid.JID]Affiliation) error {
	return Unsupported(featureModifyAffiliations)
}

func (UnimplementedBackend) ManageSubscriptions(context.Context, jid.JID, jid.JID, string, map[jid.JID]SubType) error {
	return Unsupported(featureManageSubscriptions)
}

func (UnimplementedBackend) NodeInfo(context.Context, jid.JID, jid.JID, string) (NodeInfo, bool) {
	return NodeInfo{}, false
}

func (UnimplementedBackend) Nodes(context.Context, jid.JID, jid.JID) ([]string, error) {
	return nil, nil
}
