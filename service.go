// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"context"
	"encoding/xml"
	"log"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/disco/info"
	"mellium.im/xmpp/disco/items"
	"mellium.im/xmpp/form"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/mux"
	"mellium.im/xmpp/stanza"
)

// DiscoIdentity is the category/type/name triple a Service advertises for
// itself. Fields are accessed by name throughout this package — never
// destructured positionally, which is what the original implementation got
// wrong when it treated this as a 3-tuple.
type DiscoIdentity struct {
	Category string
	Type     string
	Name     string
}

// Service observes inbound pubsub IQs, dispatches them to a Backend, and
// composes the XML response. The zero value is not usable; construct with
// NewService.
type Service struct {
	Backend  Backend
	Identity DiscoIdentity
	Features []Feature

	// JID is the service's own address, used to bind the disco items this
	// service advertises for its nodes.
	JID jid.JID

	// HideNodes suppresses the node enumeration in ForItems.
	HideNodes bool

	// Logger receives unexpected (non stanza-error) backend failures before
	// they are replaced with an internal-server-error reply. A nil Logger
	// uses log.Default().
	Logger *log.Logger
}

// NewService returns a Service backed by b, advertising identity and
// features.
func NewService(b Backend, identity DiscoIdentity, features []Feature) *Service {
	return &Service{Backend: b, Identity: identity, Features: features}
}

func (s *Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// Handle returns a mux.Option registering the service for pubsub and
// pubsub-owner get/set IQs.
func (s *Service) Handle() mux.Option {
	return func(m *mux.ServeMux) {
		for _, ns := range [...]string{NS, NSOwner} {
			mux.IQ(stanza.GetIQ, xml.Name{Space: ns, Local: "pubsub"}, s)(m)
			mux.IQ(stanza.SetIQ, xml.Name{Space: ns, Local: "pubsub"}, s)(m)
		}
	}
}

// HandleIQ implements mux.IQHandler.
func (s *Service) HandleIQ(iq stanza.IQ, t xmlstream.TokenReadEncoder, start *xml.StartElement) error {
	d := xml.NewTokenDecoder(t)
	req, err := ParseIQ(iq, *start, d)
	if err != nil {
		return s.writeError(t, iq, err)
	}

	payload, err := s.dispatch(context.Background(), req)
	if err != nil {
		return s.writeError(t, iq, err)
	}
	_, err = xmlstream.Copy(t, iq.Result(payload))
	return err
}

// writeError renders err as an IQ error reply. Stanza-error carriers
// (*BadRequest, *PubSubError) render as themselves; ErrUnknownVerb renders
// as feature-not-implemented; anything else is logged and replaced with
// internal-server-error, per the "unexpected errors" rule.
func (s *Service) writeError(t xmlstream.TokenReadEncoder, iq stanza.IQ, err error) error {
	var payload xml.TokenReader
	switch e := err.(type) {
	case *BadRequest:
		payload = e.TokenReader()
	case *PubSubError:
		payload = e.TokenReader()
	default:
		if err == ErrUnknownVerb {
			payload = stanzaErrorReader(errTypeFor("feature-not-implemented"), "feature-not-implemented", "", language.Und, "", nil)
		} else {
			s.logger().Printf("pubsub: unexpected error handling request: %v", err)
			payload = stanzaErrorReader(errTypeFor("internal-server-error"), "internal-server-error", "", language.Und, "", nil)
		}
	}
	iq.To, iq.From = iq.From, iq.To
	iq.Type = stanza.ErrorIQ
	_, werr := xmlstream.Copy(t, stanza.WrapIQ(iq.To, stanza.ErrorIQ, payload))
	return werr
}

// dispatch implements the per-verb response composition of the service
// handler: it calls the Backend and builds the <pubsub/>-namespaced result
// payload (or nil for a bare IQ result).
func (s *Service) dispatch(ctx context.Context, req *PubSubRequest) (xml.TokenReader, error) {
	requestor := jidValue(req.Sender)
	service := jidValue(req.Recipient)

	switch req.Verb {
	case VerbPublish:
		for _, it := range req.Items {
			if _, err := s.Backend.Publish(ctx, requestor, service, req.NodeIdentifier, it); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case VerbSubscribe:
		sub, err := s.Backend.Subscribe(ctx, requestor, service, req.NodeIdentifier, jidValue(req.Subscriber))
		if err != nil {
			return nil, err
		}
		return subscriptionPayload(sub), nil

	case VerbUnsubscribe:
		return nil, s.Backend.Unsubscribe(ctx, requestor, service, req.NodeIdentifier, jidValue(req.Subscriber))

	case VerbSubscriptions:
		subs, err := s.Backend.Subscriptions(ctx, requestor, service)
		if err != nil {
			return nil, err
		}
		return subscriptionsPayload(subs), nil

	case VerbAffiliations:
		affs, err := s.Backend.Affiliations(ctx, requestor, service)
		if err != nil {
			return nil, err
		}
		return affiliationsPayload(affs), nil

	case VerbCreate:
		assigned, err := s.Backend.CreateNode(ctx, requestor, service, req.NodeIdentifier, nil)
		if err != nil {
			return nil, err
		}
		if !req.NodeIdentifierSet || assigned != req.NodeIdentifier {
			return xmlstream.Wrap(
				xmlstream.Wrap(nil, xml.StartElement{
					Name: xml.Name{Local: "create"},
					Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: assigned}},
				}),
				xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
			), nil
		}
		return nil, nil

	case VerbDefault:
		if req.NodeType != "leaf" && req.NodeType != "collection" {
			return nil, &PubSubError{StanzaCondition: "not-acceptable"}
		}
		schema, err := s.Backend.DefaultConfig(ctx, requestor, service, req.NodeType)
		if err != nil {
			return nil, err
		}
		return xmlstream.Wrap(
			xmlstream.Wrap(
				nodeConfigForm(schema, nil).TokenReader(),
				xml.StartElement{Name: xml.Name{Local: "default"}},
			),
			xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "pubsub"}},
		), nil

	case VerbConfigureGet:
		schema, err := s.Backend.NodeConfig(ctx, requestor, service, req.NodeIdentifier)
		if err != nil {
			return nil, err
		}
		var attr []xml.Attr
		if req.NodeIdentifier != "" {
			attr = []xml.Attr{{Name: xml.Name{Local: "node"}, Value: req.NodeIdentifier}}
		}
		return xmlstream.Wrap(
			xmlstream.Wrap(
				nodeConfigForm(schema, nil).TokenReader(),
				xml.StartElement{Name: xml.Name{Local: "configure"}, Attr: attr},
			),
			xml.StartElement{Name: xml.Name{Space: NSOwner, Local: "pubsub"}},
		), nil

	case VerbConfigureSet:
		if len(req.Options) == 0 {
			return nil, nil
		}
		schema, err := s.Backend.NodeConfig(ctx, requestor, service, req.NodeIdentifier)
		if err != nil {
			return nil, err
		}
		values := make(map[string][]string)
		for k, v := range req.Options {
			field, ok := schema.Lookup(k)
			if !ok {
				continue
			}
			if err := typeCheckField(field, v); err != nil {
				return nil, err
			}
			values[k] = v
		}
		if len(values) == 0 {
			return nil, nil
		}
		return nil, s.Backend.SetNodeConfig(ctx, requestor, service, req.NodeIdentifier, values)

	case VerbItems:
		results, err := s.Backend.Items(ctx, requestor, service, req.NodeIdentifier, req.MaxItems, req.ItemIdentifiers)
		if err != nil {
			return nil, err
		}
		readers := make([]xml.TokenReader, len(results))
		for i, it := range results {
			readers[i] = it.TokenReader()
		}
		return xmlstream.Wrap(
			xmlstream.Wrap(
				xmlstream.MultiReader(readers...),
				xml.StartElement{
					Name: xml.Name{Local: "items"},
					Attr: []xml.Attr{{Name: xml.Name{Local: "node"}, Value: req.NodeIdentifier}},
				},
			),
			xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
		), nil

	case VerbRetract:
		return nil, s.Backend.RetractItems(ctx, requestor, service, req.NodeIdentifier, req.ItemIdentifiers)

	case VerbPurge:
		return nil, s.Backend.PurgeNode(ctx, requestor, service, req.NodeIdentifier)

	case VerbDelete:
		return nil, s.Backend.DeleteNode(ctx, requestor, service, req.NodeIdentifier)

	case VerbOptionsGet:
		schema, err := s.Backend.Options(ctx, requestor, service, req.NodeIdentifier, jidValue(req.Subscriber))
		if err != nil {
			return nil, err
		}
		return xmlstream.Wrap(
			xmlstream.Wrap(
				nodeConfigForm(schema, nil).TokenReader(),
				xml.StartElement{
					Name: xml.Name{Local: "options"},
					Attr: []xml.Attr{
						{Name: xml.Name{Local: "node"}, Value: req.NodeIdentifier},
						{Name: xml.Name{Local: "jid"}, Value: req.Subscriber.String()},
					},
				},
			),
			xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
		), nil

	case VerbOptionsSet:
		return nil, s.Backend.SetOptions(ctx, requestor, service, req.NodeIdentifier, jidValue(req.Subscriber), req.Options)

	case VerbAffiliationsGet, VerbAffiliationsSet, VerbSubscriptionsGet, VerbSubscriptionsSet:
		// Owner-level bulk affiliation/subscription management: the wire
		// shape for these is backend- and deployment-specific enough that
		// XEP-0060 leaves most of it to implementations; this package
		// exposes the capability through ModifyAffiliations and
		// ManageSubscriptions but does not parse their request bodies,
		// matching the parameter table's empty parameter list for them.
		return nil, Unsupported(featureModifyAffiliations)
	}
	return nil, ErrUnknownVerb
}

func jidValue(j *jid.JID) jid.JID {
	if j == nil {
		return jid.JID{}
	}
	return *j
}

func subscriptionPayload(sub Subscription) xml.TokenReader {
	var attr []xml.Attr
	if sub.NodeIdentifier != "" {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "node"}, Value: sub.NodeIdentifier})
	}
	if sub.Subscriber != nil {
		attr = append(attr, xml.Attr{Name: xml.Name{Local: "jid"}, Value: sub.Subscriber.String()})
	}
	attr = append(attr, xml.Attr{Name: xml.Name{Local: "subscription"}, Value: sub.State.String()})
	return xmlstream.Wrap(
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "subscription"}, Attr: attr}),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
	)
}

func subscriptionsPayload(subs []Subscription) xml.TokenReader {
	readers := make([]xml.TokenReader, len(subs))
	for i, sub := range subs {
		attr := []xml.Attr{
			{Name: xml.Name{Local: "node"}, Value: sub.NodeIdentifier},
			{Name: xml.Name{Local: "jid"}, Value: sub.Subscriber.String()},
			{Name: xml.Name{Local: "subscription"}, Value: sub.State.String()},
		}
		readers[i] = xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "subscription"}, Attr: attr})
	}
	return xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.MultiReader(readers...),
			xml.StartElement{Name: xml.Name{Local: "subscriptions"}},
		),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
	)
}

func affiliationsPayload(affs []NodeAffiliation) xml.TokenReader {
	readers := make([]xml.TokenReader, len(affs))
	for i, a := range affs {
		attr := []xml.Attr{
			{Name: xml.Name{Local: "node"}, Value: a.NodeIdentifier},
			{Name: xml.Name{Local: "affiliation"}, Value: string(a.Affiliation)},
		}
		readers[i] = xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Local: "affiliation"}, Attr: attr})
	}
	return xmlstream.Wrap(
		xmlstream.Wrap(
			xmlstream.MultiReader(readers...),
			xml.StartElement{Name: xml.Name{Local: "affiliations"}},
		),
		xml.StartElement{Name: xml.Name{Space: NS, Local: "pubsub"}},
	)
}

// nodeConfigForm builds the jabber:x:data form a backend's ConfigSchema
// describes, seeded with values when provided (values is nil when rendering
// an empty default/fresh form).
func nodeConfigForm(schema ConfigSchema, values map[string][]string) *form.Data {
	opts := []form.Option{form.Hidden("FORM_TYPE", form.Value(NSConfig))}
	for _, f := range schema {
		fieldOpts := []form.Option{form.Label(f.Label)}
		vals := f.Default
		if v, ok := values[f.Var]; ok {
			vals = v
		}
		for _, v := range vals {
			fieldOpts = append(fieldOpts, form.Value(v))
		}
		for _, o := range f.Options {
			fieldOpts = append(fieldOpts, form.ListOption(o))
		}
		opts = append(opts, fieldConstructor(f.Type)(f.Var, fieldOpts...))
	}
	return form.New(opts...)
}

// typeCheckField validates a submitted configuration value against field's
// declared type, mirroring the original implementation's
// field.typeCheck() pass (wokkel's pubsub.py _checkConfiguration) before a
// submitted value is forwarded to a backend.
func typeCheckField(field ConfigField, values []string) error {
	switch field.Type {
	case "boolean":
		for _, v := range values {
			switch v {
			case "0", "1", "true", "false":
			default:
				return &PubSubError{
					StanzaCondition: "not-acceptable",
					Text:            "invalid boolean value for field " + field.Var,
				}
			}
		}
	case "list-single":
		if len(values) > 1 {
			return &PubSubError{
				StanzaCondition: "not-acceptable",
				Text:            "list-single field " + field.Var + " accepts only one value",
			}
		}
		fallthrough
	case "list-multi":
		for _, v := range values {
			if !stringsContain(field.Options, v) {
				return &PubSubError{
					StanzaCondition: "not-acceptable",
					Text:            "value not allowed for field " + field.Var,
				}
			}
		}
	}
	return nil
}

func stringsContain(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func fieldConstructor(typ string) func(string, ...form.Option) form.Option {
	switch typ {
	case "boolean":
		return form.Boolean
	case "list-single":
		return form.ListSingle
	case "list-multi":
		return form.ListMulti
	case "jid-single":
		return form.JID
	case "jid-multi":
		return form.JIDMulti
	case "text-multi":
		return form.TextMulti
	case "text-private":
		return form.TextPrivate
	default:
		return form.TextSingle
	}
}

// Disco adapter: Service implements info.FeatureIter, info.IdentityIter, and
// items.Iter so that mux's disco.Handle() option picks it up automatically
// when registered on the same ServeMux.

var (
	_ info.FeatureIter  = (*Service)(nil)
	_ info.IdentityIter = (*Service)(nil)
	_ items.Iter        = (*Service)(nil)
)

// ForFeatures implements info.FeatureIter.
func (s *Service) ForFeatures(node string, f func(info.Feature) error) error {
	if node != "" {
		return nil
	}
	if err := f(info.Feature{Var: nsDiscoItm}); err != nil {
		return err
	}
	for _, feat := range s.Features {
		if err := f(info.Feature{Var: NS + "#" + string(feat)}); err != nil {
			return err
		}
	}
	return nil
}

// ForIdentities implements info.IdentityIter.
func (s *Service) ForIdentities(node string, f func(info.Identity) error) error {
	if node == "" {
		return f(info.Identity{Category: s.Identity.Category, Type: s.Identity.Type, Name: s.Identity.Name})
	}
	nodeInfo, ok := s.Backend.NodeInfo(context.Background(), jid.JID{}, jid.JID{}, node)
	if !ok {
		return nil
	}
	return f(info.Identity{Category: "pubsub", Type: nodeInfo.NodeType})
}

// ForItems implements items.Iter, enumerating known nodes as disco items
// bound to the service JID.
func (s *Service) ForItems(node string, f func(items.Item) error) error {
	if node != "" || s.HideNodes {
		return nil
	}
	nodes, err := s.Backend.Nodes(context.Background(), jid.JID{}, jid.JID{})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := f(items.Item{JID: s.JID, Node: n}); err != nil {
			return err
		}
	}
	return nil
}
