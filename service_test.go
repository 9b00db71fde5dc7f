// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"testing"

	"mellium.im/xmpp/disco/info"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// captureEncoder adapts an xml.Decoder positioned mid-stream (right after a
// start element was consumed) plus an xml.Encoder into the
// xmlstream.TokenReadEncoder HandleIQ expects, mirroring how mux itself
// drives a registered handler.
type captureEncoder struct {
	*xml.Decoder
	enc *bytes.Buffer
	xe  *xml.Encoder
}

func newCaptureEncoder(d *xml.Decoder) *captureEncoder {
	buf := &bytes.Buffer{}
	return &captureEncoder{Decoder: d, enc: buf, xe: xml.NewEncoder(buf)}
}

func (c *captureEncoder) EncodeToken(t xml.Token) error { return c.xe.EncodeToken(t) }
func (c *captureEncoder) Encode(interface{}) error      { panic("unexpected Encode") }
func (c *captureEncoder) EncodeElement(interface{}, xml.StartElement) error {
	panic("unexpected EncodeElement")
}

func runHandleIQ(t *testing.T, svc *Service, iq stanza.IQ, body string) string {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(body))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("reading start token: %v", err)
	}
	start := tok.(xml.StartElement)
	c := newCaptureEncoder(d)
	if err := svc.HandleIQ(iq, c, &start); err != nil {
		t.Fatalf("HandleIQ: %v", err)
	}
	c.xe.Flush()
	return c.enc.String()
}

// fakeBackend implements just enough of Backend to exercise Service.dispatch.
type fakeBackend struct {
	UnimplementedBackend
	items         []Item
	subs          []Subscription
	pubID         string
	pubNo         int
	schema        ConfigSchema
	setValues     map[string][]string
	setConfigCall int
}

func (b *fakeBackend) Publish(_ context.Context, _, _ jid.JID, _ string, it Item) (string, error) {
	b.pubNo++
	if b.pubID != "" {
		return b.pubID, nil
	}
	return it.ID, nil
}

func (b *fakeBackend) Items(_ context.Context, _, _ jid.JID, _ string, _ uint64, _ []string) ([]Item, error) {
	return b.items, nil
}

func (b *fakeBackend) NodeConfig(_ context.Context, _, _ jid.JID, _ string) (ConfigSchema, error) {
	return b.schema, nil
}

func (b *fakeBackend) SetNodeConfig(_ context.Context, _, _ jid.JID, _ string, values map[string][]string) error {
	b.setConfigCall++
	b.setValues = values
	return nil
}

func (b *fakeBackend) Subscribe(_ context.Context, _, _ jid.JID, node string, sub jid.JID) (Subscription, error) {
	return Subscription{NodeIdentifier: node, Subscriber: &sub, State: SubSubscribed}, nil
}

func TestServiceDispatchPublish(t *testing.T) {
	b := &fakeBackend{}
	svc := NewService(b, DiscoIdentity{Category: "pubsub", Type: "service"}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "1"},
		`<pubsub xmlns="http://jabber.org/protocol/pubsub"><publish node="news"><item id="abc"/></publish></pubsub>`)
	if b.pubNo != 1 {
		t.Fatalf("expected Publish to be called once, got %d", b.pubNo)
	}
	if !strings.Contains(out, `type="result"`) {
		t.Errorf("expected a result IQ, got %s", out)
	}
}

func TestServiceDispatchItems(t *testing.T) {
	b := &fakeBackend{items: []Item{{ID: "1"}, {ID: "2"}}}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.GetIQ, ID: "2"},
		`<pubsub xmlns="http://jabber.org/protocol/pubsub"><items node="news"/></pubsub>`)
	if !strings.Contains(out, `id="1"`) || !strings.Contains(out, `id="2"`) {
		t.Errorf("expected both items rendered, got %s", out)
	}
}

func TestServiceDispatchSubscribe(t *testing.T) {
	b := &fakeBackend{}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "3"},
		`<pubsub xmlns="http://jabber.org/protocol/pubsub"><subscribe node="news" jid="juliet@example.com"/></pubsub>`)
	if !strings.Contains(out, `subscription="subscribed"`) {
		t.Errorf("expected a subscribed reply, got %s", out)
	}
}

func TestServiceDispatchUnsupportedRendersStanzaError(t *testing.T) {
	b := &fakeBackend{}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "4"},
		`<pubsub xmlns="http://jabber.org/protocol/pubsub"><unsubscribe node="news" jid="juliet@example.com"/></pubsub>`)
	if !strings.Contains(out, `type="error"`) {
		t.Errorf("expected an error IQ, got %s", out)
	}
	if !strings.Contains(out, "feature-not-implemented") {
		t.Errorf("expected feature-not-implemented condition, got %s", out)
	}
}

func TestServiceDispatchUnknownVerb(t *testing.T) {
	b := &fakeBackend{}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.GetIQ, ID: "5"},
		`<pubsub xmlns="http://jabber.org/protocol/pubsub"><bogus/></pubsub>`)
	if !strings.Contains(out, "feature-not-implemented") {
		t.Errorf("expected unknown verb to render feature-not-implemented, got %s", out)
	}
}

func TestServiceDispatchConfigureSetRejectsInvalidBoolean(t *testing.T) {
	b := &fakeBackend{schema: ConfigSchema{
		{Var: "pubsub#persist_items", Type: "boolean", Label: "Persist items"},
	}}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "6"}, `
		<pubsub xmlns="http://jabber.org/protocol/pubsub#owner">
			<configure node="news">
				<x xmlns="jabber:x:data" type="submit">
					<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>
					<field var="pubsub#persist_items"><value>maybe</value></field>
				</x>
			</configure>
		</pubsub>`)
	if !strings.Contains(out, `type="error"`) {
		t.Errorf("expected an error IQ for an invalid boolean value, got %s", out)
	}
	if !strings.Contains(out, "not-acceptable") {
		t.Errorf("expected a not-acceptable condition, got %s", out)
	}
	if b.setConfigCall != 0 {
		t.Errorf("expected SetNodeConfig not to be called, got %d calls", b.setConfigCall)
	}
}

func TestServiceDispatchConfigureSetRejectsValueOutsideOptions(t *testing.T) {
	b := &fakeBackend{schema: ConfigSchema{
		{Var: "pubsub#access_model", Type: "list-single", Label: "Access model", Options: []string{"open", "whitelist"}},
	}}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "7"}, `
		<pubsub xmlns="http://jabber.org/protocol/pubsub#owner">
			<configure node="news">
				<x xmlns="jabber:x:data" type="submit">
					<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>
					<field var="pubsub#access_model"><value>bogus</value></field>
				</x>
			</configure>
		</pubsub>`)
	if !strings.Contains(out, "not-acceptable") {
		t.Errorf("expected a not-acceptable condition for an out-of-range list-single value, got %s", out)
	}
	if b.setConfigCall != 0 {
		t.Errorf("expected SetNodeConfig not to be called, got %d calls", b.setConfigCall)
	}
}

func TestServiceDispatchConfigureSetAcceptsValidValues(t *testing.T) {
	b := &fakeBackend{schema: ConfigSchema{
		{Var: "pubsub#persist_items", Type: "boolean", Label: "Persist items"},
		{Var: "pubsub#access_model", Type: "list-single", Label: "Access model", Options: []string{"open", "whitelist"}},
	}}
	svc := NewService(b, DiscoIdentity{}, nil)
	out := runHandleIQ(t, svc, stanza.IQ{Type: stanza.SetIQ, ID: "8"}, `
		<pubsub xmlns="http://jabber.org/protocol/pubsub#owner">
			<configure node="news">
				<x xmlns="jabber:x:data" type="submit">
					<field var="FORM_TYPE" type="hidden"><value>http://jabber.org/protocol/pubsub#node_config</value></field>
					<field var="pubsub#persist_items"><value>true</value></field>
					<field var="pubsub#access_model"><value>open</value></field>
				</x>
			</configure>
		</pubsub>`)
	if strings.Contains(out, `type="error"`) {
		t.Errorf("expected no error for a conforming submission, got %s", out)
	}
	if b.setConfigCall != 1 {
		t.Fatalf("expected SetNodeConfig to be called once, got %d calls", b.setConfigCall)
	}
	if b.setValues["pubsub#persist_items"][0] != "true" || b.setValues["pubsub#access_model"][0] != "open" {
		t.Errorf("setValues = %+v", b.setValues)
	}
}

func TestTypeCheckFieldBooleanValid(t *testing.T) {
	if err := typeCheckField(ConfigField{Type: "boolean"}, []string{"0"}); err != nil {
		t.Errorf("typeCheckField: unexpected error %v", err)
	}
}

func TestTypeCheckFieldListMultiRejectsUnknownOption(t *testing.T) {
	field := ConfigField{Type: "list-multi", Options: []string{"a", "b"}}
	if err := typeCheckField(field, []string{"a", "c"}); err == nil {
		t.Error("expected an error for a value outside Options")
	}
}

func TestTypeCheckFieldTextSingleUnconstrained(t *testing.T) {
	if err := typeCheckField(ConfigField{Type: "text-single"}, []string{"anything"}); err != nil {
		t.Errorf("typeCheckField: unexpected error %v", err)
	}
}

func TestNodeConfigFormFieldTypes(t *testing.T) {
	schema := ConfigSchema{
		{Var: "pubsub#persist_items", Type: "boolean", Label: "Persist items", Default: []string{"true"}},
		{Var: "pubsub#access_model", Type: "list-single", Label: "Access model", Default: []string{"open"}, Options: []string{"open", "whitelist"}},
	}
	data := nodeConfigForm(schema, nil)
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	if err := data.MarshalXML(e, xml.StartElement{}); err != nil {
		t.Fatalf("MarshalXML: %v", err)
	}
	e.Flush()
	out := buf.String()
	if !strings.Contains(out, "pubsub#persist_items") {
		t.Errorf("expected persist_items field, got %s", out)
	}
	if !strings.Contains(out, "FORM_TYPE") {
		t.Errorf("expected FORM_TYPE hidden field, got %s", out)
	}
}

func TestForFeaturesAdvertisesDiscoAndFeatures(t *testing.T) {
	svc := NewService(&fakeBackend{}, DiscoIdentity{}, []Feature{FeaturePublish, FeatureSubscribe})
	var got []string
	err := svc.ForFeatures("", func(f info.Feature) error {
		got = append(got, f.Var)
		return nil
	})
	if err != nil {
		t.Fatalf("ForFeatures: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 features (disco#items + 2 pubsub features), got %+v", got)
	}
}

func TestForIdentitiesRootNode(t *testing.T) {
	svc := NewService(&fakeBackend{}, DiscoIdentity{Category: "pubsub", Type: "service", Name: "News"}, nil)
	var got info.Identity
	err := svc.ForIdentities("", func(id info.Identity) error {
		got = id
		return nil
	})
	if err != nil {
		t.Fatalf("ForIdentities: %v", err)
	}
	if got.Category != "pubsub" || got.Type != "service" || got.Name != "News" {
		t.Errorf("ForIdentities root = %+v", got)
	}
}
