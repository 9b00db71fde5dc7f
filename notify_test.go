// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"
)

func render(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	var buf bytes.Buffer
	e := xml.NewEncoder(&buf)
	for {
		tok, err := r.Token()
		if tok == nil || err != nil {
			break
		}
		if err := e.EncodeToken(tok); err != nil {
			t.Fatalf("encoding: %v", err)
		}
	}
	e.Flush()
	return buf.String()
}

func TestCreateNotificationItems(t *testing.T) {
	n := Notification{Items: []Item{{ID: "a"}, {ID: "b"}}}
	out := render(t, createNotification("news", n))
	if !strings.Contains(out, `node="news"`) {
		t.Errorf("expected node attr, got %s", out)
	}
	if !strings.Contains(out, `id="a"`) || !strings.Contains(out, `id="b"`) {
		t.Errorf("expected both items, got %s", out)
	}
	if strings.Contains(out, "headers") {
		t.Errorf("expected no SHIM headers without collection subscriptions, got %s", out)
	}
}

func TestCreateNotificationRetract(t *testing.T) {
	n := Notification{Retracted: []string{"x"}}
	out := render(t, createNotification("news", n))
	if !strings.Contains(out, `<retract id="x">`) && !strings.Contains(out, `<retract id="x"/>`) {
		t.Errorf("expected a retract element for id x, got %s", out)
	}
}

func TestCreateNotificationCollectionHeaders(t *testing.T) {
	n := Notification{
		Subscriptions: []Subscription{
			{NodeIdentifier: "collection-root"},
		},
		Items: []Item{{ID: "a"}},
	}
	out := render(t, createNotification("news", n))
	if !strings.Contains(out, "headers") {
		t.Errorf("expected SHIM headers for a collection-ancestor subscription, got %s", out)
	}
	if !strings.Contains(out, `value="collection-root"`) && !strings.Contains(out, "collection-root") {
		t.Errorf("expected the ancestor node name in the header, got %s", out)
	}
}

func TestCreateNotificationNoHeaderForSameNode(t *testing.T) {
	n := Notification{
		Subscriptions: []Subscription{{NodeIdentifier: "news"}},
		Items:         []Item{{ID: "a"}},
	}
	out := render(t, createNotification("news", n))
	if strings.Contains(out, "headers") {
		t.Errorf("expected no SHIM header when the subscription node matches the event node, got %s", out)
	}
}

func TestCreateDeleteNotification(t *testing.T) {
	out := render(t, createDeleteNotification("news", ""))
	if !strings.Contains(out, `node="news"`) {
		t.Errorf("expected node attr, got %s", out)
	}
	if strings.Contains(out, "redirect") {
		t.Errorf("expected no redirect without a URI, got %s", out)
	}
}

func TestCreateDeleteNotificationWithRedirect(t *testing.T) {
	out := render(t, createDeleteNotification("news", "xmpp:new@example.com?;node=news"))
	if !strings.Contains(out, "redirect") {
		t.Errorf("expected a redirect element, got %s", out)
	}
	if !strings.Contains(out, "new@example.com") {
		t.Errorf("expected the redirect uri, got %s", out)
	}
}

func TestCreatePurgeNotification(t *testing.T) {
	out := render(t, createPurgeNotification("news"))
	if !strings.Contains(out, "purge") || !strings.Contains(out, `node="news"`) {
		t.Errorf("expected a purge element naming the node, got %s", out)
	}
}
