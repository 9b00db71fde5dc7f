// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"mellium.im/xmpp/form"
	"mellium.im/xmpp/paging"
)

// Client's Session-dependent request methods (CreateNode, Subscribe, ...)
// need a live *xmpp.Session and are not exercised by this package's tests;
// these tests cover the pure, session-independent logic: form
// submission rendering, the wireSubscription decode shape, and ItemIter
// built directly over a literal token stream.

func TestFormSubmissionNil(t *testing.T) {
	r := formSubmission(nil)
	tok, err := r.Token()
	if tok != nil || err != io.EOF {
		t.Errorf("expected an immediately empty stream (nil, io.EOF) for a nil form, got (%v, %v)", tok, err)
	}
}

func TestFormSubmissionRenders(t *testing.T) {
	data := form.New(
		form.Hidden("FORM_TYPE", form.Value(NSConfig)),
		form.Boolean("pubsub#persist_items", form.Value("true")),
	)
	out := render(t, formSubmission(data))
	if !strings.Contains(out, "pubsub#persist_items") {
		t.Errorf("expected the submitted field var, got %s", out)
	}
}

func TestWireSubscriptionDecode(t *testing.T) {
	var w wireSubscription
	src := `<subscription node="news" jid="juliet@example.com" subid="abc" subscription="subscribed"/>`
	if err := xml.Unmarshal([]byte(src), &w); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if w.Node != "news" || w.JID != "juliet@example.com" || w.SubID != "abc" || w.Subscription != "subscribed" {
		t.Errorf("wireSubscription = %+v", w)
	}
}

func TestItemIterIteratesLiteralItems(t *testing.T) {
	src := `<items node="news"><item id="1"><entry>a</entry></item><item id="2"><entry>b</entry></item></items>`
	d := xml.NewDecoder(strings.NewReader(src))
	if _, err := d.Token(); err != nil { // consume the <items> start element
		t.Fatalf("reading start token: %v", err)
	}
	it := &ItemIter{iter: paging.NewIter(d, 0)}

	var got []string
	for it.Next() {
		got = append(got, it.Item().ID)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if len(got) != 2 || got[0] != "1" || got[1] != "2" {
		t.Fatalf("iterated ids = %+v, want [1 2]", got)
	}
	if err := it.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestItemIterEmptyClose(t *testing.T) {
	i := &ItemIter{}
	if err := i.Close(); err != nil {
		t.Errorf("Close on a zero-value iterator should be a no-op, got %v", err)
	}
}
