// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"
	"strings"
	"testing"
)

func decodeEventFromString(t *testing.T, xmlStr string) interface{} {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(xmlStr))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("reading start token: %v", err)
	}
	start := tok.(xml.StartElement)
	ev, err := decodeEvent(d, start, nil, nil, nil)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	return ev
}

func TestDecodeEventItems(t *testing.T) {
	ev := decodeEventFromString(t, `
		<event xmlns="http://jabber.org/protocol/pubsub#event">
			<items node="news">
				<item id="1"><entry>hi</entry></item>
				<retract id="2"/>
			</items>
		</event>`)
	items, ok := ev.(ItemsEvent)
	if !ok {
		t.Fatalf("expected ItemsEvent, got %T", ev)
	}
	if items.Node() != "news" {
		t.Errorf("Node() = %q", items.Node())
	}
	if len(items.Entries) != 2 {
		t.Fatalf("Entries = %+v, want 2 entries", items.Entries)
	}
	if items.Entries[0].Item == nil || items.Entries[0].Item.ID != "1" {
		t.Errorf("Entries[0] = %+v, want item 1", items.Entries[0])
	}
	if items.Entries[1].Item != nil || items.Entries[1].RetractID != "2" {
		t.Errorf("Entries[1] = %+v, want retract 2", items.Entries[1])
	}
}

func TestDecodeEventItemsPreservesInterleaveOrder(t *testing.T) {
	ev := decodeEventFromString(t, `
		<event xmlns="http://jabber.org/protocol/pubsub#event">
			<items node="news">
				<item id="1"/>
				<retract id="2"/>
				<item id="3"/>
			</items>
		</event>`)
	items, ok := ev.(ItemsEvent)
	if !ok {
		t.Fatalf("expected ItemsEvent, got %T", ev)
	}
	if len(items.Entries) != 3 {
		t.Fatalf("Entries = %+v, want 3 entries", items.Entries)
	}
	wantIDs := []string{"1", "2", "3"}
	wantIsItem := []bool{true, false, true}
	for i, entry := range items.Entries {
		isItem := entry.Item != nil
		if isItem != wantIsItem[i] {
			t.Errorf("Entries[%d] isItem = %v, want %v", i, isItem, wantIsItem[i])
		}
		var gotID string
		if isItem {
			gotID = entry.Item.ID
		} else {
			gotID = entry.RetractID
		}
		if gotID != wantIDs[i] {
			t.Errorf("Entries[%d] id = %q, want %q", i, gotID, wantIDs[i])
		}
	}
}

func TestDecodeEventDelete(t *testing.T) {
	ev := decodeEventFromString(t, `
		<event xmlns="http://jabber.org/protocol/pubsub#event">
			<delete node="news"><redirect uri="xmpp:new@example.com"/></delete>
		</event>`)
	del, ok := ev.(DeleteEvent)
	if !ok {
		t.Fatalf("expected DeleteEvent, got %T", ev)
	}
	if del.Node() != "news" {
		t.Errorf("Node() = %q", del.Node())
	}
	if del.RedirectURI != "xmpp:new@example.com" {
		t.Errorf("RedirectURI = %q", del.RedirectURI)
	}
}

func TestDecodeEventPurge(t *testing.T) {
	ev := decodeEventFromString(t, `<event xmlns="http://jabber.org/protocol/pubsub#event"><purge node="news"/></event>`)
	purge, ok := ev.(PurgeEvent)
	if !ok {
		t.Fatalf("expected PurgeEvent, got %T", ev)
	}
	if purge.Node() != "news" {
		t.Errorf("Node() = %q", purge.Node())
	}
}

func TestDecodeEventUnrecognizedIsNil(t *testing.T) {
	ev := decodeEventFromString(t, `<event xmlns="http://jabber.org/protocol/pubsub#event"></event>`)
	if ev != nil {
		t.Errorf("expected nil for an event with no recognized child, got %+v", ev)
	}
}
