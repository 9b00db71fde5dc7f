// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"encoding/xml"

	"golang.org/x/text/language"
	"mellium.im/xmlstream"
)

// Condition is an application-specific error condition from the pubsub-errors
// namespace, carried as a child of a stanza <error/> alongside the defined
// RFC 6120 condition.
type Condition int

// Pubsub-errors application conditions, as named in the verb tables of
// XEP-0060. The zero value, CondNone, carries no application condition.
const (
	CondNone Condition = iota
	CondClosedNode
	CondConfigRequired
	CondInvalidJID
	CondInvalidOptions
	CondInvalidPayload
	CondInvalidSubID
	CondItemForbidden
	CondItemRequired
	CondJIDRequired
	CondMaxItemsExceeded
	CondMaxNodesExceeded
	CondNodeIDRequired
	CondNotInRosterGroup
	CondNotSubscribed
	CondPayloadTooBig
	CondPayloadRequired
	CondPendingSubscription
	CondPresenceRequired
	CondSubIDRequired
	CondTooManySubscriptions
	CondUnsupported
	CondUnsupportedAccessModel
)

var condName = [...]string{
	"",
	"closed-node",
	"configuration-required",
	"invalid-jid",
	"invalid-options",
	"invalid-payload",
	"invalid-subid",
	"item-forbidden",
	"item-required",
	"jid-required",
	"max-items-exceeded",
	"max-nodes-exceeded",
	"nodeid-required",
	"not-in-roster-group",
	"not-subscribed",
	"payload-too-big",
	"payload-required",
	"pending-subscription",
	"presence-subscription-required",
	"subid-required",
	"too-many-subscriptions",
	"unsupported",
	"unsupported-access-model",
}

// String returns the wire-format local name for the condition, or the empty
// string for CondNone.
func (c Condition) String() string {
	if c < 0 || int(c) >= len(condName) {
		return ""
	}
	return condName[c]
}

// ErrUnknownVerb is returned by parsing when the <pubsub/> or <pubsub#owner/>
// element contains no child recognized by the verb table. The service
// dispatcher treats it as a stanza-level "feature not implemented" reply
// rather than a BadRequest.
type errUnknownVerb struct{}

func (errUnknownVerb) Error() string { return "pubsub: no recognized verb element" }

// ErrUnknownVerb is the sentinel error produced when no verb element matches.
var ErrUnknownVerb error = errUnknownVerb{}

// BadRequest reports a malformed pubsub request: a missing mandatory
// attribute, an unparsable value, or a missing/incorrectly typed data form.
// It renders as a stanza error with condition bad-request and, when
// PubsubCondition is set, an additional application condition in the
// pubsub-errors namespace.
type BadRequest struct {
	PubsubCondition Condition
	Text            string
	// Lang tags Text for the <text/> child's xml:lang, matching
	// stanza.Error's convention. The zero Tag omits the attribute.
	Lang language.Tag
}

func (e *BadRequest) Error() string {
	if e.Text != "" {
		return e.Text
	}
	if s := e.PubsubCondition.String(); s != "" {
		return s
	}
	return "bad-request"
}

// TokenReader implements xmlstream.Marshaler.
func (e *BadRequest) TokenReader() xml.TokenReader {
	return stanzaErrorReader("modify", "bad-request", e.Text, e.Lang, e.PubsubCondition.String(), nil)
}

// WriteXML implements xmlstream.WriterTo.
func (e *BadRequest) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (e *BadRequest) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// PubSubError is a stanza error carrying both an RFC 6120 defined condition
// and a pubsub-errors application condition, optionally pinned to a named
// XEP-0060 feature (used for Unsupported).
type PubSubError struct {
	// StanzaCondition is the RFC 6120 §8.3.3 condition local name, e.g.
	// "feature-not-implemented" or "not-acceptable".
	StanzaCondition string
	PubsubCondition Condition
	Feature         string
	Text            string
	// Lang tags Text for the <text/> child's xml:lang, matching
	// stanza.Error's convention. The zero Tag omits the attribute.
	Lang language.Tag
}

func (e *PubSubError) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return e.StanzaCondition
}

// TokenReader implements xmlstream.Marshaler.
func (e *PubSubError) TokenReader() xml.TokenReader {
	var attrs []xml.Attr
	if e.Feature != "" {
		attrs = []xml.Attr{{Name: xml.Name{Local: "feature"}, Value: e.Feature}}
	}
	return stanzaErrorReader(errTypeFor(e.StanzaCondition), e.StanzaCondition, e.Text, e.Lang, e.PubsubCondition.String(), attrs)
}

// WriteXML implements xmlstream.WriterTo.
func (e *PubSubError) WriteXML(w xmlstream.TokenWriter) (int, error) {
	return xmlstream.Copy(w, e.TokenReader())
}

// MarshalXML implements xml.Marshaler.
func (e *PubSubError) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	_, err := e.WriteXML(enc)
	return err
}

// Unsupported builds the PubSubError raised by default backend methods:
// stanza condition feature-not-implemented with the pubsub-errors
// "unsupported" application condition naming feature.
func Unsupported(feature string) *PubSubError {
	return &PubSubError{
		StanzaCondition: "feature-not-implemented",
		PubsubCondition: CondUnsupported,
		Feature:         feature,
	}
}

// SubscriptionPending is raised by the client when a subscribe request
// results in a pending subscription awaiting owner approval.
type SubscriptionPending struct {
	Node string
}

func (e *SubscriptionPending) Error() string { return "pubsub: subscription pending approval" }

// SubscriptionUnconfigured is raised by the client when a subscribe request
// succeeds but requires subscription options to be configured.
type SubscriptionUnconfigured struct {
	Node string
}

func (e *SubscriptionUnconfigured) Error() string {
	return "pubsub: subscription requires configuration"
}

// stanzaErrorType maps an RFC 6120 §8.3.3 defined condition to its default
// error type, mirroring the original implementation's error.StanzaError,
// which derives type from condition rather than hardcoding one value for
// every condition.
var stanzaErrorType = map[string]string{
	"bad-request":             "modify",
	"conflict":                "cancel",
	"feature-not-implemented": "cancel",
	"forbidden":               "auth",
	"gone":                    "modify",
	"internal-server-error":   "wait",
	"item-not-found":          "cancel",
	"jid-malformed":           "modify",
	"not-acceptable":          "modify",
	"not-allowed":             "cancel",
	"not-authorized":          "auth",
	"payment-required":        "auth",
	"policy-violation":        "modify",
	"recipient-unavailable":   "wait",
	"redirect":                "modify",
	"registration-required":   "auth",
	"remote-server-not-found": "cancel",
	"remote-server-timeout":   "wait",
	"resource-constraint":     "wait",
	"service-unavailable":     "cancel",
	"subscription-required":   "auth",
	"undefined-condition":     "cancel",
	"unexpected-request":      "wait",
}

// errTypeFor returns the error type condition defaults to, falling back to
// "cancel" (the most common type among conditions this package actually
// raises) for a condition not in the table.
func errTypeFor(condition string) string {
	if t, ok := stanzaErrorType[condition]; ok {
		return t
	}
	return "cancel"
}

// stanzaErrorReader composes a full RFC 6120 <error/> element, optionally
// followed by a pubsub-errors application condition and/or a <text/> child.
// This is written by hand instead of going through stanza.Error because that
// type has no way to carry an application-specific condition child.
func stanzaErrorReader(errType, condition, text string, lang language.Tag, appCondition string, appAttrs []xml.Attr) xml.TokenReader {
	readers := []xml.TokenReader{
		xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: nsStanza, Local: condition}}),
	}
	if text != "" {
		textStart := xml.StartElement{Name: xml.Name{Space: nsStanza, Local: "text"}}
		if lang != language.Und {
			textStart.Attr = []xml.Attr{{Name: xml.Name{Space: nsXML, Local: "lang"}, Value: lang.String()}}
		}
		readers = append(readers, xmlstream.Wrap(xmlstream.Token(xml.CharData(text)), textStart))
	}
	if appCondition != "" {
		readers = append(readers, xmlstream.Wrap(nil, xml.StartElement{
			Name: xml.Name{Space: NSErrors, Local: appCondition},
			Attr: appAttrs,
		}))
	}
	return xmlstream.Wrap(
		xmlstream.MultiReader(readers...),
		xml.StartElement{
			Name: xml.Name{Local: "error"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "type"}, Value: errType}},
		},
	)
}
