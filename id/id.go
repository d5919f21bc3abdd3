// Package id provides the prefixed, K-sortable identifiers Courier assigns
// to subscriptions, deliveries and event envelopes, such as
// "del_01h455vb4pex5vsknk084sn02q".
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity an ID belongs to.
type Prefix string

const (
	PrefixWebhook  Prefix = "wh"
	PrefixDelivery Prefix = "del"
	PrefixEvent    Prefix = "evt"
)

// ID wraps a TypeID. The zero value is the nil ID and encodes as "".
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the zero-value ID.
var Nil ID

func generate(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

func NewWebhookID() ID  { return generate(PrefixWebhook) }
func NewDeliveryID() ID { return generate(PrefixDelivery) }
func NewEventID() ID    { return generate(PrefixEvent) }

// parse decodes s and, when want is non-empty, requires that prefix.
func parse(s string, want Prefix) (ID, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if want != "" && Prefix(tid.Prefix()) != want {
		return Nil, fmt.Errorf("id: %q is not a %s id", s, want)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWebhookID parses a "wh_" identifier.
func ParseWebhookID(s string) (ID, error) { return parse(s, PrefixWebhook) }

// ParseDeliveryID parses a "del_" identifier.
func ParseDeliveryID(s string) (ID, error) { return parse(s, PrefixDelivery) }

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText accepts any prefix; an empty input yields Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := parse(string(b), "")
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
