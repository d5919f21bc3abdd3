package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/courier/id"
)

func TestNewHasPrefix(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() id.ID
		prefix string
	}{
		{"webhook", id.NewWebhookID, "wh_"},
		{"delivery", id.NewDeliveryID, "del_"},
		{"event", id.NewEventID, "evt_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.gen().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseWithPrefixRejectsMismatch(t *testing.T) {
	whID := id.NewWebhookID()
	if _, err := id.ParseDeliveryID(whID.String()); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
	got, err := id.ParseWebhookID(whID.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != whID {
		t.Fatalf("round trip mismatch: %v != %v", got, whID)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	in := wrapper{ID: id.NewDeliveryID()}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out wrapper
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID != in.ID {
		t.Fatalf("got %v, want %v", out.ID, in.ID)
	}
}

func TestNilEncodesEmpty(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	b, err := json.Marshal(wrapper{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"id":""}` {
		t.Fatalf("unexpected encoding %s", b)
	}
	var out wrapper
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if !out.ID.IsNil() {
		t.Fatal("expected Nil after decoding an empty id")
	}
}
