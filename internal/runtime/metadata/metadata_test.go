package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestWithDoesNotAlias(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if base["baz"] != "" {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" || enriched["foo"] != "bar" {
		t.Fatalf("unexpected enriched map: %v", enriched)
	}

	var empty Metadata
	if got := empty.With("k", "v"); got["k"] != "v" {
		t.Fatalf("expected With on nil map to work, got %v", got)
	}
}

func TestNewPairs(t *testing.T) {
	md := New(KeyProducer, "loadgen", KeyCorrelationID, "abc", "dangling")
	if len(md) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(md))
	}
	if md[KeyProducer] != "loadgen" || md[KeyCorrelationID] != "abc" {
		t.Fatalf("unexpected metadata: %v", md)
	}
}

func TestToWatermill(t *testing.T) {
	wm := ToWatermill(Metadata{KeyEventKind: "request"})
	if wm.Get(KeyEventKind) != "request" {
		t.Fatalf("expected event kind to be copied, got %v", wm)
	}
	if ToWatermill(nil) == nil {
		t.Fatal("expected non-nil watermill metadata")
	}
}

func TestLogFieldsPicksKnownKeys(t *testing.T) {
	fields := LogFields(message.Metadata{KeyCorrelationID: "abc", "other": "x"})
	if len(fields) != 1 || fields[KeyCorrelationID] != "abc" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if len(LogFields(nil)) != 0 {
		t.Fatal("expected no fields for empty metadata")
	}
}
