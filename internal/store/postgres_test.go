package store

import (
	"encoding/hex"
	"reflect"
	"testing"
)

func TestComputeDedupKeyFromID(t *testing.T) {
	body := []byte(`{"id":"evt_123","type":"x"}`)
	if got := computeDedupKey(body); got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
}

func TestComputeDedupKeyFromHash(t *testing.T) {
	got := computeDedupKey([]byte(`{"notId":"x"}`))
	b, err := hex.DecodeString(got)
	if err != nil {
		t.Fatalf("invalid hex: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(b))
	}
}

func TestSplitStatements(t *testing.T) {
	body := `-- header
CREATE TABLE a (id int);

-- second
CREATE INDEX i ON a (id);
;`
	got := splitStatements(body)
	want := []string{"CREATE TABLE a (id int)", "CREATE INDEX i ON a (id)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q", got)
	}
}

func TestJSONArray(t *testing.T) {
	if v, err := jsonArray(nil); v != nil || err != nil {
		t.Fatalf("nil slice -> nil expected, got %v %v", v, err)
	}
	v, err := jsonArray([]string{"fragile", "signature"})
	if err != nil || v != `["fragile","signature"]` {
		t.Fatalf("got %v %v", v, err)
	}
}
