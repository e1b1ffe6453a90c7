package gossip

import (
	"strings"
	"testing"

	"github.com/relaymesh/fabric/internal/cluster"
)

func TestEncodeDecodeRoundTripPlain(t *testing.T) {
	frame := Frame{
		From:  "w1",
		Nonce: "abc",
		Entries: []cluster.NodeInfoWire{
			{Schema: 1, NodeID: "w1", Version: 1, Role: "worker", Status: "alive"},
		},
	}

	wire, err := Encode(frame, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if wire[0] != compressionHeaderPlain {
		t.Fatalf("expected plain header for small frame, got 0x%02x", wire[0])
	}

	got, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != "w1" || len(got.Entries) != 1 {
		t.Fatalf("unexpected round trip: %+v", got)
	}
}

func TestEncodeCompressesOverThreshold(t *testing.T) {
	entries := make([]cluster.NodeInfoWire, 0, 50)
	for i := 0; i < 50; i++ {
		entries = append(entries, cluster.NodeInfoWire{
			Schema: 1, NodeID: strings.Repeat("x", 40), Version: uint64(i), Role: "worker", Status: "alive",
		})
	}
	frame := Frame{From: "w1", Nonce: "abc", Entries: entries}

	wire, err := Encode(frame, 100)
	if err != nil {
		t.Fatal(err)
	}
	if wire[0] != compressionHeaderSnappy {
		t.Fatalf("expected snappy header for large frame, got 0x%02x", wire[0])
	}

	got, err := Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 50 {
		t.Fatalf("expected 50 entries after decompress, got %d", len(got.Entries))
	}
}

func TestDecodeRejectsUnknownHeader(t *testing.T) {
	_, err := Decode([]byte{0xff, 'x'})
	if err == nil {
		t.Fatal("expected error for unknown compression header")
	}
}
