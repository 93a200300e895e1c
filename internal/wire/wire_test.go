package wire

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"dynwol/internal/token"
	"dynwol/internal/transport"
)

const sharedToken = "0123456789abcdef0123456789abcdef"

var testMAC = []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func TestHostInfo_RoundTrip(t *testing.T) {
	hash, err := token.Hash(sharedToken)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	original := HostInfoMessage{TokenHash: hash, MACAddress: testMAC, Name: "render-01"}

	data, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev := transport.Event{From: "peer-a", Topic: TopicHostInfo, Data: data}
	got, ok := Extract[HostInfoMessage](ev, TopicHostInfo, zerolog.Nop())
	if !ok {
		t.Fatal("expected message to be extracted")
	}
	if got.PeerID != "peer-a" {
		t.Errorf("PeerID: got %s, want peer-a", got.PeerID)
	}
	if !bytes.Equal(got.Message.MACAddress, testMAC) {
		t.Errorf("MACAddress: got %x, want %x", got.Message.MACAddress, testMAC)
	}
	if got.Message.MAC().String() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MAC: got %s", got.Message.MAC())
	}
	if got.Message.Name != "render-01" {
		t.Errorf("Name: got %s, want render-01", got.Message.Name)
	}
	if err := token.Verify(got.Message.TokenHash, sharedToken); err != nil {
		t.Errorf("token hash no longer verifies: %v", err)
	}
}

func TestHostOccupation_RoundTrip(t *testing.T) {
	data, err := Encode(HostOccupationMessage{CPUPercentage: 37.5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev := transport.Event{From: "peer-a", Topic: TopicHostOccupation, Data: data}
	got, ok := Extract[HostOccupationMessage](ev, TopicHostOccupation, zerolog.Nop())
	if !ok {
		t.Fatal("expected message to be extracted")
	}
	if got.Message.CPUPercentage != 37.5 {
		t.Errorf("CPUPercentage: got %v, want 37.5", got.Message.CPUPercentage)
	}
}

func TestExtract_TopicMismatch(t *testing.T) {
	data, _ := Encode(HostOccupationMessage{CPUPercentage: 10})
	ev := transport.Event{From: "peer-a", Topic: TopicHostOccupation, Data: data}

	if _, ok := Extract[HostInfoMessage](ev, TopicHostInfo, zerolog.Nop()); ok {
		t.Fatal("expected topic mismatch to return false")
	}
}

func TestExtract_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"garbage":     {0xc1, 0xff, 0x00},
		"empty":       {},
		"short mac":   mustMarshal(t, map[string]any{"token_hash": "x", "mac_address": []byte{1, 2, 3}, "name": "n"}),
		"no token":    mustMarshal(t, map[string]any{"mac_address": testMAC, "name": "n"}),
		"wrong shape": mustMarshal(t, HostOccupationMessage{CPUPercentage: 12}),
	}
	for name, data := range cases {
		ev := transport.Event{From: "peer-a", Topic: TopicHostInfo, Data: data}
		if _, ok := Extract[HostInfoMessage](ev, TopicHostInfo, zerolog.Nop()); ok {
			t.Errorf("%s: expected decode failure", name)
		}
	}
}

func TestExtract_OccupationOutOfRange(t *testing.T) {
	for _, v := range []float32{-1, 100.5} {
		data, _ := msgpack.Marshal(HostOccupationMessage{CPUPercentage: v})
		ev := transport.Event{From: "peer-a", Topic: TopicHostOccupation, Data: data}
		if _, ok := Extract[HostOccupationMessage](ev, TopicHostOccupation, zerolog.Nop()); ok {
			t.Errorf("%v: expected out-of-range value to be rejected", v)
		}
	}
}

func TestExtract_IgnoresUnknownFields(t *testing.T) {
	data := mustMarshal(t, map[string]any{
		"token_hash":  "$argon2id$x",
		"mac_address": testMAC,
		"name":        "newer-peer",
		"gpu_model":   "future field",
	})
	ev := transport.Event{From: "peer-a", Topic: TopicHostInfo, Data: data}
	got, ok := Extract[HostInfoMessage](ev, TopicHostInfo, zerolog.Nop())
	if !ok {
		t.Fatal("expected unknown fields to be ignored")
	}
	if got.Message.Name != "newer-peer" {
		t.Errorf("Name: got %s", got.Message.Name)
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
