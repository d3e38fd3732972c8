package wire

import (
	"errors"
	"strings"
	"testing"
)

func TestMeshMessageRoundTrip(t *testing.T) {
	want := MeshMessage{
		ID:        7731,
		FromID:    "!abcd1234",
		FromName:  "Alice",
		ToID:      "^all",
		Text:      "hi from the ridge",
		Channel:   2,
		RSSI:      -87,
		SNR:       5.25,
		Timestamp: 1767225600,
		WantsAck:  true,
	}
	buf, err := EncodeMeshMessage(want)
	if err != nil {
		t.Fatalf("EncodeMeshMessage error = %v", err)
	}
	if len(buf) > MaxPayloadLen {
		t.Fatalf("payload %d bytes exceeds %d", len(buf), MaxPayloadLen)
	}
	got, err := DecodeMeshMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMeshMessage error = %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestMeshMessageTruncatesLongText(t *testing.T) {
	msg := MeshMessage{
		FromID: "!abcd1234",
		ToID:   "^all",
		Text:   strings.Repeat("x", 500),
	}
	buf, err := EncodeMeshMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMeshMessage error = %v", err)
	}
	if len(buf) > MaxPayloadLen {
		t.Fatalf("payload %d bytes exceeds %d", len(buf), MaxPayloadLen)
	}
	got, err := DecodeMeshMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMeshMessage error = %v", err)
	}
	if len(got.Text) == 0 || len(got.Text) > MaxTextLen {
		t.Errorf("truncated text is %d bytes, want 1..%d", len(got.Text), MaxTextLen)
	}
}

func TestMeshMessageTruncatesOverlongNames(t *testing.T) {
	msg := MeshMessage{
		FromID:   strings.Repeat("a", 40),
		FromName: strings.Repeat("b", 100),
		ToID:     "^all",
		Text:     "hello",
	}
	buf, err := EncodeMeshMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMeshMessage error = %v", err)
	}
	got, err := DecodeMeshMessage(buf)
	if err != nil {
		t.Fatalf("DecodeMeshMessage error = %v", err)
	}
	if len(got.FromID) != MaxNodeIDLen {
		t.Errorf("FromID truncated to %d bytes, want %d", len(got.FromID), MaxNodeIDLen)
	}
	if len(got.FromName) != MaxNameLen {
		t.Errorf("FromName truncated to %d bytes, want %d", len(got.FromName), MaxNameLen)
	}
}

func TestTruncatePreservesUTF8(t *testing.T) {
	// Each rune is 3 bytes; a 31-byte cut would land mid-rune.
	s := strings.Repeat("日", 20)
	got := truncate(s, MaxNameLen)
	if len(got) > MaxNameLen {
		t.Fatalf("truncate returned %d bytes, want <= %d", len(got), MaxNameLen)
	}
	if !strings.HasPrefix(s, got) {
		t.Error("truncate result is not a prefix of the input")
	}
	if len(got)%3 != 0 {
		t.Errorf("truncate split a UTF-8 sequence: %d bytes", len(got))
	}
}

func TestMeshStatusRoundTrip(t *testing.T) {
	want := MeshStatus{
		RadioOn:     true,
		Connected:   true,
		MyID:        "!00c0ffee",
		MyName:      "Wrist",
		NodesHeard:  4,
		TxQueue:     1,
		ChannelName: "LongFast",
		LastRxTime:  1767225601,
	}
	buf, err := EncodeMeshStatus(want)
	if err != nil {
		t.Fatalf("EncodeMeshStatus error = %v", err)
	}
	got, err := DecodeMeshStatus(buf)
	if err != nil {
		t.Fatalf("DecodeMeshStatus error = %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestMeshSendRoundTrip(t *testing.T) {
	want := MeshSendRequest{
		Seq:     99,
		To:      "!abcd1234",
		Text:    "on my way",
		Channel: 1,
		WantAck: true,
	}
	buf, err := EncodeMeshSend(want)
	if err != nil {
		t.Fatalf("EncodeMeshSend error = %v", err)
	}
	got, err := DecodeMeshSend(buf)
	if err != nil {
		t.Fatalf("DecodeMeshSend error = %v", err)
	}
	if got != want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}

func TestNodeListRoundTrip(t *testing.T) {
	want := []NodeInfo{
		{ID: "!aaaa0001", Name: "Basecamp", LastHeard: 100, RSSI: -60, Hops: 0},
		{ID: "!aaaa0002", Name: "Repeater", LastHeard: 90, RSSI: -92, Hops: 2},
	}
	buf, err := EncodeNodeList(want)
	if err != nil {
		t.Fatalf("EncodeNodeList error = %v", err)
	}
	got, err := DecodeNodeList(buf)
	if err != nil {
		t.Fatalf("DecodeNodeList error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("node list length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("node %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNodeListDropsTrailingNodesToFit(t *testing.T) {
	var nodes []NodeInfo
	for i := 0; i < 40; i++ {
		nodes = append(nodes, NodeInfo{
			ID:        "!deadbee0",
			Name:      strings.Repeat("n", MaxNameLen),
			LastHeard: uint32(i),
		})
	}
	buf, err := EncodeNodeList(nodes)
	if err != nil {
		t.Fatalf("EncodeNodeList error = %v", err)
	}
	if len(buf) > MaxReadLen {
		t.Fatalf("payload %d bytes exceeds %d", len(buf), MaxReadLen)
	}
	got, err := DecodeNodeList(buf)
	if err != nil {
		t.Fatalf("DecodeNodeList error = %v", err)
	}
	if len(got) == 0 || len(got) >= len(nodes) {
		t.Errorf("kept %d nodes, want a non-empty strict subset of %d", len(got), len(nodes))
	}
	// The kept prefix must be unmodified.
	if got[0].LastHeard != 0 {
		t.Errorf("first node LastHeard = %d, want 0", got[0].LastHeard)
	}
}

func TestDecodeMalformedMeshPayloads(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		{0xFF},
		[]byte("not cbor at all"),
	}
	for _, data := range cases {
		if _, err := DecodeMeshMessage(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeMeshMessage(%v) error = %v, want ErrMalformedFrame", data, err)
		}
		if _, err := DecodeMeshStatus(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeMeshStatus(%v) error = %v, want ErrMalformedFrame", data, err)
		}
		if _, err := DecodeMeshSend(data); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("DecodeMeshSend(%v) error = %v, want ErrMalformedFrame", data, err)
		}
	}
}
