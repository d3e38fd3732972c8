package wire

import (
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// MaxReadLen is the ceiling for read-characteristic values (the node list).
// Reads are not squeezed through a single notification, so the bound is the
// ATT long-read limit rather than MaxPayloadLen.
const MaxReadLen = 512

// MeshMessage is a text message relayed from the mesh radio. Field keys
// follow the partner firmware's bridge encoding.
type MeshMessage struct {
	ID        uint32  `cbor:"id"`
	FromID    string  `cbor:"from"`      // e.g. "!abcd1234"
	FromName  string  `cbor:"from_name"` // sender display name
	ToID      string  `cbor:"to"`        // "^all" for broadcast
	Text      string  `cbor:"msg"`
	Channel   uint8   `cbor:"channel"`
	RSSI      int8    `cbor:"rssi"`
	SNR       float32 `cbor:"snr"`
	Timestamp uint32  `cbor:"ts"` // unix seconds
	WantsAck  bool    `cbor:"want_ack"`
}

// MeshStatus is a point-in-time snapshot of the mesh radio. It has no
// history; each update wholly replaces the previous one.
type MeshStatus struct {
	RadioOn     bool   `cbor:"radio_on"`
	Connected   bool   `cbor:"connected"` // has heard from nodes recently
	MyID        string `cbor:"my_id"`
	MyName      string `cbor:"my_name"`
	NodesHeard  uint8  `cbor:"nodes_heard"`
	TxQueue     uint8  `cbor:"tx_queue"`
	ChannelName string `cbor:"channel_name"`
	LastRxTime  uint32 `cbor:"last_rx_ts"`
}

// MeshSendRequest asks the partner to transmit text over the mesh.
// Consumed immediately by the transmit path; never stored.
type MeshSendRequest struct {
	Seq     uint32 `cbor:"seq"` // correlates the eventual ack
	To      string `cbor:"to"`  // "^all" or "!nodeid"
	Text    string `cbor:"msg"`
	Channel uint8  `cbor:"channel"`
	WantAck bool   `cbor:"want_ack"`
}

// NodeInfo describes one known mesh node.
type NodeInfo struct {
	ID        string `cbor:"id"`
	Name      string `cbor:"name"`
	LastHeard uint32 `cbor:"last_heard"` // unix seconds
	RSSI      int8   `cbor:"rssi"`
	Hops      uint8  `cbor:"hops"`
}

// EncodeMeshMessage encodes a mesh message, truncating over-long string
// fields to their bounds and shrinking the text further if the payload
// would not fit a single notification.
func EncodeMeshMessage(msg MeshMessage) ([]byte, error) {
	msg.FromID = truncate(msg.FromID, MaxNodeIDLen)
	msg.FromName = truncate(msg.FromName, MaxNameLen)
	msg.ToID = truncate(msg.ToID, MaxNodeIDLen)
	msg.Text = truncate(msg.Text, MaxTextLen)
	return marshalBounded(&msg.Text, &msg, MaxPayloadLen)
}

// DecodeMeshMessage decodes a mesh message payload.
func DecodeMeshMessage(data []byte) (MeshMessage, error) {
	var msg MeshMessage
	if err := unmarshal(data, &msg); err != nil {
		return MeshMessage{}, err
	}
	return msg, nil
}

// EncodeMeshStatus encodes a status snapshot.
func EncodeMeshStatus(st MeshStatus) ([]byte, error) {
	st.MyID = truncate(st.MyID, MaxNodeIDLen)
	st.MyName = truncate(st.MyName, MaxNameLen)
	st.ChannelName = truncate(st.ChannelName, MaxNameLen)
	buf, err := cbor.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("wire: encode status: %w", err)
	}
	if len(buf) > MaxPayloadLen {
		return nil, fmt.Errorf("wire: status payload %d bytes: %w", len(buf), ErrMessageTooLarge)
	}
	return buf, nil
}

// DecodeMeshStatus decodes a status payload.
func DecodeMeshStatus(data []byte) (MeshStatus, error) {
	var st MeshStatus
	if err := unmarshal(data, &st); err != nil {
		return MeshStatus{}, err
	}
	return st, nil
}

// EncodeMeshSend encodes an outbound send request, truncating the text the
// same way EncodeMeshMessage does.
func EncodeMeshSend(req MeshSendRequest) ([]byte, error) {
	req.To = truncate(req.To, MaxNodeIDLen)
	req.Text = truncate(req.Text, MaxTextLen)
	return marshalBounded(&req.Text, &req, MaxPayloadLen)
}

// DecodeMeshSend decodes an inbound send request.
func DecodeMeshSend(data []byte) (MeshSendRequest, error) {
	var req MeshSendRequest
	if err := unmarshal(data, &req); err != nil {
		return MeshSendRequest{}, err
	}
	return req, nil
}

// EncodeNodeList encodes a node table for the read characteristic.
// Trailing nodes are dropped if the list would exceed MaxReadLen.
func EncodeNodeList(nodes []NodeInfo) ([]byte, error) {
	bounded := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		n.ID = truncate(n.ID, MaxNodeIDLen)
		n.Name = truncate(n.Name, MaxNameLen)
		bounded[i] = n
	}
	for {
		buf, err := cbor.Marshal(bounded)
		if err != nil {
			return nil, fmt.Errorf("wire: encode node list: %w", err)
		}
		if len(buf) <= MaxReadLen {
			return buf, nil
		}
		if len(bounded) == 0 {
			return nil, fmt.Errorf("wire: node list payload %d bytes: %w", len(buf), ErrMessageTooLarge)
		}
		bounded = bounded[:len(bounded)-1]
	}
}

// DecodeNodeList decodes a node table payload.
func DecodeNodeList(data []byte) ([]NodeInfo, error) {
	var nodes []NodeInfo
	if err := unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// marshalBounded marshals v, shaving bytes off the text field it points
// into until the encoding fits limit. text must be a field of v.
func marshalBounded(text *string, v interface{}, limit int) ([]byte, error) {
	for {
		buf, err := cbor.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("wire: encode: %w", err)
		}
		if len(buf) <= limit {
			return buf, nil
		}
		if *text == "" {
			return nil, fmt.Errorf("wire: payload %d bytes exceeds %d: %w", len(buf), limit, ErrMessageTooLarge)
		}
		over := len(buf) - limit
		keep := len(*text) - over
		if keep < 0 {
			keep = 0
		}
		*text = truncate(*text, keep)
	}
}

func unmarshal(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("wire: empty payload: %w", ErrMalformedFrame)
	}
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("wire: decode: %v: %w", err, ErrMalformedFrame)
	}
	return nil
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if max < 0 {
		max = 0
	}
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
