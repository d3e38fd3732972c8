// Package bridge owns the shared mesh state on either side of the partner
// link: the bounded message inbox, the last-status cell, and the node
// table. On the partner it also fronts the mesh transmit path.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oddforge/wristlink/internal/wire"
)

const (
	// InboxCapacity bounds the message ring; the oldest entry is evicted
	// when a message arrives at a full inbox.
	InboxCapacity = 20

	// NodeTableCapacity bounds the node table. Refreshes replace the
	// table wholesale; extras beyond the capacity are dropped.
	NodeTableCapacity = 10
)

// ErrTransmitFailed reports that the mesh transmit sink rejected a send.
var ErrTransmitFailed = errors.New("bridge: transmit failed")

// TransmitFunc hands a send request to the external mesh radio. A nil
// TransmitFunc means there is no transmit path (central side).
type TransmitFunc func(req wire.MeshSendRequest) error

// Bridge is safe for concurrent use. All callbacks are invoked outside the
// internal lock, so a callback may call back into the Bridge (for example
// MarkAllRead from within an inbox handler) without deadlocking.
type Bridge struct {
	transmit TransmitFunc

	mu     sync.Mutex
	inbox  [InboxCapacity]wire.MeshMessage
	head   int
	count  int
	unread int

	status    wire.MeshStatus
	hasStatus bool
	nodes     []wire.NodeInfo

	onInbox        func(wire.MeshMessage)
	onStatus       func(wire.MeshStatus)
	onSendComplete func(seq uint32, success bool)
}

// New creates a Bridge. transmit may be nil when the instance only tracks
// inbound state.
func New(transmit TransmitFunc) *Bridge {
	return &Bridge{transmit: transmit}
}

// OnInbox registers the sink notified after each ingested message.
func (b *Bridge) OnInbox(fn func(wire.MeshMessage)) {
	b.mu.Lock()
	b.onInbox = fn
	b.mu.Unlock()
}

// OnStatus registers the sink notified after each status replacement.
func (b *Bridge) OnStatus(fn func(wire.MeshStatus)) {
	b.mu.Lock()
	b.onStatus = fn
	b.mu.Unlock()
}

// OnSendComplete registers the send-completion callback. The seq matches
// the originating request; the caller correlates.
func (b *Bridge) OnSendComplete(fn func(seq uint32, success bool)) {
	b.mu.Lock()
	b.onSendComplete = fn
	b.mu.Unlock()
}

// Ingest stores an incoming mesh message, evicting the oldest entry if the
// inbox is full, and forwards it to the inbox sink.
func (b *Bridge) Ingest(msg wire.MeshMessage) {
	b.mu.Lock()
	idx := (b.head + b.count) % InboxCapacity
	if b.count >= InboxCapacity {
		b.head = (b.head + 1) % InboxCapacity
	} else {
		b.count++
	}
	b.inbox[idx] = msg
	if b.unread < InboxCapacity {
		b.unread++
	}
	sink := b.onInbox
	b.mu.Unlock()

	slog.Debug("[bridge] message ingested", "from", msg.FromName, "chars", len(msg.Text))
	if sink != nil {
		sink(msg)
	}
}

// MarkAllRead resets the unread counter. Stored messages are untouched.
func (b *Bridge) MarkAllRead() {
	b.mu.Lock()
	b.unread = 0
	b.mu.Unlock()
}

// UnreadCount returns the number of messages ingested since the last
// MarkAllRead, capped at the inbox capacity.
func (b *Bridge) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unread
}

// Messages returns the stored messages, oldest first.
func (b *Bridge) Messages() []wire.MeshMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]wire.MeshMessage, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.inbox[(b.head+i)%InboxCapacity]
	}
	return out
}

// QueueSend validates a send request and forwards it to the transmit sink.
// A rejected transmit surfaces through the send-completion callback with
// success=false in addition to the returned error.
func (b *Bridge) QueueSend(req wire.MeshSendRequest) error {
	if len(req.Text) > wire.MaxTextLen {
		return fmt.Errorf("bridge: text is %d bytes, max %d: %w",
			len(req.Text), wire.MaxTextLen, wire.ErrMessageTooLarge)
	}

	b.mu.Lock()
	transmit := b.transmit
	complete := b.onSendComplete
	b.mu.Unlock()

	if transmit == nil {
		return fmt.Errorf("bridge: no transmit sink: %w", ErrTransmitFailed)
	}
	if err := transmit(req); err != nil {
		slog.Warn("[bridge] transmit rejected", "seq", req.Seq, "error", err)
		if complete != nil {
			complete(req.Seq, false)
		}
		return fmt.Errorf("bridge: seq %d: %w", req.Seq, ErrTransmitFailed)
	}

	slog.Info("[bridge] message queued", "to", req.To, "seq", req.Seq, "chars", len(req.Text))
	return nil
}

// UpdateStatus replaces the last-status cell and forwards the snapshot to
// the status sink.
func (b *Bridge) UpdateStatus(st wire.MeshStatus) {
	b.mu.Lock()
	b.status = st
	b.hasStatus = true
	sink := b.onStatus
	b.mu.Unlock()

	if sink != nil {
		sink(st)
	}
}

// Status returns the last status snapshot. ok is false before the first
// update.
func (b *Bridge) Status() (st wire.MeshStatus, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.hasStatus
}

// UpdateNodes replaces the node table wholesale, dropping entries beyond
// the table capacity.
func (b *Bridge) UpdateNodes(nodes []wire.NodeInfo) {
	if len(nodes) > NodeTableCapacity {
		nodes = nodes[:NodeTableCapacity]
	}
	b.mu.Lock()
	b.nodes = append(b.nodes[:0], nodes...)
	b.mu.Unlock()
}

// Nodes returns a snapshot of the node table.
func (b *Bridge) Nodes() []wire.NodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]wire.NodeInfo, len(b.nodes))
	copy(out, b.nodes)
	return out
}
