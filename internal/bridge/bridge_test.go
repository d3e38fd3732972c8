package bridge

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/oddforge/wristlink/internal/wire"
)

func msgN(n int) wire.MeshMessage {
	return wire.MeshMessage{
		ID:       uint32(n),
		FromID:   "!abcd1234",
		FromName: "Alice",
		Text:     fmt.Sprintf("message %d", n),
	}
}

func TestInboxEvictsOldestWhenFull(t *testing.T) {
	b := New(nil)
	const n = InboxCapacity + 7
	for i := 1; i <= n; i++ {
		b.Ingest(msgN(i))
	}

	got := b.Messages()
	if len(got) != InboxCapacity {
		t.Fatalf("stored %d messages, want %d", len(got), InboxCapacity)
	}
	// the survivors are the most recent InboxCapacity, in arrival order
	for i, m := range got {
		want := uint32(n - InboxCapacity + 1 + i)
		if m.ID != want {
			t.Errorf("message[%d].ID = %d, want %d", i, m.ID, want)
		}
	}
}

func TestUnreadAccounting(t *testing.T) {
	b := New(nil)
	for i := 0; i < 5; i++ {
		b.Ingest(msgN(i))
	}
	if got := b.UnreadCount(); got != 5 {
		t.Errorf("unread = %d, want 5", got)
	}

	b.MarkAllRead()
	if got := b.UnreadCount(); got != 0 {
		t.Errorf("unread after MarkAllRead = %d, want 0", got)
	}

	// unread counts only post-reset insertions and caps at the capacity
	for i := 0; i < InboxCapacity+10; i++ {
		b.Ingest(msgN(i))
	}
	if got := b.UnreadCount(); got != InboxCapacity {
		t.Errorf("unread = %d, want %d (capped)", got, InboxCapacity)
	}

	b.MarkAllRead()
	b.Ingest(msgN(99))
	if got := b.UnreadCount(); got != 1 {
		t.Errorf("unread after reset + 1 ingest = %d, want 1", got)
	}
}

func TestIngestForwardsToSink(t *testing.T) {
	b := New(nil)
	var got []wire.MeshMessage
	b.OnInbox(func(m wire.MeshMessage) { got = append(got, m) })

	b.Ingest(msgN(1))
	b.Ingest(msgN(2))
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("sink received %v, want IDs 1,2 in order", got)
	}
}

func TestInboxCallbackMayReenter(t *testing.T) {
	b := New(nil)
	b.OnInbox(func(wire.MeshMessage) {
		// a UI handler clearing the badge from inside the callback
		b.MarkAllRead()
	})
	b.Ingest(msgN(1)) // must not deadlock
	if got := b.UnreadCount(); got != 0 {
		t.Errorf("unread = %d, want 0 after reentrant MarkAllRead", got)
	}
}

func TestQueueSendRejectsOversizedText(t *testing.T) {
	b := New(func(wire.MeshSendRequest) error { return nil })
	err := b.QueueSend(wire.MeshSendRequest{Seq: 1, Text: strings.Repeat("x", wire.MaxTextLen+1)})
	if !errors.Is(err, wire.ErrMessageTooLarge) {
		t.Errorf("QueueSend error = %v, want ErrMessageTooLarge", err)
	}
}

func TestQueueSendForwardsToTransmitSink(t *testing.T) {
	var sent []wire.MeshSendRequest
	b := New(func(req wire.MeshSendRequest) error {
		sent = append(sent, req)
		return nil
	})

	req := wire.MeshSendRequest{Seq: 7, To: "^all", Text: "hi", WantAck: true}
	if err := b.QueueSend(req); err != nil {
		t.Fatalf("QueueSend error = %v", err)
	}
	if len(sent) != 1 || sent[0] != req {
		t.Errorf("transmit sink received %v, want %v", sent, req)
	}
}

func TestQueueSendFailureFiresCompletionCallback(t *testing.T) {
	b := New(func(wire.MeshSendRequest) error {
		return errors.New("radio busy")
	})

	var gotSeq uint32
	var gotOK bool
	fired := false
	b.OnSendComplete(func(seq uint32, ok bool) {
		fired, gotSeq, gotOK = true, seq, ok
	})

	err := b.QueueSend(wire.MeshSendRequest{Seq: 42, To: "^all", Text: "hi"})
	if !errors.Is(err, ErrTransmitFailed) {
		t.Errorf("QueueSend error = %v, want ErrTransmitFailed", err)
	}
	if !fired || gotSeq != 42 || gotOK {
		t.Errorf("completion callback = (fired=%v seq=%d ok=%v), want (true, 42, false)", fired, gotSeq, gotOK)
	}
}

func TestStatusCellReplacement(t *testing.T) {
	b := New(nil)
	if _, ok := b.Status(); ok {
		t.Error("Status() ok = true before any update")
	}

	var fromSink wire.MeshStatus
	b.OnStatus(func(st wire.MeshStatus) { fromSink = st })

	first := wire.MeshStatus{RadioOn: true, NodesHeard: 2, ChannelName: "LongFast"}
	second := wire.MeshStatus{RadioOn: true, Connected: true, NodesHeard: 5, ChannelName: "LongFast"}
	b.UpdateStatus(first)
	b.UpdateStatus(second)

	got, ok := b.Status()
	if !ok || got != second {
		t.Errorf("Status() = (%+v, %v), want latest snapshot", got, ok)
	}
	if fromSink != second {
		t.Errorf("status sink saw %+v, want %+v", fromSink, second)
	}
}

func TestNodeTableWholesaleRefresh(t *testing.T) {
	b := New(nil)

	var many []wire.NodeInfo
	for i := 0; i < NodeTableCapacity+5; i++ {
		many = append(many, wire.NodeInfo{ID: fmt.Sprintf("!%08x", i)})
	}
	b.UpdateNodes(many)
	if got := b.Nodes(); len(got) != NodeTableCapacity {
		t.Errorf("node table size = %d, want %d", len(got), NodeTableCapacity)
	}

	// refresh replaces, not merges
	b.UpdateNodes([]wire.NodeInfo{{ID: "!0000beef", Name: "Solo"}})
	got := b.Nodes()
	if len(got) != 1 || got[0].Name != "Solo" {
		t.Errorf("node table after refresh = %v, want the single new entry", got)
	}
}
