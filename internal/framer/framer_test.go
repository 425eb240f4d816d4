package framer

import (
	"bytes"
	"testing"

	"github.com/seroze/fixengine/pkg/fixmsg"
	"github.com/seroze/fixengine/pkg/fixtag"
)

func sampleMessage(t *testing.T, seq int) []byte {
	t.Helper()
	m := fixmsg.NewMessage(fixtag.MsgTypeHeartbeat)
	m.AddTag(fixtag.SenderCompID, "CLIENT")
	m.AddTag(fixtag.TargetCompID, "SERVER")
	m.AddTag(fixtag.MsgSeqNum, itoa(seq))
	m.AddTag(fixtag.SendingTime, "20260801-00:00:00.000")
	raw, err := fixmsg.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestFramerEmitsWholeMessageInOneChunk(t *testing.T) {
	raw := sampleMessage(t, 1)
	f := New(nil)

	msgs, resyncs := f.Feed(raw)
	if len(resyncs) != 0 {
		t.Fatalf("unexpected resyncs: %v", resyncs)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0], raw) {
		t.Fatalf("expected one message equal to input, got %v", msgs)
	}
	if f.Pending() != 0 {
		t.Fatalf("expected empty buffer after full extraction, got %d bytes pending", f.Pending())
	}
}

func TestFramerHandlesSplitAcrossChunks(t *testing.T) {
	raw := sampleMessage(t, 2)
	f := New(nil)

	mid := len(raw) / 2
	msgs, _ := f.Feed(raw[:mid])
	if len(msgs) != 0 {
		t.Fatalf("expected no message before the full bytes arrive, got %v", msgs)
	}

	msgs, _ = f.Feed(raw[mid:])
	if len(msgs) != 1 || !bytes.Equal(msgs[0], raw) {
		t.Fatalf("expected the reassembled message, got %v", msgs)
	}
	if f.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes pending", f.Pending())
	}
}

func TestFramerEmitsMultipleQueuedMessages(t *testing.T) {
	first := sampleMessage(t, 1)
	second := sampleMessage(t, 2)
	third := sampleMessage(t, 3)

	f := New(NewPool())
	combined := append(append(append([]byte(nil), first...), second...), third...)

	msgs, resyncs := f.Feed(combined)
	if len(resyncs) != 0 {
		t.Fatalf("unexpected resyncs: %v", resyncs)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range [][]byte{first, second, third} {
		if !bytes.Equal(msgs[i], want) {
			t.Fatalf("message %d mismatch:\n want %q\n got  %q", i, want, msgs[i])
		}
	}
	if f.Pending() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes pending", f.Pending())
	}
}

func TestFramerResyncsPastGarbagePrefix(t *testing.T) {
	raw := sampleMessage(t, 1)
	garbage := []byte("<<<not a fix message>>>")

	f := New(nil)
	msgs, resyncs := f.Feed(append(garbage, raw...))

	if len(msgs) != 1 || !bytes.Equal(msgs[0], raw) {
		t.Fatalf("expected the valid message past the garbage prefix, got %v", msgs)
	}
	if len(resyncs) == 0 {
		t.Fatalf("expected at least one resync event for the discarded garbage")
	}
}
