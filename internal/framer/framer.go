// Package framer extracts complete FIX 4.2 wire messages from an
// order-preserving byte stream. It never interprets tag semantics beyond
// BeginString and BodyLength: messages are handed to the codec whole, in
// wire order.
package framer

import (
	"bytes"
	"strconv"

	"github.com/seroze/fixengine/pkg/fixtag"
)

// trailerLen is the fixed width of "10=NNN" + SOH.
const trailerLen = 7

// Framer buffers bytes read from a socket and yields one complete message at
// a time. It is not safe for concurrent use; the session's single receive
// goroutine owns it exclusively.
type Framer struct {
	buf  []byte
	pool *Pool
}

// New returns a Framer backed by pool for its scratch buffers. pool may be
// nil, in which case the framer allocates its own buffers.
func New(pool *Pool) *Framer {
	return &Framer{pool: pool}
}

// ResyncEvent is reported whenever the framer discards bytes that precede
// the next "8=" prefix, so the caller can log or count the anomaly.
type ResyncEvent struct {
	Discarded int
}

// Feed appends chunk to the rolling buffer and returns every complete
// message it can now extract, in wire order, plus any resync events
// encountered while locating message boundaries.
func (f *Framer) Feed(chunk []byte) ([][]byte, []ResyncEvent) {
	f.buf = append(f.buf, chunk...)

	var messages [][]byte
	var resyncs []ResyncEvent
	for {
		msg, resync, ok := f.extractOne()
		if resync != nil {
			resyncs = append(resyncs, *resync)
		}
		if !ok {
			break
		}
		messages = append(messages, msg)
	}
	return messages, resyncs
}

// extractOne attempts to pull a single complete message off the front of
// the buffer. ok is false when more bytes are needed.
func (f *Framer) extractOne() ([]byte, *ResyncEvent, bool) {
	beginTag := []byte("8=")
	start := bytes.Index(f.buf, beginTag)
	if start < 0 {
		// No BeginString anywhere yet; keep only a short tail in case "8="
		// is split across chunk boundaries.
		if len(f.buf) > 1 {
			discarded := len(f.buf) - 1
			f.buf = f.buf[len(f.buf)-1:]
			return nil, &ResyncEvent{Discarded: discarded}, false
		}
		return nil, nil, false
	}

	var resync *ResyncEvent
	if start > 0 {
		resync = &ResyncEvent{Discarded: start}
		f.buf = f.buf[start:]
	}

	bodyTagStart := bytes.Index(f.buf, []byte{SOH})
	if bodyTagStart < 0 {
		return nil, resync, false
	}
	lengthFieldStart := bodyTagStart + 1
	lengthPrefix := []byte(strconv.Itoa(fixtag.BodyLength) + "=")
	if !bytes.HasPrefix(f.buf[lengthFieldStart:min(len(f.buf), lengthFieldStart+len(lengthPrefix))], lengthPrefix) {
		// BeginString present but the next field isn't BodyLength: this is
		// not a valid message start. Drop the bogus "8=" and resync past it.
		f.buf = f.buf[1:]
		d := 1
		if resync != nil {
			d += resync.Discarded
		}
		return nil, &ResyncEvent{Discarded: d}, false
	}

	valueStart := lengthFieldStart + len(lengthPrefix)
	sohAfterLength := bytes.IndexByte(f.buf[valueStart:], SOH)
	if sohAfterLength < 0 {
		return nil, resync, false
	}
	sohAfterLength += valueStart

	bodyLen, err := strconv.Atoi(string(f.buf[valueStart:sohAfterLength]))
	if err != nil || bodyLen < 0 {
		f.buf = f.buf[1:]
		d := 1
		if resync != nil {
			d += resync.Discarded
		}
		return nil, &ResyncEvent{Discarded: d}, false
	}

	bodyStart := sohAfterLength + 1
	need := bodyStart + bodyLen + trailerLen
	if len(f.buf) < need {
		return nil, resync, false
	}

	msg := f.copyOut(f.buf[:need])
	f.buf = f.buf[need:]
	return msg, resync, true
}

// copyOut returns an independent copy of region, using the pool's buffer
// pool when available to cut allocations on the hot path.
func (f *Framer) copyOut(region []byte) []byte {
	if f.pool == nil {
		out := make([]byte, len(region))
		copy(out, region)
		return out
	}
	pb := f.pool.GetBuffer()
	pb.Buffer.Write(region)
	out := append([]byte(nil), pb.Buffer.Bytes()...)
	f.pool.PutBuffer(pb)
	return out
}

// Pending returns the number of unconsumed bytes currently buffered.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// SOH is the FIX field delimiter, ASCII 0x01.
const SOH = '\x01'
