package session

import (
	"github.com/seroze/fixengine/pkg/fixmsg"
	"github.com/seroze/fixengine/pkg/fixtag"
)

// replay walks [begin, end] against the OutboundLog, resending present
// application messages with PossDupFlag(43)=Y and collapsing administrative
// or missing messages into a SequenceReset GapFill. end == 0 means "through
// the highest sequence number ever sent".
func (s *Session) replay(begin, end int) {
	s.mu.Lock()
	sender := s.identity.SenderCompID
	highest := s.nextOutbound - 1
	s.mu.Unlock()

	actualEnd := end
	if actualEnd == 0 {
		actualEnd = highest
	}
	if actualEnd < begin {
		return
	}

	stored, err := s.msgStore.LoadRange(sender, begin, actualEnd)
	if err != nil {
		return
	}

	gapStart := -1
	for seq := begin; seq <= actualEnd; seq++ {
		raw, present := stored[seq]
		if present && !isAdminRaw(raw) {
			if gapStart != -1 {
				s.sendGapFill(gapStart, seq)
				gapStart = -1
			}
			dup, err := fixmsg.InjectPossDup([]byte(raw), s.clock.Now())
			if err == nil {
				_ = s.writeRaw(dup)
			}
			continue
		}
		if gapStart == -1 {
			gapStart = seq
		}
	}
	if gapStart != -1 {
		s.sendGapFill(gapStart, actualEnd+1)
	}
}

func isAdminRaw(raw string) bool {
	msg, err := fixmsg.Decode([]byte(raw), nil)
	if err != nil {
		return true
	}
	return fixtag.AdminMsgTypes[msg.Tags[fixtag.MsgType]]
}

// sendGapFill emits a SequenceReset-GapFill covering [gapStart, newSeqNo).
// Its own MsgSeqNum is gapStart, not the next outbound sequence number: a
// gap fill never consumes a fresh slot in the OutboundLog.
func (s *Session) sendGapFill(gapStart, newSeqNo int) {
	msg := fixmsg.NewMessage(fixtag.MsgTypeSequenceReset)
	msg.AddTag(fixtag.GapFillFlag, "Y")
	msg.AddTag(fixtag.PossDupFlag, "Y")
	msg.AddTag(fixtag.NewSeqNo, itoa(newSeqNo))
	_ = s.sendWithExplicitSeq(msg, gapStart)
}

// sendWithExplicitSeq writes msg with a caller-chosen MsgSeqNum instead of
// the session's next outbound sequence number, bypassing the OutboundLog:
// used only for Gap Fill, which reuses an already-logged slot.
func (s *Session) sendWithExplicitSeq(msg *fixmsg.Message, seq int) error {
	s.mu.Lock()
	msg.AddTag(fixtag.SenderCompID, s.identity.SenderCompID)
	msg.AddTag(fixtag.TargetCompID, s.identity.TargetCompID)
	msg.AddTag(fixtag.BeginString, s.beginString())
	msg.AddTag(fixtag.MsgSeqNum, itoa(seq))
	msg.AddTag(fixtag.SendingTime, FormatSendingTime(s.clock.Now()))

	raw, err := fixmsg.Encode(msg)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	_, werr := s.stream.Write(raw)
	if werr == nil {
		s.lastSendTime = s.clock.Now()
	}
	s.mu.Unlock()

	if werr != nil {
		s.terminate(ReasonIOError)
		return werr
	}
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(msg.Tags[fixtag.MsgType])
	}
	return nil
}

// writeRaw writes an already-encoded message (a resend with PossDupFlag
// already injected) directly to the socket under the session mutex.
func (s *Session) writeRaw(raw []byte) error {
	s.mu.Lock()
	_, err := s.stream.Write(raw)
	if err == nil {
		s.lastSendTime = s.clock.Now()
	}
	s.mu.Unlock()

	if err != nil {
		s.terminate(ReasonIOError)
		return err
	}
	return nil
}
