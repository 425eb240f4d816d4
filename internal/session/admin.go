package session

import (
	"strconv"
	"time"

	"github.com/seroze/fixengine/internal/store"
	"github.com/seroze/fixengine/pkg/fixmsg"
	"github.com/seroze/fixengine/pkg/fixtag"
)

// handleInbound dispatches one decoded inbound message: ResendRequest and
// SequenceReset are handled before general sequence validation; every other
// message is validated first and then, if accepted, processed by type.
func (s *Session) handleInbound(msg *fixmsg.Message) {
	seqStr, ok := msg.GetTag(fixtag.MsgSeqNum)
	if !ok {
		s.sendReject(0, fixtag.RejectRequiredTagMissing, "MsgSeqNum missing")
		s.terminate(ReasonMalformedPeer)
		return
	}
	n, err := strconv.Atoi(seqStr)
	if err != nil {
		s.sendReject(0, fixtag.RejectIncorrectDataFormat, "MsgSeqNum not numeric")
		s.terminate(ReasonMalformedPeer)
		return
	}
	msgType := msg.Tags[fixtag.MsgType]
	possDup := msg.Tags[fixtag.PossDupFlag] == "Y"

	if fixtag.AdminMsgTypes[msgType] && s.rateLimiter != nil && !s.rateLimiter.Allow() {
		s.sendReject(n, fixtag.RejectValueIncorrect, "admin message rate exceeded")
		s.advanceOrGap(n, possDup)
		return
	}

	switch msgType {
	case fixtag.MsgTypeResendRequest:
		s.handleResendRequest(msg)
		s.advanceOrGap(n, possDup)
		return
	case fixtag.MsgTypeSequenceReset:
		s.handleSequenceReset(msg, n, possDup)
		return
	}

	if !s.advanceOrGap(n, possDup) {
		return
	}

	switch msgType {
	case fixtag.MsgTypeLogon:
		s.handleLogon(msg)
	case fixtag.MsgTypeLogout:
		s.handleLogout()
	case fixtag.MsgTypeTestRequest:
		s.handleTestRequest(msg)
	case fixtag.MsgTypeHeartbeat:
		s.handleHeartbeatReply(msg)
	default:
		if s.getState() == LoggedOn {
			select {
			case s.inbox <- msg:
			default:
			}
		}
	}
}

// advanceOrGap compares inbound MsgSeqNum n against next_expected_inbound e
// and returns whether the caller should go on to process the message body.
func (s *Session) advanceOrGap(n int, possDup bool) bool {
	now := s.clock.Now()

	s.mu.Lock()
	e := s.nextExpectedInbound
	switch {
	case n == e:
		s.nextExpectedInbound = e + 1
		err := s.persistSequenceLocked()
		s.mu.Unlock()
		s.gapTracker.Observe(n, e, now)
		if err != nil {
			s.terminate(ReasonIOError)
			return false
		}
		return true

	case n > e:
		// Advances past the gap immediately rather than buffering until the
		// resend completes; see DESIGN.md for why.
		s.nextExpectedInbound = n + 1
		err := s.persistSequenceLocked()
		s.mu.Unlock()
		s.gapTracker.Observe(n, e, now)
		if s.hooks.OnSequenceGap != nil {
			s.hooks.OnSequenceGap()
		}
		if err != nil {
			s.terminate(ReasonIOError)
			return false
		}
		_ = s.sendResendRequest(e, 0)
		return true

	default: // n < e
		s.mu.Unlock()
		s.gapTracker.Observe(n, e, now)
		if possDup {
			return false
		}
		_ = s.sendLogout()
		s.terminate(ReasonSequenceFatal)
		return false
	}
}

// persistSequenceLocked saves the sequence pair; callers must hold s.mu.
func (s *Session) persistSequenceLocked() error {
	return s.seqStore.Save(s.identity.SenderCompID, store.SequenceState{
		NextOutbound:        s.nextOutbound,
		NextExpectedInbound: s.nextExpectedInbound,
	})
}

func (s *Session) handleLogon(msg *fixmsg.Message) {
	if hb, ok := msg.GetTag(fixtag.HeartBtInt); ok {
		if _, err := strconv.Atoi(hb); err != nil {
			s.sendReject(0, fixtag.RejectIncorrectDataFormat, "HeartBtInt not numeric")
			s.terminate(ReasonMalformedPeer)
			return
		}
	}
	if reset, _ := msg.GetTag(fixtag.ResetSeqNumFlag); reset == "Y" {
		s.mu.Lock()
		s.logonResetAuthorized = true
		s.mu.Unlock()
	}

	if s.role == Acceptor && s.getState() != LoggedOn {
		if s.credValidator != nil {
			username, _ := msg.GetTag(fixtag.Username)
			password, _ := msg.GetTag(fixtag.Password)
			if !s.credValidator.Validate(username, password) {
				s.sendReject(0, fixtag.RejectValueIncorrect, "credential rejected")
				s.terminate(ReasonMalformedPeer)
				return
			}
		}
		s.setState(LogonReceived)
		if err := s.sendLogon(); err != nil {
			return
		}
	}
	s.setState(LoggedOn)
}

func (s *Session) handleLogout() {
	if s.getState() == LoggedOn {
		_ = s.sendLogout()
	}
	s.terminate(ReasonLogoutReceived)
}

func (s *Session) handleTestRequest(msg *fixmsg.Message) {
	id, _ := msg.GetTag(fixtag.TestReqID)
	_ = s.sendHeartbeat(id)
}

func (s *Session) handleHeartbeatReply(msg *fixmsg.Message) {
	id, _ := msg.GetTag(fixtag.TestReqID)

	s.mu.Lock()
	matched := id != "" && id == s.pendingTestReqID
	var latency time.Duration
	if matched {
		latency = s.clock.Now().Sub(s.testReqSentAt)
		s.pendingTestReqID = ""
	}
	s.mu.Unlock()

	if matched && s.hooks.OnHeartbeatLatency != nil {
		s.hooks.OnHeartbeatLatency(latency)
	}
}

func (s *Session) handleResendRequest(msg *fixmsg.Message) {
	beginStr, _ := msg.GetTag(fixtag.BeginSeqNo)
	endStr, _ := msg.GetTag(fixtag.EndSeqNo)
	begin, err1 := strconv.Atoi(beginStr)
	end, err2 := strconv.Atoi(endStr)
	if err1 != nil || err2 != nil {
		s.sendReject(0, fixtag.RejectIncorrectDataFormat, "malformed ResendRequest")
		return
	}
	if s.hooks.OnResendRequest != nil {
		s.hooks.OnResendRequest("received")
	}
	s.replay(begin, end)
}

// handleSequenceReset implements SequenceReset's GapFill and Reset branches.
// n is the SequenceReset message's own MsgSeqNum.
func (s *Session) handleSequenceReset(msg *fixmsg.Message, n int, possDup bool) {
	newSeqStr, ok := msg.GetTag(fixtag.NewSeqNo)
	if !ok {
		s.sendReject(n, fixtag.RejectRequiredTagMissing, "NewSeqNo missing")
		s.terminate(ReasonMalformedPeer)
		return
	}
	newSeq, err := strconv.Atoi(newSeqStr)
	if err != nil {
		s.sendReject(n, fixtag.RejectIncorrectDataFormat, "NewSeqNo not numeric")
		s.terminate(ReasonMalformedPeer)
		return
	}
	gapFill := msg.Tags[fixtag.GapFillFlag] == "Y"

	s.mu.Lock()
	e := s.nextExpectedInbound
	s.mu.Unlock()

	if gapFill {
		if n < e {
			if possDup {
				return
			}
			s.sendReject(n, fixtag.RejectValueIncorrect, "SequenceReset-GapFill MsgSeqNum below expected")
			_ = s.sendLogout()
			s.terminate(ReasonSequenceFatal)
			return
		}
		if newSeq <= e {
			s.sendReject(n, fixtag.RejectValueIncorrect, "GapFill NewSeqNo not greater than expected")
			return
		}
		s.applyNewExpected(newSeq)
		return
	}

	// Reset mode: unconditional, but a downward or equal reset requires a
	// prior Logon carrying ResetSeqNumFlag(141)=Y.
	if newSeq <= e {
		s.mu.Lock()
		authorized := s.logonResetAuthorized
		s.mu.Unlock()
		if !authorized {
			s.sendReject(n, fixtag.RejectValueIncorrect, "downward SequenceReset without an authorizing Logon")
			return
		}
	}
	s.applyNewExpected(newSeq)
}

func (s *Session) applyNewExpected(newSeq int) {
	s.mu.Lock()
	s.nextExpectedInbound = newSeq
	err := s.persistSequenceLocked()
	s.mu.Unlock()
	if err != nil {
		s.terminate(ReasonIOError)
	}
}
