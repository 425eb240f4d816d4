package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/seroze/fixengine/internal/framer"
	"github.com/seroze/fixengine/internal/store"
	"github.com/seroze/fixengine/pkg/fixmsg"
	"github.com/seroze/fixengine/pkg/fixtag"
)

// SeqStore is the durable sequence-pair contract a Session needs; satisfied
// by *store.SequenceStore.
type SeqStore interface {
	Load(senderCompID string) (store.SequenceState, error)
	Save(senderCompID string, state store.SequenceState) error
	Reset(senderCompID string) error
}

// MsgStore is the durable OutboundLog contract a Session needs; satisfied
// by *store.MessageStore and *store.SecureMessageStore alike.
type MsgStore interface {
	Save(senderCompID string, seqNum int, raw string) error
	Load(senderCompID string, seqNum int) (string, bool, error)
	LoadRange(senderCompID string, beginSeq, endSeq int) (map[int]string, error)
	Clear(senderCompID string, beforeSeq int) error
}

// CredentialValidator checks a Logon's Username(553)/Password(554) for
// acceptors configured with a credential store. Absent a validator, Logon
// is accepted on identity and heartbeat interval alone.
type CredentialValidator interface {
	Validate(username, password string) bool
}

// AdminRateLimiter throttles inbound administrative traffic independent of
// application throughput.
type AdminRateLimiter interface {
	Allow() bool
}

// Hooks lets an observer (metrics, structured logging) watch session events
// without the session package depending on any particular logging or
// metrics library.
type Hooks struct {
	OnSent             func(msgType string)
	OnReceived         func(msgType string)
	OnSequenceGap      func()
	OnResendRequest    func(direction string)
	OnHeartbeatLatency func(d time.Duration)
	OnStateChange      func(State)
	OnResync           func(discarded int)
	OnTerminal         func(reason TerminalReason)
}

// MergeHooks combines several Hooks values into one that invokes every
// non-nil callback from each, in order. Lets independent observers
// (metrics, live event push, error tracking) share one session without
// any of them knowing about the others.
func MergeHooks(hooks ...Hooks) Hooks {
	var merged Hooks
	for _, h := range hooks {
		h := h
		if h.OnSent != nil {
			prev := merged.OnSent
			merged.OnSent = func(msgType string) {
				if prev != nil {
					prev(msgType)
				}
				h.OnSent(msgType)
			}
		}
		if h.OnReceived != nil {
			prev := merged.OnReceived
			merged.OnReceived = func(msgType string) {
				if prev != nil {
					prev(msgType)
				}
				h.OnReceived(msgType)
			}
		}
		if h.OnSequenceGap != nil {
			prev := merged.OnSequenceGap
			merged.OnSequenceGap = func() {
				if prev != nil {
					prev()
				}
				h.OnSequenceGap()
			}
		}
		if h.OnResendRequest != nil {
			prev := merged.OnResendRequest
			merged.OnResendRequest = func(direction string) {
				if prev != nil {
					prev(direction)
				}
				h.OnResendRequest(direction)
			}
		}
		if h.OnHeartbeatLatency != nil {
			prev := merged.OnHeartbeatLatency
			merged.OnHeartbeatLatency = func(d time.Duration) {
				if prev != nil {
					prev(d)
				}
				h.OnHeartbeatLatency(d)
			}
		}
		if h.OnStateChange != nil {
			prev := merged.OnStateChange
			merged.OnStateChange = func(st State) {
				if prev != nil {
					prev(st)
				}
				h.OnStateChange(st)
			}
		}
		if h.OnResync != nil {
			prev := merged.OnResync
			merged.OnResync = func(discarded int) {
				if prev != nil {
					prev(discarded)
				}
				h.OnResync(discarded)
			}
		}
		if h.OnTerminal != nil {
			prev := merged.OnTerminal
			merged.OnTerminal = func(reason TerminalReason) {
				if prev != nil {
					prev(reason)
				}
				h.OnTerminal(reason)
			}
		}
	}
	return merged
}

// Option configures a Session at construction time.
type Option func(*Session)

func WithClock(c Clock) Option                           { return func(s *Session) { s.clock = c } }
func WithHooks(h Hooks) Option                           { return func(s *Session) { s.hooks = h } }
func WithCredentialValidator(v CredentialValidator) Option { return func(s *Session) { s.credValidator = v } }
func WithRateLimiter(rl AdminRateLimiter) Option         { return func(s *Session) { s.rateLimiter = rl } }

// Session ties one Framer/Codec pair to one Stream, implementing the state
// machine, heartbeat liveness, and resend-replay logic.
type Session struct {
	identity Identity
	cfg      Config
	role     Role
	stream   Stream

	seqStore SeqStore
	msgStore MsgStore
	clock    Clock
	hooks    Hooks

	credValidator CredentialValidator
	rateLimiter   AdminRateLimiter

	mu                  sync.Mutex
	state               State
	nextOutbound        int
	nextExpectedInbound int
	lastSendTime        time.Time
	lastRecvTime        time.Time
	pendingTestReqID    string
	testReqSentAt       time.Time
	logonResetAuthorized bool

	gapTracker *GapTracker

	inbox    chan *fixmsg.Message
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once
	terminal TerminalReason

	wg sync.WaitGroup
}

// New constructs a Session. Sequence state is loaded from seqStore on
// Start, not here, so construction never touches disk.
func New(stream Stream, identity Identity, cfg Config, role Role, seqStore SeqStore, msgStore MsgStore, opts ...Option) *Session {
	s := &Session{
		identity: identity,
		cfg:      cfg,
		role:     role,
		stream:   stream,
		seqStore: seqStore,
		msgStore: msgStore,
		clock:    SystemClock,
		state:    Disconnected,
		inbox:    make(chan *fixmsg.Message, 64),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		gapTracker: NewGapTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inbox delivers application-level messages (anything not in fixtag.AdminMsgTypes)
// in strictly increasing MsgSeqNum order, subject to the gap policy.
func (s *Session) Inbox() <-chan *fixmsg.Message { return s.inbox }

// Done closes once the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// TerminalReason reports why the session stopped, valid only after Done()
// has closed.
func (s *Session) TerminalReason() TerminalReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// Health returns a point-in-time snapshot safe for concurrent readers.
func (s *Session) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		State:               s.state,
		Connected:           s.state != Disconnected,
		LoggedOn:            s.state == LoggedOn,
		NextOutbound:        s.nextOutbound,
		NextExpectedInbound: s.nextExpectedInbound,
		LastSendTime:        s.lastSendTime,
		LastReceiveTime:     s.lastRecvTime,
		TerminalReason:      s.terminal,
	}
}

// GapStats reports the current observability snapshot from the gap tracker.
func (s *Session) GapStats() GapStats { return s.gapTracker.Snapshot() }

// Start loads durable sequence state, begins the receiver and heartbeat
// tasks, and, for an Initiator, sends the opening Logon.
func (s *Session) Start() error {
	state, err := s.seqStore.Load(s.identity.SenderCompID)
	if err != nil {
		return fmt.Errorf("session: load sequence state: %w", err)
	}
	if s.cfg.ResetOnLogon {
		if err := s.seqStore.Reset(s.identity.SenderCompID); err != nil {
			return fmt.Errorf("session: reset sequence state: %w", err)
		}
		state = store.SequenceState{NextOutbound: 1, NextExpectedInbound: 1}
	}

	s.mu.Lock()
	s.nextOutbound = state.NextOutbound
	s.nextExpectedInbound = state.NextExpectedInbound
	now := s.clock.Now()
	s.lastRecvTime = now
	s.mu.Unlock()

	s.wg.Add(2)
	go s.receiveLoop()
	go s.heartbeatLoop()

	if s.role == Initiator {
		s.setState(LogonSent)
		if err := s.sendLogon(); err != nil {
			return err
		}
	}
	return nil
}

// Stop idempotently tears the session down: it sets the stop flag and
// closes the socket, waking any blocked read or write.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		_ = s.stream.Close()
	})
	return nil
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// terminate records reason, stops the session, and closes Done() exactly
// once.
func (s *Session) terminate(reason TerminalReason) {
	s.mu.Lock()
	if s.terminal == ReasonNone {
		s.terminal = reason
	}
	s.mu.Unlock()

	_ = s.Stop()
	s.doneOnce.Do(func() {
		s.setState(Disconnected)
		close(s.doneCh)
		s.mu.Lock()
		finalReason := s.terminal
		s.mu.Unlock()
		if s.hooks.OnTerminal != nil {
			s.hooks.OnTerminal(finalReason)
		}
	})
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(st)
	}
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send implements the outbound send contract: inject
// header fields, encode, persist to the OutboundLog, durably advance
// next_outbound, then write to the socket — all under the session mutex so
// wire order matches MsgSeqNum order.
func (s *Session) Send(msg *fixmsg.Message) error {
	raw, writeErr, err := s.sendLocked(msg)
	if err != nil {
		return err
	}
	if writeErr != nil {
		s.terminate(ReasonIOError)
		return writeErr
	}
	if s.hooks.OnSent != nil {
		s.hooks.OnSent(msg.Tags[fixtag.MsgType])
	}
	_ = raw
	return nil
}

func (s *Session) sendLocked(msg *fixmsg.Message) (raw []byte, writeErr error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.AddTag(fixtag.SenderCompID, s.identity.SenderCompID)
	msg.AddTag(fixtag.TargetCompID, s.identity.TargetCompID)
	msg.AddTag(fixtag.BeginString, s.beginString())
	seq := s.nextOutbound
	msg.AddTag(fixtag.MsgSeqNum, itoa(seq))
	msg.AddTag(fixtag.SendingTime, FormatSendingTime(s.clock.Now()))

	raw, err = fixmsg.Encode(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encode outbound message: %w", err)
	}

	if err = s.msgStore.Save(s.identity.SenderCompID, seq, string(raw)); err != nil {
		return nil, nil, fmt.Errorf("session: persist outbound message: %w", err)
	}
	s.nextOutbound = seq + 1
	if err = s.seqStore.Save(s.identity.SenderCompID, store.SequenceState{
		NextOutbound:        s.nextOutbound,
		NextExpectedInbound: s.nextExpectedInbound,
	}); err != nil {
		return nil, nil, fmt.Errorf("session: persist sequence state: %w", err)
	}

	if _, werr := s.stream.Write(raw); werr != nil {
		writeErr = werr
	} else {
		s.lastSendTime = s.clock.Now()
	}
	return raw, writeErr, nil
}

func (s *Session) beginString() string {
	if s.identity.BeginString != "" {
		return s.identity.BeginString
	}
	return fixtag.DefaultBeginString
}

func (s *Session) sendLogon() error {
	msg := fixmsg.NewMessage(fixtag.MsgTypeLogon)
	msg.AddTag(fixtag.EncryptMethod, "0")
	msg.AddTag(fixtag.HeartBtInt, itoa(s.cfg.HeartbeatIntervalSecs))
	if s.cfg.ResetOnLogon {
		msg.AddTag(fixtag.ResetSeqNumFlag, "Y")
		s.mu.Lock()
		s.logonResetAuthorized = true
		s.mu.Unlock()
	}
	return s.Send(msg)
}

func (s *Session) sendHeartbeat(testReqID string) error {
	msg := fixmsg.NewMessage(fixtag.MsgTypeHeartbeat)
	if testReqID != "" {
		msg.AddTag(fixtag.TestReqID, testReqID)
	}
	return s.Send(msg)
}

func (s *Session) sendTestRequest() error {
	id := NewTestReqID()
	s.mu.Lock()
	s.pendingTestReqID = id
	s.testReqSentAt = s.clock.Now()
	s.mu.Unlock()

	msg := fixmsg.NewMessage(fixtag.MsgTypeTestRequest)
	msg.AddTag(fixtag.TestReqID, id)
	return s.Send(msg)
}

func (s *Session) sendLogout() error {
	return s.Send(fixmsg.NewMessage(fixtag.MsgTypeLogout))
}

func (s *Session) sendReject(refSeqNum int, reason, text string) error {
	msg := fixmsg.NewMessage(fixtag.MsgTypeReject)
	msg.AddTag(fixtag.RefSeqNum, itoa(refSeqNum))
	if reason != "" {
		msg.AddTag(fixtag.SessionRejectReason, reason)
	}
	if text != "" {
		msg.AddTag(fixtag.Text, text)
	}
	return s.Send(msg)
}

func (s *Session) sendResendRequest(begin, end int) error {
	msg := fixmsg.NewMessage(fixtag.MsgTypeResendRequest)
	msg.AddTag(fixtag.BeginSeqNo, itoa(begin))
	msg.AddTag(fixtag.EndSeqNo, itoa(end))
	if s.hooks.OnResendRequest != nil {
		s.hooks.OnResendRequest("sent")
	}
	s.gapTracker.MarkResendSent()
	return s.Send(msg)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()

	fr := framer.New(framer.NewPool())
	buf := make([]byte, 64*1024)
	for {
		if s.stopped() {
			return
		}
		_ = s.stream.SetReadDeadline(s.clock.Now().Add(s.cfg.ReadTimeout))
		n, err := s.stream.Read(buf)
		if err != nil {
			if s.stopped() {
				return
			}
			if isTimeout(err) {
				continue
			}
			s.terminate(classifyReadError(err))
			return
		}
		if n == 0 {
			continue
		}

		messages, resyncs := fr.Feed(buf[:n])
		for _, r := range resyncs {
			if s.hooks.OnResync != nil {
				s.hooks.OnResync(r.Discarded)
			}
		}
		for _, raw := range messages {
			s.handleRaw(raw)
			if s.stopped() {
				return
			}
		}
	}
}

func (s *Session) handleRaw(raw []byte) {
	msg, err := fixmsg.Decode(raw, nil)
	if err != nil {
		s.sendReject(0, fixtag.RejectIncorrectDataFormat, err.Error())
		s.terminate(ReasonMalformedPeer)
		return
	}

	s.mu.Lock()
	s.lastRecvTime = s.clock.Now()
	s.mu.Unlock()

	if s.hooks.OnReceived != nil {
		s.hooks.OnReceived(msg.Tags[fixtag.MsgType])
	}

	s.handleInbound(msg)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func classifyReadError(err error) TerminalReason {
	if err.Error() == "EOF" {
		return ReasonPeerClosed
	}
	return ReasonIOError
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkLiveness()
		}
	}
}

func (s *Session) checkLiveness() {
	if s.getState() != LoggedOn {
		return
	}
	now := s.clock.Now()
	h := time.Duration(s.cfg.HeartbeatIntervalSecs) * time.Second

	s.mu.Lock()
	sinceSend := now.Sub(s.lastSendTime)
	sinceRecv := now.Sub(s.lastRecvTime)
	pendingTestReq := s.pendingTestReqID != ""
	testReqAge := now.Sub(s.testReqSentAt)
	s.mu.Unlock()

	if pendingTestReq && testReqAge >= h {
		s.terminate(ReasonIOError)
		return
	}
	if sinceSend >= h {
		_ = s.sendHeartbeat("")
	}
	idleThreshold := time.Duration(float64(h) * s.cfg.InboundIdleMultiplier)
	if !pendingTestReq && sinceRecv >= idleThreshold {
		_ = s.sendTestRequest()
	}
}
