package session

import (
	"net"
	"testing"
	"time"

	"github.com/seroze/fixengine/internal/framer"
	"github.com/seroze/fixengine/internal/store"
	"github.com/seroze/fixengine/pkg/fixmsg"
	"github.com/seroze/fixengine/pkg/fixtag"
)

// peer drives the far end of a net.Pipe as a synchronous FIX counterparty
// for tests: it frames inbound bytes and lets a test send raw messages back.
type peer struct {
	t    *testing.T
	conn net.Conn
	fr   *framer.Framer
	buf  []byte
	out  chan *fixmsg.Message
}

func newPeer(t *testing.T, conn net.Conn) *peer {
	p := &peer{t: t, conn: conn, fr: framer.New(nil), out: make(chan *fixmsg.Message, 16)}
	go p.readLoop()
	return p
}

func (p *peer) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.conn.Read(buf)
		if err != nil {
			close(p.out)
			return
		}
		messages, _ := p.fr.Feed(buf[:n])
		for _, raw := range messages {
			msg, err := fixmsg.Decode(raw, nil)
			if err != nil {
				continue
			}
			p.out <- msg
		}
	}
}

func (p *peer) recv(timeout time.Duration) *fixmsg.Message {
	p.t.Helper()
	select {
	case msg, ok := <-p.out:
		if !ok {
			p.t.Fatal("peer connection closed before a message arrived")
		}
		return msg
	case <-time.After(timeout):
		p.t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (p *peer) send(msg *fixmsg.Message, sender, target string, seq int) {
	p.t.Helper()
	msg.AddTag(fixtag.SenderCompID, sender)
	msg.AddTag(fixtag.TargetCompID, target)
	msg.AddTag(fixtag.BeginString, fixtag.DefaultBeginString)
	msg.AddTag(fixtag.MsgSeqNum, itoa(seq))
	msg.AddTag(fixtag.SendingTime, FormatSendingTime(time.Now()))
	raw, err := fixmsg.Encode(msg)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if _, err := p.conn.Write(raw); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func newTestSession(t *testing.T, role Role, cfg Config) (*Session, *peer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close() })

	seqStore, err := store.NewSequenceStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSequenceStore: %v", err)
	}
	msgStore, err := store.NewMessageStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewMessageStore: %v", err)
	}

	identity := Identity{SenderCompID: "US", TargetCompID: "THEM", BeginString: fixtag.DefaultBeginString}
	if cfg.ReadTimeout == 0 {
		cfg = DefaultConfig()
	}
	sess := New(serverConn, identity, cfg, role, seqStore, msgStore)
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = sess.Stop() })
	return sess, newPeer(t, clientConn)
}

func TestInitiatorSendsLogonOnStart(t *testing.T) {
	_, p := newTestSession(t, Initiator, DefaultConfig())

	logon := p.recv(time.Second)
	if logon.Tags[fixtag.MsgType] != fixtag.MsgTypeLogon {
		t.Fatalf("expected Logon, got %q", logon.Tags[fixtag.MsgType])
	}
	if logon.Tags[fixtag.MsgSeqNum] != "1" {
		t.Fatalf("expected MsgSeqNum 1, got %q", logon.Tags[fixtag.MsgSeqNum])
	}
}

func TestAcceptorAnswersLogonAndReachesLoggedOn(t *testing.T) {
	sess, p := newTestSession(t, Acceptor, DefaultConfig())

	logon := fixmsg.NewMessage(fixtag.MsgTypeLogon)
	logon.AddTag(fixtag.EncryptMethod, "0")
	logon.AddTag(fixtag.HeartBtInt, "30")
	p.send(logon, "THEM", "US", 1)

	reply := p.recv(time.Second)
	if reply.Tags[fixtag.MsgType] != fixtag.MsgTypeLogon {
		t.Fatalf("expected answering Logon, got %q", reply.Tags[fixtag.MsgType])
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess.Health().LoggedOn {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never reached LoggedOn")
}

func TestSequenceGapTriggersResendRequest(t *testing.T) {
	sess, p := newTestSession(t, Acceptor, DefaultConfig())

	logon := fixmsg.NewMessage(fixtag.MsgTypeLogon)
	logon.AddTag(fixtag.EncryptMethod, "0")
	logon.AddTag(fixtag.HeartBtInt, "30")
	p.send(logon, "THEM", "US", 1)
	p.recv(time.Second) // answering Logon, seq 1

	// Peer jumps straight to seq 5 (expected next inbound is 2): a gap.
	heartbeat := fixmsg.NewMessage(fixtag.MsgTypeHeartbeat)
	p.send(heartbeat, "THEM", "US", 5)

	resend := p.recv(time.Second)
	if resend.Tags[fixtag.MsgType] != fixtag.MsgTypeResendRequest {
		t.Fatalf("expected ResendRequest, got %q", resend.Tags[fixtag.MsgType])
	}
	if resend.Tags[fixtag.BeginSeqNo] != "2" {
		t.Fatalf("expected BeginSeqNo 2, got %q", resend.Tags[fixtag.BeginSeqNo])
	}
	if resend.Tags[fixtag.EndSeqNo] != "0" {
		t.Fatalf("expected EndSeqNo 0, got %q", resend.Tags[fixtag.EndSeqNo])
	}

	if sess.Health().NextExpectedInbound != 6 {
		t.Fatalf("expected next expected inbound 6, got %d", sess.Health().NextExpectedInbound)
	}
}

func TestLowerThanExpectedWithoutPossDupIsFatal(t *testing.T) {
	sess, p := newTestSession(t, Acceptor, DefaultConfig())

	logon := fixmsg.NewMessage(fixtag.MsgTypeLogon)
	logon.AddTag(fixtag.EncryptMethod, "0")
	logon.AddTag(fixtag.HeartBtInt, "30")
	p.send(logon, "THEM", "US", 1)
	p.recv(time.Second)

	heartbeat := fixmsg.NewMessage(fixtag.MsgTypeHeartbeat)
	p.send(heartbeat, "THEM", "US", 1) // already consumed, no PossDup

	p.recv(time.Second) // fatal Logout

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("expected session to terminate on fatal sequence error")
	}
	if sess.TerminalReason() != ReasonSequenceFatal {
		t.Fatalf("expected ReasonSequenceFatal, got %v", sess.TerminalReason())
	}
}

func TestPossDupDuplicateIsSilentlyIgnored(t *testing.T) {
	sess, p := newTestSession(t, Acceptor, DefaultConfig())

	logon := fixmsg.NewMessage(fixtag.MsgTypeLogon)
	logon.AddTag(fixtag.EncryptMethod, "0")
	logon.AddTag(fixtag.HeartBtInt, "30")
	p.send(logon, "THEM", "US", 1)
	p.recv(time.Second)

	dup := fixmsg.NewMessage(fixtag.MsgTypeHeartbeat)
	dup.AddTag(fixtag.PossDupFlag, "Y")
	p.send(dup, "THEM", "US", 1)

	// The session must not answer (no reply, no logout) and must stay logged on.
	time.Sleep(100 * time.Millisecond)
	if sess.Health().TerminalReason != ReasonNone {
		t.Fatalf("expected session still alive, got terminal reason %v", sess.Health().TerminalReason)
	}
	if !sess.Health().LoggedOn {
		t.Fatal("expected session to remain LoggedOn after a tolerated duplicate")
	}
}
