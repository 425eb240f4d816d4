// Package fixtag holds the FIX 4.2 tag numbers and enumerated values the
// session engine needs to speak the session-level protocol. It does not
// attempt a full data dictionary; only the tags actually referenced by the
// codec, framer, and session state machine are named here.
package fixtag

// Header, trailer and session-level administrative tags.
const (
	BeginString  = 8
	BodyLength   = 9
	MsgType      = 35
	SenderCompID = 49
	TargetCompID = 56
	MsgSeqNum    = 34
	SendingTime  = 52
	CheckSum     = 10

	EncryptMethod   = 98
	HeartBtInt      = 108
	ResetSeqNumFlag = 141
	Username        = 553
	Password        = 554
	TestReqID       = 112

	BeginSeqNo  = 7
	EndSeqNo    = 16
	NewSeqNo    = 36
	GapFillFlag = 123
	PossDupFlag = 43
	PossResend  = 97

	RefSeqNum           = 45
	RefTagID            = 371
	RefMsgType          = 372
	SessionRejectReason = 373
	Text                = 58
)

// Standard header fields emitted, in order, immediately after MsgType.
var StandardHeaderOrder = []int{SenderCompID, TargetCompID, MsgSeqNum, SendingTime}

// MsgType values for the administrative (session-level) messages this
// engine understands natively.
const (
	MsgTypeLogon         = "A"
	MsgTypeHeartbeat     = "0"
	MsgTypeTestRequest   = "1"
	MsgTypeResendRequest = "2"
	MsgTypeReject        = "3"
	MsgTypeSequenceReset = "4"
	MsgTypeLogout        = "5"
)

// AdminMsgTypes are the session-level message types that must never be
// resent verbatim; a replay collapses a run of them into a single Gap Fill.
var AdminMsgTypes = map[string]bool{
	MsgTypeLogon:         true,
	MsgTypeHeartbeat:     true,
	MsgTypeTestRequest:   true,
	MsgTypeResendRequest: true,
	MsgTypeSequenceReset: true,
	MsgTypeLogout:        true,
}

// SessionRejectReason values (tag 373), enumerated for Reject messages.
const (
	RejectInvalidTagNumber    = "0"
	RejectRequiredTagMissing  = "1"
	RejectTagNotDefined       = "2"
	RejectUndefinedTag        = "3"
	RejectTagSpecifiedNoValue = "4"
	RejectValueIncorrect      = "5"
	RejectIncorrectDataFormat = "6"
	RejectCompIDProblem       = "9"
	RejectSendingTimeProblem  = "10"
	RejectInvalidMsgType      = "11"
)

// DefaultBeginString is used whenever an outbound Message omits tag 8.
const DefaultBeginString = "FIX.4.2"

// SendingTimeLayout is the wire format for tag 52: YYYYMMDD-HH:MM:SS.sss.
const SendingTimeLayout = "20060102-15:04:05.000"
