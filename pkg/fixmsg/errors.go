package fixmsg

import "fmt"

// Error kinds a Decode can fail with. UnknownGroup is deliberately absent:
// an unrecognized count tag falls through to a flat tag rather than failing.
const (
	KindMalformedFraming = "malformed_framing"
	KindBadChecksum      = "bad_checksum"
	KindBadBodyLength    = "bad_body_length"
)

// DecodeError classifies a failure to turn raw bytes into a Message.
type DecodeError struct {
	Kind string
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("fixmsg: %s: %s", e.Kind, e.Msg)
}

func newDecodeError(kind, format string, args ...interface{}) *DecodeError {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *DecodeError of the given kind.
func IsKind(err error, kind string) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Kind == kind
}

// ErrMissingRequiredTag is returned by Encode when a message lacks one of
// the standard header fields it needs to produce a well-formed wire message.
type ErrMissingRequiredTag struct {
	Tag int
}

func (e *ErrMissingRequiredTag) Error() string {
	return fmt.Sprintf("fixmsg: missing required tag %d", e.Tag)
}
