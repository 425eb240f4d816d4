package fixmsg

import (
	"time"

	"github.com/seroze/fixengine/pkg/fixtag"
)

// InjectPossDup decodes raw, sets PossDupFlag(43)=Y, stamps SendingTime(52)
// to now, and re-encodes. MsgSeqNum(34) is left untouched: a resent message
// keeps the sequence number it originally carried. Calling it twice with the
// same now produces byte-identical output, since the second pass finds
// PossDupFlag already set and overwrites SendingTime with the same value.
//
// Callers are responsible for never resending an administrative message
// type verbatim; InjectPossDup itself has no opinion on MsgType.
func InjectPossDup(raw []byte, now time.Time) ([]byte, error) {
	msg, err := Decode(raw, nil)
	if err != nil {
		return nil, err
	}
	if _, exists := msg.Tags[fixtag.PossDupFlag]; !exists {
		msg.bodyOrder = append([]int{fixtag.PossDupFlag}, msg.bodyOrder...)
	}
	msg.Tags[fixtag.PossDupFlag] = "Y"
	msg.Tags[fixtag.SendingTime] = now.UTC().Format(fixtag.SendingTimeLayout)
	return Encode(msg)
}
