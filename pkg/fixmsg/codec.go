package fixmsg

import (
	"bytes"
	"strconv"

	"github.com/seroze/fixengine/pkg/fixtag"
)

// SOH is the FIX field delimiter, ASCII 0x01.
const SOH = '\x01'

// Encode renders a Message as wire bytes: 8, 9, 35, the standard header
// (49, 56, 34, 52), the body in insertion order, repeating groups in the
// order they were added, and finally 10 with BodyLength and CheckSum
// computed over the assembled bytes.
func Encode(msg *Message) ([]byte, error) {
	msgType, ok := msg.Tags[fixtag.MsgType]
	if !ok {
		return nil, &ErrMissingRequiredTag{Tag: fixtag.MsgType}
	}

	var body bytes.Buffer
	writeField(&body, fixtag.MsgType, msgType)
	for _, tag := range fixtag.StandardHeaderOrder {
		v, ok := msg.Tags[tag]
		if !ok {
			return nil, &ErrMissingRequiredTag{Tag: tag}
		}
		writeField(&body, tag, v)
	}
	for _, tag := range msg.bodyOrder {
		writeField(&body, tag, msg.Tags[tag])
	}
	for _, countTag := range msg.groupOrder {
		entries := msg.Groups[countTag]
		writeField(&body, countTag, strconv.Itoa(len(entries)))
		for _, entry := range entries {
			for _, f := range entry {
				writeField(&body, f.Tag, f.Value)
			}
		}
	}

	beginString := msg.Tags[fixtag.BeginString]
	if beginString == "" {
		beginString = fixtag.DefaultBeginString
	}

	var head bytes.Buffer
	writeField(&head, fixtag.BeginString, beginString)
	writeField(&head, fixtag.BodyLength, strconv.Itoa(body.Len()))

	var full bytes.Buffer
	full.Write(head.Bytes())
	full.Write(body.Bytes())

	checksum := Checksum(full.Bytes())
	writeField(&full, fixtag.CheckSum, FormatChecksum(checksum))

	return full.Bytes(), nil
}

func writeField(buf *bytes.Buffer, tag int, value string) {
	buf.WriteString(strconv.Itoa(tag))
	buf.WriteByte('=')
	buf.WriteString(value)
	buf.WriteByte(SOH)
}

// Decode parses one complete wire message (as delivered by a Framer) into a
// Message, validating BodyLength and CheckSum and expanding any repeating
// groups found in groupDict.
func Decode(raw []byte, groupDict GroupDict) (*Message, error) {
	if len(raw) == 0 || !bytes.HasPrefix(raw, []byte("8=")) {
		return nil, newDecodeError(KindMalformedFraming, "message does not begin with tag 8")
	}

	sohBefore10 := bytes.LastIndex(raw, []byte{SOH, '1', '0', '='})
	if sohBefore10 < 0 {
		return nil, newDecodeError(KindMalformedFraming, "no terminating checksum field")
	}
	if raw[len(raw)-1] != SOH {
		return nil, newDecodeError(KindMalformedFraming, "message does not end with SOH")
	}

	parts := bytes.Split(raw[:len(raw)-1], []byte{SOH})
	fields := make([]Field, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		eq := bytes.IndexByte(p, '=')
		if eq <= 0 {
			return nil, newDecodeError(KindMalformedFraming, "field %q has no tag=value separator", p)
		}
		tagNum, err := strconv.Atoi(string(p[:eq]))
		if err != nil {
			return nil, newDecodeError(KindMalformedFraming, "non-numeric tag in field %q", p)
		}
		fields = append(fields, Field{Tag: tagNum, Value: string(p[eq+1:])})
	}
	if len(fields) < 3 || fields[0].Tag != fixtag.BeginString || fields[1].Tag != fixtag.BodyLength {
		return nil, newDecodeError(KindMalformedFraming, "missing BeginString/BodyLength header")
	}
	last := fields[len(fields)-1]
	if last.Tag != fixtag.CheckSum {
		return nil, newDecodeError(KindMalformedFraming, "last field is not tag 10")
	}

	bodyStart := len(strconv.Itoa(fixtag.BeginString)) + 1 + len(fields[0].Value) + 1 +
		len(strconv.Itoa(fixtag.BodyLength)) + 1 + len(fields[1].Value) + 1
	bodyLen := sohBefore10 - bodyStart
	wantBodyLen, err := strconv.Atoi(fields[1].Value)
	if err != nil || bodyLen < 0 || wantBodyLen != bodyLen {
		return nil, newDecodeError(KindBadBodyLength, "header declares %s, actual body is %d bytes", fields[1].Value, bodyLen)
	}

	checksumRegion := raw[:sohBefore10+1]
	wantChecksum := Checksum(checksumRegion)
	gotChecksum, err := strconv.Atoi(last.Value)
	if err != nil || gotChecksum != wantChecksum {
		return nil, newDecodeError(KindBadChecksum, "header declares %s, computed %s", last.Value, FormatChecksum(wantChecksum))
	}

	if groupDict == nil {
		groupDict = DefaultGroups
	}

	msg := &Message{Tags: make(map[int]string), Groups: make(map[int][]GroupEntry)}
	body := fields[:len(fields)-1] // drop tag 10, already validated
	for i := 0; i < len(body); i++ {
		f := body[i]
		delimiter, isGroupCount := groupDict.delimiter(f.Tag)
		if !isGroupCount {
			msg.AddTag(f.Tag, f.Value)
			continue
		}
		count, err := strconv.Atoi(f.Value)
		if err != nil || count < 0 {
			msg.AddTag(f.Tag, f.Value)
			continue
		}
		entries := make([]GroupEntry, 0, count)
		i++
		for len(entries) < count && i < len(body) {
			if body[i].Tag != delimiter {
				break
			}
			var entry GroupEntry
			for i < len(body) && (len(entry) == 0 || (body[i].Tag != delimiter && groupDict.isMember(f.Tag, body[i].Tag))) {
				entry = append(entry, body[i])
				i++
			}
			entries = append(entries, entry)
		}
		i--
		msg.AddGroup(f.Tag, entries)
	}
	msg.Tags[fixtag.CheckSum] = last.Value

	return msg, nil
}
