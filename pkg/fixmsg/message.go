// Package fixmsg implements the FIX 4.2 tag=value codec: encoding a Message
// into wire bytes and decoding wire bytes back into a Message, including the
// repeating-group and PossDupFlag conventions the session layer depends on.
package fixmsg

import "github.com/seroze/fixengine/pkg/fixtag"

// headerTags are emitted in fixed position by Encode and never appear in a
// Message's body ordering.
var headerTags = map[int]bool{
	fixtag.BeginString:  true,
	fixtag.BodyLength:   true,
	fixtag.MsgType:      true,
	fixtag.SenderCompID: true,
	fixtag.TargetCompID: true,
	fixtag.MsgSeqNum:    true,
	fixtag.SendingTime:  true,
	fixtag.CheckSum:     true,
}

// Field is one tag=value pair within a repeating-group entry, kept in the
// order it was encountered so re-encoding reproduces a faithful wire form.
type Field struct {
	Tag   int
	Value string
}

// GroupEntry is one occurrence of a repeating group; its first Field is
// always the group's delimiter tag.
type GroupEntry []Field

// Message is a decoded or in-progress FIX message: a flat tag=value map plus
// any repeating groups, independent of wire byte order.
type Message struct {
	Tags   map[int]string
	Groups map[int][]GroupEntry

	bodyOrder  []int
	groupOrder []int
}

// NewMessage starts a new outbound message of the given MsgType (tag 35).
func NewMessage(msgType string) *Message {
	return &Message{
		Tags:   map[int]string{fixtag.MsgType: msgType},
		Groups: make(map[int][]GroupEntry),
	}
}

// AddTag sets a tag's value. Header/trailer tags (8, 9, 35, 49, 56, 34, 52,
// 10) are stored but do not affect body ordering — Encode places them by
// fixed position. A tag that doubles as a group count tag is excluded from
// the body walk; AddGroup controls where it and its entries are emitted.
func (m *Message) AddTag(tag int, value string) {
	if m.Tags == nil {
		m.Tags = make(map[int]string)
	}
	_, alreadyOrdered := m.Tags[tag]
	m.Tags[tag] = value
	if !headerTags[tag] && !alreadyOrdered {
		if _, isGroup := m.Groups[tag]; !isGroup {
			m.bodyOrder = append(m.bodyOrder, tag)
		}
	}
}

// GetTag returns a tag's value and whether it was present.
func (m *Message) GetTag(tag int) (string, bool) {
	v, ok := m.Tags[tag]
	return v, ok
}

// AddGroup sets the entries for a repeating group, replacing any prior
// entries under the same count tag. Entries are emitted, in order, right
// after all flat body tags.
func (m *Message) AddGroup(countTag int, entries []GroupEntry) {
	if m.Groups == nil {
		m.Groups = make(map[int][]GroupEntry)
	}
	if _, exists := m.Groups[countTag]; !exists {
		m.groupOrder = append(m.groupOrder, countTag)
	}
	m.Groups[countTag] = entries

	for i, t := range m.bodyOrder {
		if t == countTag {
			m.bodyOrder = append(m.bodyOrder[:i], m.bodyOrder[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy safe for independent mutation (used when
// injecting PossDupFlag into a stored outbound message before resend).
func (m *Message) Clone() *Message {
	c := &Message{
		Tags:       make(map[int]string, len(m.Tags)),
		Groups:     make(map[int][]GroupEntry, len(m.Groups)),
		bodyOrder:  append([]int(nil), m.bodyOrder...),
		groupOrder: append([]int(nil), m.groupOrder...),
	}
	for k, v := range m.Tags {
		c.Tags[k] = v
	}
	for k, entries := range m.Groups {
		cp := make([]GroupEntry, len(entries))
		for i, e := range entries {
			cp[i] = append(GroupEntry(nil), e...)
		}
		c.Groups[k] = cp
	}
	return c
}

// Equal compares two messages by content (tags and groups), ignoring the
// insertion order used only to drive deterministic re-encoding.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}
	if len(m.Tags) != len(other.Tags) {
		return false
	}
	for k, v := range m.Tags {
		if ov, ok := other.Tags[k]; !ok || ov != v {
			return false
		}
	}
	if len(m.Groups) != len(other.Groups) {
		return false
	}
	for k, entries := range m.Groups {
		oentries, ok := other.Groups[k]
		if !ok || len(entries) != len(oentries) {
			return false
		}
		for i, e := range entries {
			oe := oentries[i]
			if len(e) != len(oe) {
				return false
			}
			for j, f := range e {
				if oe[j] != f {
					return false
				}
			}
		}
	}
	return true
}
