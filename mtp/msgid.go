// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package mtp

// newMsgID allocates a strictly monotonic message id. The high 32 bits are
// the current time in server seconds, the low 32 bits the sub-second
// fraction. If the clock did not advance past the last issued id, the
// previous value plus four is used instead.
func (e *Encrypted) newMsgID() MsgID {
	now := e.clock.Now()
	secs := now.Unix() + e.timeOffset
	frac := uint64(now.Nanosecond()) << 32 / 1e9

	newMsgID := uint64(secs)<<32 | frac
	if e.lastMsgID >= newMsgID {
		newMsgID = e.lastMsgID + 4
	}

	e.lastMsgID = newMsgID
	return MsgID(newMsgID)
}

// seqNo returns the sequence number for the next message. Content-related
// messages consume two units and get the odd value in between; service
// messages reuse the current even value.
func (e *Encrypted) seqNo(contentRelated bool) int32 {
	if contentRelated {
		e.sequence += 2
		return e.sequence - 1
	}
	return e.sequence
}

// correctTimeOffset re-derives the server clock offset from a message id the
// server itself considers current.
func (e *Encrypted) correctTimeOffset(msgID int64) {
	now := e.clock.Now().Unix()
	correct := msgID >> 32
	e.timeOffset = correct - now
	e.log.Warn("Corrected server time offset", "timeOffset", e.timeOffset)
}
