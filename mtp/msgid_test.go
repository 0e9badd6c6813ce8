// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package mtp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMsgIDIsMonotonic(t *testing.T) {
	assert := assert.New(t)

	session, fc := newTestSession(t, testAuthKey(t))

	// With a frozen clock every id is the previous one plus four.
	first := session.newMsgID()
	second := session.newMsgID()
	third := session.newMsgID()
	assert.Equal(first+4, second)
	assert.Equal(second+4, third)

	// An advancing clock wins over the +4 rule.
	fc.SetTime(fc.Now().Add(2 * time.Second))
	fourth := session.newMsgID()
	assert.Greater(fourth, third)
	assert.Equal(fc.Now().Unix(), int64(fourth>>32))
}

func TestNewMsgIDAppliesTimeOffset(t *testing.T) {
	session, fc := newTestSession(t, testAuthKey(t), WithTimeOffset(500))

	id := session.newMsgID()
	assert.Equal(t, fc.Now().Unix()+500, int64(id>>32))
}

func TestNewMsgIDEncodesSubSeconds(t *testing.T) {
	session, fc := newTestSession(t, testAuthKey(t))
	fc.SetTime(time.Unix(fc.Now().Unix(), 500_000_000))

	id := session.newMsgID()
	assert.Equal(t, fc.Now().Unix(), int64(id>>32))
	// Half a second is half the 32-bit fraction range.
	assert.InDelta(uint64(1)<<31, uint64(id)&0xFFFFFFFF, 2)
}

func TestSeqNoParity(t *testing.T) {
	assert := assert.New(t)

	session, _ := newTestSession(t, testAuthKey(t))

	assert.Equal(int32(1), session.seqNo(true))
	assert.Equal(int32(2), session.seqNo(false))
	assert.Equal(int32(3), session.seqNo(true))
	assert.Equal(int32(4), session.seqNo(false))
	assert.Equal(int32(4), session.seqNo(false), "service messages do not consume sequence")
	assert.Equal(int32(5), session.seqNo(true))
}

func TestNewRPCError(t *testing.T) {
	testCases := map[string]struct {
		code         int32
		message      string
		wantName     string
		wantArgument int32
	}{
		"with argument": {
			code: 420, message: "FLOOD_WAIT_23",
			wantName: "FLOOD_WAIT", wantArgument: 23,
		},
		"without argument": {
			code: 401, message: "AUTH_KEY_UNREGISTERED",
			wantName: "AUTH_KEY_UNREGISTERED",
		},
		"no underscore": {
			code: 500, message: "INTERNAL",
			wantName: "INTERNAL",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			rpcErr := newRPCError(tc.code, tc.message)
			require.Equal(t, tc.code, rpcErr.Code)
			assert.Equal(t, tc.message, rpcErr.Message)
			assert.Equal(t, tc.wantName, rpcErr.Name)
			assert.Equal(t, tc.wantArgument, rpcErr.Argument)
		})
	}
}
