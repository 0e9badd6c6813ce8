// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

// Package mtp implements the encrypted MTProto session layer. A session
// turns opaque request bodies into framed, encrypted, acknowledged and
// time-synchronized messages, and parses incoming encrypted payloads into
// RPC results and update streams.
package mtp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MsgID identifies one message within a session. The high 32 bits are the
// send time in server seconds; the low 32 bits increase monotonically.
type MsgID uint64

// Result is one drained rpc_results entry: the reply body or the error the
// server produced for the request identified by MsgID. Exactly one of Body
// and Err is set.
type Result struct {
	MsgID MsgID
	Body  []byte
	Err   error
}

// Deserialization is the batch of results and updates accumulated since the
// previous Deserialize call.
type Deserialization struct {
	RPCResults []Result
	Updates    [][]byte
}

// Mtp is the session contract between the transport loop and the session
// layer.
type Mtp interface {
	// Push stages a request body for the next outgoing frame and returns
	// its assigned message id. ErrBufferFull signals backpressure: finalize,
	// send, and push again.
	Push(request []byte) (MsgID, error)
	// Finalize drains the staged messages into one encrypted payload ready
	// for the transport. It returns an empty slice if nothing is staged.
	Finalize() ([]byte, error)
	// Deserialize consumes one incoming encrypted payload and returns the
	// accumulated results and updates. Any returned error poisons the
	// session.
	Deserialize(payload []byte) (Deserialization, error)
	// AuthKey returns a copy of the 256-byte authorization key.
	AuthKey() []byte
}

var (
	// ErrBufferFull reports that the staged frame has no room for another
	// message. It is backpressure, not failure: the caller must finalize and
	// retry the push.
	ErrBufferFull = errors.New("outgoing buffer is full")
	// ErrMisalignedRequest reports a request body whose length is not
	// divisible by four.
	ErrMisalignedRequest = errors.New("request length must be divisible by 4")
	// ErrRequestTooLarge reports a request body that cannot fit any frame.
	ErrRequestTooLarge = errors.New("request does not fit in a single frame")
	// ErrWrongSession reports an inbound payload addressed to a different
	// session id. The session must be discarded.
	ErrWrongSession = errors.New("wrong session id")
)

// RPCError is a server-originated error reply to a request. Telegram encodes
// a variable argument into the message tail, as in FLOOD_WAIT_23; Name and
// Argument carry the split form when present.
type RPCError struct {
	Code     int32
	Message  string
	Name     string
	Argument int32
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// newRPCError builds an RPCError from the wire code and message, splitting a
// trailing numeric argument off the message if there is one.
func newRPCError(code int32, message string) *RPCError {
	e := &RPCError{Code: code, Message: message, Name: message}
	if idx := strings.LastIndexByte(message, '_'); idx >= 0 {
		if arg, err := strconv.ParseInt(message[idx+1:], 10, 32); err == nil {
			e.Name = message[:idx]
			e.Argument = int32(arg)
		}
	}
	return e
}

// BadMessageError is the server's bad_msg_notification verdict for a
// request. The code identifies the defect; codes 16, 17, 32 and 33 also
// trigger internal session corrections.
type BadMessageError struct {
	Code int32
}

func (e *BadMessageError) Error() string {
	return fmt.Sprintf("bad message: %d", e.Code)
}
