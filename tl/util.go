// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package tl

import (
	"encoding/binary"
	"fmt"
)

const (
	// ContainerMaxLength is the maximum number of messages per container.
	ContainerMaxLength = 100
	// ContainerMaxSize is the maximum serialized container size in bytes.
	ContainerMaxSize = 1044456 - 8
	// MessageSizeOverhead is the per-message allowance added to a body's
	// length in the session's size checks. The framing written for each
	// message (msg_id, seq_no, length) is 16 bytes, so it is not the full
	// framing cost.
	MessageSizeOverhead = 12
	// DefaultCompressionThreshold is the body size from which outgoing
	// requests are considered for gzip compression.
	DefaultCompressionThreshold = 512
)

// TransportError is a transport-level rejection delivered as a bare 4-byte
// frame holding a negative HTTP-like status code.
type TransportError struct {
	Code int32
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d", e.Code)
}

// CheckMessageBuffer validates the outer shape of an inbound payload before
// decryption. A 4-byte frame is a transport error; anything shorter than 20
// bytes is rejected. Block alignment and the minimum encrypted size are left
// to decryption.
func CheckMessageBuffer(payload []byte) error {
	if len(payload) == 4 {
		return &TransportError{Code: int32(binary.LittleEndian.Uint32(payload))}
	}
	if len(payload) < 20 {
		return fmt.Errorf("server payload of %d bytes is too small", len(payload))
	}
	return nil
}

// MessageRequiresAck reports whether a received message must be acknowledged.
// Content-related messages carry an odd sequence number.
func MessageRequiresAck(m Message) bool {
	return m.SeqNo%2 == 1
}
