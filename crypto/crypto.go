// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

// Package crypto implements the MTProto 2.0 payload encryption scheme: a
// SHA-256 based key derivation over a shared 256-byte auth key, AES-256 in
// IGE mode, and a message key that doubles as authentication tag. Messages
// from client and server derive their keys from different regions of the
// auth key; the Side type selects the region.
package crypto

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// AuthKeyLen is the length of the shared authorization key in bytes.
const AuthKeyLen = 256

const (
	keyIDLen  = 8
	msgKeyLen = 16
)

// ErrMessageKeyMismatch is returned when the message key of a decrypted
// payload does not match its contents.
var ErrMessageKeyMismatch = errors.New("message key mismatch")

// ErrAuthKeyMismatch is returned when a payload was encrypted under a
// different auth key.
var ErrAuthKeyMismatch = errors.New("auth key mismatch")

// Side selects the key-derivation region of the v2 scheme. Payloads sent by
// the client and by the server use different regions of the auth key.
type Side int

const (
	// SideClient derives keys for payloads sent by the client.
	SideClient Side = 0
	// SideServer derives keys for payloads sent by the server.
	SideServer Side = 8
)

// AuthKey is the 256-byte shared secret negotiated by the authentication
// handshake, together with its derived key id.
type AuthKey struct {
	data  [AuthKeyLen]byte
	keyID uint64
}

// NewAuthKey creates an AuthKey from the raw 256-byte secret.
func NewAuthKey(data []byte) (*AuthKey, error) {
	if len(data) != AuthKeyLen {
		return nil, fmt.Errorf("auth key must be %d bytes, got %d", AuthKeyLen, len(data))
	}
	k := &AuthKey{}
	copy(k.data[:], data)
	digest := sha1.Sum(data)
	k.keyID = binary.LittleEndian.Uint64(digest[12:20])
	return k, nil
}

// Data returns a copy of the raw key material.
func (k *AuthKey) Data() []byte {
	out := make([]byte, AuthKeyLen)
	copy(out, k.data[:])
	return out
}

// ID returns the key id: the low 8 bytes of the key's SHA-1 digest.
func (k *AuthKey) ID() uint64 {
	return k.keyID
}

// EncryptDataV2 encrypts a client-to-server plaintext, prepending key id and
// message key.
func EncryptDataV2(plaintext []byte, key *AuthKey) ([]byte, error) {
	return EncryptDataV2Side(plaintext, key, SideClient)
}

// DecryptDataV2 decrypts a server-to-client payload and verifies its message
// key.
func DecryptDataV2(payload []byte, key *AuthKey) ([]byte, error) {
	return DecryptDataV2Side(payload, key, SideServer)
}

// EncryptDataV2Side encrypts plaintext as if sent by the given side.
// The plaintext is padded with 12 to 27 random bytes so that the padded
// length is a multiple of the AES block size.
func EncryptDataV2Side(plaintext []byte, key *AuthKey, sender Side) ([]byte, error) {
	padLen := 12 + (16-(len(plaintext)+12)%16)%16
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	if _, err := io.ReadFull(rand.Reader, padded[len(plaintext):]); err != nil {
		return nil, fmt.Errorf("generating padding: %w", err)
	}

	msgKey := messageKey(key, padded, sender)
	aesKey, aesIV := aesParams(key, msgKey, sender)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, keyIDLen+msgKeyLen+len(padded))
	out = binary.LittleEndian.AppendUint64(out, key.keyID)
	out = append(out, msgKey...)
	out = append(out, igeEncrypt(block, aesIV, padded)...)
	return out, nil
}

// DecryptDataV2Side decrypts a payload sent by the given side and verifies
// its message key. The returned plaintext retains the sender's padding;
// callers are expected to honor embedded length fields.
func DecryptDataV2Side(payload []byte, key *AuthKey, sender Side) ([]byte, error) {
	if len(payload) < keyIDLen+msgKeyLen+aes.BlockSize {
		return nil, fmt.Errorf("encrypted payload of %d bytes is too small", len(payload))
	}
	if (len(payload)-keyIDLen-msgKeyLen)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("encrypted payload of %d bytes is not block aligned", len(payload))
	}
	if binary.LittleEndian.Uint64(payload[:keyIDLen]) != key.keyID {
		return nil, ErrAuthKeyMismatch
	}

	msgKey := payload[keyIDLen : keyIDLen+msgKeyLen]
	aesKey, aesIV := aesParams(key, msgKey, sender)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	plaintext := igeDecrypt(block, aesIV, payload[keyIDLen+msgKeyLen:])

	if subtle.ConstantTimeCompare(msgKey, messageKey(key, plaintext, sender)) != 1 {
		return nil, ErrMessageKeyMismatch
	}
	return plaintext, nil
}

// messageKey computes the middle 16 bytes of SHA256(auth_key fragment ||
// padded plaintext). The fragment starts at byte 88 offset by the sender
// side.
func messageKey(key *AuthKey, padded []byte, sender Side) []byte {
	h := sha256.New()
	h.Write(key.data[88+int(sender) : 88+int(sender)+32])
	h.Write(padded)
	digest := h.Sum(nil)
	return digest[8:24]
}

// aesParams derives the AES key and IV from the message key and the sender's
// auth key regions.
func aesParams(key *AuthKey, msgKey []byte, sender Side) (aesKey, aesIV []byte) {
	x := int(sender)

	ha := sha256.New()
	ha.Write(msgKey)
	ha.Write(key.data[x : x+36])
	a := ha.Sum(nil)

	hb := sha256.New()
	hb.Write(key.data[40+x : 40+x+36])
	hb.Write(msgKey)
	b := hb.Sum(nil)

	aesKey = make([]byte, 0, 32)
	aesKey = append(aesKey, a[0:8]...)
	aesKey = append(aesKey, b[8:24]...)
	aesKey = append(aesKey, a[24:32]...)

	aesIV = make([]byte, 0, 32)
	aesIV = append(aesIV, b[0:8]...)
	aesIV = append(aesIV, a[8:24]...)
	aesIV = append(aesIV, b[24:32]...)
	return aesKey, aesIV
}
