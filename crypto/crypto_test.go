// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package crypto

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *AuthKey {
	t.Helper()
	data := make([]byte, AuthKeyLen)
	for i := range data {
		data[i] = byte(i)
	}
	key, err := NewAuthKey(data)
	require.NoError(t, err)
	return key
}

func TestNewAuthKey(t *testing.T) {
	testCases := map[string]struct {
		keyLen  int
		wantErr bool
	}{
		"valid":     {keyLen: AuthKeyLen},
		"too short": {keyLen: 255, wantErr: true},
		"too long":  {keyLen: 257, wantErr: true},
		"empty":     {keyLen: 0, wantErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			key, err := NewAuthKey(make([]byte, tc.keyLen))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key.Data(), AuthKeyLen)
		})
	}
}

func TestAuthKeyData(t *testing.T) {
	key := testKey(t)
	data := key.Data()
	data[0] ^= 0xff
	assert.NotEqual(t, data[0], key.Data()[0], "Data must return a copy")
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := testKey(t)

	testCases := map[string]struct {
		plaintextLen int
		sender       Side
	}{
		"client small":     {plaintextLen: 20, sender: SideClient},
		"client block":     {plaintextLen: 64, sender: SideClient},
		"client unaligned": {plaintextLen: 21, sender: SideClient},
		"client large":     {plaintextLen: 4096, sender: SideClient},
		"server small":     {plaintextLen: 20, sender: SideServer},
		"server large":     {plaintextLen: 10000, sender: SideServer},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			plaintext := bytes.Repeat([]byte{0x55}, tc.plaintextLen)
			payload, err := EncryptDataV2Side(plaintext, key, tc.sender)
			require.NoError(err)

			// key id, message key, then block-aligned ciphertext
			assert.Equal(key.ID(), binary.LittleEndian.Uint64(payload[:8]))
			assert.Zero((len(payload) - 24) % aes.BlockSize)

			// padding is 12 to 27 random bytes
			padLen := len(payload) - 24 - tc.plaintextLen
			assert.GreaterOrEqual(padLen, 12)
			assert.LessOrEqual(padLen, 27)

			decrypted, err := DecryptDataV2Side(payload, key, tc.sender)
			require.NoError(err)
			assert.Equal(plaintext, decrypted[:tc.plaintextLen])
		})
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same plaintext, different padding bytes.")

	first, err := EncryptDataV2(plaintext, key)
	require.NoError(t, err)
	second, err := EncryptDataV2(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := testKey(t)
	payload, err := EncryptDataV2Side([]byte("attack at dawn, via carrier pigeon"), key, SideServer)
	require.NoError(t, err)

	testCases := map[string]struct {
		mutate  func([]byte) []byte
		wantErr error
	}{
		"flipped ciphertext bit": {
			mutate: func(p []byte) []byte {
				p[len(p)-1] ^= 0x01
				return p
			},
			wantErr: ErrMessageKeyMismatch,
		},
		"flipped message key bit": {
			mutate: func(p []byte) []byte {
				p[8] ^= 0x01
				return p
			},
			wantErr: ErrMessageKeyMismatch,
		},
		"foreign key id": {
			mutate: func(p []byte) []byte {
				p[0] ^= 0x01
				return p
			},
			wantErr: ErrAuthKeyMismatch,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			mutated := tc.mutate(bytes.Clone(payload))
			_, err := DecryptDataV2Side(mutated, key, SideServer)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecryptRejectsWrongSide(t *testing.T) {
	key := testKey(t)
	payload, err := EncryptDataV2Side([]byte("direction matters"), key, SideClient)
	require.NoError(t, err)

	_, err = DecryptDataV2Side(payload, key, SideServer)
	assert.ErrorIs(t, err, ErrMessageKeyMismatch)
}

func TestDecryptRejectsMalformedPayload(t *testing.T) {
	key := testKey(t)

	testCases := map[string]struct {
		payloadLen int
	}{
		"empty":       {payloadLen: 0},
		"header only": {payloadLen: 24},
		"unaligned":   {payloadLen: 24 + 17},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := DecryptDataV2(make([]byte, tc.payloadLen), key)
			assert.Error(t, err)
		})
	}
}

func TestIGERoundtrip(t *testing.T) {
	block, err := aes.NewCipher(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	iv := bytes.Repeat([]byte{0x0a}, 32)
	plaintext := bytes.Repeat([]byte{0x42}, 64)

	ciphertext := igeEncrypt(block, iv, plaintext)
	assert.NotEqual(t, plaintext, ciphertext)
	// IGE chains both plaintext and ciphertext: equal input blocks must not
	// produce equal output blocks.
	assert.NotEqual(t, ciphertext[:16], ciphertext[16:32])

	decrypted := igeDecrypt(block, iv, ciphertext)
	assert.Equal(t, plaintext, decrypted)
}
