// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package mtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/edgelesssys/mtproto/crypto"
	"github.com/edgelesssys/mtproto/tl"
	"k8s.io/utils/clock"
)

const (
	// numFutureSalts is the number of salts requested when replenishing the
	// salt store.
	numFutureSalts = 64
	// saltUseDelay is the minimum age in seconds a newer salt must reach
	// before it supersedes the current one.
	saltUseDelay = 60

	// headerLen is the salt and session id prefix of a plaintext frame.
	headerLen = 8 + 8
	// containerHeaderLen is the frame region reserved for a container
	// header: msg_id, seq_no, size, constructor, count.
	containerHeaderLen = (8 + 4 + 4) + (4 + 4)
)

// Encrypted is a single-threaded MTProto session over an authorization key.
// The caller must serialize Push, Finalize and Deserialize.
type Encrypted struct {
	authKey *crypto.AuthKey
	log     *slog.Logger
	clock   clock.PassiveClock

	timeOffset int64
	salts      []tl.FutureSalt
	// startSaltTime anchors the server clock for salt-window checks:
	// the server time reported by future_salts and the local receive time.
	startSaltTime *saltTimeAnchor

	clientID  int64
	sequence  int32
	lastMsgID uint64

	pendingAck           []int64
	compressionThreshold int

	rpcResults []Result
	updates    [][]byte

	buffer   []byte
	msgCount int

	handlers map[uint32]func(tl.Message) error
}

type saltTimeAnchor struct {
	serverSecs int64
	localSecs  int64
}

// Option configures an Encrypted session.
type Option func(*Encrypted)

// WithTimeOffset seeds the session with a known server clock offset in
// seconds, typically the one produced by the authentication handshake.
func WithTimeOffset(seconds int64) Option {
	return func(e *Encrypted) { e.timeOffset = seconds }
}

// WithFirstSalt seeds the session with the salt produced by the
// authentication handshake.
func WithFirstSalt(salt uint64) Option {
	return func(e *Encrypted) {
		e.salts = []tl.FutureSalt{{ValidSince: 0, ValidUntil: 0x7FFFFFFF, Salt: salt}}
	}
}

// WithCompressionThreshold sets the body size in bytes from which outgoing
// requests are considered for gzip compression.
func WithCompressionThreshold(bytes int) Option {
	return func(e *Encrypted) { e.compressionThreshold = bytes }
}

// WithoutCompression disables outgoing gzip compression.
func WithoutCompression() Option {
	return func(e *Encrypted) { e.compressionThreshold = -1 }
}

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Encrypted) { e.log = log }
}

// WithClock sets the session's time source. Intended for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(e *Encrypted) { e.clock = c }
}

// WithSessionID fixes the session id instead of drawing a random one.
// Intended for tests and deterministic replay.
func WithSessionID(id int64) Option {
	return func(e *Encrypted) { e.clientID = id }
}

// NewEncrypted creates a session over the given authorization key.
func NewEncrypted(authKey *crypto.AuthKey, opts ...Option) *Encrypted {
	e := &Encrypted{
		authKey:              authKey,
		log:                  slog.Default(),
		clock:                clock.RealClock{},
		salts:                []tl.FutureSalt{{ValidSince: 0, ValidUntil: 0x7FFFFFFF, Salt: 0}},
		clientID:             randomClientID(),
		compressionThreshold: tl.DefaultCompressionThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.handlers = map[uint32]func(tl.Message) error{
		tl.IDRPCResult:         e.handleRPCResult,
		tl.IDMsgsAck:           e.handleAck,
		tl.IDBadMsgNotify:      e.handleBadNotification,
		tl.IDBadServerSalt:     e.handleBadNotification,
		tl.IDMsgsStateReq:      e.handleStateReq,
		tl.IDMsgsStateInfo:     e.handleStateInfo,
		tl.IDMsgsAllInfo:       e.handleMsgsAllInfo,
		tl.IDMsgDetailedInfo:   e.handleDetailedInfo,
		tl.IDMsgNewDetailed:    e.handleDetailedInfo,
		tl.IDMsgResendReq:      e.handleMsgResend,
		tl.IDFutureSalt:        e.handleFutureSalt,
		tl.IDFutureSalts:       e.handleFutureSalts,
		tl.IDPong:              e.handlePong,
		tl.IDDestroySessionOk:  e.handleDestroySession,
		tl.IDDestroySessionNo:  e.handleDestroySession,
		tl.IDNewSessionCreated: e.handleNewSessionCreated,
		tl.IDMsgContainer:      e.handleContainer,
		tl.IDGzipPacked:        e.handleGzipPacked,
		tl.IDHTTPWait:          e.handleHTTPWait,
	}
	return e
}

func randomClientID() int64 {
	var buf [8]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		// The system entropy source is gone; nothing sensible to do.
		panic(fmt.Sprintf("reading random session id: %v", err))
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// AuthKey returns a copy of the 256-byte authorization key.
func (e *Encrypted) AuthKey() []byte {
	return e.authKey.Data()
}

// Push stages a request body for the next outgoing frame. The body must be
// TL-serialized: its length must be divisible by four. ErrBufferFull means
// the frame is full; finalize, send, and push again.
func (e *Encrypted) Push(request []byte) (MsgID, error) {
	if len(e.buffer) == 0 {
		// Reserve space for the header written by Finalize.
		e.buffer = append(e.buffer, make([]byte, headerLen+containerHeaderLen)...)
	}

	if len(e.pendingAck) > 0 {
		e.serializeMsg(tl.MsgsAck{MsgIDs: e.pendingAck}.Bytes(), false)
		e.pendingAck = nil
	}

	e.rotateSalts()

	if e.msgCount == tl.ContainerMaxLength {
		return 0, ErrBufferFull
	}
	if len(request)%4 != 0 {
		return 0, ErrMisalignedRequest
	}
	if len(request)+tl.MessageSizeOverhead > tl.ContainerMaxSize {
		return 0, ErrRequestTooLarge
	}

	body := request
	if e.compressionThreshold >= 0 && len(request) >= e.compressionThreshold {
		compressed := tl.GzipPacked{PackedData: tl.GzipCompress(request)}.Bytes()
		if len(compressed) < len(request) {
			body = compressed
		}
	}

	if len(e.buffer)+len(body)+tl.MessageSizeOverhead >= tl.ContainerMaxSize {
		return 0, ErrBufferFull
	}

	messagesPushed.Inc()
	return e.serializeMsg(body, true), nil
}

// serializeMsg appends one framed message to the staged buffer and returns
// its id.
func (e *Encrypted) serializeMsg(body []byte, contentRelated bool) MsgID {
	msgID := e.newMsgID()
	seqNo := e.seqNo(contentRelated)
	e.buffer = binary.LittleEndian.AppendUint64(e.buffer, uint64(msgID))
	e.buffer = binary.LittleEndian.AppendUint32(e.buffer, uint32(seqNo))
	e.buffer = binary.LittleEndian.AppendUint32(e.buffer, uint32(len(body)))
	e.buffer = append(e.buffer, body...)
	e.msgCount++
	return msgID
}

// finalizePlain assembles the staged messages into one plaintext frame:
// header, then either the single message or a freshly-identified container.
func (e *Encrypted) finalizePlain() []byte {
	if e.msgCount == 0 {
		return nil
	}

	if e.msgCount == 1 {
		e.buffer = e.buffer[containerHeaderLen:]
	}

	var salt uint64
	if len(e.salts) > 0 {
		salt = e.salts[len(e.salts)-1].Salt
	}
	binary.LittleEndian.PutUint64(e.buffer[0:8], salt)
	binary.LittleEndian.PutUint64(e.buffer[8:16], uint64(e.clientID))

	if e.msgCount != 1 {
		hdr := e.buffer[headerLen : headerLen+containerHeaderLen]
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(e.newMsgID()))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(e.seqNo(false)))
		binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(e.buffer)-headerLen-containerHeaderLen+8))
		binary.LittleEndian.PutUint32(hdr[16:20], tl.IDMsgContainer)
		binary.LittleEndian.PutUint32(hdr[20:24], uint32(e.msgCount))
		containersPacked.Inc()
	}

	e.msgCount = 0
	result := e.buffer
	e.buffer = nil
	return result
}

// Finalize drains the staged messages into one encrypted payload. It returns
// an empty slice if nothing is staged.
func (e *Encrypted) Finalize() ([]byte, error) {
	plaintext := e.finalizePlain()
	if len(plaintext) == 0 {
		return nil, nil
	}
	payload, err := crypto.EncryptDataV2(plaintext, e.authKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting frame: %w", err)
	}
	framesFinalized.Inc()
	return payload, nil
}

// Deserialize consumes one incoming encrypted payload, dispatches its
// messages, and drains the accumulated results and updates.
func (e *Encrypted) Deserialize(payload []byte) (Deserialization, error) {
	if err := tl.CheckMessageBuffer(payload); err != nil {
		return Deserialization{}, err
	}

	plaintext, err := crypto.DecryptDataV2(payload, e.authKey)
	if err != nil {
		return Deserialization{}, fmt.Errorf("decrypting frame: %w", err)
	}
	if len(plaintext) < headerLen {
		return Deserialization{}, fmt.Errorf("decrypted frame of %d bytes is too small", len(plaintext))
	}

	// The inbound salt is not validated; the server vouches for it by
	// deciding to answer at all.
	clientID := int64(binary.LittleEndian.Uint64(plaintext[8:16]))
	if clientID != e.clientID {
		return Deserialization{}, ErrWrongSession
	}

	message, err := tl.ParseMessage(tl.NewReader(plaintext[headerLen:]))
	if err != nil {
		return Deserialization{}, fmt.Errorf("parsing frame message: %w", err)
	}
	if err := e.processMessage(message); err != nil {
		return Deserialization{}, err
	}

	result := Deserialization{RPCResults: e.rpcResults, Updates: e.updates}
	e.rpcResults = nil
	e.updates = nil
	return result, nil
}
