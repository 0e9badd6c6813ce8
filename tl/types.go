// Copyright (c) Edgeless Systems GmbH
// SPDX-License-Identifier: GPL-3.0-only

package tl

import (
	"encoding/binary"
	"fmt"
)

// Constructor ids of the MTProto service schema and of the function calls the
// session layer emits itself. The values are fixed by the protocol.
const (
	IDVector            uint32 = 0x1cb5c415
	IDMsgContainer      uint32 = 0x73f1f8dc
	IDRPCResult         uint32 = 0xf35c6d01
	IDRPCError          uint32 = 0x2144ca19
	IDRPCAnswerUnknown  uint32 = 0x5e2ad36e
	IDRPCAnswerDroppedR uint32 = 0xcd78e586
	IDRPCAnswerDropped  uint32 = 0xa43ad8b7
	IDMsgsAck           uint32 = 0x62d6b459
	IDBadMsgNotify      uint32 = 0xa7eff811
	IDBadServerSalt     uint32 = 0xedab447b
	IDMsgsStateReq      uint32 = 0xda69fb52
	IDMsgsStateInfo     uint32 = 0x04deb57d
	IDMsgsAllInfo       uint32 = 0x8cc0d131
	IDMsgDetailedInfo   uint32 = 0x276d3ec6
	IDMsgNewDetailed    uint32 = 0x809db6df
	IDMsgResendReq      uint32 = 0x7d861a08
	IDFutureSalt        uint32 = 0x0949d9dc
	IDFutureSalts       uint32 = 0xae500895
	IDPong              uint32 = 0x347773c5
	IDDestroySessionOk  uint32 = 0xe22045fc
	IDDestroySessionNo  uint32 = 0x62d350c9
	IDNewSessionCreated uint32 = 0x9ec20908
	IDGzipPacked        uint32 = 0x3072cfa1
	IDHTTPWait          uint32 = 0x9299359f

	IDPing           uint32 = 0x7abe77ec
	IDGetFutureSalts uint32 = 0xb921bd04
)

// Constructor ids of the update-bearing payloads. Any inbound body carrying
// one of these is a broadcast update rather than an RPC reply.
const (
	IDUpdatesTooLong         uint32 = 0xe317af7e
	IDUpdateShortMessage     uint32 = 0x313bc7f8
	IDUpdateShortChatMessage uint32 = 0x4d6deea5
	IDUpdateShort            uint32 = 0x78d4dec1
	IDUpdatesCombined        uint32 = 0x725b04c3
	IDUpdates                uint32 = 0x74ae4240
	IDUpdateShortSentMessage uint32 = 0x9015e101
)

// IsUpdate reports whether ctor identifies an update-bearing payload.
func IsUpdate(ctor uint32) bool {
	switch ctor {
	case IDUpdatesTooLong, IDUpdateShortMessage, IDUpdateShortChatMessage,
		IDUpdateShort, IDUpdatesCombined, IDUpdates, IDUpdateShortSentMessage:
		return true
	}
	return false
}

var constructorNames = map[uint32]string{
	IDVector:                 "vector",
	IDMsgContainer:           "msg_container",
	IDRPCResult:              "rpc_result",
	IDRPCError:               "rpc_error",
	IDRPCAnswerUnknown:       "rpc_answer_unknown",
	IDRPCAnswerDroppedR:      "rpc_answer_dropped_running",
	IDRPCAnswerDropped:       "rpc_answer_dropped",
	IDMsgsAck:                "msgs_ack",
	IDBadMsgNotify:           "bad_msg_notification",
	IDBadServerSalt:          "bad_server_salt",
	IDMsgsStateReq:           "msgs_state_req",
	IDMsgsStateInfo:          "msgs_state_info",
	IDMsgsAllInfo:            "msgs_all_info",
	IDMsgDetailedInfo:        "msg_detailed_info",
	IDMsgNewDetailed:         "msg_new_detailed_info",
	IDMsgResendReq:           "msg_resend_req",
	IDFutureSalt:             "future_salt",
	IDFutureSalts:            "future_salts",
	IDPong:                   "pong",
	IDDestroySessionOk:       "destroy_session_ok",
	IDDestroySessionNo:       "destroy_session_none",
	IDNewSessionCreated:      "new_session_created",
	IDGzipPacked:             "gzip_packed",
	IDHTTPWait:               "http_wait",
	IDPing:                   "ping",
	IDGetFutureSalts:         "get_future_salts",
	IDUpdatesTooLong:         "updates_too_long",
	IDUpdateShortMessage:     "update_short_message",
	IDUpdateShortChatMessage: "update_short_chat_message",
	IDUpdateShort:            "update_short",
	IDUpdatesCombined:        "updates_combined",
	IDUpdates:                "updates",
	IDUpdateShortSentMessage: "update_short_sent_message",
}

// ConstructorName returns the schema name of a known constructor id, or
// "unknown" for ids outside the service schema.
func ConstructorName(ctor uint32) string {
	if name, ok := constructorNames[ctor]; ok {
		return name
	}
	return "unknown"
}

// Message is one framed MTProto message: identity, sequence number, and the
// TL-serialized body.
type Message struct {
	MsgID int64
	SeqNo int32
	Body  []byte
}

// ParseMessage reads one message frame from r. The body length must fit the
// remaining buffer; trailing bytes (encryption padding) are left unread.
func ParseMessage(r *Reader) (Message, error) {
	msgID, err := r.Int64()
	if err != nil {
		return Message{}, fmt.Errorf("reading msg_id: %w", err)
	}
	seqNo, err := r.Int32()
	if err != nil {
		return Message{}, fmt.Errorf("reading seq_no: %w", err)
	}
	length, err := r.Int32()
	if err != nil {
		return Message{}, fmt.Errorf("reading message length: %w", err)
	}
	if length < 0 {
		return Message{}, fmt.Errorf("negative message length %d", length)
	}
	body, err := r.Bytes(int(length))
	if err != nil {
		return Message{}, fmt.Errorf("reading message body of %d bytes: %w", length, err)
	}
	return Message{MsgID: msgID, SeqNo: seqNo, Body: body}, nil
}

// ParseContainer parses a msg_container body into its inner messages.
func ParseContainer(body []byte) ([]Message, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgContainer); err != nil {
		return nil, err
	}
	count, err := r.Int32()
	if err != nil {
		return nil, err
	}
	if count < 0 || r.Len() < int(count)*16 {
		return nil, fmt.Errorf("container declares %d messages in %d bytes", count, r.Len())
	}
	messages := make([]Message, 0, count)
	for i := int32(0); i < count; i++ {
		msg, err := ParseMessage(r)
		if err != nil {
			return nil, fmt.Errorf("parsing container message %d: %w", i, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// RPCResult pairs a request's msg_id with its raw reply body.
type RPCResult struct {
	ReqMsgID int64
	Result   []byte
}

// ParseRPCResult parses an rpc_result body. The reply consumes the remainder
// of the buffer.
func ParseRPCResult(body []byte) (RPCResult, error) {
	r := NewReader(body)
	if err := expectID(r, IDRPCResult); err != nil {
		return RPCResult{}, err
	}
	reqMsgID, err := r.Int64()
	if err != nil {
		return RPCResult{}, err
	}
	result, err := r.Bytes(r.Len())
	if err != nil {
		return RPCResult{}, err
	}
	return RPCResult{ReqMsgID: reqMsgID, Result: result}, nil
}

// RPCError is the server's error reply to a request.
type RPCError struct {
	Code    int32
	Message []byte
}

// ParseRPCError parses an rpc_error body.
func ParseRPCError(body []byte) (RPCError, error) {
	r := NewReader(body)
	if err := expectID(r, IDRPCError); err != nil {
		return RPCError{}, err
	}
	code, err := r.Int32()
	if err != nil {
		return RPCError{}, err
	}
	message, err := r.String()
	if err != nil {
		return RPCError{}, err
	}
	return RPCError{Code: code, Message: message}, nil
}

// MsgsAck acknowledges receipt of the listed messages.
type MsgsAck struct {
	MsgIDs []int64
}

// Bytes serializes the acknowledgement.
func (a MsgsAck) Bytes() []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 12+8*len(a.MsgIDs)), IDMsgsAck)
	return AppendVectorLong(b, a.MsgIDs)
}

// ParseMsgsAck parses a msgs_ack body.
func ParseMsgsAck(body []byte) (MsgsAck, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgsAck); err != nil {
		return MsgsAck{}, err
	}
	ids, err := r.VectorLong()
	if err != nil {
		return MsgsAck{}, err
	}
	return MsgsAck{MsgIDs: ids}, nil
}

// BadMsgNotification reports a malformed or out-of-window message.
type BadMsgNotification struct {
	BadMsgID    int64
	BadMsgSeqNo int32
	ErrorCode   int32
}

// ParseBadMsgNotification parses a bad_msg_notification body.
func ParseBadMsgNotification(body []byte) (BadMsgNotification, error) {
	r := NewReader(body)
	if err := expectID(r, IDBadMsgNotify); err != nil {
		return BadMsgNotification{}, err
	}
	var n BadMsgNotification
	var err error
	if n.BadMsgID, err = r.Int64(); err != nil {
		return BadMsgNotification{}, err
	}
	if n.BadMsgSeqNo, err = r.Int32(); err != nil {
		return BadMsgNotification{}, err
	}
	if n.ErrorCode, err = r.Int32(); err != nil {
		return BadMsgNotification{}, err
	}
	return n, nil
}

// BadServerSalt reports a message sent under a stale salt and carries the
// replacement.
type BadServerSalt struct {
	BadMsgID      int64
	BadMsgSeqNo   int32
	ErrorCode     int32
	NewServerSalt uint64
}

// ParseBadServerSalt parses a bad_server_salt body.
func ParseBadServerSalt(body []byte) (BadServerSalt, error) {
	r := NewReader(body)
	if err := expectID(r, IDBadServerSalt); err != nil {
		return BadServerSalt{}, err
	}
	var s BadServerSalt
	var err error
	if s.BadMsgID, err = r.Int64(); err != nil {
		return BadServerSalt{}, err
	}
	if s.BadMsgSeqNo, err = r.Int32(); err != nil {
		return BadServerSalt{}, err
	}
	if s.ErrorCode, err = r.Int32(); err != nil {
		return BadServerSalt{}, err
	}
	if s.NewServerSalt, err = r.Uint64(); err != nil {
		return BadServerSalt{}, err
	}
	return s, nil
}

// FutureSalt is a server salt with its validity window.
type FutureSalt struct {
	ValidSince int32
	ValidUntil int32
	Salt       uint64
}

func parseFutureSalt(r *Reader) (FutureSalt, error) {
	var s FutureSalt
	var err error
	if s.ValidSince, err = r.Int32(); err != nil {
		return FutureSalt{}, err
	}
	if s.ValidUntil, err = r.Int32(); err != nil {
		return FutureSalt{}, err
	}
	if s.Salt, err = r.Uint64(); err != nil {
		return FutureSalt{}, err
	}
	return s, nil
}

// ParseFutureSalt parses a boxed future_salt body.
func ParseFutureSalt(body []byte) (FutureSalt, error) {
	r := NewReader(body)
	if err := expectID(r, IDFutureSalt); err != nil {
		return FutureSalt{}, err
	}
	return parseFutureSalt(r)
}

// FutureSalts is the reply to get_future_salts.
type FutureSalts struct {
	ReqMsgID int64
	Now      int32
	Salts    []FutureSalt
}

// ParseFutureSalts parses a future_salts body. The salts vector is bare.
func ParseFutureSalts(body []byte) (FutureSalts, error) {
	r := NewReader(body)
	if err := expectID(r, IDFutureSalts); err != nil {
		return FutureSalts{}, err
	}
	var fs FutureSalts
	var err error
	if fs.ReqMsgID, err = r.Int64(); err != nil {
		return FutureSalts{}, err
	}
	if fs.Now, err = r.Int32(); err != nil {
		return FutureSalts{}, err
	}
	count, err := r.Int32()
	if err != nil {
		return FutureSalts{}, err
	}
	if count < 0 || r.Len() < int(count)*16 {
		return FutureSalts{}, fmt.Errorf("future_salts declares %d salts in %d bytes", count, r.Len())
	}
	fs.Salts = make([]FutureSalt, 0, count)
	for i := int32(0); i < count; i++ {
		salt, err := parseFutureSalt(r)
		if err != nil {
			return FutureSalts{}, err
		}
		fs.Salts = append(fs.Salts, salt)
	}
	return fs, nil
}

// Pong is the reply to a ping.
type Pong struct {
	MsgID  int64
	PingID int64
}

// ParsePong parses a pong body.
func ParsePong(body []byte) (Pong, error) {
	r := NewReader(body)
	if err := expectID(r, IDPong); err != nil {
		return Pong{}, err
	}
	var p Pong
	var err error
	if p.MsgID, err = r.Int64(); err != nil {
		return Pong{}, err
	}
	if p.PingID, err = r.Int64(); err != nil {
		return Pong{}, err
	}
	return p, nil
}

// NewSessionCreated notifies the client that the server opened a fresh
// session, carrying the salt to use from now on.
type NewSessionCreated struct {
	FirstMsgID int64
	UniqueID   int64
	ServerSalt uint64
}

// ParseNewSessionCreated parses a new_session_created body.
func ParseNewSessionCreated(body []byte) (NewSessionCreated, error) {
	r := NewReader(body)
	if err := expectID(r, IDNewSessionCreated); err != nil {
		return NewSessionCreated{}, err
	}
	var n NewSessionCreated
	var err error
	if n.FirstMsgID, err = r.Int64(); err != nil {
		return NewSessionCreated{}, err
	}
	if n.UniqueID, err = r.Int64(); err != nil {
		return NewSessionCreated{}, err
	}
	if n.ServerSalt, err = r.Uint64(); err != nil {
		return NewSessionCreated{}, err
	}
	return n, nil
}

// GzipPacked wraps a gzip-compressed TL payload.
type GzipPacked struct {
	PackedData []byte
}

// Bytes serializes the envelope.
func (g GzipPacked) Bytes() []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 8+len(g.PackedData)), IDGzipPacked)
	return AppendString(b, g.PackedData)
}

// ParseGzipPacked parses a gzip_packed body.
func ParseGzipPacked(body []byte) (GzipPacked, error) {
	r := NewReader(body)
	if err := expectID(r, IDGzipPacked); err != nil {
		return GzipPacked{}, err
	}
	data, err := r.String()
	if err != nil {
		return GzipPacked{}, err
	}
	return GzipPacked{PackedData: data}, nil
}

// MsgsStateReq asks for the state of the listed messages.
type MsgsStateReq struct {
	MsgIDs []int64
}

// ParseMsgsStateReq parses a msgs_state_req body.
func ParseMsgsStateReq(body []byte) (MsgsStateReq, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgsStateReq); err != nil {
		return MsgsStateReq{}, err
	}
	ids, err := r.VectorLong()
	if err != nil {
		return MsgsStateReq{}, err
	}
	return MsgsStateReq{MsgIDs: ids}, nil
}

// MsgsStateInfo answers a msgs_state_req.
type MsgsStateInfo struct {
	ReqMsgID int64
	Info     []byte
}

// ParseMsgsStateInfo parses a msgs_state_info body.
func ParseMsgsStateInfo(body []byte) (MsgsStateInfo, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgsStateInfo); err != nil {
		return MsgsStateInfo{}, err
	}
	var m MsgsStateInfo
	var err error
	if m.ReqMsgID, err = r.Int64(); err != nil {
		return MsgsStateInfo{}, err
	}
	if m.Info, err = r.String(); err != nil {
		return MsgsStateInfo{}, err
	}
	return m, nil
}

// MsgsAllInfo is a voluntary server report about the listed messages.
type MsgsAllInfo struct {
	MsgIDs []int64
	Info   []byte
}

// ParseMsgsAllInfo parses a msgs_all_info body.
func ParseMsgsAllInfo(body []byte) (MsgsAllInfo, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgsAllInfo); err != nil {
		return MsgsAllInfo{}, err
	}
	var m MsgsAllInfo
	var err error
	if m.MsgIDs, err = r.VectorLong(); err != nil {
		return MsgsAllInfo{}, err
	}
	if m.Info, err = r.String(); err != nil {
		return MsgsAllInfo{}, err
	}
	return m, nil
}

// MsgDetailedInfo points at the reply to a message the client may have missed.
type MsgDetailedInfo struct {
	MsgID       int64
	AnswerMsgID int64
	Bytes       int32
	Status      int32
}

// ParseMsgDetailedInfo parses a msg_detailed_info body.
func ParseMsgDetailedInfo(body []byte) (MsgDetailedInfo, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgDetailedInfo); err != nil {
		return MsgDetailedInfo{}, err
	}
	var m MsgDetailedInfo
	var err error
	if m.MsgID, err = r.Int64(); err != nil {
		return MsgDetailedInfo{}, err
	}
	if m.AnswerMsgID, err = r.Int64(); err != nil {
		return MsgDetailedInfo{}, err
	}
	if m.Bytes, err = r.Int32(); err != nil {
		return MsgDetailedInfo{}, err
	}
	if m.Status, err = r.Int32(); err != nil {
		return MsgDetailedInfo{}, err
	}
	return m, nil
}

// MsgNewDetailedInfo points at the reply to a message the client never saw.
type MsgNewDetailedInfo struct {
	AnswerMsgID int64
	Bytes       int32
	Status      int32
}

// ParseMsgNewDetailedInfo parses a msg_new_detailed_info body.
func ParseMsgNewDetailedInfo(body []byte) (MsgNewDetailedInfo, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgNewDetailed); err != nil {
		return MsgNewDetailedInfo{}, err
	}
	var m MsgNewDetailedInfo
	var err error
	if m.AnswerMsgID, err = r.Int64(); err != nil {
		return MsgNewDetailedInfo{}, err
	}
	if m.Bytes, err = r.Int32(); err != nil {
		return MsgNewDetailedInfo{}, err
	}
	if m.Status, err = r.Int32(); err != nil {
		return MsgNewDetailedInfo{}, err
	}
	return m, nil
}

// MsgResendReq asks the peer to resend the listed messages.
type MsgResendReq struct {
	MsgIDs []int64
}

// ParseMsgResendReq parses a msg_resend_req body.
func ParseMsgResendReq(body []byte) (MsgResendReq, error) {
	r := NewReader(body)
	if err := expectID(r, IDMsgResendReq); err != nil {
		return MsgResendReq{}, err
	}
	ids, err := r.VectorLong()
	if err != nil {
		return MsgResendReq{}, err
	}
	return MsgResendReq{MsgIDs: ids}, nil
}

// DestroySessionRes is the reply to destroy_session: either ok or none.
type DestroySessionRes struct {
	SessionID int64
	Destroyed bool
}

// ParseDestroySessionRes parses a destroy_session_ok or destroy_session_none
// body.
func ParseDestroySessionRes(body []byte) (DestroySessionRes, error) {
	r := NewReader(body)
	ctor, err := r.Uint32()
	if err != nil {
		return DestroySessionRes{}, err
	}
	if ctor != IDDestroySessionOk && ctor != IDDestroySessionNo {
		return DestroySessionRes{}, fmt.Errorf("expected destroy_session result, got 0x%08x", ctor)
	}
	sessionID, err := r.Int64()
	if err != nil {
		return DestroySessionRes{}, err
	}
	return DestroySessionRes{SessionID: sessionID, Destroyed: ctor == IDDestroySessionOk}, nil
}

// HTTPWait tunes long-polling behavior on HTTP transports.
type HTTPWait struct {
	MaxDelay  int32
	WaitAfter int32
	MaxWait   int32
}

// ParseHTTPWait parses an http_wait body.
func ParseHTTPWait(body []byte) (HTTPWait, error) {
	r := NewReader(body)
	if err := expectID(r, IDHTTPWait); err != nil {
		return HTTPWait{}, err
	}
	var h HTTPWait
	var err error
	if h.MaxDelay, err = r.Int32(); err != nil {
		return HTTPWait{}, err
	}
	if h.WaitAfter, err = r.Int32(); err != nil {
		return HTTPWait{}, err
	}
	if h.MaxWait, err = r.Int32(); err != nil {
		return HTTPWait{}, err
	}
	return h, nil
}

// GetFutureSalts serializes a get_future_salts function call.
func GetFutureSalts(num int32) []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 8), IDGetFutureSalts)
	return binary.LittleEndian.AppendUint32(b, uint32(num))
}

// Ping serializes a ping function call.
func Ping(pingID int64) []byte {
	b := binary.LittleEndian.AppendUint32(make([]byte, 0, 12), IDPing)
	return binary.LittleEndian.AppendUint64(b, uint64(pingID))
}
