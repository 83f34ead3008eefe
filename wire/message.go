// Copyright 2025 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire implements the fixed-size control channel protocol
// carried over a SOCK_SEQPACKET unix socket: message encoding and
// decoding, and raw fd passing for the region and interrupt file
// descriptors that accompany certain message kinds.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Kind identifies a control message type. It occupies the first 16
// bits of every message on the wire.
type Kind uint16

const (
	KindHello Kind = iota + 1
	KindInit
	KindAddRegion
	KindAddRing
	KindConnect
	KindConnected
	KindDisconnect
	KindAck
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindInit:
		return "INIT"
	case KindAddRegion:
		return "ADD_REGION"
	case KindAddRing:
		return "ADD_RING"
	case KindConnect:
		return "CONNECT"
	case KindConnected:
		return "CONNECTED"
	case KindDisconnect:
		return "DISCONNECT"
	case KindAck:
		return "ACK"
	default:
		return fmt.Sprintf("Kind(%d)", uint16(k))
	}
}

// Version is the protocol version negotiated during HELLO/INIT.
const Version = 1

// NameSize bounds interface_name/instance_name fields, matching the
// data model's 32-byte limit.
const NameSize = 32

// SecretSize bounds the optional mutual-authentication secret.
const SecretSize = 24

// Ring direction as carried on ADD_RING.
type RingDirection uint8

const (
	DirS2M RingDirection = iota
	DirM2S
)

// header is the common 4-byte prefix of every message: 16-bit kind
// followed by 16 reserved flag bits, per the external wire format.
type header struct {
	Kind  Kind
	Flags uint16
}

const headerSize = 4

var byteOrder = binary.LittleEndian

func putHeader(b []byte, k Kind) {
	byteOrder.PutUint16(b[0:2], uint16(k))
	byteOrder.PutUint16(b[2:4], 0)
}

func getHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("message too short for header: %d bytes", len(b))
	}
	return header{Kind: Kind(byteOrder.Uint16(b[0:2])), Flags: byteOrder.Uint16(b[2:4])}, nil
}

// Hello is sent master -> slave, no ancillary fd.
type Hello struct {
	MinVersion    uint32
	MaxVersion    uint32
	Name          [NameSize]byte
	MaxLog2Ring   uint8
	MaxRegion     uint16
	MaxRing       uint16
}

const helloSize = headerSize + 4 + 4 + NameSize + 1 + 2 + 2

func EncodeHello(h Hello) []byte {
	b := make([]byte, helloSize)
	putHeader(b, KindHello)
	o := headerSize
	byteOrder.PutUint32(b[o:], h.MinVersion)
	o += 4
	byteOrder.PutUint32(b[o:], h.MaxVersion)
	o += 4
	copy(b[o:o+NameSize], h.Name[:])
	o += NameSize
	b[o] = h.MaxLog2Ring
	o++
	byteOrder.PutUint16(b[o:], h.MaxRegion)
	o += 2
	byteOrder.PutUint16(b[o:], h.MaxRing)
	return b
}

func DecodeHello(b []byte) (Hello, error) {
	var h Hello
	if len(b) != helloSize {
		return h, fmt.Errorf("%w: HELLO size %d, want %d", ErrMalformed, len(b), helloSize)
	}
	o := headerSize
	h.MinVersion = byteOrder.Uint32(b[o:])
	o += 4
	h.MaxVersion = byteOrder.Uint32(b[o:])
	o += 4
	copy(h.Name[:], b[o:o+NameSize])
	o += NameSize
	h.MaxLog2Ring = b[o]
	o++
	h.MaxRegion = byteOrder.Uint16(b[o:])
	o += 2
	h.MaxRing = byteOrder.Uint16(b[o:])
	return h, nil
}

// Init is sent slave -> master, no ancillary fd.
type Init struct {
	Version      uint32
	InterfaceID  uint32
	Mode         uint8
	Name         [NameSize]byte
	HasSecret    bool
	Secret       [SecretSize]byte
}

const initSize = headerSize + 4 + 4 + 1 + NameSize + 1 + SecretSize

func EncodeInit(in Init) []byte {
	b := make([]byte, initSize)
	putHeader(b, KindInit)
	o := headerSize
	byteOrder.PutUint32(b[o:], in.Version)
	o += 4
	byteOrder.PutUint32(b[o:], in.InterfaceID)
	o += 4
	b[o] = in.Mode
	o++
	copy(b[o:o+NameSize], in.Name[:])
	o += NameSize
	if in.HasSecret {
		b[o] = 1
	}
	o++
	copy(b[o:o+SecretSize], in.Secret[:])
	return b
}

func DecodeInit(b []byte) (Init, error) {
	var in Init
	if len(b) != initSize {
		return in, fmt.Errorf("%w: INIT size %d, want %d", ErrMalformed, len(b), initSize)
	}
	o := headerSize
	in.Version = byteOrder.Uint32(b[o:])
	o += 4
	in.InterfaceID = byteOrder.Uint32(b[o:])
	o += 4
	in.Mode = b[o]
	o++
	copy(in.Name[:], b[o:o+NameSize])
	o += NameSize
	in.HasSecret = b[o] != 0
	o++
	copy(in.Secret[:], b[o:o+SecretSize])
	return in, nil
}

// AddRegion is sent slave -> master, carrying the region fd OOB.
type AddRegion struct {
	RegionIndex uint16
	Size        uint32
}

const addRegionSize = headerSize + 2 + 4

func EncodeAddRegion(a AddRegion) []byte {
	b := make([]byte, addRegionSize)
	putHeader(b, KindAddRegion)
	o := headerSize
	byteOrder.PutUint16(b[o:], a.RegionIndex)
	o += 2
	byteOrder.PutUint32(b[o:], a.Size)
	return b
}

func DecodeAddRegion(b []byte) (AddRegion, error) {
	var a AddRegion
	if len(b) != addRegionSize {
		return a, fmt.Errorf("%w: ADD_REGION size %d, want %d", ErrMalformed, len(b), addRegionSize)
	}
	o := headerSize
	a.RegionIndex = byteOrder.Uint16(b[o:])
	o += 2
	a.Size = byteOrder.Uint32(b[o:])
	return a, nil
}

// AddRing is sent slave -> master, carrying the interrupt fd OOB.
type AddRing struct {
	Direction   RingDirection
	RingIndex   uint16
	RegionIndex uint16
	Offset      uint32
	Log2Size    uint8
	Flags       uint16
}

const addRingSize = headerSize + 1 + 2 + 2 + 4 + 1 + 2

func EncodeAddRing(a AddRing) []byte {
	b := make([]byte, addRingSize)
	putHeader(b, KindAddRing)
	o := headerSize
	b[o] = byte(a.Direction)
	o++
	byteOrder.PutUint16(b[o:], a.RingIndex)
	o += 2
	byteOrder.PutUint16(b[o:], a.RegionIndex)
	o += 2
	byteOrder.PutUint32(b[o:], a.Offset)
	o += 4
	b[o] = a.Log2Size
	o++
	byteOrder.PutUint16(b[o:], a.Flags)
	return b
}

func DecodeAddRing(b []byte) (AddRing, error) {
	var a AddRing
	if len(b) != addRingSize {
		return a, fmt.Errorf("%w: ADD_RING size %d, want %d", ErrMalformed, len(b), addRingSize)
	}
	o := headerSize
	a.Direction = RingDirection(b[o])
	o++
	a.RingIndex = byteOrder.Uint16(b[o:])
	o += 2
	a.RegionIndex = byteOrder.Uint16(b[o:])
	o += 2
	a.Offset = byteOrder.Uint32(b[o:])
	o += 4
	a.Log2Size = b[o]
	o++
	a.Flags = byteOrder.Uint16(b[o:])
	return a, nil
}

// Connect/Connected both just carry the sender's interface name.
type ConnectMsg struct {
	Name [NameSize]byte
}

const connectMsgSize = headerSize + NameSize

func encodeConnectLike(kind Kind, m ConnectMsg) []byte {
	b := make([]byte, connectMsgSize)
	putHeader(b, kind)
	copy(b[headerSize:], m.Name[:])
	return b
}

func EncodeConnect(m ConnectMsg) []byte   { return encodeConnectLike(KindConnect, m) }
func EncodeConnected(m ConnectMsg) []byte { return encodeConnectLike(KindConnected, m) }

func decodeConnectLike(b []byte, want Kind) (ConnectMsg, error) {
	var m ConnectMsg
	if len(b) != connectMsgSize {
		return m, fmt.Errorf("%w: %s size %d, want %d", ErrMalformed, want, len(b), connectMsgSize)
	}
	copy(m.Name[:], b[headerSize:])
	return m, nil
}

func DecodeConnect(b []byte) (ConnectMsg, error)   { return decodeConnectLike(b, KindConnect) }
func DecodeConnected(b []byte) (ConnectMsg, error) { return decodeConnectLike(b, KindConnected) }

// DisconnectReasonSize bounds the null-terminated reason string.
const DisconnectReasonSize = 96

// Disconnect carries an error kind and a human-readable reason.
type Disconnect struct {
	Code   uint32
	Reason [DisconnectReasonSize]byte
}

const disconnectSize = headerSize + 4 + DisconnectReasonSize

func EncodeDisconnect(code uint32, reason string) []byte {
	b := make([]byte, disconnectSize)
	putHeader(b, KindDisconnect)
	o := headerSize
	byteOrder.PutUint32(b[o:], code)
	o += 4
	n := copy(b[o:o+DisconnectReasonSize-1], reason)
	b[o+n] = 0
	return b
}

func DecodeDisconnect(b []byte) (Disconnect, error) {
	var d Disconnect
	if len(b) != disconnectSize {
		return d, fmt.Errorf("%w: DISCONNECT size %d, want %d", ErrMalformed, len(b), disconnectSize)
	}
	o := headerSize
	d.Code = byteOrder.Uint32(b[o:])
	o += 4
	copy(d.Reason[:], b[o:])
	return d, nil
}

// ReasonString returns the NUL-terminated reason as a Go string.
func (d Disconnect) ReasonString() string {
	n := 0
	for n < len(d.Reason) && d.Reason[n] != 0 {
		n++
	}
	return string(d.Reason[:n])
}

const ackSize = headerSize

func EncodeAck() []byte {
	b := make([]byte, ackSize)
	putHeader(b, KindAck)
	return b
}

// PeekKind reads the kind off a raw message without fully decoding it,
// so the handshake dispatcher can route to the right Decode* function.
func PeekKind(b []byte) (Kind, error) {
	h, err := getHeader(b)
	if err != nil {
		return 0, err
	}
	return h.Kind, nil
}
