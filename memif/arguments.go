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

package memif

// Role distinguishes the two handshake roles of an endpoint.
type Role int

const (
	RoleSlave Role = iota
	RoleMaster
)

// Mode is informational and opaque to the core; applications use it to
// agree on how to interpret packet buffer contents.
type Mode int

const (
	ModeEthernet Mode = iota
	ModeIP
	ModePuntInject
)

const (
	defaultSocketPath   = "/run/vpp/memif.sock"
	defaultLog2RingSize = 10
	defaultBufferSize   = 2048
	defaultNumS2MRings  = 1
	defaultNumM2SRings  = 1
)

// Arguments configures Create. Zero-valued optional fields receive the
// defaults documented per field.
type Arguments struct {
	InterfaceID    uint32
	InterfaceName  string // truncated to wire.NameSize bytes
	InstanceName   string // truncated to wire.NameSize bytes
	Role           Role
	Mode           Mode
	Secret         string // truncated to wire.SecretSize bytes; empty means no secret required

	// Log2RingSize sets ring depth to 2^Log2RingSize slots. Default 10
	// (1024) if zero.
	Log2RingSize uint8
	// BufferSize is the byte capacity of each packet buffer. Default
	// 2048 if zero.
	BufferSize uint32
	// NumS2MRings/NumM2SRings are the per-direction ring counts.
	// Default to 1 each if zero.
	NumS2MRings int
	NumM2SRings int

	// SocketPath is the control socket's filesystem path. Default
	// "/run/vpp/memif.sock" if empty.
	SocketPath string
}

func (a Arguments) withDefaults() Arguments {
	if a.Log2RingSize == 0 {
		a.Log2RingSize = defaultLog2RingSize
	}
	if a.BufferSize == 0 {
		a.BufferSize = defaultBufferSize
	}
	if a.NumS2MRings == 0 {
		a.NumS2MRings = defaultNumS2MRings
	}
	if a.NumM2SRings == 0 {
		a.NumM2SRings = defaultNumM2SRings
	}
	if a.SocketPath == "" {
		a.SocketPath = defaultSocketPath
	}
	return a
}

func truncatedNameBytes(s string, max int) []byte {
	b := []byte(s)
	if len(b) > max {
		b = b[:max]
	}
	return b
}
