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

// State is an endpoint's position in the connection lifecycle.
type State int

const (
	StatePreInit State = iota
	StateListening    // master only: socket bound and accepting
	StateDisconnected // slave only: waiting for the reconnect timer
	StateHandshaking
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StatePreInit:
		return "pre-init"
	case StateListening:
		return "listening"
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Callbacks are invoked synchronously from the control-fd handler (or
// the built-in poll loop). An application must not delete the endpoint
// from within one of these; deferring the delete to after the handler
// returns is the supported pattern.
type Callbacks struct {
	OnConnect    func(*Endpoint)
	OnDisconnect func(*Endpoint)
	// OnInterrupt is stored but never invoked: interrupt eventfds are
	// not registered with the reactor (see Context.GetQueueEventFd).
	OnInterrupt func(*Endpoint, int) // queue id
	PrivateCtx   interface{}
}
