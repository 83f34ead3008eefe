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

// Package errs defines the closed set of error kinds returned by every
// public operation of the memif library, and the mapping from host-OS
// error codes onto that set.
package errs

import "golang.org/x/sys/unix"

// Kind is a closed enumeration of library error kinds. OK (the zero
// value) means success.
type Kind int32

const (
	OK Kind = iota
	EPermDenied
	EFileLimit   // system-wide open-file-table exhaustion
	EProcFDLimit // per-process open-file-table exhaustion
	ENoMem
	EBadFD
	EAgain // would-block / transient
	EAlreadyInProgress
	EInvalArg
	ENoConn
	EAlreadyConnected
	ENotSock
	ENoSharedMemFD
	EBadRingCookie
	ERingFull
	ENoRxBufs // insufficient rx buffers to satisfy a request
	EIntWrite // interrupt eventfd write failed
	EMalformedMsg
	EProtoVersion
	EIfaceIDMismatch
	ESlaveCannotAccept
	EModeMismatch
	ESecretMismatch
	ESecretRequired
	ETooManyRegions
	ETooManyRings
	ENoIntFD // missing interrupt fd in ADD_RING
	EDisconnectRequested
	EDisconnected
	EUnknownMsgType
	ECallbackFailed

	numKinds
)

var messages = [numKinds]string{
	OK:                   "success",
	EPermDenied:          "permission denied",
	EFileLimit:           "system open file table full",
	EProcFDLimit:         "process open file table full",
	ENoMem:               "out of memory",
	EBadFD:               "bad file descriptor",
	EAgain:               "resource temporarily unavailable",
	EAlreadyInProgress:   "operation already in progress",
	EInvalArg:            "invalid argument",
	ENoConn:              "no connection",
	EAlreadyConnected:    "already connected",
	ENotSock:             "file exists and is not a socket",
	ENoSharedMemFD:       "missing shared memory file descriptor",
	EBadRingCookie:       "bad ring cookie",
	ERingFull:            "ring full",
	ENoRxBufs:            "not enough rx buffers",
	EIntWrite:            "interrupt write failed",
	EMalformedMsg:        "malformed message",
	EProtoVersion:        "protocol version mismatch",
	EIfaceIDMismatch:     "interface id mismatch",
	ESlaveCannotAccept:   "slave cannot accept connection",
	EModeMismatch:        "mode mismatch",
	ESecretMismatch:      "secret mismatch",
	ESecretRequired:      "secret required",
	ETooManyRegions:      "too many regions",
	ETooManyRings:        "too many rings",
	ENoIntFD:             "missing interrupt file descriptor",
	EDisconnectRequested: "disconnect requested by peer",
	EDisconnected:        "disconnected",
	EUnknownMsgType:      "unknown message type",
	ECallbackFailed:      "callback failed",
}

// Error implements error so a Kind can be returned/wrapped anywhere a
// plain error is expected.
func (k Kind) Error() string { return Strerror(k) }

// Strerror formats a stable diagnostic message for k.
//
// k == numKinds (the boundary value one past the last named kind) must
// fall through to "unknown error", so the upper check is `>= len(messages)`,
// not `>`.
func Strerror(k Kind) string {
	if k < 0 || int(k) >= len(messages) {
		return "unknown error"
	}
	return messages[k]
}

// FromErrno maps a raw syscall errno (as returned by golang.org/x/sys/unix
// calls on the control path) onto a Kind. connRefused controls how
// ECONNREFUSED is treated: callers attempting a slave connect pass true,
// since the master not yet listening is a transient condition recovered
// by the reconnect timer, not a hard error.
func FromErrno(err error, connRefused bool) Kind {
	if err == nil {
		return OK
	}
	errno, ok := err.(unix.Errno)
	if !ok {
		return EInvalArg
	}
	switch errno {
	case 0:
		return OK
	case unix.EACCES, unix.EPERM:
		return EPermDenied
	case unix.ENFILE:
		return EFileLimit
	case unix.EMFILE:
		return EProcFDLimit
	case unix.ENOMEM:
		return ENoMem
	case unix.EBADF:
		return EBadFD
	case unix.EAGAIN: // == EWOULDBLOCK
		return EAgain
	case unix.EALREADY:
		return EAlreadyInProgress
	case unix.EINVAL:
		return EInvalArg
	case unix.ENOTCONN:
		return ENoConn
	case unix.EISCONN:
		return EAlreadyConnected
	case unix.ENOTSOCK:
		return ENotSock
	case unix.ECONNREFUSED:
		if connRefused {
			return OK
		}
		return ENoConn
	default:
		return EInvalArg
	}
}
