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

package wire

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// maxMessageSize is generous headroom over the largest fixed message
// (DISCONNECT, 104 bytes), so a single Recvmsg call always reads one full
// datagram; SOCK_SEQPACKET never delivers a partial record, but an
// undersized buffer would silently truncate one.
const maxMessageSize = 512

// Listen creates, binds, and listens on a SOCK_SEQPACKET unix socket at
// path, per the master's creation sequence: unlink a stale socket file,
// refuse to clobber a non-socket, bind, listen with a backlog of 1, and
// request peer credentials.
func Listen(path string) (int, error) {
	if fi, err := os.Stat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return -1, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return -1, fmt.Errorf("unlink stale socket: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return -1, fmt.Errorf("stat %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_PASSCRED: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}
	return fd, nil
}

// Accept accepts one connection off a listening fd created by Listen.
func Accept(listenFd int) (int, error) {
	connFd, _, err := unix.Accept(listenFd)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(connFd, true); err != nil {
		unix.Close(connFd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}
	return connFd, nil
}

// Connect attempts a single connect to path, as performed once per
// slave reconnect timer tick. The connect itself runs on a blocking
// socket; the fd is switched to non-blocking only once it has
// succeeded. ECONNREFUSED is returned
// unwrapped so the caller (the handshake state machine) can map it to
// transient success per the reconnect contract.
func Connect(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblocking: %w", err)
	}
	return fd, nil
}

// Send writes one SOCK_SEQPACKET datagram, optionally with a single fd
// passed as ancillary SCM_RIGHTS data. SOCK_SEQPACKET datagrams are
// atomic: either the whole payload (and its fd, if any) is delivered,
// or the call fails; there is no partial-write case to retry byte by
// byte.
func Send(fd int, payload []byte, passFd int) error {
	var oob []byte
	if passFd >= 0 {
		oob = unix.UnixRights(passFd)
	}
	return unix.Sendmsg(fd, payload, oob, nil, 0)
}

// Recv reads one datagram and at most one ancillary fd from fd. Returns
// the payload, the received fd (-1 if none was attached), and an error.
func Recv(fd int) ([]byte, int, error) {
	buf := make([]byte, maxMessageSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return nil, -1, err
	}
	if n == 0 {
		return nil, -1, fmt.Errorf("peer closed connection")
	}

	recvFd := -1
	if oobn > 0 {
		scms, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err != nil {
			return nil, -1, fmt.Errorf("parse control message: %w", err)
		}
		for _, scm := range scms {
			fds, err := unix.ParseUnixRights(&scm)
			if err == nil && len(fds) > 0 {
				recvFd = fds[0]
				break
			}
		}
	}
	return buf[:n], recvFd, nil
}
