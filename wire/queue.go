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
	"golang.org/x/sys/unix"

	"github.com/ondrej-fabry/libmemif/bufpool"
)

// pending is one not-yet-sent message: its encoded payload and the
// single fd (if any) that must ride along with it.
type pending struct {
	payload []byte
	fd      int
}

// OutQueue is the FIFO of outgoing control messages for one endpoint,
// drained as the control socket becomes writable. Messages never
// partially send on SOCK_SEQPACKET, so the queue only ever needs to
// track whole messages, not byte offsets within one.
type OutQueue struct {
	pending []pending
}

// Enqueue appends a message (with no ancillary fd) to the queue. The
// payload is copied into a pooled buffer so the caller's slice can be
// reused or discarded immediately.
func (q *OutQueue) Enqueue(payload []byte) {
	q.enqueue(payload, -1)
}

// EnqueueWithFd appends a message that must carry fd as its SCM_RIGHTS
// ancillary data.
func (q *OutQueue) EnqueueWithFd(payload []byte, fd int) {
	q.enqueue(payload, fd)
}

func (q *OutQueue) enqueue(payload []byte, fd int) {
	buf := bufpool.Get(len(payload))
	copy(buf, payload)
	q.pending = append(q.pending, pending{payload: buf, fd: fd})
}

// Empty reports whether there is nothing left to send.
func (q *OutQueue) Empty() bool { return len(q.pending) == 0 }

// Flush attempts to send every queued message over fd, stopping (and
// leaving the remainder queued) on the first send that would block.
// Returns the number of messages actually sent.
func (q *OutQueue) Flush(fd int) (int, error) {
	sent := 0
	for len(q.pending) > 0 {
		m := q.pending[0]
		if err := Send(fd, m.payload, m.fd); err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return sent, nil
			}
			return sent, err
		}
		bufpool.Put(m.payload)
		q.pending = q.pending[1:]
		sent++
	}
	return sent, nil
}

// Reset discards every queued message, returning their buffers to the
// pool. Called when an endpoint is torn down.
func (q *OutQueue) Reset() {
	for _, m := range q.pending {
		bufpool.Put(m.payload)
	}
	q.pending = nil
}
