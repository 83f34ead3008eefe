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

import "errors"

// ErrMalformed wraps every wrong-sized-message decode failure.
var ErrMalformed = errors.New("malformed control message")

// ErrUnknownKind describes a message whose kind field does not match
// any known Kind constant. No function in this package returns it;
// PeekKind returns the raw kind and leaves the check to the caller.
var ErrUnknownKind = errors.New("unknown control message kind")

// ErrMissingFd describes a message kind that requires one ancillary
// file descriptor arriving without it. No function in this package
// returns it; Recv reports a missing fd as -1.
var ErrMissingFd = errors.New("missing expected ancillary file descriptor")
