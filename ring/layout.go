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

// Package ring defines the on-shared-memory binary layout of descriptor
// rings and packet descriptors, and the single-producer/single-consumer
// index algorithms that operate on them without locks. It knows nothing
// about sockets, fds, or the handshake; it only interprets a []byte
// window into a mapped shared memory region.
package ring

import "encoding/binary"

// Direction distinguishes slave-to-master rings from master-to-slave
// rings; region layout places all S2M rings before all M2S rings.
type Direction int

const (
	S2M Direction = iota
	M2S
)

// Cookie is written into every ring header at init time and must be
// observed on every header read once an endpoint reaches the connected
// state (the "cookie integrity" invariant).
const Cookie uint32 = 0x3E31F20

// Header flag bits.
const (
	FlagInterruptSuppressed uint32 = 1 << 0
)

// HeaderSize is the byte size of a ring header: cookie, flags, head,
// tail, each a little-endian uint32, followed by reserved padding so
// the descriptor array that immediately follows starts at an offset
// that is a multiple of DescriptorSize.
const HeaderSize = 32

const (
	offCookie = 0
	offFlags  = 4
	offHead   = 8
	offTail   = 12
)

// DescriptorSize is the byte size of one ring slot: region index,
// flags, buffer capacity, written length, byte offset within the
// region, and padding out to a power-of-two size.
const DescriptorSize = 32

const (
	offRegionIndex = 0
	offDescFlags   = 2
	offBufLen      = 4
	offLength      = 8
	offOffset      = 12
)

// RingSize returns the number of bytes one ring (header + descriptor
// array) occupies for a ring of 2^log2Size slots.
func RingSize(log2Size uint8) int {
	return HeaderSize + (1<<log2Size)*DescriptorSize
}

// RegionRingsBytes returns the byte size of the ring-header region,
// i.e. every S2M ring followed by every M2S ring.
func RegionRingsBytes(numS2M, numM2S int, log2Size uint8) int {
	return (numS2M + numM2S) * RingSize(log2Size)
}

// RingOffset returns the byte offset of ring `index` of the given
// direction within the region, per the s2m-first-then-m2s layout of
// spec §3.
func RingOffset(dir Direction, index, numS2M int, log2Size uint8) int {
	global := index
	if dir == M2S {
		global += numS2M
	}
	return global * RingSize(log2Size)
}

// BufferAreaOffset returns the byte offset where the packet buffer area
// begins, immediately after every ring header+descriptor array.
func BufferAreaOffset(numS2M, numM2S int, log2Size uint8) int {
	return RegionRingsBytes(numS2M, numM2S, log2Size)
}

// RegionSize returns the total byte size of a region laid out with the
// given ring geometry, per spec §3.
func RegionSize(numS2M, numM2S int, log2Size uint8, bufferSize int) int {
	totalRings := numS2M + numM2S
	return RegionRingsBytes(numS2M, numM2S, log2Size) + totalRings*(1<<log2Size)*bufferSize
}

// BufferOffset returns the byte offset (within the region) of the
// packet buffer backing slot `slot` of ring `globalRingIndex` (the
// ring's position counting S2M rings first, as RingOffset does
// internally), precomputed once at region init so the data path never
// multiplies.
func BufferOffset(globalRingIndex, slot int, log2Size uint8, bufferSize int) int {
	return (globalRingIndex*(1<<log2Size) + slot) * bufferSize
}

var byteOrder = binary.LittleEndian
