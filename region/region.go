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

// Package region creates and maps the shared memory regions that back
// descriptor rings and packet buffers, and tracks the small set of
// regions (by contract, at most one per endpoint today, though the
// registry supports more) an endpoint owns or has mapped.
package region

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ondrej-fabry/libmemif/slotset"
)

// Region is one mapped shared memory object.
type Region struct {
	Fd   int
	Mem  []byte
	Size int

	// external is true when the fd was received from a peer (the
	// master's view of a slave-allocated region) rather than created
	// locally; External regions are still munmap'd on teardown but
	// their fd ownership was handed over by the control channel, not
	// allocated by this side.
	external bool
}

// Create allocates an anonymous, sealed, shared memory object of size
// bytes and maps it read-write. Used by the slave, which by contract
// owns the region.
func Create(size int) (*Region, error) {
	fd, err := unix.MemfdCreate("libmemif-region", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	// Write-shrink seal: once sealed neither side can truncate the
	// object smaller, so a peer holding the mapping never faults on a
	// truncated-away page.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcntl F_ADD_SEALS: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Region{Fd: fd, Mem: mem, Size: size}, nil
}

// Map wraps an fd received from a peer (over SCM_RIGHTS) and maps it.
// Used by the master, which never allocates a region itself.
func Map(fd int, size int) (*Region, error) {
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Region{Fd: fd, Mem: mem, Size: size, external: true}, nil
}

// Close unmaps the region and closes its fd. Safe to call once per
// Region; double-close is a caller bug, not guarded against here since
// the registry (below) only ever calls it once per slot.
func (r *Region) Close() error {
	if r.Mem != nil {
		if err := unix.Munmap(r.Mem); err != nil {
			return fmt.Errorf("munmap: %w", err)
		}
		r.Mem = nil
	}
	return unix.Close(r.Fd)
}

// Registry holds the regions an endpoint knows about, indexed by the
// region_index carried on the wire. Region indices are allocated with
// slotset so ADD_REGION handling on the master side and local
// allocation on the slave side share the same index-assignment
// discipline.
type Registry struct {
	slots   *slotset.Set
	regions []*Region
}

// NewRegistry builds a registry that can hold up to capacity regions.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		slots:   slotset.New(capacity),
		regions: make([]*Region, capacity),
	}
}

// Add registers r at the next free index and returns that index.
func (reg *Registry) Add(r *Region) (int, error) {
	idx, ok := reg.slots.Alloc()
	if !ok {
		return 0, fmt.Errorf("region registry full (capacity %d)", reg.slots.Cap())
	}
	reg.regions[idx] = r
	return idx, nil
}

// Get returns the region at idx, or nil if no region occupies it.
func (reg *Registry) Get(idx int) *Region {
	if idx < 0 || idx >= len(reg.regions) {
		return nil
	}
	return reg.regions[idx]
}

// CloseAll closes every registered region and frees the registry's
// slots, matching the teardown sequence run when an endpoint enters
// disconnecting: every fd this side's region registry created must be
// closed before the endpoint is considered torn down.
func (reg *Registry) CloseAll() error {
	var first error
	for i, r := range reg.regions {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
		reg.regions[i] = nil
		reg.slots.Free(i)
	}
	return first
}
