// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bank

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// shmDir is where the Linux kernel mounts the POSIX shared-memory filesystem.
// shm_open(3) resolves names under this directory, so a named segment can be
// reproduced with plain file and mmap syscalls and no cgo.
const shmDir = "/dev/shm/"

// segment is one POSIX shared-memory object mapped into this process.
type segment struct {
	name string
	size int
	data []byte
	fd   int
}

// openSegment creates (or, with force, reuses) a named shared-memory segment
// of size bytes and maps it read/write. It mirrors shm_open + ftruncate + mmap
// from modbus_shm.cpp.
func openSegment(name string, size int, perm os.FileMode, force bool) (*segment, error) {
	path := shmDir + name

	flags := unix.O_RDWR | unix.O_CREAT
	if !force {
		flags |= unix.O_EXCL
	}

	fd, err := unix.Open(path, flags, uint32(perm.Perm()))
	if err != nil {
		return nil, fmt.Errorf("open shared memory %q: %w", name, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("resize shared memory %q: %w", name, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("map shared memory %q: %w", name, err)
	}

	return &segment{name: name, size: size, data: data, fd: fd}, nil
}

// close unmaps and closes the segment's file descriptor but leaves the
// backing object in /dev/shm so other processes attached to it keep working.
func (s *segment) close() error {
	var err error
	if s.data != nil {
		err = unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd >= 0 {
		if cerr := unix.Close(s.fd); cerr != nil && err == nil {
			err = cerr
		}
		s.fd = -1
	}
	return err
}

// unlinkSegment removes the named shared-memory object from /dev/shm. Call once
// per process lifetime, after the last segment.close(), so that readers
// attached before the unlink keep a valid mapping.
func unlinkSegment(name string) error {
	if err := unix.Unlink(shmDir + name); err != nil {
		return fmt.Errorf("unlink shared memory %q: %w", name, err)
	}
	return nil
}
