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

// Package xpm implements a cross-process mutex: a named semaphore that
// this server and external processes can use to serialize access to a
// register bank's shared memory. There is no cgo-free binding for POSIX
// sem_open/sem_timedwait in the module's dependency graph, so the
// semaphore is emulated with a /dev/shm-backed file and an advisory
// exclusive flock, which gives the same named, process-crash-safe mutual
// exclusion semantics.
package xpm

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// State describes the last-known posture of a Semaphore.
type State int

const (
	// Disabled means no semaphore was configured; every acquire trivially succeeds.
	Disabled State = iota
	// Idle means the semaphore exists and is not currently held by this process.
	Idle
	// Held means this process currently holds the semaphore.
	Held
)

// Error counter tuning, shared with the server loop: isolated acquire
// failures decay, a persistent failure to acquire escalates to a fatal
// condition.
const (
	ErrorInc = 10
	ErrorDec = 1
	ErrorMax = 1000
)

const semDir = "/dev/shm/"

// Semaphore is a named cross-process mutex backed by a POSIX shared-memory
// file and flock(2). A nil *Semaphore is Disabled and every TryAcquire
// call on it succeeds immediately.
type Semaphore struct {
	name  string
	fd    int
	state State
}

// Open creates (or, with force, reuses) the named semaphore file. name is
// the bare semaphore name with no directory component.
func Open(name string, force bool) (*Semaphore, error) {
	path := semDir + name

	flags := unix.O_RDWR | unix.O_CREAT
	if !force {
		flags |= unix.O_EXCL
	}

	fd, err := unix.Open(path, flags, 0600)
	if err != nil {
		return nil, fmt.Errorf("xpm: open %q: %w", name, err)
	}

	return &Semaphore{name: name, fd: fd, state: Idle}, nil
}

// Unlink removes the named semaphore's backing file, if it exists. Callers
// use this ahead of Open to implement "force": unlink whatever is there,
// then create fresh, rather than Open's own force mode of silently
// reusing an existing file.
func Unlink(name string) error {
	if err := unix.Unlink(semDir + name); err != nil && err != unix.ENOENT {
		return fmt.Errorf("xpm: unlink %q: %w", name, err)
	}
	return nil
}

// State reports the semaphore's current posture.
func (s *Semaphore) State() State {
	if s == nil {
		return Disabled
	}
	return s.state
}

// TryAcquire attempts to take the lock, polling in short bursts until
// timeout elapses. It returns true on success. A nil Semaphore always
// succeeds without blocking, matching the "no semaphore configured" case.
func (s *Semaphore) TryAcquire(timeout time.Duration) bool {
	if s == nil {
		return true
	}

	deadline := time.Now().Add(timeout)
	const pollInterval = 2 * time.Millisecond

	for {
		err := unix.Flock(s.fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			s.state = Held
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// Release gives up the lock. It is a no-op if the semaphore is not
// currently held, so callers can unconditionally defer Release after a
// failed TryAcquire.
func (s *Semaphore) Release() error {
	if s == nil || s.state != Held {
		return nil
	}
	if err := unix.Flock(s.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("xpm: release %q: %w", s.name, err)
	}
	s.state = Idle
	return nil
}

// Close releases the lock if held and closes the underlying file
// descriptor. It does not unlink the backing file: like a POSIX named
// semaphore, the object outlives the process so other processes keep a
// valid handle; the operator is responsible for removing it with
// --semaphore-force on the next startup, or manually.
func (s *Semaphore) Close() error {
	if s == nil {
		return nil
	}
	_ = s.Release()
	return unix.Close(s.fd)
}

// ErrorCounter tracks the degradation state described by ErrorInc/Dec/Max:
// isolated TryAcquire failures push the counter up, successes pull it back
// down, and reaching ErrorMax means the semaphore has failed persistently.
type ErrorCounter struct {
	value int
}

// Success registers a successful acquire, decaying the counter toward zero.
func (c *ErrorCounter) Success() {
	c.value -= ErrorDec
	if c.value < 0 {
		c.value = 0
	}
}

// Failure registers a failed acquire and reports whether the counter has
// now reached ErrorMax, meaning the caller should treat the semaphore as
// fatally broken.
func (c *ErrorCounter) Failure() (fatal bool) {
	c.value += ErrorInc
	return c.value >= ErrorMax
}

// Value returns the current counter value, for tests and diagnostics.
func (c *ErrorCounter) Value() int { return c.value }
