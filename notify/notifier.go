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

// Package notify holds the set of external processes that want to be told
// about register writes, and delivers that notification as a realtime
// signal carrying the Modbus function code that triggered it.
package notify

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNoSuchProcess is returned by Add when pid does not name a live
// process.
var ErrNoSuchProcess = errors.New("notify: no such process")

// Notifier holds the set of PIDs that receive SIGUSR1 on every register
// write, carrying the write's function code as the signal payload. It is
// an explicitly constructed value, not process-wide hidden state: the
// server owns one instance and threads it through the request path.
type Notifier struct {
	pids map[int]struct{}

	// evicted is invoked, if set, whenever a stale PID is dropped after a
	// delivery attempt reports ESRCH. Used to log the WARNING the spec
	// requires without coupling this package to a logger.
	evicted func(pid int)
}

// New creates an empty Notifier. onEvict, if non-nil, is called whenever a
// registered PID is found to no longer exist and is removed from the set.
func New(onEvict func(pid int)) *Notifier {
	return &Notifier{pids: make(map[int]struct{}), evicted: onEvict}
}

// Add registers pid to receive future write notifications. It fails if
// pid does not currently name a live process, verified with a zero-signal
// probe (kill(pid, 0)).
func (n *Notifier) Add(pid int) error {
	if err := unix.Kill(pid, 0); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrNoSuchProcess
		}
		return fmt.Errorf("notify: probe pid %d: %w", pid, err)
	}
	n.pids[pid] = struct{}{}
	return nil
}

// Len reports how many PIDs are currently registered.
func (n *Notifier) Len() int { return len(n.pids) }

// Broadcast delivers fc to every registered PID via sigqueue(SIGUSR1).
// PIDs that report ESRCH are evicted from the set and reported via
// onEvict; any other delivery error is returned, but delivery to the
// remaining PIDs still proceeds.
func (n *Notifier) Broadcast(fc int) error {
	var firstErr error
	for pid := range n.pids {
		err := sigqueue(pid, unix.SIGUSR1, int32(fc))
		if err == nil {
			continue
		}
		if errors.Is(err, unix.ESRCH) {
			delete(n.pids, pid)
			if n.evicted != nil {
				n.evicted(pid)
			}
			continue
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("notify: signal pid %d: %w", pid, err)
		}
	}
	return firstErr
}
