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

package server

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// terminationSignals is the conservative signal set that is blocked from
// default delivery and routed through the termination fd instead. This
// set includes a few signals that should never actually occur in normal
// operation (SIGIO, SIGPOLL, SIGPROF); it is kept deliberately wide rather
// than pruned, so that any of these arriving stops the server instead of
// taking its default action.
var terminationSignals = []unix.Signal{
	unix.SIGINT,
	unix.SIGTERM,
	unix.SIGHUP,
	unix.SIGIO,
	unix.SIGPIPE,
	unix.SIGPOLL,
	unix.SIGPROF,
	unix.SIGUSR1,
	unix.SIGUSR2,
	unix.SIGVTALRM,
}

// sigsetOf builds a glibc-layout sigset_t (16 64-bit words, matching the
// ABI golang.org/x/sys/unix.Sigset_t uses on every Linux architecture)
// with each of sigs set.
func sigsetOf(sigs []unix.Signal) unix.Sigset_t {
	var set unix.Sigset_t
	for _, sig := range sigs {
		bit := uint(sig) - 1
		set.Val[bit/64] |= 1 << (bit % 64)
	}
	return set
}

// newTerminationFD blocks every signal in terminationSignals from its
// default disposition and returns a pollable fd that becomes readable
// when one of them is pending, via Linux's signalfd(2).
func newTerminationFD() (int, error) {
	set := sigsetOf(terminationSignals)

	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil); err != nil {
		return -1, fmt.Errorf("server: block termination signals: %w", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("server: create signalfd: %w", err)
	}
	return fd, nil
}

// readSignalInfo reads one pending signal's metadata from the
// termination fd.
func readSignalInfo(fd int) (unix.SignalfdSiginfo, error) {
	var info unix.SignalfdSiginfo
	buf := (*[unsafe.Sizeof(unix.SignalfdSiginfo{})]byte)(unsafe.Pointer(&info))[:]
	_, err := unix.Read(fd, buf)
	return info, err
}
