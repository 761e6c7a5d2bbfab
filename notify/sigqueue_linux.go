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

package notify

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// siQueue is the SI_QUEUE si_code value used by sigqueue(2) to mark a
// signal as carrying an application-chosen sival.
const siQueue = -1

// siginfoSize matches the kernel's siginfo_t: 128 bytes on every Linux
// architecture this module targets.
const siginfoSize = 128

// sigqueue delivers sig to pid carrying value as the signal's si_value,
// reproducing the C library's sigqueue(3) via the raw rt_sigqueueinfo(2)
// syscall: golang.org/x/sys/unix has no higher-level binding for it.
//
// siginfo_t's layout for the "rt" union member is {si_signo, si_errno,
// si_code} (3 x int32) followed by {si_pid, si_uid, si_value} starting at
// byte offset 16 on every 64-bit Linux target.
func sigqueue(pid int, sig unix.Signal, value int32) error {
	var info [siginfoSize]byte

	binary.LittleEndian.PutUint32(info[0:4], uint32(sig))
	binary.LittleEndian.PutUint32(info[4:8], 0)                      // si_errno
	siCode := int32(siQueue)
	binary.LittleEndian.PutUint32(info[8:12], uint32(siCode)) // si_code

	binary.LittleEndian.PutUint32(info[16:20], uint32(unix.Getpid())) // si_pid: the sender
	binary.LittleEndian.PutUint32(info[20:24], uint32(unix.Getuid()))
	binary.LittleEndian.PutUint32(info[24:28], uint32(value))

	_, _, errno := unix.Syscall(unix.SYS_RT_SIGQUEUEINFO,
		uintptr(pid), uintptr(sig), uintptr(unsafe.Pointer(&info[0])))
	if errno != 0 {
		return errno
	}
	return nil
}
