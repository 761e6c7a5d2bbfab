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

package addrfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestSockaddr_IPv4(t *testing.T) {
	sa := &unix.SockaddrInet4{Port: 502, Addr: [4]byte{192, 168, 1, 10}}
	assert.Equal(t, "192.168.1.10:502", Sockaddr(sa))
}

func TestSockaddr_IPv6(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 502, Addr: [16]byte{0: 0x20, 1: 0x01, 15: 0x01}}
	got := Sockaddr(sa)
	assert.Contains(t, got, "]:502")
	assert.Contains(t, got, "[")
}

func TestListenAddr_Wildcard(t *testing.T) {
	assert.Equal(t, "*:502", ListenAddr("", 502))
}

func TestListenAddr_IPv4Host(t *testing.T) {
	assert.Equal(t, "127.0.0.1:502", ListenAddr("127.0.0.1", 502))
}
