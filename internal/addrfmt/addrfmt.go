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

// Package addrfmt renders socket addresses the way the server's log lines
// expect: "A.B.C.D:port" for IPv4, "[h:h:..]:port" for IPv6, and a
// well-defined placeholder when the peer address cannot be determined.
package addrfmt

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Unknown is printed in place of a peer address that could not be
// resolved (getpeername failure after accept, for instance).
const Unknown = "UNKNOWN"

// Sockaddr formats a raw unix.Sockaddr as returned by unix.Getpeername or
// unix.Accept4 into the human-readable form the log lines use.
func Sockaddr(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(addr.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), addr.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(addr.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip.String(), addr.Port)
	default:
		return fmt.Sprintf("%s:0", Unknown)
	}
}

// ListenAddr renders the configured listen host/port pair for the startup
// log line. An empty host means "any address"; it is rendered as "*" to
// match a dual-stack wildcard bind rather than a specific interface.
func ListenAddr(host string, port uint16) string {
	if host == "" {
		return fmt.Sprintf("*:%d", port)
	}
	ip := net.ParseIP(host)
	if ip != nil && ip.To4() == nil {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
