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
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"modbus-shm-server/bank"
	"modbus-shm-server/notify"
)

var serverTestSeq atomic.Uint64

func newTestDirectory(t *testing.T) *bank.Directory {
	prefix := fmt.Sprintf("server_test_%d_%d_", os.Getpid(), serverTestSeq.Add(1))
	d, err := bank.NewSingle(prefix, bank.Counts{Coils: 32, DiscreteInputs: 32, HoldingRegisters: 16, InputRegisters: 16}, 0640, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func startTestServer(t *testing.T, dir *bank.Directory) (*Server, func()) {
	s := New(dir, nil, notify.New(nil), false, WithHost("127.0.0.1"), WithService("0"), WithMaxClients(4))
	require.NoError(t, s.Listen())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			outcome, err := s.RunCycle(50 * time.Millisecond)
			if err != nil {
				return
			}
			if outcome == OutcomeTermSignal || outcome == OutcomeTermNoConn || outcome == OutcomeSemaphore {
				return
			}
		}
	}()

	return s, func() {
		close(stop)
		<-done
		s.Close()
	}
}

func dialServer(t *testing.T, s *Server) net.Conn {
	addr := fmt.Sprintf("127.0.0.1:%d", listenerPort(t, s))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func listenerPort(t *testing.T, s *Server) int {
	sa, err := unix.Getsockname(s.listenFD)
	require.NoError(t, err)
	in4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	return in4.Port
}

func TestServer_WriteReadRoundTrip(t *testing.T) {
	dir := newTestDirectory(t)
	s, cleanup := startTestServer(t, dir)
	defer cleanup()

	conn := dialServer(t, s)
	defer conn.Close()

	_, err := conn.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x0A, 0x12, 0x34})
	require.NoError(t, err)

	reply := make([]byte, 12)
	_, err = conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x0A, 0x12, 0x34}, reply)

	_, err = conn.Write([]byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x0A, 0x00, 0x01})
	require.NoError(t, err)

	reply2 := make([]byte, 11)
	_, err = conn.Read(reply2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x12, 0x34}, reply2)
}

func TestServer_IllegalAddressException(t *testing.T) {
	dir := newTestDirectory(t)
	s, cleanup := startTestServer(t, dir)
	defer cleanup()

	conn := dialServer(t, s)
	defer conn.Close()

	_, err := conn.Write([]byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x64, 0x00, 0x01})
	require.NoError(t, err)

	reply := make([]byte, 9)
	_, err = conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}, reply)
}
