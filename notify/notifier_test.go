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
	"os"
	"os/exec"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAdd_RejectsDeadProcess(t *testing.T) {
	n := New(nil)

	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	err := n.Add(cmd.Process.Pid)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
	assert.Equal(t, 0, n.Len())
}

func TestAdd_AcceptsLiveProcess(t *testing.T) {
	n := New(nil)

	err := n.Add(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, 1, n.Len())
}

func TestBroadcast_EvictsStalePID(t *testing.T) {
	var evictedPID int
	n := New(func(pid int) { evictedPID = pid })

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	n.pids[cmd.Process.Pid] = struct{}{}

	err := n.Broadcast(6)
	assert.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, evictedPID)
	assert.Equal(t, 0, n.Len())
}

func TestBroadcast_DeliversToSelf(t *testing.T) {
	n := New(nil)
	require.NoError(t, n.Add(os.Getpid()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGUSR1)
	defer signal.Stop(sigCh)

	require.NoError(t, n.Broadcast(6))

	select {
	case <-sigCh:
	case <-time.After(time.Second):
		t.Fatal("did not receive SIGUSR1 within 1s")
	}
}
