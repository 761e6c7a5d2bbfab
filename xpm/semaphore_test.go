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

package xpm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/sys/unix"
)

func uniqueName() string {
	return fmt.Sprintf("xpm_test_%d_%d", os.Getpid(), time.Now().UnixNano())
}

func TestNilSemaphore_AlwaysAcquires(t *testing.T) {
	var s *Semaphore
	assert.Equal(t, Disabled, s.State())
	assert.True(t, s.TryAcquire(10*time.Millisecond))
	assert.NoError(t, s.Release())
}

func TestOpen_RejectsDuplicateWithoutForce(t *testing.T) {
	name := uniqueName()
	s, err := Open(name, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
		_ = unix.Unlink(semDir + name)
	}()

	_, err = Open(name, false)
	assert.Error(t, err)
}

func TestSemaphore_AcquireRelease(t *testing.T) {
	name := uniqueName()
	s, err := Open(name, false)
	require.NoError(t, err)
	defer func() {
		_ = s.Close()
		_ = unix.Unlink(semDir + name)
	}()

	assert.Equal(t, Idle, s.State())
	require.True(t, s.TryAcquire(100*time.Millisecond))
	assert.Equal(t, Held, s.State())
	require.NoError(t, s.Release())
	assert.Equal(t, Idle, s.State())
}

func TestSemaphore_ConcurrentProcessBlocksOut(t *testing.T) {
	name := uniqueName()
	holder, err := Open(name, false)
	require.NoError(t, err)
	defer func() {
		_ = holder.Close()
		_ = unix.Unlink(semDir + name)
	}()
	require.True(t, holder.TryAcquire(100 * time.Millisecond))

	contender, err := Open(name, true)
	require.NoError(t, err)
	defer contender.Close()

	start := time.Now()
	ok := contender.TryAcquire(30 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestErrorCounter_DecaysAndEscalates(t *testing.T) {
	var c ErrorCounter
	for i := 0; i < 99; i++ {
		fatal := c.Failure()
		assert.False(t, fatal)
	}
	assert.Equal(t, 990, c.Value())

	fatal := c.Failure()
	assert.True(t, fatal)
	assert.Equal(t, 1000, c.Value())
}

func TestErrorCounter_SuccessDecaysToFloor(t *testing.T) {
	var c ErrorCounter
	c.Failure()
	c.Success()
	c.Success()
	assert.Equal(t, 8, c.Value())

	for i := 0; i < 10; i++ {
		c.Success()
	}
	assert.Equal(t, 0, c.Value())
}
