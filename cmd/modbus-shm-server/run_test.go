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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_VersionFlagExitsOK(t *testing.T) {
	assert.Equal(t, exitOK, run([]string{"--version"}))
	assert.Equal(t, exitOK, run([]string{"--longversion"}))
	assert.Equal(t, exitOK, run([]string{"--license"}))
}

func TestRun_BadFlagExitsUsage(t *testing.T) {
	assert.Equal(t, exitUsage, run([]string{"--permissions", "not-octal"}))
	assert.Equal(t, exitUsage, run([]string{"--connections", "0"}))
	assert.Equal(t, exitUsage, run([]string{"--separate", "1", "--separate-all"}))
}
