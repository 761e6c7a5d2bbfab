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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"modbus-shm-server/bank"
)

// config holds every flag in §6 of the spec, already validated and typed.
// It is built once per run() from the bound cobra/viper flags.
type config struct {
	host       string
	service    string
	namePrefix string

	counts bank.Counts

	maxClients int
	reconnect  bool
	monitor    bool

	byteTimeout     time.Duration
	responseTimeout time.Duration
	tcpTimeout      time.Duration

	force bool

	separate    []uint8
	separateAll bool

	semaphoreName  string
	semaphoreForce bool

	permissions os.FileMode

	signalRegister bool
	preRegister    []int
}

// parseSeparateList parses a comma-separated list of u8 unit ids, accepting
// both decimal ("16") and 0x-prefixed hex ("0x10") forms.
func parseSeparateList(s string) ([]uint8, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uint8, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseUint(p, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid unit id %q: %w", p, err)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}

// parsePermissions parses an octal file mode string, rejecting anything
// outside the low 9 bits (rwxrwxrwx).
func parsePermissions(s string) (os.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid permissions %q: %w", s, err)
	}
	if n > 0777 {
		return 0, fmt.Errorf("invalid permissions %q: bits outside rwxrwxrwx set", s)
	}
	return os.FileMode(n), nil
}

// parsePIDList parses a comma-separated list of process ids for
// pre-registering write-notification targets at startup.
func parsePIDList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	pids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q: %w", p, err)
		}
		pids = append(pids, n)
	}
	return pids, nil
}

// validate enforces the cross-flag constraints that cobra's per-flag
// parsers can't express on their own.
func (c *config) validate() error {
	if err := c.counts.Validate(); err != nil {
		return err
	}
	if c.maxClients < 1 {
		return fmt.Errorf("connections must be >= 1")
	}
	if len(c.separate) > 0 && c.separateAll {
		return fmt.Errorf("--separate and --separate-all are mutually exclusive")
	}
	return nil
}

// requiredFDs is the ulimit advisory formula from spec §6: max_clients + 5
// fixed fds (listener, termination fd, stdio) plus 4 fds per register
// bank actually opened.
func (c *config) requiredFDs() uint64 {
	banks := 1
	switch {
	case c.separateAll:
		banks = 256
	case len(c.separate) > 0:
		distinct := map[uint8]bool{}
		for _, id := range c.separate {
			distinct[id] = true
		}
		banks = len(distinct)
		if c.hasFallback() {
			banks++
		}
	}
	return uint64(c.maxClients) + 5 + uint64(4*banks)
}

func (c *config) hasFallback() bool {
	if c.separateAll {
		return false
	}
	if len(c.separate) == 0 {
		return true
	}
	covered := map[uint8]bool{}
	for _, id := range c.separate {
		covered[id] = true
	}
	return len(covered) < 256
}
