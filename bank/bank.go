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

// Package bank implements the register bank: the four Modbus register
// tables (coils, discrete inputs, holding registers, input registers),
// each backed by its own POSIX shared-memory segment so that an external
// process can read or write registers without going through this server.
package bank

import (
	"encoding/binary"
	"fmt"
	"os"
)

// register table suffixes, matched against the original shm layout:
// <prefix>DO, <prefix>DI, <prefix>AO, <prefix>AI.
const (
	suffixCoils            = "DO"
	suffixDiscreteInputs   = "DI"
	suffixHoldingRegisters = "AO"
	suffixInputRegisters   = "AI"
)

// maxRegisterCount is the largest register table libmodbus-compatible
// shared memory supports; it matches the 16-bit address space Modbus
// exposes for any one register type.
const maxRegisterCount = 0x10000

// Bank is one register bank: a set of four register tables, each mapped
// from a POSIX shared-memory segment. Bank is not safe for concurrent use
// without external synchronization; callers bracket mutating operations
// with a cross-process mutex.
type Bank struct {
	namePrefix string

	coils            *segment // 1 byte per coil, values 0 or 1
	discreteInputs   *segment // 1 byte per discrete input, values 0 or 1
	holdingRegisters *segment // 2 bytes per register, host-native words
	inputRegisters   *segment // 2 bytes per register, host-native words
}

// Counts describes the size of each register table in a Bank.
type Counts struct {
	Coils            int
	DiscreteInputs   int
	HoldingRegisters int
	InputRegisters   int
}

// Validate checks that every count is in the inclusive range [1, 65536],
// the range the original register tables and the 16-bit Modbus address
// space both support.
func (c Counts) Validate() error {
	for name, n := range map[string]int{
		"do-registers": c.Coils,
		"di-registers": c.DiscreteInputs,
		"ao-registers": c.HoldingRegisters,
		"ai-registers": c.InputRegisters,
	} {
		if n < 1 || n > maxRegisterCount {
			return fmt.Errorf("invalid number of %s registers: %d", name, n)
		}
	}
	return nil
}

// New creates the four shared-memory segments for namePrefix and maps them
// into this process. When force is true, pre-existing segments of the
// expected name are reused instead of causing a creation failure; this is
// how a restarted server reattaches to registers left behind by a previous
// instance.
func New(namePrefix string, counts Counts, perm os.FileMode, force bool) (*Bank, error) {
	if err := counts.Validate(); err != nil {
		return nil, err
	}

	b := &Bank{namePrefix: namePrefix}

	var err error
	if b.coils, err = openSegment(namePrefix+suffixCoils, counts.Coils, perm, force); err != nil {
		return nil, err
	}
	if b.discreteInputs, err = openSegment(namePrefix+suffixDiscreteInputs, counts.DiscreteInputs, perm, force); err != nil {
		b.closeOpened()
		return nil, err
	}
	if b.holdingRegisters, err = openSegment(namePrefix+suffixHoldingRegisters, counts.HoldingRegisters*2, perm, force); err != nil {
		b.closeOpened()
		return nil, err
	}
	if b.inputRegisters, err = openSegment(namePrefix+suffixInputRegisters, counts.InputRegisters*2, perm, force); err != nil {
		b.closeOpened()
		return nil, err
	}

	return b, nil
}

// closeOpened closes whichever segments were successfully opened before a
// later segment's creation failed, so New never leaks file descriptors or
// mappings on a partial failure.
func (b *Bank) closeOpened() {
	for _, s := range []*segment{b.coils, b.discreteInputs, b.holdingRegisters, b.inputRegisters} {
		if s != nil {
			_ = s.close()
		}
	}
}

// Close unmaps the bank's segments and removes them from /dev/shm. After
// Close, the Bank must not be used.
func (b *Bank) Close() error {
	var firstErr error
	for _, s := range []*segment{b.coils, b.discreteInputs, b.holdingRegisters, b.inputRegisters} {
		if s == nil {
			continue
		}
		name := s.name
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := unlinkSegment(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NumCoils returns the number of coils in the bank.
func (b *Bank) NumCoils() int { return len(b.coils.data) }

// NumDiscreteInputs returns the number of discrete inputs in the bank.
func (b *Bank) NumDiscreteInputs() int { return len(b.discreteInputs.data) }

// NumHoldingRegisters returns the number of holding registers in the bank.
func (b *Bank) NumHoldingRegisters() int { return len(b.holdingRegisters.data) / 2 }

// NumInputRegisters returns the number of input registers in the bank.
func (b *Bank) NumInputRegisters() int { return len(b.inputRegisters.data) / 2 }

// Coil returns the value of coil i (0 or 1).
func (b *Bank) Coil(i int) bool { return b.coils.data[i] != 0 }

// SetCoil sets the value of coil i.
func (b *Bank) SetCoil(i int, v bool) {
	if v {
		b.coils.data[i] = 1
	} else {
		b.coils.data[i] = 0
	}
}

// DiscreteInput returns the value of discrete input i (0 or 1).
func (b *Bank) DiscreteInput(i int) bool { return b.discreteInputs.data[i] != 0 }

// HoldingRegister returns the value of holding register i.
func (b *Bank) HoldingRegister(i int) uint16 {
	return binary.NativeEndian.Uint16(b.holdingRegisters.data[i*2:])
}

// SetHoldingRegister sets the value of holding register i.
func (b *Bank) SetHoldingRegister(i int, v uint16) {
	binary.NativeEndian.PutUint16(b.holdingRegisters.data[i*2:], v)
}

// InputRegister returns the value of input register i.
func (b *Bank) InputRegister(i int) uint16 {
	return binary.NativeEndian.Uint16(b.inputRegisters.data[i*2:])
}
