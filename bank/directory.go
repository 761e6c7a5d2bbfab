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

package bank

import (
	"fmt"
	"os"
)

// Directory maps every possible Modbus unit id (0..255) to a live Bank.
// All 256 slots are always populated; some may point to the same Bank.
// The Directory never changes which Bank a slot points to once built.
type Directory struct {
	slots    [256]*Bank
	owned    []*Bank // banks this Directory is responsible for closing
	fallback *Bank
}

// Lookup returns the Bank for unitID. It never returns nil.
func (d *Directory) Lookup(unitID uint8) *Bank {
	return d.slots[unitID]
}

// Fallback returns the Bank used by slots with no dedicated bank, or nil
// if every slot was given a dedicated bank (separate-all mode).
func (d *Directory) Fallback() *Bank {
	return d.fallback
}

// Close closes every Bank owned by the Directory.
func (d *Directory) Close() error {
	var firstErr error
	for _, b := range d.owned {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewSingle builds a Directory in fallback mode: one Bank, named
// "{prefix}DO/DI/AO/AI", aliased by all 256 slots.
func NewSingle(prefix string, counts Counts, perm os.FileMode, force bool) (*Directory, error) {
	b, err := New(prefix, counts, perm, force)
	if err != nil {
		return nil, err
	}

	d := &Directory{owned: []*Bank{b}, fallback: b}
	for i := range d.slots {
		d.slots[i] = b
	}
	return d, nil
}

// NewPerID builds a Directory in separate mode. dedicated lists the unit
// ids that get their own Bank, named "{prefix}{hh}_DO/DI/AO/AI" with hh the
// lowercase two-digit hex unit id. Unit ids not in dedicated alias a single
// lazily-created fallback Bank named like the single-mode scheme, unless
// dedicated covers all 256 ids, in which case no fallback is created.
func NewPerID(prefix string, counts Counts, perm os.FileMode, force bool, dedicated []uint8) (*Directory, error) {
	d := &Directory{}

	for _, id := range dedicated {
		if d.slots[id] != nil {
			continue // duplicate entry in dedicated, already has its own Bank
		}
		b, err := New(perIDPrefix(prefix, id), counts, perm, force)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("unit id %d: %w", id, err)
		}
		d.owned = append(d.owned, b)
		d.slots[id] = b
	}

	needFallback := false
	for i := range d.slots {
		if d.slots[i] == nil {
			needFallback = true
			break
		}
	}

	if needFallback {
		fb, err := New(prefix, counts, perm, force)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.owned = append(d.owned, fb)
		d.fallback = fb
		for i := range d.slots {
			if d.slots[i] == nil {
				d.slots[i] = fb
			}
		}
	}

	return d, nil
}

// perIDPrefix builds the "{prefix}{hh}_" prefix for a dedicated per-id bank.
func perIDPrefix(prefix string, id uint8) string {
	return fmt.Sprintf("%s%02x_", prefix, id)
}
