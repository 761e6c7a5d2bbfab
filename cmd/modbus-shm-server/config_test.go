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
	"github.com/stretchr/testify/require"

	"modbus-shm-server/bank"
)

func TestParseSeparateList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint8
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "decimal", input: "1,2,3", want: []uint8{1, 2, 3}},
		{name: "hex", input: "0x10,0x11", want: []uint8{0x10, 0x11}},
		{name: "mixed with spaces", input: " 1, 0x20 ,3", want: []uint8{1, 0x20, 3}},
		{name: "out of range", input: "256", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSeparateList(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    uint32
		wantErr bool
	}{
		{name: "default", input: "0640", want: 0640},
		{name: "all bits", input: "0777", want: 0777},
		{name: "too many bits", input: "01000", wantErr: true},
		{name: "not octal", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePermissions(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, uint32(got))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *config {
		return &config{
			counts:     bank.Counts{Coils: 1, DiscreteInputs: 1, HoldingRegisters: 1, InputRegisters: 1},
			maxClients: 1,
		}
	}

	tests := []struct {
		name    string
		modify  func(*config)
		wantErr bool
	}{
		{name: "valid", modify: func(c *config) {}},
		{name: "zero connections", modify: func(c *config) { c.maxClients = 0 }, wantErr: true},
		{name: "bad coil count", modify: func(c *config) { c.counts.Coils = 0 }, wantErr: true},
		{
			name: "separate and separate-all both set",
			modify: func(c *config) {
				c.separate = []uint8{1}
				c.separateAll = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			err := cfg.validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_RequiredFDs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config
		want uint64
	}{
		{
			name: "fallback only",
			cfg:  config{maxClients: 10},
			want: 10 + 5 + 4,
		},
		{
			name: "separate with fallback",
			cfg:  config{maxClients: 10, separate: []uint8{1, 2, 3}},
			want: 10 + 5 + 4*4, // 3 dedicated + 1 fallback
		},
		{
			name: "separate covering all 256, no fallback",
			cfg:  config{maxClients: 10, separate: allUnitIDs()},
			want: 10 + 5 + 4*256,
		},
		{
			name: "separate-all",
			cfg:  config{maxClients: 2, separateAll: true},
			want: 2 + 5 + 4*256,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.requiredFDs())
		})
	}
}

func allUnitIDs() []uint8 {
	ids := make([]uint8, 256)
	for i := range ids {
		ids[i] = uint8(i)
	}
	return ids
}
