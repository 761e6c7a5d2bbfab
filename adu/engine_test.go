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

package adu

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modbus-shm-server/bank"
)

var testBankSeq atomic.Uint64

func newTestBank(t *testing.T) *bank.Bank {
	prefix := fmt.Sprintf("adu_test_%d_%d_", os.Getpid(), testBankSeq.Add(1))
	b, err := bank.New(prefix, bank.Counts{Coils: 32, DiscreteInputs: 32, HoldingRegisters: 16, InputRegisters: 16}, 0640, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEngine_WriteSingleRegisterThenRead(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	writeReq := []byte{byte(FuncWriteSingleRegister), 0x00, 0x0A, 0x12, 0x34}
	reply, fc, ok := e.Apply(b, writeReq)
	require.True(t, ok)
	assert.Equal(t, FuncWriteSingleRegister, fc)
	assert.Equal(t, writeReq, reply)

	readReq := []byte{byte(FuncReadHoldingRegisters), 0x00, 0x0A, 0x00, 0x01}
	reply, fc, ok = e.Apply(b, readReq)
	require.True(t, ok)
	assert.Equal(t, FuncReadHoldingRegisters, fc)
	assert.Equal(t, []byte{byte(FuncReadHoldingRegisters), 0x02, 0x12, 0x34}, reply)
}

func TestEngine_IllegalDataAddress(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	req := []byte{byte(FuncReadHoldingRegisters), 0x00, 0x64, 0x00, 0x01}
	reply, fc, ok := e.Apply(b, req)
	assert.False(t, ok)
	assert.Equal(t, FuncReadHoldingRegisters, fc)
	assert.Equal(t, exception(FuncReadHoldingRegisters, ExceptionIllegalDataAddress), reply)
}

func TestEngine_IllegalFunction(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	req := []byte{0x99}
	reply, _, ok := e.Apply(b, req)
	assert.False(t, ok)
	assert.Equal(t, byte(0x99|0x80), reply[0])
	assert.Equal(t, byte(ExceptionIllegalFunction), reply[1])
}

func TestEngine_WriteMultipleCoils(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	req := []byte{byte(FuncWriteMultipleCoils), 0x00, 0x00, 0x00, 0x03, 0x01, 0x05} // 0b101 -> coils 0,2 on
	reply, fc, ok := e.Apply(b, req)
	require.True(t, ok)
	assert.Equal(t, FuncWriteMultipleCoils, fc)
	assert.Equal(t, []byte{byte(FuncWriteMultipleCoils), 0x00, 0x00, 0x00, 0x03}, reply)

	assert.True(t, b.Coil(0))
	assert.False(t, b.Coil(1))
	assert.True(t, b.Coil(2))
}

func TestEngine_WriteSingleCoilRejectsBadValue(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	req := []byte{byte(FuncWriteSingleCoil), 0x00, 0x00, 0x12, 0x34}
	reply, _, ok := e.Apply(b, req)
	assert.False(t, ok)
	assert.Equal(t, exception(FuncWriteSingleCoil, ExceptionIllegalDataValue), reply)
}

func TestEngine_ReadWriteMultipleRegisters(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	b.SetHoldingRegister(0, 0x1111)
	b.SetHoldingRegister(1, 0x2222)

	// Read registers 0-1 while writing register 1, in the same request.
	req := []byte{byte(FuncReadWriteMultipleRegisters),
		0x00, 0x00, 0x00, 0x02, // read addr=0 qty=2
		0x00, 0x01, 0x00, 0x01, // write addr=1 qty=1
		0x02, 0x99, 0x99, // byte count + write data
	}
	reply, fc, ok := e.Apply(b, req)
	require.True(t, ok)
	assert.Equal(t, FuncReadWriteMultipleRegisters, fc)
	assert.Equal(t, []byte{byte(FuncReadWriteMultipleRegisters), 0x04, 0x11, 0x11, 0x99, 0x99}, reply)
	assert.Equal(t, uint16(0x9999), b.HoldingRegister(1))
}

func TestEngine_DiagnosticFunctionCodes(t *testing.T) {
	b := newTestBank(t)
	var e Engine

	reply, fc, ok := e.Apply(b, []byte{byte(FuncDiagnostics), 0x00, 0x00, 0xAB, 0xCD})
	require.True(t, ok)
	assert.Equal(t, FuncDiagnostics, fc)
	assert.Equal(t, []byte{byte(FuncDiagnostics), 0x00, 0x00, 0xAB, 0xCD}, reply)

	reply, fc, ok = e.Apply(b, []byte{byte(FuncReportServerID)})
	require.True(t, ok)
	assert.Equal(t, FuncReportServerID, fc)
	assert.Equal(t, byte(FuncReportServerID), reply[0])
}

func TestEngine_SeparateBankIsolation(t *testing.T) {
	b1 := newTestBank(t)
	b2 := newTestBank(t)
	var e Engine

	writeReq := []byte{byte(FuncWriteSingleRegister), 0x00, 0x00, 0xBE, 0xEF}
	_, _, ok := e.Apply(b1, writeReq)
	require.True(t, ok)

	readReq := []byte{byte(FuncReadHoldingRegisters), 0x00, 0x00, 0x00, 0x01}
	reply, _, ok := e.Apply(b2, readReq)
	require.True(t, ok)
	assert.Equal(t, []byte{byte(FuncReadHoldingRegisters), 0x02, 0x00, 0x00}, reply)
}
