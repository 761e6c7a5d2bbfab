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
	"encoding/binary"

	"modbus-shm-server/bank"
)

// Engine is the stateless Modbus/TCP request dispatcher. It has no fields
// because all state it needs - the register bank - is passed in per call;
// a single Engine value can be shared across every connection.
type Engine struct{}

// Apply executes pdu against b and returns the reply PDU to write back
// (already including an exception response, if the request was rejected)
// along with the function code that was requested. ok is false whenever
// reply is an exception response; fc is still the originally requested
// function code then - the caller (and the Notifier) never sees the
// exception variant.
//
// Apply performs the bank's only mutation point: callers that need
// cross-process mutual exclusion must bracket this call, not a subset of
// it.
func (Engine) Apply(b *bank.Bank, pdu []byte) (reply []byte, fc FunctionCode, ok bool) {
	// A handler that answered with an exception PDU turns ok into false.
	defer func() { ok = ok && len(reply) > 0 && reply[0]&0x80 == 0 }()

	if len(pdu) == 0 {
		return exception(0, ExceptionIllegalFunction), 0, false
	}

	fc = FunctionCode(pdu[0])

	switch fc {
	case FuncReadCoils:
		return readBits(pdu, fc, b.NumCoils(), b.Coil), fc, true
	case FuncReadDiscreteInputs:
		return readBits(pdu, fc, b.NumDiscreteInputs(), b.DiscreteInput), fc, true
	case FuncReadHoldingRegisters:
		return readRegisters(pdu, fc, b.NumHoldingRegisters(), b.HoldingRegister), fc, true
	case FuncReadInputRegisters:
		return readRegisters(pdu, fc, b.NumInputRegisters(), b.InputRegister), fc, true
	case FuncWriteSingleCoil:
		return writeSingleCoil(pdu, b), fc, true
	case FuncWriteSingleRegister:
		return writeSingleRegister(pdu, b), fc, true
	case FuncWriteMultipleCoils:
		return writeMultipleCoils(pdu, b), fc, true
	case FuncWriteMultipleRegisters:
		return writeMultipleRegisters(pdu, b), fc, true
	case FuncReadWriteMultipleRegisters:
		return readWriteMultipleRegisters(pdu, b), fc, true
	case FuncReadExceptionStatus:
		return []byte{byte(fc), 0x00}, fc, true
	case FuncDiagnostics:
		return diagnostics(pdu, fc), fc, true
	case FuncGetCommEventCounter:
		return []byte{byte(fc), 0x00, 0x00, 0x00, 0x00}, fc, true
	case FuncReportServerID:
		return []byte{byte(fc), 0x01, 0xFF}, fc, true
	default:
		return exception(fc, ExceptionIllegalFunction), fc, false
	}
}

// exception builds an exception PDU: function code with the high bit set,
// followed by the exception code.
func exception(fc FunctionCode, ec ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(ec)}
}

func readBits(pdu []byte, fc FunctionCode, count int, get func(int) bool) []byte {
	if len(pdu) < 5 {
		return exception(fc, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))

	maxQty := MaxQuantityCoils
	if fc == FuncReadDiscreteInputs {
		maxQty = MaxQuantityDiscreteInputs
	}
	if qty < 1 || qty > maxQty {
		return exception(fc, ExceptionIllegalDataValue)
	}
	if addr+qty > count {
		return exception(fc, ExceptionIllegalDataAddress)
	}

	byteCount := (qty + 7) / 8
	reply := make([]byte, 2+byteCount)
	reply[0] = byte(fc)
	reply[1] = byte(byteCount)
	for i := 0; i < qty; i++ {
		if get(addr + i) {
			reply[2+i/8] |= 1 << (i % 8)
		}
	}
	return reply
}

func readRegisters(pdu []byte, fc FunctionCode, count int, get func(int) uint16) []byte {
	if len(pdu) < 5 {
		return exception(fc, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))

	if qty < 1 || qty > MaxQuantityReadRegisters {
		return exception(fc, ExceptionIllegalDataValue)
	}
	if addr+qty > count {
		return exception(fc, ExceptionIllegalDataAddress)
	}

	reply := make([]byte, 2+qty*2)
	reply[0] = byte(fc)
	reply[1] = byte(qty * 2)
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(reply[2+i*2:], get(addr+i))
	}
	return reply
}

func writeSingleCoil(pdu []byte, b *bank.Bank) []byte {
	if len(pdu) < 5 {
		return exception(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	value := binary.BigEndian.Uint16(pdu[3:5])

	if value != CoilOn && value != CoilOff {
		return exception(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}
	if addr >= b.NumCoils() {
		return exception(FuncWriteSingleCoil, ExceptionIllegalDataAddress)
	}

	b.SetCoil(addr, value == CoilOn)

	reply := make([]byte, 5)
	copy(reply, pdu[:5])
	reply[0] = byte(FuncWriteSingleCoil)
	return reply
}

func writeSingleRegister(pdu []byte, b *bank.Bank) []byte {
	if len(pdu) < 5 {
		return exception(FuncWriteSingleRegister, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	value := binary.BigEndian.Uint16(pdu[3:5])

	if addr >= b.NumHoldingRegisters() {
		return exception(FuncWriteSingleRegister, ExceptionIllegalDataAddress)
	}

	b.SetHoldingRegister(addr, value)

	reply := make([]byte, 5)
	copy(reply, pdu[:5])
	reply[0] = byte(FuncWriteSingleRegister)
	return reply
}

func writeMultipleCoils(pdu []byte, b *bank.Bank) []byte {
	if len(pdu) < 6 {
		return exception(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityCoils || byteCount != (qty+7)/8 || len(pdu) < 6+byteCount {
		return exception(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}
	if addr+qty > b.NumCoils() {
		return exception(FuncWriteMultipleCoils, ExceptionIllegalDataAddress)
	}

	for i := 0; i < qty; i++ {
		bit := pdu[6+i/8]&(1<<(i%8)) != 0
		b.SetCoil(addr+i, bit)
	}

	reply := make([]byte, 5)
	reply[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(reply[1:3], uint16(addr))
	binary.BigEndian.PutUint16(reply[3:5], uint16(qty))
	return reply
}

func writeMultipleRegisters(pdu []byte, b *bank.Bank) []byte {
	if len(pdu) < 6 {
		return exception(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	addr := int(binary.BigEndian.Uint16(pdu[1:3]))
	qty := int(binary.BigEndian.Uint16(pdu[3:5]))
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityWriteRegisters || byteCount != qty*2 || len(pdu) < 6+byteCount {
		return exception(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	if addr+qty > b.NumHoldingRegisters() {
		return exception(FuncWriteMultipleRegisters, ExceptionIllegalDataAddress)
	}

	for i := 0; i < qty; i++ {
		b.SetHoldingRegister(addr+i, binary.BigEndian.Uint16(pdu[6+i*2:]))
	}

	reply := make([]byte, 5)
	reply[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(reply[1:3], uint16(addr))
	binary.BigEndian.PutUint16(reply[3:5], uint16(qty))
	return reply
}

// readWriteMultipleRegisters implements FC23: the write half is applied
// before the read half is composed, so a request that reads and writes
// overlapping addresses observes its own write, matching the standard's
// "write-then-read" ordering.
func readWriteMultipleRegisters(pdu []byte, b *bank.Bank) []byte {
	if len(pdu) < 10 {
		return exception(FuncReadWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	readAddr := int(binary.BigEndian.Uint16(pdu[1:3]))
	readQty := int(binary.BigEndian.Uint16(pdu[3:5]))
	writeAddr := int(binary.BigEndian.Uint16(pdu[5:7]))
	writeQty := int(binary.BigEndian.Uint16(pdu[7:9]))
	byteCount := int(pdu[9])

	if readQty < 1 || readQty > MaxQuantityReadRegisters ||
		writeQty < 1 || writeQty > MaxQuantityWriteRegisters ||
		byteCount != writeQty*2 || len(pdu) < 10+byteCount {
		return exception(FuncReadWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	if readAddr+readQty > b.NumHoldingRegisters() || writeAddr+writeQty > b.NumHoldingRegisters() {
		return exception(FuncReadWriteMultipleRegisters, ExceptionIllegalDataAddress)
	}

	for i := 0; i < writeQty; i++ {
		b.SetHoldingRegister(writeAddr+i, binary.BigEndian.Uint16(pdu[10+i*2:]))
	}

	reply := make([]byte, 2+readQty*2)
	reply[0] = byte(FuncReadWriteMultipleRegisters)
	reply[1] = byte(readQty * 2)
	for i := 0; i < readQty; i++ {
		binary.BigEndian.PutUint16(reply[2+i*2:], b.HoldingRegister(readAddr+i))
	}
	return reply
}

// diagnostics implements FC08 as a loopback: every sub-function echoes its
// request data back unchanged, matching the "return query data" baseline
// sub-function 0x00 that every Modbus diagnostics implementation supports.
func diagnostics(pdu []byte, fc FunctionCode) []byte {
	if len(pdu) < 3 {
		return exception(fc, ExceptionIllegalDataValue)
	}
	reply := make([]byte, len(pdu))
	copy(reply, pdu)
	return reply
}
