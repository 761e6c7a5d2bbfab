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

// Package adu decodes and replies to Modbus/TCP application data units
// against a register bank, without touching the network itself.
package adu

// FunctionCode is a Modbus function code.
type FunctionCode uint8

// Standard Modbus function codes handled by the engine.
const (
	FuncReadCoils                  FunctionCode = 0x01
	FuncReadDiscreteInputs         FunctionCode = 0x02
	FuncReadHoldingRegisters       FunctionCode = 0x03
	FuncReadInputRegisters         FunctionCode = 0x04
	FuncWriteSingleCoil            FunctionCode = 0x05
	FuncWriteSingleRegister        FunctionCode = 0x06
	FuncReadExceptionStatus        FunctionCode = 0x07
	FuncDiagnostics                FunctionCode = 0x08
	FuncGetCommEventCounter        FunctionCode = 0x0B
	FuncWriteMultipleCoils         FunctionCode = 0x0F
	FuncWriteMultipleRegisters     FunctionCode = 0x10
	FuncReportServerID             FunctionCode = 0x11
	FuncReadWriteMultipleRegisters FunctionCode = 0x17
)

// String returns a human-readable function name, used only for debug logging.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncDiagnostics:
		return "Diagnostics"
	case FuncGetCommEventCounter:
		return "GetCommEventCounter"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportServerID:
		return "ReportServerID"
	case FuncReadWriteMultipleRegisters:
		return "ReadWriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// IsWrite reports whether fc is one of the function codes that mutate a
// register bank. The Notifier is invoked exactly for this set.
func (fc FunctionCode) IsWrite() bool {
	switch fc {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils,
		FuncWriteMultipleRegisters, FuncReadWriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// Protocol constants.
const (
	// MaxQuantityCoils is the maximum number of coils a single request may touch.
	MaxQuantityCoils = 2000

	// MaxQuantityDiscreteInputs is the maximum number of discrete inputs a single request may read.
	MaxQuantityDiscreteInputs = 2000

	// MaxQuantityReadRegisters is the maximum number of registers a single read request may return.
	MaxQuantityReadRegisters = 125

	// MaxQuantityWriteRegisters is the maximum number of registers a single write request may set.
	MaxQuantityWriteRegisters = 123

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier; always 0 for Modbus/TCP.
	ProtocolID = 0

	// MaxADULength is the largest ADU (MBAP header + PDU) the codec will accept.
	MaxADULength = 260

	// maxPDULength is the largest PDU a frame may carry: MaxADULength minus
	// the MBAP header, whose 7 bytes already include the unit id.
	maxPDULength = MaxADULength - MBAPHeaderSize
)

// Coil values as they appear on the wire for FC05.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// ExceptionCode is a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction     ExceptionCode = 0x01
	ExceptionIllegalDataAddress  ExceptionCode = 0x02
	ExceptionIllegalDataValue    ExceptionCode = 0x03
	ExceptionServerDeviceFailure ExceptionCode = 0x04
)

// String returns the exception name.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	default:
		return "unknown exception"
	}
}
