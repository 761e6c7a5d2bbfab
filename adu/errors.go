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

import "errors"

// ErrInvalidFrame is wrapped by the errors MBAPHeader.Decode and ReadFrame
// return for a malformed ADU: a header shorter than 7 bytes (Decode), a
// non-zero protocol id, or a length field of 0 or beyond the largest PDU
// (ReadFrame).
var ErrInvalidFrame = errors.New("adu: invalid frame")

// ErrPeerClosed is returned by ReadFrame when the peer closed the
// connection: end of stream before a new ADU or inside its PDU, or
// ECONNRESET. It is not logged as an error.
var ErrPeerClosed = errors.New("adu: peer closed connection")

// ModbusError represents a Modbus exception response.
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return "modbus: " + e.FunctionCode.String() + ": " + e.ExceptionCode.String()
}
