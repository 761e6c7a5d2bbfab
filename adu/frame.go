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
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// MBAPHeader is the Modbus Application Protocol header used to frame a PDU
// over TCP.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // number of bytes following, i.e. UnitID + PDU
	UnitID        uint8
}

// Encode writes the header to a 7-byte buffer.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = h.UnitID
	return buf
}

// Decode reads the header from a 7-byte buffer.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = data[6]
	return nil
}

// Frame is one Modbus/TCP ADU: the MBAP header plus the PDU bytes that
// follow the unit id.
type Frame struct {
	Header MBAPHeader
	PDU    []byte
}

// Encode serializes the frame, recomputing Header.Length from len(PDU).
func (f *Frame) Encode() []byte {
	f.Header.Length = uint16(len(f.PDU) + 1)
	buf := make([]byte, MBAPHeaderSize+len(f.PDU))
	copy(buf, f.Header.Encode())
	copy(buf[MBAPHeaderSize:], f.PDU)
	return buf
}

// ReadFrame reads exactly one ADU from r: the fixed 7-byte MBAP header,
// then Header.Length-1 bytes of PDU. End of stream before the first header
// byte, end of stream inside the PDU, and ECONNRESET are all reported as
// ErrPeerClosed. A bad protocol id, or a length field of 0 or one that
// makes the PDU longer than maxPDULength, is reported as an error wrapping
// ErrInvalidFrame. Any other read failure, including a stream that ends
// partway through the header, is returned unwrapped.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, unix.ECONNRESET) {
			return nil, ErrPeerClosed
		}
		return nil, err
	}

	var f Frame
	if err := f.Header.Decode(header); err != nil {
		return nil, err
	}

	if f.Header.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: protocol id %d", ErrInvalidFrame, f.Header.ProtocolID)
	}

	pduLen := int(f.Header.Length) - 1
	if pduLen < 0 || pduLen > maxPDULength {
		return nil, fmt.Errorf("%w: PDU length %d", ErrInvalidFrame, pduLen)
	}

	f.PDU = make([]byte, pduLen)
	if _, err := io.ReadFull(r, f.PDU); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, unix.ECONNRESET) {
			return nil, ErrPeerClosed
		}
		return nil, err
	}

	return &f, nil
}
