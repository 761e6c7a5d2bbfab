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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMBAPHeader_RoundTrip(t *testing.T) {
	h := MBAPHeader{TransactionID: 1, ProtocolID: 0, Length: 6, UnitID: 1}
	var decoded MBAPHeader
	require.NoError(t, decoded.Decode(h.Encode()))
	assert.Equal(t, h, decoded)
}

func TestReadFrame_WriteSingleRegisterRequest(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x0A, 0x12, 0x34}
	r := bytes.NewReader(raw)

	f, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), f.Header.TransactionID)
	assert.Equal(t, uint8(1), f.Header.UnitID)
	assert.Equal(t, []byte{0x06, 0x00, 0x0A, 0x12, 0x34}, f.PDU)
}

func TestReadFrame_PeerClosed(t *testing.T) {
	r := bytes.NewReader(nil)
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrPeerClosed)
}

func TestReadFrame_RejectsBadProtocolID(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x06}
	r := bytes.NewReader(raw)
	_, err := ReadFrame(r)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestFrame_Encode(t *testing.T) {
	f := Frame{Header: MBAPHeader{TransactionID: 2, UnitID: 1}, PDU: []byte{0x03, 0x02, 0x12, 0x34}}
	raw := f.Encode()
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x05, 0x01, 0x03, 0x02, 0x12, 0x34}, raw)
}
