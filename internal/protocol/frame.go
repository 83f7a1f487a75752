package protocol

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc16"
)

// Frame layout on the wire:
// SOF (1) + Op (1) + Mask (1) + Len (1) + Payload (Len) + CRC16 (2, little endian) + EOF (1)
type Frame struct {
	Op      uint8  // 1 Byte - operation code
	Mask    uint8  // 1 Byte - channel bitset, bit 0 = channel 1
	Payload []byte // variable length, Len <= 255
}

const (
	FrameSOF = 0xAA
	FrameEOF = 0x55

	// header (SOF+Op+Mask+Len) + CRC16 + EOF
	minFrameSize = 7
)

// Operation codes
const (
	OpGetInfo     = 0x10
	OpGetPower    = 0x11
	OpSetPower    = 0x12
	OpGetDataline = 0x13
	OpSetDataline = 0x14
)

// NumChannels is fixed by the hardware.
const NumChannels = 4

var (
	// ErrFrameIncomplete means more bytes are needed before the frame can be parsed.
	ErrFrameIncomplete = errors.New("incomplete frame")
	// ErrFrameCorrupt means the bytes cannot be a valid frame (marker or checksum mismatch).
	ErrFrameCorrupt = errors.New("corrupt frame")
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Encode builds the complete wire frame.
func (f *Frame) Encode() []byte {
	frame := make([]byte, 0, minFrameSize+len(f.Payload))

	frame = append(frame, FrameSOF, f.Op, f.Mask, uint8(len(f.Payload)))
	frame = append(frame, f.Payload...)

	// CRC over Op + Mask + Len + Payload
	sum := crc16.Checksum(frame[1:], crcTable)
	frame = append(frame, uint8(sum), uint8(sum>>8))
	frame = append(frame, FrameEOF)

	return frame
}

// DecodeFrame parses a received frame. It reports ErrFrameIncomplete while the
// buffer could still grow into a valid frame and ErrFrameCorrupt once it cannot.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrFrameIncomplete
	}

	if data[0] != FrameSOF {
		return nil, fmt.Errorf("%w: bad start marker 0x%02X", ErrFrameCorrupt, data[0])
	}

	if len(data) < 4 {
		return nil, ErrFrameIncomplete
	}

	payloadLen := int(data[3])
	total := minFrameSize + payloadLen
	if len(data) < total {
		return nil, ErrFrameIncomplete
	}

	if data[total-1] != FrameEOF {
		return nil, fmt.Errorf("%w: bad end marker 0x%02X", ErrFrameCorrupt, data[total-1])
	}

	sum := crc16.Checksum(data[1:4+payloadLen], crcTable)
	got := uint16(data[4+payloadLen]) | uint16(data[5+payloadLen])<<8
	if got != sum {
		return nil, fmt.Errorf("%w: checksum mismatch: expected 0x%04X, got 0x%04X", ErrFrameCorrupt, sum, got)
	}

	frame := &Frame{
		Op:   data[1],
		Mask: data[2],
	}
	if payloadLen > 0 {
		frame.Payload = make([]byte, payloadLen)
		copy(frame.Payload, data[4:4+payloadLen])
	}

	return frame, nil
}

// GetInfoRequest builds the handshake/info request.
func GetInfoRequest() *Frame {
	return &Frame{Op: OpGetInfo}
}

// GetPowerRequest builds a power status query for the masked channels.
func GetPowerRequest(mask uint8) *Frame {
	return &Frame{Op: OpGetPower, Mask: mask}
}

// SetPowerRequest builds a power write for the masked channels.
func SetPowerRequest(mask uint8, state uint8) *Frame {
	return &Frame{Op: OpSetPower, Mask: mask, Payload: []byte{state}}
}

// GetDatalineRequest builds a data-line status query for the masked channels.
func GetDatalineRequest(mask uint8) *Frame {
	return &Frame{Op: OpGetDataline, Mask: mask}
}

// SetDatalineRequest builds a data-line write for the masked channels.
func SetDatalineRequest(mask uint8, state uint8) *Frame {
	return &Frame{Op: OpSetDataline, Mask: mask, Payload: []byte{state}}
}

// ParseStatusResponse extracts the state bitset from a read/write response.
// Bit n-1 set means channel n is on (or connected, for data-line frames).
func (f *Frame) ParseStatusResponse() (uint8, error) {
	if len(f.Payload) < 1 {
		return 0, fmt.Errorf("status response too short")
	}
	return f.Payload[0], nil
}

// ParseInfoResponse extracts model and firmware version from an info response.
func (f *Frame) ParseInfoResponse() (model, fwMajor, fwMinor uint8, err error) {
	if len(f.Payload) < 3 {
		return 0, 0, 0, fmt.Errorf("info response too short: %d bytes", len(f.Payload))
	}
	return f.Payload[0], f.Payload[1], f.Payload[2], nil
}

// ChannelBit returns the mask bit for a channel (1-based).
func ChannelBit(channel int) uint8 {
	return 1 << (channel - 1)
}

// MaskForChannels folds a channel list into a bitset.
func MaskForChannels(channels []int) uint8 {
	var mask uint8
	for _, ch := range channels {
		mask |= ChannelBit(ch)
	}
	return mask
}
