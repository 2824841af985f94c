// Package packet implements the fixed-layout PacketHeader and the
// random-pad MessageWrapper described in spec §4.1 and §6.
//
// Header format (little-endian):
//
//	offset 0   size 1  packet_type
//	offset 1   size 2  packet_flag
//	offset 3   size 8  sequence
//	offset 11  size 8  payload_length
//	offset 19  size 8  option_flag
//
// payload_length is fixed at 8 bytes in this implementation (spec
// permits 4 or 8 bytes but requires both peers to agree; 8 bytes keeps
// the header a uniform run of fixed-width integer fields).
package packet

import (
	"encoding/binary"
	"errors"
)

// Type identifies the four top-level packet kinds from spec §6.
type Type byte

const (
	TypeExchange Type = 1
	TypeMessage  Type = 2
	TypeService  Type = 3
	TypeTransfer Type = 4
)

// HeaderSize is the fixed wire size of a Header.
const HeaderSize = 1 + 2 + 8 + 8 + 8

// ErrHeaderTooShort is returned when parsing a buffer shorter than HeaderSize.
var ErrHeaderTooShort = errors.New("packet: header too short")

// Header is the fixed binary record prefixing every framed packet.
type Header struct {
	PacketType    Type
	PacketFlag    uint16
	Sequence      uint64
	PayloadLength uint64
	OptionFlag    uint64
}

// Serialize packs the header into its fixed 27-byte wire form.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.PacketType)
	binary.LittleEndian.PutUint16(buf[1:3], h.PacketFlag)
	binary.LittleEndian.PutUint64(buf[3:11], h.Sequence)
	binary.LittleEndian.PutUint64(buf[11:19], h.PayloadLength)
	binary.LittleEndian.PutUint64(buf[19:27], h.OptionFlag)
	return buf
}

// ParseHeader reverses Serialize. It validates only the buffer length;
// callers are responsible for validating PayloadLength against the
// transport's MAX_RECV_BUFFER bound (see buffer.MaxPayloadSize).
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, ErrHeaderTooShort
	}
	h.PacketType = Type(data[0])
	h.PacketFlag = binary.LittleEndian.Uint16(data[1:3])
	h.Sequence = binary.LittleEndian.Uint64(data[3:11])
	h.PayloadLength = binary.LittleEndian.Uint64(data[11:19])
	h.OptionFlag = binary.LittleEndian.Uint64(data[19:27])
	return h, nil
}

// Frame serializes a header followed by its payload into one contiguous
// buffer ready for transmission.
func Frame(h Header, payload []byte) []byte {
	h.PayloadLength = uint64(len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Serialize()...)
	out = append(out, payload...)
	return out
}
