package filetransfer

import (
	"encoding/binary"
	"errors"
)

// ErrRequestTooShort is returned when a Transfer/Request payload is
// truncated relative to its declared field lengths.
var ErrRequestTooShort = errors.New("filetransfer: request payload too short")

// FileInfo describes the proposed transfer: its name, total length, and
// the port the sender has opened a listener on, per spec §4.9.
type FileInfo struct {
	Name   string
	Length uint64
	Port   uint16
}

// requestPayload is the concatenation the spec describes: "the FileInfo
// and the serialized key", expanded here to also carry the iv, since a
// counter-mode cipher needs both before it can be instantiated.
type requestPayload struct {
	Info FileInfo
	Key  []byte
	IV   []byte
}

// serialize packs [name_len u16][name][length u64][port u16][key_len
// u16][key][iv_len u16][iv], following the identity package's
// length-prefixed binary.LittleEndian idiom.
func (r requestPayload) serialize() []byte {
	nameBytes := []byte(r.Info.Name)
	size := 2 + len(nameBytes) + 8 + 2 + 2 + len(r.Key) + 2 + len(r.IV)
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(nameBytes)))
	off += 2
	copy(buf[off:off+len(nameBytes)], nameBytes)
	off += len(nameBytes)
	binary.LittleEndian.PutUint64(buf[off:off+8], r.Info.Length)
	off += 8
	binary.LittleEndian.PutUint16(buf[off:off+2], r.Info.Port)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(r.Key)))
	off += 2
	copy(buf[off:off+len(r.Key)], r.Key)
	off += len(r.Key)
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(r.IV)))
	off += 2
	copy(buf[off:off+len(r.IV)], r.IV)
	return buf
}

func parseRequestPayload(data []byte) (requestPayload, error) {
	var r requestPayload
	if len(data) < 2 {
		return r, ErrRequestTooShort
	}
	nameLen := int(binary.LittleEndian.Uint16(data[0:2]))
	off := 2
	if len(data) < off+nameLen+8+2+2 {
		return r, ErrRequestTooShort
	}
	r.Info.Name = string(data[off : off+nameLen])
	off += nameLen
	r.Info.Length = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.Info.Port = binary.LittleEndian.Uint16(data[off : off+2])
	off += 2
	keyLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+keyLen+2 {
		return r, ErrRequestTooShort
	}
	r.Key = append([]byte(nil), data[off:off+keyLen]...)
	off += keyLen
	ivLen := int(binary.LittleEndian.Uint16(data[off : off+2]))
	off += 2
	if len(data) < off+ivLen {
		return r, ErrRequestTooShort
	}
	r.IV = append([]byte(nil), data[off:off+ivLen]...)
	return r, nil
}
