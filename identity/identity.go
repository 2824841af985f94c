// Package identity defines the wire-level parameter and identity records
// exchanged during the DTM handshake: ParameterSet, its PaddingProfile,
// DtmSession (packed symmetric-session description), and DtmIdentity.
//
// None of the types here perform cryptographic operations; they are pure
// data plus binary.LittleEndian (de)serialization, following the
// teacher's fixed-offset packet encoding idiom.
package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// OIDSize is the fixed length of a ParameterSet's identifying OID.
const OIDSize = 16

// ParameterSetOID is the 16-byte identifier described in spec §6:
// byte 0 selects the Auth asymmetric family, byte 4 the Primary family,
// bytes 8-9 the Auth-stage symmetric cipher, bytes 10-11 the Primary-stage
// symmetric cipher, and the remainder uniquely identifies the set.
type ParameterSetOID [OIDSize]byte

// AuthFamily returns the KEM variant tag for the Auth stage.
func (o ParameterSetOID) AuthFamily() byte { return o[0] }

// PrimaryFamily returns the KEM variant tag for the Primary stage.
func (o ParameterSetOID) PrimaryFamily() byte { return o[4] }

// SecurityClass returns the classification prefix (bytes 0-1) both peers
// must agree on before the handshake proceeds past Connect.
func (o ParameterSetOID) SecurityClass() [2]byte {
	var c [2]byte
	copy(c[:], o[0:2])
	return c
}

// PaddingProfile carries the eleven recognized padding/delay knobs from
// spec §3. All values are byte counts (max_*_append/prepend) or
// milliseconds (max_*_delay_ms); 0 disables the corresponding knob.
type PaddingProfile struct {
	MaxAsmKeyAppend   uint16
	MaxAsmKeyPrepend  uint16
	MaxAuthAppend     uint16
	MaxAuthPrepend    uint16
	MaxSymKeyAppend   uint16
	MaxSymKeyPrepend  uint16
	MaxMessageAppend  uint16
	MaxMessagePrepend uint16
	MaxAsmKeyDelayMs  uint32
	MaxSymKeyDelayMs  uint32
	MaxMessageDelayMs uint32
}

// paddingProfileWireSize is 8 uint16 fields + 3 uint32 fields.
const paddingProfileWireSize = 8*2 + 3*4

// Serialize packs a PaddingProfile into its fixed wire form.
func (p PaddingProfile) Serialize() []byte {
	buf := make([]byte, paddingProfileWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.MaxAsmKeyAppend)
	binary.LittleEndian.PutUint16(buf[2:4], p.MaxAsmKeyPrepend)
	binary.LittleEndian.PutUint16(buf[4:6], p.MaxAuthAppend)
	binary.LittleEndian.PutUint16(buf[6:8], p.MaxAuthPrepend)
	binary.LittleEndian.PutUint16(buf[8:10], p.MaxSymKeyAppend)
	binary.LittleEndian.PutUint16(buf[10:12], p.MaxSymKeyPrepend)
	binary.LittleEndian.PutUint16(buf[12:14], p.MaxMessageAppend)
	binary.LittleEndian.PutUint16(buf[14:16], p.MaxMessagePrepend)
	binary.LittleEndian.PutUint32(buf[16:20], p.MaxAsmKeyDelayMs)
	binary.LittleEndian.PutUint32(buf[20:24], p.MaxSymKeyDelayMs)
	binary.LittleEndian.PutUint32(buf[24:28], p.MaxMessageDelayMs)
	return buf
}

// ParsePaddingProfile reverses Serialize.
func ParsePaddingProfile(data []byte) (PaddingProfile, error) {
	var p PaddingProfile
	if len(data) < paddingProfileWireSize {
		return p, errors.New("identity: padding profile too short")
	}
	p.MaxAsmKeyAppend = binary.LittleEndian.Uint16(data[0:2])
	p.MaxAsmKeyPrepend = binary.LittleEndian.Uint16(data[2:4])
	p.MaxAuthAppend = binary.LittleEndian.Uint16(data[4:6])
	p.MaxAuthPrepend = binary.LittleEndian.Uint16(data[6:8])
	p.MaxSymKeyAppend = binary.LittleEndian.Uint16(data[8:10])
	p.MaxSymKeyPrepend = binary.LittleEndian.Uint16(data[10:12])
	p.MaxMessageAppend = binary.LittleEndian.Uint16(data[12:14])
	p.MaxMessagePrepend = binary.LittleEndian.Uint16(data[14:16])
	p.MaxAsmKeyDelayMs = binary.LittleEndian.Uint32(data[16:20])
	p.MaxSymKeyDelayMs = binary.LittleEndian.Uint32(data[20:24])
	p.MaxMessageDelayMs = binary.LittleEndian.Uint32(data[24:28])
	return p, nil
}

// DtmSession packs a stage's symmetric session description: cipher
// selector, key size, iv size, round count, and KDF digest selector,
// per spec §3/§6.
type DtmSession struct {
	CipherID   byte
	KeySize    uint16
	IVSize     uint16
	RoundCount uint16
	DigestID   byte
}

const dtmSessionWireSize = 1 + 2 + 2 + 2 + 1

// Serialize packs a DtmSession into its fixed wire form.
func (s DtmSession) Serialize() []byte {
	buf := make([]byte, dtmSessionWireSize)
	buf[0] = s.CipherID
	binary.LittleEndian.PutUint16(buf[1:3], s.KeySize)
	binary.LittleEndian.PutUint16(buf[3:5], s.IVSize)
	binary.LittleEndian.PutUint16(buf[5:7], s.RoundCount)
	buf[7] = s.DigestID
	return buf
}

// ParseDtmSession reverses Serialize.
func ParseDtmSession(data []byte) (DtmSession, error) {
	var s DtmSession
	if len(data) < dtmSessionWireSize {
		return s, errors.New("identity: dtm session too short")
	}
	s.CipherID = data[0]
	s.KeySize = binary.LittleEndian.Uint16(data[1:3])
	s.IVSize = binary.LittleEndian.Uint16(data[3:5])
	s.RoundCount = binary.LittleEndian.Uint16(data[5:7])
	s.DigestID = data[7]
	return s, nil
}

// DtmIdentity carries one party's id field and the parameters the peer
// needs to parse subsequent messages, per spec §6. IDBytes holds
// public_id at Connect/Init and secret_id at Auth/Sync.
type DtmIdentity struct {
	IDBytes    []byte
	PKEID      [16]byte
	Session    DtmSession
	OptionFlag uint64
}

// Serialize packs a DtmIdentity: [id_len u16][id_bytes][pke_id 16][session 8][option_flag 8].
func (d DtmIdentity) Serialize() []byte {
	buf := make([]byte, 2+len(d.IDBytes)+16+dtmSessionWireSize+8)
	off := 0
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(d.IDBytes)))
	off += 2
	copy(buf[off:off+len(d.IDBytes)], d.IDBytes)
	off += len(d.IDBytes)
	copy(buf[off:off+16], d.PKEID[:])
	off += 16
	copy(buf[off:off+dtmSessionWireSize], d.Session.Serialize())
	off += dtmSessionWireSize
	binary.LittleEndian.PutUint64(buf[off:off+8], d.OptionFlag)
	return buf
}

// ParseDtmIdentity reverses Serialize.
func ParseDtmIdentity(data []byte) (DtmIdentity, error) {
	var d DtmIdentity
	if len(data) < 2 {
		return d, errors.New("identity: truncated identity header")
	}
	idLen := int(binary.LittleEndian.Uint16(data[0:2]))
	off := 2
	if len(data) < off+idLen+16+dtmSessionWireSize+8 {
		return d, fmt.Errorf("identity: truncated identity body (need %d, have %d)",
			off+idLen+16+dtmSessionWireSize+8, len(data))
	}
	d.IDBytes = append([]byte(nil), data[off:off+idLen]...)
	off += idLen
	copy(d.PKEID[:], data[off:off+16])
	off += 16
	session, err := ParseDtmSession(data[off : off+dtmSessionWireSize])
	if err != nil {
		return d, err
	}
	d.Session = session
	off += dtmSessionWireSize
	d.OptionFlag = binary.LittleEndian.Uint64(data[off : off+8])
	return d, nil
}

// ParameterSet is the immutable description of a session negotiated
// (by acceptance/refusal only) at Connect, per spec §3.
type ParameterSet struct {
	OID            ParameterSetOID
	AuthSession    DtmSession
	PrimarySession DtmSession
	Padding        PaddingProfile
}
