package packet

import (
	"encoding/binary"
	"errors"

	"github.com/dtm-project/dtmcore/crypto"
)

// wrapperDescriptorSize is the {prepend_len:u16, append_len:u16} prefix.
const wrapperDescriptorSize = 4

// ErrWrapperTooShort is returned when unwrapping a buffer shorter than
// the descriptor plus its declared prepend/append lengths.
var ErrWrapperTooShort = errors.New("packet: wrapped message shorter than declared lengths")

// PadRange bounds how many random bytes Wrap draws for one side
// (prepend or append) of the envelope: uniformly in [max/2, max].
// max == 0 always yields 0 (no randomization), matching spec §4.1.
type PadRange struct {
	Max uint16
}

// draw returns a uniformly-chosen length in [max/2, max], or 0 if max is 0.
func (r PadRange) draw() (uint16, error) {
	if r.Max == 0 {
		return 0, nil
	}
	lo := r.Max / 2
	span := r.Max - lo + 1
	if span == 0 {
		return r.Max, nil
	}
	randBytes, err := crypto.GenerateRandom(2)
	if err != nil {
		return 0, err
	}
	offset := binary.LittleEndian.Uint16(randBytes) % span
	return lo + offset, nil
}

// Wrap builds prepend_len(2) || append_len(2) || prepend_rand
// || plaintext || append_rand, where prepend/append lengths are drawn
// uniformly from prependRange/appendRange per spec §4.1. max == 0
// degenerates to descriptor(0,0) || plaintext, still round-trippable.
func Wrap(plaintext []byte, prependRange, appendRange PadRange) ([]byte, error) {
	prependLen, err := prependRange.draw()
	if err != nil {
		return nil, err
	}
	appendLen, err := appendRange.draw()
	if err != nil {
		return nil, err
	}

	var prependRand, appendRand []byte
	if prependLen > 0 {
		if prependRand, err = crypto.GenerateRandom(int(prependLen)); err != nil {
			return nil, err
		}
	}
	if appendLen > 0 {
		if appendRand, err = crypto.GenerateRandom(int(appendLen)); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, wrapperDescriptorSize+int(prependLen)+len(plaintext)+int(appendLen))
	descriptor := make([]byte, wrapperDescriptorSize)
	binary.LittleEndian.PutUint16(descriptor[0:2], prependLen)
	binary.LittleEndian.PutUint16(descriptor[2:4], appendLen)
	out = append(out, descriptor...)
	out = append(out, prependRand...)
	out = append(out, plaintext...)
	out = append(out, appendRand...)
	return out, nil
}

// Unwrap reads the {prepend_len, append_len} descriptor, skips prepend
// bytes, and truncates append bytes, returning the original plaintext.
// unwrap(wrap(x)) == x for every x and every pair of pad ranges.
func Unwrap(carrier []byte) ([]byte, error) {
	if len(carrier) < wrapperDescriptorSize {
		return nil, ErrWrapperTooShort
	}
	prependLen := binary.LittleEndian.Uint16(carrier[0:2])
	appendLen := binary.LittleEndian.Uint16(carrier[2:4])
	body := carrier[wrapperDescriptorSize:]

	total := int(prependLen) + int(appendLen)
	if len(body) < total {
		return nil, ErrWrapperTooShort
	}
	return body[prependLen : len(body)-int(appendLen)], nil
}
