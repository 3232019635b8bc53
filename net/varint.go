package net

import (
	"io"

	"github.com/pkg/errors"
)

const (
	// MaxVarIntLen is the maximum number of bytes a 32-bit VarInt occupies.
	MaxVarIntLen = 5
	// MaxVarLongLen is the maximum number of bytes a 64-bit VarLong occupies.
	MaxVarLongLen = 10
)

var (
	ErrVarIntTooBig  = errors.New("varint is too big")
	ErrVarLongTooBig = errors.New("varlong is too big")
)

// AppendVarInt appends the VarInt encoding of v to b.
//
// Negative values are encoded as their two's complement, always taking five
// bytes.
func AppendVarInt(b []byte, v int32) []byte {
	uv := uint32(v)
	for uv >= 0x80 {
		b = append(b, byte(uv)|0x80)
		uv >>= 7
	}
	return append(b, byte(uv))
}

// VarIntSize returns the number of bytes AppendVarInt would append for v.
func VarIntSize(v int32) int {
	uv := uint32(v)
	n := 1
	for uv >= 0x80 {
		uv >>= 7
		n++
	}
	return n
}

// DecodeVarInt decodes a VarInt from the beginning of buf, returning the value
// and the number of bytes it took.
//
// If buf ends before the VarInt does, io.ErrUnexpectedEOF is returned and the
// caller should retry with more data.
func DecodeVarInt(buf []byte) (int32, int, error) {
	var uv uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(buf) {
			return 0, 0, io.ErrUnexpectedEOF
		}
		b := buf[i]
		uv |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(uv), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooBig
}

// AppendVarLong appends the VarLong encoding of v to b.
func AppendVarLong(b []byte, v int64) []byte {
	uv := uint64(v)
	for uv >= 0x80 {
		b = append(b, byte(uv)|0x80)
		uv >>= 7
	}
	return append(b, byte(uv))
}

func readVarInt(r io.ByteReader) (int32, error) {
	var uv uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, noEOF(err)
		}
		uv |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(uv), nil
		}
	}
	return 0, ErrVarIntTooBig
}

func readVarLong(r io.ByteReader) (int64, error) {
	var uv uint64
	for i := 0; i < MaxVarLongLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, noEOF(err)
		}
		uv |= uint64(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int64(uv), nil
		}
	}
	return 0, ErrVarLongTooBig
}

// noEOF turns a clean EOF into io.ErrUnexpectedEOF: inside a packet body, running
// out of bytes is always a truncation.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
