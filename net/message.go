package net

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math"
	"unicode/utf8"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

var (
	ErrStringTooLong  = errors.New("string too long")
	ErrNegativeLength = errors.New("negative length")
	ErrArrayTooLong   = errors.New("byte array too long")
	ErrInvalidBool    = errors.New("invalid boolean")
)

// Message is the body of a single packet: everything after the packet id.
//
// Decoders read fields from the front of the buffer; encoders append to it.
type Message struct {
	bytes.Buffer
}

func NewMessage() *Message {
	return &Message{Buffer: bytes.Buffer{}}
}

// NewMessageFrom wraps b for reading. The message takes ownership of b.
func NewMessageFrom(b []byte) *Message {
	return &Message{Buffer: *bytes.NewBuffer(b)}
}

func (msg *Message) Read(b []byte) (int, error) {
	n, err := msg.Buffer.Read(b)
	glog.V(3).Infof("read %d bytes", n)
	return n, err
}

// ReadFull reads exactly n bytes.
func (msg *Message) ReadFull(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if msg.Len() < n {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "want %d bytes, have %d", n, msg.Len())
	}
	b := make([]byte, n)
	copy(b, msg.Next(n))
	return b, nil
}

// ReadRemaining consumes and returns everything left in the message.
func (msg *Message) ReadRemaining() []byte {
	b := make([]byte, msg.Len())
	copy(b, msg.Next(msg.Len()))
	return b
}

func (msg *Message) ReadVarInt() (int32, error) {
	v, err := readVarInt(&msg.Buffer)
	if err != nil {
		return 0, errors.Wrap(err, "reading varint")
	}
	return v, nil
}

func (msg *Message) WriteVarInt(v int32) error {
	var b [MaxVarIntLen]byte
	_, err := msg.Write(AppendVarInt(b[:0], v))
	return err
}

func (msg *Message) ReadVarLong() (int64, error) {
	v, err := readVarLong(&msg.Buffer)
	if err != nil {
		return 0, errors.Wrap(err, "reading varlong")
	}
	return v, nil
}

func (msg *Message) WriteVarLong(v int64) error {
	var b [MaxVarLongLen]byte
	_, err := msg.Write(AppendVarLong(b[:0], v))
	return err
}

// ReadVarString reads a VarInt-prefixed UTF-8 string of at most maxChars
// characters.
func (msg *Message) ReadVarString(maxChars int) (string, error) {
	sz, err := msg.ReadVarInt()
	if err != nil {
		return "", errors.Wrap(err, "reading string size")
	}
	if sz < 0 {
		return "", ErrNegativeLength
	}
	// A character takes at most three bytes on the wire.
	if int(sz) > maxChars*3 {
		return "", errors.Wrapf(ErrStringTooLong, "%d bytes, max %d chars", sz, maxChars)
	}
	b, err := msg.ReadFull(int(sz))
	if err != nil {
		return "", errors.Wrap(err, "reading string")
	}
	if !utf8.Valid(b) {
		return "", errors.New("reading string: invalid utf-8")
	}
	if n := utf8.RuneCount(b); n > maxChars {
		return "", errors.Wrapf(ErrStringTooLong, "%d chars, max %d", n, maxChars)
	}
	return string(b), nil
}

func (msg *Message) WriteVarString(s string, maxChars int) error {
	if n := utf8.RuneCountInString(s); n > maxChars {
		return errors.Wrapf(ErrStringTooLong, "writing string: %d chars, max %d", n, maxChars)
	}
	if err := msg.WriteVarInt(int32(len(s))); err != nil {
		return errors.Wrap(err, "writing string size")
	}
	n, err := msg.WriteString(s)
	if err != nil {
		return errors.Wrap(err, "writing string")
	}
	if n != len(s) {
		return errors.New("writing string: not all was written")
	}
	return nil
}

// ReadByteArray reads a VarInt-prefixed byte array of at most max bytes.
func (msg *Message) ReadByteArray(max int) ([]byte, error) {
	sz, err := msg.ReadVarInt()
	if err != nil {
		return nil, errors.Wrap(err, "reading byte array size")
	}
	if sz < 0 {
		return nil, ErrNegativeLength
	}
	if int(sz) > max {
		return nil, errors.Wrapf(ErrArrayTooLong, "%d bytes, max %d", sz, max)
	}
	return msg.ReadFull(int(sz))
}

func (msg *Message) WriteByteArray(b []byte) error {
	if len(b) > math.MaxInt32 {
		return ErrArrayTooLong
	}
	if err := msg.WriteVarInt(int32(len(b))); err != nil {
		return err
	}
	_, err := msg.Write(b)
	return err
}

func (msg *Message) ReadBool() (bool, error) {
	b, err := msg.ReadByte()
	if err != nil {
		return false, errors.Wrap(noEOF(err), "reading bool")
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, errors.Wrapf(ErrInvalidBool, "0x%02x", b)
}

func (msg *Message) WriteBool(v bool) error {
	if v {
		return msg.WriteByte(1)
	}
	return msg.WriteByte(0)
}

func (msg *Message) ReadUint16() (uint16, error) {
	b, err := msg.ReadFull(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (msg *Message) WriteUint16(v uint16) error {
	return binary.Write(msg, binary.BigEndian, v)
}

func (msg *Message) ReadInt64() (int64, error) {
	b, err := msg.ReadFull(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (msg *Message) WriteInt64(v int64) error {
	return binary.Write(msg, binary.BigEndian, v)
}

// UUID is a 128-bit identifier, sent as two big-endian 64-bit halves.
type UUID [16]byte

// String formats the UUID in its canonical hyphenated form.
func (u UUID) String() string {
	var b [36]byte
	hex.Encode(b[0:8], u[0:4])
	b[8] = '-'
	hex.Encode(b[9:13], u[4:6])
	b[13] = '-'
	hex.Encode(b[14:18], u[6:8])
	b[18] = '-'
	hex.Encode(b[19:23], u[8:10])
	b[23] = '-'
	hex.Encode(b[24:], u[10:])
	return string(b[:])
}

// ParseUUID parses the hyphenated or the plain 32-digit hexadecimal form.
func ParseUUID(s string) (UUID, error) {
	var u UUID
	plain := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			continue
		}
		plain = append(plain, s[i])
	}
	if len(plain) != 32 {
		return u, errors.Errorf("uuid %q: want 32 hex digits, got %d", s, len(plain))
	}
	if _, err := hex.Decode(u[:], plain); err != nil {
		return u, errors.Wrapf(err, "uuid %q", s)
	}
	return u, nil
}

func (msg *Message) ReadUUID() (UUID, error) {
	var u UUID
	b, err := msg.ReadFull(16)
	if err != nil {
		return u, errors.Wrap(err, "reading uuid")
	}
	copy(u[:], b)
	return u, nil
}

func (msg *Message) WriteUUID(u UUID) error {
	_, err := msg.Write(u[:])
	return err
}
