package frame

import (
	"bytes"
	"compress/zlib"
	"crypto/cipher"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	mcnet "badc0de.net/pkg/go-mcproto/net"
)

const (
	// MaxFrameLength is the largest frame payload: the length prefix is at
	// most three VarInt bytes.
	MaxFrameLength = 1<<21 - 1
	// MaxInflatedLength bounds the declared size of a compressed packet.
	MaxInflatedLength = 1 << 23

	maxLengthPrefix = 3
)

var (
	ErrFrameTooLarge    = errors.New("frame too large")
	ErrBadFrame         = errors.New("malformed frame")
	ErrAlreadyEnabled   = errors.New("transform already enabled")
	ErrInvalidThreshold = errors.New("invalid compression threshold")
	ErrBadlyCompressed  = errors.New("badly compressed packet")
)

// Frame is one packet as carried on the wire: its id and its body.
type Frame struct {
	ID   int32
	Body []byte
}

// Codec splits an incoming byte stream into frames and turns outgoing packets
// into wire bytes, applying the connection's compression and encryption.
//
// Codec keeps per-connection state and is not safe for concurrent use.
type Codec struct {
	buf []byte
	off int

	threshold int
	dec, enc  cipher.Stream

	zbuf bytes.Buffer
	zw   *zlib.Writer
}

func NewCodec() *Codec {
	return &Codec{threshold: -1}
}

// Write appends bytes received from the transport. It never fails.
func (c *Codec) Write(p []byte) (int, error) {
	if c.off > 0 {
		n := copy(c.buf, c.buf[c.off:])
		c.buf = c.buf[:n]
		c.off = 0
	}
	start := len(c.buf)
	c.buf = append(c.buf, p...)
	if c.dec != nil {
		c.dec.XORKeyStream(c.buf[start:], c.buf[start:])
	}
	return len(p), nil
}

// Buffered returns the number of received bytes not yet returned as frames.
func (c *Codec) Buffered() int {
	return len(c.buf) - c.off
}

// Reset discards buffered input. Transforms stay enabled.
func (c *Codec) Reset() {
	c.buf = c.buf[:0]
	c.off = 0
}

// Next returns the next complete frame. It returns false, with no error, when
// the buffered bytes do not hold a complete frame yet; call again after the
// next Write. The returned body is owned by the caller.
func (c *Codec) Next() (Frame, bool, error) {
	pending := c.buf[c.off:]
	if len(pending) == 0 {
		return Frame{}, false, nil
	}

	length, n, err := mcnet.DecodeVarInt(pending)
	if err == io.ErrUnexpectedEOF {
		if len(pending) >= maxLengthPrefix {
			return Frame{}, false, errors.Wrap(ErrFrameTooLarge, "length prefix longer than 3 bytes")
		}
		return Frame{}, false, nil
	}
	if err != nil {
		return Frame{}, false, errors.Wrap(ErrBadFrame, err.Error())
	}
	if n > maxLengthPrefix || length > MaxFrameLength {
		return Frame{}, false, errors.Wrapf(ErrFrameTooLarge, "%d bytes", length)
	}
	if length <= 0 {
		return Frame{}, false, errors.Wrapf(ErrBadFrame, "frame length %d", length)
	}
	if len(pending) < n+int(length) {
		glog.V(3).Infof("partial frame: have %d of %d bytes", len(pending)-n, length)
		return Frame{}, false, nil
	}

	payload := pending[n : n+int(length)]
	c.off += n + int(length)
	if c.off == len(c.buf) {
		c.buf = c.buf[:0]
		c.off = 0
	}

	f, err := c.unpack(payload)
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

func (c *Codec) unpack(payload []byte) (Frame, error) {
	data := payload
	if c.threshold >= 0 {
		inflated, n, err := mcnet.DecodeVarInt(payload)
		if err != nil {
			return Frame{}, errors.Wrap(ErrBadFrame, "reading data length")
		}
		data = payload[n:]
		switch {
		case inflated == 0:
			if len(data) >= c.threshold && c.threshold > 0 {
				return Frame{}, errors.Wrapf(ErrBadlyCompressed, "uncompressed packet of %d bytes is not below threshold %d", len(data), c.threshold)
			}
		case inflated < 0 || int(inflated) < c.threshold:
			return Frame{}, errors.Wrapf(ErrBadlyCompressed, "size of %d is below threshold %d", inflated, c.threshold)
		case inflated > MaxInflatedLength:
			return Frame{}, errors.Wrapf(ErrFrameTooLarge, "inflated size %d", inflated)
		default:
			out, err := inflate(data, int(inflated))
			if err != nil {
				return Frame{}, err
			}
			data = out
		}
	}

	id, n, err := mcnet.DecodeVarInt(data)
	if err != nil {
		return Frame{}, errors.Wrap(ErrBadFrame, "reading packet id")
	}
	body := make([]byte, len(data)-n)
	copy(body, data[n:])
	return Frame{ID: id, Body: body}, nil
}

func inflate(data []byte, size int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(ErrBadlyCompressed, err.Error())
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, errors.Wrapf(ErrBadlyCompressed, "inflating %d bytes: %s", size, err)
	}
	var extra [1]byte
	if n, _ := zr.Read(extra[:]); n > 0 {
		return nil, errors.Wrapf(ErrBadlyCompressed, "inflated data longer than declared %d bytes", size)
	}
	return out, nil
}

// Encode builds the wire bytes for one packet.
func (c *Codec) Encode(id int32, body []byte) ([]byte, error) {
	raw := make([]byte, 0, mcnet.VarIntSize(id)+len(body))
	raw = mcnet.AppendVarInt(raw, id)
	raw = append(raw, body...)

	payload := raw
	if c.threshold >= 0 {
		if len(raw) >= c.threshold {
			compressed, err := c.deflate(raw)
			if err != nil {
				return nil, err
			}
			payload = mcnet.AppendVarInt(make([]byte, 0, mcnet.MaxVarIntLen+len(compressed)), int32(len(raw)))
			payload = append(payload, compressed...)
		} else {
			payload = append([]byte{0x00}, raw...)
		}
	}
	if len(payload) > MaxFrameLength {
		return nil, errors.Wrapf(ErrFrameTooLarge, "encoding packet 0x%02x: %d bytes", id, len(payload))
	}

	out := make([]byte, 0, mcnet.MaxVarIntLen+len(payload))
	out = mcnet.AppendVarInt(out, int32(len(payload)))
	out = append(out, payload...)
	if c.enc != nil {
		c.enc.XORKeyStream(out, out)
	}
	return out, nil
}

func (c *Codec) deflate(raw []byte) ([]byte, error) {
	c.zbuf.Reset()
	if c.zw == nil {
		c.zw = zlib.NewWriter(&c.zbuf)
	} else {
		c.zw.Reset(&c.zbuf)
	}
	if _, err := c.zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "compressing")
	}
	if err := c.zw.Close(); err != nil {
		return nil, errors.Wrap(err, "compressing")
	}
	out := make([]byte, c.zbuf.Len())
	copy(out, c.zbuf.Bytes())
	return out, nil
}

// CompressionThreshold returns the active threshold, or -1 when compression is
// off.
func (c *Codec) CompressionThreshold() int {
	return c.threshold
}

// EnableCompression turns compression on for frames decoded and encoded from
// now on. It can only be done once per connection.
func (c *Codec) EnableCompression(threshold int) error {
	if c.threshold >= 0 {
		return errors.Wrapf(ErrAlreadyEnabled, "compression threshold already %d", c.threshold)
	}
	if threshold < 0 {
		return errors.Wrapf(ErrInvalidThreshold, "%d", threshold)
	}
	c.threshold = threshold
	glog.V(2).Infof("compression enabled, threshold %d", threshold)
	return nil
}

func (c *Codec) Encrypted() bool {
	return c.enc != nil
}

// EnableEncryption turns encryption on in both directions. Bytes already
// buffered beyond the last returned frame are decrypted in place, since the
// peer encrypted everything it sent after the packet that activated encryption.
// It can only be done once per connection.
func (c *Codec) EnableEncryption(cfg CipherConfig) error {
	if c.enc != nil {
		return errors.Wrap(ErrAlreadyEnabled, "encryption")
	}
	dec, enc, err := cfg.streams()
	if err != nil {
		return err
	}
	c.dec, c.enc = dec, enc
	if pending := c.buf[c.off:]; len(pending) > 0 {
		c.dec.XORKeyStream(pending, pending)
	}
	glog.V(2).Infof("encryption enabled (%s), %d buffered bytes decrypted", cfg.Cipher, len(c.buf)-c.off)
	return nil
}
