package frame

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
	"golang.org/x/crypto/xtea"
)

// Cipher names a block cipher usable for stream encryption.
type Cipher string

const (
	// AES is AES in CFB8 mode, the cipher vanilla servers use.
	AES Cipher = "aes"
	// XTEA is XTEA in CFB8 mode.
	XTEA Cipher = "xtea"
)

// CipherConfig is the key material for EnableEncryption.
type CipherConfig struct {
	Cipher Cipher
	Key    []byte
	// IV is the initial shift register. When empty, the first block-size bytes
	// of the key are used, as the vanilla protocol does with the shared secret.
	IV []byte
}

func (cfg CipherConfig) block() (cipher.Block, error) {
	switch cfg.Cipher {
	case AES, "":
		return aes.NewCipher(cfg.Key)
	case XTEA:
		return xtea.NewCipher(cfg.Key)
	}
	return nil, errors.Errorf("unknown cipher %q", cfg.Cipher)
}

// streams builds the decrypting and encrypting streams for one connection.
func (cfg CipherConfig) streams() (dec, enc cipher.Stream, err error) {
	decBlock, err := cfg.block()
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating cipher")
	}
	encBlock, err := cfg.block()
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating cipher")
	}
	bs := decBlock.BlockSize()
	iv := cfg.IV
	if len(iv) == 0 {
		if len(cfg.Key) < bs {
			return nil, nil, errors.Errorf("key of %d bytes too short for a %d byte iv", len(cfg.Key), bs)
		}
		iv = cfg.Key[:bs]
	}
	if len(iv) != bs {
		return nil, nil, errors.Errorf("iv is %d bytes; want %d", len(iv), bs)
	}
	return newCFB8(decBlock, iv, true), newCFB8(encBlock, iv, false), nil
}

// cfb8 is cipher feedback mode with an 8-bit segment size. Each byte is XORed
// with the first byte of the encrypted shift register, then the ciphertext
// byte is shifted in.
type cfb8 struct {
	b       cipher.Block
	sr      []byte
	out     []byte
	decrypt bool
}

func newCFB8(b cipher.Block, iv []byte, decrypt bool) cipher.Stream {
	sr := make([]byte, len(iv))
	copy(sr, iv)
	return &cfb8{
		b:       b,
		sr:      sr,
		out:     make([]byte, b.BlockSize()),
		decrypt: decrypt,
	}
}

func (x *cfb8) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("frame: cfb8 output smaller than input")
	}
	last := len(x.sr) - 1
	for i, in := range src {
		x.b.Encrypt(x.out, x.sr)
		o := in ^ x.out[0]
		copy(x.sr, x.sr[1:])
		if x.decrypt {
			x.sr[last] = in
		} else {
			x.sr[last] = o
		}
		dst[i] = o
	}
}
