// Package secrets holds the RSA key material used by the login encryption
// request, and the helpers both ends need to exchange the shared secret.
package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"io"
	"math/big"
	"os"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// KeyBits is the modulus size vanilla clients expect.
const KeyBits = 1024

// SharedSecretSize is the length of the AES key the client picks.
const SharedSecretSize = 16

var (
	ErrVerifyToken = errors.New("verify token mismatch")
	ErrSecretSize  = errors.New("shared secret has the wrong size")

	bigOne = big.NewInt(1)
)

// Key is a server key pair together with its public half in the DER form the
// encryption request carries.
type Key struct {
	pk  *rsa.PrivateKey
	der []byte
}

func newKey(pk *rsa.PrivateKey) (*Key, error) {
	der, err := x509.MarshalPKIXPublicKey(&pk.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling public key")
	}
	return &Key{pk: pk, der: der}, nil
}

// Generate creates a fresh key pair.
func Generate() (*Key, error) {
	pk, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "generating key")
	}
	glog.V(1).Infof("generated a %d bit server key", KeyBits)
	return newKey(pk)
}

// DevelopmentKey returns a fixed key pair. It is public knowledge: use it for
// tests and local development only.
func DevelopmentKey() (*Key, error) {
	const (
		p = "14299623962416399520070177382898895550795403345466153217470516082934737582776038882967213386204600674145392845853859217990626450972452084065728686565928113"
		q = "7630979195970404721891201847792002125535401292779123937207447574596692788513647179235335529307251350570728407373705564708871762033017096809910315212884101"
	)
	pB, ok := new(big.Int).SetString(p, 10)
	if !ok {
		return nil, errors.New("secrets: invalid p")
	}
	qB, ok := new(big.Int).SetString(q, 10)
	if !ok {
		return nil, errors.New("secrets: invalid q")
	}
	phi := new(big.Int).Mul(new(big.Int).Sub(pB, bigOne), new(big.Int).Sub(qB, bigOne))
	pk := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{E: 65537, N: new(big.Int).Mul(pB, qB)},
		Primes:    []*big.Int{pB, qB},
		D:         new(big.Int).ModInverse(big.NewInt(65537), phi),
	}
	pk.Precompute()
	if err := pk.Validate(); err != nil {
		return nil, errors.Wrap(err, "development key")
	}
	return newKey(pk)
}

// Load reads a PEM private key in PKCS #1 or PKCS #8 form.
func Load(path string) (*Key, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading key")
	}
	blk, _ := pem.Decode(b)
	if blk == nil {
		return nil, errors.Errorf("%s: no PEM block", path)
	}
	if pk, err := x509.ParsePKCS1PrivateKey(blk.Bytes); err == nil {
		return newKey(pk)
	}
	k, err := x509.ParsePKCS8PrivateKey(blk.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: parsing key", path)
	}
	pk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("%s: %T is not an RSA key", path, k)
	}
	return newKey(pk)
}

// PublicDER returns the public key as DER-encoded SubjectPublicKeyInfo.
func (k *Key) PublicDER() []byte {
	return k.der
}

// Decrypt decrypts a PKCS #1 v1.5 block encrypted with the public key.
func (k *Key) Decrypt(b []byte) ([]byte, error) {
	out, err := rsa.DecryptPKCS1v15(nil, k.pk, b)
	if err != nil {
		return nil, errors.Wrap(err, "decrypting")
	}
	return out, nil
}

// Encrypt encrypts b with a DER-encoded public key, as a client answering an
// encryption request does.
func Encrypt(der, b []byte) ([]byte, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing public key")
	}
	rk, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("%T is not an RSA key", pub)
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, rk, b)
	if err != nil {
		return nil, errors.Wrap(err, "encrypting")
	}
	return out, nil
}

// Random returns n random bytes, for verify tokens and shared secrets.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.Wrap(err, "reading random bytes")
	}
	return b, nil
}

// OpenResponse decrypts the shared secret and the verify token of an
// encryption response and checks the token against the one that was sent.
func (k *Key) OpenResponse(secret, token, sentToken []byte) ([]byte, error) {
	got, err := k.Decrypt(token)
	if err != nil {
		return nil, errors.Wrap(err, "verify token")
	}
	if subtle.ConstantTimeCompare(got, sentToken) != 1 {
		return nil, ErrVerifyToken
	}
	s, err := k.Decrypt(secret)
	if err != nil {
		return nil, errors.Wrap(err, "shared secret")
	}
	if len(s) != SharedSecretSize {
		return nil, errors.Wrapf(ErrSecretSize, "%d bytes", len(s))
	}
	return s, nil
}
