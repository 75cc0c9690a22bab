// Package secure implements the keyed primitives an Encrypt or Sign
// schema node delegates to: a block-wise symmetric cipher and a
// keyed/HMAC hasher, both wrapping real cryptographic libraries rather
// than a hand-rolled scheme.
//
// Grounded on the derive-then-seal pattern in the pack's artifact
// encryption module, adapted from AEAD sealing (nonce + tag, no fixed
// block size) to a plain block cipher: the schema's Encrypt node has no
// nonce/AAD concept, only a ciphertext-in/plaintext-out byte run of a
// declared size, so AES-CBC over crypto/aes is the fit rather than
// XChaCha20-Poly1305.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// ErrPadding is returned when decrypted PKCS#7 padding is malformed.
var ErrPadding = errors.New("secure: invalid padding")

// SecureKey is a block-wise symmetric cipher, as consumed by an
// Encrypt schema node: inputs longer than BlockSize are processed in
// consecutive blocks, and the final block is padded per the concrete
// implementation.
type SecureKey interface {
	BlockSize() int
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESKey is a SecureKey backed by AES-CBC with PKCS#7 padding. It is
// stateless after construction and safe for concurrent use across
// goroutines, since crypto/cipher's block-mode wrappers hold no shared
// state and a fresh IV is drawn from crypto/rand for every Encrypt
// call.
type AESKey struct {
	block cipher.Block
}

// NewAESKey derives a 32-byte AES-256 key from an arbitrary-length
// secret via HKDF-SHA256 (no salt; info provides domain separation for
// callers deriving multiple keys from one root secret) and returns a
// ready-to-use AESKey.
func NewAESKey(secret []byte, info []byte) (*AESKey, error) {
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("secure: deriving AES key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secure: constructing AES cipher: %w", err)
	}
	return &AESKey{block: block}, nil
}

// BlockSize returns the cipher's block size in bytes (16 for AES).
func (k *AESKey) BlockSize() int { return k.block.BlockSize() }

// Encrypt PKCS#7-pads plaintext to a multiple of BlockSize, prepends a
// random IV, and returns iv||ciphertext.
func (k *AESKey) Encrypt(plaintext []byte) ([]byte, error) {
	padded := pkcs7Pad(plaintext, k.BlockSize())
	iv := make([]byte, k.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("secure: generating IV: %w", err)
	}
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	mode := cipher.NewCBCEncrypter(k.block, iv)
	mode.CryptBlocks(out[len(iv):], padded)
	return out, nil
}

// Decrypt reverses Encrypt: it expects iv||ciphertext and returns the
// unpadded plaintext.
func (k *AESKey) Decrypt(ciphertext []byte) ([]byte, error) {
	bs := k.BlockSize()
	if len(ciphertext) < bs || (len(ciphertext)-bs)%bs != 0 {
		return nil, fmt.Errorf("secure: ciphertext length %d is not iv + a multiple of block size %d", len(ciphertext), bs)
	}
	iv, body := ciphertext[:bs], ciphertext[bs:]
	out := make([]byte, len(body))
	mode := cipher.NewCBCDecrypter(k.block, iv)
	mode.CryptBlocks(out, body)
	return pkcs7Unpad(out, bs)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrPadding
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-padLen], nil
}

// Hasher computes a digest over a byte run, as consumed by a Sign
// schema node.
type Hasher interface {
	Hash(data []byte) []byte
}

// Blake3Hasher is a Hasher over keyed BLAKE3, providing domain
// separation between signature contexts via the key rather than a
// prefix byte. Grounded on the pack's domain-separated keyed BLAKE3
// hashing for artifact references.
type Blake3Hasher struct {
	key [32]byte
}

// NewBlake3Hasher returns a Blake3Hasher keyed with key (must be 32
// bytes).
func NewBlake3Hasher(key [32]byte) *Blake3Hasher {
	return &Blake3Hasher{key: key}
}

// Hash returns the keyed BLAKE3 digest of data.
func (h *Blake3Hasher) Hash(data []byte) []byte {
	hasher, err := blake3.NewKeyed(h.key[:])
	if err != nil {
		// NewKeyed only fails on a wrong-length key, which the type
		// system rules out here.
		panic(err)
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

// HMACSHA256Hasher is a Hasher over HMAC-SHA256, the stdlib-only
// fallback for callers with no BLAKE3 domain key configured.
type HMACSHA256Hasher struct {
	key []byte
}

// NewHMACSHA256Hasher returns a Hasher over HMAC-SHA256 keyed with key.
func NewHMACSHA256Hasher(key []byte) *HMACSHA256Hasher {
	return &HMACSHA256Hasher{key: key}
}

// Hash returns the HMAC-SHA256 digest of data.
func (h *HMACSHA256Hasher) Hash(data []byte) []byte {
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifySignature recomputes hasher.Hash(data) and compares it against
// signature in constant time.
func VerifySignature(hasher Hasher, data, signature []byte) bool {
	computed := hasher.Hash(data)
	return subtle.ConstantTimeCompare(computed, signature) == 1
}
