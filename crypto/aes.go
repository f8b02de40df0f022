package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// DeviceKey derives the per-device AES-256 key from the device uuid,
// the account key, and the device's mac address, per spec §4.1:
//
//	key = MD5-hex(UTF-8(uuid[3:22] || key[1:9] || mac || key[10:28]))
//
// The result is the 32 ASCII bytes of the hex digest itself (used as
// the AES-256 key material), not the raw 16 digest bytes.
func DeviceKey(uuid, accountKey, mac string) (string, error) {
	if len(uuid) < 22 || len(accountKey) < 28 {
		return "", fmt.Errorf("crypto: insufficient derivation inputs (uuid/key too short)")
	}
	material := uuid[3:22] + accountKey[1:9] + mac + accountKey[10:28]
	sum := md5.Sum([]byte(material))
	return hex.EncodeToString(sum[:]), nil
}

var zeroIV = make([]byte, aes.BlockSize)

// Encrypt zero-pads plaintext to a 16-byte boundary and AES-256-CBC
// encrypts it with a constant zero IV, returning base64 ciphertext.
func Encrypt(plaintext []byte, keyHex string) (string, error) {
	block, err := newBlock(keyHex)
	if err != nil {
		return "", err
	}
	padded := zeroPad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt accepts base64 (or raw) ciphertext, AES-256-CBC decrypts it
// with a constant zero IV, and trims trailing zero padding bytes.
func Decrypt(ciphertext []byte, keyHex string) ([]byte, error) {
	block, err := newBlock(keyHex)
	if err != nil {
		return nil, err
	}

	raw := ciphertext
	if decoded, err := base64.StdEncoding.DecodeString(string(ciphertext)); err == nil {
		raw = decoded
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("crypto: ciphertext length %d is not a multiple of the block size", len(raw))
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(out, raw)
	return trimZeroPad(out), nil
}

func newBlock(keyHex string) (cipher.Block, error) {
	if len(keyHex) != 32 {
		return nil, fmt.Errorf("crypto: device key must be 32 bytes, got %d", len(keyHex))
	}
	block, err := aes.NewCipher([]byte(keyHex))
	if err != nil {
		return nil, fmt.Errorf("crypto: new AES cipher: %w", err)
	}
	return block, nil
}

func zeroPad(b []byte, blockSize int) []byte {
	if len(b)%blockSize == 0 && len(b) > 0 {
		return b
	}
	padLen := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+padLen)
	copy(out, b)
	return out
}

func trimZeroPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
