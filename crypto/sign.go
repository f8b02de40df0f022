// Package crypto implements the Meross request/device signing scheme
// (MD5-based), the per-device AES-256-CBC cipher derived from a
// device's uuid/key/mac, and SSID base64 decoding, per spec §4.1.
package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// SecretKey is the fixed ecosystem constant mixed into every request
// signature. It is public ecosystem knowledge, not a per-account
// secret.
const SecretKey = "23x17ahWarFH6w29"

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Nonce returns a 16-character random alphanumeric string, used as the
// per-request "n" ingredient of the HTTP request signature.
func Nonce() string {
	return randomAlphanumeric(16)
}

func randomAlphanumeric(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(nonceAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure is effectively unrecoverable; fall
			// back to a fixed index rather than panic mid-request.
			idx = big.NewInt(0)
		}
		b[i] = nonceAlphabet[idx.Int64()]
	}
	return string(b)
}

// MessageID returns a 32-character hex token used as a device
// message's header.messageId.
func MessageID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// SignRequest computes the HTTP request-envelope signature:
//
//	sign = MD5(secret || timestampMillis || nonce || base64(JSON(params))) (hex)
//
// It returns the signature and the base64-encoded params blob that
// must be sent alongside it.
func SignRequest(params any, timestampMs int64, nonce string) (sign string, encodedParams string, err error) {
	return signRequestWithSecret(SecretKey, params, timestampMs, nonce)
}

// signRequestWithSecret is SignRequest parameterized over the secret
// ingredient, letting tests exercise the documented formula against a
// literal test vector without mutating the package-level constant.
func signRequestWithSecret(secret string, params any, timestampMs int64, nonce string) (sign string, encodedParams string, err error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", "", fmt.Errorf("marshal params: %w", err)
	}
	encodedParams = base64.StdEncoding.EncodeToString(raw)
	sign = md5Hex(fmt.Sprintf("%s%d%s%s", secret, timestampMs, nonce, encodedParams))
	return sign, encodedParams, nil
}

// NowMillis returns the current time in epoch milliseconds, the unit
// SignRequest expects for timestampMs.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// SignDeviceMessage computes a device message header signature:
//
//	sign = MD5(messageId || deviceKey || timestampSeconds) (hex)
func SignDeviceMessage(messageID, deviceKey string, timestampSeconds int64) string {
	return md5Hex(fmt.Sprintf("%s%s%d", messageID, deviceKey, timestampSeconds))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MD5Hex hashes the password the vendor API expects at login time
// (the API takes an MD5 of the plaintext password, never the password
// itself).
func MD5Hex(s string) string {
	return md5Hex(s)
}
