package mqtt

import (
	"encoding/json"

	"github.com/Doekse/merossiot-sub004/common"
	"github.com/Doekse/merossiot-sub004/crypto"
)

// marshalMessage encodes an outbound envelope for publish. When keyHex
// is non-empty (the device advertises Appliance.Encrypt.ECDHE) the
// payload is AES-256-CBC encrypted per spec §4.1 and swapped in as its
// base64 ciphertext before the envelope itself is marshaled.
func marshalMessage(msg common.Message, keyHex string) ([]byte, error) {
	if keyHex != "" {
		plain, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, err
		}
		ciphertext, err := crypto.Encrypt(plain, keyHex)
		if err != nil {
			return nil, common.Wrap(common.KindCryptoError, err)
		}
		msg.Payload = ciphertext
	}
	return json.Marshal(msg)
}

// unmarshalMessage decodes an inbound envelope, leaving its payload raw
// until the caller knows how to interpret the namespace.
func unmarshalMessage(body []byte, out *common.RawMessage) error {
	return json.Unmarshal(body, out)
}

// maybeDecrypt returns raw unchanged unless keyHex is set and raw
// decodes as a JSON string — the base64 AES-256-CBC wrapper
// marshalMessage produces for the same device — in which case it is
// decrypted back to the plaintext payload bytes.
func maybeDecrypt(raw json.RawMessage, keyHex string) (json.RawMessage, error) {
	if keyHex == "" || len(raw) == 0 {
		return raw, nil
	}
	var ciphertext string
	if err := json.Unmarshal(raw, &ciphertext); err != nil {
		return raw, nil
	}
	plain, err := crypto.Decrypt([]byte(ciphertext), keyHex)
	if err != nil {
		return nil, common.Wrap(common.KindCryptoError, err)
	}
	return json.RawMessage(plain), nil
}

// unmarshalPayload decodes a raw payload into dst, tolerating an empty
// payload (devices sometimes ack with no body) and transparently
// decrypting it first when keyHex is set.
func unmarshalPayload(raw json.RawMessage, dst any, keyHex string) error {
	plain, err := maybeDecrypt(raw, keyHex)
	if err != nil {
		return err
	}
	if len(plain) == 0 {
		return nil
	}
	return json.Unmarshal(plain, dst)
}

// deviceTopic returns the topic a device publishes replies/pushes on.
func deviceTopic(uuid string) string {
	return "/appliance/" + uuid + "/publish"
}

// deviceSubscribeTopic returns the topic commands are published to.
func deviceSubscribeTopic(uuid string) string {
	return "/appliance/" + uuid + "/subscribe"
}

// clientReplyTopic returns the per-session topic a device replies to
// when header.from names it, per spec §4.3.
func clientReplyTopic(userID, clientID string) string {
	return "/app/" + userID + "-" + clientID + "/subscribe"
}

// buildHeader constructs a signed header for an outbound device
// message, per spec §4.1.
func buildHeader(messageID, namespace string, method common.Method, accountKey, from, uuid string) common.Header {
	now := crypto.NowMillis()
	seconds := now / 1000
	return common.Header{
		MessageID:    messageID,
		Namespace:    namespace,
		Method:       method,
		PayloadVersn: 1,
		From:         from,
		Timestamp:    seconds,
		TimestampMs:  now,
		Sign:         crypto.SignDeviceMessage(messageID, accountKey, seconds),
		UUID:         uuid,
	}
}
